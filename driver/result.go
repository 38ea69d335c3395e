package driver

// Result is the composite, first-error-wins outcome of a driver call
// fanned out across several devices (spec.md §4.1). Every wrapper entry
// point in the mekong package builds one of these from its per-device
// Backend calls instead of returning a slice of errors, so callers see
// exactly the semantics of the single-GPU driver API they think they
// are calling.
type Result struct {
	err error
	dev int // ordinal of the device that produced err, -1 if ok
}

// Ok is the zero Result: every device call succeeded.
var Ok = Result{dev: -1}

// Failed reports whether the Result carries an error.
func (r Result) Failed() bool { return r.err != nil }

// Err returns the first error encountered, or nil.
func (r Result) Err() error { return r.err }

// Device returns the ordinal of the device whose call produced the
// first error, or -1 if the Result is Ok.
func (r Result) Device() int { return r.dev }

// Of builds a Result from a single device's call outcome.
func Of(dev int, err error) Result {
	if err == nil {
		return Ok
	}
	return Result{err: err, dev: dev}
}

// Join combines results in device order, keeping the first failure.
// Later results, whether they succeeded or failed, do not override an
// earlier failure: the monoid's identity element is Ok and its combine
// operation is "left error wins".
func Join(results ...Result) Result {
	for _, r := range results {
		if r.Failed() {
			return r
		}
	}
	return Ok
}
