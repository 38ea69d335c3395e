// Package stats collects the runtime statistics spec.md §6's
// COLLECT_STATISTICS/MAKE_REPORT options expose, grounded on
// original_source/runtime/src/log_statistics.h/.cc's Statistics class:
// per-kind memory copy byte counts, time, and execution counts,
// dependency-resolution and launch object/exec counts, and argument
// access call/calculation counts. Counters use sync/atomic's typed
// atomics, the same style the teacher uses for its texture layout
// state, rather than a metrics library — no such library appears
// anywhere in the example corpus, and these are process-local
// counters read once at shutdown, not a service's live metrics.
package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Kind identifies a memory copy direction for per-kind statistics.
type Kind int

const (
	HtoD Kind = iota
	DtoH
	DtoD
	numKinds
)

func (k Kind) String() string {
	switch k {
	case HtoD:
		return "HtoD"
	case DtoH:
		return "DtoH"
	case DtoD:
		return "DtoD"
	default:
		return "unknown"
	}
}

type copyCounters struct {
	bytes atomic.Int64
	execs atomic.Int64
	nanos atomic.Int64
}

// Statistics accumulates process-wide runtime counters. The zero value
// is ready to use; a nil *Statistics is also safe to use everywhere
// below, as a no-op collector for when COLLECT_STATISTICS is off.
type Statistics struct {
	numDev atomic.Int32

	copies [numKinds]copyCounters

	depResCpyBytes    atomic.Int64
	numDepResExecs    atomic.Int64
	numDepResObjects  atomic.Int64
	depResCreateNanos atomic.Int64
	depResExecNanos   atomic.Int64

	numLaunchExecs    atomic.Int64
	numLaunchObjects  atomic.Int64
	launchCreateNanos atomic.Int64

	numArgAccessCalls atomic.Int64
	numArgAccessCalcs atomic.Int64
	argAccessNanos    atomic.Int64
}

// New creates an empty Statistics collector.
func New() *Statistics { return &Statistics{} }

// SetNumDev records the device count a report should attribute work
// across.
func (s *Statistics) SetNumDev(n int) {
	if s == nil {
		return
	}
	s.numDev.Store(int32(n))
}

// AddMemCpy records one completed memory copy of the given kind.
func (s *Statistics) AddMemCpy(kind Kind, bytes int, d time.Duration) {
	if s == nil {
		return
	}
	c := &s.copies[kind]
	c.bytes.Add(int64(bytes))
	c.execs.Add(1)
	c.nanos.Add(int64(d))
}

// AddDepResCpy records bytes moved to resolve an inter-kernel
// dependency, tracked separately from the wrapped-copy statistics
// above per the original runtime's own getDepResCpySize/getMemCpySize split.
func (s *Statistics) AddDepResCpy(bytes int) {
	if s == nil {
		return
	}
	s.depResCpyBytes.Add(int64(bytes))
}

// AddDepResExec records one dependency-resolution exec and its
// duration; AddDepResObject records a newly built resolver.
func (s *Statistics) AddDepResExec(d time.Duration) {
	if s == nil {
		return
	}
	s.numDepResExecs.Add(1)
	s.depResExecNanos.Add(int64(d))
}

func (s *Statistics) AddDepResObject(d time.Duration) {
	if s == nil {
		return
	}
	s.numDepResObjects.Add(1)
	s.depResCreateNanos.Add(int64(d))
}

// AddLaunchExec records one kernel launch exec; AddLaunchObject
// records a newly inserted launch and its creation time.
func (s *Statistics) AddLaunchExec() {
	if s == nil {
		return
	}
	s.numLaunchExecs.Add(1)
}

func (s *Statistics) AddLaunchObject(d time.Duration) {
	if s == nil {
		return
	}
	s.numLaunchObjects.Add(1)
	s.launchCreateNanos.Add(int64(d))
}

// AddArgAccessCall records a getArgAccess-style lookup; calc should
// additionally be true when the lookup actually computed (rather than
// found cached) the result, and d is the computation time (zero on a
// cache hit).
func (s *Statistics) AddArgAccessCall(calc bool, d time.Duration) {
	if s == nil {
		return
	}
	s.numArgAccessCalls.Add(1)
	if calc {
		s.numArgAccessCalcs.Add(1)
		s.argAccessNanos.Add(int64(d))
	}
}

// NumLaunchObjects, NumLaunchExecs, NumArgAccessCalls and
// NumArgAccessCalcs expose the individual counters the launch cache's
// coalescing behaviour is stated in terms of.
func (s *Statistics) NumLaunchObjects() int64 {
	if s == nil {
		return 0
	}
	return s.numLaunchObjects.Load()
}

func (s *Statistics) NumLaunchExecs() int64 {
	if s == nil {
		return 0
	}
	return s.numLaunchExecs.Load()
}

func (s *Statistics) NumArgAccessCalls() int64 {
	if s == nil {
		return 0
	}
	return s.numArgAccessCalls.Load()
}

func (s *Statistics) NumArgAccessCalcs() int64 {
	if s == nil {
		return 0
	}
	return s.numArgAccessCalcs.Load()
}

func dur(n int64) time.Duration { return time.Duration(n) }

// MemCpyBW returns the average bandwidth, in GB/s, of every wrapped
// copy of the given kind (depres copies are excluded, matching the
// original runtime's getMemBW(kind)).
func (s *Statistics) MemCpyBW(kind Kind) float64 {
	if s == nil {
		return 0
	}
	c := &s.copies[kind]
	t := dur(c.nanos.Load()).Seconds()
	if t == 0 {
		return 0
	}
	return float64(c.bytes.Load()) / 1e9 / t
}

// Report renders a human-readable summary, in the spirit of the
// original runtime's MEKONG_report text dump.
func (s *Statistics) Report() string {
	if s == nil {
		return "mekong: statistics collection disabled\n"
	}
	var out string
	out += fmt.Sprintf("mekong runtime report (%d devices)\n", s.numDev.Load())
	var totalBytes, totalExecs int64
	var totalTime time.Duration
	for k := Kind(0); k < numKinds; k++ {
		c := &s.copies[k]
		b, e, n := c.bytes.Load(), c.execs.Load(), c.nanos.Load()
		totalBytes += b
		totalExecs += e
		totalTime += dur(n)
		out += fmt.Sprintf("  %s: %d copies, %d bytes, %s, %.3f GB/s\n",
			k, e, b, dur(n), s.MemCpyBW(k))
	}
	out += fmt.Sprintf("  total: %d copies, %d bytes, %s\n", totalExecs, totalBytes, totalTime)
	out += fmt.Sprintf("  dependency-resolution bytes: %d\n", s.depResCpyBytes.Load())
	out += fmt.Sprintf("  dependency resolutions: %d objects, %d execs, %s creation, %s exec\n",
		s.numDepResObjects.Load(), s.numDepResExecs.Load(),
		dur(s.depResCreateNanos.Load()), dur(s.depResExecNanos.Load()))
	out += fmt.Sprintf("  launches: %d objects, %d execs, %s creation\n",
		s.numLaunchObjects.Load(), s.numLaunchExecs.Load(), dur(s.launchCreateNanos.Load()))
	out += fmt.Sprintf("  arg access: %d calls, %d calculations, %s\n",
		s.numArgAccessCalls.Load(), s.numArgAccessCalcs.Load(), dur(s.argAccessNanos.Load()))
	return out
}
