// Package mekong is the top-level interposition layer: Config, Runtime,
// and the wrapper entry points (spec.md §4.13, §6) the host-transform
// pass rewrites an application's driver calls to. Every other package
// in this module is a component Runtime wires together; this package
// is where spec.md's orchestration — not any single algorithm — lives.
package mekong

// Config holds the process-wide options spec.md §6 names: LOG_ON,
// LOG_FILE, COLLECT_STATISTICS, MAKE_REPORT, CHECK_DEVICE_LIMITS. The
// zero Config matches the spec's defaults (logging and statistics off,
// device limits unchecked).
type Config struct {
	LogOn             bool
	LogFile           string
	CollectStatistics bool
	MakeReport        bool
	CheckDeviceLimits bool
}

// Option configures a Runtime at construction time, in the functional-
// options style this module's wrapper constructors use throughout.
type Option func(*Config)

// WithLogging turns on verbose per-call diagnostics, written to file
// if non-empty, to stdout otherwise.
func WithLogging(file string) Option {
	return func(c *Config) {
		c.LogOn = true
		c.LogFile = file
	}
}

// WithStatistics enables the counters MEKONG_report prints.
func WithStatistics() Option {
	return func(c *Config) { c.CollectStatistics = true }
}

// WithReport sets Config.MakeReport. The Runtime does not read that
// field and never calls Report on its own; the report is printed only
// when Report is called.
func WithReport() Option {
	return func(c *Config) { c.MakeReport = true }
}

// WithDeviceLimits turns on the optional per-partition validation
// against each device's driver.Limits before a launch execs.
func WithDeviceLimits() Option {
	return func(c *Config) { c.CheckDeviceLimits = true }
}
