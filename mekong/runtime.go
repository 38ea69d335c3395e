package mekong

import (
	"sync"

	"github.com/mekong-rt/runtime/alias"
	"github.com/mekong-rt/runtime/database"
	"github.com/mekong-rt/runtime/depres"
	"github.com/mekong-rt/runtime/driver"
	"github.com/mekong-rt/runtime/internal/rtlog"
	"github.com/mekong-rt/runtime/internal/runtimeerr"
	"github.com/mekong-rt/runtime/internal/stats"
	"github.com/mekong-rt/runtime/launch"
	"github.com/mekong-rt/runtime/vbuffer"
)

// Runtime is the process-wide interposition state: the single-writer
// objects spec.md §5 names (alias handle, virtual buffer, launch cache,
// resolver cache, statistics) plus the backend they all sit in front
// of. Every field is mutated only by the host thread issuing wrapper
// calls (§5's "single-threaded cooperative" scheduling model); the one
// exception is argument-access computation, which argaccess fans out
// across worker goroutines internally and joins before returning.
type Runtime struct {
	mu sync.Mutex

	backend driver.Backend
	db      *database.Database
	cfg     Config
	log     *rtlog.Logger
	stats   *stats.Statistics

	devices   *alias.Handle[driver.Device]
	contexts  *alias.Handle[driver.Context]
	modules   *alias.Handle[driver.Module]
	functions *alias.Handle[driver.Function]
	ptrs      *alias.Handle[driver.DevPtr]

	// kernelName records, per primary function handle, the kernel name
	// the descriptor database is keyed by — the name ModuleGetFunction
	// was asked for, before "_super" was appended to look up the
	// transformed variant (spec.md §4.13's module-get-function).
	kernelName map[driver.Function]string

	vbuf      *vbuffer.Buffer
	launches  *launch.Cache
	resolvers *depres.Cache

	// realDeviceCount is the backend's true device count, recorded by
	// WrapDeviceGetCount for the benefit of WrapDeviceGet, which
	// registers every real device but tells the caller there is exactly
	// one (spec.md §4.13's "persuade the caller the system has exactly
	// one device").
	realDeviceCount int
}

// New constructs a Runtime over backend, loading its kernel descriptors
// from db. Options configure logging, statistics collection, automatic
// reporting, and device-limit checking; the zero Config applies when
// none are given.
func New(backend driver.Backend, db *database.Database, opts ...Option) (*Runtime, error) {
	var cfg Config
	for _, o := range opts {
		o(&cfg)
	}

	logger, err := rtlog.Open(cfg.LogOn, cfg.LogFile)
	if err != nil {
		return nil, runtimeerr.New(runtimeerr.Config, "mekong.New", "opening log: %v", err)
	}

	var st *stats.Statistics
	if cfg.CollectStatistics {
		st = stats.New()
	}

	lc := launch.NewCache()
	lc.SetStats(st)

	rt := &Runtime{
		backend:    backend,
		db:         db,
		cfg:        cfg,
		log:        logger,
		stats:      st,
		devices:    alias.New[driver.Device](),
		contexts:   alias.New[driver.Context](),
		modules:    alias.New[driver.Module](),
		functions:  alias.New[driver.Function](),
		ptrs:       alias.New[driver.DevPtr](),
		kernelName: make(map[driver.Function]string),
		vbuf:       vbuffer.New(),
		launches:   lc,
		resolvers:  depres.NewCache(),
	}
	return rt, nil
}

// Stats returns the runtime's statistics collector, or nil if
// COLLECT_STATISTICS was not enabled.
func (rt *Runtime) Stats() *stats.Statistics { return rt.stats }
