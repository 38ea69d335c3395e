// Package launch implements the kernel launch object and its process-wide
// cache (spec.md §4.9), grounded on
// original_source/runtime/src/kernel_launch.h's KernelLaunch: argument
// lookup by index or device-pointer value, lazy per-argument access
// computation (§4.8), the thread-id-to-device query, and exec
// bookkeeping (MarkExecuted); issuing the partitions to the driver is
// done by the mekong package.
//
// Launch handles are small integers allocated from the teacher's
// internal/bitm bitmap (see Cache), the same structure the teacher uses
// for GPU resource-index allocation, repurposed here to back the
// launch arena spec.md §9's design notes call for instead of a
// map keyed by pointer identity.
package launch

import (
	"sort"
	"sync"
	"time"

	"github.com/mekong-rt/runtime/access"
	"github.com/mekong-rt/runtime/alias"
	"github.com/mekong-rt/runtime/argaccess"
	"github.com/mekong-rt/runtime/driver"
	"github.com/mekong-rt/runtime/internal/bitm"
	"github.com/mekong-rt/runtime/internal/runtimeerr"
	"github.com/mekong-rt/runtime/internal/stats"
	"github.com/mekong-rt/runtime/kernelarg"
	"github.com/mekong-rt/runtime/kerneldesc"
	"github.com/mekong-rt/runtime/memcopy"
	"github.com/mekong-rt/runtime/partition"
)

// Handle is an opaque, process-wide launch identifier.
type Handle int

// Launch is one kernel launch: the function and configuration it was
// invoked with, its resolved arguments, and the partitions it was split
// into. Once constructed its configuration is immutable; only
// DepsResolved, the exec count and the lazily computed access caches
// mutate.
type Launch struct {
	Handle     Handle
	Function   driver.Function
	Descriptor *kerneldesc.Descriptor
	Grid, Block [3]uint32
	SharedMem  uint32
	Args       []kernelarg.KernelArg
	Partitions []partition.Partition

	mu           sync.Mutex
	depsResolved bool
	execCount    int64
	readAccess   []argaccess.Map
	writeAccess  []argaccess.Map

	// cache and weakKey back the result-cache-sharing lookup in
	// argAccessAt: launches that differ only in pointer argument values
	// hash to the same weakKey and can alias each other's computed
	// ArgAccess results (spec.md §4.8).
	cache   *Cache
	weakKey string
}

func (l *Launch) IsWriter() {} // implements vbuffer.Writer

// ArgIndex returns the index of the argument whose current value
// equals ptr, or -1 if none matches. Per spec.md §4.7/§9, argument
// identity for this purpose is plain bit-value equality, not pointer
// identity — a single, consistent rule for both this method and
// equality checks elsewhere in the launch object.
func (l *Launch) ArgIndex(ptr driver.DevPtr) int {
	for i, a := range l.Args {
		if !a.Type.IsPointer() {
			continue
		}
		if devPtrOf(a) == ptr {
			return i
		}
	}
	return -1
}

func devPtrOf(a kernelarg.KernelArg) driver.DevPtr {
	var v uint64
	for i := len(a.Raw) - 1; i >= 0; i-- {
		v = v<<8 | uint64(a.Raw[i])
	}
	return driver.DevPtr(v)
}

// WrittenArgs, ReadArgs return the indices of pointer arguments that the
// kernel modifies, respectively reads.
func (l *Launch) WrittenArgs() []int { return l.filterArgs(func(t bool, _ bool) bool { return t }) }
func (l *Launch) ReadArgs() []int    { return l.filterArgs(func(_ bool, t bool) bool { return t }) }

func (l *Launch) filterArgs(pick func(modified, read bool) bool) []int {
	var out []int
	for i, t := range l.Descriptor.ArgTypes {
		if t.IsPointer() && pick(t.Modified, t.Read) {
			out = append(out, i)
		}
	}
	return out
}

// DepsResolved reports whether the launch's dependencies have been
// resolved and not yet invalidated by a subsequent exec.
func (l *Launch) DepsResolved() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.depsResolved
}

// SetDepsResolved is called by mekong.WrapLaunchKernel after every
// resolver for the launch has executed successfully.
func (l *Launch) SetDepsResolved() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.depsResolved = true
}

// ExecCount returns the number of times this launch has been issued to
// the underlying driver.
func (l *Launch) ExecCount() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.execCount
}

// MarkExecuted increments the execution counter and clears
// DepsResolved, per spec.md §4.9's exec() postcondition.
func (l *Launch) MarkExecuted() {
	l.mu.Lock()
	l.execCount++
	l.depsResolved = false
	l.mu.Unlock()
	if l.cache != nil {
		l.cache.stats.AddLaunchExec()
	}
}

// DeviceAt returns the device executing thread (idx, idy, idz): the
// first partition whose rectangular region contains the point, per
// spec.md §4.9's thread-id-to-device query.
func (l *Launch) DeviceAt(idx, idy, idz uint32) (int, bool) {
	for _, p := range l.Partitions {
		if contains(p, 0, idx, l.Block[0]) && contains(p, 1, idy, l.Block[1]) && contains(p, 2, idz, l.Block[2]) {
			return p.Device, true
		}
	}
	return 0, false
}

func contains(p partition.Partition, axis int, id, block uint32) bool {
	lo := p.Offset[axis]
	hi := lo + p.Grid[axis]*block
	return id >= lo && id < hi
}

// ReadArgAccess, WriteArgAccess lazily compute and cache the access
// pattern of argument i in the given direction, per spec.md §4.8,
// sharing the computation with the Cache's record of an equivalent
// launch when one exists.
func (l *Launch) ReadArgAccess(i int) (argaccess.Map, error) {
	return l.argAccessAt(access.Read, i)
}

func (l *Launch) WriteArgAccess(i int) (argaccess.Map, error) {
	return l.argAccessAt(access.Write, i)
}

func (l *Launch) argAccessAt(dir access.Direction, i int) (argaccess.Map, error) {
	if m, ok := l.cachedAccessAt(dir, i); ok {
		l.statsCall(false, 0)
		return m, nil
	}

	// Result cache sharing (spec.md §4.8): before computing, consult any
	// other launch in the same cache whose function, grid, block, shared
	// memory and non-pointer argument values are identical to this one's
	// — pointer values do not influence the access pattern, so such a
	// "weak peer" has already computed the identical result.
	if peer := l.weakPeer(); peer != nil {
		if m, ok := peer.cachedAccessAt(dir, i); ok {
			l.storeAccessAt(dir, i, m)
			l.statsCall(false, 0)
			return m, nil
		}
	}

	af := l.Descriptor.Access(i)
	if af == nil {
		return nil, runtimeerr.New(runtimeerr.Invariant, "launch.argAccessAt", "argument %d is not a pointer", i)
	}
	start := time.Now()
	m, err := argaccess.Compute(af, dir, l.Args, l.Args[i].DimSizes, l.Grid, l.Block, l.Partitions)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = argaccess.Map{}
	}
	l.storeAccessAt(dir, i, m)
	l.statsCall(true, time.Since(start))
	return m, nil
}

// WrittenData builds a DtoH plan reading argument i's currently-written
// bytes back to host, per spec.md §4.9's getWrittenData: one sub-copy
// per device/interval in argument i's write access map. ptrAlias and
// ctxAlias resolve the argument's primary device pointer, respectively
// the runtime's context handle, to their per-device lists; host is the
// destination buffer the caller will fill (it must be at least as large
// as argument i's byte length). The write access map itself is cached
// (via WriteArgAccess); the plan is rebuilt each call since it closes
// over the caller-supplied host buffer.
func (l *Launch) WrittenData(i int, ptrAlias *alias.Handle[driver.DevPtr], ctxAlias *alias.Handle[driver.Context], host []byte) (*memcopy.Plan, error) {
	if !l.Args[i].Type.IsPointer() {
		return nil, runtimeerr.New(runtimeerr.Invariant, "launch.WrittenData", "argument %d is not a pointer", i)
	}
	wm, err := l.WriteArgAccess(i)
	if err != nil {
		return nil, err
	}
	ptrs := ptrAlias.Lookup(devPtrOf(l.Args[i]))
	ctxs, err := ctxAlias.SoleList()
	if err != nil {
		return nil, err
	}
	elemSize := int64(l.Args[i].Type.ElemSize())

	devs := make([]int, 0, len(wm))
	for dev := range wm {
		devs = append(devs, dev)
	}
	sort.Ints(devs)

	var sub []memcopy.SubCopy
	for _, dev := range devs {
		for _, iv := range wm[dev] {
			off := int(iv.Start * elemSize)
			size := int((iv.End - iv.Start) * elemSize)
			sub = append(sub, memcopy.SubCopy{
				SrcDevice: dev,
				DstDevice: -1,
				SrcCtx:    ctxs[dev],
				SrcPtr:    ptrs[dev],
				SrcOffset: off,
				DstOffset: off,
				Size:      size,
				Host:      host,
			})
		}
	}
	return memcopy.New(memcopy.DtoH, sub, true)
}

// cachedAccessAt returns argument i's already-computed access map for
// dir, without computing it.
func (l *Launch) cachedAccessAt(dir access.Direction, i int) (argaccess.Map, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slots := l.readAccess
	if dir == access.Write {
		slots = l.writeAccess
	}
	if slots == nil || slots[i] == nil {
		return nil, false
	}
	return slots[i], true
}

func (l *Launch) storeAccessAt(dir access.Direction, i int, m argaccess.Map) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slots := &l.readAccess
	if dir == access.Write {
		slots = &l.writeAccess
	}
	if *slots == nil {
		*slots = make([]argaccess.Map, len(l.Args))
	}
	(*slots)[i] = m
}

// weakPeer returns the canonical launch registered under this launch's
// weak-equivalence key, or nil if this launch is itself the canonical
// one (or it carries no cache, as for a Launch built outside a Cache).
func (l *Launch) weakPeer() *Launch {
	if l.cache == nil {
		return nil
	}
	l.cache.mu.Lock()
	peer := l.cache.weak[l.weakKey]
	l.cache.mu.Unlock()
	if peer == l {
		return nil
	}
	return peer
}

func (l *Launch) statsCall(calc bool, d time.Duration) {
	if l.cache == nil {
		return
	}
	l.cache.stats.AddArgAccessCall(calc, d)
}

// Cache is the process-wide launch table (spec.md §4.9's "global
// cache"): bit-identical launches (same function, grid, block, shared
// memory, and argument bytes — including pointer values) are
// deduplicated; weakly-equivalent launches (same everything except
// pointer argument values) share their computed ArgAccess results via
// Launch.argAccessAt consulting a representative looked up here.
type Cache struct {
	mu     sync.Mutex
	arena  bitm.Bitm[uint64]
	byID   map[Handle]*Launch
	strong map[string]*Launch
	weak   map[string]*Launch
	stats  *stats.Statistics
}

// NewCache creates an empty launch cache.
func NewCache() *Cache {
	return &Cache{
		byID:   make(map[Handle]*Launch),
		strong: make(map[string]*Launch),
		weak:   make(map[string]*Launch),
	}
}

// SetStats attaches a statistics collector; every Launch this cache
// hands out records its argument-access calls against it. Passing nil
// (the default) disables collection, matching spec.md §6's
// COLLECT_STATISTICS option.
func (c *Cache) SetStats(s *stats.Statistics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = s
}

// GetOrInsert returns the cached launch matching this exact
// configuration (including argument bytes), or builds and inserts a new
// one, computing its partitions via the partition package. It reports
// whether a new Launch was inserted.
func (c *Cache) GetOrInsert(fn driver.Function, grid, block [3]uint32, sharedMem uint32, args []kernelarg.KernelArg, desc *kerneldesc.Descriptor, deviceCount int) (*Launch, bool, error) {
	key := strongKey(fn, grid, block, sharedMem, args)

	c.mu.Lock()
	if existing, ok := c.strong[key]; ok {
		c.mu.Unlock()
		return existing, false, nil
	}
	c.mu.Unlock()

	parts, err := partition.Build(grid, block, deviceCount, desc.Partitioning)
	if err != nil {
		return nil, false, err
	}

	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.strong[key]; ok {
		return existing, false, nil
	}

	idx, ok := c.arena.Search()
	if !ok {
		idx = c.arena.Grow(1)
	}
	c.arena.Set(idx)
	weakKey := argKey(fn, grid, block, sharedMem, args, false)
	l := &Launch{
		Handle:     Handle(idx),
		Function:   fn,
		Descriptor: desc,
		Grid:       grid,
		Block:      block,
		SharedMem:  sharedMem,
		Args:       args,
		Partitions: parts,
		cache:      c,
		weakKey:    weakKey,
	}
	c.byID[l.Handle] = l
	c.strong[key] = l
	if _, ok := c.weak[weakKey]; !ok {
		c.weak[weakKey] = l
	}
	c.stats.AddLaunchObject(time.Since(start))
	return l, true, nil
}

// Lookup returns the launch registered under h, if any.
func (c *Cache) Lookup(h Handle) (*Launch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.byID[h]
	return l, ok
}

func strongKey(fn driver.Function, grid, block [3]uint32, sharedMem uint32, args []kernelarg.KernelArg) string {
	return argKey(fn, grid, block, sharedMem, args, true)
}

func argKey(fn driver.Function, grid, block [3]uint32, sharedMem uint32, args []kernelarg.KernelArg, includePointers bool) string {
	b := make([]byte, 0, 64)
	b = appendUint64(b, uint64(fn))
	for _, v := range grid {
		b = appendUint64(b, uint64(v))
	}
	for _, v := range block {
		b = appendUint64(b, uint64(v))
	}
	b = appendUint64(b, uint64(sharedMem))
	for _, a := range args {
		if a.Type.IsPointer() && !includePointers {
			b = append(b, 0xff)
			continue
		}
		b = append(b, a.Raw...)
		b = append(b, 0)
	}
	return string(b)
}

func appendUint64(b []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		b = append(b, byte(v))
		v >>= 8
	}
	return b
}
