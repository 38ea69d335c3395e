// Package depres resolves the data dependency between two kernel
// launches (spec.md §4.12): for every pointer argument the slave
// launch reads, it finds the master launch argument that wrote the
// same virtual buffer, intersects their per-device access patterns,
// and emits the minimal set of device-to-device sub-copies needed to
// make the slave's view of the buffer consistent before it runs.
package depres

import (
	"sort"

	"github.com/mekong-rt/runtime/alias"
	"github.com/mekong-rt/runtime/argaccess"
	"github.com/mekong-rt/runtime/driver"
	"github.com/mekong-rt/runtime/internal/runtimeerr"
	"github.com/mekong-rt/runtime/launch"
	"github.com/mekong-rt/runtime/memcopy"
)

// Resolution holds the (possibly empty) set of DtoD memcpy plans that
// reconcile slave's reads with master's writes.
type Resolution struct {
	Master, Slave *launch.Launch
	Plans         []*memcopy.Plan
}

// Exec runs the standard four-step protocol from spec.md §4.12:
// synchronize every device so master's writes are globally visible,
// execute every plan, synchronize again, then leave it to the caller
// to mark Slave's dependencies resolved on success.
func (r *Resolution) Exec(b driver.Backend, deviceCtxs []driver.Context) error {
	for _, ctx := range deviceCtxs {
		if err := b.CtxSynchronize(ctx); err != nil {
			return runtimeerr.New(runtimeerr.Driver, "depres.Exec", "pre-sync failed: %v", err)
		}
	}
	for _, p := range r.Plans {
		if err := p.Exec(b); err != nil {
			return err
		}
	}
	for _, ctx := range deviceCtxs {
		if err := b.CtxSynchronize(ctx); err != nil {
			return runtimeerr.New(runtimeerr.Driver, "depres.Exec", "post-sync failed: %v", err)
		}
	}
	return nil
}

// pairKey identifies a (master, slave) launch pair by pointer
// identity, matching spec.md §4.12's "resolvers are keyed on (master,
// slave) identity".
type pairKey struct {
	master, slave *launch.Launch
}

// Cache holds one Resolution per (master, slave) pair seen so far,
// rebuilding only on first sight of a pair.
type Cache struct {
	m map[pairKey]*Resolution
}

// NewCache creates an empty resolver cache.
func NewCache() *Cache {
	return &Cache{m: make(map[pairKey]*Resolution)}
}

// GetOrBuild returns the cached Resolution for (master, slave), or
// builds and caches one using ptrAlias to translate each matching
// argument's primary device pointer into its per-device list. It
// reports whether a new Resolution was built.
func (c *Cache) GetOrBuild(master, slave *launch.Launch, ptrAlias *alias.Handle[driver.DevPtr], ctxAlias *alias.Handle[driver.Context]) (*Resolution, bool, error) {
	key := pairKey{master, slave}
	if r, ok := c.m[key]; ok {
		return r, false, nil
	}
	r, err := build(master, slave, ptrAlias, ctxAlias)
	if err != nil {
		return nil, false, err
	}
	c.m[key] = r
	return r, true, nil
}

func build(master, slave *launch.Launch, ptrAlias *alias.Handle[driver.DevPtr], ctxAlias *alias.Handle[driver.Context]) (*Resolution, error) {
	res := &Resolution{Master: master, Slave: slave}

	for _, ks := range slave.ReadArgs() {
		slavePtr := argDevPtr(slave, ks)
		km := findMatchingArg(master, slavePtr)
		if km < 0 {
			continue
		}
		if !master.Descriptor.ArgTypes[km].Modified {
			continue
		}

		writeMap, err := master.WriteArgAccess(km)
		if err != nil {
			return nil, err
		}
		readMap, err := slave.ReadArgAccess(ks)
		if err != nil {
			return nil, err
		}
		if len(writeMap) == 0 || len(readMap) == 0 {
			continue
		}

		elemSize := int64(slave.Descriptor.ArgTypes[ks].ElemSize())
		devPtrs := ptrAlias.Lookup(slavePtr)
		ctxs, err := ctxAlias.SoleList()
		if err != nil {
			return nil, err
		}

		sub := intersectSubCopies(writeMap, readMap, devPtrs, ctxs, elemSize)
		if len(sub) == 0 {
			continue
		}
		plan, err := memcopy.New(memcopy.DtoD, sub, false)
		if err != nil {
			return nil, err
		}
		res.Plans = append(res.Plans, plan)
	}
	return res, nil
}

func argDevPtr(l *launch.Launch, i int) driver.DevPtr {
	var v uint64
	raw := l.Args[i].Raw
	for j := len(raw) - 1; j >= 0; j-- {
		v = v<<8 | uint64(raw[j])
	}
	return driver.DevPtr(v)
}

func findMatchingArg(master *launch.Launch, ptr driver.DevPtr) int {
	for i, a := range master.Args {
		if !a.Type.IsPointer() {
			continue
		}
		if argDevPtr(master, i) == ptr {
			return i
		}
	}
	return -1
}

func sortedDevices(m argaccess.Map) []int {
	out := make([]int, 0, len(m))
	for d := range m {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// intersectSubCopies walks both access maps in ascending device order
// so a resolver's sub-copy list is the same on every run.
func intersectSubCopies(writeMap, readMap argaccess.Map, devPtrs []driver.DevPtr, ctxs []driver.Context, elemSize int64) []memcopy.SubCopy {
	var sub []memcopy.SubCopy
	for _, devM := range sortedDevices(writeMap) {
		ivsM := writeMap[devM]
		for _, devS := range sortedDevices(readMap) {
			ivsS := readMap[devS]
			if devM == devS {
				continue
			}
			for _, im := range ivsM {
				for _, is := range ivsS {
					lo := im.Start
					if is.Start > lo {
						lo = is.Start
					}
					hi := im.End
					if is.End < hi {
						hi = is.End
					}
					if lo >= hi {
						continue
					}
					off := int(lo * elemSize)
					size := int((hi - lo) * elemSize)
					sub = append(sub, memcopy.SubCopy{
						SrcDevice: devM,
						DstDevice: devS,
						SrcCtx:    ctxs[devM],
						DstCtx:    ctxs[devS],
						SrcPtr:    devPtrs[devM],
						DstPtr:    devPtrs[devS],
						SrcOffset: off,
						DstOffset: off,
						Size:      size,
					})
				}
			}
		}
	}
	return sub
}
