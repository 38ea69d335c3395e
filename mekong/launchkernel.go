package mekong

import (
	"time"

	"github.com/mekong-rt/runtime/depres"
	"github.com/mekong-rt/runtime/driver"
	"github.com/mekong-rt/runtime/internal/runtimeerr"
	"github.com/mekong-rt/runtime/launch"
	"github.com/mekong-rt/runtime/vbuffer"
)

// WrapLaunchKernel is the central orchestration flow of spec.md §4.13:
// locate the kernel descriptor, get-or-insert the launch object,
// optionally check device limits, resolve every dependency against the
// launches that last wrote the buffers this launch reads, exec the
// launch itself partition by partition, and record this launch as the
// new last-writer of every buffer it modifies.
func (rt *Runtime) WrapLaunchKernel(ctx driver.Context, fn driver.Function, grid, block [3]uint32, sharedMem uint32, rawArgs [][]byte) driver.Result {
	rt.mu.Lock()
	name, ok := rt.kernelName[fn]
	rt.mu.Unlock()
	if !ok {
		return driver.Of(-1, runtimeerr.New(runtimeerr.Config, "mekong.WrapLaunchKernel",
			"function handle was never resolved via ModuleGetFunction"))
	}
	desc, err := rt.db.Lookup(name)
	if err != nil {
		return driver.Of(-1, err)
	}

	args, err := buildArgs(desc, grid, block, rawArgs)
	if err != nil {
		return driver.Of(-1, err)
	}

	ctxs, err := rt.contexts.SoleList()
	if err != nil {
		return driver.Of(-1, err)
	}

	l, _, err := rt.launches.GetOrInsert(fn, grid, block, sharedMem, args, desc, len(ctxs))
	if err != nil {
		return driver.Of(-1, err)
	}

	if rt.cfg.CheckDeviceLimits {
		if res := rt.checkDeviceLimits(l); res.Failed() {
			return res
		}
	}

	if res := rt.resolveDependencies(l); res.Failed() {
		return res
	}
	l.SetDepsResolved()

	if res := rt.execLaunch(l, ctxs); res.Failed() {
		return res
	}
	l.MarkExecuted()

	for _, i := range l.WrittenArgs() {
		rt.vbuf.MarkWritten(ptrFromArg(args[i].Raw), l)
	}
	return driver.Ok
}

// checkDeviceLimits validates every partition's grid and block
// configuration (threads per block, per-axis block and grid sizes)
// against its target device's driver.Limits, per spec.md §4.9's
// optional device-limits check. The launch's shared memory size is not
// checked.
func (rt *Runtime) checkDeviceLimits(l *launch.Launch) driver.Result {
	devs, err := rt.devices.SoleList()
	if err != nil {
		return driver.Of(-1, err)
	}
	for _, p := range l.Partitions {
		lim, err := rt.backend.Limits(devs[p.Device])
		if err != nil {
			return driver.Of(p.Device, err)
		}
		threads := l.Block[0] * l.Block[1] * l.Block[2]
		if int(threads) > lim.MaxThreadsPerBlock {
			return driver.Of(p.Device, runtimeerr.New(runtimeerr.Limit, "mekong.checkDeviceLimits",
				"block of %d threads exceeds device %d's limit of %d", threads, p.Device, lim.MaxThreadsPerBlock))
		}
		for axis := 0; axis < 3; axis++ {
			if int(l.Block[axis]) > lim.MaxBlockDim[axis] {
				return driver.Of(p.Device, runtimeerr.New(runtimeerr.Limit, "mekong.checkDeviceLimits",
					"block dim %d (%d) exceeds device %d's limit of %d", axis, l.Block[axis], p.Device, lim.MaxBlockDim[axis]))
			}
			if int(p.Grid[axis]) > lim.MaxGridDim[axis] {
				return driver.Of(p.Device, runtimeerr.New(runtimeerr.Limit, "mekong.checkDeviceLimits",
					"grid dim %d (%d) exceeds device %d's limit of %d", axis, p.Grid[axis], p.Device, lim.MaxGridDim[axis]))
			}
		}
	}
	return driver.Ok
}

// resolveDependencies gathers every master launch that last wrote a
// buffer l reads, builds or reuses its (master, l) resolver, and execs
// it, per spec.md §4.12/§4.13 steps 4-6.
func (rt *Runtime) resolveDependencies(l *launch.Launch) driver.Result {
	ctxs, err := rt.contexts.SoleList()
	if err != nil {
		return driver.Of(-1, err)
	}

	var masters []*launch.Launch
	seen := make(map[*launch.Launch]bool)
	for _, i := range l.ReadArgs() {
		ptr := ptrFromArg(l.Args[i].Raw)
		w, ok := rt.vbuf.LastWriter(ptr)
		if !ok || vbuffer.IsHost(w) {
			continue
		}
		master := w.(*launch.Launch)
		if master == l || seen[master] {
			continue
		}
		seen[master] = true
		masters = append(masters, master)
	}

	for _, master := range masters {
		buildStart := time.Now()
		res, built, err := rt.resolvers.GetOrBuild(master, l, rt.ptrs, rt.contexts)
		if err != nil {
			return driver.Of(-1, err)
		}
		if built && rt.stats != nil {
			rt.stats.AddDepResObject(time.Since(buildStart))
		}

		execStart := time.Now()
		if err := res.Exec(rt.backend, ctxs); err != nil {
			return driver.Of(-1, err)
		}
		if rt.stats != nil {
			rt.stats.AddDepResExec(time.Since(execStart))
			rt.stats.AddDepResCpy(resolutionBytes(res))
		}
	}
	return driver.Ok
}

func resolutionBytes(r *depres.Resolution) int {
	n := 0
	for _, p := range r.Plans {
		for _, s := range p.SubCopies {
			n += s.Size
		}
	}
	return n
}

// execLaunch issues l's already-computed partitions to the backend, one
// call per device, rewriting each pointer argument to that device's
// alias and appending the offset and global-size parameters spec.md
// §4.9 describes.
func (rt *Runtime) execLaunch(l *launch.Launch, ctxs []driver.Context) driver.Result {
	globalX := l.Grid[0] * l.Block[0]
	globalY := l.Grid[1] * l.Block[1]
	globalZ := l.Grid[2] * l.Block[2]
	fns := rt.functions.Lookup(l.Function)

	for _, p := range l.Partitions {
		devArgs := make([][]byte, 0, len(l.Args)+6)
		for _, a := range l.Args {
			if a.Type.IsPointer() {
				devPtrs := rt.ptrs.Lookup(ptrFromArg(a.Raw))
				devArgs = append(devArgs, encodePtr(devPtrs[p.Device]))
			} else {
				devArgs = append(devArgs, a.Raw)
			}
		}
		devArgs = append(devArgs,
			encodeUint32(p.Offset[0]), encodeUint32(p.Offset[1]), encodeUint32(p.Offset[2]),
			encodeUint32(globalX), encodeUint32(globalY), encodeUint32(globalZ))

		cfg := driver.LaunchConfig{GridDim: p.Grid, BlockDim: l.Block, SharedMemBytes: l.SharedMem}
		if err := rt.backend.LaunchKernel(ctxs[p.Device], fns[p.Device], cfg, devArgs); err != nil {
			return driver.Of(p.Device, err)
		}
	}
	return driver.Ok
}
