package mekong

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mekong-rt/runtime/driver"
	"github.com/mekong-rt/runtime/internal/runtimeerr"
	"github.com/mekong-rt/runtime/internal/stats"
	"github.com/mekong-rt/runtime/kernelarg"
	"github.com/mekong-rt/runtime/kerneldesc"
	"github.com/mekong-rt/runtime/launch"
	"github.com/mekong-rt/runtime/memcopy"
	"github.com/mekong-rt/runtime/vbuffer"
)

// WrapInit forwards to the backend.
func (rt *Runtime) WrapInit() driver.Result {
	if err := rt.backend.Init(); err != nil {
		return driver.Of(-1, err)
	}
	rt.log.Print("init")
	return driver.Ok
}

// WrapDeviceGetCount queries the backend's real device count, records
// it, and tells the caller there is exactly one device (spec.md
// §4.13): every application built against this runtime sees a single
// logical GPU, however many physical ones actually back it.
func (rt *Runtime) WrapDeviceGetCount() (int, driver.Result) {
	n, err := rt.backend.DeviceCount()
	if err != nil {
		return 0, driver.Of(-1, err)
	}
	rt.mu.Lock()
	rt.realDeviceCount = n
	rt.mu.Unlock()
	if rt.stats != nil {
		rt.stats.SetNumDev(n)
	}
	rt.log.Printf("deviceGetCount: %d real devices", n)
	return 1, driver.Ok
}

// WrapDeviceGet registers every real device under the alias handle and
// returns the primary (device 0) to the caller. ordinal must be 0,
// since WrapDeviceGetCount already told the caller there is only one
// device to enumerate.
func (rt *Runtime) WrapDeviceGet(ordinal int) (driver.Device, driver.Result) {
	if ordinal != 0 {
		return 0, driver.Of(0, runtimeerr.New(runtimeerr.Invariant, "mekong.WrapDeviceGet",
			"ordinal %d out of range, runtime reports 1 device", ordinal))
	}
	rt.mu.Lock()
	n := rt.realDeviceCount
	rt.mu.Unlock()
	if n == 0 {
		if got, err := rt.backend.DeviceCount(); err == nil {
			n = got
		}
	}

	devs := make([]driver.Device, n)
	for i := 0; i < n; i++ {
		d, err := rt.backend.DeviceGet(i)
		if err != nil {
			return 0, driver.Of(i, err)
		}
		devs[i] = d
	}
	rt.devices.Register(devs[0], devs[1:]...)
	rt.log.Printf("deviceGet: registered %d devices", n)
	return devs[0], driver.Ok
}

// WrapDeviceComputeCapability returns the component-wise minimum
// compute capability across every real device aliased to dev.
func (rt *Runtime) WrapDeviceComputeCapability(dev driver.Device) (int, int, driver.Result) {
	devs := rt.devices.Lookup(dev)
	var minMajor, minMinor int = -1, -1
	for i, d := range devs {
		major, minor, err := rt.backend.ComputeCapability(d)
		if err != nil {
			return 0, 0, driver.Of(i, err)
		}
		if minMajor == -1 || major < minMajor {
			minMajor = major
		}
		if minMinor == -1 || minor < minMinor {
			minMinor = minor
		}
	}
	return minMajor, minMinor, driver.Ok
}

// WrapCtxCreate creates one context per real device aliased to dev,
// registers the list, and returns the primary context.
func (rt *Runtime) WrapCtxCreate(dev driver.Device) (driver.Context, driver.Result) {
	devs := rt.devices.Lookup(dev)
	ctxs := make([]driver.Context, len(devs))
	for i, d := range devs {
		c, err := rt.backend.CtxCreate(d)
		if err != nil {
			return 0, driver.Of(i, err)
		}
		ctxs[i] = c
	}
	rt.contexts.Register(ctxs[0], ctxs[1:]...)
	rt.log.Printf("ctxCreate: %d contexts", len(ctxs))
	return ctxs[0], driver.Ok
}

// WrapModuleLoad loads image into every context aliased to ctx and
// registers the resulting per-device module list.
func (rt *Runtime) WrapModuleLoad(ctx driver.Context, image []byte) (driver.Module, driver.Result) {
	ctxs := rt.contexts.Lookup(ctx)
	mods := make([]driver.Module, len(ctxs))
	for i, c := range ctxs {
		m, err := rt.backend.ModuleLoad(c, image)
		if err != nil {
			return 0, driver.Of(i, err)
		}
		mods[i] = m
	}
	rt.modules.Register(mods[0], mods[1:]...)
	return mods[0], driver.Ok
}

// WrapModuleGetFunction resolves name+"_super" — the host-transform
// pass's rewritten variant of the kernel — in every module aliased to
// mod, registers the per-device function list, and records name as the
// kernel name the returned function looks up in the analysis database.
func (rt *Runtime) WrapModuleGetFunction(mod driver.Module, name string) (driver.Function, driver.Result) {
	mods := rt.modules.Lookup(mod)
	superName := name + "_super"
	fns := make([]driver.Function, len(mods))
	for i, m := range mods {
		f, err := rt.backend.ModuleGetFunction(m, superName)
		if err != nil {
			return 0, driver.Of(i, err)
		}
		fns[i] = f
	}
	rt.functions.Register(fns[0], fns[1:]...)
	rt.mu.Lock()
	rt.kernelName[fns[0]] = name
	rt.mu.Unlock()
	return fns[0], driver.Ok
}

// WrapMemAlloc allocates size bytes on every device backing the sole
// live context, registers the per-device pointer list, and returns the
// primary pointer.
func (rt *Runtime) WrapMemAlloc(size int) (driver.DevPtr, driver.Result) {
	ctxs, err := rt.contexts.SoleList()
	if err != nil {
		return 0, driver.Of(-1, err)
	}
	ptrs := make([]driver.DevPtr, len(ctxs))
	for i, c := range ctxs {
		p, err := rt.backend.MemAlloc(c, size)
		if err != nil {
			return 0, driver.Of(i, err)
		}
		ptrs[i] = p
	}
	rt.ptrs.Register(ptrs[0], ptrs[1:]...)
	return ptrs[0], driver.Ok
}

// WrapMemFree frees every device's allocation aliased to ptr and drops
// its alias entry and any tracked virtual-buffer writer.
func (rt *Runtime) WrapMemFree(ptr driver.DevPtr) driver.Result {
	ctxs, err := rt.contexts.SoleList()
	if err != nil {
		return driver.Of(-1, err)
	}
	ptrs := rt.ptrs.Lookup(ptr)
	var res driver.Result = driver.Ok
	for i := range ctxs {
		res = driver.Join(res, driver.Of(i, rt.backend.MemFree(ctxs[i], ptrs[i])))
	}
	rt.ptrs.Erase(ptr)
	rt.vbuf.Free(ptr)
	return res
}

// WrapCtxDestroy destroys every context aliased to ctx and drops its
// alias entry.
func (rt *Runtime) WrapCtxDestroy(ctx driver.Context) driver.Result {
	ctxs := rt.contexts.Lookup(ctx)
	var res driver.Result = driver.Ok
	for i, c := range ctxs {
		res = driver.Join(res, driver.Of(i, rt.backend.CtxDestroy(c)))
	}
	rt.contexts.Erase(ctx)
	return res
}

// WrapCtxSynchronize synchronizes every context aliased to ctx.
func (rt *Runtime) WrapCtxSynchronize(ctx driver.Context) driver.Result {
	ctxs := rt.contexts.Lookup(ctx)
	var res driver.Result = driver.Ok
	for i, c := range ctxs {
		res = driver.Join(res, driver.Of(i, rt.backend.CtxSynchronize(c)))
	}
	return res
}

// WrapMemcpyHtoD broadcasts src to every device aliased to ptr and
// records the virtual buffer's writer as the host (spec.md §4.11).
func (rt *Runtime) WrapMemcpyHtoD(ptr driver.DevPtr, src []byte) driver.Result {
	ctxs, err := rt.contexts.SoleList()
	if err != nil {
		return driver.Of(-1, err)
	}
	ptrs := rt.ptrs.Lookup(ptr)
	targets := make([]memcopy.DeviceTarget, len(ctxs))
	for i := range ctxs {
		targets[i] = memcopy.DeviceTarget{Device: i, Ctx: ctxs[i], Ptr: ptrs[i]}
	}
	plan, err := memcopy.CreateBroadcastHtoD(targets, src)
	if err != nil {
		return driver.Of(-1, err)
	}
	start := time.Now()
	if err := plan.Exec(rt.backend); err != nil {
		return driver.Of(-1, err)
	}
	if rt.stats != nil {
		rt.stats.AddMemCpy(stats.HtoD, len(src)*len(targets), time.Since(start))
	}
	rt.vbuf.MarkWritten(ptr, vbuffer.Host)
	return driver.Ok
}

// WrapMemcpyDtoH copies ptr's current value back to dst. If ptr's last
// writer is a host broadcast it reads a single full-buffer copy off
// device 0; otherwise it asks the last-writing launch for its
// written-data plan and runs that (spec.md §4.13).
func (rt *Runtime) WrapMemcpyDtoH(dst []byte, ptr driver.DevPtr) driver.Result {
	w, ok := rt.vbuf.LastWriter(ptr)
	if !ok {
		return driver.Of(-1, runtimeerr.New(runtimeerr.Invariant, "mekong.WrapMemcpyDtoH",
			"device pointer has never been written"))
	}

	ctxs, err := rt.contexts.SoleList()
	if err != nil {
		return driver.Of(-1, err)
	}
	ptrs := rt.ptrs.Lookup(ptr)

	var plan *memcopy.Plan
	if vbuffer.IsHost(w) {
		plan, err = memcopy.New(memcopy.DtoH, []memcopy.SubCopy{{
			SrcDevice: 0,
			DstDevice: -1,
			SrcCtx:    ctxs[0],
			SrcPtr:    ptrs[0],
			Size:      len(dst),
			Host:      dst,
		}}, true)
	} else {
		l := w.(*launch.Launch)
		i := l.ArgIndex(ptr)
		if i < 0 {
			return driver.Of(-1, runtimeerr.New(runtimeerr.Invariant, "mekong.WrapMemcpyDtoH",
				"last-writer launch no longer holds this pointer"))
		}
		plan, err = l.WrittenData(i, rt.ptrs, rt.contexts, dst)
	}
	if err != nil {
		return driver.Of(-1, err)
	}

	start := time.Now()
	if err := plan.Exec(rt.backend); err != nil {
		return driver.Of(-1, err)
	}
	if rt.stats != nil {
		rt.stats.AddMemCpy(stats.DtoH, len(dst), time.Since(start))
	}
	return driver.Ok
}

// Report renders and prints the accumulated statistics to standard
// out, matching spec.md §4.13/§6's MEKONG_report.
func (rt *Runtime) Report() {
	fmt.Print(rt.stats.Report())
}

func ptrFromArg(raw []byte) driver.DevPtr {
	return driver.DevPtr(binary.LittleEndian.Uint64(raw))
}

func encodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func encodePtr(p driver.DevPtr) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(p))
	return b
}

// buildArgs converts the raw byte packs the interposed call received
// into kernelarg.KernelArg values typed against desc, resolving every
// array argument's dimension sizes (spec.md §4.2).
func buildArgs(desc *kerneldesc.Descriptor, grid, block [3]uint32, raw [][]byte) ([]kernelarg.KernelArg, error) {
	if len(raw) != desc.NumArgs() {
		return nil, runtimeerr.New(runtimeerr.Config, "mekong.buildArgs",
			"kernel %q expects %d arguments, got %d", desc.Name, desc.NumArgs(), len(raw))
	}
	args := make([]kernelarg.KernelArg, len(raw))
	for i, r := range raw {
		args[i] = kernelarg.KernelArg{Type: desc.Arg(i), Raw: r}
	}
	dimSizes, err := kernelarg.ResolveDimSizes(args, grid, block)
	if err != nil {
		return nil, err
	}
	for i := range args {
		args[i].DimSizes = dimSizes[i]
	}
	return args, nil
}
