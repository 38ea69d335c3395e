// Package memdrv implements an in-process, byte-slice-backed simulated
// multi-device driver.Backend. It plays the same architectural role the
// teacher's driver/vk package plays for its Vulkan-backed GPU interface
// — the one concrete Driver registered from an init function — except
// it simulates N devices inside a single process instead of binding a
// real graphics API, which is what lets this repository's tests drive
// spec.md §8's end-to-end scenarios (stencils, broadcasts, launch-cache
// coalescing) without real hardware.
//
// A real driver API has no notion of "running a kernel in Go"; a
// compiled module image is opaque machine code the device executes.
// Since this package simulates devices rather than binding to one,
// LaunchKernel instead looks the named function up in a small registry
// of Go closures (see Register) keyed by (module image, function name)
// and calls it directly, handing it live slices of the simulated
// device's memory for any pointer argument so the closure can read and
// write it as the equivalent real kernel would.
package memdrv

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"

	"github.com/mekong-rt/runtime/driver"
)

// Arg is one resolved kernel argument handed to a KernelFunc.
type Arg struct {
	// Raw is the argument's byte pack exactly as LaunchKernel received
	// it: the little-endian encoding of a scalar value, or of a DevPtr.
	Raw []byte
	// Mem is non-nil when Raw decodes to a DevPtr this backend
	// allocated; it aliases the device's live backing array, so writes
	// through it are visible to subsequent copies and launches.
	Mem []byte
}

// Int32 decodes the argument as a little-endian 32-bit integer.
func (a Arg) Int32() int32 { return int32(binary.LittleEndian.Uint32(a.Raw)) }

// Float32 decodes the argument as a little-endian 32-bit float.
func (a Arg) Float32() float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(a.Raw))
}

// Float64 decodes the argument as a little-endian 64-bit float.
func (a Arg) Float64() float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(a.Raw))
}

// KernelFunc is the simulated body of a kernel: given the launch
// configuration and resolved arguments, it performs the entire
// computation the real kernel's threads would perform collectively.
type KernelFunc func(cfg driver.LaunchConfig, args []Arg) error

var registryMu sync.Mutex
var registry = map[string]KernelFunc{}

// Register associates a KernelFunc with a (module, function) name pair.
// Tests call this once per simulated kernel
// before driving a launch through the runtime.
func Register(module, function string, fn KernelFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[module+"::"+function] = fn
}

type device struct {
	limits driver.Limits
	mem    map[driver.DevPtr][]byte
}

type ctxState struct {
	dev driver.Device
}

// Backend is a simulated multi-device driver.Backend.
type Backend struct {
	mu       sync.Mutex
	devices  []device
	ctxs     map[driver.Context]ctxState
	modules  map[driver.Module]string
	funcs    map[driver.Function]string
	nextPtr  driver.DevPtr
	nextCtx  driver.Context
	nextMod  driver.Module
	nextFunc driver.Function
}

// NewBackend creates a simulated backend with n devices, each
// advertising generous but finite limits so the mekong package's
// CHECK_DEVICE_LIMITS path has something real to enforce against.
func NewBackend(n int) *Backend {
	b := &Backend{
		ctxs:    map[driver.Context]ctxState{},
		modules: map[driver.Module]string{},
		funcs:   map[driver.Function]string{},
		nextPtr: 1,
	}
	for i := 0; i < n; i++ {
		b.devices = append(b.devices, device{
			limits: driver.Limits{
				MaxThreadsPerBlock: 1024,
				MaxBlockDim:        [3]int{1024, 1024, 64},
				MaxGridDim:         [3]int{1 << 20, 1 << 16, 1 << 16},
				TotalMemBytes:      1 << 32,
			},
			mem: map[driver.DevPtr][]byte{},
		})
	}
	return b
}

func (b *Backend) Init() error { return nil }

func (b *Backend) DeviceCount() (int, error) { return len(b.devices), nil }

func (b *Backend) DeviceGet(ordinal int) (driver.Device, error) {
	if ordinal < 0 || ordinal >= len(b.devices) {
		return 0, driver.ErrNoDevice
	}
	return driver.Device(ordinal + 1), nil
}

func (b *Backend) ComputeCapability(driver.Device) (int, int, error) { return 8, 0, nil }

func (b *Backend) Limits(dev driver.Device) (driver.Limits, error) {
	d, err := b.device(dev)
	if err != nil {
		return driver.Limits{}, err
	}
	return d.limits, nil
}

func (b *Backend) device(dev driver.Device) (*device, error) {
	idx := int(dev) - 1
	if idx < 0 || idx >= len(b.devices) {
		return nil, driver.ErrNoDevice
	}
	return &b.devices[idx], nil
}

func (b *Backend) CtxCreate(dev driver.Device) (driver.Context, error) {
	if _, err := b.device(dev); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextCtx++
	c := b.nextCtx
	b.ctxs[c] = ctxState{dev: dev}
	return c, nil
}

func (b *Backend) CtxDestroy(ctx driver.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.ctxs, ctx)
	return nil
}

func (b *Backend) CtxSynchronize(driver.Context) error { return nil }

func (b *Backend) ModuleLoad(ctx driver.Context, image []byte) (driver.Module, error) {
	if _, ok := b.ctxs[ctx]; !ok {
		return 0, fmt.Errorf("memdrv: unknown context")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextMod++
	m := b.nextMod
	b.modules[m] = string(image)
	return m, nil
}

func (b *Backend) ModuleGetFunction(mod driver.Module, name string) (driver.Function, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	modName, ok := b.modules[mod]
	if !ok {
		return 0, fmt.Errorf("memdrv: unknown module")
	}
	key := modName + "::" + name
	if _, ok := registry[key]; !ok {
		return 0, fmt.Errorf("memdrv: no kernel registered for %q", key)
	}
	b.nextFunc++
	f := b.nextFunc
	b.funcs[f] = key
	return f, nil
}

func (b *Backend) MemAlloc(ctx driver.Context, n int) (driver.DevPtr, error) {
	cs, ok := b.ctxs[ctx]
	if !ok {
		return 0, fmt.Errorf("memdrv: unknown context")
	}
	d, err := b.device(cs.dev)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextPtr++
	p := b.nextPtr
	d.mem[p] = make([]byte, n)
	return p, nil
}

func (b *Backend) MemFree(ctx driver.Context, ptr driver.DevPtr) error {
	cs, ok := b.ctxs[ctx]
	if !ok {
		return fmt.Errorf("memdrv: unknown context")
	}
	d, err := b.device(cs.dev)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(d.mem, ptr)
	return nil
}

func (b *Backend) MemcpyHtoD(ctx driver.Context, dst driver.DevPtr, dstOffset int, src []byte) error {
	mem, err := b.mem(ctx, dst)
	if err != nil {
		return err
	}
	copy(mem[dstOffset:], src)
	return nil
}

func (b *Backend) MemcpyDtoH(ctx driver.Context, dst []byte, src driver.DevPtr, srcOffset int, n int) error {
	mem, err := b.mem(ctx, src)
	if err != nil {
		return err
	}
	copy(dst[:n], mem[srcOffset:srcOffset+n])
	return nil
}

func (b *Backend) MemcpyDtoD(dstCtx driver.Context, dst driver.DevPtr, dstOffset int, srcCtx driver.Context, src driver.DevPtr, srcOffset int, n int) error {
	srcMem, err := b.mem(srcCtx, src)
	if err != nil {
		return err
	}
	dstMem, err := b.mem(dstCtx, dst)
	if err != nil {
		return err
	}
	copy(dstMem[dstOffset:dstOffset+n], srcMem[srcOffset:srcOffset+n])
	return nil
}

func (b *Backend) mem(ctx driver.Context, ptr driver.DevPtr) ([]byte, error) {
	cs, ok := b.ctxs[ctx]
	if !ok {
		return nil, fmt.Errorf("memdrv: unknown context")
	}
	d, err := b.device(cs.dev)
	if err != nil {
		return nil, err
	}
	m, ok := d.mem[ptr]
	if !ok {
		return nil, fmt.Errorf("memdrv: unknown device pointer")
	}
	return m, nil
}

func (b *Backend) LaunchKernel(ctx driver.Context, fn driver.Function, cfg driver.LaunchConfig, args [][]byte) error {
	cs, ok := b.ctxs[ctx]
	if !ok {
		return fmt.Errorf("memdrv: unknown context")
	}
	d, err := b.device(cs.dev)
	if err != nil {
		return err
	}
	b.mu.Lock()
	key, ok := b.funcs[fn]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("memdrv: unknown function")
	}
	registryMu.Lock()
	kfn, ok := registry[key]
	registryMu.Unlock()
	if !ok {
		return fmt.Errorf("memdrv: no kernel registered for %q", key)
	}

	resolved := make([]Arg, len(args))
	for i, raw := range args {
		a := Arg{Raw: raw}
		if len(raw) == 8 {
			if mem, ok := d.mem[driver.DevPtr(binary.LittleEndian.Uint64(raw))]; ok {
				a.Mem = mem
			}
		}
		resolved[i] = a
	}
	return kfn(cfg, resolved)
}

// registeredDriver registers this package's Backend under driver.Driver, using a
// fixed device count read from the MEKONG_MEMDRV_DEVICES environment
// variable (default 4), for parity with the teacher's self-registering
// driver packages. Code that wants a specific device count for a test
// should construct a *Backend with NewBackend directly instead.
type registeredDriver struct {
	n int
	b *Backend
}

func (r *registeredDriver) Open() (driver.Backend, error) {
	if r.b == nil {
		r.b = NewBackend(r.n)
	}
	return r.b, nil
}

func (r *registeredDriver) Name() string { return "memdrv" }

func (r *registeredDriver) Close() { r.b = nil }

func init() {
	n := 4
	if s := os.Getenv("MEKONG_MEMDRV_DEVICES"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			n = v
		}
	}
	driver.Register(&registeredDriver{n: n})
}
