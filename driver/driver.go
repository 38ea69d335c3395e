// Package driver defines the typed shim over a single physical device's
// driver primitives: device enumeration, context and module management,
// memory allocation and copy, and kernel launch. It keeps the teacher's
// Driver/Register/Drivers registration pattern (a process selects among
// backends registered from their own init functions) but narrows the
// per-backend surface down to the driver-API entry points spec.md §4.1
// lists, named after the primitives documented in
// _examples/other_examples/512e67c8_NVIDIA-k8s-device-plugin__internal-cuda-cuda.go.go
// (CUdevice, CUcontext, CUresult, ...) rather than the teacher's
// higher-level GPU/CmdBuffer abstraction: the runtime above this package
// fans every call out across N devices itself and needs thin,
// close-to-the-metal primitives to do so.
package driver

import (
	"errors"
	"log"
	"sync"
)

// Device, Context, Module, Function and DevPtr are opaque per-device
// handles returned by a Backend. They are never meaningful across
// backends or devices; the alias package is what turns a set of these
// into the single handle the caller sees.
type (
	Device   uintptr
	Context  uintptr
	Module   uintptr
	Function uintptr
	DevPtr   uintptr
)

// Limits describes the resource ceilings of a device, used by the
// mekong package's device-limits check to reject partitions that would
// not fit (spec.md §4.4, §7, CHECK_DEVICE_LIMITS).
type Limits struct {
	MaxThreadsPerBlock int
	MaxBlockDim        [3]int
	MaxGridDim         [3]int
	TotalMemBytes      int64
}

// LaunchConfig is the concrete grid/block/shared-memory configuration
// of one kernel launch on one device.
type LaunchConfig struct {
	GridDim, BlockDim [3]uint32
	SharedMemBytes    uint32
}

// ErrNotInstalled means the backend's underlying driver library could
// not be loaded.
var ErrNotInstalled = errors.New("driver: missing required library")

// ErrNoDevice means no suitable device could be found.
var ErrNoDevice = errors.New("driver: no suitable device found")

// ErrNoDeviceMemory means device memory could not be allocated.
var ErrNoDeviceMemory = errors.New("driver: out of device memory")

// ErrFatal means the backend is in an unrecoverable state.
var ErrFatal = errors.New("driver: fatal error")

// Backend is the interface a concrete driver implementation provides.
// Every method operates on a single physical device; the runtime above
// this package is responsible for iterating over devices and combining
// the per-device Results.
type Backend interface {
	// Init initializes the backend. It must be idempotent.
	Init() error

	// DeviceCount returns the number of devices visible to the backend.
	DeviceCount() (int, error)

	// DeviceGet returns the handle for the ordinal-th device.
	DeviceGet(ordinal int) (Device, error)

	// ComputeCapability returns the device's major/minor compute
	// capability, kept for parity with the driver API this package
	// models; the runtime does not currently branch on it.
	ComputeCapability(dev Device) (major, minor int, err error)

	// Limits returns the resource limits of dev.
	Limits(dev Device) (Limits, error)

	// CtxCreate creates a context on dev and makes it current for the
	// calling goroutine.
	CtxCreate(dev Device) (Context, error)

	// CtxDestroy destroys ctx.
	CtxDestroy(ctx Context) error

	// CtxSynchronize blocks until all work queued on ctx completes.
	CtxSynchronize(ctx Context) error

	// ModuleLoad loads the module image (an opaque blob understood by
	// the backend, e.g. PTX or a fatbinary) into ctx.
	ModuleLoad(ctx Context, image []byte) (Module, error)

	// ModuleGetFunction resolves a kernel entry point by name.
	ModuleGetFunction(mod Module, name string) (Function, error)

	// MemAlloc allocates n bytes of device memory on ctx's device.
	MemAlloc(ctx Context, n int) (DevPtr, error)

	// MemFree releases a previously allocated device pointer.
	MemFree(ctx Context, ptr DevPtr) error

	// MemcpyHtoD copies from host memory to dst+dstOffset.
	MemcpyHtoD(ctx Context, dst DevPtr, dstOffset int, src []byte) error

	// MemcpyDtoH copies from src+srcOffset to host memory.
	MemcpyDtoH(ctx Context, dst []byte, src DevPtr, srcOffset int, n int) error

	// MemcpyDtoD copies n bytes from src+srcOffset to dst+dstOffset,
	// which may belong to different contexts (and, in a real multi-GPU
	// backend, different devices connected by a peer or staged host
	// path). Offsets let a caller address a sub-range of a larger
	// allocation without synthesizing a new DevPtr, since DevPtr values
	// are opaque backend handles rather than real addresses.
	MemcpyDtoD(dstCtx Context, dst DevPtr, dstOffset int, srcCtx Context, src DevPtr, srcOffset int, n int) error

	// LaunchKernel enqueues fn for execution on ctx with the given
	// configuration and raw argument byte packs (one slice per
	// argument, already holding the correct width for its type: 4
	// bytes for an int/float scalar, 8 for a double or a pointer).
	LaunchKernel(ctx Context, fn Function, cfg LaunchConfig, args [][]byte) error
}

// Driver is the interface a concrete Backend implementation registers
// under, mirroring the teacher's driver.Driver so a process can select
// among several backends by name (e.g. a real one and the simulated
// memdrv backend this repository's tests run against).
type Driver interface {
	// Open initializes the driver and returns its Backend. Further
	// calls with the same receiver must return the same Backend.
	Open() (Backend, error)

	// Name returns the driver's name. It must not open the driver.
	Name() string

	// Close deinitializes the driver. Closing a driver that is not
	// open has no effect.
	Close()
}

// Drivers returns the registered Drivers, in registration order.
func Drivers() []Driver {
	mu.Lock()
	defer mu.Unlock()
	drv := make([]Driver, len(drivers))
	copy(drv, drivers)
	return drv
}

// Register registers a Driver. Implementations are expected to call
// Register exactly once, from an init function. If a driver with the
// same name is already registered, it is replaced.
func Register(drv Driver) {
	mu.Lock()
	defer mu.Unlock()
	for i := range drivers {
		if drivers[i].Name() == drv.Name() {
			drivers[i] = drv
			log.Printf("[!] driver %q replaced", drv.Name())
			return
		}
	}
	drivers = append(drivers, drv)
	log.Printf("driver %q registered", drv.Name())
}

var (
	mu      sync.Mutex
	drivers []Driver = make([]Driver, 0, 1)
)
