package mekong

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/mekong-rt/runtime/database"
	"github.com/mekong-rt/runtime/driver"
	"github.com/mekong-rt/runtime/driver/memdrv"
)

const stencilDB = `{
  "kernels": [
    {
      "name": "producer",
      "partitioning": "x",
      "arguments": [
        {
          "name": "buf",
          "pointer level": 1,
          "fundamental type": "i",
          "size": 0,
          "element size": 4,
          "num dimensions": 1,
          "dim sizes": [],
          "isl read map": "None",
          "isl read params": [],
          "isl write map": "{ [x] -> [x] }",
          "isl write params": []
        }
      ]
    },
    {
      "name": "stencil",
      "partitioning": "x",
      "arguments": [
        {
          "name": "buf",
          "pointer level": 1,
          "fundamental type": "i",
          "size": 0,
          "element size": 4,
          "num dimensions": 1,
          "dim sizes": [],
          "isl read map": "{ [x] -> [x-1] : x > 0; [x] -> [x]; [x] -> [x+1] : x < p0-1 }",
          "isl read params": ["size_x"],
          "isl write map": "None",
          "isl write params": []
        },
        {
          "name": "buf2",
          "pointer level": 1,
          "fundamental type": "i",
          "size": 0,
          "element size": 4,
          "num dimensions": 1,
          "dim sizes": [],
          "isl read map": "None",
          "isl read params": [],
          "isl write map": "{ [x] -> [x] }",
          "isl write params": []
        }
      ]
    }
  ]
}`

func readI32(b []byte, idx int32) int32 {
	return int32(binary.LittleEndian.Uint32(b[idx*4 : idx*4+4]))
}

func writeI32(b []byte, idx, v int32) {
	binary.LittleEndian.PutUint32(b[idx*4:idx*4+4], uint32(v))
}

func producerKernel(cfg driver.LaunchConfig, args []memdrv.Arg) error {
	buf := args[0].Mem
	offset := args[1].Int32()
	count := int32(cfg.GridDim[0] * cfg.BlockDim[0])
	for i := int32(0); i < count; i++ {
		writeI32(buf, offset+i, offset+i)
	}
	return nil
}

func stencilKernel(cfg driver.LaunchConfig, args []memdrv.Arg) error {
	buf := args[0].Mem
	buf2 := args[1].Mem
	offset := args[2].Int32()
	globalX := args[5].Int32()
	count := int32(cfg.GridDim[0] * cfg.BlockDim[0])
	for i := int32(0); i < count; i++ {
		idx := offset + i
		var left, right int32
		if idx > 0 {
			left = readI32(buf, idx-1)
		}
		if idx < globalX-1 {
			right = readI32(buf, idx+1)
		}
		writeI32(buf2, idx, left+readI32(buf, idx)+right)
	}
	return nil
}

// TestTwoKernelHaloDependency drives a producer kernel (full-array
// identity write, partitioned across 2 devices) followed by a 3-point
// stencil kernel that reads across the partition boundary, checking that
// the runtime's dependency resolution copies exactly the halo elements
// each device is missing before the second kernel runs (spec.md §4.12).
func TestTwoKernelHaloDependency(t *testing.T) {
	memdrv.Register("stencil_module", "producer_super", producerKernel)
	memdrv.Register("stencil_module", "stencil_super", stencilKernel)

	db, err := database.Load(strings.NewReader(stencilDB))
	if err != nil {
		t.Fatalf("database.Load: %v", err)
	}
	backend := memdrv.NewBackend(2)
	rt, err := New(backend, db)
	if err != nil {
		t.Fatalf("mekong.New: %v", err)
	}

	if res := rt.WrapInit(); res.Failed() {
		t.Fatalf("WrapInit: %v", res.Err())
	}
	dev, res := rt.WrapDeviceGet(0)
	if res.Failed() {
		t.Fatalf("WrapDeviceGet: %v", res.Err())
	}
	ctx, res := rt.WrapCtxCreate(dev)
	if res.Failed() {
		t.Fatalf("WrapCtxCreate: %v", res.Err())
	}
	mod, res := rt.WrapModuleLoad(ctx, []byte("stencil_module"))
	if res.Failed() {
		t.Fatalf("WrapModuleLoad: %v", res.Err())
	}
	producerFn, res := rt.WrapModuleGetFunction(mod, "producer")
	if res.Failed() {
		t.Fatalf("WrapModuleGetFunction(producer): %v", res.Err())
	}
	stencilFn, res := rt.WrapModuleGetFunction(mod, "stencil")
	if res.Failed() {
		t.Fatalf("WrapModuleGetFunction(stencil): %v", res.Err())
	}

	const n = 8
	buf, res := rt.WrapMemAlloc(n * 4)
	if res.Failed() {
		t.Fatalf("WrapMemAlloc(buf): %v", res.Err())
	}
	buf2, res := rt.WrapMemAlloc(n * 4)
	if res.Failed() {
		t.Fatalf("WrapMemAlloc(buf2): %v", res.Err())
	}

	grid := [3]uint32{n, 1, 1}
	block := [3]uint32{1, 1, 1}

	if res := rt.WrapLaunchKernel(ctx, producerFn, grid, block, 0, [][]byte{encodePtr(buf)}); res.Failed() {
		t.Fatalf("WrapLaunchKernel(producer): %v", res.Err())
	}
	if res := rt.WrapLaunchKernel(ctx, stencilFn, grid, block, 0, [][]byte{encodePtr(buf), encodePtr(buf2)}); res.Failed() {
		t.Fatalf("WrapLaunchKernel(stencil): %v", res.Err())
	}

	out := hostInts(n)
	if res := rt.WrapMemcpyDtoH(out, buf2); res.Failed() {
		t.Fatalf("WrapMemcpyDtoH: %v", res.Err())
	}
	got := decodeInts(out)
	want := []int32{1, 3, 6, 9, 12, 15, 18, 13}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d: got %d, want %d (full: %v, want %v)", i, got[i], want[i], got, want)
		}
	}
}

// nbodyDB pairs the two kernels of an n-body step: updateSpeed reads
// every body's position (an all-to-all gather) and writes each body's
// velocity; updatePositions advances each body's position by its
// velocity. The full-array read is what forces the runtime to exchange
// each device's missing half of the position buffer between iterations.
const nbodyDB = `{
  "kernels": [
    {
      "name": "updateSpeed",
      "partitioning": "x",
      "arguments": [
        {
          "name": "pos",
          "pointer level": 1,
          "fundamental type": "i",
          "size": 0,
          "element size": 4,
          "num dimensions": 1,
          "dim sizes": [],
          "isl read map": "{ [x] -> [i] : i >= 0 and i < p0 }",
          "isl read params": ["size_x"],
          "isl write map": "None",
          "isl write params": []
        },
        {
          "name": "vel",
          "pointer level": 1,
          "fundamental type": "i",
          "size": 0,
          "element size": 4,
          "num dimensions": 1,
          "dim sizes": [],
          "isl read map": "None",
          "isl read params": [],
          "isl write map": "{ [x] -> [x] }",
          "isl write params": []
        }
      ]
    },
    {
      "name": "updatePositions",
      "partitioning": "x",
      "arguments": [
        {
          "name": "pos",
          "pointer level": 1,
          "fundamental type": "i",
          "size": 0,
          "element size": 4,
          "num dimensions": 1,
          "dim sizes": [],
          "isl read map": "{ [x] -> [x] }",
          "isl read params": [],
          "isl write map": "{ [x] -> [x] }",
          "isl write params": []
        },
        {
          "name": "vel",
          "pointer level": 1,
          "fundamental type": "i",
          "size": 0,
          "element size": 4,
          "num dimensions": 1,
          "dim sizes": [],
          "isl read map": "{ [x] -> [x] }",
          "isl read params": [],
          "isl write map": "None",
          "isl write params": []
        }
      ]
    }
  ]
}`

// updateSpeedKernel sums every position and assigns vel[x] = sum + x to
// the bodies this partition owns. The sum over the full array is what
// makes the kernel sensitive to stale remote halves: it only produces
// the right value if dependency resolution delivered the other device's
// positions first.
func updateSpeedKernel(cfg driver.LaunchConfig, args []memdrv.Arg) error {
	pos := args[0].Mem
	vel := args[1].Mem
	offset := args[2].Int32()
	globalN := args[5].Int32()
	var sum int32
	for i := int32(0); i < globalN; i++ {
		sum += readI32(pos, i)
	}
	count := int32(cfg.GridDim[0] * cfg.BlockDim[0])
	for i := int32(0); i < count; i++ {
		x := offset + i
		writeI32(vel, x, sum+x)
	}
	return nil
}

func updatePositionsKernel(cfg driver.LaunchConfig, args []memdrv.Arg) error {
	pos := args[0].Mem
	vel := args[1].Mem
	offset := args[2].Int32()
	count := int32(cfg.GridDim[0] * cfg.BlockDim[0])
	for i := int32(0); i < count; i++ {
		x := offset + i
		writeI32(pos, x, readI32(pos, x)+readI32(vel, x))
	}
	return nil
}

// TestNBodyHalfExchange runs two n-body iterations over 12 bodies on 2
// devices (grid=(4,1,1), block=(3,1,1), x-split) and checks the final
// positions against the sequential recurrence. The second iteration's
// updateSpeed is only correct if the resolver shipped each device the
// half of the position buffer the other device wrote.
func TestNBodyHalfExchange(t *testing.T) {
	memdrv.Register("nbody_module", "updateSpeed_super", updateSpeedKernel)
	memdrv.Register("nbody_module", "updatePositions_super", updatePositionsKernel)

	db, err := database.Load(strings.NewReader(nbodyDB))
	if err != nil {
		t.Fatalf("database.Load: %v", err)
	}
	backend := memdrv.NewBackend(2)
	rt, err := New(backend, db)
	if err != nil {
		t.Fatalf("mekong.New: %v", err)
	}

	if res := rt.WrapInit(); res.Failed() {
		t.Fatalf("WrapInit: %v", res.Err())
	}
	dev, res := rt.WrapDeviceGet(0)
	if res.Failed() {
		t.Fatalf("WrapDeviceGet: %v", res.Err())
	}
	ctx, res := rt.WrapCtxCreate(dev)
	if res.Failed() {
		t.Fatalf("WrapCtxCreate: %v", res.Err())
	}
	mod, res := rt.WrapModuleLoad(ctx, []byte("nbody_module"))
	if res.Failed() {
		t.Fatalf("WrapModuleLoad: %v", res.Err())
	}
	speedFn, res := rt.WrapModuleGetFunction(mod, "updateSpeed")
	if res.Failed() {
		t.Fatalf("WrapModuleGetFunction(updateSpeed): %v", res.Err())
	}
	posFn, res := rt.WrapModuleGetFunction(mod, "updatePositions")
	if res.Failed() {
		t.Fatalf("WrapModuleGetFunction(updatePositions): %v", res.Err())
	}

	const n = 12
	pos, res := rt.WrapMemAlloc(n * 4)
	if res.Failed() {
		t.Fatalf("WrapMemAlloc(pos): %v", res.Err())
	}
	vel, res := rt.WrapMemAlloc(n * 4)
	if res.Failed() {
		t.Fatalf("WrapMemAlloc(vel): %v", res.Err())
	}

	init := make([]int32, n)
	for i := range init {
		init[i] = int32(i)
	}
	if res := rt.WrapMemcpyHtoD(pos, encodeInts(init)); res.Failed() {
		t.Fatalf("WrapMemcpyHtoD(pos): %v", res.Err())
	}

	grid := [3]uint32{4, 1, 1}
	block := [3]uint32{3, 1, 1}
	rawArgs := [][]byte{encodePtr(pos), encodePtr(vel)}
	for iter := 0; iter < 2; iter++ {
		if res := rt.WrapLaunchKernel(ctx, speedFn, grid, block, 0, rawArgs); res.Failed() {
			t.Fatalf("WrapLaunchKernel(updateSpeed) iteration %d: %v", iter, res.Err())
		}
		if res := rt.WrapLaunchKernel(ctx, posFn, grid, block, 0, rawArgs); res.Failed() {
			t.Fatalf("WrapLaunchKernel(updatePositions) iteration %d: %v", iter, res.Err())
		}
	}

	out := hostInts(n)
	if res := rt.WrapMemcpyDtoH(out, pos); res.Failed() {
		t.Fatalf("WrapMemcpyDtoH(pos): %v", res.Err())
	}
	got := decodeInts(out)

	// Sequential reference: pos[x] += vel[x], vel[x] = sum(pos) + x.
	refPos := make([]int32, n)
	refVel := make([]int32, n)
	copy(refPos, init)
	for iter := 0; iter < 2; iter++ {
		var sum int32
		for _, p := range refPos {
			sum += p
		}
		for x := range refVel {
			refVel[x] = sum + int32(x)
		}
		for x := range refPos {
			refPos[x] += refVel[x]
		}
	}
	for i := range refPos {
		if got[i] != refPos[i] {
			t.Errorf("pos[%d]: got %d, want %d (full: %v, want %v)", i, got[i], refPos[i], got, refPos)
		}
	}
}
