package partition

import (
	"testing"

	"github.com/mekong-rt/runtime/partitioning"
)

func TestBuildNoSplitAxis(t *testing.T) {
	grid := [3]uint32{4, 4, 1}
	parts, err := Build(grid, [3]uint32{8, 8, 1}, 1, partitioning.Partitioning{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(parts) != 1 || parts[0].Grid != grid || parts[0].Offset != ([3]uint32{}) {
		t.Errorf("got %+v", parts)
	}
}

func TestBuildNoSplitAxisRejectsMultipleDevices(t *testing.T) {
	if _, err := Build([3]uint32{4, 1, 1}, [3]uint32{1, 1, 1}, 2, partitioning.Partitioning{}); err == nil {
		t.Fatal("expected an error: no split axis but deviceCount > 1")
	}
}

func TestBuild1DEvenSplit(t *testing.T) {
	parts, err := Build([3]uint32{4, 1, 1}, [3]uint32{8, 1, 1}, 2, partitioning.FromString("x"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d partitions, want 2", len(parts))
	}
	if parts[0].Grid != ([3]uint32{2, 1, 1}) || parts[0].Offset != ([3]uint32{0, 0, 0}) {
		t.Errorf("partition 0: got %+v", parts[0])
	}
	if parts[1].Grid != ([3]uint32{2, 1, 1}) || parts[1].Offset != ([3]uint32{16, 0, 0}) {
		t.Errorf("partition 1: got %+v", parts[1])
	}
}

func TestBuild1DUnevenSplitFavorsLowIndexedDevices(t *testing.T) {
	parts, err := Build([3]uint32{5, 1, 1}, [3]uint32{1, 1, 1}, 2, partitioning.FromString("x"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if parts[0].Grid[0] != 3 || parts[1].Grid[0] != 2 {
		t.Errorf("got grid rows %d, %d, want 3, 2", parts[0].Grid[0], parts[1].Grid[0])
	}
	if parts[1].Offset[0] != 3 {
		t.Errorf("partition 1 offset: got %d, want 3", parts[1].Offset[0])
	}
}

func TestBuild1DRejectsTooFewRows(t *testing.T) {
	if _, err := Build([3]uint32{1, 1, 1}, [3]uint32{1, 1, 1}, 4, partitioning.FromString("x")); err == nil {
		t.Fatal("expected an error: grid extent smaller than device count")
	}
}

func TestBuild2DCoversEveryDevice(t *testing.T) {
	parts, err := Build([3]uint32{4, 2, 1}, [3]uint32{1, 1, 1}, 4, partitioning.FromString("xy"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(parts) != 4 {
		t.Fatalf("got %d partitions, want 4", len(parts))
	}
	seen := make(map[int]bool)
	var totalCells uint32
	for _, p := range parts {
		seen[p.Device] = true
		totalCells += p.Grid[0] * p.Grid[1]
	}
	if len(seen) != 4 {
		t.Errorf("device ordinals are not distinct: %+v", parts)
	}
	if want := uint32(4 * 2); totalCells != want {
		t.Errorf("partitions cover %d grid cells, want %d", totalCells, want)
	}
}

// TestBuild1DThreeDeviceStencilLayout matches spec.md §8 scenario 2: a
// 1-D stencil split across 3 GPUs with grid=(4,4,1), block=(6,6,1).
func TestBuild1DThreeDeviceStencilLayout(t *testing.T) {
	parts, err := Build([3]uint32{4, 4, 1}, [3]uint32{6, 6, 1}, 3, partitioning.FromString("x"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("got %d partitions, want 3", len(parts))
	}
	wantGrid := [3][3]uint32{{2, 4, 1}, {1, 4, 1}, {1, 4, 1}}
	wantOffset := [3][3]uint32{{0, 0, 0}, {12, 0, 0}, {18, 0, 0}}
	for i, p := range parts {
		if p.Grid != wantGrid[i] {
			t.Errorf("partition %d grid: got %+v, want %+v", i, p.Grid, wantGrid[i])
		}
		if p.Offset != wantOffset[i] {
			t.Errorf("partition %d offset: got %+v, want %+v", i, p.Offset, wantOffset[i])
		}
		if p.Device != i {
			t.Errorf("partition %d device: got %d, want %d", i, p.Device, i)
		}
	}
}

func TestBuildRejectsThreeSplitAxes(t *testing.T) {
	if _, err := Build([3]uint32{2, 2, 2}, [3]uint32{1, 1, 1}, 8, partitioning.FromString("xyz")); err == nil {
		t.Fatal("expected an error: splitting three axes is unsupported")
	}
}
