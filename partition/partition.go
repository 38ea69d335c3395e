// Package partition builds the per-device grid/offset rectangles a
// kernel launch is split into, per spec.md §4.4. It is grounded on the
// shape of original_source/runtime/src/partition.h/.cc's Partition and
// createPartitions, but implements spec.md §4.4's own 1-axis and 2-axes
// splitting rule rather than the original's device-distribution
// algorithm, which differs from the spec in several details; spec.md is
// treated as authoritative wherever it speaks explicitly.
package partition

import (
	"fmt"

	"github.com/mekong-rt/runtime/internal/runtimeerr"
	"github.com/mekong-rt/runtime/partitioning"
)

// Partition is one device's share of a kernel launch's thread grid.
type Partition struct {
	Device int
	// Grid is this partition's own grid dimensions, in blocks.
	Grid [3]uint32
	// Offset is this partition's position within the original grid,
	// expressed in thread units (blocks × block size along each axis).
	Offset [3]uint32
}

// Build splits (grid, block) across deviceCount devices along the axes
// named by p, returning exactly deviceCount partitions ordered by
// ascending Device.
func Build(grid, block [3]uint32, deviceCount int, p partitioning.Partitioning) ([]Partition, error) {
	if deviceCount <= 0 {
		return nil, runtimeerr.New(runtimeerr.Invariant, "partition.Build", "device count must be positive")
	}

	var axes []int
	for axis := 0; axis < 3; axis++ {
		if p.IsSplitAt(axis) {
			axes = append(axes, axis)
		}
	}

	switch len(axes) {
	case 0:
		// No split axis: the whole grid runs on a single device. This
		// is a degenerate configuration (deviceCount must be 1) rather
		// than one spec.md §4.4 describes explicitly.
		if deviceCount != 1 {
			return nil, runtimeerr.New(runtimeerr.Config, "partition.Build",
				"partitioning has no split axis but device count is %d", deviceCount)
		}
		return []Partition{{Device: 0, Grid: grid}}, nil
	case 1:
		return build1D(grid, block, deviceCount, axes[0])
	case 2:
		return build2D(grid, block, deviceCount, axes[0], axes[1])
	default:
		return nil, runtimeerr.New(runtimeerr.Invariant, "partition.Build", "splitting more than two axes is unsupported")
	}
}

// rowSplit distributes n rows across k devices, base rows each, with
// the remainder going to the lowest-indexed devices, per spec.md §4.4's
// 1-axis rule.
func rowSplit(n uint32, k int) (rows []uint32, offsets []uint32) {
	base := n / uint32(k)
	rem := n % uint32(k)
	rows = make([]uint32, k)
	offsets = make([]uint32, k)
	var off uint32
	for i := 0; i < k; i++ {
		r := base
		if uint32(i) < rem {
			r++
		}
		rows[i] = r
		offsets[i] = off
		off += r
	}
	return rows, offsets
}

func build1D(grid, block [3]uint32, deviceCount int, axis int) ([]Partition, error) {
	ga := grid[axis]
	if ga < uint32(deviceCount) {
		return nil, runtimeerr.New(runtimeerr.Config, "partition.build1D",
			"grid extent %d along axis %d is smaller than device count %d", ga, axis, deviceCount)
	}
	rows, offsets := rowSplit(ga, deviceCount)

	out := make([]Partition, deviceCount)
	for i := 0; i < deviceCount; i++ {
		g := grid
		g[axis] = rows[i]
		var o [3]uint32
		o[axis] = offsets[i] * block[axis]
		out[i] = Partition{Device: i, Grid: g, Offset: o}
	}
	return out, nil
}

func build2D(grid, block [3]uint32, deviceCount int, a, b int) ([]Partition, error) {
	axisSmall, axisLarge := a, b
	if grid[axisSmall] > grid[axisLarge] {
		axisSmall, axisLarge = axisLarge, axisSmall
	}
	s, l := grid[axisSmall], grid[axisLarge]
	if s < 2 {
		return nil, runtimeerr.New(runtimeerr.Config, "partition.build2D",
			"smaller split axis extent %d must be at least 2", s)
	}

	fSmall, fLarge, ok := factorPair(deviceCount, s)
	if !ok {
		return nil, runtimeerr.New(runtimeerr.Config, "partition.build2D",
			"no factorisation of device count %d fits grid extents %d x %d", deviceCount, s, l)
	}

	if s < uint32(fSmall) {
		return nil, runtimeerr.New(runtimeerr.Config, "partition.build2D",
			"grid extent %d cannot be split into %d stripes", s, fSmall)
	}
	smallRows, smallOffs := rowSplit(s, fSmall)
	largeRows, largeOffs := rowSplit(l, fLarge)

	out := make([]Partition, 0, deviceCount)
	for si := 0; si < fSmall; si++ {
		for li := 0; li < fLarge; li++ {
			dev := si*fLarge + li
			g := grid
			g[axisSmall] = smallRows[si]
			g[axisLarge] = largeRows[li]
			var o [3]uint32
			o[axisSmall] = smallOffs[si] * block[axisSmall]
			o[axisLarge] = largeOffs[li] * block[axisLarge]
			out = append(out, Partition{Device: dev, Grid: g, Offset: o})
		}
	}
	return out, nil
}

// factorPair finds (fSmall, fLarge) with fSmall*fLarge == d, fSmall <=
// fLarge, fSmall <= limit, maximising fSmall.
func factorPair(d int, limit uint32) (fSmall, fLarge int, ok bool) {
	max := d
	if uint32(max) > limit {
		max = int(limit)
	}
	for f := max; f >= 1; f-- {
		if d%f != 0 {
			continue
		}
		other := d / f
		if f <= other {
			return f, other, true
		}
	}
	return 0, 0, false
}

func (p Partition) String() string {
	return fmt.Sprintf("device=%d grid=%v offset=%v", p.Device, p.Grid, p.Offset)
}
