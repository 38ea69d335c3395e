// Package kernelarg holds one concrete kernel-launch argument: its
// static argtype.Type paired with the raw byte value the caller passed
// and, for array arguments, the dimension sizes resolved from other
// arguments at launch time. It is grounded on
// original_source/runtime/src/argument.cc's KernelArg::createArgs and
// parseArrayDimSizes, reworked from raw-byte-pack capture plus a
// separate post-pass into a single typed value carrier plus a resolver
// function, in keeping with this runtime's preference for small
// immutable values over the original's shared_ptr graph.
package kernelarg

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mekong-rt/runtime/argtype"
	"github.com/mekong-rt/runtime/internal/expr"
	"github.com/mekong-rt/runtime/internal/runtimeerr"
)

// KernelArg is one argument of one kernel launch.
type KernelArg struct {
	Type argtype.Type
	// Raw is the little-endian byte pack of the argument's own value:
	// the scalar's bit pattern, or a device pointer's 8-byte address.
	Raw []byte
	// DimSizes holds one resolved size per argtype.Type's
	// DimSizePatterns, in the same order — the non-leading array
	// dimensions only. Populated by ResolveDimSizes.
	DimSizes []int64
}

// AsInt64 decodes a scalar argument's value as an int64, truncating a
// float or double toward zero. It fails for a pointer argument.
func (a KernelArg) AsInt64() (int64, error) {
	if a.Type.IsPointer() {
		return 0, runtimeerr.New(runtimeerr.Invariant, "kernelarg.AsInt64",
			"argument is a pointer, not a scalar fundamental value")
	}
	switch a.Type.Fund {
	case argtype.Int:
		return int64(int32(binary.LittleEndian.Uint32(a.Raw))), nil
	case argtype.Float:
		return int64(math.Float32frombits(binary.LittleEndian.Uint32(a.Raw))), nil
	case argtype.Double:
		return int64(math.Float64frombits(binary.LittleEndian.Uint64(a.Raw))), nil
	default:
		return 0, runtimeerr.New(runtimeerr.Invariant, "kernelarg.AsInt64", "unknown fundamental type")
	}
}

// ResolveDimSizes evaluates every argument's dimension-size patterns
// against the values of the other arguments in the same launch (a
// pattern such as "arg2" or "arg2*arg3" may reference any scalar
// argument by position) and against the launch's grid/block extents
// ("size_x", "size_y", "size_z", per spec.md §3's dim-size pattern
// grammar), returning the per-argument DimSizes slices in argument
// order and leaving args itself untouched.
//
// Only scalar fundamental arguments may be referenced from a pattern;
// referencing a pointer argument is an error, matching spec.md §4.2's
// resolve_param restriction, which this runtime applies uniformly to
// parameter expressions and dimension-size patterns alike.
func ResolveDimSizes(args []KernelArg, grid, block [3]uint32) ([][]int64, error) {
	lookup := func(ident string) (int64, error) {
		switch ident {
		case "size_x":
			return int64(grid[0]) * int64(block[0]), nil
		case "size_y":
			return int64(grid[1]) * int64(block[1]), nil
		case "size_z":
			return int64(grid[2]) * int64(block[2]), nil
		}
		var idx int
		if _, err := fmt.Sscanf(ident, "arg%d", &idx); err != nil {
			return 0, runtimeerr.New(runtimeerr.Config, "kernelarg.ResolveDimSizes",
				"unrecognised identifier %q in dimension-size pattern", ident)
		}
		if idx < 0 || idx >= len(args) {
			return 0, runtimeerr.New(runtimeerr.Config, "kernelarg.ResolveDimSizes",
				"pattern references arg%d, launch only has %d arguments", idx, len(args))
		}
		ref := args[idx]
		if !ref.Type.IsScalarFundamental() {
			return 0, runtimeerr.New(runtimeerr.Config, "kernelarg.ResolveDimSizes",
				"pattern references arg%d, which is not a scalar fundamental argument", idx)
		}
		return ref.AsInt64()
	}

	out := make([][]int64, len(args))
	for i, a := range args {
		if len(a.Type.DimSizePatterns) == 0 {
			continue
		}
		sizes := make([]int64, len(a.Type.DimSizePatterns))
		for d, pat := range a.Type.DimSizePatterns {
			e, err := expr.Parse(pat)
			if err != nil {
				return nil, runtimeerr.New(runtimeerr.Config, "kernelarg.ResolveDimSizes",
					"argument %d, dimension %d: %v", i, d, err)
			}
			v, err := e.Eval(lookup)
			if err != nil {
				return nil, runtimeerr.New(runtimeerr.Config, "kernelarg.ResolveDimSizes",
					"argument %d, dimension %d: %v", i, d, err)
			}
			sizes[d] = v
		}
		out[i] = sizes
	}
	return out, nil
}
