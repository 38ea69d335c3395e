// Package access implements the per-argument polyhedral access function
// described in spec.md §4.2: a pair of symbolic union-map relations (one
// for reads, one for writes), each with its own ordered list of
// parameter descriptor expressions that must be resolved against a
// concrete launch's arguments and grid/block dimensions before the map
// can be evaluated.
//
// It is grounded on original_source/runtime/src/access_function.h/.cc's
// AccFunc: getReadParam/getWriteParam/getParam corresponds to
// ResolveParams below, and getReadAcc/getWriteAcc's point-enumeration
// fallback corresponds to Eval(Read, ...)/Eval(Write, ...), backed by internal/poly
// instead of ISL.
package access

import (
	"fmt"
	"math"

	"github.com/mekong-rt/runtime/internal/expr"
	"github.com/mekong-rt/runtime/internal/poly"
	"github.com/mekong-rt/runtime/internal/runtimeerr"
	"github.com/mekong-rt/runtime/kernelarg"
)

// Direction selects the read or write relation of an AccessFunction.
type Direction int

const (
	Read Direction = iota
	Write
)

// Function is the access function belonging to one pointer argument of
// one kernel: a read relation and a write relation, each parameterized.
type Function struct {
	ArgNr int

	readParamExprs  []*expr.Expr
	readMap         *poly.UnionMap
	writeParamExprs []*expr.Expr
	writeMap        *poly.UnionMap
}

// New parses the read and write relation texts (in internal/poly's map
// grammar) and their parameter descriptor expressions (in internal/expr's
// grammar) for the argument numbered argNr. Either relation's text may
// be "None" if the argument is not accessed in that direction.
func New(argNr int, readParams []string, readMapText string, writeParams []string, writeMapText string) (*Function, error) {
	f := &Function{ArgNr: argNr}
	var err error

	f.readParamExprs, err = parseParams(readParams)
	if err != nil {
		return nil, runtimeerr.New(runtimeerr.Config, "access.New", "arg %d read params: %v", argNr, err)
	}
	f.readMap, err = poly.ParseUnionMap(readMapText)
	if err != nil {
		return nil, runtimeerr.New(runtimeerr.Config, "access.New", "arg %d read map: %v", argNr, err)
	}

	f.writeParamExprs, err = parseParams(writeParams)
	if err != nil {
		return nil, runtimeerr.New(runtimeerr.Config, "access.New", "arg %d write params: %v", argNr, err)
	}
	f.writeMap, err = poly.ParseUnionMap(writeMapText)
	if err != nil {
		return nil, runtimeerr.New(runtimeerr.Config, "access.New", "arg %d write map: %v", argNr, err)
	}

	return f, nil
}

func parseParams(texts []string) ([]*expr.Expr, error) {
	out := make([]*expr.Expr, len(texts))
	for i, t := range texts {
		e, err := expr.Parse(t)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i, err)
		}
		out[i] = e
	}
	return out, nil
}

// ReadsAt, WritesAt report whether the relation in the given direction
// has any disjuncts at all (spec §4.7's "arg is read"/"arg is modified"
// is a static property of the database; this reports the dynamic
// property that the relation text was non-empty).
func (f *Function) ReadsAt() bool  { return !f.readMap.Empty() }
func (f *Function) WritesAt() bool { return !f.writeMap.Empty() }

// ResolveParams evaluates every parameter descriptor expression in exprs
// (typically Function.Params(dir)) against args and the launch's grid/block extents, per spec.md §4.2:
// identifiers of the form "argK" resolve to argument K's scalar value
// (an error if argument K is not a scalar fundamental argument), and
// "size_x"/"size_y"/"size_z" resolve to grid[axis]*block[axis]. Per
// spec.md §4.2/§7, a resolved value outside the signed 32-bit range the
// polyhedral backend can represent is a fatal Numeric error, not a
// silently truncated or wrapped one.
func ResolveParams(exprs []*expr.Expr, args []kernelarg.KernelArg, grid, block [3]uint32) ([]int64, error) {
	lookup := launchLookup(args, grid, block)
	out := make([]int64, len(exprs))
	for i, e := range exprs {
		v, err := e.Eval(lookup)
		if err != nil {
			return nil, runtimeerr.New(runtimeerr.Config, "access.ResolveParams", "parameter %d: %v", i, err)
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, runtimeerr.New(runtimeerr.Numeric, "access.ResolveParams",
				"parameter %d resolved to %d, outside the 32-bit range the polyhedral backend accepts", i, v)
		}
		out[i] = v
	}
	return out, nil
}

// Params returns the ordered parameter descriptor expressions for dir.
func (f *Function) Params(dir Direction) []*expr.Expr {
	if dir == Read {
		return f.readParamExprs
	}
	return f.writeParamExprs
}

// OutDims returns the output dimensionality (1 or 2, the pointed-to
// array's rank) of the relation in the given direction, or 0 if the
// relation is empty.
func (f *Function) OutDims(dir Direction) int {
	m := f.readMap
	if dir == Write {
		m = f.writeMap
	}
	if m.Empty() {
		return 0
	}
	return m.OutDims
}

// Eval evaluates the relation in the given direction at thread (x,y,z),
// under the already-resolved parameter values (positionally bound to
// "p0", "p1", ... in the relation text).
func (f *Function) Eval(dir Direction, x, y, z int64, resolvedParams []int64) ([]poly.Point, error) {
	m := f.readMap
	if dir == Write {
		m = f.writeMap
	}
	if m.Empty() {
		return nil, nil
	}
	lookup := func(ident string) (int64, error) {
		var idx int
		if n, err := fmt.Sscanf(ident, "p%d", &idx); err != nil || n != 1 {
			return 0, fmt.Errorf("access: unknown identifier %q in relation", ident)
		}
		if idx < 0 || idx >= len(resolvedParams) {
			return 0, fmt.Errorf("access: relation references p%d, only %d parameters resolved", idx, len(resolvedParams))
		}
		return resolvedParams[idx], nil
	}
	return m.EvalThread(x, y, z, lookup)
}

func launchLookup(args []kernelarg.KernelArg, grid, block [3]uint32) expr.Lookup {
	return func(ident string) (int64, error) {
		switch ident {
		case "size_x":
			return int64(grid[0]) * int64(block[0]), nil
		case "size_y":
			return int64(grid[1]) * int64(block[1]), nil
		case "size_z":
			return int64(grid[2]) * int64(block[2]), nil
		}
		var idx int
		if n, err := fmt.Sscanf(ident, "arg%d", &idx); err == nil && n == 1 {
			if idx < 0 || idx >= len(args) {
				return 0, runtimeerr.New(runtimeerr.Config, "access.launchLookup",
					"references arg%d, launch only has %d arguments", idx, len(args))
			}
			a := args[idx]
			if !a.Type.IsScalarFundamental() {
				return 0, runtimeerr.New(runtimeerr.Config, "access.launchLookup",
					"references arg%d, which is not a scalar fundamental argument", idx)
			}
			return a.AsInt64()
		}
		return 0, runtimeerr.New(runtimeerr.Config, "access.launchLookup", "unrecognised identifier %q", ident)
	}
}
