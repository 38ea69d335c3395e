// Package poly implements the minimal set of Presburger-arithmetic
// primitives spec.md §9 requires of "any competent implementation of
// ... union-maps, parameter-intersection, range, coalesce": instantiate
// a symbolic access relation against concrete parameter values, restrict
// it to a partition's rectangular thread-id region, and enumerate the
// resulting output points.
//
// No Go binding for a real Presburger-arithmetic library (ISL or
// similar) exists anywhere in the example corpus or, to this
// implementation's knowledge, the wider Go ecosystem — see DESIGN.md.
// This package is therefore a from-scratch engine, scoped tightly to
// what spec §4.2/§4.8 actually need: relations whose input space is the
// kernel's 3-D thread-id grid and whose constraints and output
// coordinates are affine in the thread id, an explicit parameter
// vector, and (for domain constraints) one another. Given that thread
// space is always a finite rectangular region once a partition is
// fixed, "instantiate + intersect + range" is implemented by direct
// enumeration over that region rather than symbolic manipulation — the
// same brute-force approach the original runtime's own test/debug path
// (AccFunc::getAcc, in original_source/runtime/src/access_function.cc)
// uses via isl_set_foreach_point. "Coalesce" (merging adjacent output
// points into intervals) is implemented by the argaccess package, which
// is the sole consumer of this package's enumeration.
package poly

import (
	"fmt"
	"strings"

	"github.com/mekong-rt/runtime/internal/expr"
)

// Point is one output coordinate produced by a union map. Its length
// equals the map's OutDims (1 for a 1-D array, 2 for a 2-D array).
type Point []int64

// Constraint restricts a single input-space identifier (e.g. "x", "y",
// "z") relative to a bound expression that may reference parameters and
// other input identifiers, e.g. "x >= 1" or "x < size_x - 1".
type Constraint struct {
	Var   string
	Op    string // one of "==", "!=", ">=", "<=", ">", "<"
	Bound *expr.Expr
}

// Holds reports whether the constraint is satisfied under lookup.
func (c *Constraint) Holds(lookup expr.Lookup) (bool, error) {
	lhs, err := lookup(c.Var)
	if err != nil {
		return false, fmt.Errorf("poly: constraint %s: %w", c, err)
	}
	rhs, err := c.Bound.Eval(lookup)
	if err != nil {
		return false, fmt.Errorf("poly: constraint %s: %w", c, err)
	}
	switch c.Op {
	case "==":
		return lhs == rhs, nil
	case "!=":
		return lhs != rhs, nil
	case ">=":
		return lhs >= rhs, nil
	case "<=":
		return lhs <= rhs, nil
	case ">":
		return lhs > rhs, nil
	case "<":
		return lhs < rhs, nil
	default:
		return false, fmt.Errorf("poly: unknown operator %q", c.Op)
	}
}

func (c *Constraint) String() string {
	return fmt.Sprintf("%s %s %s", c.Var, c.Op, c.Bound.String())
}

// Disjunct is one basic map in a union: a domain (conjunction of
// constraints, all must hold) and an output expression per output
// dimension.
type Disjunct struct {
	Domain []*Constraint
	Out    []*expr.Expr
	// Free lists the disjunct's existentially bound variables, in first
	// occurrence order: constraint variables other than the input axes,
	// such as the i of "{ [x] -> [i] : i >= 0 and i < p0 }" (a thread
	// reading the whole array). Evaluation enumerates each over the
	// bounds its constraints establish.
	Free []string
}

// Applies reports whether point (given as a full lookup covering input
// dims and parameters) lies in this disjunct's domain.
func (d *Disjunct) Applies(lookup expr.Lookup) (bool, error) {
	for _, c := range d.Domain {
		ok, err := c.Holds(lookup)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Eval evaluates the disjunct's output expression under lookup.
func (d *Disjunct) Eval(lookup expr.Lookup) (Point, error) {
	pt := make(Point, len(d.Out))
	for i, e := range d.Out {
		v, err := e.Eval(lookup)
		if err != nil {
			return nil, err
		}
		pt[i] = v
	}
	return pt, nil
}

// UnionMap is a symbolic access relation: a union of basic maps, each
// with its own domain.
type UnionMap struct {
	OutDims   int
	Disjuncts []Disjunct
}

// Empty reports whether the map has no disjuncts (the relation text was
// "None"/empty, i.e. the argument is not accessed in this direction).
func (m *UnionMap) Empty() bool { return m == nil || len(m.Disjuncts) == 0 }

// EvalThread returns every output point produced by any disjunct whose
// domain holds at the given thread coordinates, under the parameter
// values supplied by paramLookup.
func (m *UnionMap) EvalThread(x, y, z int64, paramLookup expr.Lookup) ([]Point, error) {
	if m.Empty() {
		return nil, nil
	}
	lookup := func(ident string) (int64, error) {
		switch ident {
		case "x":
			return x, nil
		case "y":
			return y, nil
		case "z":
			return z, nil
		}
		return paramLookup(ident)
	}
	var pts []Point
	for i := range m.Disjuncts {
		d := &m.Disjuncts[i]
		got, err := d.enumerate(lookup)
		if err != nil {
			return nil, err
		}
		pts = append(pts, got...)
	}
	return pts, nil
}

// enumerate produces every output point the disjunct yields under
// lookup: a single point when the domain has no free variables, or one
// per admissible assignment of the free variables otherwise.
func (d *Disjunct) enumerate(lookup expr.Lookup) ([]Point, error) {
	if len(d.Free) == 0 {
		ok, err := d.Applies(lookup)
		if err != nil || !ok {
			return nil, err
		}
		pt, err := d.Eval(lookup)
		if err != nil {
			return nil, err
		}
		return []Point{pt}, nil
	}
	return d.enumerateFree(lookup, 0, make(map[string]int64, len(d.Free)))
}

func (d *Disjunct) enumerateFree(base expr.Lookup, idx int, fixed map[string]int64) ([]Point, error) {
	lookup := func(ident string) (int64, error) {
		if v, ok := fixed[ident]; ok {
			return v, nil
		}
		return base(ident)
	}
	if idx == len(d.Free) {
		ok, err := d.Applies(lookup)
		if err != nil || !ok {
			return nil, err
		}
		pt, err := d.Eval(lookup)
		if err != nil {
			return nil, err
		}
		return []Point{pt}, nil
	}

	v := d.Free[idx]
	lo, hi, err := d.bounds(v, lookup)
	if err != nil {
		return nil, err
	}
	var pts []Point
	for val := lo; val <= hi; val++ {
		fixed[v] = val
		got, err := d.enumerateFree(base, idx+1, fixed)
		if err != nil {
			return nil, err
		}
		pts = append(pts, got...)
	}
	delete(fixed, v)
	return pts, nil
}

// bounds derives the inclusive enumeration range of free variable v
// from the disjunct's constraints on it. Both a lower and an upper
// bound must be present, or the range would be infinite.
func (d *Disjunct) bounds(v string, lookup expr.Lookup) (lo, hi int64, err error) {
	var hasLo, hasHi bool
	for _, c := range d.Domain {
		if c.Var != v {
			continue
		}
		b, err := c.Bound.Eval(lookup)
		if err != nil {
			return 0, 0, fmt.Errorf("poly: bound of %q: %w", v, err)
		}
		switch c.Op {
		case ">=":
			if !hasLo || b > lo {
				lo, hasLo = b, true
			}
		case ">":
			if !hasLo || b+1 > lo {
				lo, hasLo = b+1, true
			}
		case "<=":
			if !hasHi || b < hi {
				hi, hasHi = b, true
			}
		case "<":
			if !hasHi || b-1 < hi {
				hi, hasHi = b-1, true
			}
		case "==":
			if !hasLo || b > lo {
				lo, hasLo = b, true
			}
			if !hasHi || b < hi {
				hi, hasHi = b, true
			}
		}
	}
	if !hasLo || !hasHi {
		return 0, 0, fmt.Errorf("poly: free variable %q is not bounded on both sides", v)
	}
	return lo, hi, nil
}

// ParseUnionMap parses the small map-text grammar this package accepts:
//
//	{ [x] -> [x] }
//	{ [x] -> [x-1] : x > 0; [x] -> [x] }
//	{ [x,y] -> [y, p0*x] : x >= 0 and x < p0 }
//
// Disjuncts are separated by ';'. Each disjunct is "[ins] -> [outs]"
// optionally followed by ": constraints", constraints joined by "and".
// Input names are conventionally x, y, z (a prefix of the kernel's
// thread-id axes); output expressions may reference the input names and
// any parameter identifiers used elsewhere by the access function
// (typically "p0", "p1", ...). A constraint variable that is not an
// input axis introduces an existentially bound output variable,
// e.g. "{ [x] -> [i] : i >= 0 and i < p0 }" (every thread reads the
// whole array); such a variable must be bounded below and above by its
// constraints. An input string of "None", "" or "null" denotes an
// empty relation (the argument is not accessed in that direction),
// matching spec §6's analysis-database convention.
func ParseUnionMap(text string) (*UnionMap, error) {
	t := strings.TrimSpace(text)
	if t == "" || t == "None" || t == "null" {
		return &UnionMap{}, nil
	}
	t = strings.TrimPrefix(t, "{")
	t = strings.TrimSuffix(t, "}")
	t = strings.TrimSpace(t)
	if t == "" {
		return &UnionMap{}, nil
	}

	var disjuncts []Disjunct
	outDims := -1
	for _, part := range splitTop(t, ';') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, n, err := parseDisjunct(part)
		if err != nil {
			return nil, fmt.Errorf("poly: parse %q: %w", text, err)
		}
		if outDims == -1 {
			outDims = n
		} else if outDims != n {
			return nil, fmt.Errorf("poly: parse %q: inconsistent output dimensionality", text)
		}
		disjuncts = append(disjuncts, d)
	}
	if outDims > 2 {
		return nil, fmt.Errorf("poly: parse %q: arrays with more than 2 dimensions are not supported", text)
	}
	return &UnionMap{OutDims: outDims, Disjuncts: disjuncts}, nil
}

func parseDisjunct(s string) (Disjunct, int, error) {
	arrow := strings.Index(s, "->")
	if arrow < 0 {
		return Disjunct{}, 0, fmt.Errorf("missing '->' in %q", s)
	}
	lhs := strings.TrimSpace(s[:arrow])
	rest := strings.TrimSpace(s[arrow+2:])

	// lhs is "[i,j,k]"; its names are not consulted: evaluation binds
	// only the identifiers x, y, z to the thread coordinates (see
	// EvalThread), so only the count matters for validation.
	ins, err := parseBracketList(lhs)
	if err != nil {
		return Disjunct{}, 0, err
	}
	if len(ins) == 0 || len(ins) > 3 {
		return Disjunct{}, 0, fmt.Errorf("input space %q must have 1-3 dims", lhs)
	}

	var outsText, domainText string
	if colon := strings.Index(rest, ":"); colon >= 0 {
		outsText = strings.TrimSpace(rest[:colon])
		domainText = strings.TrimSpace(rest[colon+1:])
	} else {
		outsText = rest
	}
	outs, err := parseBracketList(outsText)
	if err != nil {
		return Disjunct{}, 0, err
	}
	if len(outs) == 0 || len(outs) > 2 {
		return Disjunct{}, 0, fmt.Errorf("output space %q must have 1-2 dims", outsText)
	}

	outExprs := make([]*expr.Expr, len(outs))
	for i, o := range outs {
		e, err := expr.Parse(o)
		if err != nil {
			return Disjunct{}, 0, err
		}
		outExprs[i] = e
	}

	var constraints []*Constraint
	if domainText != "" {
		for _, cs := range strings.Split(domainText, " and ") {
			cs = strings.TrimSpace(cs)
			if cs == "" {
				continue
			}
			c, err := parseConstraint(cs)
			if err != nil {
				return Disjunct{}, 0, err
			}
			constraints = append(constraints, c)
		}
	}

	// Constraint variables beyond the input axes are existentially
	// bound output variables, enumerated at evaluation time.
	var free []string
	seen := map[string]bool{"x": true, "y": true, "z": true}
	for _, c := range constraints {
		if !seen[c.Var] {
			seen[c.Var] = true
			free = append(free, c.Var)
		}
	}

	return Disjunct{Domain: constraints, Out: outExprs, Free: free}, len(outs), nil
}

func parseBracketList(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("expected bracketed list, got %q", s)
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return nil, nil
	}
	var out []string
	for _, p := range splitTop(inner, ',') {
		out = append(out, strings.TrimSpace(p))
	}
	return out, nil
}

// splitTop splits s on sep, ignoring occurrences nested inside brackets.
func splitTop(s string, sep byte) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[', '(':
			depth++
		case ']', ')':
			depth--
		default:
			if s[i] == sep && depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

var constraintOps = []string{">=", "<=", "==", "!=", ">", "<"}

func parseConstraint(s string) (*Constraint, error) {
	for _, op := range constraintOps {
		if idx := strings.Index(s, op); idx >= 0 {
			lhs := strings.TrimSpace(s[:idx])
			rhs := strings.TrimSpace(s[idx+len(op):])
			if !expr.IsIdentifier(lhs) {
				return nil, fmt.Errorf("constraint %q: left side must be a bare identifier", s)
			}
			bound, err := expr.Parse(rhs)
			if err != nil {
				return nil, fmt.Errorf("constraint %q: %w", s, err)
			}
			return &Constraint{Var: lhs, Op: op, Bound: bound}, nil
		}
	}
	return nil, fmt.Errorf("constraint %q: no recognised operator", s)
}
