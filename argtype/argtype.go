// Package argtype describes the static type of one kernel argument, as
// recorded in the kernel analysis database (spec.md §3, §6). It mirrors
// original_source/runtime/src/argument_type.h's bsp_ArgType, trimmed to
// the fields the runtime actually consults.
package argtype

import "fmt"

// Fund is a scalar argument's fundamental numeric type.
type Fund int

const (
	Int Fund = iota
	Float
	Double
	// None is the analysis database's "None" fundamental type (spec.md
	// §3/§6): a pointer argument whose pointee has no scalar numeric
	// interpretation the runtime needs (it still carries an explicit
	// "element size" field in the database for byte-length purposes).
	// It never occurs on a scalar argument in practice, since nothing
	// could resolve such an argument's value.
	None
)

func (f Fund) String() string {
	switch f {
	case Int:
		return "int"
	case Float:
		return "float"
	case Double:
		return "double"
	case None:
		return "none"
	default:
		return "unknown"
	}
}

// elemSize returns the in-memory size, in bytes, of one scalar value of
// this fundamental type. It is the fallback used when the analysis
// database leaves the explicit "element size" field at zero.
func (f Fund) elemSize() int {
	switch f {
	case Int, Float:
		return 4
	case Double:
		return 8
	default:
		return 0
	}
}

// PtrSizeBytes is the platform pointer width the analysis database's
// "size" field of 0 on a pointer argument defaults to (spec.md §6).
const PtrSizeBytes = 8

// Type is the static type of one kernel argument.
type Type struct {
	Fund Fund
	// PtrLevel is 0 for a scalar argument, 1 for a pointer to an array
	// of Fund. Levels above 1 do not occur in this runtime's kernels.
	PtrLevel int
	// Read and Modified record whether the kernel body reads from, or
	// writes to, this argument (a pointer argument may be either, both,
	// or — for a scalar used only to size another argument — neither).
	Read     bool
	Modified bool
	// DimSizePatterns holds one dimension-size expression per
	// non-leading array dimension — numDims-1 entries, the leading
	// dimension's extent being implied by the launch grid — each an
	// internal/expr grammar string such as "arg2" or "arg2*arg3"
	// (original_source calls these dimSizePatterns too). Only
	// meaningful when PtrLevel > 0; empty for a scalar or a 1-D array.
	DimSizePatterns []string
	// SizeBytes and ElemSizeBytes hold the analysis database's explicit
	// "size"/"element size" fields (spec.md §3), converted from bits to
	// bytes. Zero means "unset, fall back to the fundamental type's own
	// width" (for SizeBytes on a pointer, the platform pointer width;
	// for ElemSizeBytes, Fund.elemSize()) — this lets a database that
	// only ever uses i/f/d omit both fields, while still letting an
	// explicit value (e.g. for a Fund == None pointee) take precedence.
	SizeBytes     int
	ElemSizeBytes int
}

// IsPointer reports whether the argument is a device pointer.
func (t Type) IsPointer() bool { return t.PtrLevel > 0 }

// IsScalarFundamental reports whether the argument is a bare scalar of
// a fundamental numeric type — the condition spec.md §4.2's
// resolve_param requires of any argument referenced by a parameter
// expression.
func (t Type) IsScalarFundamental() bool { return t.PtrLevel == 0 && t.Fund != None }

// ElemSize returns the size, in bytes, of one element of the argument's
// fundamental type (the pointee's element size for a pointer argument,
// or the scalar's own size otherwise), preferring the database's
// explicit "element size" field when it supplied one.
func (t Type) ElemSize() int {
	if t.ElemSizeBytes != 0 {
		return t.ElemSizeBytes
	}
	return t.Fund.elemSize()
}

// ValueWidth returns the width, in bytes, of the argument's own value as
// passed to a kernel launch: the platform pointer width for a pointer
// (unless the database named an explicit, non-default size), or the
// fundamental type's size for a scalar.
func (t Type) ValueWidth() int {
	if t.SizeBytes != 0 {
		return t.SizeBytes
	}
	if t.IsPointer() {
		return PtrSizeBytes
	}
	return t.Fund.elemSize()
}

// NumDims returns the number of dimension-size patterns, one per
// non-leading array dimension: zero for a scalar or a 1-D array whose
// extent is implied by the launch grid alone, n-1 for an n-dimensional
// array.
func (t Type) NumDims() int { return len(t.DimSizePatterns) }

func (t Type) String() string {
	ptr := ""
	for i := 0; i < t.PtrLevel; i++ {
		ptr += "*"
	}
	return fmt.Sprintf("%s%s", ptr, t.Fund)
}
