// Package partitioning describes which grid axes a kernel's thread
// space is split along when distributing it across devices. It is
// grounded on original_source/runtime/src/partitioning.h/.cc's
// Partitioning class.
package partitioning

import "strings"

// Partitioning records which of a kernel's up-to-three grid axes are
// split across devices. Per spec.md §4.4, only zero, one, or two axes
// may be split at once.
type Partitioning struct {
	X, Y, Z bool
}

// FromString builds a Partitioning from a string naming its split axes,
// e.g. "x", "xy", "z" (case-insensitive, order-independent), matching
// the analysis database's encoding (spec.md §6).
func FromString(dims string) Partitioning {
	lower := strings.ToLower(dims)
	return Partitioning{
		X: strings.ContainsRune(lower, 'x'),
		Y: strings.ContainsRune(lower, 'y'),
		Z: strings.ContainsRune(lower, 'z'),
	}
}

// IsSplitAt reports whether axis (0=x, 1=y, 2=z) is split.
func (p Partitioning) IsSplitAt(axis int) bool {
	switch axis {
	case 0:
		return p.X
	case 1:
		return p.Y
	case 2:
		return p.Z
	default:
		panic("partitioning: axis out of range")
	}
}

// NumAxes returns how many axes are split.
func (p Partitioning) NumAxes() int {
	n := 0
	if p.X {
		n++
	}
	if p.Y {
		n++
	}
	if p.Z {
		n++
	}
	return n
}

// String returns the axes letters in x, y, z order, e.g. "xy".
func (p Partitioning) String() string {
	var b strings.Builder
	if p.X {
		b.WriteByte('x')
	}
	if p.Y {
		b.WriteByte('y')
	}
	if p.Z {
		b.WriteByte('z')
	}
	return b.String()
}
