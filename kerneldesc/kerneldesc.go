// Package kerneldesc holds the static, immutable description of one
// kernel, built once from the analysis database (spec.md §4.3, §6):
// its name, its argument types, its partitioning, and the per-argument
// access functions used to resolve inter-kernel dependencies.
package kerneldesc

import (
	"github.com/mekong-rt/runtime/access"
	"github.com/mekong-rt/runtime/argtype"
	"github.com/mekong-rt/runtime/internal/runtimeerr"
	"github.com/mekong-rt/runtime/partitioning"
)

// Descriptor is one kernel's static description.
type Descriptor struct {
	Name         string
	ArgTypes     []argtype.Type
	Partitioning partitioning.Partitioning
	// AccessFuncs holds one entry per argument, nil for a non-pointer
	// argument.
	AccessFuncs []*access.Function
}

// New validates and assembles a Descriptor. It fails if the argument
// count and access-function count disagree, or if a pointer argument is
// missing its access function.
func New(name string, argTypes []argtype.Type, p partitioning.Partitioning, accessFuncs []*access.Function) (*Descriptor, error) {
	if len(argTypes) != len(accessFuncs) {
		return nil, runtimeerr.New(runtimeerr.Config, "kerneldesc.New",
			"kernel %q: %d argument types but %d access functions", name, len(argTypes), len(accessFuncs))
	}
	for i, t := range argTypes {
		if t.IsPointer() && accessFuncs[i] == nil {
			return nil, runtimeerr.New(runtimeerr.Config, "kerneldesc.New",
				"kernel %q: argument %d is a pointer but has no access function", name, i)
		}
	}
	return &Descriptor{Name: name, ArgTypes: argTypes, Partitioning: p, AccessFuncs: accessFuncs}, nil
}

// NumArgs returns the kernel's argument count.
func (d *Descriptor) NumArgs() int { return len(d.ArgTypes) }

// Arg returns the type of argument i.
func (d *Descriptor) Arg(i int) argtype.Type { return d.ArgTypes[i] }

// Access returns the access function of argument i, or nil if it is not
// a pointer argument.
func (d *Descriptor) Access(i int) *access.Function { return d.AccessFuncs[i] }
