package kernelarg

import (
	"encoding/binary"
	"testing"

	"github.com/mekong-rt/runtime/argtype"
)

func int32Arg(v int32) KernelArg {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return KernelArg{Type: argtype.Type{Fund: argtype.Int}, Raw: b}
}

func ptrArg(patterns ...string) KernelArg {
	return KernelArg{Type: argtype.Type{Fund: argtype.Int, PtrLevel: 1, DimSizePatterns: patterns}, Raw: make([]byte, 8)}
}

func TestResolveDimSizesArgReference(t *testing.T) {
	args := []KernelArg{ptrArg("arg1"), int32Arg(16)}
	got, err := ResolveDimSizes(args, [3]uint32{1, 1, 1}, [3]uint32{1, 1, 1})
	if err != nil {
		t.Fatalf("ResolveDimSizes: %v", err)
	}
	if len(got[0]) != 1 || got[0][0] != 16 {
		t.Errorf("arg 0 dim sizes: got %v, want [16]", got[0])
	}
	if got[1] != nil {
		t.Errorf("scalar argument should have no dim sizes, got %v", got[1])
	}
}

func TestResolveDimSizesGridSizePattern(t *testing.T) {
	args := []KernelArg{ptrArg("size_x", "size_y")}
	got, err := ResolveDimSizes(args, [3]uint32{4, 2, 1}, [3]uint32{8, 3, 1})
	if err != nil {
		t.Fatalf("ResolveDimSizes: %v", err)
	}
	want := []int64{32, 6}
	if len(got[0]) != 2 || got[0][0] != want[0] || got[0][1] != want[1] {
		t.Errorf("got %v, want %v", got[0], want)
	}
}

func TestResolveDimSizesRejectsPointerReference(t *testing.T) {
	args := []KernelArg{ptrArg("arg1"), ptrArg()}
	if _, err := ResolveDimSizes(args, [3]uint32{1, 1, 1}, [3]uint32{1, 1, 1}); err == nil {
		t.Fatal("expected an error referencing a pointer argument from a dimension-size pattern")
	}
}

func TestResolveDimSizesUnknownIdentifier(t *testing.T) {
	args := []KernelArg{ptrArg("bogus")}
	if _, err := ResolveDimSizes(args, [3]uint32{1, 1, 1}, [3]uint32{1, 1, 1}); err == nil {
		t.Fatal("expected an error for an unrecognised identifier")
	}
}

func TestKernelArgAsInt64RejectsPointer(t *testing.T) {
	if _, err := ptrArg().AsInt64(); err == nil {
		t.Fatal("expected AsInt64 to reject a pointer argument")
	}
}
