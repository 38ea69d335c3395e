package memcopy

import (
	"bytes"
	"testing"

	"github.com/mekong-rt/runtime/driver"
	"github.com/mekong-rt/runtime/driver/memdrv"
)

func setupDevices(t *testing.T, n int) (*memdrv.Backend, []driver.Context, []driver.DevPtr) {
	t.Helper()
	b := memdrv.NewBackend(n)
	ctxs := make([]driver.Context, n)
	ptrs := make([]driver.DevPtr, n)
	for i := 0; i < n; i++ {
		dev, err := b.DeviceGet(i)
		if err != nil {
			t.Fatalf("DeviceGet(%d): %v", i, err)
		}
		ctx, err := b.CtxCreate(dev)
		if err != nil {
			t.Fatalf("CtxCreate(%d): %v", i, err)
		}
		ptr, err := b.MemAlloc(ctx, 16)
		if err != nil {
			t.Fatalf("MemAlloc(%d): %v", i, err)
		}
		ctxs[i] = ctx
		ptrs[i] = ptr
	}
	return b, ctxs, ptrs
}

func TestSubCopyValidate(t *testing.T) {
	cases := []struct {
		name string
		kind Kind
		sub  SubCopy
		ok   bool
	}{
		{"htod ok", HtoD, SubCopy{SrcDevice: -1, DstDevice: 0}, true},
		{"htod bad src", HtoD, SubCopy{SrcDevice: 0, DstDevice: 0}, false},
		{"dtoh ok", DtoH, SubCopy{SrcDevice: 0, DstDevice: -1}, true},
		{"dtoh bad dst", DtoH, SubCopy{SrcDevice: 0, DstDevice: 0}, false},
		{"dtod ok", DtoD, SubCopy{SrcDevice: 0, DstDevice: 1}, true},
		{"dtod same device", DtoD, SubCopy{SrcDevice: 0, DstDevice: 0}, false},
		{"dtod negative", DtoD, SubCopy{SrcDevice: -1, DstDevice: 0}, false},
	}
	for _, c := range cases {
		_, err := New(c.kind, []SubCopy{c.sub}, false)
		if c.ok && err != nil {
			t.Errorf("%s: memcopy.New: unexpected error %v", c.name, err)
		}
		if !c.ok && err == nil {
			t.Errorf("%s: memcopy.New: want error, got nil", c.name)
		}
	}
}

func TestBroadcastHtoDAndDtoD(t *testing.T) {
	b, ctxs, ptrs := setupDevices(t, 3)
	targets := make([]DeviceTarget, 3)
	for i := range targets {
		targets[i] = DeviceTarget{Device: i, Ctx: ctxs[i], Ptr: ptrs[i]}
	}

	src := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	plan, err := CreateBroadcastHtoD(targets, src)
	if err != nil {
		t.Fatalf("memcopy.CreateBroadcastHtoD: %v", err)
	}
	if err := plan.Exec(b); err != nil {
		t.Fatalf("memcopy.Plan.Exec(HtoD broadcast): %v", err)
	}

	for i, ctx := range ctxs {
		got := make([]byte, 16)
		if err := b.MemcpyDtoH(ctx, got, ptrs[i], 0, 16); err != nil {
			t.Fatalf("MemcpyDtoH(%d): %v", i, err)
		}
		if !bytes.Equal(got, src) {
			t.Errorf("device %d: got %v, want %v", i, got, src)
		}
	}

	// Overwrite device 0's buffer, then broadcast it out via DtoD.
	updated := []byte{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9}
	if err := b.MemcpyHtoD(ctxs[0], ptrs[0], 0, updated); err != nil {
		t.Fatalf("MemcpyHtoD: %v", err)
	}
	dplan, err := CreateBroadcastDtoD(targets, 0, 16)
	if err != nil {
		t.Fatalf("memcopy.CreateBroadcastDtoD: %v", err)
	}
	if err := dplan.Exec(b); err != nil {
		t.Fatalf("memcopy.Plan.Exec(DtoD broadcast): %v", err)
	}
	for i, ctx := range ctxs {
		got := make([]byte, 16)
		if err := b.MemcpyDtoH(ctx, got, ptrs[i], 0, 16); err != nil {
			t.Fatalf("MemcpyDtoH(%d): %v", i, err)
		}
		if !bytes.Equal(got, updated) {
			t.Errorf("device %d after DtoD broadcast: got %v, want %v", i, got, updated)
		}
	}
}

func TestCreateBroadcastDtoDUnknownMaster(t *testing.T) {
	_, _, ptrs := setupDevices(t, 2)
	targets := []DeviceTarget{{Device: 0, Ptr: ptrs[0]}, {Device: 1, Ptr: ptrs[1]}}
	if _, err := CreateBroadcastDtoD(targets, 5, 16); err == nil {
		t.Errorf("memcopy.CreateBroadcastDtoD: want error for unknown master device, got nil")
	}
}
