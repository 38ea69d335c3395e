// Package memcopy implements the three copy flavours spec.md §4.10/§4.11
// share a common plan structure for: host-to-device, device-to-host,
// and device-to-device, plus the broadcast helpers that replicate a
// host or device buffer across every alias of a virtual buffer.
//
// A virtual buffer is allocated at the same byte size on every device
// it is aliased to (mekong.WrapMemAlloc requests one driver.Backend
// allocation per device, not a partitioned one), so every sub-copy's
// offset addresses the same logical layout regardless of which
// device's physical allocation it lands in; this is what lets a DtoD
// sub-copy use a single element interval for both its source and
// destination offsets.
package memcopy

import (
	"github.com/mekong-rt/runtime/driver"
	"github.com/mekong-rt/runtime/internal/runtimeerr"
)

// Kind identifies a plan's copy direction.
type Kind int

const (
	HtoD Kind = iota
	DtoH
	DtoD
)

func (k Kind) String() string {
	switch k {
	case HtoD:
		return "htod"
	case DtoH:
		return "dtoh"
	case DtoD:
		return "dtod"
	default:
		return "unknown"
	}
}

// SubCopy is one leg of a Plan. SrcDevice/DstDevice are -1 when that
// side is the host, matching spec.md §4.10's invariants:
//   - HtoD: SrcDevice == -1, DstDevice >= 0
//   - DtoH: DstDevice == -1, SrcDevice >= 0
//   - DtoD: both >= 0 and distinct
//
// For an HtoD sub-copy, SrcOffset indexes into Host; for a DtoH
// sub-copy, DstOffset indexes into Host. A plan with several sub-copies
// covering disjoint intervals of the same host buffer (as WrittenData
// builds for a multi-interval write) relies on these offsets rather
// than assuming Host starts at the copy's logical origin.
type SubCopy struct {
	SrcDevice, DstDevice int
	SrcCtx, DstCtx       driver.Context
	SrcPtr, DstPtr       driver.DevPtr
	SrcOffset, DstOffset int
	Size                 int
	// Host holds the host-side buffer for an HtoD (the data to write)
	// or DtoH (the destination to fill) sub-copy; nil for DtoD.
	Host []byte
}

func (s SubCopy) validate(k Kind) error {
	switch k {
	case HtoD:
		if s.SrcDevice != -1 || s.DstDevice < 0 {
			return runtimeerr.New(runtimeerr.Invariant, "memcopy.SubCopy", "HtoD sub-copy must have src=-1, dst>=0")
		}
	case DtoH:
		if s.DstDevice != -1 || s.SrcDevice < 0 {
			return runtimeerr.New(runtimeerr.Invariant, "memcopy.SubCopy", "DtoH sub-copy must have dst=-1, src>=0")
		}
	case DtoD:
		if s.SrcDevice < 0 || s.DstDevice < 0 || s.SrcDevice == s.DstDevice {
			return runtimeerr.New(runtimeerr.Invariant, "memcopy.SubCopy", "DtoD sub-copy must have src,dst>=0 and distinct")
		}
	}
	return nil
}

// Plan is a sequence of sub-copies sharing one direction.
type Plan struct {
	Kind      Kind
	SubCopies []SubCopy
	// Sync requests a terminal context-synchronize on every device the
	// plan touched, after every sub-copy has been issued.
	Sync bool
}

// New validates sub-copies against kind's invariant and builds a Plan.
func New(kind Kind, sub []SubCopy, sync bool) (*Plan, error) {
	for i, s := range sub {
		if err := s.validate(kind); err != nil {
			return nil, runtimeerr.New(runtimeerr.Invariant, "memcopy.New", "sub-copy %d: %v", i, err)
		}
	}
	return &Plan{Kind: kind, SubCopies: sub, Sync: sync}, nil
}

// Exec issues every sub-copy against b, in order, then — if the plan is
// synchronous — context-synchronizes every distinct device context the
// plan touched.
func (p *Plan) Exec(b driver.Backend) error {
	touched := make(map[driver.Context]struct{})
	for _, s := range p.SubCopies {
		var err error
		switch p.Kind {
		case HtoD:
			err = b.MemcpyHtoD(s.DstCtx, s.DstPtr, s.DstOffset, s.Host[s.SrcOffset:s.SrcOffset+s.Size])
			touched[s.DstCtx] = struct{}{}
		case DtoH:
			err = b.MemcpyDtoH(s.SrcCtx, s.Host[s.DstOffset:s.DstOffset+s.Size], s.SrcPtr, s.SrcOffset, s.Size)
			touched[s.SrcCtx] = struct{}{}
		case DtoD:
			err = b.MemcpyDtoD(s.DstCtx, s.DstPtr, s.DstOffset, s.SrcCtx, s.SrcPtr, s.SrcOffset, s.Size)
			touched[s.SrcCtx] = struct{}{}
			touched[s.DstCtx] = struct{}{}
		}
		if err != nil {
			return runtimeerr.New(runtimeerr.Driver, "memcopy.Exec", "%s sub-copy failed: %v", p.Kind, err)
		}
	}
	if p.Sync {
		for ctx := range touched {
			if err := b.CtxSynchronize(ctx); err != nil {
				return runtimeerr.New(runtimeerr.Driver, "memcopy.Exec", "context synchronize failed: %v", err)
			}
		}
	}
	return nil
}

// DeviceTarget names one device's context and pointer for the
// broadcast builders below.
type DeviceTarget struct {
	Device int
	Ctx    driver.Context
	Ptr    driver.DevPtr
}

// CreateBroadcastHtoD builds a plan with one full-buffer HtoD sub-copy
// per target device, per spec.md §4.11. The caller is responsible for
// recording the resulting write on the virtual buffer as a host
// broadcast (vbuffer.Host).
func CreateBroadcastHtoD(targets []DeviceTarget, src []byte) (*Plan, error) {
	sub := make([]SubCopy, len(targets))
	for i, t := range targets {
		sub[i] = SubCopy{
			SrcDevice: -1,
			DstDevice: t.Device,
			DstCtx:    t.Ctx,
			DstPtr:    t.Ptr,
			Size:      len(src),
			Host:      src,
		}
	}
	return New(HtoD, sub, true)
}

// CreateBroadcastDtoD builds D-1 DtoD sub-copies replicating master's
// full buffer to every other target device, per spec.md §4.11.
func CreateBroadcastDtoD(targets []DeviceTarget, master int, size int) (*Plan, error) {
	var masterTarget DeviceTarget
	found := false
	for _, t := range targets {
		if t.Device == master {
			masterTarget = t
			found = true
			break
		}
	}
	if !found {
		return nil, runtimeerr.New(runtimeerr.Invariant, "memcopy.CreateBroadcastDtoD", "master device %d not among targets", master)
	}

	var sub []SubCopy
	for _, t := range targets {
		if t.Device == master {
			continue
		}
		sub = append(sub, SubCopy{
			SrcDevice: master,
			DstDevice: t.Device,
			SrcCtx:    masterTarget.Ctx,
			SrcPtr:    masterTarget.Ptr,
			DstCtx:    t.Ctx,
			DstPtr:    t.Ptr,
			Size:      size,
		})
	}
	return New(DtoD, sub, true)
}
