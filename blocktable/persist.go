package blocktable

import (
	"context"

	"github.com/goftl/goftl/device"
	"github.com/goftl/goftl/internal/flog"
	"github.com/goftl/goftl/lld"
)

// PickReplacement is supplied by the replacement package at
// construction time; it is Replace_LWBlock(BLOCK_TABLE_INDEX) from
// section 4.1 — blocktable never picks a spare block itself, to avoid
// an import cycle with package replacement.
type PickReplacement func(ctx context.Context, t *Table, logicalSlot uint32) (physBlock uint32, err error)

// Status is CURRENT_BLOCK_TABLE or IN_PROGRESS_BLOCK_TABLE (spec
// section 4.1).
type Status int

const (
	StatusCurrent Status = iota
	StatusInProgress
)

// Persister owns the mutable on-flash BT write cursor: which physical
// block is the current BT block, how far into it the next image would
// go, the current tag, and whether an IPF page is already in place for
// the generation in progress. Table itself stays in package-level value
// form (see state.go); Persister is the thing that knows how to get it
// onto flash and back.
type Persister struct {
	port   lld.Port
	dev    device.Info
	params Params
	n      uint32
	large24 bool
	mlc     bool

	reg        *Registry
	ipfFollows map[uint8]bool

	curBlock   uint32
	curOffset  uint16
	curTag     uint8
	ipfPresent bool
	status     Status

	pick PickReplacement
}

// NewPersister constructs a Persister around an already-mounted (or
// freshly formatted) registry.
func NewPersister(port lld.Port, dev device.Info, params Params, n uint32, large24, mlc bool, reg *Registry, pick PickReplacement) *Persister {
	return &Persister{port: port, dev: dev, params: params, n: n, large24: large24, mlc: mlc, reg: reg, ipfFollows: map[uint8]bool{}, pick: pick}
}

// Bootstrap sets the persister's cursor after a mount/format, given the
// generation that was just loaded (or the freshly formatted state).
func (p *Persister) Bootstrap(physBlock uint32, pageOff uint16, tag uint8, imageBytes int, ipfPresent bool) {
	p.curBlock = physBlock
	p.curTag = tag
	p.ipfPresent = ipfPresent
	btPages := BTPages(imageBytes, p.dev.PageDataSize)
	p.curOffset = pageOff + btPages
	if ipfPresent {
		p.status = StatusInProgress
	} else {
		p.status = StatusCurrent
	}
	p.reg.Register(tag, Location{PhysBlock: physBlock, PageOff: pageOff})
}

// Status reports the persistence status required by testable property 3.
func (p *Persister) Status() Status { return p.status }

// MarkInProgress writes the IPF page just past the current image if one
// is not already in place, satisfying invariant 4 (persistence lower
// bound) before any in-memory-only mutation is allowed to return to the
// caller.
func (p *Persister) MarkInProgress(ctx context.Context) error {
	if p.ipfPresent {
		return nil
	}
	ipf := make([]byte, p.dev.PageDataSize)
	for i := range ipf {
		ipf[i] = IPFByte
	}
	if err := p.port.WritePageMain(ctx, p.curBlock, p.curOffset, 1, ipf); err != nil {
		return wrap("MarkInProgress", err)
	}
	p.ipfPresent = true
	p.status = StatusInProgress
	return nil
}

// spaceForAnotherImage reports whether the current BT block has room
// for one more image plus its trailing IPF page before running off the
// end of the block.
func (p *Persister) spaceForAnotherImage(imageBytes int) bool {
	btPages := BTPages(imageBytes, p.dev.PageDataSize)
	need := p.curOffset
	if p.ipfPresent {
		need++ // the IPF page we already wrote stays; new image starts after it
	}
	return uint32(need)+uint32(btPages)+1 <= uint32(p.dev.PagesPerBlock)
}

// WriteBlockTable is Write_Block_Table: append a new generation in the
// current BT block if there is room, else rotate to a fresh physical BT
// block via pick(). On any page-program failure mid-image, the block is
// marked BAD in t and a replacement is retried.
func (p *Persister) WriteBlockTable(ctx context.Context, t *Table, force bool) error {
	imageBytes := imageByteLen(p.n, p.large24, p.mlc)
	for attempt := 0; attempt < 4; attempt++ {
		if force || !p.spaceForAnotherImage(imageBytes) {
			if err := p.rotate(ctx, t); err != nil {
				return wrap("WriteBlockTable", err)
			}
			force = false
		}
		nextTag := p.params.NextTag(p.curTag)
		if p.reg.Empty() {
			nextTag = p.params.FirstBTID
		}
		img := &Image{Tag: nextTag, Table: t}
		compress := !p.spaceForAnotherImage(imageBytes * 2) // tight on room: shrink the image
		buf := img.Serialize(p.large24, p.mlc, compress)
		writeOffset := p.curOffset
		if p.ipfPresent {
			writeOffset++
		}
		if err := p.writeImagePages(ctx, t, buf, writeOffset, nextTag); err != nil {
			flog.Warnf("blocktable: marking BT block %d bad after write failure: %v", p.curBlock, err)
			t.Entries[t.BlockTableIndex] = Entry{Phys: p.curBlock, Kind: Bad}
			force = true
			continue
		}
		btPages := BTPages(imageBytes, p.dev.PageDataSize)
		p.reg.Register(nextTag, Location{PhysBlock: p.curBlock, PageOff: writeOffset})
		p.curTag = nextTag
		p.curOffset = writeOffset + btPages
		p.ipfPresent = false
		p.status = StatusCurrent
		return nil
	}
	return wrap("WriteBlockTable", ErrNoSpareBlock)
}

func (p *Persister) writeImagePages(ctx context.Context, t *Table, buf []byte, offset uint16, tag uint8) error {
	pageSize := int(p.dev.PageDataSize)
	nPages := len(buf) / pageSize
	if len(buf)%pageSize != 0 {
		nPages++
		padded := make([]byte, nPages*pageSize)
		copy(padded, buf)
		buf = padded
	}
	sig := p.params.InsertSignature(tag)
	// First page: main + spare carrying the signature.
	spare := make([]byte, p.dev.PageSpareSize)
	copy(spare, sig)
	if err := p.port.WritePageMainSpare(ctx, p.curBlock, offset, buf[0:pageSize], spare); err != nil {
		return err
	}
	for i := 1; i < nPages-1; i++ {
		if err := p.port.WritePageMain(ctx, p.curBlock, offset+uint16(i), 1, buf[i*pageSize:(i+1)*pageSize]); err != nil {
			return err
		}
	}
	if nPages > 1 {
		last := nPages - 1
		if err := p.port.WritePageMainSpare(ctx, p.curBlock, offset+uint16(last), buf[last*pageSize:(last+1)*pageSize], spare); err != nil {
			return err
		}
	}
	return nil
}

// rotate is Replace_Block_Table: pick a fresh physical BT block via
// Replace_LWBlock(BLOCK_TABLE_INDEX), register it, and move the write
// cursor to its start.
func (p *Persister) rotate(ctx context.Context, t *Table) error {
	phys, err := p.pick(ctx, t, t.BlockTableIndex)
	if err != nil {
		return err
	}
	if err := p.port.EraseBlock(ctx, phys); err != nil {
		return err
	}
	t.Entries[t.BlockTableIndex] = Entry{Phys: phys, Kind: Data}
	t.RecordErase(t.BlockTableIndex)
	p.curBlock = phys
	p.curOffset = 0
	p.ipfPresent = false
	return nil
}

// Registry exposes the persister's BT-block registry, e.g. for BT-GC.
func (p *Persister) Registry() *Registry { return p.reg }

// CurrentBlock is the physical block currently holding the live image,
// i.e. t.Entries[t.BlockTableIndex].Phys once rotate has run.
func (p *Persister) CurrentBlock() uint32 { return p.curBlock }
