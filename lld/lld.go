// Package lld describes the capability boundary the FTL consumes from
// the low-level driver: page read/write, block erase, bad-block query,
// and (optionally) a command-DMA batching mode. Everything on the other
// side of this interface — ECC, ONFI timing, register layout, DMA
// descriptors, PCI probing — is out of scope; Port only needs to look
// like a device, not be one.
package lld

import "context"

// EventStatus mirrors the CMD-DMA completion codes the LLD reports for
// a batch.
type EventStatus int

const (
	StatusPass EventStatus = iota
	StatusCorrectableECC
	StatusUncorrectableECC
	StatusProgramFail
	StatusEraseFail
	StatusDMAFail
)

// Cmd identifies what a pending CMD-DMA command was for, so the FTL can
// replay or roll back the right delta when a batch completes.
type Cmd int

const (
	CmdRead Cmd = iota
	CmdWrite
	CmdErase
)

// PendingCmd is one slot of the LLD's pending-command array, addressed
// by Tag — a monotonically increasing sequence the FTL uses to
// correlate delta-log entries with batch outcomes.
type PendingCmd struct {
	Cmd    Cmd
	Status EventStatus
	Block  uint32
	Page   uint16
	Tag    uint64
}

// Port is everything the FTL calls into the LLD for. Implementations
// must be safe to call from a single cooperative caller only — the FTL
// never calls concurrently into the same Port.
type Port interface {
	// ReadPageMain reads count pages of main-area data starting at page
	// into buf, which must be at least count*PageDataSize bytes.
	ReadPageMain(ctx context.Context, physBlock uint32, page uint16, count uint16, buf []byte) error
	// ReadPageMainSpare reads main + spare area together.
	ReadPageMainSpare(ctx context.Context, physBlock uint32, page uint16, count uint16, main, spare []byte) error
	// ReadPageSpare reads only the spare area of one page.
	ReadPageSpare(ctx context.Context, physBlock uint32, page uint16, spare []byte) error

	WritePageMain(ctx context.Context, physBlock uint32, page uint16, count uint16, buf []byte) error
	WritePageMainSpare(ctx context.Context, physBlock uint32, page uint16, main, spare []byte) error
	WritePageSpare(ctx context.Context, physBlock uint32, page uint16, spare []byte) error

	EraseBlock(ctx context.Context, physBlock uint32) error

	// GetBadBlock reports the factory bad-block mark; it does not
	// reflect blocks the FTL itself has since discovered to be bad.
	GetBadBlock(ctx context.Context, physBlock uint32) (bool, error)

	// CmdDMA reports whether this Port batches commands; when true, the
	// FTL composes commands and calls ExecuteCmds/EventStatus at a
	// batch boundary instead of waiting on every call.
	CmdDMA() bool
	// ExecuteCmds flushes n composed commands to the device (all of
	// them when n is 0). No-op outside CMD-DMA mode.
	ExecuteCmds(ctx context.Context, n int) error
	// EventStatus blocks until the last ExecuteCmds batch completes and
	// returns the aggregate status plus the per-command outcomes in
	// submission order (indexed by the Tag assigned at composition
	// time, not necessarily completion order across channels).
	EventStatus(ctx context.Context) (EventStatus, []PendingCmd, error)
}

// TagSource is an optional capability a Port implements when it assigns
// pending-command tags from its own counter (currently only Batched).
// The FTL type-asserts for this so it can record CMD-DMA delta-log
// entries under the same tag space the LLD itself uses, rather than an
// independent counter of its own that EventStatus's results would never
// agree with.
type TagSource interface {
	// PeekTag reports the tag the Port's next composed command will be
	// assigned, without consuming it.
	PeekTag() uint64
}
