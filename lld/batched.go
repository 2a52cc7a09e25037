package lld

import (
	"context"
	"sync"
)

// Batched wraps a synchronous Port and presents a CMD-DMA-style
// interface over it: writes/erases compose into a pending-command
// queue instead of executing immediately, and ExecuteCmds/EventStatus
// drains that queue against the inner Port. This is the single
// dispatch point the design notes ask for — callers never branch on
// CMD-DMA vs polled mode themselves, they call Port methods and the
// mode difference lives entirely here.
type Batched struct {
	inner Port

	mu          sync.Mutex
	seq         uint64
	pending     []pendingWrite
	lastResults []PendingCmd
}

type pendingWrite struct {
	tag   uint64
	cmd   Cmd
	block uint32
	page  uint16
	count uint16
	main  []byte
	spare []byte
}

// NewBatched wraps inner in CMD-DMA dispatch. inner's own CmdDMA() is
// ignored; Batched always reports true.
func NewBatched(inner Port) *Batched {
	return &Batched{inner: inner}
}

func (b *Batched) ReadPageMain(ctx context.Context, physBlock uint32, page uint16, count uint16, buf []byte) error {
	// Reads are never batched: the FTL needs the data back immediately.
	return b.inner.ReadPageMain(ctx, physBlock, page, count, buf)
}

func (b *Batched) ReadPageMainSpare(ctx context.Context, physBlock uint32, page uint16, count uint16, main, spare []byte) error {
	return b.inner.ReadPageMainSpare(ctx, physBlock, page, count, main, spare)
}

func (b *Batched) ReadPageSpare(ctx context.Context, physBlock uint32, page uint16, spare []byte) error {
	return b.inner.ReadPageSpare(ctx, physBlock, page, spare)
}

func (b *Batched) nextTag() uint64 {
	b.seq++
	return b.seq
}

// PeekTag implements lld.TagSource: the tag nextTag will hand out to the
// very next composed command, without assigning it yet.
func (b *Batched) PeekTag() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq + 1
}

func (b *Batched) WritePageMain(_ context.Context, physBlock uint32, page uint16, count uint16, buf []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, pendingWrite{tag: b.nextTag(), cmd: CmdWrite, block: physBlock, page: page, count: count, main: append([]byte(nil), buf...)})
	return nil
}

func (b *Batched) WritePageMainSpare(_ context.Context, physBlock uint32, page uint16, main, spare []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, pendingWrite{tag: b.nextTag(), cmd: CmdWrite, block: physBlock, page: page, count: 1,
		main: append([]byte(nil), main...), spare: append([]byte(nil), spare...)})
	return nil
}

func (b *Batched) WritePageSpare(_ context.Context, physBlock uint32, page uint16, spare []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, pendingWrite{tag: b.nextTag(), cmd: CmdWrite, block: physBlock, page: page, count: 1,
		spare: append([]byte(nil), spare...)})
	return nil
}

func (b *Batched) EraseBlock(_ context.Context, physBlock uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, pendingWrite{tag: b.nextTag(), cmd: CmdErase, block: physBlock})
	return nil
}

func (b *Batched) GetBadBlock(ctx context.Context, physBlock uint32) (bool, error) {
	return b.inner.GetBadBlock(ctx, physBlock)
}

func (b *Batched) CmdDMA() bool { return true }

// ExecuteCmds drains up to n queued commands (all of them when n is 0)
// against the inner Port,
// recording per-command status for the following EventStatus call.
func (b *Batched) ExecuteCmds(ctx context.Context, n int) error {
	b.mu.Lock()
	batch := b.pending
	if n > 0 && n < len(batch) {
		batch = batch[:n]
		b.pending = b.pending[n:]
	} else {
		b.pending = nil
	}
	b.mu.Unlock()

	results := make([]PendingCmd, 0, len(batch))
	for _, pw := range batch {
		var err error
		switch pw.cmd {
		case CmdErase:
			err = b.inner.EraseBlock(ctx, pw.block)
		case CmdWrite:
			switch {
			case pw.spare != nil && pw.main != nil:
				err = b.inner.WritePageMainSpare(ctx, pw.block, pw.page, pw.main, pw.spare)
			case pw.spare != nil:
				err = b.inner.WritePageSpare(ctx, pw.block, pw.page, pw.spare)
			default:
				err = b.inner.WritePageMain(ctx, pw.block, pw.page, pw.count, pw.main)
			}
		}
		status := StatusPass
		if err != nil {
			if pw.cmd == CmdErase {
				status = StatusEraseFail
			} else {
				status = StatusProgramFail
			}
		}
		results = append(results, PendingCmd{Cmd: pw.cmd, Status: status, Block: pw.block, Page: pw.page, Tag: pw.tag})
	}

	b.mu.Lock()
	b.lastResults = results
	b.mu.Unlock()
	return nil
}

func (b *Batched) EventStatus(context.Context) (EventStatus, []PendingCmd, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	results := b.lastResults
	b.lastResults = nil
	agg := StatusPass
	for _, r := range results {
		if r.Status != StatusPass {
			agg = r.Status
			break
		}
	}
	return agg, results, nil
}
