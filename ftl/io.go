package ftl

import (
	"context"

	"github.com/juju/errors"

	"github.com/goftl/goftl/blocktable"
	"github.com/goftl/goftl/cmddma"
	"github.com/goftl/goftl/internal/flog"
	"github.com/goftl/goftl/lld"
	"github.com/goftl/goftl/readdisturb"
)

func (f *Ftl) blockSize() uint64 { return uint64(f.dev.BlockSize()) }

func (f *Ftl) addrToBlock(addr uint64) (logicalBlock uint32, blockOffset uint64) {
	bs := f.blockSize()
	return uint32(addr / bs), addr % bs
}

func (f *Ftl) windowStart(addr uint64) uint64 {
	ws := f.cacheStore.WindowDataSize()
	return addr - addr%ws
}

func (f *Ftl) checkLogicalBlock(logicalBlock uint32) error {
	if int(logicalBlock) >= len(f.table.Entries) {
		return errors.Annotate(ErrOutOfRange, "ftl")
	}
	if logicalBlock == f.table.BlockTableIndex {
		return errors.Annotate(ErrReserved, "ftl")
	}
	if f.table.Entries[logicalBlock].Kind == blocktable.Bad {
		return errors.Annotate(ErrBadBlock, "ftl")
	}
	return nil
}

// nextCmdTag is the tag a CMD-DMA delta-log entry records against the
// command about to be composed. When the Port assigns its own composed
// command tags (lld.TagSource, currently only Batched) this correlates
// the delta to that exact tag space, so cmddma.Resolve's comparison
// against EventStatus's PendingCmd.Tag means the same thing on both
// sides; otherwise it falls back to the FTL's own counter, which is
// never consulted anyway since cmdLog is only opened when Port.CmdDMA()
// is true.
func (f *Ftl) nextCmdTag() uint64 {
	if ts, ok := f.port.(lld.TagSource); ok {
		return ts.PeekTag()
	}
	f.tagSeq++
	return f.tagSeq
}

// PageRead is GLOB_FTL_Page_Read: resolve addr's logical block through
// the write-back cache, loading its window from flash on a miss.
// Reading a slot that has never been written (Spare or Discard) returns
// all-0xFF content, the Open Question #3 resolution recorded in
// SPEC_FULL.md rather than whatever stale bytes happen to sit on the
// underlying physical block.
func (f *Ftl) PageRead(ctx context.Context, addr uint64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	logicalBlock, _ := f.addrToBlock(addr)
	if err := f.checkLogicalBlock(logicalBlock); err != nil {
		return nil, errors.Annotate(err, "ftl: PageRead")
	}

	idx, hit := f.cacheStore.Lookup(addr)
	if hit {
		f.cacheStore.Touch(idx)
	} else {
		var err error
		idx, err = f.loadWindow(ctx, addr, logicalBlock)
		if err != nil {
			return nil, errors.Annotate(err, "ftl: PageRead")
		}
	}

	item := f.cacheStore.Item(idx)
	pageSize := uint64(f.dev.PageDataSize)
	off := addr - item.Addr
	if off+pageSize > uint64(len(item.Content)) {
		return nil, errors.Annotate(ErrOutOfRange, "ftl: PageRead crosses window boundary")
	}
	out := make([]byte, pageSize)
	copy(out, item.Content[off:off+pageSize])
	if f.table.Entries[logicalBlock].Kind != blocktable.Data && !item.Dirty {
		for i := range out {
			out[i] = 0xFF
		}
	}

	if readdisturb.Track(f.table, logicalBlock, f.tun.MaxReadCounter) {
		if err := readdisturb.Migrate(ctx, f.port, f.dev, f.table, logicalBlock, f.tun.NumFreeBlocksGate, f.runGC, f.scratch); err != nil {
			flog.Warnf("ftl: read-disturb migration of logical block %d failed: %v", logicalBlock, err)
		}
	}
	return out, nil
}

// ReadImmediate bypasses the cache entirely: it resolves addr's mapping
// and reads straight from flash, including for a not-yet-written slot
// (no 0xFF substitution), showing what is actually programmed rather
// than the logical read contract.
func (f *Ftl) ReadImmediate(ctx context.Context, addr uint64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	logicalBlock, blockOffset := f.addrToBlock(addr)
	if err := f.checkLogicalBlock(logicalBlock); err != nil {
		return nil, errors.Annotate(err, "ftl: ReadImmediate")
	}
	phys := f.table.Entries[logicalBlock].Phys
	page := uint16(blockOffset / uint64(f.dev.PageDataSize))
	buf := make([]byte, f.dev.PageDataSize)
	if err := f.port.ReadPageMain(ctx, phys, page, 1, buf); err != nil {
		return nil, errors.Annotate(err, "ftl: ReadImmediate")
	}
	return buf, nil
}

// PageWrite is GLOB_FTL_Page_Write: overlay data into the cached window
// covering addr (loading it first on a miss) and mark it dirty. The
// physical block backing a Spare/Discard slot is only assigned once the
// window is actually written back (Cache_Write_Back), keeping a block
// that is merely read before ever being written from consuming a spare.
func (f *Ftl) PageWrite(ctx context.Context, addr uint64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	logicalBlock, _ := f.addrToBlock(addr)
	if err := f.checkLogicalBlock(logicalBlock); err != nil {
		return errors.Annotate(err, "ftl: PageWrite")
	}
	if uint64(len(data)) != uint64(f.dev.PageDataSize) {
		return errors.Annotate(ErrIo, "ftl: PageWrite: data length does not match page size")
	}

	idx, hit := f.cacheStore.Lookup(addr)
	if hit {
		f.cacheStore.Touch(idx)
	} else {
		var err error
		idx, err = f.loadWindow(ctx, addr, logicalBlock)
		if err != nil {
			return errors.Annotate(err, "ftl: PageWrite")
		}
	}
	item := f.cacheStore.Item(idx)
	off := addr - item.Addr
	copy(item.Content[off:off+uint64(len(data))], data)
	item.Dirty = true
	return nil
}

// loadWindow brings the window starting at addr's aligned boundary into
// the cache's victim slot, writing back whatever dirty content occupied
// that slot first, and returns the slot's index. A window of a slot that
// is not Data starts out all 0xFF instead of being read from flash.
func (f *Ftl) loadWindow(ctx context.Context, addr uint64, logicalBlock uint32) (int, error) {
	victim := f.cacheStore.SelectVictim()
	if err := f.writeBackItem(ctx, victim); err != nil {
		return 0, errors.Annotate(err, "ftl: loadWindow: evicting victim")
	}

	windowAddr := f.windowStart(addr)
	item := f.cacheStore.Item(victim)
	phys := f.table.Entries[logicalBlock].Phys
	pageOff := uint16((windowAddr % f.blockSize()) / uint64(f.dev.PageDataSize))
	windowPages := uint16(f.cacheStore.WindowDataSize() / uint64(f.dev.PageDataSize))
	if other, ok := f.cacheStore.FindCaching(windowAddr, victim); ok {
		// Another cached item already covers this window's start page:
		// the data it holds is the freshest copy, matching
		// Cache_Update_Block's "pull from another cache item" step
		// rather than re-reading flash unnecessarily.
		copy(item.Content, f.cacheStore.Item(other).Content)
	} else if f.table.Entries[logicalBlock].Kind != blocktable.Data {
		for i := range item.Content {
			item.Content[i] = 0xFF
		}
	} else if err := f.port.ReadPageMain(ctx, phys, pageOff, windowPages, item.Content); err != nil {
		return 0, errors.Annotate(err, "ftl: reading cache window")
	}
	f.cacheStore.Replace(victim, windowAddr)
	f.cacheStore.ResetAround(victim)
	return victim, nil
}

// writeBackItem flushes cache slot idx to flash if dirty, first giving
// its logical block a freshly picked physical block (ensureDataBlock).
func (f *Ftl) writeBackItem(ctx context.Context, idx int) error {
	item := f.cacheStore.Item(idx)
	if !item.Dirty {
		return nil
	}
	logicalBlock, _ := f.addrToBlock(item.Addr)
	phys, err := f.ensureDataBlock(ctx, logicalBlock)
	if err != nil {
		return errors.Annotate(err, "ftl: writeBackItem")
	}
	pageOff := uint16((item.Addr % f.blockSize()) / uint64(f.dev.PageDataSize))
	windowPages := uint16(uint64(len(item.Content)) / uint64(f.dev.PageDataSize))
	if err := f.writeWindowWithRetry(ctx, logicalBlock, &phys, pageOff, windowPages, item.Content); err != nil {
		return err
	}
	item.Dirty = false
	return nil
}

// ensureDataBlock is the Cache_Write_Back precondition (step 1): a
// logical slot must hold a fresh, erased physical block before its
// window can be programmed. A slot that is already live DATA is not
// reprogrammed in place — that would violate erase-before-write on real
// NAND — it is routed through Replace_LWBlock exactly like Spare or
// Discard, which picks a new spare and marks the old physical block
// DISCARD. Only Bad is refused outright.
func (f *Ftl) ensureDataBlock(ctx context.Context, logicalBlock uint32) (uint32, error) {
	e := f.table.Entries[logicalBlock]
	if e.Kind == blocktable.Bad {
		return 0, errors.Annotate(ErrBadBlock, "ftl: ensureDataBlock")
	}
	return f.pickReplacement(ctx, f.table, logicalBlock)
}

// writeWindowWithRetry is the data-path half of Flash_Error_Handle
// (section 4.6): on a program failure it marks the failing physical
// block Bad, picks a replacement, and retries the same content, up to
// RetryTimes attempts before giving up.
func (f *Ftl) writeWindowWithRetry(ctx context.Context, logicalBlock uint32, phys *uint32, pageOff uint16, count uint16, data []byte) error {
	for attempt := 0; attempt <= f.tun.RetryTimes; attempt++ {
		tag := f.nextCmdTag()
		err := f.port.WritePageMain(ctx, *phys, pageOff, count, data)
		if err == nil {
			f.table.Entries[logicalBlock] = blocktable.Entry{Phys: *phys, Kind: blocktable.Data}
			if f.cmdLog != nil {
				f.cmdLog.Record(cmddma.Delta{Tag: tag, Logical: logicalBlock, Field: cmddma.FieldEntry, Entry: f.table.Entries[logicalBlock]})
			}
			return nil
		}
		flog.Warnf("ftl: program failure on physical block %d (logical %d), marking bad: %v", *phys, logicalBlock, err)
		f.table.Entries[logicalBlock] = blocktable.Entry{Phys: *phys, Kind: blocktable.Bad}
		newPhys, rerr := f.pickReplacement(ctx, f.table, logicalBlock)
		if rerr != nil {
			return errors.Annotate(rerr, "ftl: Flash_Error_Handle: no replacement block available")
		}
		*phys = newPhys
	}
	return errors.Annotate(ErrIo, "ftl: exceeded retry budget writing logical block")
}

// flushCache writes back every dirty window, in index order, and
// resolves any outstanding CMD-DMA batch.
func (f *Ftl) flushCache(ctx context.Context) error {
	for i := 0; i < f.cacheStore.Len(); i++ {
		if err := f.writeBackItem(ctx, i); err != nil {
			return err
		}
	}
	return f.flushCmdBatch(ctx)
}

// flushCmdBatch drains the Port's pending CMD-DMA commands (a no-op on
// a polled Port) and resolves the shadow log against the outcome.
func (f *Ftl) flushCmdBatch(ctx context.Context) error {
	if f.cmdLog == nil || !f.port.CmdDMA() {
		return nil
	}
	if err := f.port.ExecuteCmds(ctx, 0); err != nil {
		return errors.Annotate(err, "ftl: ExecuteCmds")
	}
	agg, pending, err := f.port.EventStatus(ctx)
	if err != nil {
		return errors.Annotate(err, "ftl: EventStatus")
	}
	outcome := cmddma.Resolve(ctx, f.cmdLog, agg, pending, f.table, f.cacheStore, f.blockSize())
	for _, phys := range outcome.BadBlocks {
		for i, e := range f.table.Entries {
			if e.Phys == phys {
				f.table.Entries[i] = blocktable.Entry{Phys: phys, Kind: blocktable.Bad}
			}
		}
	}
	if outcome.RolledBack {
		flog.Warnf("ftl: CMD-DMA batch rolled back, %d block(s) marked bad", len(outcome.BadBlocks))
	}
	f.cmdLog = cmddma.Begin(f.table)
	return nil
}
