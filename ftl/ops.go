package ftl

import (
	"context"

	"github.com/juju/errors"

	"github.com/goftl/goftl/blocktable"
	"github.com/goftl/goftl/replacement"
)

// FlushCache is GLOB_FTL_Flush_Cache: write back every dirty window and
// resolve any outstanding CMD-DMA batch, without touching the
// persisted block table (that happens on FlashRelease or whenever a
// mutation needs the persistence lower bound satisfied first).
func (f *Ftl) FlushCache(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return errors.Annotate(f.flushCache(ctx), "ftl: FlushCache")
}

// GarbageCollection is GLOB_FTL_Garbage_Collection: run BT-block GC
// followed by data-block GC, persisting the table when the data-block
// pass changed any slot; BT-block reclaims alone do not persist it.
// Returns the number of data blocks reclaimed.
func (f *Ftl) GarbageCollection(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.collector.DataBlockGC(ctx, f.port, f.dev, f.table, f.persister.Registry(), f.markIPF, f.persistTable)
	if err != nil {
		return n, errors.Annotate(err, "ftl: GarbageCollection")
	}
	return n, nil
}

// WearLeveling is GLOB_FTL_Wear_Leveling: run static wear leveling up
// to WearLevelingBlockNum swaps when the wear gap exceeds
// WearLevelingGate, then adjust relative erase counts. If the minimum
// erase count is already zero, relative adjustment alone cannot help
// and another static wear-leveling pass is run to create headroom,
// mirroring Adjust_Relative_Erase_Count's documented fallback.
func (f *Ftl) WearLeveling(ctx context.Context) (swaps int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	swaps, err = replacement.StaticWearLeveling(ctx, f.port, f.dev, f.table, f.tun.WearLevelingGate, f.tun.WearLevelingBlockNum, f.scratch)
	if err != nil {
		return swaps, errors.Annotate(err, "ftl: WearLeveling")
	}
	if replacement.AdjustRelativeErase(f.table) {
		more, err := replacement.StaticWearLeveling(ctx, f.port, f.dev, f.table, f.tun.WearLevelingGate, f.tun.WearLevelingBlockNum, f.scratch)
		swaps += more
		if err != nil {
			return swaps, errors.Annotate(err, "ftl: WearLeveling: fallback pass")
		}
		replacement.AdjustRelativeErase(f.table)
	}
	if err := f.persistTable(ctx); err != nil {
		return swaps, errors.Annotate(err, "ftl: WearLeveling: persisting table")
	}
	return swaps, nil
}

// BlockErase is GLOB_FTL_Block_Erase: the upper layer's explicit
// logical erase/TRIM of a data block. The physical erase itself is
// deferred to garbage collection (invariant: GC is the only path that
// calls Port.EraseBlock on a data block, so a failed erase never loses
// the block's last-known-good mapping); here the slot is marked
// Discard and any cached window for it dropped.
func (f *Ftl) BlockErase(ctx context.Context, logicalBlock uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkLogicalBlock(logicalBlock); err != nil {
		return errors.Annotate(err, "ftl: BlockErase")
	}
	e := f.table.Entries[logicalBlock]
	if e.Kind == blocktable.Data {
		f.table.Entries[logicalBlock] = blocktable.Entry{Phys: e.Phys, Kind: blocktable.Discard}
	}
	f.cacheStore.InvalidateBlock(uint64(logicalBlock)*f.blockSize(), f.blockSize())
	return nil
}
