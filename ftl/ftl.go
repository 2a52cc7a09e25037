// Package ftl is the top-level Flash Translation Layer: it wires
// together the block table, write-back cache, replacement/wear
// leveling, garbage collection, read-disturb migration, and the
// optional CMD-DMA shadow log into the public operations a block-layer
// caller actually drives (spec section 4.6). Every other package in
// this module is a component this one assembles; nothing upstream of
// Ftl should need to import blocktable, cache, gc, or cmddma directly.
package ftl

import (
	"context"
	"sync"

	"github.com/juju/errors"

	"github.com/goftl/goftl/blocktable"
	"github.com/goftl/goftl/cache"
	"github.com/goftl/goftl/cmddma"
	"github.com/goftl/goftl/conf"
	"github.com/goftl/goftl/device"
	"github.com/goftl/goftl/gc"
	"github.com/goftl/goftl/internal/flog"
	"github.com/goftl/goftl/lld"
	"github.com/goftl/goftl/replacement"
)

// Ftl is the assembled flash translation layer for one device. It is
// not safe for concurrent use by more than one caller at a time (spec
// section 5: single cooperative caller, no upper-layer locking),
// mirroring the original driver's GLOB_SpectraStartCmd single entry
// point; mu only guards against accidental concurrent misuse rather
// than enabling real concurrency.
type Ftl struct {
	mu sync.Mutex

	dev    device.Info
	tun    conf.Tunables
	params blocktable.Params
	large24 bool

	port lld.Port

	table      *blocktable.Table
	persister  *blocktable.Persister
	cacheStore *cache.Cache
	collector  *gc.Collector
	cmdLog     *cmddma.Log
	tagSeq     uint64

	scratch []byte // one page, reused by CopyBlock-driven operations
}

// New assembles an Ftl around an already-open Port for a device that
// has either just been formatted or is being recovered from a previous
// session. Most callers want Init, which does the mount/format decision
// for them; New is exposed for ftlctl's lower-level subcommands.
func New(port lld.Port, dev device.Info, tun conf.Tunables) (*Ftl, error) {
	if err := dev.Validate(); err != nil {
		return nil, errors.Annotate(err, "ftl: invalid device geometry")
	}
	params := blocktable.Params{
		FirstBTID: tun.FirstBTID,
		LastBTID:  tun.LastBTID,
		SigBytes:  tun.BTSigBytes,
		SigDelta:  tun.BTSigDelta,
	}
	if err := params.Validate(); err != nil {
		return nil, errors.Annotate(err, "ftl: invalid BT tunables")
	}
	f := &Ftl{
		dev:     dev,
		tun:     tun,
		params:  params,
		large24: dev.SupportLargeBlockNum,
		port:    port,
		scratch: make([]byte, dev.PageDataSize),
	}
	return f, nil
}

// Init is GLOB_FTL_Init: mount the latest valid block-table generation
// if one exists, or format a fresh one when none is found and
// AutoFormatFlash permits it. Init also carves out the write-back cache
// (Mem_Config) and, when the Port reports CMD-DMA support, opens the
// shadow log for the first batch.
func (f *Ftl) Init(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.dev.DataBlockNum()
	mlc := f.dev.MLC
	imageBytes := blocktable.ImageByteLen(n, f.large24, mlc)

	reg, ipfFollows, err := blocktable.ScanForGenerations(ctx, f.port, f.dev, imageBytes, f.params)
	if err != nil {
		return errors.Annotate(err, "ftl: scanning for block-table generations")
	}

	if !reg.Empty() {
		img, persisted, loc, err := blocktable.LoadLatestValid(ctx, f.port, f.dev, reg, ipfFollows, f.params, n, f.large24, mlc, imageBytes)
		if err == nil {
			f.table = img.Table
			f.persister = blocktable.NewPersister(f.port, f.dev, f.params, n, f.large24, mlc, reg, f.pickReplacement)
			f.persister.Bootstrap(loc.PhysBlock, loc.PageOff, img.Tag, imageBytes, !persisted)
			return f.finishInit(ctx)
		}
		flog.Warnf("ftl: no valid block-table generation could be loaded: %v", err)
	}

	if !f.tun.AutoFormatFlash {
		return errors.Annotate(ErrCorrupt, "ftl: Init")
	}
	flog.Infof("ftl: no recoverable block table found, formatting")
	if err := f.format(ctx); err != nil {
		return errors.Annotate(err, "ftl: auto-format on Init")
	}
	return f.finishInit(ctx)
}

func (f *Ftl) finishInit(ctx context.Context) error {
	f.collector = &gc.Collector{}
	f.mem_config()
	if f.port.CmdDMA() {
		f.cmdLog = cmddma.Begin(f.table)
	}
	return nil
}

// MemConfig is Mem_Config: (re)carve the cache's fixed set of windows
// out of CacheBlockNumber/PagesPerCacheBlock. Safe to call again later
// to resize the cache; any dirty windows from the old cache are
// dropped, matching Mem_Config only ever running before the device is
// in active use.
func (f *Ftl) MemConfig(blockCount int, pagesPerCacheBlock int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tun.CacheBlockNumber = blockCount
	f.tun.PagesPerCacheBlock = pagesPerCacheBlock
	f.mem_config()
}

func (f *Ftl) mem_config() {
	windowPages := f.tun.PagesPerCacheBlock
	if windowPages <= 0 {
		windowPages = int(f.dev.PagesPerBlock)
	}
	windowBytes := uint64(windowPages) * uint64(f.dev.PageDataSize)
	f.cacheStore = cache.New(f.tun.CacheBlockNumber, windowBytes)
}

// FlashFormat is GLOB_FTL_Flash_Format: discard any existing block
// table and build a fresh one, marking factory-bad physical blocks Bad
// up front. Existing cache contents are invalidated without being
// written back, since the mapping they refer to no longer exists.
func (f *Ftl) FlashFormat(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.format(ctx); err != nil {
		return errors.Annotate(err, "ftl: FlashFormat")
	}
	return f.finishInit(ctx)
}

func (f *Ftl) format(ctx context.Context) error {
	bad := map[uint32]bool{}
	for b := f.dev.SpectraStartBlock; b <= f.dev.SpectraEndBlock; b++ {
		ok, err := f.port.GetBadBlock(ctx, b)
		if err != nil {
			flog.Warnf("ftl: GetBadBlock(%d) failed during format, assuming good: %v", b, err)
			continue
		}
		if ok {
			bad[b] = true
		}
	}
	t := blocktable.Format(f.dev, f.dev.MLC, bad)
	reg := blocktable.NewRegistry()
	persister := blocktable.NewPersister(f.port, f.dev, f.params, f.dev.DataBlockNum(), f.large24, f.dev.MLC, reg, f.pickReplacement)
	if err := persister.WriteBlockTable(ctx, t, true); err != nil {
		return err
	}
	f.table = t
	f.persister = persister
	if f.cacheStore != nil {
		f.cacheStore.InvalidateAll()
	}
	return nil
}

// pickReplacement is blocktable.PickReplacement: hand WriteBlockTable's
// rotate step to replacement.ReplaceLWBlock, running a data-block GC
// pass first when that exchange suggests space is getting tight.
func (f *Ftl) pickReplacement(ctx context.Context, t *blocktable.Table, logicalSlot uint32) (uint32, error) {
	phys, hint, err := replacement.ReplaceLWBlock(t, logicalSlot, f.tun.NumFreeBlocksGate)
	if err == replacement.ErrNoSpare {
		if _, gcErr := f.collector.DataBlockGC(ctx, f.port, f.dev, t, f.persister.Registry(), f.markIPF, f.persistTable); gcErr != nil {
			return 0, errors.Annotate(gcErr, "ftl: GC while seeking a spare BT block")
		}
		phys, hint, err = replacement.ReplaceLWBlock(t, logicalSlot, f.tun.NumFreeBlocksGate)
	}
	if err != nil {
		return 0, err
	}
	if hint == replacement.GCPass {
		if _, gcErr := f.collector.DataBlockGC(ctx, f.port, f.dev, t, f.persister.Registry(), f.markIPF, f.persistTable); gcErr != nil {
			flog.Warnf("ftl: post-replacement GC pass failed: %v", gcErr)
		}
	}
	return phys, nil
}

func (f *Ftl) markIPF(ctx context.Context) error {
	if f.persister == nil {
		return nil
	}
	return f.persister.MarkInProgress(ctx)
}

func (f *Ftl) persistTable(ctx context.Context) error {
	if f.persister == nil {
		return nil
	}
	return f.persister.WriteBlockTable(ctx, f.table, false)
}

// runGC adapts Collector.DataBlockGC to readdisturb.RunGC's signature.
func (f *Ftl) runGC(ctx context.Context) error {
	_, err := f.collector.DataBlockGC(ctx, f.port, f.dev, f.table, f.persister.Registry(), f.markIPF, f.persistTable)
	return err
}

// IdentifyDevice is GLOB_FTL_Identify_Device: report the geometry Init
// was called with, plus the live block-table occupancy.
func (f *Ftl) IdentifyDevice() IdentifyInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, spare, discard, bad := f.table.CountByKind()
	return IdentifyInfo{
		TotalBlocks:    f.dev.TotalBlocks,
		PagesPerBlock:  f.dev.PagesPerBlock,
		PageDataSize:   f.dev.PageDataSize,
		PageSpareSize:  f.dev.PageSpareSize,
		MLC:            f.dev.MLC,
		DataBlockNum:   f.dev.DataBlockNum(),
		DataBlocks:     uint32(data),
		SpareBlocks:    uint32(spare),
		DiscardBlocks:  uint32(discard),
		BadBlocks:      uint32(bad),
		CmdDMA:         f.port.CmdDMA(),
	}
}

// FlashRelease is GLOB_FTL_Flash_Release: flush every dirty cache
// window and persist the block table one last time so the next Init
// mounts cleanly, then drop the CMD-DMA shadow log.
func (f *Ftl) FlashRelease(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.flushCache(ctx); err != nil {
		return errors.Annotate(err, "ftl: FlashRelease flushing cache")
	}
	if err := f.persistTable(ctx); err != nil {
		return errors.Annotate(err, "ftl: FlashRelease persisting block table")
	}
	f.cmdLog = nil
	return nil
}

// IsBadBlock is GLOB_FTL_Is_Block_Bad, reported against the logical
// slot's current Kind.
func (f *Ftl) IsBadBlock(logicalBlock uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if int(logicalBlock) >= len(f.table.Entries) {
		return true
	}
	return f.table.Entries[logicalBlock].Kind == blocktable.Bad
}
