package ftl

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goftl/goftl/blocktable"
	"github.com/goftl/goftl/conf"
	"github.com/goftl/goftl/device"
	"github.com/goftl/goftl/lld"
)

func testDevice() device.Info {
	return device.Info{
		TotalBlocks:          64,
		PagesPerBlock:        8,
		PageDataSize:         512,
		PageSpareSize:        16,
		SpectraStartBlock:    0,
		SpectraEndBlock:      63,
		SupportLargeBlockNum: true,
	}
}

func testTunables() conf.Tunables {
	t := conf.Default()
	t.CacheBlockNumber = 4
	t.NumFreeBlocksGate = 4
	t.AutoFormatFlash = true
	return t
}

func newTestFtl(t *testing.T) (*Ftl, *lld.SimFile) {
	t.Helper()
	dev := testDevice()
	path := filepath.Join(t.TempDir(), "image.bin")
	port, err := lld.OpenSimFile(path, dev, false)
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })

	f, err := New(port, dev, testTunables())
	require.NoError(t, err)
	require.NoError(t, f.Init(context.Background()))
	return f, port
}

func TestInitAutoFormatsEmptyDevice(t *testing.T) {
	f, _ := newTestFtl(t)
	info := f.IdentifyDevice()
	assert.Equal(t, uint32(64), info.DataBlockNum)
	assert.True(t, info.SpareBlocks > 0)
}

func TestPageWriteReadRoundTrip(t *testing.T) {
	f, _ := newTestFtl(t)
	ctx := context.Background()

	page := make([]byte, f.dev.PageDataSize)
	for i := range page {
		page[i] = byte(i % 251)
	}
	addr := uint64(f.dev.BlockSize()) * 1
	require.NoError(t, f.PageWrite(ctx, addr, page))
	got, err := f.PageRead(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, page, got)
}

func TestPageWriteToBlockTableIndexIsReserved(t *testing.T) {
	f, _ := newTestFtl(t)
	ctx := context.Background()
	page := make([]byte, f.dev.PageDataSize)
	err := f.PageWrite(ctx, 0, page)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReserved)
}

func TestPageReadBeforeWriteReturnsErasedFill(t *testing.T) {
	f, _ := newTestFtl(t)
	ctx := context.Background()

	addr := uint64(f.dev.BlockSize()) * 3
	got, err := f.PageRead(ctx, addr)
	require.NoError(t, err)
	for _, b := range got {
		assert.Equal(t, byte(0xFF), b)
	}
}

func TestFlushCachePersistsAcrossReload(t *testing.T) {
	dev := testDevice()
	path := filepath.Join(t.TempDir(), "image.bin")
	port, err := lld.OpenSimFile(path, dev, false)
	require.NoError(t, err)
	defer port.Close()

	tun := testTunables()
	f, err := New(port, dev, tun)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, f.Init(ctx))

	page := make([]byte, dev.PageDataSize)
	for i := range page {
		page[i] = 0x5A
	}
	addr := uint64(dev.BlockSize()) * 2
	require.NoError(t, f.PageWrite(ctx, addr, page))
	require.NoError(t, f.FlashRelease(ctx))

	f2, err := New(port, dev, tun)
	require.NoError(t, err)
	require.NoError(t, f2.Init(ctx))
	got, err := f2.PageRead(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, page, got)
}

func TestBlockEraseMarksDiscard(t *testing.T) {
	f, _ := newTestFtl(t)
	ctx := context.Background()
	page := make([]byte, f.dev.PageDataSize)
	addr := uint64(f.dev.BlockSize()) * 1
	require.NoError(t, f.PageWrite(ctx, addr, page))
	require.NoError(t, f.FlushCache(ctx))

	logicalBlock := uint32(1)
	require.NoError(t, f.BlockErase(ctx, logicalBlock))
	assert.Equal(t, blocktable.Discard, f.table.Entries[logicalBlock].Kind)

	_, err := f.GarbageCollection(ctx)
	require.NoError(t, err)
}

func TestWearLevelingNoPanicOnFreshDevice(t *testing.T) {
	f, _ := newTestFtl(t)
	ctx := context.Background()
	_, err := f.WearLeveling(ctx)
	require.NoError(t, err)
}

func TestIsBadBlockForOutOfRange(t *testing.T) {
	f, _ := newTestFtl(t)
	assert.True(t, f.IsBadBlock(1<<20))
}

func TestFlashFormatResetsTable(t *testing.T) {
	f, _ := newTestFtl(t)
	ctx := context.Background()
	require.NoError(t, f.FlashFormat(ctx))
	info := f.IdentifyDevice()
	assert.Equal(t, uint32(1), info.DataBlocks)
	assert.True(t, info.SpareBlocks > 0)
}

func TestDebugTableSizeAccessors(t *testing.T) {
	f, _ := newTestFtl(t)
	assert.Equal(t, uint32(256), f.BlockTableBytes())
	assert.Equal(t, uint32(64), f.WearTableBytes())
}

// TestCmdDMABatchedWriteReadRoundTrip exercises the FTL over a Batched
// Port so CMD-DMA-mode writes actually compose, execute, and resolve
// against lld.TagSource-correlated tags (rather than the FTL's own
// independent counter), proving cmddma.Resolve's Tag comparisons line
// up with what Batched itself assigned.
func TestCmdDMABatchedWriteReadRoundTrip(t *testing.T) {
	dev := testDevice()
	path := filepath.Join(t.TempDir(), "image.bin")
	sim, err := lld.OpenSimFile(path, dev, false)
	require.NoError(t, err)
	t.Cleanup(func() { sim.Close() })
	port := lld.NewBatched(sim)

	f, err := New(port, dev, testTunables())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	assert.True(t, f.IdentifyDevice().CmdDMA)

	page := make([]byte, dev.PageDataSize)
	for i := range page {
		page[i] = 0x42
	}
	addr := uint64(dev.BlockSize()) * 2
	require.NoError(t, f.PageWrite(ctx, addr, page))
	require.NoError(t, f.FlushCache(ctx))

	got, err := f.PageRead(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, page, got)
}
