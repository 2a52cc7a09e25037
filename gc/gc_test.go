package gc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goftl/goftl/blocktable"
	"github.com/goftl/goftl/device"
	"github.com/goftl/goftl/lld"
)

type fakePort struct {
	lld.Port
	erased []uint32
}

func (p *fakePort) EraseBlock(_ context.Context, physBlock uint32) error {
	p.erased = append(p.erased, physBlock)
	return nil
}

func (p *fakePort) CmdDMA() bool { return false }

func testDevice() device.Info {
	return device.Info{TotalBlocks: 16, PagesPerBlock: 4, PageDataSize: 64, SpectraStartBlock: 0, SpectraEndBlock: 7}
}

func TestDataBlockGCReclaimsUnownedDiscards(t *testing.T) {
	tbl := blocktable.NewTable(8, false)
	for i := range tbl.Entries {
		tbl.Entries[i] = blocktable.Entry{Phys: uint32(i), Kind: blocktable.Data}
	}
	tbl.Entries[3] = blocktable.Entry{Phys: 3, Kind: blocktable.Discard}
	tbl.Entries[5] = blocktable.Entry{Phys: 5, Kind: blocktable.Discard}

	reg := blocktable.NewRegistry()
	port := &fakePort{}
	c := &Collector{}
	var ipfCalled, persistCalled bool
	reclaimed, err := c.DataBlockGC(context.Background(), port, testDevice(), tbl, reg,
		func(ctx context.Context) error { ipfCalled = true; return nil },
		func(ctx context.Context) error { persistCalled = true; return nil })
	require.NoError(t, err)
	assert.Equal(t, 2, reclaimed)
	assert.True(t, ipfCalled)
	assert.True(t, persistCalled)
	assert.Equal(t, blocktable.Spare, tbl.Entries[3].Kind)
	assert.Equal(t, blocktable.Spare, tbl.Entries[5].Kind)
	assert.ElementsMatch(t, []uint32{3, 5}, port.erased)
}

func TestDataBlockGCSkipsBTOwnedBlocks(t *testing.T) {
	tbl := blocktable.NewTable(4, false)
	for i := range tbl.Entries {
		tbl.Entries[i] = blocktable.Entry{Phys: uint32(i), Kind: blocktable.Discard}
	}
	reg := blocktable.NewRegistry()
	reg.Register(1, blocktable.Location{PhysBlock: 0})
	port := &fakePort{}
	c := &Collector{}
	reclaimed, err := c.DataBlockGC(context.Background(), port, testDevice(), tbl, reg,
		func(context.Context) error { return nil }, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 3, reclaimed)
	assert.Equal(t, blocktable.Discard, tbl.Entries[0].Kind)
}

func TestDataBlockGCReentrancyGuardNoOps(t *testing.T) {
	tbl := blocktable.NewTable(4, false)
	reg := blocktable.NewRegistry()
	port := &fakePort{}
	c := &Collector{}
	c.dataBusy.Store(true)
	reclaimed, err := c.DataBlockGC(context.Background(), port, testDevice(), tbl, reg,
		func(context.Context) error { return nil }, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)
}
