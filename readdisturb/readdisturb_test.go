package readdisturb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goftl/goftl/blocktable"
	"github.com/goftl/goftl/device"
	"github.com/goftl/goftl/lld"
)

func testDevice() device.Info {
	return device.Info{TotalBlocks: 8, PagesPerBlock: 4, PageDataSize: 64, SpectraStartBlock: 0, SpectraEndBlock: 7, MLC: true}
}

func openPort(t *testing.T) *lld.SimFile {
	dev := testDevice()
	p, err := lld.OpenSimFile(filepath.Join(t.TempDir(), "nand.img"), dev, false)
	require.NoError(t, err)
	return p
}

func freshMLCTable() *blocktable.Table {
	tbl := blocktable.NewTable(8, true)
	for i := range tbl.Entries {
		tbl.Entries[i] = blocktable.Entry{Phys: uint32(i), Kind: blocktable.Spare}
	}
	tbl.Entries[0] = blocktable.Entry{Phys: 0, Kind: blocktable.Data}
	return tbl
}

func TestTrackIgnoresSLCDevice(t *testing.T) {
	tbl := blocktable.NewTable(4, false)
	triggered := Track(tbl, 0, 10)
	assert.False(t, triggered)
}

func TestTrackTriggersAtMaxCounter(t *testing.T) {
	tbl := blocktable.NewTable(4, true)
	var triggered bool
	for i := 0; i < 5; i++ {
		triggered = Track(tbl, 0, 5)
	}
	assert.True(t, triggered)
	assert.Equal(t, uint16(5), tbl.Read[0])
}

func TestTrackSaturatesAt0xFFFF(t *testing.T) {
	tbl := blocktable.NewTable(4, true)
	tbl.Read[0] = 0xFFFF
	Track(tbl, 0, 0xFFFF)
	assert.Equal(t, uint16(0xFFFF), tbl.Read[0])
}

func TestMigrateMovesDataToLowestReadSpare(t *testing.T) {
	port := openPort(t)
	dev := testDevice()
	tbl := freshMLCTable()
	tbl.Read[3] = 5
	tbl.Read[2] = 1

	scratch := make([]byte, dev.PageDataSize)
	ranGC := false
	err := Migrate(context.Background(), port, dev, tbl, 0, 1,
		func(ctx context.Context) error { ranGC = true; return nil }, scratch)
	require.NoError(t, err)
	assert.False(t, ranGC)
	assert.Equal(t, blocktable.Data, tbl.Entries[0].Kind)
	assert.Equal(t, uint32(1), tbl.Entries[0].Phys)
	assert.Equal(t, blocktable.Discard, tbl.Entries[1].Kind)
	assert.Equal(t, uint16(0), tbl.Read[0])
}

func TestMigrateRunsGCWhenSparesScarce(t *testing.T) {
	port := openPort(t)
	dev := testDevice()
	tbl := blocktable.NewTable(2, true)
	tbl.Entries[0] = blocktable.Entry{Phys: 0, Kind: blocktable.Data}
	tbl.Entries[1] = blocktable.Entry{Phys: 1, Kind: blocktable.Spare}

	scratch := make([]byte, dev.PageDataSize)
	calls := 0
	err := Migrate(context.Background(), port, dev, tbl, 0, 5,
		func(ctx context.Context) error {
			calls++
			tbl.Entries = append(tbl.Entries, blocktable.Entry{Phys: 2, Kind: blocktable.Spare})
			tbl.Read = append(tbl.Read, 0)
			tbl.Wear = append(tbl.Wear, 0)
			return nil
		}, scratch)
	require.NoError(t, err)
	assert.Greater(t, calls, 0)
	assert.Equal(t, blocktable.Data, tbl.Entries[0].Kind)
	_, _, discardCount, _ := tbl.CountByKind()
	assert.Equal(t, 1, discardCount)
}

func TestMigrateNoSpareReturnsError(t *testing.T) {
	port := openPort(t)
	dev := testDevice()
	tbl := blocktable.NewTable(1, true)
	tbl.Entries[0] = blocktable.Entry{Phys: 0, Kind: blocktable.Data}

	scratch := make([]byte, dev.PageDataSize)
	err := Migrate(context.Background(), port, dev, tbl, 0, 0,
		func(ctx context.Context) error { return nil }, scratch)
	assert.Equal(t, ErrNoSpareForMigration, err)
}
