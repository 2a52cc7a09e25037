package replacement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goftl/goftl/blocktable"
)

func freshTable() *blocktable.Table {
	t := blocktable.NewTable(8, false)
	for i := range t.Entries {
		t.Entries[i] = blocktable.Entry{Phys: uint32(i), Kind: blocktable.Spare}
	}
	t.Entries[0] = blocktable.Entry{Phys: 0, Kind: blocktable.Data}
	t.BlockTableIndex = 0
	return t
}

func TestReplaceOneBlockSwapsAndDiscards(t *testing.T) {
	tbl := freshTable()
	ReplaceOneBlock(tbl, 0, 1)
	assert.Equal(t, blocktable.Data, tbl.Entries[0].Kind)
	assert.Equal(t, uint32(1), tbl.Entries[0].Phys)
	assert.Equal(t, blocktable.Discard, tbl.Entries[1].Kind)
	assert.Equal(t, uint32(0), tbl.Entries[1].Phys)
}

func TestReplaceLWBlockPromotesSpareInPlace(t *testing.T) {
	tbl := freshTable()
	phys, hint, err := ReplaceLWBlock(tbl, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, blocktable.Data, tbl.Entries[2].Kind)
	assert.Equal(t, tbl.Entries[2].Phys, phys)
	assert.Equal(t, GCFail, hint)
}

func TestReplaceLWBlockNoSpareReturnsError(t *testing.T) {
	tbl := blocktable.NewTable(1, false)
	tbl.Entries[0] = blocktable.Entry{Phys: 0, Kind: blocktable.Data}
	_, _, err := ReplaceLWBlock(tbl, 0, 0)
	assert.Equal(t, ErrNoSpare, err)
}

func TestReplaceMWBlockRequiresThreeSpares(t *testing.T) {
	tbl := freshTable()
	for i := 3; i < len(tbl.Entries); i++ {
		tbl.Entries[i] = blocktable.Entry{Phys: uint32(i), Kind: blocktable.Bad}
	}
	_, err := ReplaceMWBlock(tbl)
	assert.Equal(t, ErrTooFewSpares, err)
}

func TestAdjustRelativeEraseSubtractsMinimum(t *testing.T) {
	tbl := freshTable()
	for i := 3; i < len(tbl.Wear); i++ {
		tbl.Wear[i] = 30 // keep slot 0's 10 the minimum over all non-bad slots
	}
	tbl.Wear[0] = 10
	tbl.Wear[1] = 15
	tbl.Wear[2] = 20
	ranWL := AdjustRelativeErase(tbl)
	assert.False(t, ranWL)
	assert.Equal(t, uint8(0), tbl.Wear[0])
	assert.Equal(t, uint8(5), tbl.Wear[1])
	assert.Equal(t, uint8(10), tbl.Wear[2])
}

func TestAdjustRelativeEraseAtZeroSignalsWearLeveling(t *testing.T) {
	tbl := freshTable()
	tbl.Wear[0] = 0
	tbl.Wear[1] = 10
	assert.True(t, AdjustRelativeErase(tbl))
}
