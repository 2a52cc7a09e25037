package cmddma

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goftl/goftl/blocktable"
	"github.com/goftl/goftl/cache"
	"github.com/goftl/goftl/lld"
)

func freshTable() *blocktable.Table {
	t := blocktable.NewTable(4, false)
	for i := range t.Entries {
		t.Entries[i] = blocktable.Entry{Phys: uint32(i), Kind: blocktable.Spare}
	}
	t.Entries[0] = blocktable.Entry{Phys: 0, Kind: blocktable.Data}
	return t
}

func TestResolveOnPassReplaysDeltasIntoSnapshot(t *testing.T) {
	live := freshTable()
	l := Begin(live)
	l.Record(Delta{Tag: 1, Logical: 1, Field: FieldEntry, Entry: blocktable.Entry{Phys: 1, Kind: blocktable.Data}})
	l.Record(Delta{Tag: 2, Logical: 1, Field: FieldWear, Wear: 3})

	live.Entries[1] = blocktable.Entry{Phys: 1, Kind: blocktable.Data}
	live.Wear[1] = 3

	out := Resolve(context.Background(), l, lld.StatusPass, nil, live, nil, 256)
	require.NotNil(t, out.Committed)
	assert.False(t, out.RolledBack)
	assert.Equal(t, blocktable.Data, out.Committed.Entries[1].Kind)
	assert.Equal(t, uint8(3), out.Committed.Wear[1])
	assert.Empty(t, l.deltas)
}

func TestResolveOnFailureRollsBackLiveToSnapshot(t *testing.T) {
	live := freshTable()
	l := Begin(live)

	l.Record(Delta{Tag: 1, Logical: 1, Field: FieldEntry, Entry: blocktable.Entry{Phys: 1, Kind: blocktable.Data}})
	live.Entries[1] = blocktable.Entry{Phys: 1, Kind: blocktable.Data}

	l.Record(Delta{Tag: 2, Logical: 2, Field: FieldEntry, Entry: blocktable.Entry{Phys: 2, Kind: blocktable.Data}})
	live.Entries[2] = blocktable.Entry{Phys: 2, Kind: blocktable.Data}

	pending := []lld.PendingCmd{
		{Cmd: lld.CmdWrite, Status: lld.StatusPass, Block: 1, Tag: 1},
		{Cmd: lld.CmdWrite, Status: lld.StatusProgramFail, Block: 2, Tag: 2},
	}

	out := Resolve(context.Background(), l, lld.StatusProgramFail, pending, live, nil, 256)
	assert.True(t, out.RolledBack)
	assert.Equal(t, []uint32{2}, out.BadBlocks)
	// tag 1's write happened before the failure, so it survives rollback
	assert.Equal(t, blocktable.Data, live.Entries[1].Kind)
	// tag 2's write never completed; live reverts to the pre-batch Spare
	assert.Equal(t, blocktable.Spare, live.Entries[2].Kind)
}

func TestResolveOnFailureInvalidatesCacheForFailedBlocks(t *testing.T) {
	live := freshTable()
	l := Begin(live)
	c := cache.New(2, 256)
	c.Replace(0, uint64(2)*256)

	pending := []lld.PendingCmd{
		{Cmd: lld.CmdWrite, Status: lld.StatusProgramFail, Block: 2, Tag: 1},
	}
	Resolve(context.Background(), l, lld.StatusProgramFail, pending, live, c, 256)

	_, hit := c.Lookup(uint64(2) * 256)
	assert.False(t, hit)
}

func TestResolveWithNoExplicitFailingCommandRollsBackEverything(t *testing.T) {
	live := freshTable()
	l := Begin(live)
	l.Record(Delta{Tag: 1, Logical: 1, Field: FieldEntry, Entry: blocktable.Entry{Phys: 1, Kind: blocktable.Data}})
	live.Entries[1] = blocktable.Entry{Phys: 1, Kind: blocktable.Data}

	out := Resolve(context.Background(), l, lld.StatusDMAFail, nil, live, nil, 256)
	assert.True(t, out.RolledBack)
	assert.Equal(t, blocktable.Spare, live.Entries[1].Kind)
}
