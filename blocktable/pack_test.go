package blocktable

import (
	"testing"

	"github.com/smartystreets/assertions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPack24RoundTrip(t *testing.T) {
	cases := []Entry{
		{Phys: 0, Kind: Data},
		{Phys: 1, Kind: Spare},
		{Phys: 0x3FFFFE, Kind: Discard},
		{Phys: 0x123456 & physMask, Kind: Bad},
	}
	for _, e := range cases {
		got := Unpack24(Pack24(e))
		require.Equal(t, e.Kind, got.Kind)
		assert.Equal(t, e.Phys, got.Phys)
	}
}

func TestPack32RoundTrip(t *testing.T) {
	e := Entry{Phys: 0x2BCDEF, Kind: Discard}
	got := Unpack32(Pack32(e))
	assert.Equal(t, e, got)
}

func TestPackTableRoundTrip(t *testing.T) {
	entries := []Entry{
		{Phys: 10, Kind: Data},
		{Phys: 11, Kind: Spare},
		{Phys: 12, Kind: Bad},
	}
	for _, large24 := range []bool{true, false} {
		buf := PackTable(entries, large24)
		got := UnpackTable(buf, large24)
		require.Len(t, got, len(entries))
		for i := range entries {
			assert.Equal(t, entries[i], got[i])
		}
	}
}

// TestPack24FullRange exercises the property named in the design
// notes: round-trip holds across [0, end], sampled every 37 values.
func TestPack24FullRange(t *testing.T) {
	const end = 0x4000
	for phys := uint32(0); phys <= end; phys += 37 {
		e := Entry{Phys: phys, Kind: Data}
		got := Unpack24(Pack24(e))
		// smartystreets/assertions used here for variety, matching how
		// the corpus occasionally mixes assertion styles.
		if msg := assertions.ShouldEqual(got.Phys, e.Phys); msg != "" {
			t.Fatalf("phys %d: %s", phys, msg)
		}
	}
}
