package blocktable

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goftl/goftl/device"
	"github.com/goftl/goftl/lld"
)

func TestNewestGenerationEmptyRegistry(t *testing.T) {
	reg := NewRegistry()
	_, ok := NewestGeneration(reg, testParams())
	assert.False(t, ok)
}

func TestNewestGenerationPicksRingMaximum(t *testing.T) {
	reg := NewRegistry()
	reg.Register(3, Location{PhysBlock: 10})
	reg.Register(7, Location{PhysBlock: 11})
	reg.Register(5, Location{PhysBlock: 12})

	tag, ok := NewestGeneration(reg, testParams())
	require.True(t, ok)
	assert.Equal(t, uint8(7), tag)
}

func TestNewestGenerationSingleEntry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(42, Location{PhysBlock: 5})
	tag, ok := NewestGeneration(reg, testParams())
	require.True(t, ok)
	assert.Equal(t, uint8(42), tag)
}

func TestBTPagesRoundsUp(t *testing.T) {
	assert.Equal(t, uint16(1), BTPages(512, 512))
	assert.Equal(t, uint16(2), BTPages(513, 512))
	assert.Equal(t, uint16(3), BTPages(1536, 512))
}

func TestImageByteLenGrowsWithMLC(t *testing.T) {
	slc := ImageByteLen(100, true, false)
	mlc := ImageByteLen(100, true, true)
	assert.Greater(t, mlc, slc)
}

func TestScanBlockRecoversTagFromSpareSignatureOnMainMismatch(t *testing.T) {
	dev := device.Info{
		TotalBlocks: 16, PagesPerBlock: 8, PageDataSize: 64, PageSpareSize: 16,
		SpectraStartBlock: 0, SpectraEndBlock: 15,
	}
	path := filepath.Join(t.TempDir(), "image.bin")
	port, err := lld.OpenSimFile(path, dev, false)
	require.NoError(t, err)
	defer port.Close()
	ctx := context.Background()

	p := testParams()
	const physBlock = uint32(3)
	const wrongTag = uint8(9)
	const trueTag = uint8(12)

	main := make([]byte, dev.PageDataSize)
	for i := range main {
		main[i] = 0x11
	}
	main[3] = wrongTag
	spare := make([]byte, dev.PageSpareSize)
	copy(spare, p.InsertSignature(trueTag))

	require.NoError(t, port.WritePageMainSpare(ctx, physBlock, 0, main, spare))

	found, err := scanBlock(ctx, port, physBlock, dev.PagesPerBlock, 1, dev.PageDataSize, dev.PageSpareSize, p)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, trueTag, found[0].tag)
}

func TestScanBlockKeepsMainTagWhenSignatureAgrees(t *testing.T) {
	dev := device.Info{
		TotalBlocks: 16, PagesPerBlock: 8, PageDataSize: 64, PageSpareSize: 16,
		SpectraStartBlock: 0, SpectraEndBlock: 15,
	}
	path := filepath.Join(t.TempDir(), "image.bin")
	port, err := lld.OpenSimFile(path, dev, false)
	require.NoError(t, err)
	defer port.Close()
	ctx := context.Background()

	p := testParams()
	const physBlock = uint32(3)
	const tag = uint8(12)

	main := make([]byte, dev.PageDataSize)
	for i := range main {
		main[i] = 0x11
	}
	main[3] = tag
	spare := make([]byte, dev.PageSpareSize)
	copy(spare, p.InsertSignature(tag))

	require.NoError(t, port.WritePageMainSpare(ctx, physBlock, 0, main, spare))

	found, err := scanBlock(ctx, port, physBlock, dev.PagesPerBlock, 1, dev.PageDataSize, dev.PageSpareSize, p)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, tag, found[0].tag)
}
