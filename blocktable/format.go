package blocktable

import "github.com/goftl/goftl/device"

// BlockTableIndex is the reserved logical slot the live BT image is
// always mapped through (invariant 3). Block 0 of the logical region,
// matching the original driver's convention.
const BlockTableIndex = 0

// Format builds the fresh in-memory table for a newly formatted
// device: every non-bad logical slot is Spare except BlockTableIndex,
// which is Data (it will be assigned a physical block by the first
// WriteBlockTable/rotate call). badBlocks flags factory-bad physical
// blocks at their corresponding logical slot index.
func Format(dev device.Info, mlc bool, badBlocks map[uint32]bool) *Table {
	n := dev.DataBlockNum()
	t := NewTable(n, mlc)
	t.BlockTableIndex = BlockTableIndex
	for i := uint32(0); i < n; i++ {
		phys := dev.SpectraStartBlock + i
		if badBlocks[phys] {
			t.Entries[i] = Entry{Phys: phys, Kind: Bad}
			continue
		}
		t.Entries[i] = Entry{Phys: phys, Kind: Spare}
	}
	t.Entries[t.BlockTableIndex] = Entry{Phys: dev.SpectraStartBlock + t.BlockTableIndex, Kind: Data}
	return t
}
