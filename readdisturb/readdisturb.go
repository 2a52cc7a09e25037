// Package readdisturb tracks per-physical-block read counts and
// migrates data off a block before read-disturb can corrupt it (spec
// section 4.5).
package readdisturb

import (
	"context"
	"fmt"

	"github.com/goftl/goftl/blocktable"
	"github.com/goftl/goftl/device"
	"github.com/goftl/goftl/lld"
	"github.com/goftl/goftl/replacement"
)

var ErrNoSpareForMigration = fmt.Errorf("readdisturb: no spare block available for migration even after GC")

// RunGC lets Migrate force a collection pass when spares are scarce,
// supplied by the caller (package ftl) to avoid an import cycle between
// readdisturb and gc's caller.
type RunGC func(ctx context.Context) error

// Track increments the read counter for logical slot i (already
// resolved from the caller's logical byte address) and reports whether
// MAX_READ_COUNTER has been reached.
func Track(t *blocktable.Table, i uint32, maxReadCounter uint16) (triggered bool) {
	if t.Read == nil {
		return false // SLC device: no read-disturb tracking
	}
	if t.Read[i] < 0xFFFF {
		t.Read[i]++
	}
	return t.Read[i] >= maxReadCounter
}

// Migrate is Read_Disturbance(b): find the Spare slot with the lowest
// read counter, copy b's data there, and swap the mappings (old ->
// Discard, new -> Data). Each attempt that finds fewer than
// freeBlocksGate spares runs GC and retries. On a failed copy to the
// destination, the destination is marked Bad and migration retries
// against the next candidate. The attempt limit is the current spare
// count plus one, re-evaluated before every attempt.
func Migrate(ctx context.Context, port lld.Port, dev device.Info, t *blocktable.Table, logicalSlot uint32, freeBlocksGate int, runGC RunGC, scratch []byte) error {
	for attempt := 0; attempt < maxAttempts(t); attempt++ {
		_, spareCount, _, _ := t.CountByKind()
		if spareCount < freeBlocksGate {
			if err := runGC(ctx); err != nil {
				return err
			}
			continue
		}
		dstSlot, ok := lowestReadSpare(t)
		if !ok {
			return ErrNoSpareForMigration
		}
		srcPhys := t.Entries[logicalSlot].Phys
		dstPhys := t.Entries[dstSlot].Phys

		if err := replacement.CopyBlock(ctx, port, dev, srcPhys, dstPhys, scratch); err != nil {
			t.Entries[dstSlot] = blocktable.Entry{Phys: dstPhys, Kind: blocktable.Bad}
			continue
		}
		t.Entries[logicalSlot] = blocktable.Entry{Phys: dstPhys, Kind: blocktable.Data}
		t.Entries[dstSlot] = blocktable.Entry{Phys: srcPhys, Kind: blocktable.Discard}
		if t.Read != nil {
			t.Read[logicalSlot] = 0
		}
		return nil
	}
	return ErrNoSpareForMigration
}

func maxAttempts(t *blocktable.Table) int {
	_, spareCount, _, _ := t.CountByKind()
	if spareCount < 1 {
		return 1
	}
	return spareCount + 1
}

func lowestReadSpare(t *blocktable.Table) (slot uint32, ok bool) {
	best := uint32(0)
	bestRead := uint16(0xFFFF)
	found := false
	for i, e := range t.Entries {
		if e.Kind != blocktable.Spare {
			continue
		}
		r := uint16(0)
		if t.Read != nil {
			r = t.Read[i]
		}
		if !found || r < bestRead {
			best, bestRead, found = uint32(i), r, true
		}
	}
	return best, found
}
