// Package gc implements data-block and BT-block garbage collection
// (spec section 4.4): reclaiming Discard slots back to Spare by
// erasing their physical blocks, and separately reclaiming superseded
// BT-block generations.
package gc

import (
	"context"
	"sort"

	"go.uber.org/atomic"

	"github.com/goftl/goftl/blocktable"
	"github.com/goftl/goftl/device"
	"github.com/goftl/goftl/internal/flog"
	"github.com/goftl/goftl/lld"
)

// DefaultCmdBudgetHeadroom bounds how many CMD-DMA commands one
// BT-block GC sweep is allowed to compose before yielding, so a single
// call never produces an unbounded batch. Derived (not copied) from the
// worst-case per-iteration expansion: a spare pick plus one erase plus
// one IPF write per reclaimed BT-block generation, headroomed for the
// widest op this package composes (see SPEC_FULL.md's Open Question
// resolution #2).
const DefaultCmdBudgetHeadroom = 28

// Collector runs data-block and BT-block GC with single-entry
// re-entrancy guards, matching BT_GC_Called/GC_Called in the original
// driver but as visible fields rather than hidden globals.
type Collector struct {
	dataBusy atomic.Bool
	btBusy   atomic.Bool
}

// MarkIPF is supplied by the caller (package ftl) so GC can satisfy
// the persistence lower bound before mutating the table.
type MarkIPF func(ctx context.Context) error

// PersistTable is supplied by the caller to write the block table back
// out once GC has finished mutating it.
type PersistTable func(ctx context.Context) error

// DataBlockGC is Garbage_Collection: runs BT-block GC first, then
// reclaims every Discard, non-Bad logical slot whose physical block is
// not owned by the BT registry (BT-GC owns those) by erasing it back to
// Spare. Returns the number of blocks reclaimed.
func (c *Collector) DataBlockGC(ctx context.Context, port lld.Port, dev device.Info, t *blocktable.Table, reg *blocktable.Registry, markIPF MarkIPF, persist PersistTable) (int, error) {
	if !c.dataBusy.CAS(false, true) {
		return 0, nil // re-entrant call: return success without acting
	}
	defer c.dataBusy.Store(false)

	if _, err := c.BTGarbageCollection(ctx, port, t, reg, DefaultCmdBudgetHeadroom); err != nil {
		return 0, err
	}

	_, _, discardCount, _ := t.CountByKind()
	if discardCount == 0 {
		return 0, nil
	}

	owned := reg.PhysicalBlocks()
	reclaimed := 0
	ipfWritten := false
	for i := range t.Entries {
		e := t.Entries[i]
		if e.Kind != blocktable.Discard {
			continue
		}
		if owned[e.Phys] {
			continue // this physical block's image is a BT generation; BT-GC owns it
		}
		if !ipfWritten {
			if err := markIPF(ctx); err != nil {
				return reclaimed, err
			}
			ipfWritten = true
		}
		if err := port.EraseBlock(ctx, e.Phys); err != nil {
			flog.Warnf("gc: erase of block %d failed, marking bad: %v", e.Phys, err)
			t.Entries[i] = blocktable.Entry{Phys: e.Phys, Kind: blocktable.Bad}
			continue
		}
		t.Entries[i] = blocktable.Entry{Phys: e.Phys, Kind: blocktable.Spare}
		t.RecordErase(uint32(i))
		reclaimed++
	}
	if ipfWritten {
		if err := persist(ctx); err != nil {
			return reclaimed, err
		}
	}
	return reclaimed, nil
}

// BTGarbageCollection is BT_Garbage_Collection: walk the registered
// tags in ring order starting just after the registry's last-erased
// tag, erasing (and unregistering) every registered physical block other
// than the one BlockTableIndex currently maps — i.e. a superseded
// generation's block — up to budget commands' worth of work. The kind of
// the slot holding that block is not checked.
func (c *Collector) BTGarbageCollection(ctx context.Context, port lld.Port, t *blocktable.Table, reg *blocktable.Registry, budget int) (int, error) {
	if !c.btBusy.CAS(false, true) {
		return 0, nil
	}
	defer c.btBusy.Store(false)

	tags := reg.Tags()
	if len(tags) == 0 {
		return 0, nil
	}
	// Resume just past the last-erased tag; uint8 wrap-around keeps the
	// ring order.
	last := reg.LastErased()
	sort.Slice(tags, func(i, j int) bool { return tags[i]-last-1 < tags[j]-last-1 })
	reclaimed := 0
	spent := 0
	// A generation's physical block is reclaimable once it is no
	// longer the one backing BlockTableIndex's live mapping.
	live := t.Entries[t.BlockTableIndex].Phys
	for _, tag := range tags {
		if spent >= budget {
			break
		}
		loc, ok := reg.Lookup(tag)
		if !ok || loc.PhysBlock == live {
			continue
		}
		if err := port.EraseBlock(ctx, loc.PhysBlock); err != nil {
			flog.Warnf("gc: BT block %d erase failed: %v", loc.PhysBlock, err)
			continue
		}
		reg.Unregister(tag)
		reg.SetLastErased(tag)
		reclaimed++
		spent += 2 // one erase command plus its completion bookkeeping
	}
	return reclaimed, nil
}
