// Package cmddma implements the optional CMD-DMA shadow log (spec
// section 4.7): a per-batch snapshot of the block table plus an
// append-only delta log, replayed or rolled back once the LLD reports
// a batch's aggregate completion status.
package cmddma

import (
	"context"

	"github.com/pierrec/lz4/v4"

	"github.com/goftl/goftl/blocktable"
	"github.com/goftl/goftl/cache"
	"github.com/goftl/goftl/internal/flog"
	"github.com/goftl/goftl/lld"
)

// Field identifies which column of a block-table entry a Delta
// touches.
type Field uint8

const (
	FieldEntry Field = iota
	FieldWear
	FieldRead
)

// Delta is one in-memory mutation recorded during a batch, tagged with
// the LLD command sequence (Tag) it logically belongs to so a
// mid-batch failure can tell which deltas happened and which didn't.
type Delta struct {
	Tag     uint64
	Logical uint32
	Field   Field
	Entry   blocktable.Entry
	Wear    uint8
	Read    uint16
}

// Log is the per-batch shadow state: the snapshot taken at batch start
// and the deltas recorded since.
type Log struct {
	snapshot *blocktable.Table
	deltas   []Delta

	// archive holds lz4-compressed segments of deltas once they've
	// been resolved, bounding the live slice's growth across many
	// batches. Nothing in this module reads the archive back.
	archive [][]byte
}

// Begin snapshots live at the start of a batch.
func Begin(live *blocktable.Table) *Log {
	return &Log{snapshot: live.Clone()}
}

// Record appends one delta, called by the ftl package every time it
// mutates live during a CMD-DMA batch.
func (l *Log) Record(d Delta) {
	l.deltas = append(l.deltas, d)
}

// applyDelta applies one delta to target.
func applyDelta(target *blocktable.Table, d Delta) {
	switch d.Field {
	case FieldEntry:
		target.Entries[d.Logical] = d.Entry
	case FieldWear:
		target.Wear[d.Logical] = d.Wear
	case FieldRead:
		if target.Read != nil {
			target.Read[d.Logical] = d.Read
		}
	}
}

// archiveDeltas lz4-compresses ds and appends it to the archive (raw,
// if compression fails). Callers reset l.deltas themselves.
func (l *Log) archiveDeltas(ds []Delta) {
	if len(ds) == 0 {
		return
	}
	raw := encodeDeltas(ds)
	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
	var c lz4.Compressor
	n, err := c.CompressBlock(raw, compressed)
	if err != nil || n == 0 {
		flog.Warnf("cmddma: lz4 compression of %d deltas failed, keeping raw: %v", len(ds), err)
		l.archive = append(l.archive, raw)
		return
	}
	l.archive = append(l.archive, compressed[:n])
}

func encodeDeltas(ds []Delta) []byte {
	// A compact fixed-width encoding is enough here; this is archival
	// bookkeeping, not the on-flash format.
	out := make([]byte, 0, len(ds)*20)
	for _, d := range ds {
		var buf [20]byte
		putU64(buf[0:8], d.Tag)
		putU32(buf[8:12], d.Logical)
		buf[12] = byte(d.Field)
		putU32(buf[13:17], d.Entry.Phys)
		buf[17] = byte(d.Entry.Kind)
		buf[18] = d.Wear
		putU16(buf[19:20], 0) // reserved; the Read counter is not archived
		out = append(out, buf[:]...)
	}
	return out
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}
func putU32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (24 - 8*i))
	}
}
func putU16(b []byte, v uint16) {
	if len(b) < 1 {
		return
	}
	b[0] = byte(v)
}

// Outcome is what EventStatus returns to the caller after Resolve.
type Outcome struct {
	Committed   *blocktable.Table // the resolved snapshot; on rollback live has already been restored from it
	RolledBack  bool
	BadBlocks   []uint32
}

// Resolve implements the two branches of section 4.7's "on event-status
// callback": replay-all on success, or apply-then-rollback on failure.
// pending is the LLD's per-command outcome array in submission order;
// live is mutated in place to become the post-resolution state.
func Resolve(ctx context.Context, l *Log, agg lld.EventStatus, pending []lld.PendingCmd, live *blocktable.Table, c *cache.Cache, blockSize uint64) Outcome {
	if agg == lld.StatusPass {
		for _, d := range l.deltas {
			applyDelta(l.snapshot, d)
		}
		l.archiveDeltas(l.deltas)
		l.deltas = nil
		return Outcome{Committed: l.snapshot}
	}

	// Failure: find the first failing command's tag, apply every delta
	// belonging to an earlier tag to the snapshot (those writes
	// happened), report the failed erase/program blocks in BadBlocks,
	// drop the cached windows of the logical blocks mapped to them, then
	// roll live back to the snapshot.
	var failTag uint64
	failTagSet := false
	var bad []uint32
	for _, p := range pending {
		if p.Status != lld.StatusPass && !failTagSet {
			failTag = p.Tag
			failTagSet = true
		}
	}
	if !failTagSet {
		// No explicit failing command found in the pending array but
		// the aggregate says failure: be conservative and roll back
		// everything in this batch.
		failTag = 0
	}

	for _, d := range l.deltas {
		if failTagSet && d.Tag < failTag {
			applyDelta(l.snapshot, d)
		}
	}
	for _, p := range pending {
		if p.Status == lld.StatusPass {
			continue
		}
		switch p.Cmd {
		case lld.CmdErase, lld.CmdWrite:
			bad = append(bad, p.Block)
		}
		if c != nil {
			// The cache is keyed by logical address: find the logical
			// slot live maps to the failed physical block.
			for i, e := range live.Entries {
				if e.Phys == p.Block {
					c.InvalidateBlock(uint64(i)*blockSize, blockSize)
				}
			}
		}
	}

	*live = *l.snapshot.Clone()
	l.archiveDeltas(l.deltas)
	l.deltas = nil
	return Outcome{Committed: l.snapshot, RolledBack: true, BadBlocks: bad}
}
