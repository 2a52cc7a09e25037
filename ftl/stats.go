package ftl

import (
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// IdentifyInfo is GLOB_FTL_Identify_Device's return value: the
// geometry Init was called with plus the live block-table occupancy.
// It hand-implements easyjson's Marshaler/Unmarshaler the way a
// generated _easyjson.go file would, since this module carries no code
// generation step of its own.
type IdentifyInfo struct {
	TotalBlocks   uint32 `json:"total_blocks"`
	PagesPerBlock uint16 `json:"pages_per_block"`
	PageDataSize  uint16 `json:"page_data_size"`
	PageSpareSize uint16 `json:"page_spare_size"`
	MLC           bool   `json:"mlc"`
	DataBlockNum  uint32 `json:"data_block_num"`
	DataBlocks    uint32 `json:"data_blocks"`
	SpareBlocks   uint32 `json:"spare_blocks"`
	DiscardBlocks uint32 `json:"discard_blocks"`
	BadBlocks     uint32 `json:"bad_blocks"`
	CmdDMA        bool   `json:"cmd_dma"`
}

// MarshalJSON implements json.Marshaler via easyjson.
func (v IdentifyInfo) MarshalJSON() ([]byte, error) {
	return easyjson.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler via easyjson.
func (v *IdentifyInfo) UnmarshalJSON(data []byte) error {
	return easyjson.Unmarshal(data, v)
}

// MarshalEasyJSON implements easyjson.Marshaler.
func (v IdentifyInfo) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawByte('{')
	w.RawString(`"total_blocks":`)
	w.Uint32(v.TotalBlocks)
	w.RawString(`,"pages_per_block":`)
	w.Uint16(v.PagesPerBlock)
	w.RawString(`,"page_data_size":`)
	w.Uint16(v.PageDataSize)
	w.RawString(`,"page_spare_size":`)
	w.Uint16(v.PageSpareSize)
	w.RawString(`,"mlc":`)
	w.Bool(v.MLC)
	w.RawString(`,"data_block_num":`)
	w.Uint32(v.DataBlockNum)
	w.RawString(`,"data_blocks":`)
	w.Uint32(v.DataBlocks)
	w.RawString(`,"spare_blocks":`)
	w.Uint32(v.SpareBlocks)
	w.RawString(`,"discard_blocks":`)
	w.Uint32(v.DiscardBlocks)
	w.RawString(`,"bad_blocks":`)
	w.Uint32(v.BadBlocks)
	w.RawString(`,"cmd_dma":`)
	w.Bool(v.CmdDMA)
	w.RawByte('}')
}

// UnmarshalEasyJSON implements easyjson.Unmarshaler.
func (v *IdentifyInfo) UnmarshalEasyJSON(l *jlexer.Lexer) {
	l.Delim('{')
	for !l.IsDelim('}') {
		key := l.UnsafeFieldName(false)
		l.WantColon()
		switch key {
		case "total_blocks":
			v.TotalBlocks = l.Uint32()
		case "pages_per_block":
			v.PagesPerBlock = l.Uint16()
		case "page_data_size":
			v.PageDataSize = l.Uint16()
		case "page_spare_size":
			v.PageSpareSize = l.Uint16()
		case "mlc":
			v.MLC = l.Bool()
		case "data_block_num":
			v.DataBlockNum = l.Uint32()
		case "data_blocks":
			v.DataBlocks = l.Uint32()
		case "spare_blocks":
			v.SpareBlocks = l.Uint32()
		case "discard_blocks":
			v.DiscardBlocks = l.Uint32()
		case "bad_blocks":
			v.BadBlocks = l.Uint32()
		case "cmd_dma":
			v.CmdDMA = l.Bool()
		default:
			l.SkipRecursive()
		}
		l.WantComma()
	}
	l.Delim('}')
}

// Stats is the running counters ftlctl's inspect/serve subcommands
// report: cache hit/miss totals plus the current block-table tally.
type Stats struct {
	CacheHits     uint64 `json:"cache_hits"`
	CacheMisses   uint64 `json:"cache_misses"`
	DataBlocks    uint32 `json:"data_blocks"`
	SpareBlocks   uint32 `json:"spare_blocks"`
	DiscardBlocks uint32 `json:"discard_blocks"`
	BadBlocks     uint32 `json:"bad_blocks"`
}

func (v Stats) MarshalJSON() ([]byte, error) { return easyjson.Marshal(v) }

func (v *Stats) UnmarshalJSON(data []byte) error { return easyjson.Unmarshal(data, v) }

func (v Stats) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawByte('{')
	w.RawString(`"cache_hits":`)
	w.Uint64(v.CacheHits)
	w.RawString(`,"cache_misses":`)
	w.Uint64(v.CacheMisses)
	w.RawString(`,"data_blocks":`)
	w.Uint32(v.DataBlocks)
	w.RawString(`,"spare_blocks":`)
	w.Uint32(v.SpareBlocks)
	w.RawString(`,"discard_blocks":`)
	w.Uint32(v.DiscardBlocks)
	w.RawString(`,"bad_blocks":`)
	w.Uint32(v.BadBlocks)
	w.RawByte('}')
}

func (v *Stats) UnmarshalEasyJSON(l *jlexer.Lexer) {
	l.Delim('{')
	for !l.IsDelim('}') {
		key := l.UnsafeFieldName(false)
		l.WantColon()
		switch key {
		case "cache_hits":
			v.CacheHits = l.Uint64()
		case "cache_misses":
			v.CacheMisses = l.Uint64()
		case "data_blocks":
			v.DataBlocks = l.Uint32()
		case "spare_blocks":
			v.SpareBlocks = l.Uint32()
		case "discard_blocks":
			v.DiscardBlocks = l.Uint32()
		case "bad_blocks":
			v.BadBlocks = l.Uint32()
		default:
			l.SkipRecursive()
		}
		l.WantComma()
	}
	l.Delim('}')
}

// Stats reports the FTL's current cache and block-table counters.
func (f *Ftl) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	hits, misses := f.cacheStore.Stats()
	data, spare, discard, bad := f.table.CountByKind()
	return Stats{
		CacheHits:     hits,
		CacheMisses:   misses,
		DataBlocks:    uint32(data),
		SpareBlocks:   uint32(spare),
		DiscardBlocks: uint32(discard),
		BadBlocks:     uint32(bad),
	}
}

// BlockTableBytes is get_blk_table_len: the in-memory block table's size
// were it packed as one physical pointer per logical block, used by
// ftlctl inspect to report memory footprint alongside the on-flash
// image size (which additionally carries packed flag bits and, on MLC
// devices, the read-counter column).
func (f *Ftl) BlockTableBytes() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dev.DataBlockNum() * 4
}

// WearTableBytes is get_wear_leveling_table_len: one erase-count byte
// per logical block.
func (f *Ftl) WearTableBytes() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dev.DataBlockNum()
}
