package blocktable

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
	"github.com/golang/snappy"
)

// IPFByte is the fill byte of the in-progress-flag sentinel page
// (g_pIPF in the original driver: a zeroed page). It is distinguishable
// from an erased page, which reads back as 0xFF.
const IPFByte = 0x00

// PrefixLen is the 4-byte prefix at the start of page 0 of an image;
// its last byte is the current BT tag (main[3] in the mount scan).
const PrefixLen = 4

// Image is the decoded form of one BT generation: the LBA->PBA table,
// wear counters, and (MLC) read counters, tagged with the generation
// number that was written alongside it.
type Image struct {
	Tag  uint8
	Table *Table
}

// Serialize produces the on-flash byte image for im: a 4-byte prefix
// (reserved bytes + tag), a header (4-byte xxhash checksum of the
// payload, 1-byte compression flag, 4-byte uncompressed payload length),
// then the payload: the packed LBA->PBA table, the wear-counter table,
// and (MLC) the read-counter table, matching section 4.1's layout. When
// compress is true the payload is snappy-compressed; persist.go asks for
// this when the BT block's remaining headroom is tight.
func (im *Image) Serialize(large24, mlc, compress bool) []byte {
	payload := PackTable(im.Table.Entries, large24)
	payload = append(payload, im.Table.Wear...)
	if mlc {
		rc := make([]byte, len(im.Table.Read)*2)
		for i, v := range im.Table.Read {
			binary.BigEndian.PutUint16(rc[i*2:], v)
		}
		payload = append(payload, rc...)
	}

	sum := xxhash.Checksum32(payload)

	prefix := make([]byte, PrefixLen)
	prefix[3] = im.Tag

	body := payload
	flag := byte(0)
	if compress {
		body = snappy.Encode(nil, payload)
		flag = 1
	}

	out := make([]byte, 0, PrefixLen+4+4+len(body))
	out = append(out, prefix...)
	var sumBuf [4]byte
	binary.BigEndian.PutUint32(sumBuf[:], sum)
	out = append(out, sumBuf[:]...)
	out = append(out, flag)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	out = append(out, lenBuf[:]...)
	out = append(out, body...)
	return out
}

// Deserialize is Serialize's inverse. n is the logical block count
// (needed to split the flat byte stream back into table/wear/read
// slices); large24/mlc select the same layout Serialize used.
func Deserialize(buf []byte, n uint32, large24, mlc bool) (*Image, error) {
	if len(buf) < PrefixLen+9 {
		return nil, wrap("Deserialize", ErrCorrupt)
	}
	tag := buf[3]
	sum := binary.BigEndian.Uint32(buf[PrefixLen:])
	flag := buf[PrefixLen+4]
	plen := binary.BigEndian.Uint32(buf[PrefixLen+5:])
	body := buf[PrefixLen+9:]

	var payload []byte
	var err error
	if flag == 1 {
		payload, err = snappy.Decode(nil, body)
		if err != nil {
			return nil, wrap("Deserialize", ErrCorrupt)
		}
	} else {
		if uint32(len(body)) < plen {
			return nil, wrap("Deserialize", ErrCorrupt)
		}
		payload = body[:plen]
	}
	if xxhash.Checksum32(payload) != sum {
		return nil, wrap("Deserialize", ErrCorrupt)
	}

	width := 4
	if large24 {
		width = 3
	}
	tableBytes := int(n) * width
	if len(payload) < tableBytes+int(n) {
		return nil, wrap("Deserialize", ErrCorrupt)
	}
	entries := UnpackTable(payload[:tableBytes], large24)
	rest := payload[tableBytes:]
	wear := append([]byte(nil), rest[:n]...)
	t := &Table{Entries: entries, Wear: wear}
	rest = rest[n:]
	if mlc {
		if len(rest) < int(n)*2 {
			return nil, wrap("Deserialize", ErrCorrupt)
		}
		t.Read = make([]uint16, n)
		for i := range t.Read {
			t.Read[i] = binary.BigEndian.Uint16(rest[i*2:])
		}
	}
	return &Image{Tag: tag, Table: t}, nil
}
