package blocktable

import (
	"context"

	"github.com/goftl/goftl/device"
	"github.com/goftl/goftl/internal/flog"
	"github.com/goftl/goftl/lld"
)

// BTPages is the number of consecutive pages one BT image spans:
// ceil(imageBytes / PageDataSize).
func BTPages(imageBytes int, pageDataSize uint16) uint16 {
	n := imageBytes / int(pageDataSize)
	if imageBytes%int(pageDataSize) != 0 {
		n++
	}
	return uint16(n)
}

// imageByteLen is the worst-case uncompressed serialized size for n
// logical blocks, used to size BTPages before anything has been
// written.
func imageByteLen(n uint32, large24, mlc bool) int {
	width := 4
	if large24 {
		width = 3
	}
	size := PrefixLen + 9 + int(n)*width + int(n) // prefix + checksum/flag/len header + table + wear
	if mlc {
		size += int(n) * 2
	}
	return size
}

// ImageByteLen exposes imageByteLen to callers outside the package
// (package ftl needs it to size the ScanForGenerations/LoadLatestValid
// calls before any image has been read).
func ImageByteLen(n uint32, large24, mlc bool) int {
	return imageByteLen(n, large24, mlc)
}

// found is one generation located during a block scan, in page order.
type found struct {
	tag      uint8
	pageOff  uint16
	image    []byte
	followedByIPF bool
}

// scanBlock walks physBlock page by page looking for back-to-back BT
// images (and the IPF page that may follow the last one). It stops at
// the first unwritten (all-0xFF) page. Each image's tag is primarily
// the main-area prefix byte, but it is cross-checked against the
// spare-area signature written across the image's first and last page
// (persist.go's writeImagePages): when the two first/last signatures
// agree on exactly one candidate tag and it disagrees with the main-area
// byte, the signature wins, recovering the tag mount would otherwise get
// wrong from a scrambled prefix (spec section 4.1 step 1).
func scanBlock(ctx context.Context, port lld.Port, physBlock uint32, pagesPerBlock uint16, btPages uint16, pageDataSize uint16, spareSize uint16, p Params) ([]found, error) {
	var out []found
	off := uint16(0)
	for off+btPages <= pagesPerBlock {
		buf := make([]byte, pageDataSize)
		if err := port.ReadPageMain(ctx, physBlock, off, 1, buf); err != nil {
			return nil, err
		}
		if isErased(buf) {
			break
		}
		if isIPF(buf) {
			if len(out) > 0 {
				out[len(out)-1].followedByIPF = true
			}
			off++
			continue
		}
		// Read the remaining pages of this image's span.
		full := make([]byte, 0, int(btPages)*int(pageDataSize))
		full = append(full, buf...)
		for pg := uint16(1); pg < btPages; pg++ {
			pbuf := make([]byte, pageDataSize)
			if err := port.ReadPageMain(ctx, physBlock, off+pg, 1, pbuf); err != nil {
				return nil, err
			}
			full = append(full, pbuf...)
		}
		tag := buf[3]
		if recovered, ok := recoverTagFromSignature(ctx, port, physBlock, off, off+btPages-1, spareSize, p); ok && recovered != tag {
			flog.Warnf("blocktable: main-area tag %d at block %d page %d disagreed with spare signature, using recovered tag %d", tag, physBlock, off, recovered)
			tag = recovered
		}
		out = append(out, found{tag: tag, pageOff: off, image: full})
		off += btPages
	}
	return out, nil
}

// recoverTagFromSignature reads the spare area of an image's first and
// last page and extracts the tag each signature implies; it reports a
// recovered tag only when both agree on exactly one candidate, per
// signature.go's acceptance rule.
func recoverTagFromSignature(ctx context.Context, port lld.Port, physBlock uint32, firstPage, lastPage uint16, spareSize uint16, p Params) (uint8, bool) {
	if spareSize == 0 {
		return 0, false
	}
	firstSpare := make([]byte, spareSize)
	if err := port.ReadPageSpare(ctx, physBlock, firstPage, firstSpare); err != nil {
		return 0, false
	}
	firstCandidates := p.ExtractTag(firstSpare[:min(int(spareSize), p.SigBytes)])

	lastSpare := firstSpare
	if lastPage != firstPage {
		lastSpare = make([]byte, spareSize)
		if err := port.ReadPageSpare(ctx, physBlock, lastPage, lastSpare); err != nil {
			return 0, false
		}
	}
	lastCandidates := p.ExtractTag(lastSpare[:min(int(spareSize), p.SigBytes)])

	agreed := intersectTags(firstCandidates, lastCandidates)
	if len(agreed) != 1 {
		return 0, false
	}
	return agreed[0], true
}

func intersectTags(a, b []uint8) []uint8 {
	inB := make(map[uint8]bool, len(b))
	for _, t := range b {
		inB[t] = true
	}
	var out []uint8
	for _, t := range a {
		if inB[t] {
			out = append(out, t)
		}
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func isErased(buf []byte) bool {
	for _, b := range buf {
		if b != 0xFF {
			return false
		}
	}
	return true
}

func isIPF(buf []byte) bool {
	for _, b := range buf {
		if b != IPFByte {
			return false
		}
	}
	return true
}

// ScanForGenerations walks every physical block in the logical region,
// recording every (tag -> location) pair found in the returned registry
// and, per tag, whether an IPF page follows that generation. Picking the
// newest tag is left to NewestGeneration. This implements step 1 of
// Read_Block_Table.
func ScanForGenerations(ctx context.Context, port lld.Port, dev device.Info, imageBytes int, p Params) (*Registry, map[uint8]bool, error) {
	reg := NewRegistry()
	ipfFollows := map[uint8]bool{}
	btPages := BTPages(imageBytes, dev.PageDataSize)
	for b := dev.SpectraStartBlock; b <= dev.SpectraEndBlock; b++ {
		gens, err := scanBlock(ctx, port, b, dev.PagesPerBlock, btPages, dev.PageDataSize, dev.PageSpareSize, p)
		if err != nil {
			continue // unreadable block: treat as if it holds nothing, matching a factory-bad skip
		}
		for _, g := range gens {
			reg.Register(g.tag, Location{PhysBlock: b, PageOff: g.pageOff})
			ipfFollows[g.tag] = g.followedByIPF
		}
	}
	return reg, ipfFollows, nil
}

// NewestGeneration resolves the single open question in section 9 of
// the design notes with one explicit, unit-tested rule: it returns the
// numerically highest registered tag. An empty registry returns
// ok=false. Ring position is not consulted: after the tag counter wraps
// from LastBTID back to FirstBTID, a still-registered older generation
// with a higher tag number is returned ahead of the newer, lower tags.
func NewestGeneration(reg *Registry, p Params) (tag uint8, ok bool) {
	tags := reg.Tags()
	if len(tags) == 0 {
		return 0, false
	}
	var maxTag uint8
	first := true
	for _, t := range tags {
		if first || greaterInRing(t, maxTag, p) {
			maxTag = t
			first = false
		}
	}
	// maxTag is the numerically highest registered tag.
	return maxTag, true
}

func prevTag(t uint8, p Params) uint8 {
	v := int(t) - int(p.FirstBTID) - 1
	n := p.N()
	v = ((v % n) + n) % n
	return uint8(v) + p.FirstBTID
}

// greaterInRing compares tags numerically; ring position is not used.
func greaterInRing(a, b uint8, _ Params) bool { return a > b }

// LoadLatestValid implements steps 3-5 of Read_Block_Table: starting
// from the newest generation and walking older ones, decode and
// validate each until one passes, returning its image, its persistence
// status, and the registry location it was read from.
func LoadLatestValid(ctx context.Context, port lld.Port, dev device.Info, reg *Registry, ipfFollows map[uint8]bool, p Params, n uint32, large24, mlc bool, imageBytes int) (*Image, bool, Location, error) {
	tag, ok := NewestGeneration(reg, p)
	if !ok {
		return nil, false, Location{}, ErrNoGeneration
	}
	btPages := BTPages(imageBytes, dev.PageDataSize)
	tried := map[uint8]bool{}
	for {
		if tried[tag] {
			break
		}
		tried[tag] = true
		loc, ok := reg.Lookup(tag)
		if ok {
			raw, err := readImageAt(ctx, port, loc, btPages, dev.PageDataSize)
			if err == nil {
				img, derr := Deserialize(raw, n, large24, mlc)
				if derr == nil {
					if verr := img.Table.Validate(dev.SpectraStartBlock, dev.SpectraEndBlock); verr == nil {
						return img, !ipfFollows[tag], loc, nil
					}
				}
			}
		}
		if len(tried) >= p.N() {
			break
		}
		tag = prevTag(tag, p)
	}
	return nil, false, Location{}, ErrNoGeneration
}

func readImageAt(ctx context.Context, port lld.Port, loc Location, btPages uint16, pageDataSize uint16) ([]byte, error) {
	full := make([]byte, 0, int(btPages)*int(pageDataSize))
	for p := uint16(0); p < btPages; p++ {
		buf := make([]byte, pageDataSize)
		if err := port.ReadPageMain(ctx, loc.PhysBlock, loc.PageOff+p, 1, buf); err != nil {
			return nil, err
		}
		full = append(full, buf...)
	}
	return full, nil
}
