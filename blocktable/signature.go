package blocktable

// BT signature: a short arithmetic progression embedded in the spare
// area of the first and last page of a BT image, letting mount
// recovery identify which tag a block was written with even if the
// main-area prefix byte is unreadable.
//
//	sig[i] = ((tag + i*Delta - FirstBTID) mod N) + FirstBTID
//
// Extraction recovers tag from any two signature bytes whose
// difference is a multiple of Delta by back-solving; a tag is accepted
// only when the first-page and last-page signatures agree (see
// mount.go).

// InsertSignature returns the BTSigBytes-length signature for tag.
func (p Params) InsertSignature(tag uint8) []byte {
	sig := make([]byte, p.SigBytes)
	for i := 0; i < p.SigBytes; i++ {
		sig[i] = p.wrapTag(int(tag) + i*int(p.SigDelta))
	}
	return sig
}

// ExtractTag recovers every tag consistent with sig by trying each pair
// of entries whose implied step count divides evenly by Delta,
// returning the set of candidates (normally exactly one for a
// well-formed signature, per invariant testable property 6).
func (p Params) ExtractTag(sig []byte) []uint8 {
	seen := map[uint8]bool{}
	var out []uint8
	n := p.N()
	for i := 0; i < len(sig); i++ {
		for j := 0; j < len(sig); j++ {
			if i == j {
				continue
			}
			// sig[j] - sig[i] == (j-i)*Delta (mod N); solve for tag
			// using i as the anchor: tag = sig[i] - i*Delta (mod N).
			diff := (int(sig[j]) - int(sig[i])) - (j-i)*int(p.SigDelta)
			if ((diff % n) + n) % n != 0 {
				continue
			}
			tag := p.wrapTag(int(sig[i]) - i*int(p.SigDelta))
			if !seen[tag] {
				seen[tag] = true
				out = append(out, tag)
			}
		}
	}
	if len(out) == 0 && len(sig) > 0 {
		// A single-byte signature (or a signature with no internal
		// consistency) still yields one candidate: treat sig[0] as if
		// i==0.
		out = append(out, p.wrapTag(int(sig[0])))
	}
	return out
}
