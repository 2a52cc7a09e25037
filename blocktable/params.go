package blocktable

// Params is the subset of conf.Tunables the blocktable package needs to
// do tag arithmetic and signature round-trips, passed in rather than
// imported so this package stays independent of the conf loader.
type Params struct {
	FirstBTID uint8
	LastBTID  uint8
	SigBytes  int
	SigDelta  uint8
}

// N is the size of the tag ring [FirstBTID, LastBTID].
func (p Params) N() int { return int(p.LastBTID) - int(p.FirstBTID) + 1 }

// Validate enforces the two tunable preconditions from spec section 6:
// LAST_BT_ID must exceed FIRST_BT_ID by more than 3, and
// BTSIG_BYTES*BTSIG_DELTA must stay within one signature period.
func (p Params) Validate() error {
	if int(p.LastBTID) <= int(p.FirstBTID)+3 {
		return ErrTagRangeInvalid
	}
	if p.SigBytes*int(p.SigDelta) >= p.N() {
		return ErrSignaturePeriod
	}
	return nil
}

// wrapTag normalizes v into [FirstBTID, LastBTID] by modular arithmetic
// on the ring of size N.
func (p Params) wrapTag(v int) uint8 {
	n := p.N()
	v -= int(p.FirstBTID)
	v %= n
	if v < 0 {
		v += n
	}
	return uint8(v) + p.FirstBTID
}

// NextTag advances tag by one position around the ring, wrapping
// LastBTID back to FirstBTID.
func (p Params) NextTag(tag uint8) uint8 {
	return p.wrapTag(int(tag) + 1)
}
