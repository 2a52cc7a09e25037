package blocktable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testParams() Params {
	return Params{FirstBTID: 1, LastBTID: 254, SigBytes: 5, SigDelta: 3}
}

func TestSignatureRoundTrip(t *testing.T) {
	p := testParams()
	for tag := p.FirstBTID; ; tag++ {
		sig := p.InsertSignature(tag)
		candidates := p.ExtractTag(sig)
		found := false
		for _, c := range candidates {
			if c == tag {
				found = true
			}
		}
		assert.Truef(t, found, "tag %d not recovered from its own signature %v (candidates %v)", tag, sig, candidates)
		if tag == p.LastBTID {
			break
		}
	}
}

func TestParamsValidate(t *testing.T) {
	good := testParams()
	assert.NoError(t, good.Validate())

	bad := good
	bad.LastBTID = bad.FirstBTID + 2
	assert.ErrorIs(t, bad.Validate(), ErrTagRangeInvalid)

	bad2 := good
	bad2.SigBytes = 200
	assert.ErrorIs(t, bad2.Validate(), ErrSignaturePeriod)
}

func TestTableValidate(t *testing.T) {
	tbl := &Table{Entries: []Entry{
		{Phys: 10, Kind: Data},
		{Phys: 11, Kind: Spare},
		{Phys: 12, Kind: Bad}, // bad entries are exempt from range/uniqueness
	}}
	assert.NoError(t, tbl.Validate(10, 11))

	dup := &Table{Entries: []Entry{
		{Phys: 10, Kind: Data},
		{Phys: 10, Kind: Spare},
	}}
	assert.Error(t, dup.Validate(10, 11))

	oor := &Table{Entries: []Entry{{Phys: 99, Kind: Data}}}
	assert.Error(t, oor.Validate(10, 11))
}
