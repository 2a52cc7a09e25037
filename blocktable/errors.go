package blocktable

import "errors"

var (
	ErrNoSpareBlock     = errors.New("blocktable: no spare block available")
	ErrDuplicatePhys    = errors.New("blocktable: physical pointer already mapped")
	ErrOutOfRange       = errors.New("blocktable: physical pointer outside logical region")
	ErrCorrupt          = errors.New("blocktable: image failed validation")
	ErrTagRangeInvalid  = errors.New("blocktable: LAST_BT_ID must exceed FIRST_BT_ID by more than 3")
	ErrSignaturePeriod  = errors.New("blocktable: BTSIG_BYTES*BTSIG_DELTA must stay within the tag period")
	ErrBlockTableIsBad  = errors.New("blocktable: current BT block is marked bad")
	ErrNoGeneration     = errors.New("blocktable: no valid generation found on any BT block")
)

// Error wraps a failed block-table operation with the op name that
// failed, the way buffer_pool.BufferPoolError does for the buffer pool.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": <nil>"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
