package ftl

import "errors"

// Error kinds surfaced from the FTL (spec section 7). Sentinel values
// so callers can errors.Is against them even though every return path
// wraps them with juju/errors.Annotate for a readable call chain.
var (
	ErrNoSpace          = errors.New("ftl: no space available even after garbage collection")
	ErrIo               = errors.New("ftl: unrecoverable I/O error")
	ErrEccUncorrectable = errors.New("ftl: uncorrectable ECC error")
	ErrBusy             = errors.New("ftl: page locked, retry")
	ErrCorrupt          = errors.New("ftl: block table failed validation and auto-format is disabled")
	ErrBadBlock         = errors.New("ftl: logical block is marked bad")
	ErrOutOfRange       = errors.New("ftl: logical address outside the mapped region")
	ErrReserved         = errors.New("ftl: logical block is reserved for the block table")
)
