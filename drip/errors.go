package drip

import "errors"

var (
	ErrInvalidDelay   = errors.New("drip: invalid delay")
	ErrInvalidTrigger = errors.New("drip: invalid trigger")
	ErrSequenceLookup = errors.New("drip: sequence lookup failed")
	ErrDealNotFound   = errors.New("drip: deal not found")
	ErrLedger         = errors.New("drip: ledger operation failed")
)
