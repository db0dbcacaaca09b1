package bridge

import "errors"

var (
	ErrInvalidSignature = errors.New("wrong signature")
	ErrAlreadyRedeemed  = errors.New("already completed")
	ErrUnauthorized     = errors.New("caller is not the owner")
	ErrZeroAmount       = errors.New("amount must be greater than zero")
	ErrInvalidAmount    = errors.New("amount does not fit in 256 bits")
	ErrZeroAddress      = errors.New("zero address")
	ErrUnsupportedChain = errors.New("chain is not supported by this bridge")
	ErrLedgerUnbound    = errors.New("no token ledger bound")

	// ErrCompensationFailed means a failed call could not be rolled back and
	// its token movement stands
	ErrCompensationFailed = errors.New("cannot roll back token movement")
)
