package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrNotAdmin         = errors.New("caller is not the administrator")
	ErrAlreadyDeposited = errors.New("stake already deposited")
	ErrNotReady         = errors.New("escrow not fully funded")
	ErrInvalidOutcome   = errors.New("invalid outcome")
	ErrZeroBet          = errors.New("bet amount is zero")
	ErrZeroStake        = errors.New("stake amount is zero")
	ErrInvalidParty     = errors.New("invalid party identity")
	ErrAlreadyResolved  = errors.New("already resolved")
	ErrNotResolved      = errors.New("not resolved")
	ErrNoShares         = errors.New("no shares on the winning outcome")
	ErrAlreadyClaimed   = errors.New("rewards already claimed")
	ErrTransferFailed   = errors.New("transfer failed")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrSigningFailed    = errors.New("signing failed")
	ErrLockHeld         = errors.New("lock already held")
)
