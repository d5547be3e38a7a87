package domain

import "context"

// PayoutLeg is one beneficiary of an atomic release from the settlement
// account.
type PayoutLeg struct {
	To     Party
	Amount uint64
}

// Treasury is the external funds-transfer primitive. Implementations may
// perform I/O and may fail (insufficient balance, gateway rejection); a
// failed call must move nothing. Failures wrap ErrTransferFailed.
type Treasury interface {
	// Collect pulls amount from party into the settlement account.
	Collect(ctx context.Context, from Party, amount uint64, memo string) error
	// Release pays every leg out of the settlement account, all or
	// nothing. Zero-amount legs are skipped.
	Release(ctx context.Context, legs []PayoutLeg, memo string) error
}
