package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EscrowStore persists escrow records keyed by match id. Implementations
// only guarantee keyed CRUD; operation ordering and read-modify-write
// atomicity are owned by the service layer's per-key serialization.
type EscrowStore interface {
	// Insert adds a fresh record; ErrAlreadyExists when the key is taken.
	Insert(ctx context.Context, rec EscrowRecord) error
	// Get returns the record; ErrNotFound when absent.
	Get(ctx context.Context, matchID string) (EscrowRecord, error)
	// Update overwrites an existing record; ErrNotFound when absent.
	Update(ctx context.Context, rec EscrowRecord) error
	// Delete removes the record, freeing the key; ErrNotFound when absent.
	Delete(ctx context.Context, matchID string) error
}

// MarketStore persists market records plus their outcome shares and claim
// flags. Shares and claim flags default to zero/false rather than failing
// when absent, matching the accumulator model.
type MarketStore interface {
	// Insert adds a fresh Active record; ErrAlreadyExists when taken.
	Insert(ctx context.Context, rec MarketRecord) error
	// Get returns the record; ErrNotFound when absent.
	Get(ctx context.Context, matchID string) (MarketRecord, error)
	// Update overwrites record fields (resolution); ErrNotFound when absent.
	Update(ctx context.Context, rec MarketRecord) error
	// ApplyBet persists the updated record and the accumulated share as one
	// atomic write.
	ApplyBet(ctx context.Context, rec MarketRecord, share OutcomeShare) error
	// Share returns the participant's cumulative stake on one outcome;
	// 0 when absent.
	Share(ctx context.Context, matchID string, o Outcome, p Party) (uint64, error)
	// PartyShares returns the participant's stakes across all outcomes;
	// zeros when absent.
	PartyShares(ctx context.Context, matchID string, p Party) (OutcomeTotals, error)
	// Claimed reports the participant's claim flag; false when absent.
	Claimed(ctx context.Context, matchID string, p Party) (bool, error)
	// ApplyClaim zeroes the participant's share on the winning outcome and
	// sets the claim flag as one atomic write.
	ApplyClaim(ctx context.Context, matchID string, o Outcome, p Party) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only settlement audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
