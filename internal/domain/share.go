package domain

import "time"

// OutcomeShare is one participant's cumulative stake on one outcome of one
// market. Repeat bets accumulate; the amount only ever decreases to zero,
// when the participant claims against the winning outcome. An absent share
// reads as zero.
type OutcomeShare struct {
	MatchID   string
	Outcome   Outcome
	Party     Party
	Amount    uint64
	UpdatedAt time.Time
}

// ShareView aggregates a participant's standing in one market for the
// read-only queries: per-outcome stakes, their sum, the claim flag, and the
// reward projection per outcome (live pool while Active, frozen snapshot
// once Resolved; on a resolved market only the winning index can be
// nonzero). Zero values when the market or participant is unknown.
type ShareView struct {
	MatchID   string
	Party     Party
	ByOutcome OutcomeTotals
	Total     uint64
	Claimed   bool
	Potential OutcomeTotals
}
