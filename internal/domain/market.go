package domain

import "time"

// Outcome is one of the three betting targets of a match market.
type Outcome string

const (
	OutcomePlayer1 Outcome = "player1"
	OutcomePlayer2 Outcome = "player2"
	OutcomeDraw    Outcome = "draw"
)

// Outcomes lists the valid outcomes in index order.
var Outcomes = [3]Outcome{OutcomePlayer1, OutcomePlayer2, OutcomeDraw}

// Valid reports whether o names one of the three betting targets.
func (o Outcome) Valid() bool {
	return o == OutcomePlayer1 || o == OutcomePlayer2 || o == OutcomeDraw
}

// Index returns the dense index of o in Outcomes, or -1 when invalid.
func (o Outcome) Index() int {
	switch o {
	case OutcomePlayer1:
		return 0
	case OutcomePlayer2:
		return 1
	case OutcomeDraw:
		return 2
	default:
		return -1
	}
}

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusResolved MarketStatus = "resolved"
)

// OutcomeTotals accumulates staked amounts per outcome, indexed by
// Outcome.Index. The array form keeps value semantics when records are
// copied between the service and its stores.
type OutcomeTotals [3]uint64

// Get returns the total staked on o; 0 for invalid outcomes.
func (t OutcomeTotals) Get(o Outcome) uint64 {
	i := o.Index()
	if i < 0 {
		return 0
	}
	return t[i]
}

// Add accumulates amount onto o's total. Invalid outcomes are ignored.
func (t *OutcomeTotals) Add(o Outcome, amount uint64) {
	i := o.Index()
	if i < 0 {
		return
	}
	t[i] += amount
}

// Sum returns the total staked across all outcomes.
func (t OutcomeTotals) Sum() uint64 {
	return t[0] + t[1] + t[2]
}

// OddsScale is the fixed-point scale for implied payout multipliers
// (1_000_000 = 1.0x).
const OddsScale uint64 = 1_000_000

// OutcomeOdds holds implied payout multipliers per outcome in OddsScale
// fixed point. An outcome with no stake has multiplier 0.
type OutcomeOdds [3]uint64

// MarketRecord is a pari-mutuel market over one match: bettors stake on an
// outcome while Active; resolution freezes the pool snapshot that every
// winning claim is paid from. The player refs identify the two sides of the
// match for display and carry no funds.
type MarketRecord struct {
	MatchID              string
	Administrator        Party
	Player1Ref           Party
	Player2Ref           Party
	Status               MarketStatus
	WinningOutcome       Outcome // empty until resolved
	Totals               OutcomeTotals
	Pool                 uint64
	ResolvedPoolSnapshot uint64
	CreatedAt            time.Time
	UpdatedAt            time.Time
	ResolvedAt           *time.Time
}

// MarketStats is the read-only stats tuple served by queries. Queries never
// fail: an unknown match id yields the zero value with Exists false.
type MarketStats struct {
	MatchID              string
	Exists               bool
	Status               MarketStatus
	WinningOutcome       Outcome
	Pool                 uint64
	Totals               OutcomeTotals
	ResolvedPoolSnapshot uint64
}

// Stats projects the record into its query tuple.
func (m MarketRecord) Stats() MarketStats {
	return MarketStats{
		MatchID:              m.MatchID,
		Exists:               true,
		Status:               m.Status,
		WinningOutcome:       m.WinningOutcome,
		Pool:                 m.Pool,
		Totals:               m.Totals,
		ResolvedPoolSnapshot: m.ResolvedPoolSnapshot,
	}
}
