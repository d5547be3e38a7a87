package domain

import "time"

// EventKind names a settlement event published on the signal bus.
type EventKind string

const (
	EventEscrowCreated   EventKind = "escrow.created"
	EventEscrowDeposited EventKind = "escrow.deposited"
	EventEscrowResolved  EventKind = "escrow.resolved"
	EventMarketCreated   EventKind = "market.created"
	EventMarketBet       EventKind = "market.bet"
	EventMarketResolved  EventKind = "market.resolved"
	EventMarketClaimed   EventKind = "market.claimed"
)

// Bus channel and stream names for settlement events.
const (
	ChannelSettlements = "settlements"
	StreamSettlements  = "settlements.log"
)

// MatchChannel returns the per-match broadcast channel name.
func MatchChannel(matchID string) string {
	return "match:" + matchID
}

// EscrowResult distinguishes the two ways an escrow can settle.
type EscrowResult string

const (
	EscrowResultWin  EscrowResult = "win"
	EscrowResultDraw EscrowResult = "draw"
)

// SettlementEvent describes one successful settlement mutation. Events are
// published as JSON on ChannelSettlements and appended to
// StreamSettlements; ID is a UUID used for consumer-side dedup.
type SettlementEvent struct {
	ID        string       `json:"id"`
	Kind      EventKind    `json:"kind"`
	MatchID   string       `json:"match_id"`
	Actor     Party        `json:"actor"`
	Recipient Party        `json:"recipient"`
	Outcome   Outcome      `json:"outcome,omitempty"`
	Result    EscrowResult `json:"result,omitempty"`
	Amount    uint64       `json:"amount"`
	Fee       uint64       `json:"fee"`
	Pool      uint64       `json:"pool"`
	At        time.Time    `json:"at"`
}
