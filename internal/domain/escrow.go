package domain

import "time"

// EscrowRecord holds two players' equal stakes for a single match until the
// administrator resolves it. Records are keyed by match id, created once,
// and removed the instant a resolve succeeds; the key is then free for a
// brand-new escrow.
type EscrowRecord struct {
	MatchID          string
	Administrator    Party
	Player1          Party
	Player2          Party
	StakePerPlayer   uint64
	TotalDeposited   uint64
	Player1Deposited bool
	Player2Deposited bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsPlayer reports whether p occupies either player seat.
func (e EscrowRecord) IsPlayer(p Party) bool {
	return p == e.Player1 || p == e.Player2
}

// Deposited reports whether p's seat has already funded. False when p is
// not a player.
func (e EscrowRecord) Deposited(p Party) bool {
	switch p {
	case e.Player1:
		return e.Player1Deposited
	case e.Player2:
		return e.Player2Deposited
	default:
		return false
	}
}

// MarkDeposited sets p's seat flag and adds the stake to the running total.
// Callers must have checked IsPlayer and Deposited first.
func (e *EscrowRecord) MarkDeposited(p Party) {
	switch p {
	case e.Player1:
		e.Player1Deposited = true
	case e.Player2:
		e.Player2Deposited = true
	default:
		return
	}
	e.TotalDeposited += e.StakePerPlayer
}

// FullyFunded reports whether both players have deposited.
func (e EscrowRecord) FullyFunded() bool {
	return e.Player1Deposited && e.Player2Deposited
}
