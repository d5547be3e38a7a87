package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/matchbook/internal/domain"
	"github.com/alanyoungcy/matchbook/internal/service"
)

// EscrowService defines the slice of the service layer the escrow handler
// needs.
type EscrowService interface {
	Create(ctx context.Context, caller domain.Party, matchID string, player1, player2 domain.Party, stakePerPlayer uint64) (domain.EscrowRecord, error)
	Deposit(ctx context.Context, caller domain.Party, matchID string) (domain.EscrowRecord, error)
	ResolveWin(ctx context.Context, caller domain.Party, matchID string, winner domain.Party) (service.EscrowSettlement, error)
	ResolveDraw(ctx context.Context, caller domain.Party, matchID string) (service.EscrowSettlement, error)
	Get(ctx context.Context, matchID string) (domain.EscrowRecord, bool, error)
}

// EscrowHandler serves the escrow endpoints.
type EscrowHandler struct {
	escrows EscrowService
	logger  *slog.Logger
}

// NewEscrowHandler creates an EscrowHandler.
func NewEscrowHandler(escrows EscrowService, logger *slog.Logger) *EscrowHandler {
	return &EscrowHandler{escrows: escrows, logger: logger}
}

// escrowView is the wire form of an escrow record. Exists carries the
// presence flag so an absent key is an ordinary response, not a 404.
type escrowView struct {
	MatchID          string       `json:"match_id"`
	Exists           bool         `json:"exists"`
	Administrator    domain.Party `json:"administrator,omitzero"`
	Player1          domain.Party `json:"player1,omitzero"`
	Player2          domain.Party `json:"player2,omitzero"`
	StakePerPlayer   uint64       `json:"stake_per_player"`
	TotalDeposited   uint64       `json:"total_deposited"`
	Player1Deposited bool         `json:"player1_deposited"`
	Player2Deposited bool         `json:"player2_deposited"`
	FullyFunded      bool         `json:"fully_funded"`
	CreatedAt        time.Time    `json:"created_at,omitzero"`
	UpdatedAt        time.Time    `json:"updated_at,omitzero"`
}

func newEscrowView(rec domain.EscrowRecord) escrowView {
	return escrowView{
		MatchID:          rec.MatchID,
		Exists:           true,
		Administrator:    rec.Administrator,
		Player1:          rec.Player1,
		Player2:          rec.Player2,
		StakePerPlayer:   rec.StakePerPlayer,
		TotalDeposited:   rec.TotalDeposited,
		Player1Deposited: rec.Player1Deposited,
		Player2Deposited: rec.Player2Deposited,
		FullyFunded:      rec.FullyFunded(),
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
}

// settlementView is the wire form of a finished escrow resolution.
type settlementView struct {
	MatchID  string                     `json:"match_id"`
	Result   domain.EscrowResult        `json:"result"`
	Winner   domain.Party               `json:"winner,omitzero"`
	Fee      uint64                     `json:"fee"`
	Payout   uint64                     `json:"payout"`
	Dust     uint64                     `json:"dust,omitempty"`
	Receipts []domain.SettlementReceipt `json:"receipts"`
}

func newSettlementView(s service.EscrowSettlement) settlementView {
	return settlementView{
		MatchID:  s.MatchID,
		Result:   s.Result,
		Winner:   s.Winner,
		Fee:      s.Fee,
		Payout:   s.Payout,
		Dust:     s.Dust,
		Receipts: s.Receipts,
	}
}

type createEscrowRequest struct {
	MatchID        string `json:"match_id"`
	Player1        string `json:"player1"`
	Player2        string `json:"player2"`
	StakePerPlayer uint64 `json:"stake_per_player"`
}

// Create opens a new escrow; the caller becomes its administrator.
// POST /api/escrows
func (h *EscrowHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req createEscrowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MatchID == "" {
		writeError(w, http.StatusBadRequest, "match_id is required")
		return
	}
	player1, err := domain.ParseParty(req.Player1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "player1: "+err.Error())
		return
	}
	player2, err := domain.ParseParty(req.Player2)
	if err != nil {
		writeError(w, http.StatusBadRequest, "player2: "+err.Error())
		return
	}

	rec, err := h.escrows.Create(r.Context(), caller, req.MatchID, player1, player2, req.StakePerPlayer)
	if err != nil {
		respondError(w, r, h.logger, "create escrow", err)
		return
	}
	writeJSON(w, http.StatusCreated, newEscrowView(rec))
}

// Deposit collects the caller's stake into the escrow.
// POST /api/escrows/{id}/deposit
func (h *EscrowHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	rec, err := h.escrows.Deposit(r.Context(), caller, pathParam(r, "id"))
	if err != nil {
		respondError(w, r, h.logger, "escrow deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, newEscrowView(rec))
}

type resolveEscrowRequest struct {
	Result string `json:"result"`
	Winner string `json:"winner"`
}

// Resolve settles a fully funded escrow as a win or a draw.
// POST /api/escrows/{id}/resolve
func (h *EscrowHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req resolveEscrowRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	matchID := pathParam(r, "id")
	var (
		settlement service.EscrowSettlement
		err        error
	)
	switch domain.EscrowResult(req.Result) {
	case domain.EscrowResultWin:
		var winner domain.Party
		if winner, err = domain.ParseParty(req.Winner); err != nil {
			writeError(w, http.StatusBadRequest, "winner: "+err.Error())
			return
		}
		settlement, err = h.escrows.ResolveWin(r.Context(), caller, matchID, winner)
	case domain.EscrowResultDraw:
		settlement, err = h.escrows.ResolveDraw(r.Context(), caller, matchID)
	default:
		writeError(w, http.StatusBadRequest, `result must be "win" or "draw"`)
		return
	}
	if err != nil {
		respondError(w, r, h.logger, "resolve escrow", err)
		return
	}
	writeJSON(w, http.StatusOK, newSettlementView(settlement))
}

// Get returns the escrow view; an unknown match id yields the zero view
// with exists false.
// GET /api/escrows/{id}
func (h *EscrowHandler) Get(w http.ResponseWriter, r *http.Request) {
	matchID := pathParam(r, "id")

	rec, found, err := h.escrows.Get(r.Context(), matchID)
	if err != nil {
		respondError(w, r, h.logger, "get escrow", err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, escrowView{MatchID: matchID})
		return
	}
	writeJSON(w, http.StatusOK, newEscrowView(rec))
}
