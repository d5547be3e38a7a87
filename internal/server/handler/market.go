package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/matchbook/internal/domain"
	"github.com/alanyoungcy/matchbook/internal/service"
)

// MarketService defines the slice of the service layer the market handler
// needs.
type MarketService interface {
	Create(ctx context.Context, caller domain.Party, matchID string, player1Ref, player2Ref domain.Party) (domain.MarketRecord, error)
	Bet(ctx context.Context, caller domain.Party, matchID string, outcome domain.Outcome, amount uint64) (domain.MarketRecord, error)
	Resolve(ctx context.Context, caller domain.Party, matchID string, winningOutcome domain.Outcome) (domain.MarketRecord, error)
	ClaimRewards(ctx context.Context, caller domain.Party, matchID string) (service.ClaimResult, error)
	Stats(ctx context.Context, matchID string) (domain.MarketStats, error)
	ShareView(ctx context.Context, matchID string, p domain.Party) (domain.ShareView, error)
}

// OddsReader supplies cached implied odds; usually the odds service.
type OddsReader interface {
	GetOdds(ctx context.Context, matchID string) (domain.OutcomeOdds, time.Time, error)
}

// MarketHandler serves the pari-mutuel market endpoints.
type MarketHandler struct {
	markets MarketService
	odds    OddsReader
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. odds may be nil when the odds
// cache is not wired; the odds endpoint then reports unavailable.
func NewMarketHandler(markets MarketService, odds OddsReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, odds: odds, logger: logger}
}

// marketView is the wire form of a market record.
type marketView struct {
	MatchID              string            `json:"match_id"`
	Administrator        domain.Party      `json:"administrator"`
	Player1Ref           domain.Party      `json:"player1_ref"`
	Player2Ref           domain.Party      `json:"player2_ref"`
	Status               string            `json:"status"`
	WinningOutcome       string            `json:"winning_outcome,omitempty"`
	Totals               outcomeTotalsView `json:"totals"`
	Pool                 uint64            `json:"pool"`
	ResolvedPoolSnapshot uint64            `json:"resolved_pool_snapshot"`
	CreatedAt            time.Time         `json:"created_at,omitzero"`
	UpdatedAt            time.Time         `json:"updated_at,omitzero"`
	ResolvedAt           *time.Time        `json:"resolved_at,omitempty"`
}

func newMarketView(rec domain.MarketRecord) marketView {
	return marketView{
		MatchID:              rec.MatchID,
		Administrator:        rec.Administrator,
		Player1Ref:           rec.Player1Ref,
		Player2Ref:           rec.Player2Ref,
		Status:               string(rec.Status),
		WinningOutcome:       string(rec.WinningOutcome),
		Totals:               totalsView(rec.Totals),
		Pool:                 rec.Pool,
		ResolvedPoolSnapshot: rec.ResolvedPoolSnapshot,
		CreatedAt:            rec.CreatedAt,
		UpdatedAt:            rec.UpdatedAt,
		ResolvedAt:           rec.ResolvedAt,
	}
}

type createMarketRequest struct {
	MatchID    string `json:"match_id"`
	Player1Ref string `json:"player1_ref"`
	Player2Ref string `json:"player2_ref"`
}

// Create opens a new betting market; the caller becomes its administrator.
// POST /api/markets
func (h *MarketHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req createMarketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MatchID == "" {
		writeError(w, http.StatusBadRequest, "match_id is required")
		return
	}
	player1Ref, err := domain.ParseParty(req.Player1Ref)
	if err != nil {
		writeError(w, http.StatusBadRequest, "player1_ref: "+err.Error())
		return
	}
	player2Ref, err := domain.ParseParty(req.Player2Ref)
	if err != nil {
		writeError(w, http.StatusBadRequest, "player2_ref: "+err.Error())
		return
	}

	rec, err := h.markets.Create(r.Context(), caller, req.MatchID, player1Ref, player2Ref)
	if err != nil {
		respondError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, newMarketView(rec))
}

type betRequest struct {
	Outcome string `json:"outcome"`
	Amount  uint64 `json:"amount"`
}

// Bet stakes the caller's amount on an outcome.
// POST /api/markets/{id}/bets
func (h *MarketHandler) Bet(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req betRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := h.markets.Bet(r.Context(), caller, pathParam(r, "id"), domain.Outcome(req.Outcome), req.Amount)
	if err != nil {
		respondError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusOK, newMarketView(rec))
}

type resolveMarketRequest struct {
	Outcome string `json:"outcome"`
}

// Resolve freezes the market on the winning outcome.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req resolveMarketRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := h.markets.Resolve(r.Context(), caller, pathParam(r, "id"), domain.Outcome(req.Outcome))
	if err != nil {
		respondError(w, r, h.logger, "resolve market", err)
		return
	}
	writeJSON(w, http.StatusOK, newMarketView(rec))
}

// claimView is the wire form of a paid claim.
type claimView struct {
	MatchID string                   `json:"match_id"`
	Party   domain.Party             `json:"party"`
	Reward  uint64                   `json:"reward"`
	Receipt domain.SettlementReceipt `json:"receipt"`
}

// Claim pays out the caller's cut of the resolved pool.
// POST /api/markets/{id}/claims
func (h *MarketHandler) Claim(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	res, err := h.markets.ClaimRewards(r.Context(), caller, pathParam(r, "id"))
	if err != nil {
		respondError(w, r, h.logger, "claim rewards", err)
		return
	}
	writeJSON(w, http.StatusOK, claimView{
		MatchID: res.MatchID,
		Party:   res.Party,
		Reward:  res.Reward,
		Receipt: res.Receipt,
	})
}

// statsView is the wire form of the market stats tuple.
type statsView struct {
	MatchID              string            `json:"match_id"`
	Exists               bool              `json:"exists"`
	Status               string            `json:"status,omitempty"`
	WinningOutcome       string            `json:"winning_outcome,omitempty"`
	Pool                 uint64            `json:"pool"`
	Totals               outcomeTotalsView `json:"totals"`
	ResolvedPoolSnapshot uint64            `json:"resolved_pool_snapshot"`
}

// Stats returns the market stats tuple; an unknown match id yields the
// zero tuple with exists false.
// GET /api/markets/{id}
func (h *MarketHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.markets.Stats(r.Context(), pathParam(r, "id"))
	if err != nil {
		respondError(w, r, h.logger, "market stats", err)
		return
	}
	writeJSON(w, http.StatusOK, statsView{
		MatchID:              stats.MatchID,
		Exists:               stats.Exists,
		Status:               string(stats.Status),
		WinningOutcome:       string(stats.WinningOutcome),
		Pool:                 stats.Pool,
		Totals:               totalsView(stats.Totals),
		ResolvedPoolSnapshot: stats.ResolvedPoolSnapshot,
	})
}

// oddsView is the wire form of the implied odds, in fixed point.
type oddsView struct {
	MatchID    string            `json:"match_id"`
	Odds       outcomeTotalsView `json:"odds"`
	Scale      uint64            `json:"scale"`
	ComputedAt time.Time         `json:"computed_at"`
}

// Odds returns the implied payout multiplier per outcome.
// GET /api/markets/{id}/odds
func (h *MarketHandler) Odds(w http.ResponseWriter, r *http.Request) {
	if h.odds == nil {
		writeError(w, http.StatusServiceUnavailable, "odds unavailable")
		return
	}

	matchID := pathParam(r, "id")
	odds, at, err := h.odds.GetOdds(r.Context(), matchID)
	if err != nil {
		respondError(w, r, h.logger, "market odds", err)
		return
	}
	writeJSON(w, http.StatusOK, oddsView{
		MatchID: matchID,
		Odds: outcomeTotalsView{
			Player1: odds[domain.OutcomePlayer1.Index()],
			Player2: odds[domain.OutcomePlayer2.Index()],
			Draw:    odds[domain.OutcomeDraw.Index()],
		},
		Scale:      domain.OddsScale,
		ComputedAt: at,
	})
}

// shareView is the wire form of one participant's standing in a market.
type shareView struct {
	MatchID   string            `json:"match_id"`
	Party     domain.Party      `json:"party"`
	ByOutcome outcomeTotalsView `json:"by_outcome"`
	Total     uint64            `json:"total"`
	Claimed   bool              `json:"claimed"`
	Potential outcomeTotalsView `json:"potential"`
}

// Shares returns the party's per-outcome stakes, claim flag, and projected
// rewards. Unknown markets and parties yield the zero view.
// GET /api/markets/{id}/shares/{party}
func (h *MarketHandler) Shares(w http.ResponseWriter, r *http.Request) {
	party, err := domain.ParseParty(pathParam(r, "party"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "party: "+err.Error())
		return
	}

	view, err := h.markets.ShareView(r.Context(), pathParam(r, "id"), party)
	if err != nil {
		respondError(w, r, h.logger, "market shares", err)
		return
	}
	writeJSON(w, http.StatusOK, shareView{
		MatchID:   view.MatchID,
		Party:     view.Party,
		ByOutcome: totalsView(view.ByOutcome),
		Total:     view.Total,
		Claimed:   view.Claimed,
		Potential: totalsView(view.Potential),
	})
}
