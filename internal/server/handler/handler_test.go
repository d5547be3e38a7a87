package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/matchbook/internal/domain"
	"github.com/alanyoungcy/matchbook/internal/server/middleware"
	"github.com/alanyoungcy/matchbook/internal/service"
)

var (
	admin   = domain.Party{0xad}
	alice   = domain.Party{0xa1}
	bob     = domain.Party{0xb0}
	charlie = domain.Party{0xc4}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// authedRequest builds a request already carrying the caller identity, the
// way the middleware would hand it to the handler.
func authedRequest(caller domain.Party, method, target string, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, target, reader)
	return r.WithContext(middleware.WithCaller(r.Context(), caller))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

// ---------------------------------------------------------------------------
// Escrow handler
// ---------------------------------------------------------------------------

type stubEscrowService struct {
	createFn      func(ctx context.Context, caller domain.Party, matchID string, p1, p2 domain.Party, stake uint64) (domain.EscrowRecord, error)
	depositFn     func(ctx context.Context, caller domain.Party, matchID string) (domain.EscrowRecord, error)
	resolveWinFn  func(ctx context.Context, caller domain.Party, matchID string, winner domain.Party) (service.EscrowSettlement, error)
	resolveDrawFn func(ctx context.Context, caller domain.Party, matchID string) (service.EscrowSettlement, error)
	getFn         func(ctx context.Context, matchID string) (domain.EscrowRecord, bool, error)
}

func (s *stubEscrowService) Create(ctx context.Context, caller domain.Party, matchID string, p1, p2 domain.Party, stake uint64) (domain.EscrowRecord, error) {
	return s.createFn(ctx, caller, matchID, p1, p2, stake)
}

func (s *stubEscrowService) Deposit(ctx context.Context, caller domain.Party, matchID string) (domain.EscrowRecord, error) {
	return s.depositFn(ctx, caller, matchID)
}

func (s *stubEscrowService) ResolveWin(ctx context.Context, caller domain.Party, matchID string, winner domain.Party) (service.EscrowSettlement, error) {
	return s.resolveWinFn(ctx, caller, matchID, winner)
}

func (s *stubEscrowService) ResolveDraw(ctx context.Context, caller domain.Party, matchID string) (service.EscrowSettlement, error) {
	return s.resolveDrawFn(ctx, caller, matchID)
}

func (s *stubEscrowService) Get(ctx context.Context, matchID string) (domain.EscrowRecord, bool, error) {
	return s.getFn(ctx, matchID)
}

func TestEscrowCreate(t *testing.T) {
	var gotCaller domain.Party
	svc := &stubEscrowService{
		createFn: func(_ context.Context, caller domain.Party, matchID string, p1, p2 domain.Party, stake uint64) (domain.EscrowRecord, error) {
			gotCaller = caller
			return domain.EscrowRecord{
				MatchID:        matchID,
				Administrator:  caller,
				Player1:        p1,
				Player2:        p2,
				StakePerPlayer: stake,
				CreatedAt:      time.Now().UTC(),
			}, nil
		},
	}
	h := NewEscrowHandler(svc, testLogger())

	body := `{"match_id":"m-1","player1":"` + alice.Hex() + `","player2":"` + bob.Hex() + `","stake_per_player":1000}`
	rec := httptest.NewRecorder()
	h.Create(rec, authedRequest(admin, http.MethodPost, "/api/escrows", body))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, admin, gotCaller)

	got := decodeBody(t, rec)
	assert.Equal(t, "m-1", got["match_id"])
	assert.Equal(t, true, got["exists"])
	assert.Equal(t, float64(1000), got["stake_per_player"])
	assert.Equal(t, strings.ToLower(alice.Hex()), got["player1"])
}

func TestEscrowCreateRequiresCaller(t *testing.T) {
	h := NewEscrowHandler(&stubEscrowService{}, testLogger())

	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/escrows", strings.NewReader(`{}`)))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "identity proof required")
}

func TestEscrowCreateRejectsBadInput(t *testing.T) {
	h := NewEscrowHandler(&stubEscrowService{}, testLogger())

	cases := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{not json`, "invalid request body"},
		{"missing match id", `{"player1":"` + alice.Hex() + `","player2":"` + bob.Hex() + `"}`, "match_id is required"},
		{"bad player hex", `{"match_id":"m-1","player1":"nope","player2":"` + bob.Hex() + `"}`, "player1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Create(rec, authedRequest(admin, http.MethodPost, "/api/escrows", tc.body))
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
		})
	}
}

func TestEscrowCreateMapsConflict(t *testing.T) {
	svc := &stubEscrowService{
		createFn: func(context.Context, domain.Party, string, domain.Party, domain.Party, uint64) (domain.EscrowRecord, error) {
			return domain.EscrowRecord{}, domain.ErrAlreadyExists
		},
	}
	h := NewEscrowHandler(svc, testLogger())

	body := `{"match_id":"m-1","player1":"` + alice.Hex() + `","player2":"` + bob.Hex() + `","stake_per_player":5}`
	rec := httptest.NewRecorder()
	h.Create(rec, authedRequest(admin, http.MethodPost, "/api/escrows", body))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEscrowDeposit(t *testing.T) {
	svc := &stubEscrowService{
		depositFn: func(_ context.Context, caller domain.Party, matchID string) (domain.EscrowRecord, error) {
			return domain.EscrowRecord{
				MatchID:          matchID,
				Player1:          caller,
				Player2:          bob,
				StakePerPlayer:   500,
				TotalDeposited:   500,
				Player1Deposited: true,
			}, nil
		},
	}
	h := NewEscrowHandler(svc, testLogger())

	r := authedRequest(alice, http.MethodPost, "/api/escrows/m-1/deposit", "")
	r.SetPathValue("id", "m-1")
	rec := httptest.NewRecorder()
	h.Deposit(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, float64(500), got["total_deposited"])
	assert.Equal(t, true, got["player1_deposited"])
	assert.Equal(t, false, got["fully_funded"])
}

func TestEscrowDepositTransferFailure(t *testing.T) {
	svc := &stubEscrowService{
		depositFn: func(context.Context, domain.Party, string) (domain.EscrowRecord, error) {
			return domain.EscrowRecord{}, domain.ErrTransferFailed
		},
	}
	h := NewEscrowHandler(svc, testLogger())

	r := authedRequest(alice, http.MethodPost, "/api/escrows/m-1/deposit", "")
	r.SetPathValue("id", "m-1")
	rec := httptest.NewRecorder()
	h.Deposit(rec, r)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "treasury transfer failed")
}

func TestEscrowResolveWin(t *testing.T) {
	var gotWinner domain.Party
	svc := &stubEscrowService{
		resolveWinFn: func(_ context.Context, _ domain.Party, matchID string, winner domain.Party) (service.EscrowSettlement, error) {
			gotWinner = winner
			return service.EscrowSettlement{
				MatchID: matchID,
				Result:  domain.EscrowResultWin,
				Winner:  winner,
				Fee:     100,
				Payout:  1900,
			}, nil
		},
	}
	h := NewEscrowHandler(svc, testLogger())

	body := `{"result":"win","winner":"` + alice.Hex() + `"}`
	r := authedRequest(admin, http.MethodPost, "/api/escrows/m-1/resolve", body)
	r.SetPathValue("id", "m-1")
	rec := httptest.NewRecorder()
	h.Resolve(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alice, gotWinner)

	got := decodeBody(t, rec)
	assert.Equal(t, "win", got["result"])
	assert.Equal(t, float64(1900), got["payout"])
	assert.Equal(t, float64(100), got["fee"])
}

func TestEscrowResolveDraw(t *testing.T) {
	svc := &stubEscrowService{
		resolveDrawFn: func(_ context.Context, _ domain.Party, matchID string) (service.EscrowSettlement, error) {
			return service.EscrowSettlement{
				MatchID: matchID,
				Result:  domain.EscrowResultDraw,
				Fee:     100,
				Payout:  950,
				Dust:    1,
			}, nil
		},
	}
	h := NewEscrowHandler(svc, testLogger())

	r := authedRequest(admin, http.MethodPost, "/api/escrows/m-1/resolve", `{"result":"draw"}`)
	r.SetPathValue("id", "m-1")
	rec := httptest.NewRecorder()
	h.Resolve(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, "draw", got["result"])
	assert.Equal(t, float64(1), got["dust"])
	// Draws name no winner.
	_, hasWinner := got["winner"]
	assert.False(t, hasWinner)
}

func TestEscrowResolveRejectsUnknownResult(t *testing.T) {
	h := NewEscrowHandler(&stubEscrowService{}, testLogger())

	r := authedRequest(admin, http.MethodPost, "/api/escrows/m-1/resolve", `{"result":"rematch"}`)
	r.SetPathValue("id", "m-1")
	rec := httptest.NewRecorder()
	h.Resolve(rec, r)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEscrowResolveStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not admin", domain.ErrNotAdmin, http.StatusForbidden},
		{"not funded", domain.ErrNotReady, http.StatusConflict},
		{"unknown match", domain.ErrNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubEscrowService{
				resolveDrawFn: func(context.Context, domain.Party, string) (service.EscrowSettlement, error) {
					return service.EscrowSettlement{}, tc.err
				},
			}
			h := NewEscrowHandler(svc, testLogger())

			r := authedRequest(charlie, http.MethodPost, "/api/escrows/m-1/resolve", `{"result":"draw"}`)
			r.SetPathValue("id", "m-1")
			rec := httptest.NewRecorder()
			h.Resolve(rec, r)

			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestEscrowGetAbsentIsZeroView(t *testing.T) {
	svc := &stubEscrowService{
		getFn: func(_ context.Context, matchID string) (domain.EscrowRecord, bool, error) {
			return domain.EscrowRecord{}, false, nil
		},
	}
	h := NewEscrowHandler(svc, testLogger())

	r := httptest.NewRequest(http.MethodGet, "/api/escrows/gone", nil)
	r.SetPathValue("id", "gone")
	rec := httptest.NewRecorder()
	h.Get(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, "gone", got["match_id"])
	assert.Equal(t, false, got["exists"])
	assert.Equal(t, float64(0), got["stake_per_player"])
	// Zero record omits the empty identity and timestamps entirely.
	_, hasAdmin := got["administrator"]
	assert.False(t, hasAdmin)
	_, hasCreated := got["created_at"]
	assert.False(t, hasCreated)
}

// ---------------------------------------------------------------------------
// Market handler
// ---------------------------------------------------------------------------

type stubMarketService struct {
	createFn  func(ctx context.Context, caller domain.Party, matchID string, p1, p2 domain.Party) (domain.MarketRecord, error)
	betFn     func(ctx context.Context, caller domain.Party, matchID string, outcome domain.Outcome, amount uint64) (domain.MarketRecord, error)
	resolveFn func(ctx context.Context, caller domain.Party, matchID string, outcome domain.Outcome) (domain.MarketRecord, error)
	claimFn   func(ctx context.Context, caller domain.Party, matchID string) (service.ClaimResult, error)
	statsFn   func(ctx context.Context, matchID string) (domain.MarketStats, error)
	sharesFn  func(ctx context.Context, matchID string, p domain.Party) (domain.ShareView, error)
}

func (s *stubMarketService) Create(ctx context.Context, caller domain.Party, matchID string, p1, p2 domain.Party) (domain.MarketRecord, error) {
	return s.createFn(ctx, caller, matchID, p1, p2)
}

func (s *stubMarketService) Bet(ctx context.Context, caller domain.Party, matchID string, outcome domain.Outcome, amount uint64) (domain.MarketRecord, error) {
	return s.betFn(ctx, caller, matchID, outcome, amount)
}

func (s *stubMarketService) Resolve(ctx context.Context, caller domain.Party, matchID string, outcome domain.Outcome) (domain.MarketRecord, error) {
	return s.resolveFn(ctx, caller, matchID, outcome)
}

func (s *stubMarketService) ClaimRewards(ctx context.Context, caller domain.Party, matchID string) (service.ClaimResult, error) {
	return s.claimFn(ctx, caller, matchID)
}

func (s *stubMarketService) Stats(ctx context.Context, matchID string) (domain.MarketStats, error) {
	return s.statsFn(ctx, matchID)
}

func (s *stubMarketService) ShareView(ctx context.Context, matchID string, p domain.Party) (domain.ShareView, error) {
	return s.sharesFn(ctx, matchID, p)
}

type stubOdds struct {
	odds domain.OutcomeOdds
	at   time.Time
	err  error
}

func (s *stubOdds) GetOdds(context.Context, string) (domain.OutcomeOdds, time.Time, error) {
	return s.odds, s.at, s.err
}

func TestMarketBet(t *testing.T) {
	var gotOutcome domain.Outcome
	var gotAmount uint64
	svc := &stubMarketService{
		betFn: func(_ context.Context, caller domain.Party, matchID string, outcome domain.Outcome, amount uint64) (domain.MarketRecord, error) {
			gotOutcome, gotAmount = outcome, amount
			rec := domain.MarketRecord{
				MatchID:       matchID,
				Administrator: admin,
				Player1Ref:    alice,
				Player2Ref:    bob,
				Status:        domain.MarketStatusActive,
				Pool:          amount,
			}
			rec.Totals.Add(outcome, amount)
			return rec, nil
		},
	}
	h := NewMarketHandler(svc, nil, testLogger())

	r := authedRequest(charlie, http.MethodPost, "/api/markets/m-1/bets", `{"outcome":"player2","amount":750}`)
	r.SetPathValue("id", "m-1")
	rec := httptest.NewRecorder()
	h.Bet(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OutcomePlayer2, gotOutcome)
	assert.Equal(t, uint64(750), gotAmount)

	got := decodeBody(t, rec)
	totals := got["totals"].(map[string]any)
	assert.Equal(t, float64(750), totals["player2"])
	assert.Equal(t, float64(0), totals["player1"])
	assert.Equal(t, float64(750), got["pool"])
	assert.Equal(t, "active", got["status"])
}

func TestMarketBetValidation(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid outcome", domain.ErrInvalidOutcome, http.StatusBadRequest},
		{"zero amount", domain.ErrZeroBet, http.StatusBadRequest},
		{"resolved market", domain.ErrAlreadyResolved, http.StatusConflict},
		{"unknown market", domain.ErrNotFound, http.StatusNotFound},
		{"collect failed", domain.ErrTransferFailed, http.StatusPaymentRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubMarketService{
				betFn: func(context.Context, domain.Party, string, domain.Outcome, uint64) (domain.MarketRecord, error) {
					return domain.MarketRecord{}, tc.err
				},
			}
			h := NewMarketHandler(svc, nil, testLogger())

			r := authedRequest(charlie, http.MethodPost, "/api/markets/m-1/bets", `{"outcome":"draw","amount":1}`)
			r.SetPathValue("id", "m-1")
			rec := httptest.NewRecorder()
			h.Bet(rec, r)

			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestMarketResolve(t *testing.T) {
	now := time.Now().UTC()
	svc := &stubMarketService{
		resolveFn: func(_ context.Context, _ domain.Party, matchID string, outcome domain.Outcome) (domain.MarketRecord, error) {
			rec := domain.MarketRecord{
				MatchID:              matchID,
				Administrator:        admin,
				Player1Ref:           alice,
				Player2Ref:           bob,
				Status:               domain.MarketStatusResolved,
				WinningOutcome:       outcome,
				Pool:                 3000,
				ResolvedPoolSnapshot: 3000,
				ResolvedAt:           &now,
			}
			return rec, nil
		},
	}
	h := NewMarketHandler(svc, nil, testLogger())

	r := authedRequest(admin, http.MethodPost, "/api/markets/m-1/resolve", `{"outcome":"draw"}`)
	r.SetPathValue("id", "m-1")
	rec := httptest.NewRecorder()
	h.Resolve(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, "resolved", got["status"])
	assert.Equal(t, "draw", got["winning_outcome"])
	assert.Equal(t, float64(3000), got["resolved_pool_snapshot"])
	assert.NotEmpty(t, got["resolved_at"])
}

func TestMarketClaim(t *testing.T) {
	svc := &stubMarketService{
		claimFn: func(_ context.Context, caller domain.Party, matchID string) (service.ClaimResult, error) {
			return service.ClaimResult{MatchID: matchID, Party: caller, Reward: 1234}, nil
		},
	}
	h := NewMarketHandler(svc, nil, testLogger())

	r := authedRequest(alice, http.MethodPost, "/api/markets/m-1/claims", "")
	r.SetPathValue("id", "m-1")
	rec := httptest.NewRecorder()
	h.Claim(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, float64(1234), got["reward"])
	assert.Equal(t, strings.ToLower(alice.Hex()), got["party"])
}

func TestMarketClaimStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not resolved", domain.ErrNotResolved, http.StatusConflict},
		{"already claimed", domain.ErrAlreadyClaimed, http.StatusConflict},
		{"no winning shares", domain.ErrNoShares, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubMarketService{
				claimFn: func(context.Context, domain.Party, string) (service.ClaimResult, error) {
					return service.ClaimResult{}, tc.err
				},
			}
			h := NewMarketHandler(svc, nil, testLogger())

			r := authedRequest(alice, http.MethodPost, "/api/markets/m-1/claims", "")
			r.SetPathValue("id", "m-1")
			rec := httptest.NewRecorder()
			h.Claim(rec, r)

			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestMarketStatsAbsent(t *testing.T) {
	svc := &stubMarketService{
		statsFn: func(_ context.Context, matchID string) (domain.MarketStats, error) {
			return domain.MarketStats{MatchID: matchID}, nil
		},
	}
	h := NewMarketHandler(svc, nil, testLogger())

	r := httptest.NewRequest(http.MethodGet, "/api/markets/gone", nil)
	r.SetPathValue("id", "gone")
	rec := httptest.NewRecorder()
	h.Stats(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, false, got["exists"])
	assert.Equal(t, float64(0), got["pool"])
	_, hasStatus := got["status"]
	assert.False(t, hasStatus)
}

func TestMarketOdds(t *testing.T) {
	at := time.Now().UTC().Truncate(time.Second)
	odds := &stubOdds{
		odds: domain.OutcomeOdds{2_000_000, 2_000_000, 0},
		at:   at,
	}
	h := NewMarketHandler(&stubMarketService{}, odds, testLogger())

	r := httptest.NewRequest(http.MethodGet, "/api/markets/m-1/odds", nil)
	r.SetPathValue("id", "m-1")
	rec := httptest.NewRecorder()
	h.Odds(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody(t, rec)
	view := got["odds"].(map[string]any)
	assert.Equal(t, float64(2_000_000), view["player1"])
	assert.Equal(t, float64(0), view["draw"])
	assert.Equal(t, float64(domain.OddsScale), got["scale"])
}

func TestMarketOddsUnavailableWithoutReader(t *testing.T) {
	h := NewMarketHandler(&stubMarketService{}, nil, testLogger())

	r := httptest.NewRequest(http.MethodGet, "/api/markets/m-1/odds", nil)
	r.SetPathValue("id", "m-1")
	rec := httptest.NewRecorder()
	h.Odds(rec, r)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMarketShares(t *testing.T) {
	svc := &stubMarketService{
		sharesFn: func(_ context.Context, matchID string, p domain.Party) (domain.ShareView, error) {
			view := domain.ShareView{MatchID: matchID, Party: p, Total: 900, Claimed: false}
			view.ByOutcome.Add(domain.OutcomePlayer1, 600)
			view.ByOutcome.Add(domain.OutcomeDraw, 300)
			view.Potential.Add(domain.OutcomePlayer1, 1350)
			return view, nil
		},
	}
	h := NewMarketHandler(svc, nil, testLogger())

	r := httptest.NewRequest(http.MethodGet, "/api/markets/m-1/shares/"+alice.Hex(), nil)
	r.SetPathValue("id", "m-1")
	r.SetPathValue("party", alice.Hex())
	rec := httptest.NewRecorder()
	h.Shares(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody(t, rec)
	by := got["by_outcome"].(map[string]any)
	assert.Equal(t, float64(600), by["player1"])
	assert.Equal(t, float64(300), by["draw"])
	assert.Equal(t, float64(900), got["total"])
	pot := got["potential"].(map[string]any)
	assert.Equal(t, float64(1350), pot["player1"])
}

func TestMarketSharesRejectsBadParty(t *testing.T) {
	h := NewMarketHandler(&stubMarketService{}, nil, testLogger())

	r := httptest.NewRequest(http.MethodGet, "/api/markets/m-1/shares/zzz", nil)
	r.SetPathValue("id", "m-1")
	r.SetPathValue("party", "zzz")
	rec := httptest.NewRecorder()
	h.Shares(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ---------------------------------------------------------------------------
// Events handler
// ---------------------------------------------------------------------------

type stubEventSource struct {
	readFn func(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error)
}

func (s *stubEventSource) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return s.readFn(ctx, stream, lastID, count)
}

func TestEventsListReplaysLog(t *testing.T) {
	var gotStream, gotAfter string
	var gotCount int
	src := &stubEventSource{
		readFn: func(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
			gotStream, gotAfter, gotCount = stream, lastID, count
			return []domain.StreamMessage{
				{ID: "1700000000000-0", Payload: []byte(`{"type":"escrow.created","match_id":"m-1"}`)},
				{ID: "1700000000000-1", Payload: []byte(`{"type":"escrow.resolved","match_id":"m-1"}`)},
			}, nil
		},
	}
	h := NewEventsHandler(src, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StreamSettlements, gotStream)
	assert.Equal(t, "0", gotAfter, "no cursor starts from the beginning")
	assert.Equal(t, defaultEventCount, gotCount)

	got := decodeBody(t, rec)
	assert.Equal(t, float64(2), got["count"])
	assert.Equal(t, "1700000000000-1", got["next_after"])

	events := got["events"].([]any)
	require.Len(t, events, 2)
	first := events[0].(map[string]any)
	assert.Equal(t, "1700000000000-0", first["id"])
	assert.Equal(t, "escrow.created", first["event"].(map[string]any)["type"])
}

func TestEventsListCursorAndCap(t *testing.T) {
	var gotAfter string
	var gotCount int
	src := &stubEventSource{
		readFn: func(_ context.Context, _, lastID string, count int) ([]domain.StreamMessage, error) {
			gotAfter, gotCount = lastID, count
			return nil, nil
		},
	}
	h := NewEventsHandler(src, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/events?after=1700000000000-5&count=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1700000000000-5", gotAfter)
	assert.Equal(t, 2, gotCount)

	got := decodeBody(t, rec)
	assert.Equal(t, float64(0), got["count"])
	assert.Equal(t, "1700000000000-5", got["next_after"], "an empty page keeps the cursor where it was")

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/events?count=99999", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxEventCount, gotCount)
}

func TestEventsListRejectsBadCount(t *testing.T) {
	h := NewEventsHandler(&stubEventSource{}, testLogger())

	for _, raw := range []string{"banana", "0", "-3"} {
		rec := httptest.NewRecorder()
		h.List(rec, httptest.NewRequest(http.MethodGet, "/api/events?count="+raw, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "count=%s", raw)
	}
}

func TestEventsListSkipsMalformedEntries(t *testing.T) {
	src := &stubEventSource{
		readFn: func(context.Context, string, string, int) ([]domain.StreamMessage, error) {
			return []domain.StreamMessage{
				{ID: "1-0", Payload: []byte(`{"type":"market.bet"}`)},
				{ID: "1-1", Payload: []byte("not json")},
			}, nil
		},
	}
	h := NewEventsHandler(src, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, float64(1), got["count"])
	assert.Equal(t, "1-1", got["next_after"], "the cursor advances past entries that cannot be replayed")
}

// ---------------------------------------------------------------------------
// Ops handlers
// ---------------------------------------------------------------------------

type stubArchiveReader struct {
	objects map[string][]byte
}

func (s *stubArchiveReader) Get(_ context.Context, path string) (io.ReadCloser, error) {
	raw, ok := s.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *stubArchiveReader) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for path, raw := range s.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(raw))})
		}
	}
	return infos, nil
}

func TestArchiveTrigger(t *testing.T) {
	ch := make(chan struct{}, 1)
	h := NewArchiveHandler(testLogger()).WithTriggerChannel(ch)

	rec := httptest.NewRecorder()
	h.Trigger(rec, httptest.NewRequest(http.MethodPost, "/api/archive/trigger", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case <-ch:
	default:
		t.Fatal("expected a trigger on the channel")
	}

	// A second trigger while one is pending must not block.
	ch <- struct{}{}
	rec = httptest.NewRecorder()
	h.Trigger(rec, httptest.NewRequest(http.MethodPost, "/api/archive/trigger", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestArchiveListFiles(t *testing.T) {
	reader := &stubArchiveReader{objects: map[string][]byte{
		"archive/audit/2026-07.jsonl":   []byte("{}\n"),
		"archive/markets/2026-07.jsonl": []byte("{}\n{}\n"),
	}}
	h := NewArchiveHandler(testLogger()).WithReader(reader)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/archive", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, float64(2), got["count"])

	var paths []string
	for _, f := range got["files"].([]any) {
		paths = append(paths, f.(map[string]any)["path"].(string))
	}
	assert.ElementsMatch(t, []string{
		"archive/audit/2026-07.jsonl",
		"archive/markets/2026-07.jsonl",
	}, paths)
}

func TestArchiveBrowseUnavailableWithoutReader(t *testing.T) {
	h := NewArchiveHandler(testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/archive", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	r := httptest.NewRequest(http.MethodGet, "/api/archive/audit/2026-07", nil)
	r.SetPathValue("kind", "audit")
	r.SetPathValue("month", "2026-07")
	rec = httptest.NewRecorder()
	h.Download(rec, r)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestArchiveDownload(t *testing.T) {
	content := `{"event":"escrow.created"}` + "\n"
	reader := &stubArchiveReader{objects: map[string][]byte{
		"archive/audit/2026-07.jsonl": []byte(content),
	}}
	h := NewArchiveHandler(testLogger()).WithReader(reader)

	r := httptest.NewRequest(http.MethodGet, "/api/archive/audit/2026-07", nil)
	r.SetPathValue("kind", "audit")
	r.SetPathValue("month", "2026-07")
	rec := httptest.NewRecorder()
	h.Download(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Equal(t, content, rec.Body.String())
}

func TestArchiveDownloadValidation(t *testing.T) {
	h := NewArchiveHandler(testLogger()).WithReader(&stubArchiveReader{objects: map[string][]byte{}})

	cases := []struct {
		name  string
		kind  string
		month string
		want  int
	}{
		{"unknown kind", "secrets", "2026-07", http.StatusBadRequest},
		{"mangled month", "audit", "not-a-month", http.StatusBadRequest},
		{"missing object", "audit", "2026-07", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/archive/x/y", nil)
			r.SetPathValue("kind", tc.kind)
			r.SetPathValue("month", tc.month)
			rec := httptest.NewRecorder()
			h.Download(rec, r)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := NewStatusHandler("serve", "postgres", "gateway", time.Now().Add(-90*time.Second))

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, "serve", got["mode"])
	assert.Equal(t, "postgres", got["store"])
	assert.Equal(t, "gateway", got["treasury"])
	assert.GreaterOrEqual(t, got["uptime_seconds"], float64(90))
}

func TestHealthEndpoint(t *testing.T) {
	h := NewHealthHandler(testLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestWriteJSONSetsContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusTeapot, map[string]string{"k": "v"})

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.Contains(rec.Body.Bytes(), []byte(`"k":"v"`)))
}
