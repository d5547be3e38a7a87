package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/matchbook/internal/concurrency"
	"github.com/alanyoungcy/matchbook/internal/domain"
)

// ClaimResult reports a successful rewards claim.
type ClaimResult struct {
	MatchID string
	Party   domain.Party
	Reward  uint64
	Receipt domain.SettlementReceipt
}

// MarketService owns the pari-mutuel market ledger: market creation, bets,
// resolution, and reward claims, plus the read-only queries. Operations on
// one match id are serialized through a keyed mutex; different matches
// proceed independently.
type MarketService struct {
	markets  domain.MarketStore
	treasury domain.Treasury
	stats    domain.StatsCache
	bus      domain.SignalBus
	logger   *slog.Logger

	locks   *concurrency.KeyedMutex
	dist    domain.LockManager
	distTTL time.Duration
	audit   domain.AuditStore
	signer  ReceiptSigner
}

// NewMarketService creates a MarketService. The stats cache and bus may be
// nil when caching or eventing is not wired.
func NewMarketService(
	markets domain.MarketStore,
	treasury domain.Treasury,
	stats domain.StatsCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets:  markets,
		treasury: treasury,
		stats:    stats,
		bus:      bus,
		logger:   logger,
		locks:    concurrency.NewKeyedMutex(),
	}
}

// WithAudit adds synchronous audit logging for settlement operations.
func (s *MarketService) WithAudit(audit domain.AuditStore) *MarketService {
	s.audit = audit
	return s
}

// WithSigner adds receipt signing to claims.
func (s *MarketService) WithSigner(signer ReceiptSigner) *MarketService {
	s.signer = signer
	return s
}

// WithDistLock extends per-match serialization across instances using a
// distributed lock with the given ttl.
func (s *MarketService) WithDistLock(lm domain.LockManager, ttl time.Duration) *MarketService {
	s.dist = lm
	s.distTTL = ttl
	return s
}

func (s *MarketService) lockMatch(ctx context.Context, matchID string) (func(), error) {
	unlock := s.locks.Lock("market:" + matchID)
	if s.dist == nil {
		return unlock, nil
	}
	release, err := s.dist.Acquire(ctx, "market:"+matchID, s.distTTL)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("market_service: lock %q: %w", matchID, err)
	}
	return func() {
		release()
		unlock()
	}, nil
}

// cacheStats refreshes the cached stats tuple after a successful mutation.
// Cache failures are logged, never propagated.
func (s *MarketService) cacheStats(ctx context.Context, rec domain.MarketRecord) {
	if s.stats == nil {
		return
	}
	if err := s.stats.Set(ctx, rec.Stats()); err != nil {
		s.logger.WarnContext(ctx, "market_service: stats cache set failed",
			slog.String("match_id", rec.MatchID),
			slog.String("error", err.Error()),
		)
	}
}

// Create inserts a fresh Active market for matchID. The caller becomes the
// record's administrator; anyone may create. The player refs identify the
// match sides for display, carry no funds, and must not be the empty
// identity.
func (s *MarketService) Create(
	ctx context.Context,
	caller domain.Party,
	matchID string,
	player1Ref, player2Ref domain.Party,
) (domain.MarketRecord, error) {
	if player1Ref == domain.ZeroParty || player2Ref == domain.ZeroParty {
		return domain.MarketRecord{}, fmt.Errorf("market_service: create %q: %w", matchID, domain.ErrInvalidParty)
	}

	unlock, err := s.lockMatch(ctx, matchID)
	if err != nil {
		return domain.MarketRecord{}, err
	}
	defer unlock()

	rec := domain.MarketRecord{
		MatchID:       matchID,
		Administrator: caller,
		Player1Ref:    player1Ref,
		Player2Ref:    player2Ref,
		Status:        domain.MarketStatusActive,
	}
	if err := s.markets.Insert(ctx, rec); err != nil {
		return domain.MarketRecord{}, fmt.Errorf("market_service: create %q: %w", matchID, err)
	}
	s.cacheStats(ctx, rec)

	auditLog(ctx, s.audit, s.logger, string(domain.EventMarketCreated), map[string]any{
		"match_id": matchID,
		"admin":    caller.Hex(),
		"player1":  player1Ref.Hex(),
		"player2":  player2Ref.Hex(),
	})
	publishEvent(ctx, s.bus, s.logger, newEvent(domain.EventMarketCreated, matchID, caller))

	s.logger.InfoContext(ctx, "market created",
		slog.String("match_id", matchID),
		slog.String("admin", caller.Hex()),
	)
	return rec, nil
}

// Bet stakes amount on outcome. The stake is collected into the settlement
// account, then the outcome total, the pool, and the caller's cumulative
// share are updated together. Repeat bets accumulate without bound, on the
// same or different outcomes. The transfer and the ledger update are
// atomic: a failed transfer changes nothing.
func (s *MarketService) Bet(
	ctx context.Context,
	caller domain.Party,
	matchID string,
	outcome domain.Outcome,
	amount uint64,
) (domain.MarketRecord, error) {
	if !outcome.Valid() {
		return domain.MarketRecord{}, fmt.Errorf("market_service: bet %q: %w", matchID, domain.ErrInvalidOutcome)
	}
	if amount == 0 {
		return domain.MarketRecord{}, fmt.Errorf("market_service: bet %q: %w", matchID, domain.ErrZeroBet)
	}

	unlock, err := s.lockMatch(ctx, matchID)
	if err != nil {
		return domain.MarketRecord{}, err
	}
	defer unlock()

	rec, err := s.markets.Get(ctx, matchID)
	if err != nil {
		return domain.MarketRecord{}, fmt.Errorf("market_service: bet %q: %w", matchID, err)
	}
	if rec.Status != domain.MarketStatusActive {
		return domain.MarketRecord{}, fmt.Errorf("market_service: bet %q: %w", matchID, domain.ErrAlreadyResolved)
	}

	current, err := s.markets.Share(ctx, matchID, outcome, caller)
	if err != nil {
		return domain.MarketRecord{}, fmt.Errorf("market_service: bet %q: read share: %w", matchID, err)
	}

	if err := s.treasury.Collect(ctx, caller, amount, "market bet "+matchID); err != nil {
		return domain.MarketRecord{}, fmt.Errorf("market_service: bet %q: %w", matchID, err)
	}

	rec.Totals.Add(outcome, amount)
	rec.Pool += amount
	share := domain.OutcomeShare{
		MatchID: matchID,
		Outcome: outcome,
		Party:   caller,
		Amount:  current + amount,
	}
	if err := s.markets.ApplyBet(ctx, rec, share); err != nil {
		s.logger.ErrorContext(ctx, "bet collected but not recorded",
			slog.String("match_id", matchID),
			slog.String("party", caller.Hex()),
			slog.Uint64("amount", amount),
			slog.String("error", err.Error()),
		)
		return domain.MarketRecord{}, fmt.Errorf("market_service: bet %q: apply: %w", matchID, err)
	}
	s.cacheStats(ctx, rec)

	auditLog(ctx, s.audit, s.logger, string(domain.EventMarketBet), map[string]any{
		"match_id": matchID,
		"party":    caller.Hex(),
		"outcome":  string(outcome),
		"amount":   amount,
		"pool":     rec.Pool,
	})
	ev := newEvent(domain.EventMarketBet, matchID, caller)
	ev.Outcome = outcome
	ev.Amount = amount
	ev.Pool = rec.Pool
	publishEvent(ctx, s.bus, s.logger, ev)

	s.logger.InfoContext(ctx, "bet placed",
		slog.String("match_id", matchID),
		slog.String("party", caller.Hex()),
		slog.String("outcome", string(outcome)),
		slog.Uint64("amount", amount),
		slog.Uint64("pool", rec.Pool),
	)
	return rec, nil
}

// Resolve freezes the market on winningOutcome: the status flips to
// Resolved and the pool is captured as the snapshot every claim is paid
// from. Only the administrator may resolve, and only once. A market with
// no bets can still be resolved; nobody will be able to claim against it.
func (s *MarketService) Resolve(
	ctx context.Context,
	caller domain.Party,
	matchID string,
	winningOutcome domain.Outcome,
) (domain.MarketRecord, error) {
	if !winningOutcome.Valid() {
		return domain.MarketRecord{}, fmt.Errorf("market_service: resolve %q: %w", matchID, domain.ErrInvalidOutcome)
	}

	unlock, err := s.lockMatch(ctx, matchID)
	if err != nil {
		return domain.MarketRecord{}, err
	}
	defer unlock()

	rec, err := s.markets.Get(ctx, matchID)
	if err != nil {
		return domain.MarketRecord{}, fmt.Errorf("market_service: resolve %q: %w", matchID, err)
	}
	if err := domain.RequireAdmin(caller, rec.Administrator); err != nil {
		return domain.MarketRecord{}, fmt.Errorf("market_service: resolve %q: %w", matchID, err)
	}
	if rec.Status == domain.MarketStatusResolved {
		return domain.MarketRecord{}, fmt.Errorf("market_service: resolve %q: %w", matchID, domain.ErrAlreadyResolved)
	}

	now := time.Now().UTC()
	rec.Status = domain.MarketStatusResolved
	rec.WinningOutcome = winningOutcome
	rec.ResolvedPoolSnapshot = rec.Pool
	rec.ResolvedAt = &now
	if err := s.markets.Update(ctx, rec); err != nil {
		return domain.MarketRecord{}, fmt.Errorf("market_service: resolve %q: %w", matchID, err)
	}
	s.cacheStats(ctx, rec)

	auditLog(ctx, s.audit, s.logger, string(domain.EventMarketResolved), map[string]any{
		"match_id": matchID,
		"outcome":  string(winningOutcome),
		"pool":     rec.ResolvedPoolSnapshot,
	})
	ev := newEvent(domain.EventMarketResolved, matchID, caller)
	ev.Outcome = winningOutcome
	ev.Pool = rec.ResolvedPoolSnapshot
	publishEvent(ctx, s.bus, s.logger, ev)

	s.logger.InfoContext(ctx, "market resolved",
		slog.String("match_id", matchID),
		slog.String("outcome", string(winningOutcome)),
		slog.Uint64("pool_snapshot", rec.ResolvedPoolSnapshot),
	)
	return rec, nil
}

// ClaimRewards pays the caller its proportional cut of the frozen pool
// snapshot: floor(share * snapshot / winningTotal). The claim flag is
// per participant and permanent, and the winning-outcome share is zeroed so
// the reward cannot be re-derived. The transfer and the ledger update are
// atomic: a failed transfer changes nothing.
func (s *MarketService) ClaimRewards(ctx context.Context, caller domain.Party, matchID string) (ClaimResult, error) {
	unlock, err := s.lockMatch(ctx, matchID)
	if err != nil {
		return ClaimResult{}, err
	}
	defer unlock()

	rec, err := s.markets.Get(ctx, matchID)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("market_service: claim %q: %w", matchID, err)
	}
	if rec.Status != domain.MarketStatusResolved {
		return ClaimResult{}, fmt.Errorf("market_service: claim %q: %w", matchID, domain.ErrNotResolved)
	}
	claimed, err := s.markets.Claimed(ctx, matchID, caller)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("market_service: claim %q: read claim flag: %w", matchID, err)
	}
	if claimed {
		return ClaimResult{}, fmt.Errorf("market_service: claim %q: %w", matchID, domain.ErrAlreadyClaimed)
	}

	userAmount, err := s.markets.Share(ctx, matchID, rec.WinningOutcome, caller)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("market_service: claim %q: read share: %w", matchID, err)
	}
	if userAmount == 0 {
		return ClaimResult{}, fmt.Errorf("market_service: claim %q: %w", matchID, domain.ErrNoShares)
	}
	winningTotal := rec.Totals.Get(rec.WinningOutcome)
	if winningTotal == 0 {
		// Consistency guard: a nonzero user share with a zero aggregate
		// means the totals are corrupt; refuse rather than divide by zero.
		return ClaimResult{}, fmt.Errorf("market_service: claim %q: %w", matchID, domain.ErrNoShares)
	}

	reward := domain.MulDiv(userAmount, rec.ResolvedPoolSnapshot, winningTotal)
	if err := s.treasury.Release(ctx, []domain.PayoutLeg{{To: caller, Amount: reward}}, "market claim "+matchID); err != nil {
		return ClaimResult{}, fmt.Errorf("market_service: claim %q: %w", matchID, err)
	}

	if err := s.markets.ApplyClaim(ctx, matchID, rec.WinningOutcome, caller); err != nil {
		s.logger.ErrorContext(ctx, "claim paid but not recorded",
			slog.String("match_id", matchID),
			slog.String("party", caller.Hex()),
			slog.Uint64("reward", reward),
			slog.String("error", err.Error()),
		)
		return ClaimResult{}, fmt.Errorf("market_service: claim %q: apply: %w", matchID, err)
	}

	result := ClaimResult{
		MatchID: matchID,
		Party:   caller,
		Reward:  reward,
		Receipt: signReceipt(ctx, s.signer, s.logger, newReceipt(matchID, domain.ReceiptClaim, caller, reward)),
	}

	auditLog(ctx, s.audit, s.logger, string(domain.EventMarketClaimed), map[string]any{
		"match_id": matchID,
		"party":    caller.Hex(),
		"outcome":  string(rec.WinningOutcome),
		"reward":   reward,
	})
	ev := newEvent(domain.EventMarketClaimed, matchID, caller)
	ev.Outcome = rec.WinningOutcome
	ev.Recipient = caller
	ev.Amount = reward
	ev.Pool = rec.ResolvedPoolSnapshot
	publishEvent(ctx, s.bus, s.logger, ev)

	s.logger.InfoContext(ctx, "rewards claimed",
		slog.String("match_id", matchID),
		slog.String("party", caller.Hex()),
		slog.Uint64("reward", reward),
	)
	return result, nil
}

// Exists reports whether a market record is present for matchID. Absence
// is not an error.
func (s *MarketService) Exists(ctx context.Context, matchID string) (bool, error) {
	_, err := s.markets.Get(ctx, matchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("market_service: exists %q: %w", matchID, err)
	}
	return true, nil
}

// Stats returns the market stats tuple, preferring the cache. An unknown
// match id yields the zero tuple with Exists false, never an error.
func (s *MarketService) Stats(ctx context.Context, matchID string) (domain.MarketStats, error) {
	if s.stats != nil {
		if cached, err := s.stats.Get(ctx, matchID); err == nil {
			return cached, nil
		}
	}

	rec, err := s.markets.Get(ctx, matchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.MarketStats{MatchID: matchID}, nil
		}
		return domain.MarketStats{}, fmt.Errorf("market_service: stats %q: %w", matchID, err)
	}

	stats := rec.Stats()
	s.cacheStats(ctx, rec)
	return stats, nil
}

// Share returns the caller's cumulative stake on one outcome; zero when the
// market, outcome, or participant is unknown.
func (s *MarketService) Share(ctx context.Context, matchID string, outcome domain.Outcome, p domain.Party) (uint64, error) {
	if !outcome.Valid() {
		return 0, nil
	}
	amount, err := s.markets.Share(ctx, matchID, outcome, p)
	if err != nil {
		return 0, fmt.Errorf("market_service: share %q: %w", matchID, err)
	}
	return amount, nil
}

// Claimed reports the participant's claim flag; false when unknown.
func (s *MarketService) Claimed(ctx context.Context, matchID string, p domain.Party) (bool, error) {
	claimed, err := s.markets.Claimed(ctx, matchID, p)
	if err != nil {
		return false, fmt.Errorf("market_service: claimed %q: %w", matchID, err)
	}
	return claimed, nil
}

// PotentialReward projects what a claim on outcome would pay right now:
// the live pool while the market is Active, the frozen snapshot once
// Resolved. On a resolved market, outcomes other than the winner project
// zero. Never fails for unknown records; zero is returned instead.
func (s *MarketService) PotentialReward(ctx context.Context, matchID string, outcome domain.Outcome, p domain.Party) (uint64, error) {
	if !outcome.Valid() {
		return 0, nil
	}

	rec, err := s.markets.Get(ctx, matchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("market_service: potential %q: %w", matchID, err)
	}

	share, err := s.markets.Share(ctx, matchID, outcome, p)
	if err != nil {
		return 0, fmt.Errorf("market_service: potential %q: %w", matchID, err)
	}
	return projectReward(rec, outcome, share), nil
}

// ShareView assembles the participant's whole standing in one market:
// per-outcome stakes, their sum, the claim flag, and the per-outcome reward
// projection. Zero values when the market or participant is unknown.
func (s *MarketService) ShareView(ctx context.Context, matchID string, p domain.Party) (domain.ShareView, error) {
	view := domain.ShareView{MatchID: matchID, Party: p}

	byOutcome, err := s.markets.PartyShares(ctx, matchID, p)
	if err != nil {
		return domain.ShareView{}, fmt.Errorf("market_service: share view %q: %w", matchID, err)
	}
	view.ByOutcome = byOutcome
	view.Total = byOutcome.Sum()

	claimed, err := s.markets.Claimed(ctx, matchID, p)
	if err != nil {
		return domain.ShareView{}, fmt.Errorf("market_service: share view %q: %w", matchID, err)
	}
	view.Claimed = claimed

	rec, err := s.markets.Get(ctx, matchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return view, nil
		}
		return domain.ShareView{}, fmt.Errorf("market_service: share view %q: %w", matchID, err)
	}
	for _, o := range domain.Outcomes {
		view.Potential.Add(o, projectReward(rec, o, byOutcome.Get(o)))
	}
	return view, nil
}

// projectReward computes the claim formula without mutating state. Zero
// when the participant has no share, the outcome has no stake, or the
// outcome lost a resolved market.
func projectReward(rec domain.MarketRecord, outcome domain.Outcome, share uint64) uint64 {
	if share == 0 {
		return 0
	}
	total := rec.Totals.Get(outcome)
	if total == 0 {
		return 0
	}
	if rec.Status == domain.MarketStatusResolved {
		if outcome != rec.WinningOutcome {
			return 0
		}
		return domain.MulDiv(share, rec.ResolvedPoolSnapshot, total)
	}
	return domain.MulDiv(share, rec.Pool, total)
}
