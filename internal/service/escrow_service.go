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

// EscrowSettlement reports how a resolved escrow paid out.
type EscrowSettlement struct {
	MatchID  string
	Result   domain.EscrowResult
	Winner   domain.Party // zero on draws
	Fee      uint64
	Payout   uint64 // winner payout, or the per-player split on draws
	Dust     uint64 // stranded unit from an odd draw remainder
	Receipts []domain.SettlementReceipt
}

// EscrowService owns the two-party escrow ledger: record creation, stake
// deposits, and winner/draw settlement. Every operation touching one match
// id is serialized through a keyed mutex; operations on different matches
// proceed independently.
type EscrowService struct {
	escrows  domain.EscrowStore
	treasury domain.Treasury
	bus      domain.SignalBus
	logger   *slog.Logger

	locks   *concurrency.KeyedMutex
	dist    domain.LockManager
	distTTL time.Duration
	audit   domain.AuditStore
	signer  ReceiptSigner
	feeBps  uint64
}

// NewEscrowService creates an EscrowService charging the default protocol
// fee. The bus may be nil when eventing is not wired.
func NewEscrowService(
	escrows domain.EscrowStore,
	treasury domain.Treasury,
	bus domain.SignalBus,
	logger *slog.Logger,
) *EscrowService {
	return &EscrowService{
		escrows:  escrows,
		treasury: treasury,
		bus:      bus,
		logger:   logger,
		locks:    concurrency.NewKeyedMutex(),
		feeBps:   domain.DefaultEscrowFeeBps,
	}
}

// WithFeeRate overrides the resolution fee rate in basis points.
func (s *EscrowService) WithFeeRate(bps uint64) *EscrowService {
	s.feeBps = bps
	return s
}

// WithAudit adds synchronous audit logging for settlement operations.
func (s *EscrowService) WithAudit(audit domain.AuditStore) *EscrowService {
	s.audit = audit
	return s
}

// WithSigner adds receipt signing to resolutions.
func (s *EscrowService) WithSigner(signer ReceiptSigner) *EscrowService {
	s.signer = signer
	return s
}

// WithDistLock extends per-match serialization across instances using a
// distributed lock with the given ttl.
func (s *EscrowService) WithDistLock(lm domain.LockManager, ttl time.Duration) *EscrowService {
	s.dist = lm
	s.distTTL = ttl
	return s
}

// lockMatch serializes the caller on matchID, locally and, when configured,
// across instances.
func (s *EscrowService) lockMatch(ctx context.Context, matchID string) (func(), error) {
	unlock := s.locks.Lock("escrow:" + matchID)
	if s.dist == nil {
		return unlock, nil
	}
	release, err := s.dist.Acquire(ctx, "escrow:"+matchID, s.distTTL)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("escrow_service: lock %q: %w", matchID, err)
	}
	return func() {
		release()
		unlock()
	}, nil
}

// Create inserts a fresh escrow for matchID. The caller becomes the
// record's administrator; anyone may create. Fails ErrAlreadyExists when
// the key is taken, ErrZeroStake on a zero stake, and ErrInvalidParty when
// either player is the empty identity.
func (s *EscrowService) Create(
	ctx context.Context,
	caller domain.Party,
	matchID string,
	player1, player2 domain.Party,
	stakePerPlayer uint64,
) (domain.EscrowRecord, error) {
	if stakePerPlayer == 0 {
		return domain.EscrowRecord{}, fmt.Errorf("escrow_service: create %q: %w", matchID, domain.ErrZeroStake)
	}
	if player1 == domain.ZeroParty || player2 == domain.ZeroParty {
		return domain.EscrowRecord{}, fmt.Errorf("escrow_service: create %q: %w", matchID, domain.ErrInvalidParty)
	}

	unlock, err := s.lockMatch(ctx, matchID)
	if err != nil {
		return domain.EscrowRecord{}, err
	}
	defer unlock()

	rec := domain.EscrowRecord{
		MatchID:        matchID,
		Administrator:  caller,
		Player1:        player1,
		Player2:        player2,
		StakePerPlayer: stakePerPlayer,
	}
	if err := s.escrows.Insert(ctx, rec); err != nil {
		return domain.EscrowRecord{}, fmt.Errorf("escrow_service: create %q: %w", matchID, err)
	}

	auditLog(ctx, s.audit, s.logger, string(domain.EventEscrowCreated), map[string]any{
		"match_id": matchID,
		"admin":    caller.Hex(),
		"player1":  player1.Hex(),
		"player2":  player2.Hex(),
		"stake":    stakePerPlayer,
	})
	ev := newEvent(domain.EventEscrowCreated, matchID, caller)
	ev.Amount = stakePerPlayer
	publishEvent(ctx, s.bus, s.logger, ev)

	s.logger.InfoContext(ctx, "escrow created",
		slog.String("match_id", matchID),
		slog.String("admin", caller.Hex()),
		slog.Uint64("stake", stakePerPlayer),
	)
	return rec, nil
}

// Deposit collects the caller's stake into the settlement account and marks
// the caller's seat funded. Callers that are neither player see
// ErrNotFound: the record is opaque to outsiders. A seat can fund only
// once (ErrAlreadyDeposited). The transfer and the flag update are atomic:
// a failed transfer leaves the record untouched.
func (s *EscrowService) Deposit(ctx context.Context, caller domain.Party, matchID string) (domain.EscrowRecord, error) {
	unlock, err := s.lockMatch(ctx, matchID)
	if err != nil {
		return domain.EscrowRecord{}, err
	}
	defer unlock()

	rec, err := s.escrows.Get(ctx, matchID)
	if err != nil {
		return domain.EscrowRecord{}, fmt.Errorf("escrow_service: deposit %q: %w", matchID, err)
	}
	if !rec.IsPlayer(caller) {
		return domain.EscrowRecord{}, fmt.Errorf("escrow_service: deposit %q: %w", matchID, domain.ErrNotFound)
	}
	if rec.Deposited(caller) {
		return domain.EscrowRecord{}, fmt.Errorf("escrow_service: deposit %q: %w", matchID, domain.ErrAlreadyDeposited)
	}

	if err := s.treasury.Collect(ctx, caller, rec.StakePerPlayer, "escrow deposit "+matchID); err != nil {
		return domain.EscrowRecord{}, fmt.Errorf("escrow_service: deposit %q: %w", matchID, err)
	}

	rec.MarkDeposited(caller)
	if err := s.escrows.Update(ctx, rec); err != nil {
		// Funds were collected but the record write failed; surface loudly.
		s.logger.ErrorContext(ctx, "escrow deposit collected but not recorded",
			slog.String("match_id", matchID),
			slog.String("player", caller.Hex()),
			slog.Uint64("stake", rec.StakePerPlayer),
			slog.String("error", err.Error()),
		)
		return domain.EscrowRecord{}, fmt.Errorf("escrow_service: deposit %q: record update: %w", matchID, err)
	}

	auditLog(ctx, s.audit, s.logger, string(domain.EventEscrowDeposited), map[string]any{
		"match_id": matchID,
		"player":   caller.Hex(),
		"stake":    rec.StakePerPlayer,
		"total":    rec.TotalDeposited,
	})
	ev := newEvent(domain.EventEscrowDeposited, matchID, caller)
	ev.Amount = rec.StakePerPlayer
	ev.Pool = rec.TotalDeposited
	publishEvent(ctx, s.bus, s.logger, ev)

	s.logger.InfoContext(ctx, "escrow deposit",
		slog.String("match_id", matchID),
		slog.String("player", caller.Hex()),
		slog.Uint64("total_deposited", rec.TotalDeposited),
		slog.Bool("fully_funded", rec.FullyFunded()),
	)
	return rec, nil
}

// ResolveWin settles a fully funded escrow winner-take-all: the winner
// receives the pool minus the protocol fee, the administrator receives the
// fee, and the record is removed, freeing the key. Only the administrator
// may resolve (ErrNotAdmin) and only once both seats funded (ErrNotReady).
// The winner identity is paid as given: it is not checked against the
// player seats, so the administrator chooses the payout recipient freely.
func (s *EscrowService) ResolveWin(
	ctx context.Context,
	caller domain.Party,
	matchID string,
	winner domain.Party,
) (EscrowSettlement, error) {
	unlock, err := s.lockMatch(ctx, matchID)
	if err != nil {
		return EscrowSettlement{}, err
	}
	defer unlock()

	rec, err := s.escrows.Get(ctx, matchID)
	if err != nil {
		return EscrowSettlement{}, fmt.Errorf("escrow_service: resolve win %q: %w", matchID, err)
	}
	if err := domain.RequireAdmin(caller, rec.Administrator); err != nil {
		return EscrowSettlement{}, fmt.Errorf("escrow_service: resolve win %q: %w", matchID, err)
	}
	if !rec.FullyFunded() {
		return EscrowSettlement{}, fmt.Errorf("escrow_service: resolve win %q: %w", matchID, domain.ErrNotReady)
	}

	fee, payout := domain.FeeSplit(rec.TotalDeposited, s.feeBps)
	legs := []domain.PayoutLeg{
		{To: winner, Amount: payout},
		{To: rec.Administrator, Amount: fee},
	}
	if err := s.treasury.Release(ctx, legs, "escrow win "+matchID); err != nil {
		return EscrowSettlement{}, fmt.Errorf("escrow_service: resolve win %q: %w", matchID, err)
	}

	if err := s.escrows.Delete(ctx, matchID); err != nil {
		s.logger.ErrorContext(ctx, "escrow paid out but record removal failed",
			slog.String("match_id", matchID),
			slog.String("error", err.Error()),
		)
		return EscrowSettlement{}, fmt.Errorf("escrow_service: resolve win %q: delete: %w", matchID, err)
	}

	settlement := EscrowSettlement{
		MatchID: matchID,
		Result:  domain.EscrowResultWin,
		Winner:  winner,
		Fee:     fee,
		Payout:  payout,
		Receipts: []domain.SettlementReceipt{
			signReceipt(ctx, s.signer, s.logger, newReceipt(matchID, domain.ReceiptWin, winner, payout)),
			signReceipt(ctx, s.signer, s.logger, newReceipt(matchID, domain.ReceiptFee, rec.Administrator, fee)),
		},
	}

	auditLog(ctx, s.audit, s.logger, string(domain.EventEscrowResolved), map[string]any{
		"match_id": matchID,
		"result":   string(domain.EscrowResultWin),
		"winner":   winner.Hex(),
		"payout":   payout,
		"fee":      fee,
		"total":    rec.TotalDeposited,
	})
	ev := newEvent(domain.EventEscrowResolved, matchID, caller)
	ev.Result = domain.EscrowResultWin
	ev.Recipient = winner
	ev.Amount = payout
	ev.Fee = fee
	ev.Pool = rec.TotalDeposited
	publishEvent(ctx, s.bus, s.logger, ev)

	s.logger.InfoContext(ctx, "escrow resolved: win",
		slog.String("match_id", matchID),
		slog.String("winner", winner.Hex()),
		slog.Uint64("payout", payout),
		slog.Uint64("fee", fee),
	)
	return settlement, nil
}

// ResolveDraw settles a fully funded escrow as a draw: each player receives
// half of the pool minus the fee, the administrator receives the fee, and
// the record is removed. When the post-fee remainder is odd, the spare unit
// stays in the settlement account; it is reported as Dust and never paid
// out.
func (s *EscrowService) ResolveDraw(ctx context.Context, caller domain.Party, matchID string) (EscrowSettlement, error) {
	unlock, err := s.lockMatch(ctx, matchID)
	if err != nil {
		return EscrowSettlement{}, err
	}
	defer unlock()

	rec, err := s.escrows.Get(ctx, matchID)
	if err != nil {
		return EscrowSettlement{}, fmt.Errorf("escrow_service: resolve draw %q: %w", matchID, err)
	}
	if err := domain.RequireAdmin(caller, rec.Administrator); err != nil {
		return EscrowSettlement{}, fmt.Errorf("escrow_service: resolve draw %q: %w", matchID, err)
	}
	if !rec.FullyFunded() {
		return EscrowSettlement{}, fmt.Errorf("escrow_service: resolve draw %q: %w", matchID, domain.ErrNotReady)
	}

	fee, remainder := domain.FeeSplit(rec.TotalDeposited, s.feeBps)
	split := remainder / 2
	dust := remainder - 2*split
	legs := []domain.PayoutLeg{
		{To: rec.Player1, Amount: split},
		{To: rec.Player2, Amount: split},
		{To: rec.Administrator, Amount: fee},
	}
	if err := s.treasury.Release(ctx, legs, "escrow draw "+matchID); err != nil {
		return EscrowSettlement{}, fmt.Errorf("escrow_service: resolve draw %q: %w", matchID, err)
	}

	if err := s.escrows.Delete(ctx, matchID); err != nil {
		s.logger.ErrorContext(ctx, "escrow paid out but record removal failed",
			slog.String("match_id", matchID),
			slog.String("error", err.Error()),
		)
		return EscrowSettlement{}, fmt.Errorf("escrow_service: resolve draw %q: delete: %w", matchID, err)
	}

	settlement := EscrowSettlement{
		MatchID: matchID,
		Result:  domain.EscrowResultDraw,
		Fee:     fee,
		Payout:  split,
		Dust:    dust,
		Receipts: []domain.SettlementReceipt{
			signReceipt(ctx, s.signer, s.logger, newReceipt(matchID, domain.ReceiptSplit, rec.Player1, split)),
			signReceipt(ctx, s.signer, s.logger, newReceipt(matchID, domain.ReceiptSplit, rec.Player2, split)),
			signReceipt(ctx, s.signer, s.logger, newReceipt(matchID, domain.ReceiptFee, rec.Administrator, fee)),
		},
	}

	auditLog(ctx, s.audit, s.logger, string(domain.EventEscrowResolved), map[string]any{
		"match_id": matchID,
		"result":   string(domain.EscrowResultDraw),
		"split":    split,
		"fee":      fee,
		"dust":     dust,
		"total":    rec.TotalDeposited,
	})
	ev := newEvent(domain.EventEscrowResolved, matchID, caller)
	ev.Result = domain.EscrowResultDraw
	ev.Amount = split
	ev.Fee = fee
	ev.Pool = rec.TotalDeposited
	publishEvent(ctx, s.bus, s.logger, ev)

	s.logger.InfoContext(ctx, "escrow resolved: draw",
		slog.String("match_id", matchID),
		slog.Uint64("split", split),
		slog.Uint64("fee", fee),
		slog.Uint64("dust", dust),
	)
	return settlement, nil
}

// Exists reports whether an escrow record is present for matchID. Absence
// is not an error.
func (s *EscrowService) Exists(ctx context.Context, matchID string) (bool, error) {
	_, err := s.escrows.Get(ctx, matchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("escrow_service: exists %q: %w", matchID, err)
	}
	return true, nil
}

// Get returns the escrow record and whether it exists; an absent key yields
// the zero record with found false, never an error.
func (s *EscrowService) Get(ctx context.Context, matchID string) (domain.EscrowRecord, bool, error) {
	rec, err := s.escrows.Get(ctx, matchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.EscrowRecord{}, false, nil
		}
		return domain.EscrowRecord{}, false, fmt.Errorf("escrow_service: get %q: %w", matchID, err)
	}
	return rec, true, nil
}
