package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/matchbook/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Market rows
// carry the aggregate totals; per-participant stakes live in market_shares
// and claim flags in market_claims, both keyed by the flattened tuple.
type MarketStore struct {
	pool *pgxpool.Pool
}

var _ domain.MarketStore = (*MarketStore)(nil)

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Insert adds a fresh market row; a taken match id maps to ErrAlreadyExists.
func (s *MarketStore) Insert(ctx context.Context, rec domain.MarketRecord) error {
	const query = `
		INSERT INTO markets (
			match_id, administrator, player1_ref, player2_ref, status,
			winning_outcome, total_player1, total_player2, total_draw,
			pool, resolved_pool_snapshot
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.pool.Exec(ctx, query,
		rec.MatchID, rec.Administrator.Hex(), rec.Player1Ref.Hex(), rec.Player2Ref.Hex(),
		string(rec.Status), string(rec.WinningOutcome),
		rec.Totals[0], rec.Totals[1], rec.Totals[2],
		rec.Pool, rec.ResolvedPoolSnapshot,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert market %s: %w", rec.MatchID, err)
	}
	return nil
}

const marketCols = `match_id, administrator, player1_ref, player2_ref, status,
	winning_outcome, total_player1, total_player2, total_draw,
	pool, resolved_pool_snapshot, created_at, updated_at, resolved_at`

func scanMarket(row pgx.Row) (domain.MarketRecord, error) {
	var rec domain.MarketRecord
	var admin, p1, p2, status, winning string
	err := row.Scan(
		&rec.MatchID, &admin, &p1, &p2, &status,
		&winning, &rec.Totals[0], &rec.Totals[1], &rec.Totals[2],
		&rec.Pool, &rec.ResolvedPoolSnapshot,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.ResolvedAt,
	)
	if err != nil {
		return domain.MarketRecord{}, err
	}
	rec.Administrator = common.HexToAddress(admin)
	rec.Player1Ref = common.HexToAddress(p1)
	rec.Player2Ref = common.HexToAddress(p2)
	rec.Status = domain.MarketStatus(status)
	rec.WinningOutcome = domain.Outcome(winning)
	return rec, nil
}

// Get returns the market row for matchID; ErrNotFound when absent.
func (s *MarketStore) Get(ctx context.Context, matchID string) (domain.MarketRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE match_id = $1`, matchID)
	rec, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketRecord{}, domain.ErrNotFound
		}
		return domain.MarketRecord{}, fmt.Errorf("postgres: get market %s: %w", matchID, err)
	}
	return rec, nil
}

const updateMarketQuery = `
	UPDATE markets SET
		status = $2, winning_outcome = $3,
		total_player1 = $4, total_player2 = $5, total_draw = $6,
		pool = $7, resolved_pool_snapshot = $8,
		updated_at = NOW(), resolved_at = $9
	WHERE match_id = $1`

// Update overwrites the mutable market fields; ErrNotFound when absent.
func (s *MarketStore) Update(ctx context.Context, rec domain.MarketRecord) error {
	tag, err := s.pool.Exec(ctx, updateMarketQuery,
		rec.MatchID, string(rec.Status), string(rec.WinningOutcome),
		rec.Totals[0], rec.Totals[1], rec.Totals[2],
		rec.Pool, rec.ResolvedPoolSnapshot, rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", rec.MatchID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ApplyBet writes the updated market aggregates and the participant's
// accumulated share in one transaction.
func (s *MarketStore) ApplyBet(ctx context.Context, rec domain.MarketRecord, share domain.OutcomeShare) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: apply bet %s: begin: %w", rec.MatchID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, updateMarketQuery,
		rec.MatchID, string(rec.Status), string(rec.WinningOutcome),
		rec.Totals[0], rec.Totals[1], rec.Totals[2],
		rec.Pool, rec.ResolvedPoolSnapshot, rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: apply bet %s: market: %w", rec.MatchID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	const shareQuery = `
		INSERT INTO market_shares (match_id, outcome, party, amount, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (match_id, outcome, party) DO UPDATE SET
			amount = EXCLUDED.amount, updated_at = NOW()`
	if _, err := tx.Exec(ctx, shareQuery,
		share.MatchID, string(share.Outcome), share.Party.Hex(), share.Amount,
	); err != nil {
		return fmt.Errorf("postgres: apply bet %s: share: %w", rec.MatchID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: apply bet %s: commit: %w", rec.MatchID, err)
	}
	return nil
}

// Share returns the participant's cumulative stake on one outcome; zero when
// no row exists.
func (s *MarketStore) Share(ctx context.Context, matchID string, o domain.Outcome, p domain.Party) (uint64, error) {
	var amount uint64
	err := s.pool.QueryRow(ctx,
		`SELECT amount FROM market_shares WHERE match_id = $1 AND outcome = $2 AND party = $3`,
		matchID, string(o), p.Hex(),
	).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: get share %s: %w", matchID, err)
	}
	return amount, nil
}

// PartyShares returns the participant's stakes across all outcomes; zeros
// for outcomes never staked.
func (s *MarketStore) PartyShares(ctx context.Context, matchID string, p domain.Party) (domain.OutcomeTotals, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT outcome, amount FROM market_shares WHERE match_id = $1 AND party = $2`,
		matchID, p.Hex(),
	)
	if err != nil {
		return domain.OutcomeTotals{}, fmt.Errorf("postgres: party shares %s: %w", matchID, err)
	}
	defer rows.Close()

	var totals domain.OutcomeTotals
	for rows.Next() {
		var outcome string
		var amount uint64
		if err := rows.Scan(&outcome, &amount); err != nil {
			return domain.OutcomeTotals{}, fmt.Errorf("postgres: scan party share %s: %w", matchID, err)
		}
		totals.Add(domain.Outcome(outcome), amount)
	}
	if err := rows.Err(); err != nil {
		return domain.OutcomeTotals{}, fmt.Errorf("postgres: party shares %s rows: %w", matchID, err)
	}
	return totals, nil
}

// Claimed reports whether the participant already claimed on this market.
func (s *MarketStore) Claimed(ctx context.Context, matchID string, p domain.Party) (bool, error) {
	var claimed bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM market_claims WHERE match_id = $1 AND party = $2)`,
		matchID, p.Hex(),
	).Scan(&claimed)
	if err != nil {
		return false, fmt.Errorf("postgres: get claim flag %s: %w", matchID, err)
	}
	return claimed, nil
}

// ApplyClaim sets the participant's claim flag and zeroes the winning-outcome
// share in one transaction.
func (s *MarketStore) ApplyClaim(ctx context.Context, matchID string, o domain.Outcome, p domain.Party) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: apply claim %s: begin: %w", matchID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO market_claims (match_id, party) VALUES ($1, $2)`,
		matchID, p.Hex(),
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyClaimed
		}
		return fmt.Errorf("postgres: apply claim %s: flag: %w", matchID, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE market_shares SET amount = 0, updated_at = NOW()
		 WHERE match_id = $1 AND outcome = $2 AND party = $3`,
		matchID, string(o), p.Hex(),
	); err != nil {
		return fmt.Errorf("postgres: apply claim %s: share: %w", matchID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: apply claim %s: commit: %w", matchID, err)
	}
	return nil
}

// ListResolvedBefore returns markets resolved strictly before the cutoff,
// oldest first. Used by the cold-storage archiver.
func (s *MarketStore) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.MarketRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets
		 WHERE status = 'resolved' AND resolved_at < $1
		 ORDER BY resolved_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved markets: %w", err)
	}
	defer rows.Close()

	var records []domain.MarketRecord
	for rows.Next() {
		rec, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan resolved market: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list resolved markets rows: %w", err)
	}
	return records, nil
}

// SharesByMarket returns every share row of one market, ordered by outcome
// then party for stable archive output.
func (s *MarketStore) SharesByMarket(ctx context.Context, matchID string) ([]domain.OutcomeShare, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT match_id, outcome, party, amount, updated_at FROM market_shares
		 WHERE match_id = $1
		 ORDER BY outcome, party`, matchID)
	if err != nil {
		return nil, fmt.Errorf("postgres: shares by market %s: %w", matchID, err)
	}
	defer rows.Close()

	var shares []domain.OutcomeShare
	for rows.Next() {
		var (
			share   domain.OutcomeShare
			outcome string
			party   string
		)
		if err := rows.Scan(&share.MatchID, &outcome, &party, &share.Amount, &share.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan share %s: %w", matchID, err)
		}
		share.Outcome = domain.Outcome(outcome)
		share.Party = common.HexToAddress(party)
		shares = append(shares, share)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: shares by market %s rows: %w", matchID, err)
	}
	return shares, nil
}

// ClaimantsByMarket returns the parties whose claim flag is set for one
// market, ordered by party.
func (s *MarketStore) ClaimantsByMarket(ctx context.Context, matchID string) ([]domain.Party, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT party FROM market_claims WHERE match_id = $1 ORDER BY party`, matchID)
	if err != nil {
		return nil, fmt.Errorf("postgres: claimants %s: %w", matchID, err)
	}
	defer rows.Close()

	var parties []domain.Party
	for rows.Next() {
		var party string
		if err := rows.Scan(&party); err != nil {
			return nil, fmt.Errorf("postgres: scan claimant %s: %w", matchID, err)
		}
		parties = append(parties, common.HexToAddress(party))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: claimants %s rows: %w", matchID, err)
	}
	return parties, nil
}

// Count returns the total number of market rows.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}
