package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/matchbook/internal/domain"
)

// uniqueViolation is the SQLSTATE for duplicate-key errors.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// EscrowStore implements domain.EscrowStore using PostgreSQL.
type EscrowStore struct {
	pool *pgxpool.Pool
}

var _ domain.EscrowStore = (*EscrowStore)(nil)

// NewEscrowStore creates an EscrowStore backed by the given connection pool.
func NewEscrowStore(pool *pgxpool.Pool) *EscrowStore {
	return &EscrowStore{pool: pool}
}

// Insert adds a fresh escrow row; a taken match id maps to ErrAlreadyExists.
func (s *EscrowStore) Insert(ctx context.Context, rec domain.EscrowRecord) error {
	const query = `
		INSERT INTO escrows (match_id, administrator, player1, player2, stake_per_player, total_deposited, player1_deposited, player2_deposited)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, query,
		rec.MatchID, rec.Administrator.Hex(), rec.Player1.Hex(), rec.Player2.Hex(),
		rec.StakePerPlayer, rec.TotalDeposited, rec.Player1Deposited, rec.Player2Deposited,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert escrow %s: %w", rec.MatchID, err)
	}
	return nil
}

const escrowCols = `match_id, administrator, player1, player2,
	stake_per_player, total_deposited, player1_deposited, player2_deposited,
	created_at, updated_at`

func scanEscrow(row pgx.Row) (domain.EscrowRecord, error) {
	var rec domain.EscrowRecord
	var admin, p1, p2 string
	err := row.Scan(
		&rec.MatchID, &admin, &p1, &p2,
		&rec.StakePerPlayer, &rec.TotalDeposited, &rec.Player1Deposited, &rec.Player2Deposited,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.EscrowRecord{}, err
	}
	rec.Administrator = common.HexToAddress(admin)
	rec.Player1 = common.HexToAddress(p1)
	rec.Player2 = common.HexToAddress(p2)
	return rec, nil
}

// Get returns the escrow row for matchID; ErrNotFound when absent.
func (s *EscrowStore) Get(ctx context.Context, matchID string) (domain.EscrowRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+escrowCols+` FROM escrows WHERE match_id = $1`, matchID)
	rec, err := scanEscrow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EscrowRecord{}, domain.ErrNotFound
		}
		return domain.EscrowRecord{}, fmt.Errorf("postgres: get escrow %s: %w", matchID, err)
	}
	return rec, nil
}

// Update overwrites the mutable escrow fields; ErrNotFound when absent.
func (s *EscrowStore) Update(ctx context.Context, rec domain.EscrowRecord) error {
	const query = `
		UPDATE escrows SET
			total_deposited = $2, player1_deposited = $3, player2_deposited = $4, updated_at = NOW()
		WHERE match_id = $1`
	tag, err := s.pool.Exec(ctx, query,
		rec.MatchID, rec.TotalDeposited, rec.Player1Deposited, rec.Player2Deposited,
	)
	if err != nil {
		return fmt.Errorf("postgres: update escrow %s: %w", rec.MatchID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes the escrow row, freeing the key; ErrNotFound when absent.
func (s *EscrowStore) Delete(ctx context.Context, matchID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM escrows WHERE match_id = $1`, matchID)
	if err != nil {
		return fmt.Errorf("postgres: delete escrow %s: %w", matchID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
