// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wordpot-engine/internal/model"
)

// Common errors for repository operations.
var (
	ErrRoundNotFound    = errors.New("round not found")
	ErrRoundNotActive   = errors.New("round is not active")
	ErrReferrerSet      = errors.New("round referrer already set")
	ErrNegativeDeposit  = errors.New("pool deposits must not be negative")
	ErrArchiveDuplicate = errors.New("archive record already exists")
)

const roundColumns = `number, answer, salt, commitment, seed_amount, pool_amount,
	active, started_at, resolved_at, winner_id, referrer_id, announce_ref`

// querier is the read/write surface shared by *pgxpool.Pool and pgx.Tx, so
// a repository method can run standalone or inside a caller's transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// createRetries is how many times Create retries the sequential number
// assignment when concurrent creates collide on the primary key.
const createRetries = 3

// RoundRepository handles round persistence. Rounds are owned by the live
// game loop; the archive layer only reads them.
type RoundRepository struct {
	pool *pgxpool.Pool
}

// NewRoundRepository creates a new RoundRepository instance.
func NewRoundRepository(pool *pgxpool.Pool) *RoundRepository {
	return &RoundRepository{pool: pool}
}

// scanRound scans one round row.
func scanRound(row pgx.Row) (*model.Round, error) {
	var r model.Round
	err := row.Scan(
		&r.Number,
		&r.Answer,
		&r.Salt,
		&r.Commitment,
		&r.SeedAmount,
		&r.PoolAmount,
		&r.Active,
		&r.StartedAt,
		&r.ResolvedAt,
		&r.WinnerID,
		&r.ReferrerID,
		&r.AnnounceRef,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Create inserts a new active round with the next sequential number.
// The starting pool equals the seed carried over from the previous round.
// Two concurrent creates can race to the same number; the primary key
// rejects the loser and the insert is retried.
func (r *RoundRepository) Create(ctx context.Context, answer, salt, commitment string, seed int64) (*model.Round, error) {
	const query = `
		INSERT INTO rounds (number, answer, salt, commitment, seed_amount, pool_amount, active, started_at)
		SELECT COALESCE(MAX(number), 0) + 1, $1, $2, $3, $4, $4, TRUE, NOW()
		FROM rounds
		RETURNING ` + roundColumns

	var lastErr error
	for attempt := 0; attempt < createRetries; attempt++ {
		round, err := scanRound(r.pool.QueryRow(ctx, query, answer, salt, commitment, seed))
		if err == nil {
			return round, nil
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("failed to create round: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to create round after %d attempts: %w", createRetries, lastErr)
}

// GetByNumber retrieves a round by its number.
// Returns ErrRoundNotFound if it does not exist.
func (r *RoundRepository) GetByNumber(ctx context.Context, number int64) (*model.Round, error) {
	const query = `SELECT ` + roundColumns + ` FROM rounds WHERE number = $1`

	round, err := scanRound(r.pool.QueryRow(ctx, query, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return round, nil
}

// GetActive retrieves the current active round, if any.
func (r *RoundRepository) GetActive(ctx context.Context) (*model.Round, error) {
	const query = `SELECT ` + roundColumns + ` FROM rounds WHERE active ORDER BY number DESC LIMIT 1`

	round, err := scanRound(r.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to get active round: %w", err)
	}
	return round, nil
}

// ListResolvedNumbers returns the numbers of all resolved rounds in
// ascending order.
func (r *RoundRepository) ListResolvedNumbers(ctx context.Context) ([]int64, error) {
	const query = `SELECT number FROM rounds WHERE resolved_at IS NOT NULL ORDER BY number ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list resolved rounds: %w", err)
	}
	defer rows.Close()

	var numbers []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan round number: %w", err)
		}
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rounds: %w", err)
	}
	return numbers, nil
}

// AddToPool grows an active round's pool. The pool only moves up while a
// round is active; resolution zeroes it inside the settlement transaction.
func (r *RoundRepository) AddToPool(ctx context.Context, number, amount int64) (*model.Round, error) {
	return r.addToPool(ctx, r.pool, number, amount)
}

// AddToPoolTx grows the pool inside the caller's transaction, so a charge
// and its pool deposit commit or roll back together.
func (r *RoundRepository) AddToPoolTx(ctx context.Context, tx pgx.Tx, number, amount int64) (*model.Round, error) {
	return r.addToPool(ctx, tx, number, amount)
}

func (r *RoundRepository) addToPool(ctx context.Context, q querier, number, amount int64) (*model.Round, error) {
	if amount < 0 {
		return nil, ErrNegativeDeposit
	}

	const query = `
		UPDATE rounds
		SET pool_amount = pool_amount + $2
		WHERE number = $1 AND active
		RETURNING ` + roundColumns

	round, err := scanRound(q.QueryRow(ctx, query, number, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoundNotActive
		}
		return nil, fmt.Errorf("failed to add to pool: %w", err)
	}
	return round, nil
}

// SetReferrer records the round's referrer. It may be set at most once.
func (r *RoundRepository) SetReferrer(ctx context.Context, number int64, referrerID string) error {
	const query = `
		UPDATE rounds
		SET referrer_id = $2
		WHERE number = $1 AND referrer_id IS NULL
	`

	result, err := r.pool.Exec(ctx, query, number, referrerID)
	if err != nil {
		return fmt.Errorf("failed to set referrer: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrReferrerSet
	}
	return nil
}

// SetAnnounceRef records the social announcement reference for a round.
func (r *RoundRepository) SetAnnounceRef(ctx context.Context, number int64, ref string) error {
	const query = `UPDATE rounds SET announce_ref = $2 WHERE number = $1`

	result, err := r.pool.Exec(ctx, query, number, ref)
	if err != nil {
		return fmt.Errorf("failed to set announce ref: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrRoundNotFound
	}
	return nil
}

// LockForSettlementTx row-locks an active round inside the settlement
// transaction and returns its current pool amount. Concurrent purchases
// block behind the lock, so the settled pool is the final one.
func (r *RoundRepository) LockForSettlementTx(ctx context.Context, tx pgx.Tx, number int64) (int64, error) {
	const query = `SELECT pool_amount FROM rounds WHERE number = $1 AND active FOR UPDATE`

	var pool int64
	err := tx.QueryRow(ctx, query, number).Scan(&pool)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrRoundNotActive
		}
		return 0, fmt.Errorf("failed to lock round for settlement: %w", err)
	}
	return pool, nil
}

// ResolveTx closes a round inside the settlement transaction: clears the
// active flag, stamps the resolution time, records the winner and referrer
// and zeroes the pool. Guarded on active so a round resolves exactly once.
func (r *RoundRepository) ResolveTx(ctx context.Context, tx pgx.Tx, number int64, winnerID, referrerID *string, resolvedAt time.Time) error {
	const query = `
		UPDATE rounds
		SET active = FALSE,
		    resolved_at = $2,
		    winner_id = $3,
		    referrer_id = COALESCE(referrer_id, $4),
		    pool_amount = 0
		WHERE number = $1 AND active
	`

	result, err := tx.Exec(ctx, query, number, resolvedAt, winnerID, referrerID)
	if err != nil {
		return fmt.Errorf("failed to resolve round: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrRoundNotActive
	}
	return nil
}
