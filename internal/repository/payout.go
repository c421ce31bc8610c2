package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wordpot-engine/internal/model"
)

const payoutColumns = `id, round_number, role, recipient, amount, created_at`

// PayoutRepository handles payout persistence. Rows are created exactly
// once per round inside the settlement transaction and never mutated.
type PayoutRepository struct {
	pool *pgxpool.Pool
}

// NewPayoutRepository creates a new PayoutRepository instance.
func NewPayoutRepository(pool *pgxpool.Pool) *PayoutRepository {
	return &PayoutRepository{pool: pool}
}

// CreateTx inserts one payout row inside the settlement transaction, so a
// reader can never observe a partially-written split.
func (r *PayoutRepository) CreateTx(ctx context.Context, tx pgx.Tx, roundNumber int64, role string, recipient *string, amount int64) error {
	const query = `
		INSERT INTO payouts (round_number, role, recipient, amount, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`

	if _, err := tx.Exec(ctx, query, roundNumber, role, recipient, amount); err != nil {
		return fmt.Errorf("failed to create payout: %w", err)
	}
	return nil
}

// ListByRound returns all payout rows for a round in insertion order.
// Rank for top_guesser rows is their 1-based position among rows of that
// role in this ordering.
func (r *PayoutRepository) ListByRound(ctx context.Context, roundNumber int64) ([]*model.Payout, error) {
	const query = `
		SELECT ` + payoutColumns + `
		FROM payouts
		WHERE round_number = $1
		ORDER BY id ASC
	`

	rows, err := r.pool.Query(ctx, query, roundNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list payouts: %w", err)
	}
	defer rows.Close()

	var payouts []*model.Payout
	for rows.Next() {
		var p model.Payout
		err := rows.Scan(
			&p.ID,
			&p.RoundNumber,
			&p.Role,
			&p.Recipient,
			&p.Amount,
			&p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		payouts = append(payouts, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payouts: %w", err)
	}
	return payouts, nil
}

// SumByRound returns the total paid out for a round. After resolution it
// equals the round's final pool value.
func (r *PayoutRepository) SumByRound(ctx context.Context, roundNumber int64) (int64, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM payouts WHERE round_number = $1`

	var total int64
	if err := r.pool.QueryRow(ctx, query, roundNumber).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum payouts: %w", err)
	}
	return total, nil
}

// NextSeedAmount returns the next_seed payout of a round, or zero when the
// round has none. Round N+1 reads round N's value as its starting seed.
func (r *PayoutRepository) NextSeedAmount(ctx context.Context, roundNumber int64) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0)
		FROM payouts
		WHERE round_number = $1 AND role = $2
	`

	var amount int64
	if err := r.pool.QueryRow(ctx, query, roundNumber, model.RoleNextSeed).Scan(&amount); err != nil {
		return 0, fmt.Errorf("failed to get next seed amount: %w", err)
	}
	return amount, nil
}
