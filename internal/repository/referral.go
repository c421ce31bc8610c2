package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReferralRepository reads referral attributions. The rows are owned by
// the external social flow; the engine never writes them.
type ReferralRepository struct {
	pool *pgxpool.Pool
}

// NewReferralRepository creates a new ReferralRepository instance.
func NewReferralRepository(pool *pgxpool.Pool) *ReferralRepository {
	return &ReferralRepository{pool: pool}
}

// GetReferrer returns who referred a player, or nil when the player has no
// referrer on record.
func (r *ReferralRepository) GetReferrer(ctx context.Context, playerID string) (*string, error) {
	return r.getReferrer(ctx, r.pool, playerID)
}

// GetReferrerTx reads the referrer inside the caller's transaction.
func (r *ReferralRepository) GetReferrerTx(ctx context.Context, tx pgx.Tx, playerID string) (*string, error) {
	return r.getReferrer(ctx, tx, playerID)
}

func (r *ReferralRepository) getReferrer(ctx context.Context, q querier, playerID string) (*string, error) {
	const query = `SELECT referrer_id FROM referrals WHERE player_id = $1`

	var referrer string
	err := q.QueryRow(ctx, query, playerID).Scan(&referrer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get referrer: %w", err)
	}
	return &referrer, nil
}

// CountCreatedBetween returns how many referrals were recorded inside the
// exact [start, end] window. Used for the new-referral archive counter.
func (r *ReferralRepository) CountCreatedBetween(ctx context.Context, start, end time.Time) (int64, error) {
	const query = `
		SELECT COUNT(*)
		FROM referrals
		WHERE created_at >= $1 AND created_at <= $2
	`

	var count int64
	if err := r.pool.QueryRow(ctx, query, start, end).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count referrals: %w", err)
	}
	return count, nil
}
