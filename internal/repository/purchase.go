package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wordpot-engine/internal/model"
)

// PurchaseRepository handles guess-pack purchase persistence. The per-day
// pack counts it serves are the volume-tier input for the pricing engine.
type PurchaseRepository struct {
	pool *pgxpool.Pool
}

// NewPurchaseRepository creates a new PurchaseRepository instance.
func NewPurchaseRepository(pool *pgxpool.Pool) *PurchaseRepository {
	return &PurchaseRepository{pool: pool}
}

// Create records one pack purchase batch.
func (r *PurchaseRepository) Create(ctx context.Context, playerID string, roundNumber, packCount, totalPrice int64) (*model.PackPurchase, error) {
	return r.create(ctx, r.pool, playerID, roundNumber, packCount, totalPrice)
}

// CreateTx records a purchase inside the caller's transaction, so the
// charge and the pool deposit it funds commit or roll back together. A
// rolled-back purchase never inflates the daily tier counter.
func (r *PurchaseRepository) CreateTx(ctx context.Context, tx pgx.Tx, playerID string, roundNumber, packCount, totalPrice int64) (*model.PackPurchase, error) {
	return r.create(ctx, tx, playerID, roundNumber, packCount, totalPrice)
}

func (r *PurchaseRepository) create(ctx context.Context, q querier, playerID string, roundNumber, packCount, totalPrice int64) (*model.PackPurchase, error) {
	const query = `
		INSERT INTO pack_purchases (player_id, round_number, pack_count, total_price, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, player_id, round_number, pack_count, total_price, created_at
	`

	var p model.PackPurchase
	err := q.QueryRow(ctx, query, playerID, roundNumber, packCount, totalPrice).Scan(
		&p.ID,
		&p.PlayerID,
		&p.RoundNumber,
		&p.PackCount,
		&p.TotalPrice,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create purchase: %w", err)
	}
	return &p, nil
}

// PacksPurchasedToday returns how many packs a player has bought within
// the UTC calendar day containing the given time. The daily boundary is
// fixed at UTC midnight.
func (r *PurchaseRepository) PacksPurchasedToday(ctx context.Context, playerID string, at time.Time) (int64, error) {
	day := at.UTC()
	startOfDay := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	endOfDay := startOfDay.Add(24 * time.Hour)

	const query = `
		SELECT COALESCE(SUM(pack_count), 0)
		FROM pack_purchases
		WHERE player_id = $1
		  AND created_at >= $2
		  AND created_at < $3
	`

	var count int64
	if err := r.pool.QueryRow(ctx, query, playerID, startOfDay, endOfDay).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count packs purchased today: %w", err)
	}
	return count, nil
}
