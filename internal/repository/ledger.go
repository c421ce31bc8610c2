package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wordpot-engine/internal/commit"
)

// ErrCommitmentNotFound is returned when no commitment was published for a
// round.
var ErrCommitmentNotFound = errors.New("commitment not published for round")

// CommitmentLedger is the database-backed implementation of the
// commit.Ledger capability: an append-only publication log. The hashing
// contract is the invariant; a chain or signed log could replace this
// table without touching callers.
type CommitmentLedger struct {
	pool *pgxpool.Pool
}

var _ commit.Ledger = (*CommitmentLedger)(nil)

// NewCommitmentLedger creates a new CommitmentLedger instance.
func NewCommitmentLedger(pool *pgxpool.Pool) *CommitmentLedger {
	return &CommitmentLedger{pool: pool}
}

// Publish records the commitment for a round. A round publishes once; a
// duplicate publish of the same hash is a no-op, a conflicting one fails.
func (l *CommitmentLedger) Publish(ctx context.Context, roundNumber int64, commitment string) error {
	const query = `
		INSERT INTO commitments (round_number, commitment, published_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (round_number) DO NOTHING
	`

	result, err := l.pool.Exec(ctx, query, roundNumber, commitment)
	if err != nil {
		return fmt.Errorf("failed to publish commitment: %w", err)
	}
	if result.RowsAffected() == 0 {
		existing, err := l.Get(ctx, roundNumber)
		if err != nil {
			return err
		}
		if existing != commitment {
			return fmt.Errorf("round %d already has a different published commitment", roundNumber)
		}
	}
	return nil
}

// Get returns the published commitment for a round.
func (l *CommitmentLedger) Get(ctx context.Context, roundNumber int64) (string, error) {
	const query = `SELECT commitment FROM commitments WHERE round_number = $1`

	var commitment string
	err := l.pool.QueryRow(ctx, query, roundNumber).Scan(&commitment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrCommitmentNotFound
		}
		return "", fmt.Errorf("failed to get commitment: %w", err)
	}
	return commitment, nil
}

// Verify checks a revealed (salt, answer) pair against the published
// commitment for the round.
func (l *CommitmentLedger) Verify(ctx context.Context, roundNumber int64, salt, answer string) (bool, error) {
	commitment, err := l.Get(ctx, roundNumber)
	if err != nil {
		return false, err
	}
	return commit.VerifyReveal(commitment, salt, answer), nil
}
