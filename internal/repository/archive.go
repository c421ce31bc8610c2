package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wordpot-engine/internal/model"
)

// ErrArchiveNotFound is returned when no archive record exists for a round.
var ErrArchiveNotFound = errors.New("archive record not found")

const archiveColumns = `round_number, target_answer, salt, seed_amount, final_pool,
	total_guesses, unique_players, winner_id, winner_guess_seq,
	started_at, ended_at, announce_ref, payouts, bonus_participants,
	new_referrals, created_at`

// ArchiveRepository handles archive snapshot and error-log persistence.
// Snapshots are immutable once written; idempotency comes from the
// uniqueness constraint on round_number, not from any in-memory flag.
type ArchiveRepository struct {
	pool *pgxpool.Pool
}

// NewArchiveRepository creates a new ArchiveRepository instance.
func NewArchiveRepository(pool *pgxpool.Pool) *ArchiveRepository {
	return &ArchiveRepository{pool: pool}
}

// Insert writes an archive snapshot in one atomic statement. Returns
// ErrArchiveDuplicate when a snapshot for the round already exists, which
// callers racing on the same round must treat as already-archived.
func (r *ArchiveRepository) Insert(ctx context.Context, rec *model.ArchiveRecord) error {
	payouts, err := json.Marshal(rec.Payouts)
	if err != nil {
		return fmt.Errorf("failed to marshal payout breakdown: %w", err)
	}

	const query = `
		INSERT INTO round_archives (
			round_number, target_answer, salt, seed_amount, final_pool,
			total_guesses, unique_players, winner_id, winner_guess_seq,
			started_at, ended_at, announce_ref, payouts, bonus_participants,
			new_referrals, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
	`

	_, err = r.pool.Exec(ctx, query,
		rec.RoundNumber,
		rec.TargetAnswer,
		rec.Salt,
		rec.SeedAmount,
		rec.FinalPool,
		rec.TotalGuesses,
		rec.UniquePlayers,
		rec.WinnerID,
		rec.WinnerGuessSeq,
		rec.StartedAt,
		rec.EndedAt,
		rec.AnnounceRef,
		payouts,
		rec.BonusParticipants,
		rec.NewReferrals,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrArchiveDuplicate
		}
		return fmt.Errorf("failed to insert archive record: %w", err)
	}
	return nil
}

// Get retrieves the archive snapshot for a round.
func (r *ArchiveRepository) Get(ctx context.Context, roundNumber int64) (*model.ArchiveRecord, error) {
	const query = `SELECT ` + archiveColumns + ` FROM round_archives WHERE round_number = $1`

	var rec model.ArchiveRecord
	var payouts []byte
	err := r.pool.QueryRow(ctx, query, roundNumber).Scan(
		&rec.RoundNumber,
		&rec.TargetAnswer,
		&rec.Salt,
		&rec.SeedAmount,
		&rec.FinalPool,
		&rec.TotalGuesses,
		&rec.UniquePlayers,
		&rec.WinnerID,
		&rec.WinnerGuessSeq,
		&rec.StartedAt,
		&rec.EndedAt,
		&rec.AnnounceRef,
		&payouts,
		&rec.BonusParticipants,
		&rec.NewReferrals,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrArchiveNotFound
		}
		return nil, fmt.Errorf("failed to get archive record: %w", err)
	}

	if err := json.Unmarshal(payouts, &rec.Payouts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payout breakdown: %w", err)
	}
	return &rec, nil
}

// Exists reports whether an archive snapshot exists for a round.
func (r *ArchiveRepository) Exists(ctx context.Context, roundNumber int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM round_archives WHERE round_number = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, roundNumber).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check archive existence: %w", err)
	}
	return exists, nil
}

// Delete removes a round's snapshot. Only the forced re-archive path uses
// this; a forced refresh is delete-then-recreate, never an update.
func (r *ArchiveRepository) Delete(ctx context.Context, roundNumber int64) error {
	const query = `DELETE FROM round_archives WHERE round_number = $1`

	if _, err := r.pool.Exec(ctx, query, roundNumber); err != nil {
		return fmt.Errorf("failed to delete archive record: %w", err)
	}
	return nil
}

// InsertError appends an archive error log entry. Failures here never
// block the round from being retried.
func (r *ArchiveRepository) InsertError(ctx context.Context, roundNumber int64, category, message string, context map[string]string) error {
	var ctxJSON []byte
	if context != nil {
		var err error
		ctxJSON, err = json.Marshal(context)
		if err != nil {
			return fmt.Errorf("failed to marshal error context: %w", err)
		}
	}

	const query = `
		INSERT INTO archive_errors (round_number, category, message, context, resolved, created_at)
		VALUES ($1, $2, $3, $4, FALSE, NOW())
	`

	if _, err := r.pool.Exec(ctx, query, roundNumber, category, message, ctxJSON); err != nil {
		return fmt.Errorf("failed to insert archive error: %w", err)
	}
	return nil
}

// ListErrors returns the error log for a round, oldest first.
func (r *ArchiveRepository) ListErrors(ctx context.Context, roundNumber int64) ([]*model.ArchiveError, error) {
	const query = `
		SELECT id, round_number, category, message, context, resolved, created_at
		FROM archive_errors
		WHERE round_number = $1
		ORDER BY id ASC
	`

	rows, err := r.pool.Query(ctx, query, roundNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive errors: %w", err)
	}
	defer rows.Close()

	var errs []*model.ArchiveError
	for rows.Next() {
		var e model.ArchiveError
		var ctxJSON []byte
		err := rows.Scan(
			&e.ID,
			&e.RoundNumber,
			&e.Category,
			&e.Message,
			&ctxJSON,
			&e.Resolved,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan archive error: %w", err)
		}
		if len(ctxJSON) > 0 {
			if err := json.Unmarshal(ctxJSON, &e.Context); err != nil {
				return nil, fmt.Errorf("failed to unmarshal error context: %w", err)
			}
		}
		errs = append(errs, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating archive errors: %w", err)
	}
	return errs, nil
}

// MarkErrorResolved flags an error-log entry as triaged.
func (r *ArchiveRepository) MarkErrorResolved(ctx context.Context, id int64) error {
	const query = `UPDATE archive_errors SET resolved = TRUE WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark error resolved: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrArchiveNotFound
	}
	return nil
}
