package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"wordpot-engine/internal/model"
)

// ErrNoWinningGuess is returned when a round has no correct guess.
var ErrNoWinningGuess = errors.New("round has no winning guess")

// appendRetries is how many times Append retries the per-round sequence
// assignment when concurrent inserts collide on the (round, seq) constraint.
const appendRetries = 3

const guessColumns = `id, round_number, player_id, word, correct, seq, created_at`

// GuessRepository handles guess persistence. Guesses are append-only;
// correctness is fixed at creation and never mutated.
type GuessRepository struct {
	pool *pgxpool.Pool
}

// NewGuessRepository creates a new GuessRepository instance.
func NewGuessRepository(pool *pgxpool.Pool) *GuessRepository {
	return &GuessRepository{pool: pool}
}

func scanGuess(row pgx.Row) (*model.Guess, error) {
	var g model.Guess
	err := row.Scan(
		&g.ID,
		&g.RoundNumber,
		&g.PlayerID,
		&g.Word,
		&g.Correct,
		&g.Seq,
		&g.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// isUniqueViolation reports whether an error is a PostgreSQL unique
// constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Append records a guess with the next per-round sequence index. Two
// concurrent appends can race to the same index; the unique constraint on
// (round_number, seq) rejects the loser and the insert is retried.
func (r *GuessRepository) Append(ctx context.Context, roundNumber int64, playerID, word string, correct bool) (*model.Guess, error) {
	const query = `
		INSERT INTO guesses (round_number, player_id, word, correct, seq, created_at)
		SELECT $1, $2, $3, $4, COALESCE(MAX(seq), 0) + 1, NOW()
		FROM guesses
		WHERE round_number = $1
		RETURNING ` + guessColumns

	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		guess, err := scanGuess(r.pool.QueryRow(ctx, query, roundNumber, playerID, word, correct))
		if err == nil {
			return guess, nil
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("failed to append guess: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to append guess after %d attempts: %w", appendRetries, lastErr)
}

// CountByRound returns the total number of guesses recorded for a round.
func (r *GuessRepository) CountByRound(ctx context.Context, roundNumber int64) (int64, error) {
	const query = `SELECT COUNT(*) FROM guesses WHERE round_number = $1`

	var count int64
	if err := r.pool.QueryRow(ctx, query, roundNumber).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count guesses: %w", err)
	}
	return count, nil
}

// CountUniquePlayers returns the number of distinct players who guessed in
// a round.
func (r *GuessRepository) CountUniquePlayers(ctx context.Context, roundNumber int64) (int64, error) {
	const query = `SELECT COUNT(DISTINCT player_id) FROM guesses WHERE round_number = $1`

	var count int64
	if err := r.pool.QueryRow(ctx, query, roundNumber).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unique players: %w", err)
	}
	return count, nil
}

// WinningGuess returns the first correct guess of a round, ordered by
// sequence index. Guesses recorded after it still count for stats but
// never for prize eligibility.
func (r *GuessRepository) WinningGuess(ctx context.Context, roundNumber int64) (*model.Guess, error) {
	return r.winningGuess(ctx, r.pool, roundNumber)
}

// WinningGuessTx reads the winning guess inside the caller's transaction.
// Settlement uses this under the round's row lock so the settled winner is
// always the lowest-seq correct guess, no matter which caller settles.
func (r *GuessRepository) WinningGuessTx(ctx context.Context, tx pgx.Tx, roundNumber int64) (*model.Guess, error) {
	return r.winningGuess(ctx, tx, roundNumber)
}

func (r *GuessRepository) winningGuess(ctx context.Context, q querier, roundNumber int64) (*model.Guess, error) {
	const query = `
		SELECT ` + guessColumns + `
		FROM guesses
		WHERE round_number = $1 AND correct
		ORDER BY seq ASC
		LIMIT 1
	`

	guess, err := scanGuess(q.QueryRow(ctx, query, roundNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoWinningGuess
		}
		return nil, fmt.Errorf("failed to get winning guess: %w", err)
	}
	return guess, nil
}

// TopGuessers returns the players with the most guesses in a round, ordered
// by guess count descending with earlier first guess breaking ties. The
// winner is excluded; their reward comes from the winner share.
func (r *GuessRepository) TopGuessers(ctx context.Context, roundNumber int64, limit int, excludePlayer *string) ([]string, error) {
	return r.topGuessers(ctx, r.pool, roundNumber, limit, excludePlayer)
}

// TopGuessersTx ranks the top guessers inside the caller's transaction.
func (r *GuessRepository) TopGuessersTx(ctx context.Context, tx pgx.Tx, roundNumber int64, limit int, excludePlayer *string) ([]string, error) {
	return r.topGuessers(ctx, tx, roundNumber, limit, excludePlayer)
}

func (r *GuessRepository) topGuessers(ctx context.Context, q querier, roundNumber int64, limit int, excludePlayer *string) ([]string, error) {
	const query = `
		SELECT player_id
		FROM guesses
		WHERE round_number = $1 AND ($3::TEXT IS NULL OR player_id <> $3)
		GROUP BY player_id
		ORDER BY COUNT(*) DESC, MIN(seq) ASC
		LIMIT $2
	`

	rows, err := q.Query(ctx, query, roundNumber, limit, excludePlayer)
	if err != nil {
		return nil, fmt.Errorf("failed to get top guessers: %w", err)
	}
	defer rows.Close()

	var players []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan top guesser: %w", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating top guessers: %w", err)
	}
	return players, nil
}

// CountBonusParticipants returns how many players made at least threshold
// guesses inside the exact [start, end] window. Windows use exact
// timestamps, not calendar-day buckets, so adjacent rounds sharing a
// partial day never double-count.
func (r *GuessRepository) CountBonusParticipants(ctx context.Context, roundNumber int64, start, end time.Time, threshold int64) (int64, error) {
	const query = `
		SELECT COUNT(*)
		FROM (
			SELECT player_id
			FROM guesses
			WHERE round_number = $1
			  AND created_at >= $2
			  AND created_at <= $3
			GROUP BY player_id
			HAVING COUNT(*) >= $4
		) eligible
	`

	var count int64
	if err := r.pool.QueryRow(ctx, query, roundNumber, start, end, threshold).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count bonus participants: %w", err)
	}
	return count, nil
}
