// Package model defines the data models for the round settlement engine.
package model

import "time"

// Round represents one play cycle of the word-guessing jackpot game.
// A round moves from ACTIVE to RESOLVED exactly once and is never reopened.
// The commitment is published before any guess is accepted; salt and answer
// stay confidential until resolution.
type Round struct {
	Number      int64      `db:"number"`
	Answer      string     `db:"answer"`
	Salt        string     `db:"salt"`
	Commitment  string     `db:"commitment"`
	SeedAmount  int64      `db:"seed_amount"`
	PoolAmount  int64      `db:"pool_amount"`
	Active      bool       `db:"active"`
	StartedAt   time.Time  `db:"started_at"`
	ResolvedAt  *time.Time `db:"resolved_at"`
	WinnerID    *string    `db:"winner_id"`
	ReferrerID  *string    `db:"referrer_id"`
	AnnounceRef *string    `db:"announce_ref"`
}

// Resolved reports whether the round has a resolution timestamp.
func (r *Round) Resolved() bool {
	return r.ResolvedAt != nil
}

// Guess represents one player action against an active round.
// Guesses are append-only; Seq is monotonically increasing per round and
// Correct is fixed at creation.
type Guess struct {
	ID          int64     `db:"id"`
	RoundNumber int64     `db:"round_number"`
	PlayerID    string    `db:"player_id"`
	Word        string    `db:"word"`
	Correct     bool      `db:"correct"`
	Seq         int64     `db:"seq"`
	CreatedAt   time.Time `db:"created_at"`
}

// Payout represents one recipient's share of a resolved round's pool.
// Recipient is nil for pool-internal roles (next-round seed).
// Rows are written once at resolution and never mutated.
type Payout struct {
	ID          int64     `db:"id"`
	RoundNumber int64     `db:"round_number"`
	Role        string    `db:"role"`
	Recipient   *string   `db:"recipient"`
	Amount      int64     `db:"amount"`
	CreatedAt   time.Time `db:"created_at"`
}

// Payout roles.
const (
	RoleWinner     = "winner"
	RoleReferrer   = "referrer"
	RoleTopGuesser = "top_guesser"
	RoleNextSeed   = "next_seed"
	RoleOperator   = "operator"
)

// PackPurchase records one batch of guess packs bought by a player.
// The per-(player, UTC day) sum of PackCount drives the volume tier.
type PackPurchase struct {
	ID          int64     `db:"id"`
	PlayerID    string    `db:"player_id"`
	RoundNumber int64     `db:"round_number"`
	PackCount   int64     `db:"pack_count"`
	TotalPrice  int64     `db:"total_price"`
	CreatedAt   time.Time `db:"created_at"`
}

// Referral records who referred a player. Owned by the external social flow;
// the engine only reads it for archive counters and referrer payouts.
type Referral struct {
	PlayerID   string    `db:"player_id"`
	ReferrerID string    `db:"referrer_id"`
	CreatedAt  time.Time `db:"created_at"`
}

// TopGuesser is one ranked entry in an archived payout breakdown.
type TopGuesser struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"playerId"`
	Amount   int64  `json:"amount"`
}

// PayoutBreakdown is the structured per-role view of a round's payouts,
// embedded in the archive snapshot.
type PayoutBreakdown struct {
	Winner      int64        `json:"winner"`
	Referrer    int64        `json:"referrer"`
	TopGuessers []TopGuesser `json:"topGuessers"`
	NextSeed    int64        `json:"nextSeed"`
	Operator    int64        `json:"operator"`
}

// Total returns the sum of all shares in the breakdown.
func (b *PayoutBreakdown) Total() int64 {
	total := b.Winner + b.Referrer + b.NextSeed + b.Operator
	for _, tg := range b.TopGuessers {
		total += tg.Amount
	}
	return total
}

// ArchiveRecord is the immutable denormalized snapshot of one resolved round.
// At most one exists per round number, enforced by a uniqueness constraint.
type ArchiveRecord struct {
	RoundNumber       int64           `db:"round_number"`
	TargetAnswer      string          `db:"target_answer"`
	Salt              string          `db:"salt"`
	SeedAmount        int64           `db:"seed_amount"`
	FinalPool         int64           `db:"final_pool"`
	TotalGuesses      int64           `db:"total_guesses"`
	UniquePlayers     int64           `db:"unique_players"`
	WinnerID          *string         `db:"winner_id"`
	WinnerGuessSeq    *int64          `db:"winner_guess_seq"`
	StartedAt         time.Time       `db:"started_at"`
	EndedAt           time.Time       `db:"ended_at"`
	AnnounceRef       *string         `db:"announce_ref"`
	Payouts           PayoutBreakdown `db:"payouts"`
	BonusParticipants int64           `db:"bonus_participants"`
	NewReferrals      int64           `db:"new_referrals"`
	CreatedAt         time.Time       `db:"created_at"`
}

// ArchiveError is an append-only log entry for a failed or partial archive
// attempt. It never blocks future attempts for the same round.
type ArchiveError struct {
	ID          int64             `db:"id"`
	RoundNumber int64             `db:"round_number"`
	Category    string            `db:"category"`
	Message     string            `db:"message"`
	Context     map[string]string `db:"context"`
	Resolved    bool              `db:"resolved"`
	CreatedAt   time.Time         `db:"created_at"`
}

// Archive error categories.
const (
	ArchiveErrRoundNotFound  = "round_not_found"
	ArchiveErrFailed         = "archive_failed"
	ArchiveErrCommitMismatch = "commit_mismatch"
)

// OperatorStatus is the external kill-switch state consulted by the game
// loop before accepting guesses or purchases. It is owned outside the
// engine and injected into it.
type OperatorStatus string

const (
	StatusNormal    OperatorStatus = "NORMAL"
	StatusPaused    OperatorStatus = "PAUSED"
	StatusEmergency OperatorStatus = "EMERGENCY"
)
