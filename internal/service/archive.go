package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"wordpot-engine/internal/commit"
	"wordpot-engine/internal/model"
	"wordpot-engine/internal/repository"
)

// ErrNotEligible is returned for rounds without a resolution timestamp.
// It is an expected, retriable condition and is never logged to the error
// trail.
var ErrNotEligible = errors.New("round is not yet resolved")

// ArchiveResult is the outcome of archiving one round.
type ArchiveResult struct {
	RoundNumber     int64
	AlreadyArchived bool
}

// SyncResult accumulates the outcome of a bulk archive run.
type SyncResult struct {
	Archived        int
	AlreadyArchived int
	Failed          int
	Errors          []string
}

// ArchiveService snapshots resolved rounds into immutable archive records.
// It is the only component that logs internally: its job includes leaving
// an operator-facing error trail, and no failure may escape a bulk sync.
// Concurrent archives of the same round are resolved by the uniqueness
// constraint on the snapshot, not by locking.
type ArchiveService struct {
	rounds    *repository.RoundRepository
	guesses   *repository.GuessRepository
	payouts   *repository.PayoutRepository
	referrals *repository.ReferralRepository
	archives  *repository.ArchiveRepository

	bonusThreshold int64
	logger         zerolog.Logger
}

// NewArchiveService creates a new ArchiveService instance.
func NewArchiveService(
	rounds *repository.RoundRepository,
	guesses *repository.GuessRepository,
	payouts *repository.PayoutRepository,
	referrals *repository.ReferralRepository,
	archives *repository.ArchiveRepository,
	bonusThreshold int64,
) *ArchiveService {
	return &ArchiveService{
		rounds:         rounds,
		guesses:        guesses,
		payouts:        payouts,
		referrals:      referrals,
		archives:       archives,
		bonusThreshold: bonusThreshold,
		logger:         log.With().Str("component", "archive").Logger(),
	}
}

// logError appends an entry to the operator error trail. A failure to log
// is itself only logged; it never masks the original error or blocks a
// retry.
func (s *ArchiveService) logError(ctx context.Context, roundNumber int64, category, message string, errCtx map[string]string) {
	if err := s.archives.InsertError(ctx, roundNumber, category, message, errCtx); err != nil {
		s.logger.Error().Err(err).
			Int64("round", roundNumber).
			Str("category", category).
			Msg("Failed to record archive error")
	}
	s.logger.Warn().
		Int64("round", roundNumber).
		Str("category", category).
		Str("message", message).
		Msg("Archive attempt failed")
}

// ArchiveRound snapshots one resolved round.
//
// Outcomes are shaped for idempotent retries: an existing snapshot (or a
// concurrent insert losing the uniqueness race) returns success with
// AlreadyArchived set; an unresolved round returns ErrNotEligible without
// logging; a missing round or write failure is logged to the error trail
// and returned. Failures leave the round retriable indefinitely.
func (s *ArchiveService) ArchiveRound(ctx context.Context, roundNumber int64, force bool) (*ArchiveResult, error) {
	exists, err := s.archives.Exists(ctx, roundNumber)
	if err != nil {
		s.logError(ctx, roundNumber, model.ArchiveErrFailed, err.Error(), nil)
		return nil, err
	}
	if exists {
		if !force {
			return &ArchiveResult{RoundNumber: roundNumber, AlreadyArchived: true}, nil
		}
		// Forced refresh is delete-then-recreate, never an in-place update.
		if err := s.archives.Delete(ctx, roundNumber); err != nil {
			s.logError(ctx, roundNumber, model.ArchiveErrFailed, err.Error(), nil)
			return nil, err
		}
	}

	round, err := s.rounds.GetByNumber(ctx, roundNumber)
	if err != nil {
		if errors.Is(err, repository.ErrRoundNotFound) {
			s.logError(ctx, roundNumber, model.ArchiveErrRoundNotFound, err.Error(), nil)
		} else {
			s.logError(ctx, roundNumber, model.ArchiveErrFailed, err.Error(), nil)
		}
		return nil, err
	}

	// Expected while the round is live; no log entry.
	if !round.Resolved() {
		return nil, ErrNotEligible
	}

	// The snapshot re-proves the commit-reveal pair before freezing it.
	if !commit.VerifyReveal(round.Commitment, round.Salt, round.Answer) {
		err := fmt.Errorf("round %d: %w", roundNumber, commit.ErrMismatch)
		s.logError(ctx, roundNumber, model.ArchiveErrCommitMismatch, err.Error(), map[string]string{
			"commitment": round.Commitment,
		})
		return nil, err
	}

	rec, err := s.buildRecord(ctx, round)
	if err != nil {
		s.logError(ctx, roundNumber, model.ArchiveErrFailed, err.Error(), nil)
		return nil, err
	}

	if err := s.archives.Insert(ctx, rec); err != nil {
		// A concurrent worker won the insert race; that is success.
		if errors.Is(err, repository.ErrArchiveDuplicate) {
			return &ArchiveResult{RoundNumber: roundNumber, AlreadyArchived: true}, nil
		}
		s.logError(ctx, roundNumber, model.ArchiveErrFailed, err.Error(), nil)
		return nil, err
	}

	s.logger.Info().Int64("round", roundNumber).Msg("Round archived")
	return &ArchiveResult{RoundNumber: roundNumber}, nil
}

// buildRecord assembles the denormalized snapshot from live data. All
// aggregates use the round's exact start/end timestamps.
func (s *ArchiveService) buildRecord(ctx context.Context, round *model.Round) (*model.ArchiveRecord, error) {
	totalGuesses, err := s.guesses.CountByRound(ctx, round.Number)
	if err != nil {
		return nil, err
	}
	uniquePlayers, err := s.guesses.CountUniquePlayers(ctx, round.Number)
	if err != nil {
		return nil, err
	}

	var winnerSeq *int64
	if round.WinnerID != nil {
		winning, err := s.guesses.WinningGuess(ctx, round.Number)
		if err != nil && !errors.Is(err, repository.ErrNoWinningGuess) {
			return nil, err
		}
		if winning != nil {
			winnerSeq = &winning.Seq
		}
	}

	bonusParticipants, err := s.guesses.CountBonusParticipants(ctx, round.Number, round.StartedAt, *round.ResolvedAt, s.bonusThreshold)
	if err != nil {
		return nil, err
	}
	newReferrals, err := s.referrals.CountCreatedBetween(ctx, round.StartedAt, *round.ResolvedAt)
	if err != nil {
		return nil, err
	}

	breakdown, finalPool, err := s.payoutBreakdown(ctx, round.Number)
	if err != nil {
		return nil, err
	}

	// The round's seed is re-derived from the previous round's carry-over
	// payout; round 1 has no previous round and archives zero.
	var seed int64
	if round.Number > 1 {
		seed, err = s.payouts.NextSeedAmount(ctx, round.Number-1)
		if err != nil {
			return nil, err
		}
	}

	return &model.ArchiveRecord{
		RoundNumber:       round.Number,
		TargetAnswer:      round.Answer,
		Salt:              round.Salt,
		SeedAmount:        seed,
		FinalPool:         finalPool,
		TotalGuesses:      totalGuesses,
		UniquePlayers:     uniquePlayers,
		WinnerID:          round.WinnerID,
		WinnerGuessSeq:    winnerSeq,
		StartedAt:         round.StartedAt,
		EndedAt:           *round.ResolvedAt,
		AnnounceRef:       round.AnnounceRef,
		Payouts:           *breakdown,
		BonusParticipants: bonusParticipants,
		NewReferrals:      newReferrals,
	}, nil
}

// payoutBreakdown groups a round's payout rows by role. Top guessers are
// ranked by insertion order among top_guesser rows. The sum of all rows is
// the round's final pool: the live pool resets to zero at settlement, so
// the committed payout rows are the durable record of the final value.
func (s *ArchiveService) payoutBreakdown(ctx context.Context, roundNumber int64) (*model.PayoutBreakdown, int64, error) {
	payouts, err := s.payouts.ListByRound(ctx, roundNumber)
	if err != nil {
		return nil, 0, err
	}

	var breakdown model.PayoutBreakdown
	var finalPool int64
	for _, p := range payouts {
		finalPool += p.Amount
		switch p.Role {
		case model.RoleWinner:
			breakdown.Winner += p.Amount
		case model.RoleReferrer:
			breakdown.Referrer += p.Amount
		case model.RoleNextSeed:
			breakdown.NextSeed += p.Amount
		case model.RoleOperator:
			breakdown.Operator += p.Amount
		case model.RoleTopGuesser:
			tg := model.TopGuesser{
				Rank:   len(breakdown.TopGuessers) + 1,
				Amount: p.Amount,
			}
			if p.Recipient != nil {
				tg.PlayerID = *p.Recipient
			}
			breakdown.TopGuessers = append(breakdown.TopGuessers, tg)
		default:
			return nil, 0, fmt.Errorf("unknown payout role %q for round %d", p.Role, roundNumber)
		}
	}
	return &breakdown, finalPool, nil
}

// SyncAllRounds archives every resolved round in ascending order. Rounds
// are archived independently: one failure is counted and collected, never
// propagated, so a bad round cannot stall the rest of the backlog.
func (s *ArchiveService) SyncAllRounds(ctx context.Context, force bool) (*SyncResult, error) {
	numbers, err := s.rounds.ListResolvedNumbers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds for sync: %w", err)
	}

	result := &SyncResult{}
	for _, number := range numbers {
		res, err := s.ArchiveRound(ctx, number, force)
		switch {
		case err != nil:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("round %d: %v", number, err))
		case res.AlreadyArchived:
			result.AlreadyArchived++
		default:
			result.Archived++
		}
	}

	s.logger.Info().
		Int("archived", result.Archived).
		Int("already_archived", result.AlreadyArchived).
		Int("failed", result.Failed).
		Msg("Archive sync completed")
	return result, nil
}

// ArchiveDebugInfo recomputes the live aggregates for a round and diffs
// them field by field against the stored snapshot. Read-only diagnostic;
// it never repairs anything.
func (s *ArchiveService) ArchiveDebugInfo(ctx context.Context, roundNumber int64) ([]string, error) {
	rec, err := s.archives.Get(ctx, roundNumber)
	if err != nil {
		return nil, err
	}
	round, err := s.rounds.GetByNumber(ctx, roundNumber)
	if err != nil {
		return nil, err
	}

	var diffs []string

	totalGuesses, err := s.guesses.CountByRound(ctx, roundNumber)
	if err != nil {
		return nil, err
	}
	if totalGuesses != rec.TotalGuesses {
		diffs = append(diffs, fmt.Sprintf("totalGuesses: archived %d, live %d", rec.TotalGuesses, totalGuesses))
	}

	uniquePlayers, err := s.guesses.CountUniquePlayers(ctx, roundNumber)
	if err != nil {
		return nil, err
	}
	if uniquePlayers != rec.UniquePlayers {
		diffs = append(diffs, fmt.Sprintf("uniquePlayers: archived %d, live %d", rec.UniquePlayers, uniquePlayers))
	}

	if round.Answer != rec.TargetAnswer {
		diffs = append(diffs, fmt.Sprintf("targetAnswer: archived %q, live %q", rec.TargetAnswer, round.Answer))
	}

	finalPool, err := s.payouts.SumByRound(ctx, roundNumber)
	if err != nil {
		return nil, err
	}
	if finalPool != rec.FinalPool {
		diffs = append(diffs, fmt.Sprintf("finalPool: archived %d, live %d", rec.FinalPool, finalPool))
	}

	if !commit.VerifyReveal(round.Commitment, rec.Salt, rec.TargetAnswer) {
		diffs = append(diffs, "commitment: archived salt and answer no longer verify against the round's commitment")
	}

	return diffs, nil
}
