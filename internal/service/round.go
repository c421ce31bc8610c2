// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"wordpot-engine/internal/commit"
	"wordpot-engine/internal/model"
	"wordpot-engine/internal/payout"
	"wordpot-engine/internal/pkg/lock"
	"wordpot-engine/internal/pricing"
	"wordpot-engine/internal/repository"
)

// Common errors for round operations.
var (
	ErrEngineUnavailable = errors.New("guess acceptance is paused")
	ErrRoundResolved     = errors.New("round is already resolved")
	ErrCommitMismatch    = commit.ErrMismatch
	ErrSplitImbalance    = errors.New("payout split does not conserve the pool")
)

// RoundService drives the round lifecycle: commitment at start, priced
// pack purchases, guess recording, and resolution with an atomic
// settlement write. It produces payout decisions; moving real value is the
// external ledger layer's job.
type RoundService struct {
	pool       *pgxpool.Pool
	rounds     *repository.RoundRepository
	guesses    *repository.GuessRepository
	payouts    *repository.PayoutRepository
	purchases  *repository.PurchaseRepository
	referrals  *repository.ReferralRepository
	ledger     commit.Ledger
	pricer     *pricing.Engine
	calculator *payout.Calculator
	playerLock *lock.PlayerLock

	// status mirrors the operator kill switch owned outside the engine.
	status atomic.Value // model.OperatorStatus
}

// NewRoundService creates a new RoundService instance.
func NewRoundService(
	pool *pgxpool.Pool,
	rounds *repository.RoundRepository,
	guesses *repository.GuessRepository,
	payouts *repository.PayoutRepository,
	purchases *repository.PurchaseRepository,
	referrals *repository.ReferralRepository,
	ledger commit.Ledger,
	pricer *pricing.Engine,
	calculator *payout.Calculator,
	playerLock *lock.PlayerLock,
) *RoundService {
	s := &RoundService{
		pool:       pool,
		rounds:     rounds,
		guesses:    guesses,
		payouts:    payouts,
		purchases:  purchases,
		referrals:  referrals,
		ledger:     ledger,
		pricer:     pricer,
		calculator: calculator,
		playerLock: playerLock,
	}
	s.status.Store(model.StatusNormal)
	return s
}

// SetStatus updates the mirrored operator status. Called by the admin
// layer; the engine itself never changes it.
func (s *RoundService) SetStatus(status model.OperatorStatus) {
	s.status.Store(status)
}

// Status returns the current operator status.
func (s *RoundService) Status() model.OperatorStatus {
	return s.status.Load().(model.OperatorStatus)
}

// StartRound opens a new round: generates the commitment for the secret
// answer, persists the round, and publishes the commitment hash before any
// guess can be accepted. Salt and answer stay confidential until
// resolution.
func (s *RoundService) StartRound(ctx context.Context, answer string, seed int64) (*model.Round, error) {
	c, err := commit.StartRound(answer, seed)
	if err != nil {
		return nil, err
	}

	round, err := s.rounds.Create(ctx, commit.Normalize(answer), c.Salt, c.Hash, seed)
	if err != nil {
		return nil, fmt.Errorf("failed to start round: %w", err)
	}

	if err := s.ledger.Publish(ctx, round.Number, c.Hash); err != nil {
		return nil, fmt.Errorf("failed to publish commitment: %w", err)
	}

	return round, nil
}

// QuotePacks prices a prospective batch without charging. The quote
// carries the per-pack tier breakdown for display and audit.
func (s *RoundService) QuotePacks(ctx context.Context, playerID string, roundNumber, packCount int64) (*pricing.Quote, error) {
	guessCount, err := s.guesses.CountByRound(ctx, roundNumber)
	if err != nil {
		return nil, err
	}
	packsToday, err := s.purchases.PacksPurchasedToday(ctx, playerID, time.Now())
	if err != nil {
		return nil, err
	}
	return s.pricer.PriceForPacks(guessCount, packCount, packsToday)
}

// PurchasePacks charges a batch of guess packs and grows the round's pool
// by the total. The daily pack count is re-read under the per-player lock
// so two concurrent purchases cannot both price into the same volume tier.
func (s *RoundService) PurchasePacks(ctx context.Context, playerID string, roundNumber, packCount int64) (*pricing.Quote, error) {
	if s.Status() != model.StatusNormal {
		return nil, ErrEngineUnavailable
	}

	round, err := s.rounds.GetByNumber(ctx, roundNumber)
	if err != nil {
		return nil, err
	}
	if !round.Active {
		return nil, repository.ErrRoundNotActive
	}

	var quote *pricing.Quote
	err = s.playerLock.WithLock(playerID, func() error {
		guessCount, err := s.guesses.CountByRound(ctx, roundNumber)
		if err != nil {
			return err
		}
		packsToday, err := s.purchases.PacksPurchasedToday(ctx, playerID, time.Now())
		if err != nil {
			return err
		}
		quote, err = s.pricer.PriceForPacks(guessCount, packCount, packsToday)
		if err != nil {
			return err
		}

		// Charge and pool deposit commit together: a purchase whose value
		// cannot enter the pool leaves no row to inflate the daily tier.
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin purchase: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := s.purchases.CreateTx(ctx, tx, playerID, roundNumber, packCount, quote.Total); err != nil {
			return err
		}
		if _, err := s.rounds.AddToPoolTx(ctx, tx, roundNumber, quote.Total); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit purchase: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}

// SubmitGuess records a guess against an active round. Correctness arrives
// decided by the external word-list validation. The first correct guess
// resolves the round and settles the pool.
func (s *RoundService) SubmitGuess(ctx context.Context, roundNumber int64, playerID, word string, correct bool) (*model.Guess, error) {
	if s.Status() != model.StatusNormal {
		return nil, ErrEngineUnavailable
	}

	round, err := s.rounds.GetByNumber(ctx, roundNumber)
	if err != nil {
		return nil, err
	}
	if !round.Active {
		return nil, repository.ErrRoundNotActive
	}

	guess, err := s.guesses.Append(ctx, roundNumber, playerID, commit.Normalize(word), correct)
	if err != nil {
		return nil, err
	}

	if correct {
		if err := s.resolve(ctx, round); err != nil {
			// The round stays active; resolution is retriable via the
			// winning guess already on record.
			return guess, err
		}
	}

	return guess, nil
}

// ResolveTimeout settles a round that expired. A correct guess already on
// record still wins; otherwise the entire pool rolls forward as the next
// round's seed.
func (s *RoundService) ResolveTimeout(ctx context.Context, roundNumber int64) error {
	round, err := s.rounds.GetByNumber(ctx, roundNumber)
	if err != nil {
		return err
	}
	if !round.Active {
		return ErrRoundResolved
	}
	return s.resolve(ctx, round)
}

// resolve settles a round in one transaction: winner derivation, the
// payout split, the resolution row and all payout rows commit together.
// The archive step can therefore never observe a half-settled round.
func (s *RoundService) resolve(ctx context.Context, round *model.Round) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin settlement: %w", err)
	}
	defer tx.Rollback(ctx)

	// The pool is read under the row lock so a purchase racing with
	// resolution cannot slip value past the split.
	poolAmount, err := s.rounds.LockForSettlementTx(ctx, tx, round.Number)
	if err != nil {
		return err
	}

	// The winner is the lowest-seq correct guess on record, never the
	// submitting caller: when two settlements race, both derive the same
	// winner regardless of whose transaction commits first.
	var winnerID *string
	winning, err := s.guesses.WinningGuessTx(ctx, tx, round.Number)
	if err != nil && !errors.Is(err, repository.ErrNoWinningGuess) {
		return err
	}
	if winning != nil {
		winnerID = &winning.PlayerID
	}

	var referrerID *string
	var topGuessers []string
	if winnerID != nil {
		referrerID, err = s.referrals.GetReferrerTx(ctx, tx, *winnerID)
		if err != nil {
			return err
		}
		topGuessers, err = s.guesses.TopGuessersTx(ctx, tx, round.Number, s.calculator.TopSlots(), winnerID)
		if err != nil {
			return err
		}
	}

	split, err := s.calculator.Compute(poolAmount, winnerID, referrerID, topGuessers)
	if err != nil {
		return err
	}
	// Conservation is the calculator's contract; a violation here is a
	// bug, not transient state.
	if split.Total() != poolAmount {
		return fmt.Errorf("%w: pool %d, split %d", ErrSplitImbalance, poolAmount, split.Total())
	}

	if err := s.rounds.ResolveTx(ctx, tx, round.Number, winnerID, referrerID, time.Now()); err != nil {
		return err
	}
	for _, entry := range split.Entries {
		if err := s.payouts.CreateTx(ctx, tx, round.Number, entry.Role, entry.Recipient, entry.Amount); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}
	return nil
}

// VerifyRound audits a resolved round's reveal against the published
// commitment. A mismatch is returned as ErrCommitMismatch, distinct from a
// missing round, because it means the round's integrity cannot be proven.
func (s *RoundService) VerifyRound(ctx context.Context, roundNumber int64) error {
	round, err := s.rounds.GetByNumber(ctx, roundNumber)
	if err != nil {
		return err
	}
	if !round.Resolved() {
		return ErrNotEligible
	}

	ok, err := s.ledger.Verify(ctx, roundNumber, round.Salt, round.Answer)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("round %d: %w", roundNumber, ErrCommitMismatch)
	}
	return nil
}
