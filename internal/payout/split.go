// Package payout computes how a resolved round's prize pool is split among
// winner, referrer, ranked top guessers, the next round's seed and the
// operator's profit share. The calculator is pure and exact: the sum of
// every computed amount always equals the input pool, with integer-division
// remainders folded deterministically into the winner share (or the seed
// share when there is no winner).
package payout

import (
	"errors"
	"fmt"

	"wordpot-engine/internal/model"
)

// BpsDenom is the basis-point denominator: 10000 bps = 100%.
const BpsDenom = 10000

// Errors returned by split computation. These indicate caller bugs and are
// non-retriable.
var (
	ErrNegativePool  = errors.New("pool value must not be negative")
	ErrSharesTooHigh = errors.New("named shares must sum to below 10000 bps")
)

// Config holds the fixed basis-point shares. The winner takes whatever the
// named shares leave over, which is also where division remainders land.
type Config struct {
	OperatorBps   int64
	NextSeedBps   int64
	ReferrerBps   int64
	TopGuesserBps []int64
}

// Default returns the production share configuration.
func Default() Config {
	return Config{
		OperatorBps:   2000,
		NextSeedBps:   1000,
		ReferrerBps:   500,
		TopGuesserBps: []int64{300, 200, 100},
	}
}

// namedBps returns the sum of all named shares.
func (c *Config) namedBps() int64 {
	total := c.OperatorBps + c.NextSeedBps + c.ReferrerBps
	for _, bps := range c.TopGuesserBps {
		total += bps
	}
	return total
}

// Entry is one recipient's computed share. Recipient is nil for
// pool-internal roles (next-round seed).
type Entry struct {
	Role      string
	Recipient *string
	Amount    int64
}

// Split is a proposed apportionment of a round's final pool. It is handed
// to the settlement layer, which moves value and persists payout rows in
// one transaction; the calculator itself never touches storage.
type Split struct {
	Pool    int64
	Entries []Entry
}

// Total returns the sum of all entry amounts. It equals Pool for every
// split this package produces.
func (s *Split) Total() int64 {
	var total int64
	for _, e := range s.Entries {
		total += e.Amount
	}
	return total
}

// Calculator computes pool splits for a fixed share configuration.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator, validating that the named shares
// leave a positive winner remainder.
func NewCalculator(cfg Config) (*Calculator, error) {
	if cfg.namedBps() >= BpsDenom {
		return nil, fmt.Errorf("%w: got %d", ErrSharesTooHigh, cfg.namedBps())
	}
	return &Calculator{cfg: cfg}, nil
}

// TopSlots returns how many ranked top-guesser reward slots the
// configuration carries.
func (c *Calculator) TopSlots() int {
	return len(c.cfg.TopGuesserBps)
}

// bpsShare computes floor(v * bps / 10000) without intermediate overflow,
// so wei-scale pools stay exact in int64.
func bpsShare(v, bps int64) int64 {
	return (v/BpsDenom)*bps + (v%BpsDenom)*bps/BpsDenom
}

// Compute splits a resolved round's final pool.
//
// Edge cases:
//   - nil winner (timeout with no correct guess): the entire pool rolls to
//     the next round's seed; nobody else is paid.
//   - nil referrer: the referrer share folds back into the winner share.
//   - fewer qualifying top guessers than reward slots: unused slots fold
//     back into the winner share.
func (c *Calculator) Compute(pool int64, winnerID, referrerID *string, topGuessers []string) (*Split, error) {
	if pool < 0 {
		return nil, ErrNegativePool
	}

	// No winner: everything carries forward as next round's seed.
	if winnerID == nil {
		return &Split{
			Pool: pool,
			Entries: []Entry{
				{Role: model.RoleNextSeed, Amount: pool},
			},
		}, nil
	}

	split := &Split{Pool: pool}
	var allocated int64

	operator := bpsShare(pool, c.cfg.OperatorBps)
	split.Entries = append(split.Entries, Entry{Role: model.RoleOperator, Amount: operator})
	allocated += operator

	seed := bpsShare(pool, c.cfg.NextSeedBps)
	split.Entries = append(split.Entries, Entry{Role: model.RoleNextSeed, Amount: seed})
	allocated += seed

	if referrerID != nil {
		referrer := bpsShare(pool, c.cfg.ReferrerBps)
		split.Entries = append(split.Entries, Entry{Role: model.RoleReferrer, Recipient: referrerID, Amount: referrer})
		allocated += referrer
	}

	for i, player := range topGuessers {
		if i >= len(c.cfg.TopGuesserBps) {
			break
		}
		amount := bpsShare(pool, c.cfg.TopGuesserBps[i])
		recipient := player
		split.Entries = append(split.Entries, Entry{Role: model.RoleTopGuesser, Recipient: &recipient, Amount: amount})
		allocated += amount
	}

	// Winner takes the remainder: the winner-track share plus any folded
	// shares plus every division remainder. Conservation is exact.
	split.Entries = append(split.Entries, Entry{Role: model.RoleWinner, Recipient: winnerID, Amount: pool - allocated})

	return split, nil
}
