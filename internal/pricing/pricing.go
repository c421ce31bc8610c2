// Package pricing computes guess-pack prices. Two independent dimensions
// multiply: a stage price driven by cumulative guesses in the round, and a
// volume multiplier driven by how many packs the player already bought that
// UTC day. All arithmetic is integer-only; multipliers are applied as
// numerator/denominator with the multiply before the divide so no rounding
// drift accumulates.
package pricing

import (
	"errors"
	"fmt"
)

// Volume tiers. The tier is evaluated per pack, not per purchase batch:
// a batch that crosses a boundary prices each pack at its own tier.
type Tier string

const (
	TierBase Tier = "base" // ×1.0
	TierMid  Tier = "mid"  // ×1.5
	TierHigh Tier = "high" // ×2.0
)

// multiplierDenom is the fixed-point denominator for volume multipliers.
const multiplierDenom = 10

// Errors returned by pricing operations. Negative inputs indicate a caller
// bug, not transient state, and are non-retriable.
var (
	ErrNegativeGuessCount = errors.New("round guess count must not be negative")
	ErrNegativePackCount  = errors.New("pack count must be positive")
	ErrNegativePacksToday = errors.New("packs purchased today must not be negative")
)

// Config holds the pricing parameters. Prices are in wei.
type Config struct {
	RampStart int64 // guess count at which the ramp begins
	StepSize  int64 // guesses per price step once ramping
	BasePrice int64 // price below the ramp
	StepInc   int64 // price increase per completed step
	MaxPrice  int64 // stage price cap

	MidTierMin  int64 // packs already today at which ×1.5 starts
	HighTierMin int64 // packs already today at which ×2.0 starts
}

// Default returns the production pricing parameters.
func Default() Config {
	return Config{
		RampStart:   750,
		StepSize:    500,
		BasePrice:   300_000_000_000_000,
		StepInc:     150_000_000_000_000,
		MaxPrice:    600_000_000_000_000,
		MidTierMin:  3,
		HighTierMin: 6,
	}
}

// PackPrice is the auditable price assigned to one pack in a batch.
type PackPrice struct {
	Index      int64 // 1-based position within the batch
	PacksOwned int64 // packs already purchased today before this pack
	Tier       Tier
	Price      int64
}

// Quote is the result of pricing a batch of packs.
type Quote struct {
	StagePrice int64
	Total      int64
	Packs      []PackPrice
}

// Engine prices guess packs for a given configuration. It is a pure
// calculator: no shared state, safe for any number of concurrent callers.
type Engine struct {
	cfg Config
}

// NewEngine creates a pricing engine with the given configuration.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// StagePrice returns the unit price for the round's current cumulative
// guess count. The price is a step function: flat at BasePrice below
// RampStart, then one StepInc per completed StepSize, capped at MaxPrice.
// Monotonically non-decreasing in the guess count.
func (e *Engine) StagePrice(roundGuessCount int64) (int64, error) {
	if roundGuessCount < 0 {
		return 0, ErrNegativeGuessCount
	}
	if roundGuessCount < e.cfg.RampStart {
		return e.cfg.BasePrice, nil
	}
	steps := (roundGuessCount-e.cfg.RampStart)/e.cfg.StepSize + 1
	price := e.cfg.BasePrice + steps*e.cfg.StepInc
	if price > e.cfg.MaxPrice {
		price = e.cfg.MaxPrice
	}
	return price, nil
}

// TierFor returns the volume tier for a pack when the player already owns
// the given number of packs today.
func (e *Engine) TierFor(packsAlreadyToday int64) Tier {
	switch {
	case packsAlreadyToday < e.cfg.MidTierMin:
		return TierBase
	case packsAlreadyToday < e.cfg.HighTierMin:
		return TierMid
	default:
		return TierHigh
	}
}

// tierNumerator returns the fixed-point multiplier numerator for a tier
// over multiplierDenom.
func tierNumerator(tier Tier) int64 {
	switch tier {
	case TierMid:
		return 15
	case TierHigh:
		return 20
	default:
		return 10
	}
}

// applyTier multiplies a stage price by the tier's multiplier using
// integer arithmetic, multiplying before dividing.
func applyTier(stagePrice int64, tier Tier) int64 {
	return stagePrice * tierNumerator(tier) / multiplierDenom
}

// Price returns the unit price for a single pack at the BASE tier. It is a
// convenience over StagePrice for callers quoting a first purchase.
func (e *Engine) Price(roundGuessCount int64) (int64, error) {
	return e.StagePrice(roundGuessCount)
}

// PriceForPacks prices a batch of packs. The stage price is fixed for the
// whole batch (it moves with guesses, not purchases); the volume tier is
// re-evaluated for every pack as the player's daily total grows through
// the batch. The returned quote lists the tier and price of each pack so
// a charge can be audited pack by pack.
func (e *Engine) PriceForPacks(roundGuessCount, packCount, packsAlreadyToday int64) (*Quote, error) {
	if packCount <= 0 {
		return nil, ErrNegativePackCount
	}
	if packsAlreadyToday < 0 {
		return nil, ErrNegativePacksToday
	}
	stagePrice, err := e.StagePrice(roundGuessCount)
	if err != nil {
		return nil, err
	}

	quote := &Quote{
		StagePrice: stagePrice,
		Packs:      make([]PackPrice, 0, packCount),
	}
	for i := int64(0); i < packCount; i++ {
		owned := packsAlreadyToday + i
		tier := e.TierFor(owned)
		price := applyTier(stagePrice, tier)
		quote.Packs = append(quote.Packs, PackPrice{
			Index:      i + 1,
			PacksOwned: owned,
			Tier:       tier,
			Price:      price,
		})
		quote.Total += price
	}
	return quote, nil
}

// String implements fmt.Stringer for audit logs.
func (p PackPrice) String() string {
	return fmt.Sprintf("pack %d (%s): %d wei", p.Index, p.Tier, p.Price)
}
