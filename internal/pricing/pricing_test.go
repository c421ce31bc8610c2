package pricing

import (
	"testing"

	"pgregory.net/rapid"
)

// TestStagePrice checks the step function against the production
// parameters: flat until 750 guesses, +150000000000000 per 500 after,
// capped at 600000000000000.
func TestStagePrice(t *testing.T) {
	e := NewEngine(Default())

	tests := []struct {
		name       string
		guessCount int64
		expected   int64
	}{
		{"zero guesses", 0, 300_000_000_000_000},
		{"below ramp", 100, 300_000_000_000_000},
		{"just below ramp", 749, 300_000_000_000_000},
		{"ramp start", 750, 450_000_000_000_000},
		{"mid step", 1000, 450_000_000_000_000},
		{"second step capped", 1250, 600_000_000_000_000},
		{"far past cap", 100_000, 600_000_000_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, err := e.StagePrice(tt.guessCount)
			if err != nil {
				t.Fatalf("StagePrice(%d) failed: %v", tt.guessCount, err)
			}
			if price != tt.expected {
				t.Errorf("StagePrice(%d) = %d, want %d", tt.guessCount, price, tt.expected)
			}
		})
	}
}

func TestStagePriceNegativeInput(t *testing.T) {
	e := NewEngine(Default())
	if _, err := e.StagePrice(-1); err != ErrNegativeGuessCount {
		t.Errorf("negative guess count: got %v, want ErrNegativeGuessCount", err)
	}
}

// TestStagePriceMonotonicProperty checks that the stage price never
// decreases as the guess count grows, and never exceeds the cap.
func TestStagePriceMonotonicProperty(t *testing.T) {
	e := NewEngine(Default())
	cfg := Default()

	rapid.Check(t, func(rt *rapid.T) {
		g1 := rapid.Int64Range(0, 1_000_000).Draw(rt, "g1")
		g2 := rapid.Int64Range(g1, 1_000_000).Draw(rt, "g2")

		p1, err := e.StagePrice(g1)
		if err != nil {
			rt.Fatalf("StagePrice(%d) failed: %v", g1, err)
		}
		p2, err := e.StagePrice(g2)
		if err != nil {
			rt.Fatalf("StagePrice(%d) failed: %v", g2, err)
		}

		if p1 > p2 {
			rt.Fatalf("price decreased: StagePrice(%d)=%d > StagePrice(%d)=%d", g1, p1, g2, p2)
		}
		if p2 > cfg.MaxPrice {
			rt.Fatalf("StagePrice(%d)=%d exceeds cap %d", g2, p2, cfg.MaxPrice)
		}
	})
}

func TestTierFor(t *testing.T) {
	e := NewEngine(Default())

	tests := []struct {
		owned int64
		want  Tier
	}{
		{0, TierBase},
		{2, TierBase},
		{3, TierMid},
		{5, TierMid},
		{6, TierHigh},
		{100, TierHigh},
	}
	for _, tt := range tests {
		if got := e.TierFor(tt.owned); got != tt.want {
			t.Errorf("TierFor(%d) = %s, want %s", tt.owned, got, tt.want)
		}
	}
}

// TestPriceForPacksCrossingTier checks the per-pack tiering rule: a batch
// bought with 2 packs already owned today prices its first pack at BASE
// and the following packs at MID. Each pack carries its own tier; the
// batch is never priced as count times the single-pack price.
func TestPriceForPacksCrossingTier(t *testing.T) {
	e := NewEngine(Default())
	base := Default().BasePrice

	quote, err := e.PriceForPacks(0, 3, 2)
	if err != nil {
		t.Fatalf("PriceForPacks failed: %v", err)
	}

	if len(quote.Packs) != 3 {
		t.Fatalf("breakdown has %d packs, want 3", len(quote.Packs))
	}

	wantTiers := []Tier{TierBase, TierMid, TierMid}
	wantPrices := []int64{base, base * 15 / 10, base * 15 / 10}
	for i, pack := range quote.Packs {
		if pack.Tier != wantTiers[i] {
			t.Errorf("pack %d tier = %s, want %s", i+1, pack.Tier, wantTiers[i])
		}
		if pack.Price != wantPrices[i] {
			t.Errorf("pack %d price = %d, want %d", i+1, pack.Price, wantPrices[i])
		}
	}

	wantTotal := base + 2*(base*15/10)
	if quote.Total != wantTotal {
		t.Errorf("total = %d, want %d (1×base + 2×1.5×base)", quote.Total, wantTotal)
	}
}

// TestPriceForPacksIntoHighTier checks a batch spanning all three tiers.
func TestPriceForPacksIntoHighTier(t *testing.T) {
	e := NewEngine(Default())
	base := Default().BasePrice

	// 5 packs with 4 already owned: daily positions 5..9.
	quote, err := e.PriceForPacks(0, 5, 4)
	if err != nil {
		t.Fatalf("PriceForPacks failed: %v", err)
	}

	wantTiers := []Tier{TierMid, TierMid, TierHigh, TierHigh, TierHigh}
	for i, pack := range quote.Packs {
		if pack.Tier != wantTiers[i] {
			t.Errorf("pack %d tier = %s, want %s", i+1, pack.Tier, wantTiers[i])
		}
	}

	wantTotal := 2*(base*15/10) + 3*(base*2)
	if quote.Total != wantTotal {
		t.Errorf("total = %d, want %d", quote.Total, wantTotal)
	}
}

func TestPriceForPacksValidation(t *testing.T) {
	e := NewEngine(Default())

	if _, err := e.PriceForPacks(0, 0, 0); err != ErrNegativePackCount {
		t.Errorf("zero packs: got %v, want ErrNegativePackCount", err)
	}
	if _, err := e.PriceForPacks(0, 1, -1); err != ErrNegativePacksToday {
		t.Errorf("negative packs today: got %v, want ErrNegativePacksToday", err)
	}
	if _, err := e.PriceForPacks(-1, 1, 0); err != ErrNegativeGuessCount {
		t.Errorf("negative guess count: got %v, want ErrNegativeGuessCount", err)
	}
}

// TestPriceForPacksSumProperty checks that the batch total always equals
// the sum of the per-pack breakdown, and that the breakdown tiers match
// the player's growing daily count.
func TestPriceForPacksSumProperty(t *testing.T) {
	e := NewEngine(Default())

	rapid.Check(t, func(rt *rapid.T) {
		guessCount := rapid.Int64Range(0, 10_000).Draw(rt, "guessCount")
		packCount := rapid.Int64Range(1, 20).Draw(rt, "packCount")
		owned := rapid.Int64Range(0, 12).Draw(rt, "owned")

		quote, err := e.PriceForPacks(guessCount, packCount, owned)
		if err != nil {
			rt.Fatalf("PriceForPacks failed: %v", err)
		}

		if int64(len(quote.Packs)) != packCount {
			rt.Fatalf("breakdown has %d packs, want %d", len(quote.Packs), packCount)
		}

		var sum int64
		for i, pack := range quote.Packs {
			if pack.PacksOwned != owned+int64(i) {
				rt.Fatalf("pack %d owned = %d, want %d", i+1, pack.PacksOwned, owned+int64(i))
			}
			if pack.Tier != e.TierFor(pack.PacksOwned) {
				rt.Fatalf("pack %d tier = %s, want %s", i+1, pack.Tier, e.TierFor(pack.PacksOwned))
			}
			sum += pack.Price
		}
		if sum != quote.Total {
			rt.Fatalf("total %d != breakdown sum %d", quote.Total, sum)
		}
	})
}
