package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wordpot-engine/internal/model"
	"wordpot-engine/internal/repository"
)

// playWinningRound drives a full round through the service layer: start,
// purchases, wrong guesses, then the winning guess that settles it.
func playWinningRound(t *testing.T, env *testEnv) *model.Round {
	t.Helper()
	ctx := context.Background()

	round, err := env.round.StartRound(ctx, "Apple", 0)
	require.NoError(t, err)

	_, err = env.round.PurchasePacks(ctx, "0xwinner", round.Number, 2)
	require.NoError(t, err)
	_, err = env.round.PurchasePacks(ctx, "0xbusy", round.Number, 3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = env.round.SubmitGuess(ctx, round.Number, "0xbusy", "grape", false)
		require.NoError(t, err)
	}
	_, err = env.round.SubmitGuess(ctx, round.Number, "0xcasual", "melon", false)
	require.NoError(t, err)
	_, err = env.round.SubmitGuess(ctx, round.Number, "0xwinner", "apple", true)
	require.NoError(t, err)

	resolved, err := env.rounds.GetByNumber(ctx, round.Number)
	require.NoError(t, err)
	require.True(t, resolved.Resolved())
	return resolved
}

func TestArchiveRound_FullFlow(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	round, err := env.round.StartRound(ctx, "Apple", 0)
	require.NoError(t, err)

	// Referral lands inside the round window so the archive counter
	// picks it up.
	addReferral(t, env.pool, "0xwinner", "0xreferrer")

	_, err = env.round.PurchasePacks(ctx, "0xwinner", round.Number, 2)
	require.NoError(t, err)
	_, err = env.round.PurchasePacks(ctx, "0xbusy", round.Number, 3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = env.round.SubmitGuess(ctx, round.Number, "0xbusy", "grape", false)
		require.NoError(t, err)
	}
	_, err = env.round.SubmitGuess(ctx, round.Number, "0xcasual", "melon", false)
	require.NoError(t, err)
	_, err = env.round.SubmitGuess(ctx, round.Number, "0xwinner", "apple", true)
	require.NoError(t, err)

	result, err := env.archive.ArchiveRound(ctx, round.Number, false)
	require.NoError(t, err)
	assert.False(t, result.AlreadyArchived)

	rec, err := env.archives.Get(ctx, round.Number)
	require.NoError(t, err)
	assert.Equal(t, "apple", rec.TargetAnswer)
	assert.Equal(t, int64(5), rec.TotalGuesses)
	assert.Equal(t, int64(3), rec.UniquePlayers)
	require.NotNil(t, rec.WinnerID)
	assert.Equal(t, "0xwinner", *rec.WinnerID)
	require.NotNil(t, rec.WinnerGuessSeq)
	assert.Equal(t, int64(5), *rec.WinnerGuessSeq)
	assert.Equal(t, int64(1), rec.NewReferrals)
	// 0xbusy made 3 guesses, 0xwinner 1, 0xcasual 1; threshold is 2.
	assert.Equal(t, int64(1), rec.BonusParticipants)

	// The snapshot's payout breakdown conserves the final pool exactly.
	finalPool, err := env.payouts.SumByRound(ctx, round.Number)
	require.NoError(t, err)
	assert.Equal(t, finalPool, rec.FinalPool)
	assert.Equal(t, finalPool, rec.Payouts.Total())
	// Pool is 1500 wei (5 packs at 300); referrer draws 500 bps of it.
	assert.Equal(t, int64(75), rec.Payouts.Referrer)

	// Round 1 has no previous round; seed is zero.
	assert.Equal(t, int64(0), rec.SeedAmount)
}

func TestArchiveRound_FirstRoundSeedArchivesZero(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	// Round 1 has no predecessor to derive a seed from; the snapshot
	// records zero even when the operator seeded the pool directly.
	round, err := env.round.StartRound(ctx, "apple", 500)
	require.NoError(t, err)
	require.NoError(t, env.round.ResolveTimeout(ctx, round.Number))

	_, err = env.archive.ArchiveRound(ctx, round.Number, false)
	require.NoError(t, err)

	rec, err := env.archives.Get(ctx, round.Number)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.SeedAmount)
	// The seeded value still rolls forward through the payout rows.
	assert.Equal(t, int64(500), rec.FinalPool)
	assert.Equal(t, int64(500), rec.Payouts.NextSeed)
}

func TestArchiveRound_Idempotent(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	round := playWinningRound(t, env)

	first, err := env.archive.ArchiveRound(ctx, round.Number, false)
	require.NoError(t, err)
	assert.False(t, first.AlreadyArchived)

	second, err := env.archive.ArchiveRound(ctx, round.Number, false)
	require.NoError(t, err)
	assert.True(t, second.AlreadyArchived)

	// Still exactly one snapshot.
	var count int
	require.NoError(t, env.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM round_archives WHERE round_number = $1`, round.Number).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestArchiveRound_NotEligibleWhileActive(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	round, err := env.round.StartRound(ctx, "apple", 0)
	require.NoError(t, err)

	_, err = env.archive.ArchiveRound(ctx, round.Number, false)
	assert.ErrorIs(t, err, ErrNotEligible)

	// Not-yet-eligible is expected and leaves no error-trail entry.
	errs, err := env.archives.ListErrors(ctx, round.Number)
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestArchiveRound_MissingRoundIsLogged(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	_, err := env.archive.ArchiveRound(ctx, 42, false)
	assert.ErrorIs(t, err, repository.ErrRoundNotFound)

	errs, err := env.archives.ListErrors(ctx, 42)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, model.ArchiveErrRoundNotFound, errs[0].Category)
}

func TestArchiveRound_CommitMismatchIsFlagged(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	round := playWinningRound(t, env)

	// Corrupt the stored answer after resolution; the snapshot must
	// refuse to freeze an unprovable round.
	_, err := env.pool.Exec(ctx, `UPDATE rounds SET answer = 'tampered' WHERE number = $1`, round.Number)
	require.NoError(t, err)

	_, err = env.archive.ArchiveRound(ctx, round.Number, false)
	require.Error(t, err)

	errs, err := env.archives.ListErrors(ctx, round.Number)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, model.ArchiveErrCommitMismatch, errs[0].Category)
}

func TestArchiveRound_ForceRecreates(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	round := playWinningRound(t, env)

	_, err := env.archive.ArchiveRound(ctx, round.Number, false)
	require.NoError(t, err)

	// A guess slipped in after archiving (stats only, round is settled).
	_, err = env.guesses.Append(ctx, round.Number, "0xlate", "peach", false)
	require.NoError(t, err)

	result, err := env.archive.ArchiveRound(ctx, round.Number, true)
	require.NoError(t, err)
	assert.False(t, result.AlreadyArchived)

	rec, err := env.archives.Get(ctx, round.Number)
	require.NoError(t, err)
	assert.Equal(t, int64(6), rec.TotalGuesses)
}

func TestArchiveDebugInfo_ReportsDiscrepancies(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	round := playWinningRound(t, env)

	_, err := env.archive.ArchiveRound(ctx, round.Number, false)
	require.NoError(t, err)

	diffs, err := env.archive.ArchiveDebugInfo(ctx, round.Number)
	require.NoError(t, err)
	assert.Empty(t, diffs)

	// Manually insert a guess; the diagnostic must notice.
	_, err = env.guesses.Append(ctx, round.Number, "0xghost", "lemon", false)
	require.NoError(t, err)

	diffs, err = env.archive.ArchiveDebugInfo(ctx, round.Number)
	require.NoError(t, err)
	require.NotEmpty(t, diffs)
	assert.Contains(t, diffs[0], "totalGuesses")
}

func TestSyncAllRounds_SecondRunIsAllAlreadyArchived(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	playWinningRound(t, env)

	// A second round resolved by timeout with no winner.
	round2, err := env.round.StartRound(ctx, "grape", 0)
	require.NoError(t, err)
	_, err = env.round.PurchasePacks(ctx, "0xbuyer", round2.Number, 1)
	require.NoError(t, err)
	require.NoError(t, env.round.ResolveTimeout(ctx, round2.Number))

	// A third round still active; the sync never sees it.
	_, err = env.round.StartRound(ctx, "melon", 0)
	require.NoError(t, err)

	first, err := env.archive.SyncAllRounds(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Archived)
	assert.Equal(t, 0, first.AlreadyArchived)
	assert.Equal(t, 0, first.Failed)

	second, err := env.archive.SyncAllRounds(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Archived)
	assert.Equal(t, 2, second.AlreadyArchived)
	assert.Equal(t, 0, second.Failed)
	assert.Empty(t, second.Errors)
}

func TestZeroWinnerRound_PoolRollsToSeed(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	round, err := env.round.StartRound(ctx, "apple", 0)
	require.NoError(t, err)

	quote, err := env.round.PurchasePacks(ctx, "0xbuyer", round.Number, 2)
	require.NoError(t, err)
	_, err = env.round.SubmitGuess(ctx, round.Number, "0xbuyer", "grape", false)
	require.NoError(t, err)

	require.NoError(t, env.round.ResolveTimeout(ctx, round.Number))

	payouts, err := env.payouts.ListByRound(ctx, round.Number)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, model.RoleNextSeed, payouts[0].Role)
	assert.Equal(t, quote.Total, payouts[0].Amount)

	// The archived breakdown reflects the rollover.
	_, err = env.archive.ArchiveRound(ctx, round.Number, false)
	require.NoError(t, err)
	rec, err := env.archives.Get(ctx, round.Number)
	require.NoError(t, err)
	assert.Nil(t, rec.WinnerID)
	assert.Equal(t, quote.Total, rec.Payouts.NextSeed)
	assert.Equal(t, int64(0), rec.Payouts.Winner)

	// The next round starts from the carried seed and its archive
	// re-derives the same value from the previous round's payout.
	seed, err := env.payouts.NextSeedAmount(ctx, round.Number)
	require.NoError(t, err)
	next, err := env.round.StartRound(ctx, "grape", seed)
	require.NoError(t, err)
	assert.Equal(t, quote.Total, next.PoolAmount)

	require.NoError(t, env.round.ResolveTimeout(ctx, next.Number))
	_, err = env.archive.ArchiveRound(ctx, next.Number, false)
	require.NoError(t, err)
	nextRec, err := env.archives.Get(ctx, next.Number)
	require.NoError(t, err)
	assert.Equal(t, quote.Total, nextRec.SeedAmount)
}
