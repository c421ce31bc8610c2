// Package service provides business logic implementations.
// Integration tests use testcontainers-go to spin up a PostgreSQL container.
package service

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"wordpot-engine/internal/payout"
	"wordpot-engine/internal/pkg/lock"
	"wordpot-engine/internal/pricing"
	"wordpot-engine/internal/repository"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// testEnv bundles the wired services and repositories for one test.
type testEnv struct {
	pool      *pgxpool.Pool
	rounds    *repository.RoundRepository
	guesses   *repository.GuessRepository
	payouts   *repository.PayoutRepository
	purchases *repository.PurchaseRepository
	referrals *repository.ReferralRepository
	archives  *repository.ArchiveRepository
	ledger    *repository.CommitmentLedger

	round   *RoundService
	archive *ArchiveService
}

// setupTestEnv creates a PostgreSQL container, applies the schema and
// wires the full service stack. Skips the test if Docker is unavailable.
func setupTestEnv(t *testing.T) (*testEnv, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, runTestMigrations(ctx, pool))

	env := &testEnv{
		pool:      pool,
		rounds:    repository.NewRoundRepository(pool),
		guesses:   repository.NewGuessRepository(pool),
		payouts:   repository.NewPayoutRepository(pool),
		purchases: repository.NewPurchaseRepository(pool),
		referrals: repository.NewReferralRepository(pool),
		archives:  repository.NewArchiveRepository(pool),
		ledger:    repository.NewCommitmentLedger(pool),
	}

	pricer := pricing.NewEngine(pricing.Config{
		RampStart:   10,
		StepSize:    5,
		BasePrice:   300,
		StepInc:     150,
		MaxPrice:    600,
		MidTierMin:  3,
		HighTierMin: 6,
	})
	calculator, err := payout.NewCalculator(payout.Default())
	require.NoError(t, err)

	env.round = NewRoundService(
		pool,
		env.rounds,
		env.guesses,
		env.payouts,
		env.purchases,
		env.referrals,
		env.ledger,
		pricer,
		calculator,
		lock.NewPlayerLock(),
	)
	env.archive = NewArchiveService(
		env.rounds,
		env.guesses,
		env.payouts,
		env.referrals,
		env.archives,
		2,
	)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}
	return env, cleanup
}

// runTestMigrations applies the database schema
func runTestMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rounds (
			number BIGINT PRIMARY KEY,
			answer TEXT NOT NULL,
			salt TEXT NOT NULL,
			commitment TEXT NOT NULL,
			seed_amount BIGINT NOT NULL DEFAULT 0,
			pool_amount BIGINT NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMPTZ,
			winner_id TEXT,
			referrer_id TEXT,
			announce_ref TEXT
		);

		CREATE TABLE IF NOT EXISTS guesses (
			id BIGSERIAL PRIMARY KEY,
			round_number BIGINT NOT NULL REFERENCES rounds(number),
			player_id TEXT NOT NULL,
			word TEXT NOT NULL,
			correct BOOLEAN NOT NULL DEFAULT FALSE,
			seq BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (round_number, seq)
		);

		CREATE TABLE IF NOT EXISTS payouts (
			id BIGSERIAL PRIMARY KEY,
			round_number BIGINT NOT NULL REFERENCES rounds(number),
			role VARCHAR(50) NOT NULL,
			recipient TEXT,
			amount BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS pack_purchases (
			id BIGSERIAL PRIMARY KEY,
			player_id TEXT NOT NULL,
			round_number BIGINT NOT NULL REFERENCES rounds(number),
			pack_count BIGINT NOT NULL,
			total_price BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS referrals (
			player_id TEXT PRIMARY KEY,
			referrer_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS commitments (
			round_number BIGINT PRIMARY KEY,
			commitment TEXT NOT NULL,
			published_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS round_archives (
			round_number BIGINT NOT NULL UNIQUE,
			target_answer TEXT NOT NULL,
			salt TEXT NOT NULL,
			seed_amount BIGINT NOT NULL,
			final_pool BIGINT NOT NULL,
			total_guesses BIGINT NOT NULL,
			unique_players BIGINT NOT NULL,
			winner_id TEXT,
			winner_guess_seq BIGINT,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			announce_ref TEXT,
			payouts JSONB NOT NULL,
			bonus_participants BIGINT NOT NULL DEFAULT 0,
			new_referrals BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS archive_errors (
			id BIGSERIAL PRIMARY KEY,
			round_number BIGINT NOT NULL,
			category VARCHAR(50) NOT NULL,
			message TEXT NOT NULL,
			context JSONB,
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// addReferral inserts a referral row the way the external social flow
// would.
func addReferral(t *testing.T, pool *pgxpool.Pool, playerID, referrerID string) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO referrals (player_id, referrer_id, created_at) VALUES ($1, $2, NOW())`,
		playerID, referrerID)
	require.NoError(t, err)
}
