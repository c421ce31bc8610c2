// Package main is the operator entry point for the round settlement
// engine. Each invocation runs one bounded unit of work: a bulk archive
// sync, a single-round archive, an archive diagnostic, or a commit-reveal
// audit. There is no polling loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"wordpot-engine/internal/config"
	"wordpot-engine/internal/payout"
	"wordpot-engine/internal/pkg/db"
	"wordpot-engine/internal/pkg/lock"
	"wordpot-engine/internal/pricing"
	"wordpot-engine/internal/repository"
	"wordpot-engine/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]

	flags := flag.NewFlagSet(command, flag.ExitOnError)
	force := flags.Bool("force", false, "delete and recreate existing archive records")
	_ = flags.Parse(os.Args[2:])

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := runMigrations(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	roundRepo := repository.NewRoundRepository(dbPool.Pool)
	guessRepo := repository.NewGuessRepository(dbPool.Pool)
	payoutRepo := repository.NewPayoutRepository(dbPool.Pool)
	purchaseRepo := repository.NewPurchaseRepository(dbPool.Pool)
	referralRepo := repository.NewReferralRepository(dbPool.Pool)
	archiveRepo := repository.NewArchiveRepository(dbPool.Pool)
	ledger := repository.NewCommitmentLedger(dbPool.Pool)

	// Initialize calculators
	pricer := pricing.NewEngine(pricing.Config{
		RampStart:   cfg.Pricing.RampStart,
		StepSize:    cfg.Pricing.StepSize,
		BasePrice:   cfg.Pricing.BasePrice,
		StepInc:     cfg.Pricing.StepInc,
		MaxPrice:    cfg.Pricing.MaxPrice,
		MidTierMin:  cfg.Pricing.MidTierMin,
		HighTierMin: cfg.Pricing.HighTierMin,
	})
	calculator, err := payout.NewCalculator(payout.Config{
		OperatorBps:   cfg.Payout.OperatorBps,
		NextSeedBps:   cfg.Payout.NextSeedBps,
		ReferrerBps:   cfg.Payout.ReferrerBps,
		TopGuesserBps: cfg.Payout.TopGuesserBps,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid payout configuration")
	}

	// Initialize services
	roundService := service.NewRoundService(
		dbPool.Pool,
		roundRepo,
		guessRepo,
		payoutRepo,
		purchaseRepo,
		referralRepo,
		ledger,
		pricer,
		calculator,
		lock.NewPlayerLock(),
	)
	archiveService := service.NewArchiveService(
		roundRepo,
		guessRepo,
		payoutRepo,
		referralRepo,
		archiveRepo,
		cfg.Archive.BonusGuessThreshold,
	)

	switch command {
	case "sync":
		result, err := archiveService.SyncAllRounds(ctx, *force)
		if err != nil {
			log.Fatal().Err(err).Msg("Archive sync failed")
		}
		for _, msg := range result.Errors {
			fmt.Fprintln(os.Stderr, msg)
		}
		fmt.Printf("archived=%d already_archived=%d failed=%d\n",
			result.Archived, result.AlreadyArchived, result.Failed)
		if result.Failed > 0 {
			os.Exit(1)
		}

	case "archive":
		number := roundArg(flags)
		result, err := archiveService.ArchiveRound(ctx, number, *force)
		if err != nil {
			log.Fatal().Err(err).Int64("round", number).Msg("Archive failed")
		}
		if result.AlreadyArchived {
			fmt.Printf("round %d already archived\n", number)
		} else {
			fmt.Printf("round %d archived\n", number)
		}

	case "debug":
		number := roundArg(flags)
		diffs, err := archiveService.ArchiveDebugInfo(ctx, number)
		if err != nil {
			log.Fatal().Err(err).Int64("round", number).Msg("Debug info failed")
		}
		if len(diffs) == 0 {
			fmt.Printf("round %d: archive matches live data\n", number)
			return
		}
		for _, d := range diffs {
			fmt.Println(d)
		}
		os.Exit(1)

	case "verify":
		number := roundArg(flags)
		if err := roundService.VerifyRound(ctx, number); err != nil {
			log.Fatal().Err(err).Int64("round", number).Msg("Commit-reveal verification failed")
		}
		fmt.Printf("round %d: commitment verified\n", number)

	case "health":
		if err := dbPool.HealthCheck(ctx); err != nil {
			log.Fatal().Err(err).Msg("Database health check failed")
		}
		fmt.Println("ok")

	default:
		usage()
		os.Exit(2)
	}
}

// roundArg parses the round number positional argument.
func roundArg(flags *flag.FlagSet) int64 {
	if flags.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	number, err := strconv.ParseInt(flags.Arg(0), 10, 64)
	if err != nil || number < 1 {
		log.Fatal().Str("arg", flags.Arg(0)).Msg("Round number must be a positive integer")
	}
	return number
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: engine <command> [flags] [round]

commands:
  sync [--force]             archive all resolved rounds
  archive [--force] <round>  archive one round
  debug <round>              diff an archive snapshot against live data
  verify <round>             audit a resolved round's commit-reveal pair
  health                     check database connectivity`)
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: Create rounds table
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
		CREATE INDEX IF NOT EXISTS idx_rounds_active ON rounds(active) WHERE active;
		CREATE INDEX IF NOT EXISTS idx_rounds_resolved ON rounds(resolved_at) WHERE resolved_at IS NOT NULL;
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: rounds table created")

	// Migration 2: Create guesses table
	_, err = pool.Exec(ctx, `
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
		CREATE INDEX IF NOT EXISTS idx_guesses_round_player ON guesses(round_number, player_id);
		CREATE INDEX IF NOT EXISTS idx_guesses_round_time ON guesses(round_number, created_at);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: guesses table created")

	// Migration 3: Create payouts table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS payouts (
			id BIGSERIAL PRIMARY KEY,
			round_number BIGINT NOT NULL REFERENCES rounds(number),
			role VARCHAR(50) NOT NULL,
			recipient TEXT,
			amount BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_payouts_round ON payouts(round_number);
		CREATE INDEX IF NOT EXISTS idx_payouts_round_role ON payouts(round_number, role);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 3: payouts table created")

	// Migration 4: Create pack purchases and referrals tables
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pack_purchases (
			id BIGSERIAL PRIMARY KEY,
			player_id TEXT NOT NULL,
			round_number BIGINT NOT NULL REFERENCES rounds(number),
			pack_count BIGINT NOT NULL,
			total_price BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_pack_purchases_player_time ON pack_purchases(player_id, created_at);

		CREATE TABLE IF NOT EXISTS referrals (
			player_id TEXT PRIMARY KEY,
			referrer_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_referrals_time ON referrals(created_at);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 4: pack_purchases and referrals tables created")

	// Migration 5: Create commitment publication log
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS commitments (
			round_number BIGINT PRIMARY KEY,
			commitment TEXT NOT NULL,
			published_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 5: commitments table created")

	// Migration 6: Create archive tables
	_, err = pool.Exec(ctx, `
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
		);
		CREATE INDEX IF NOT EXISTS idx_archive_errors_round ON archive_errors(round_number);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 6: archive tables created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}
