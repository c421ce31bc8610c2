// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all engine configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Payout   PayoutConfig   `mapstructure:"payout"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// PricingConfig holds guess-pack pricing parameters. All prices are in wei.
type PricingConfig struct {
	RampStart   int64 `mapstructure:"ramp_start"`
	StepSize    int64 `mapstructure:"step_size"`
	BasePrice   int64 `mapstructure:"base_price"`
	StepInc     int64 `mapstructure:"step_inc"`
	MaxPrice    int64 `mapstructure:"max_price"`
	MidTierMin  int64 `mapstructure:"mid_tier_min"`
	HighTierMin int64 `mapstructure:"high_tier_min"`
}

// PayoutConfig holds the basis-point shares of a resolved round's pool.
// The winner takes whatever the named shares leave over, so the shares
// listed here must sum to less than 10000 bps.
type PayoutConfig struct {
	OperatorBps   int64   `mapstructure:"operator_bps"`
	NextSeedBps   int64   `mapstructure:"next_seed_bps"`
	ReferrerBps   int64   `mapstructure:"referrer_bps"`
	TopGuesserBps []int64 `mapstructure:"top_guesser_bps"`
}

// ArchiveConfig holds archive synchronizer parameters.
type ArchiveConfig struct {
	// BonusGuessThreshold is the minimum number of guesses a player must
	// make inside the round window to count as bonus-eligible.
	BonusGuessThreshold int64 `mapstructure:"bonus_guess_threshold"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Enable environment variable override
	// e.g., DATABASE_HOST, PRICING_BASE_PRICE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional - env vars can provide all config)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Payout.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the named shares leave a positive winner remainder.
func (p *PayoutConfig) Validate() error {
	total := p.OperatorBps + p.NextSeedBps + p.ReferrerBps
	for _, bps := range p.TopGuesserBps {
		total += bps
	}
	if total >= 10000 {
		return fmt.Errorf("payout shares sum to %d bps, must be below 10000", total)
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "wordpot")
	v.SetDefault("database.name", "wordpot")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Pricing defaults (wei)
	v.SetDefault("pricing.ramp_start", 750)
	v.SetDefault("pricing.step_size", 500)
	v.SetDefault("pricing.base_price", int64(300000000000000))
	v.SetDefault("pricing.step_inc", int64(150000000000000))
	v.SetDefault("pricing.max_price", int64(600000000000000))
	v.SetDefault("pricing.mid_tier_min", 3)
	v.SetDefault("pricing.high_tier_min", 6)

	// Payout defaults (basis points; winner takes the remainder)
	v.SetDefault("payout.operator_bps", 2000)
	v.SetDefault("payout.next_seed_bps", 1000)
	v.SetDefault("payout.referrer_bps", 500)
	v.SetDefault("payout.top_guesser_bps", []int64{300, 200, 100})

	// Archive defaults
	v.SetDefault("archive.bonus_guess_threshold", 5)
}
