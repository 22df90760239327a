package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/henryk/byro/pkg/log"
)

const (
	configDirPathEnv     = "BYRO_CONFIG_DIR_PATH"
	defaultConfigDirPath = "."
)

// BookkeepingConfig names the designated accounts and the accrual lookback.
// Accounts are found or created by (category, name) on start-up.
type BookkeepingConfig struct {
	FeesAccount       string `env:"BYRO_FEES_ACCOUNT" env-default:"Membership fees" validate:"required"`
	ReceivableAccount string `env:"BYRO_FEES_RECEIVABLE_ACCOUNT" env-default:"Fees receivable" validate:"required"`
	DonationsAccount  string `env:"BYRO_DONATIONS_ACCOUNT" env-default:"Donations" validate:"required"`
	BankAccount       string `env:"BYRO_BANK_ACCOUNT" env-default:"Bank" validate:"required"`
	// LiabilityInterval is in months; 0 accrues the whole membership history.
	LiabilityInterval int `env:"BYRO_LIABILITY_INTERVAL" env-default:"36" validate:"gte=0,lte=1200"`
}

type WorkerConfig struct {
	AccrualInterval time.Duration `env:"BYRO_ACCRUAL_INTERVAL" env-default:"1h" validate:"gt=0"`
	ImportInterval  time.Duration `env:"BYRO_IMPORT_INTERVAL" env-default:"1m" validate:"gt=0"`
}

type MetricsConfig struct {
	ListenAddr string        `env:"BYRO_METRICS_ADDR" env-default:":4242"`
	Endpoint   string        `env:"BYRO_METRICS_ENDPOINT" env-default:"/metrics"`
	Interval   time.Duration `env:"BYRO_METRICS_INTERVAL" env-default:"15s" validate:"gt=0"`
}

// Config represents the overall application configuration
type Config struct {
	dbConf      DatabaseConfig
	logConf     log.Config
	bookkeeping BookkeepingConfig
	workers     WorkerConfig
	metrics     MetricsConfig
	rules       []MatcherRuleConfig
}

// LoadConfig loads <configDir>/.env, when present, and builds the
// configuration from the environment. Matcher rules come from
// <configDir>/matchers.yaml. An empty configDir falls back to
// BYRO_CONFIG_DIR_PATH and then the working directory.
func LoadConfig(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = os.Getenv(configDirPathEnv)
	}
	if configDir == "" {
		configDir = defaultConfigDirPath
	}

	// A missing .env is fine; the environment may carry everything.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))

	var conf Config

	// Get database URL from environment variables. If it is empty, read the
	// individual variables instead.
	if dbURL := os.Getenv("BYRO_DATABASE_URL"); dbURL != "" {
		dbConf, err := ParseConnectionString(dbURL)
		if err != nil {
			return nil, err
		}
		conf.dbConf = dbConf
	} else if err := cleanenv.ReadEnv(&conf.dbConf); err != nil {
		return nil, fmt.Errorf("failed to read database config: %w", err)
	}

	for name, section := range map[string]any{
		"log":         &conf.logConf,
		"bookkeeping": &conf.bookkeeping,
		"workers":     &conf.workers,
		"metrics":     &conf.metrics,
	} {
		if err := cleanenv.ReadEnv(section); err != nil {
			return nil, fmt.Errorf("failed to read %s config: %w", name, err)
		}
	}
	conf.logConf.Level = log.ParseLevel(string(conf.logConf.Level))

	rules, err := LoadMatcherRules(configDir)
	if err != nil {
		return nil, err
	}
	conf.rules = rules

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

var configValidator = validator.New()

func (c *Config) Validate() error {
	for _, section := range []any{c.bookkeeping, c.workers, c.metrics} {
		if err := configValidator.Struct(section); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	bk := c.bookkeeping
	if bk.ReceivableAccount == bk.BankAccount {
		return fmt.Errorf("invalid configuration: fees receivable and bank both name asset account %q", bk.BankAccount)
	}
	if bk.FeesAccount == bk.DonationsAccount {
		return fmt.Errorf("invalid configuration: fees and donations both name income account %q", bk.FeesAccount)
	}
	return nil
}
