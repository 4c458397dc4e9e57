// Package config содержит логику чтения конфигурации сервиса PartSmart.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/partsmart-ledger/internal/events"
	"github.com/mmeshcher/partsmart-ledger/internal/ledger"
	"github.com/mmeshcher/partsmart-ledger/internal/pricing"
	"github.com/mmeshcher/partsmart-ledger/internal/returns"
)

const defaultRunAddress = "localhost:8080"

// Config содержит параметры конфигурации сервиса PartSmart.
type Config struct {
	RunAddress            string   `env:"RUN_ADDRESS"`
	DatabaseURI           string   `env:"DATABASE_URI"`
	PayoutProviderAddress string   `env:"PAYOUT_PROVIDER_ADDRESS"`
	KafkaBrokers          []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic            string   `env:"KAFKA_TOPIC"`
	JWTSecret             string   `env:"JWT_SECRET"`
	IdempotencyDBPath     string   `env:"IDEMPOTENCY_DB_PATH"`
	LogLevel              string   `env:"LOG_LEVEL"`

	// Бизнес-правила.
	FreeShippingThreshold decimal.Decimal `env:"FREE_SHIPPING_THRESHOLD"`
	FlatShippingFee       decimal.Decimal `env:"FLAT_SHIPPING_FEE"`
	ReturnWindowDays      int             `env:"RETURN_WINDOW_DAYS"`
	MinimumWithdrawal     decimal.Decimal `env:"MINIMUM_WITHDRAWAL"`
	CommissionRate        decimal.Decimal `env:"COMMISSION_RATE"`
	PlatformWalletOwnerID int64           `env:"PLATFORM_WALLET_OWNER_ID"`

	// Учётная запись администратора, создаётся при старте, если её ещё нет.
	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
}

func defaults() *Config {
	p := pricing.DefaultConfig()
	return &Config{
		RunAddress:            defaultRunAddress,
		KafkaTopic:            events.DefaultTopic,
		IdempotencyDBPath:     "idempotency.db",
		LogLevel:              "info",
		FreeShippingThreshold: p.FreeShippingThreshold,
		FlatShippingFee:       p.FlatShippingFee,
		ReturnWindowDays:      returns.DefaultWindowDays,
		MinimumWithdrawal:     ledger.DefaultMinimumWithdrawal,
		CommissionRate:        decimal.RequireFromString("0.10"),
		PlatformWalletOwnerID: 1,
	}
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := defaults()

	var brokers string
	flag.StringVar(&cfg.RunAddress, "a", cfg.RunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory storage when empty")
	flag.StringVar(&cfg.PayoutProviderAddress, "p", "", "payout provider address")
	flag.StringVar(&brokers, "k", "", "comma-separated kafka brokers")
	flag.StringVar(&cfg.JWTSecret, "s", "", "secret for signing access tokens")
	flag.StringVar(&cfg.IdempotencyDBPath, "i", cfg.IdempotencyDBPath, "path to idempotency key database")
	flag.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")

	flag.Parse()

	cfg.KafkaBrokers = splitList(brokers)

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.KafkaBrokers = splitList(strings.Join(cfg.KafkaBrokers, ","))

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.FreeShippingThreshold.IsNegative() {
		errs = append(errs, errors.New("FREE_SHIPPING_THRESHOLD must not be negative"))
	}
	if c.FlatShippingFee.IsNegative() {
		errs = append(errs, errors.New("FLAT_SHIPPING_FEE must not be negative"))
	}
	if c.ReturnWindowDays <= 0 {
		errs = append(errs, errors.New("RETURN_WINDOW_DAYS must be positive"))
	}
	if !c.MinimumWithdrawal.IsPositive() {
		errs = append(errs, errors.New("MINIMUM_WITHDRAWAL must be positive"))
	}
	if c.CommissionRate.IsNegative() || c.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, errors.New("COMMISSION_RATE must be between 0 and 1"))
	}
	if c.PlatformWalletOwnerID <= 0 {
		errs = append(errs, errors.New("PLATFORM_WALLET_OWNER_ID must be positive"))
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD must be set together"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Pricing возвращает параметры доставки.
func (c *Config) Pricing() pricing.Config {
	return pricing.Config{
		FreeShippingThreshold: c.FreeShippingThreshold,
		FlatShippingFee:       c.FlatShippingFee,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
