package application

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// MarketsConfig defines the traded markets and engine policy.
type MarketsConfig struct {
	// Markets lists the credit types with an order book.
	Markets []string `yaml:"markets"`
	// FeeRate is the platform fee fraction taken from seller proceeds.
	FeeRate decimal.Decimal `yaml:"fee_rate"`
	// SweepInterval is the cadence of expiry sweeps.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// CreditValidity is the lifetime of freshly minted lots.
	CreditValidity time.Duration `yaml:"credit_validity"`
	// StaleAfter is the verification staleness window.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// LoadMarketsConfig loads configuration from the MARKETS_CONFIG yaml file
// when set, with env fallbacks for the individual values.
func LoadMarketsConfig() (MarketsConfig, error) {
	cfg := MarketsConfig{
		Markets:        splitCSV(getenvDefault("MARKETS", "carbon,plastic,water")),
		FeeRate:        decimal.RequireFromString(getenvDefault("FEE_RATE", "0.0025")),
		SweepInterval:  getenvDuration("SWEEP_INTERVAL", 5*time.Second),
		CreditValidity: getenvDuration("CREDIT_VALIDITY", 365*24*time.Hour),
		StaleAfter:     getenvDuration("VERIFICATION_STALE_AFTER", 72*time.Hour),
	}

	if path := os.Getenv("MARKETS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if len(cfg.Markets) == 0 {
		return cfg, errors.New("markets config: at least one market required")
	}
	if cfg.FeeRate.IsNegative() || cfg.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return cfg, errors.New("markets config: fee rate must be in [0, 1)")
	}
	if cfg.SweepInterval <= 0 {
		return cfg, errors.New("markets config: sweep interval must be positive")
	}
	if cfg.CreditValidity <= 0 {
		return cfg, errors.New("markets config: credit validity must be positive")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
