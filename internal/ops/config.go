// Package ops loads the daemon's JSON configuration and resolves it
// into wired components.
package ops

import (
	"encoding/json"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/catalog"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Profile  string          `json:"profile"`
	Account  AccountConfig   `json:"account"`
	Symbols  []SymbolConfig  `json:"symbols"`
	Feed     FeedConfig      `json:"feed"`
	Storage  StorageConfig   `json:"storage"`
	Monitors MonitorsConfig  `json:"monitors"`
	Metrics  MetricsConfig   `json:"metrics"`
	Profiler *ProfilerConfig `json:"profiler,omitempty"`
}

// AccountConfig seeds the wallet of a fresh profile.
type AccountConfig struct {
	Currency       string          `json:"currency"`
	InitialBalance decimal.Decimal `json:"initialBalance"`
	LimitOrderTTL  Duration        `json:"limitOrderTtl"`
}

// SymbolConfig describes one tradable contract.
type SymbolConfig struct {
	Name        string          `json:"name"`
	Base        string          `json:"base"`
	Quote       string          `json:"quote"`
	MinQuantity decimal.Decimal `json:"minQuantity"`
	MaxQuantity decimal.Decimal `json:"maxQuantity"`
	QtyStep     decimal.Decimal `json:"qtyStep"`
	MinLeverage int             `json:"minLeverage"`
	MaxLeverage int             `json:"maxLeverage"`
	BasePrice   decimal.Decimal `json:"basePrice,omitempty"`
}

// FeedConfig selects and tunes the price source.
type FeedConfig struct {
	// Source is "binance" or "mock".
	Source   string   `json:"source"`
	CacheTTL Duration `json:"cacheTtl"`
	MockSeed int64    `json:"mockSeed,omitempty"`

	// FundingRate pins the mock feed's funding rate for every symbol.
	FundingRate decimal.Decimal `json:"fundingRate,omitempty"`
}

// StorageConfig selects the snapshot backend.
type StorageConfig struct {
	// Backend is "file", "postgres", or "memory".
	Backend  string         `json:"backend"`
	Dir      string         `json:"dir,omitempty"`
	Postgres PostgresConfig `json:"postgres,omitempty"`
}

// PostgresConfig carries the database connection settings.
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
}

// MonitorsConfig tunes the background check intervals.
type MonitorsConfig struct {
	LiquidationInterval Duration `json:"liquidationInterval"`
	StopInterval        Duration `json:"stopInterval"`
	OrderSweepInterval  Duration `json:"orderSweepInterval"`
	FundingPoll         Duration `json:"fundingPoll"`

	// LiquidationWarnOnly disables forced closes, keeping warnings.
	LiquidationWarnOnly bool `json:"liquidationWarnOnly,omitempty"`
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// ProfilerConfig enables continuous profiling when present.
type ProfilerConfig struct {
	ApplicationName string `json:"applicationName"`
	ServerAddress   string `json:"serverAddress"`
}

// Duration parses JSON strings like "5s" or "1m30s".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrap(err, "parse duration").With("raw", raw)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the duration, or fallback when unset.
func (d Duration) Std(fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return time.Duration(d)
}

// Load reads and validates a JSON config file.
func Load(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, errors.Wrap(err, "read config").With("path", path)
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return FileConfig{}, errors.Wrap(err, "unmarshal config").With("path", path)
	}
	if err := cfg.Validate(); err != nil {
		return FileConfig{}, err
	}
	return cfg, nil
}

// Validate checks the parts that cannot default sensibly.
func (cfg FileConfig) Validate() error {
	switch cfg.Feed.Source {
	case "", "binance", "mock":
	default:
		return errors.New("unknown feed source").With("source", cfg.Feed.Source)
	}
	switch cfg.Storage.Backend {
	case "", "file", "memory", "postgres":
	default:
		return errors.New("unknown storage backend").With("backend", cfg.Storage.Backend)
	}
	if cfg.Account.InitialBalance.IsNegative() {
		return errors.New("negative initial balance").With("balance", cfg.Account.InitialBalance)
	}
	for _, s := range cfg.Symbols {
		if s.Name == "" {
			return errors.New("symbol with empty name")
		}
	}
	return nil
}

// BuildCatalog resolves the configured symbols, falling back to the
// default contract set when none are given.
func (cfg FileConfig) BuildCatalog() (*catalog.Catalog, error) {
	if len(cfg.Symbols) == 0 {
		return catalog.Defaults(), nil
	}
	c := catalog.New()
	for _, s := range cfg.Symbols {
		minLev, maxLev := s.MinLeverage, s.MaxLeverage
		if minLev <= 0 {
			minLev = 1
		}
		if maxLev < minLev {
			maxLev = 125
		}
		if err := c.Add(catalog.Spec{
			Symbol:      s.Name,
			Base:        s.Base,
			Quote:       s.Quote,
			MinQuantity: s.MinQuantity,
			MaxQuantity: s.MaxQuantity,
			QtyStep:     s.QtyStep,
			MinLeverage: minLev,
			MaxLeverage: maxLev,
		}); err != nil {
			return nil, errors.Wrap(err, "add symbol").With("symbol", s.Name)
		}
	}
	return c, nil
}

// BasePrices returns the configured mock starting prices.
func (cfg FileConfig) BasePrices() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		if s.BasePrice.IsPositive() {
			out[s.Name] = s.BasePrice
		}
	}
	return out
}
