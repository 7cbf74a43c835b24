// Package catalog stores the tradable contract specifications. An
// order is validated against its symbol's spec before it reaches the
// matching engine.
package catalog

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// Spec describes the trading constraints of one perpetual contract.
type Spec struct {
	Symbol      string          `json:"symbol"`
	Base        string          `json:"base"`
	Quote       string          `json:"quote"`
	MinQuantity decimal.Decimal `json:"min_quantity"`
	MaxQuantity decimal.Decimal `json:"max_quantity"`
	QtyStep     decimal.Decimal `json:"qty_step"`
	MinLeverage int             `json:"min_leverage"`
	MaxLeverage int             `json:"max_leverage"`
}

// Catalog is a concurrency-safe registry of contract specs.
type Catalog struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{specs: make(map[string]Spec)}
}

// Add registers a contract spec. Re-adding a symbol replaces it.
func (c *Catalog) Add(s Spec) error {
	if s.Symbol == "" {
		return errors.New("symbol name is empty")
	}
	if s.MinLeverage <= 0 || s.MaxLeverage < s.MinLeverage {
		return errors.New("invalid leverage range").
			With("symbol", s.Symbol).
			With("min", s.MinLeverage).
			With("max", s.MaxLeverage)
	}
	if s.MinQuantity.IsNegative() || (!s.MaxQuantity.IsZero() && s.MaxQuantity.LessThan(s.MinQuantity)) {
		return errors.New("invalid quantity range").
			With("symbol", s.Symbol).
			With("min", s.MinQuantity).
			With("max", s.MaxQuantity)
	}
	c.mu.Lock()
	c.specs[s.Symbol] = s
	c.mu.Unlock()
	return nil
}

// Lookup returns the spec for a symbol.
func (c *Catalog) Lookup(symbol string) (Spec, bool) {
	c.mu.RLock()
	s, ok := c.specs[symbol]
	c.mu.RUnlock()
	return s, ok
}

// Symbols returns the registered symbol names, sorted.
func (c *Catalog) Symbols() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.specs))
	for sym := range c.specs {
		out = append(out, sym)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ValidateOrder checks quantity and leverage against the spec.
func (s Spec) ValidateOrder(quantity decimal.Decimal, leverage int) error {
	if !quantity.IsPositive() {
		return errors.New("quantity must be positive").With("quantity", quantity)
	}
	if quantity.LessThan(s.MinQuantity) {
		return errors.New("quantity below minimum").
			With("quantity", quantity).
			With("min", s.MinQuantity)
	}
	if !s.MaxQuantity.IsZero() && quantity.GreaterThan(s.MaxQuantity) {
		return errors.New("quantity above maximum").
			With("quantity", quantity).
			With("max", s.MaxQuantity)
	}
	if !s.QtyStep.IsZero() && !quantity.Mod(s.QtyStep).IsZero() {
		return errors.New("quantity not a multiple of step").
			With("quantity", quantity).
			With("step", s.QtyStep)
	}
	if leverage < s.MinLeverage || leverage > s.MaxLeverage {
		return errors.New("leverage out of range").
			With("leverage", leverage).
			With("min", s.MinLeverage).
			With("max", s.MaxLeverage)
	}
	return nil
}

// Defaults returns a catalog pre-populated with the common USDT
// perpetual contracts.
func Defaults() *Catalog {
	c := New()
	for _, s := range []Spec{
		{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT", MinQuantity: decimal.RequireFromString("0.001"), MaxQuantity: decimal.NewFromInt(100), QtyStep: decimal.RequireFromString("0.001"), MinLeverage: 1, MaxLeverage: 125},
		{Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT", MinQuantity: decimal.RequireFromString("0.01"), MaxQuantity: decimal.NewFromInt(1000), QtyStep: decimal.RequireFromString("0.01"), MinLeverage: 1, MaxLeverage: 100},
		{Symbol: "SOLUSDT", Base: "SOL", Quote: "USDT", MinQuantity: decimal.RequireFromString("0.1"), MaxQuantity: decimal.NewFromInt(10000), QtyStep: decimal.RequireFromString("0.1"), MinLeverage: 1, MaxLeverage: 50},
	} {
		if err := c.Add(s); err != nil {
			panic(err)
		}
	}
	return c
}
