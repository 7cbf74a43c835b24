package pricefeed

import (
	"context"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// Mock is a synthetic feed that random-walks each symbol's price
// around its base. A fixed seed makes the walk reproducible. Prices
// and funding rates can also be pinned directly, which tests rely on.
type Mock struct {
	mu      sync.Mutex
	rng     *rand.Rand
	prices  map[string]decimal.Decimal
	rates   map[string]decimal.Decimal
	stepPct decimal.Decimal
	walk    bool
}

// NewMock creates a feed seeded with the given base prices.
func NewMock(seed int64, base map[string]decimal.Decimal) *Mock {
	prices := make(map[string]decimal.Decimal, len(base))
	for sym, p := range base {
		prices[sym] = p
	}
	return &Mock{
		rng:     rand.New(rand.NewSource(seed)),
		prices:  prices,
		rates:   make(map[string]decimal.Decimal),
		stepPct: decimal.RequireFromString("0.001"),
		walk:    true,
	}
}

// NewStaticMock creates a feed that returns pinned prices only.
func NewStaticMock(base map[string]decimal.Decimal) *Mock {
	m := NewMock(0, base)
	m.walk = false
	return m
}

// SetPrice pins a symbol's price.
func (m *Mock) SetPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	m.prices[symbol] = price
	m.mu.Unlock()
}

// SetFundingRate pins a symbol's funding rate.
func (m *Mock) SetFundingRate(symbol string, rate decimal.Decimal) {
	m.mu.Lock()
	m.rates[symbol] = rate
	m.mu.Unlock()
}

// MarkPrice returns the symbol's current price, advancing the walk by
// one step when walking is enabled.
func (m *Mock) MarkPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	price, ok := m.prices[symbol]
	if !ok {
		return decimal.Zero, errors.Wrap(ErrUnavailable, "lookup symbol").With("symbol", symbol)
	}
	if m.walk {
		// Uniform step in [-stepPct, +stepPct] of the current price.
		f := decimal.NewFromFloat(m.rng.Float64()*2 - 1)
		price = price.Add(price.Mul(m.stepPct).Mul(f))
		if !price.IsPositive() {
			price = m.prices[symbol]
		}
		m.prices[symbol] = price
	}
	return price, nil
}

// FundingRate returns the pinned rate, defaulting to zero for known
// symbols.
func (m *Mock) FundingRate(_ context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rate, ok := m.rates[symbol]; ok {
		return rate, nil
	}
	if _, ok := m.prices[symbol]; !ok {
		return decimal.Zero, errors.Wrap(ErrUnavailable, "lookup symbol").With("symbol", symbol)
	}
	return decimal.Zero, nil
}
