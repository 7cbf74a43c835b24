// Package pricefeed supplies mark prices and funding rates to the
// trading engine. Sources implement Feed; Cached adds a TTL cache in
// front of any source.
package pricefeed

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnavailable is returned when a source has no usable price for
// the requested symbol.
var ErrUnavailable = errors.New("price unavailable")

// Feed supplies mark prices and funding rates.
type Feed interface {
	// MarkPrice returns the current mark price for a symbol.
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// FundingRate returns the current funding rate for a symbol,
	// as a fraction per funding interval.
	FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error)
}
