package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is open exposure on a symbol. At most one position per
// symbol exists at a time; opposite orders net against it.
type Position struct {
	ID       string          `json:"id"`
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	// EntryPrice is the margin-weighted average across increases.
	EntryPrice decimal.Decimal `json:"entry_price"`
	Leverage   int             `json:"leverage"`
	Margin     decimal.Decimal `json:"margin"`

	StopLoss   decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit decimal.Decimal `json:"take_profit,omitempty"`

	Status      PositionStatus `json:"status"`
	CloseReason CloseReason    `json:"close_reason,omitempty"`

	RealizedPnL       decimal.Decimal `json:"realized_pnl"`
	CumulativeFunding decimal.Decimal `json:"cumulative_funding"`
	// LastFundingAt is the most recent settled funding window. A
	// window at or before this instant is never settled again.
	LastFundingAt time.Time `json:"last_funding_at,omitempty"`

	OpenedAt  time.Time `json:"opened_at"`
	ClosedAt  time.Time `json:"closed_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Notional returns quantity times the given price.
func (p *Position) Notional(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price)
}

// UnrealizedPnL returns the mark-to-market pnl at the given price.
func (p *Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	diff := mark.Sub(p.EntryPrice)
	if p.Side == SideShort {
		diff = diff.Neg()
	}
	return p.Quantity.Mul(diff)
}

// ROE returns pnl relative to margin, in percent.
func (p *Position) ROE(mark decimal.Decimal) decimal.Decimal {
	if p.Margin.IsZero() {
		return decimal.Zero
	}
	return p.UnrealizedPnL(mark).Div(p.Margin).Mul(decimal.NewFromInt(100))
}
