package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is an immutable entry in the account's trade history.
type TradeRecord struct {
	ID         string          `json:"id"`
	PositionID string          `json:"position_id"`
	OrderID    string          `json:"order_id,omitempty"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Action     TradeAction     `json:"action"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Fee        decimal.Decimal `json:"fee"`
	PnL        decimal.Decimal `json:"pnl"`
	Reason     CloseReason     `json:"reason,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// FundingPayment records one funding settlement against a position.
// Positive Amount means the account received funding.
type FundingPayment struct {
	ID         string          `json:"id"`
	PositionID string          `json:"position_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Rate       decimal.Decimal `json:"rate"`
	MarkPrice  decimal.Decimal `json:"mark_price"`
	Amount     decimal.Decimal `json:"amount"`
	WindowAt   time.Time       `json:"window_at"`
	SettledAt  time.Time       `json:"settled_at"`
}
