package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is a request to open or adjust exposure on a symbol. Market
// orders fill immediately at mark price. Limit orders rest with their
// margin reserved until the mark crosses the limit, they are cancelled,
// or they expire.
type Order struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Type       OrderType       `json:"type"`
	Quantity   decimal.Decimal `json:"quantity"`
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"`
	Leverage   int             `json:"leverage"`
	ReduceOnly bool            `json:"reduce_only,omitempty"`

	StopLoss   decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit decimal.Decimal `json:"take_profit,omitempty"`

	Status         OrderStatus     `json:"status"`
	ReservedMargin decimal.Decimal `json:"reserved_margin,omitempty"`
	FillPrice      decimal.Decimal `json:"fill_price,omitempty"`
	PositionID     string          `json:"position_id,omitempty"`
	Reason         string          `json:"reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Fillable reports whether the resting limit price is crossed by the
// given mark price. LONG limits fill at or below the limit, SHORT
// limits at or above.
func (o *Order) Fillable(mark decimal.Decimal) bool {
	if o.Type != OrderTypeLimit || o.Status != OrderStatusPending {
		return false
	}
	if o.Side == SideLong {
		return mark.LessThanOrEqual(o.LimitPrice)
	}
	return mark.GreaterThanOrEqual(o.LimitPrice)
}

// Expired reports whether the order's resting window has elapsed.
func (o *Order) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}
