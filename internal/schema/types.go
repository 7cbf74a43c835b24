package schema

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Side is the direction of an order or position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// OrderType distinguishes immediate fills from resting orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeMarket || t == OrderTypeLimit
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusExpired   OrderStatus = "EXPIRED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// CloseReason records why a position (or part of it) was closed.
type CloseReason string

const (
	CloseReasonManual      CloseReason = "MANUAL"
	CloseReasonStopLoss    CloseReason = "STOPLOSS"
	CloseReasonTakeProfit  CloseReason = "TAKEPROFIT"
	CloseReasonLiquidation CloseReason = "LIQUIDATION"
)

// TradeAction labels an entry in the trade history.
type TradeAction string

const (
	TradeActionOpen        TradeAction = "OPEN"
	TradeActionClose       TradeAction = "CLOSE"
	TradeActionIncrease    TradeAction = "INCREASE"
	TradeActionReduce      TradeAction = "REDUCE"
	TradeActionFunding     TradeAction = "FUNDING"
	TradeActionLiquidation TradeAction = "LIQUIDATION"
)

// NewID returns a fresh identifier such as "paper_ord_1f2a3b4c5d6e".
func NewID(prefix string) string {
	u := uuid.New()
	raw := hex.EncodeToString(u[:])
	var sb strings.Builder
	sb.WriteString("paper_")
	sb.WriteString(prefix)
	sb.WriteString("_")
	sb.WriteString(raw[:12])
	return sb.String()
}
