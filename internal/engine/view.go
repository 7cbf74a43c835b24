package engine

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/accounting"
	"main/internal/schema"
)

// Wallet returns a copy of the current wallet.
func (e *Engine) Wallet() schema.Wallet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.wallet
}

// Position returns a copy of the open position on a symbol.
func (e *Engine) Position(symbol string) (schema.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[symbol]
	if !ok {
		return schema.Position{}, errors.Wrap(ErrPositionNotFound, "no open position").With("symbol", symbol)
	}
	return *pos, nil
}

// OpenPositions returns copies of all open positions, sorted by symbol.
func (e *Engine) OpenPositions() []schema.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schema.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Order returns a copy of any order ever placed, by ID.
func (e *Engine) Order(orderID string) (schema.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range e.orderLog {
		if o.ID == orderID {
			return *o, nil
		}
	}
	return schema.Order{}, errors.Wrap(ErrOrderNotFound, "unknown order").With("order", orderID)
}

// PendingOrders returns copies of resting limit orders in placement
// order.
func (e *Engine) PendingOrders() []schema.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schema.Order, 0, len(e.pending))
	for _, o := range e.pendingInOrderLocked() {
		out = append(out, *o)
	}
	return out
}

// Trades returns the trade history in chronological order.
func (e *Engine) Trades() []schema.TradeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schema.TradeRecord, 0, len(e.trades))
	for _, t := range e.trades {
		out = append(out, *t)
	}
	return out
}

// FundingHistory returns settled funding payments in order.
func (e *Engine) FundingHistory() []schema.FundingPayment {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schema.FundingPayment, 0, len(e.funding))
	for _, f := range e.funding {
		out = append(out, *f)
	}
	return out
}

// PositionSummary is the mark-to-market view of one open position.
type PositionSummary struct {
	Position         schema.Position `json:"position"`
	MarkPrice        decimal.Decimal `json:"mark_price"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	ROE              decimal.Decimal `json:"roe"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	MarginRatio      decimal.Decimal `json:"margin_ratio"`

	// LiquidationDistance is the fraction of the mark price between
	// here and the liquidation level.
	LiquidationDistance decimal.Decimal `json:"liquidation_distance"`
}

// Summary is the mark-to-market view of the whole account.
type Summary struct {
	Profile       string            `json:"profile"`
	Balance       decimal.Decimal   `json:"balance"`
	Available     decimal.Decimal   `json:"available"`
	LockedMargin  decimal.Decimal   `json:"locked_margin"`
	UnrealizedPnL decimal.Decimal   `json:"unrealized_pnl"`
	Equity        decimal.Decimal   `json:"equity"`
	Positions     []PositionSummary `json:"positions"`
}

// Summary computes account equity at current marks. Positions without
// an available mark price are reported with zero unrealized pnl.
func (e *Engine) Summary(ctx context.Context) (Summary, error) {
	prices := e.fetchPrices(ctx, e.openSymbols())

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return Summary{}, ErrClosed
	}

	out := Summary{
		Profile:      e.cfg.Profile,
		Balance:      e.wallet.Balance,
		Available:    e.wallet.Available(),
		LockedMargin: e.wallet.LockedMargin,
	}
	for _, pos := range e.positions {
		mark, ok := prices[pos.Symbol]
		if !ok {
			mark = pos.EntryPrice
		}
		upnl := pos.UnrealizedPnL(mark)
		out.UnrealizedPnL = out.UnrealizedPnL.Add(upnl)
		liq := accounting.LiquidationPrice(pos.Side, pos.EntryPrice, pos.Leverage)
		distance := decimal.Zero
		if mark.IsPositive() {
			distance = mark.Sub(liq).Abs().Div(mark)
		}
		out.Positions = append(out.Positions, PositionSummary{
			Position:            *pos,
			MarkPrice:           mark,
			UnrealizedPnL:       upnl,
			ROE:                 accounting.ROE(upnl, pos.Margin),
			LiquidationPrice:    liq,
			MarginRatio:         marginRatio(pos, mark),
			LiquidationDistance: distance,
		})
	}
	sort.Slice(out.Positions, func(i, j int) bool {
		return out.Positions[i].Position.Symbol < out.Positions[j].Position.Symbol
	})
	out.Equity = e.wallet.Equity(out.UnrealizedPnL)
	e.updateGaugesLocked(out.UnrealizedPnL)
	return out, nil
}

// Stats aggregates account standing and realized performance.
type Stats struct {
	Balance         decimal.Decimal `json:"balance"`
	Available       decimal.Decimal `json:"available"`
	LockedMargin    decimal.Decimal `json:"locked_margin"`
	UnrealizedPnL   decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	TotalPnL        decimal.Decimal `json:"total_pnl"`
	FeesPaid        decimal.Decimal `json:"fees_paid"`
	FundingPaid     decimal.Decimal `json:"funding_paid"`
	FundingReceived decimal.Decimal `json:"funding_received"`
	FundingNet      decimal.Decimal `json:"funding_net"`
	OpenPositions   int             `json:"open_positions"`
	ClosedTrades    int             `json:"closed_trades"`
	Wins            int             `json:"wins"`
	Losses          int             `json:"losses"`
	WinRate         decimal.Decimal `json:"win_rate"`
}

// Statistics summarizes the account at current marks. Positions
// without an available mark price count zero unrealized pnl.
func (e *Engine) Statistics(ctx context.Context) (Stats, error) {
	prices := e.fetchPrices(ctx, e.openSymbols())

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return Stats{}, ErrClosed
	}

	var s Stats
	for _, t := range e.trades {
		switch t.Action {
		case schema.TradeActionClose, schema.TradeActionReduce, schema.TradeActionLiquidation:
			s.ClosedTrades++
			if t.PnL.IsPositive() {
				s.Wins++
			} else if t.PnL.IsNegative() {
				s.Losses++
			}
		}
	}
	if decided := s.Wins + s.Losses; decided > 0 {
		s.WinRate = decimal.NewFromInt(int64(s.Wins)).
			Div(decimal.NewFromInt(int64(decided))).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}
	for _, f := range e.funding {
		if f.Amount.IsNegative() {
			s.FundingPaid = s.FundingPaid.Add(f.Amount.Neg())
		} else {
			s.FundingReceived = s.FundingReceived.Add(f.Amount)
		}
	}
	for _, pos := range e.positions {
		if mark, ok := prices[pos.Symbol]; ok {
			s.UnrealizedPnL = s.UnrealizedPnL.Add(pos.UnrealizedPnL(mark))
		}
	}
	s.Balance = e.wallet.Balance
	s.Available = e.wallet.Available()
	s.LockedMargin = e.wallet.LockedMargin
	s.RealizedPnL = e.wallet.RealizedPnL
	s.TotalPnL = s.RealizedPnL.Add(s.UnrealizedPnL)
	s.FeesPaid = e.wallet.TotalFeesPaid
	s.FundingNet = e.wallet.TotalFunding
	s.OpenPositions = len(e.positions)
	return s, nil
}
