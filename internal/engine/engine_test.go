package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/catalog"
	"main/internal/ledger"
	"main/internal/pricefeed"
	"main/internal/schema"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	engine *Engine
	feed   *pricefeed.Mock
	store  *ledger.Memory
	clock  *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	feed := pricefeed.NewStaticMock(map[string]decimal.Decimal{
		"BTCUSDT": d("100000"),
		"ETHUSDT": d("3000"),
	})
	store := ledger.NewMemory()
	e := New(Config{Profile: "test"}, catalog.Defaults(), feed, store, nil)

	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	clock := &now
	e.now = func() time.Time { return *clock }

	require.NoError(t, e.Open(context.Background()))
	return &fixture{engine: e, feed: feed, store: store, clock: clock}
}

func (f *fixture) advance(dur time.Duration) {
	*f.clock = f.clock.Add(dur)
}

func marketLong(qty string) OrderRequest {
	return OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     schema.SideLong,
		Type:     schema.OrderTypeMarket,
		Quantity: d(qty),
		Leverage: 10,
	}
}

func TestOpenStartsFreshWallet(t *testing.T) {
	f := newFixture(t)
	w := f.engine.Wallet()
	assert.True(t, w.Balance.Equal(d("10000")))
	assert.True(t, w.LockedMargin.IsZero())
	assert.Equal(t, "USDT", w.Currency)
}

func TestMarketOpenLocksMarginAndChargesFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.engine.PlaceOrder(ctx, marketLong("0.1"))
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusFilled, o.Status)
	assert.True(t, o.FillPrice.Equal(d("100000")))

	w := f.engine.Wallet()
	assert.True(t, w.LockedMargin.Equal(d("1000")), "margin: %s", w.LockedMargin)
	assert.True(t, w.Balance.Equal(d("9995")), "balance: %s", w.Balance)
	assert.True(t, w.Available().Equal(d("8995")), "available: %s", w.Available())

	pos, err := f.engine.Position("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, schema.SideLong, pos.Side)
	assert.True(t, pos.EntryPrice.Equal(d("100000")))
	assert.True(t, pos.Margin.Equal(d("1000")))
}

func TestSameSideOrdersNetIntoAverageEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PlaceOrder(ctx, marketLong("0.1"))
	require.NoError(t, err)

	f.feed.SetPrice("BTCUSDT", d("102000"))
	_, err = f.engine.PlaceOrder(ctx, marketLong("0.1"))
	require.NoError(t, err)

	pos, err := f.engine.Position("BTCUSDT")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d("0.2")), "qty: %s", pos.Quantity)
	assert.True(t, pos.EntryPrice.Equal(d("101000")), "entry: %s", pos.EntryPrice)
}

func TestOppositeOrderFlipsPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PlaceOrder(ctx, marketLong("0.2"))
	require.NoError(t, err)

	o, err := f.engine.PlaceOrder(ctx, OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     schema.SideShort,
		Type:     schema.OrderTypeMarket,
		Quantity: d("0.3"),
		Leverage: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusFilled, o.Status)

	pos, err := f.engine.Position("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, schema.SideShort, pos.Side)
	assert.True(t, pos.Quantity.Equal(d("0.1")), "qty: %s", pos.Quantity)
	assert.True(t, pos.EntryPrice.Equal(d("100000")))

	// The long closed flat, so only fees moved the balance:
	// open 0.2 (10), close 0.2 (10), open 0.1 (5).
	w := f.engine.Wallet()
	assert.True(t, w.Balance.Equal(d("9975")), "balance: %s", w.Balance)
	assert.True(t, w.LockedMargin.Equal(d("1000")), "margin: %s", w.LockedMargin)
}

func TestOppositeOrderReducesPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PlaceOrder(ctx, marketLong("0.2"))
	require.NoError(t, err)

	f.feed.SetPrice("BTCUSDT", d("105000"))
	_, err = f.engine.PlaceOrder(ctx, OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     schema.SideShort,
		Type:     schema.OrderTypeMarket,
		Quantity: d("0.1"),
		Leverage: 10,
	})
	require.NoError(t, err)

	pos, err := f.engine.Position("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, schema.SideLong, pos.Side)
	assert.True(t, pos.Quantity.Equal(d("0.1")))
	assert.True(t, pos.Margin.Equal(d("1000")), "margin: %s", pos.Margin)

	w := f.engine.Wallet()
	assert.True(t, w.RealizedPnL.Equal(d("500")), "pnl: %s", w.RealizedPnL)
}

func TestSummaryPnLAndROE(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PlaceOrder(ctx, marketLong("0.1"))
	require.NoError(t, err)

	f.feed.SetPrice("BTCUSDT", d("105000"))
	sum, err := f.engine.Summary(ctx)
	require.NoError(t, err)

	require.Len(t, sum.Positions, 1)
	ps := sum.Positions[0]
	assert.True(t, ps.UnrealizedPnL.Equal(d("500")), "pnl: %s", ps.UnrealizedPnL)
	assert.True(t, ps.ROE.Equal(d("50")), "roe: %s", ps.ROE)
	assert.True(t, ps.LiquidationPrice.Equal(d("90500")), "liq: %s", ps.LiquidationPrice)
	assert.True(t, sum.Equity.Equal(sum.Balance.Add(d("500"))))
}

func TestReversePosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PlaceOrder(ctx, marketLong("0.2"))
	require.NoError(t, err)

	o, err := f.engine.ReversePosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusFilled, o.Status)

	pos, err := f.engine.Position("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, schema.SideShort, pos.Side)
	assert.True(t, pos.Quantity.Equal(d("0.2")), "qty: %s", pos.Quantity)
	assert.Equal(t, 10, pos.Leverage)

	w := f.engine.Wallet()
	assert.True(t, w.LockedMargin.Equal(d("2000")), "margin: %s", w.LockedMargin)
	assert.True(t, w.Balance.Equal(d("9970")), "balance: %s", w.Balance)

	_, err = f.engine.ReversePosition(ctx, "ETHUSDT")
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

// closingFeed closes the armed symbol's position while the price is
// being fetched, before the caller takes the engine lock.
type closingFeed struct {
	inner  *pricefeed.Mock
	engine *Engine
	armed  bool
}

func (f *closingFeed) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if f.armed {
		f.armed = false
		if _, err := f.engine.ClosePosition(ctx, symbol, decimal.Zero); err != nil {
			return decimal.Decimal{}, err
		}
	}
	return f.inner.MarkPrice(ctx, symbol)
}

func (f *closingFeed) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.inner.FundingRate(ctx, symbol)
}

func TestReverseSeesConcurrentClose(t *testing.T) {
	feed := &closingFeed{inner: pricefeed.NewStaticMock(map[string]decimal.Decimal{"BTCUSDT": d("100000")})}
	e := New(Config{Profile: "test"}, catalog.Defaults(), feed, ledger.NewMemory(), nil)
	feed.engine = e
	ctx := context.Background()
	require.NoError(t, e.Open(ctx))

	_, err := e.PlaceOrder(ctx, marketLong("0.2"))
	require.NoError(t, err)

	// The position vanishes between the price fetch and the fill.
	feed.armed = true
	_, err = e.ReversePosition(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, ErrPositionNotFound)

	_, err = e.Position("BTCUSDT")
	assert.ErrorIs(t, err, ErrPositionNotFound, "nothing reopened")

	w := e.Wallet()
	assert.True(t, w.LockedMargin.IsZero(), "margin: %s", w.LockedMargin)
}

func TestLiquidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PlaceOrder(ctx, marketLong("0.1"))
	require.NoError(t, err)

	f.feed.SetPrice("BTCUSDT", d("90400"))
	require.NoError(t, f.engine.CheckLiquidations(ctx))

	_, err = f.engine.Position("BTCUSDT")
	assert.ErrorIs(t, err, ErrPositionNotFound)

	trades := f.engine.Trades()
	last := trades[len(trades)-1]
	assert.Equal(t, schema.TradeActionLiquidation, last.Action)
	assert.Equal(t, schema.CloseReasonLiquidation, last.Reason)
	assert.True(t, last.Price.Equal(d("90500")), "price: %s", last.Price)
	assert.True(t, last.PnL.Equal(d("-950")), "pnl: %s", last.PnL)
	// Liquidation fee is 0.5% of notional at the liquidation price.
	assert.True(t, last.Fee.Equal(d("45.25")), "fee: %s", last.Fee)

	w := f.engine.Wallet()
	assert.True(t, w.LockedMargin.IsZero())
	// 10000 - 5 open fee - 950 loss - 45.25 liquidation fee.
	assert.True(t, w.Balance.Equal(d("8999.75")), "balance: %s", w.Balance)
}

func TestLiquidationNotTriggeredAbovePrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PlaceOrder(ctx, marketLong("0.1"))
	require.NoError(t, err)

	f.feed.SetPrice("BTCUSDT", d("90501"))
	require.NoError(t, f.engine.CheckLiquidations(ctx))

	_, err = f.engine.Position("BTCUSDT")
	assert.NoError(t, err)
}

func TestWarnOnlyLiquidationKeepsPosition(t *testing.T) {
	feed := pricefeed.NewStaticMock(map[string]decimal.Decimal{"BTCUSDT": d("100000")})
	e := New(Config{Profile: "test", WarnOnlyLiquidations: true}, catalog.Defaults(), feed, ledger.NewMemory(), nil)
	ctx := context.Background()
	require.NoError(t, e.Open(ctx))

	_, err := e.PlaceOrder(ctx, marketLong("0.1"))
	require.NoError(t, err)

	feed.SetPrice("BTCUSDT", d("90400"))
	require.NoError(t, e.CheckLiquidations(ctx))

	pos, err := e.Position("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, schema.PositionStatusOpen, pos.Status)
}

func TestStopLossClosesAtLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := marketLong("0.1")
	req.StopLoss = d("98000")
	_, err := f.engine.PlaceOrder(ctx, req)
	require.NoError(t, err)

	f.feed.SetPrice("BTCUSDT", d("97500"))
	require.NoError(t, f.engine.CheckStops(ctx))

	trades := f.engine.Trades()
	last := trades[len(trades)-1]
	assert.Equal(t, schema.CloseReasonStopLoss, last.Reason)
	assert.True(t, last.Price.Equal(d("98000")), "closes at the stop level, got %s", last.Price)
}

func TestTakeProfitWinsOverStopLoss(t *testing.T) {
	// A short with both levels straddled by one tick must close as a
	// take profit, at the take profit price.
	pos := &schema.Position{
		Side:       schema.SideShort,
		Quantity:   d("0.1"),
		EntryPrice: d("101000"),
		TakeProfit: d("100500"),
		StopLoss:   d("100400"),
	}
	level, reason, hit := triggeredStop(pos, d("100450"))
	require.True(t, hit)
	assert.Equal(t, schema.CloseReasonTakeProfit, reason)
	assert.True(t, level.Equal(d("100500")))
}

func TestTakeProfitClosesAtLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := marketLong("0.1")
	req.TakeProfit = d("103000")
	_, err := f.engine.PlaceOrder(ctx, req)
	require.NoError(t, err)

	f.feed.SetPrice("BTCUSDT", d("104000"))
	require.NoError(t, f.engine.CheckStops(ctx))

	trades := f.engine.Trades()
	last := trades[len(trades)-1]
	assert.Equal(t, schema.CloseReasonTakeProfit, last.Reason)
	assert.True(t, last.Price.Equal(d("103000")))
	assert.True(t, last.PnL.Equal(d("300")), "pnl: %s", last.PnL)
}

func TestFundingSettlesOncePerWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PlaceOrder(ctx, marketLong("0.1"))
	require.NoError(t, err)
	f.feed.SetFundingRate("BTCUSDT", d("0.0001"))

	window := time.Date(2026, 8, 30, 16, 0, 0, 0, time.UTC)
	require.NoError(t, f.engine.SettleFunding(ctx, window))
	require.NoError(t, f.engine.SettleFunding(ctx, window))

	payments := f.engine.FundingHistory()
	require.Len(t, payments, 1)
	assert.True(t, payments[0].Amount.Equal(d("-1")), "long pays: %s", payments[0].Amount)

	w := f.engine.Wallet()
	assert.True(t, w.Balance.Equal(d("9994")), "balance: %s", w.Balance)
	assert.True(t, w.TotalFunding.Equal(d("-1")))

	trades := f.engine.Trades()
	last := trades[len(trades)-1]
	assert.Equal(t, schema.TradeActionFunding, last.Action)
	assert.True(t, last.PnL.Equal(d("-1")))

	// The next window settles again.
	next := window.Add(8 * time.Hour)
	require.NoError(t, f.engine.SettleFunding(ctx, next))
	assert.Len(t, f.engine.FundingHistory(), 2)
}

func TestStateSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := marketLong("0.1")
	req.StopLoss = d("95000")
	_, err := f.engine.PlaceOrder(ctx, req)
	require.NoError(t, err)
	_, err = f.engine.PlaceOrder(ctx, OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       schema.SideLong,
		Type:       schema.OrderTypeLimit,
		Quantity:   d("0.05"),
		LimitPrice: d("94000"),
		Leverage:   5,
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.Close(ctx))

	revived := New(Config{Profile: "test"}, catalog.Defaults(), f.feed, f.store, nil)
	require.NoError(t, revived.Open(ctx))

	w := revived.Wallet()
	old := f.engine.wallet
	assert.True(t, w.Balance.Equal(old.Balance))
	assert.True(t, w.LockedMargin.Equal(old.LockedMargin))

	pos, err := revived.Position("BTCUSDT")
	require.NoError(t, err)
	assert.True(t, pos.StopLoss.Equal(d("95000")))

	pendingOrders := revived.PendingOrders()
	require.Len(t, pendingOrders, 1)
	assert.True(t, pendingOrders[0].LimitPrice.Equal(d("94000")))
	assert.Len(t, revived.Trades(), 1)
}

func TestLimitOrderLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.engine.PlaceOrder(ctx, OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       schema.SideLong,
		Type:       schema.OrderTypeLimit,
		Quantity:   d("0.1"),
		LimitPrice: d("95000"),
		Leverage:   10,
	})
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusPending, o.Status)

	// 0.1 * 95000 / 10 reserved at the limit price.
	w := f.engine.Wallet()
	assert.True(t, w.LockedMargin.Equal(d("950")), "reserved: %s", w.LockedMargin)
	assert.True(t, w.Balance.Equal(d("10000")), "no fee until fill")

	// Not crossed yet.
	require.NoError(t, f.engine.SweepOrders(ctx))
	require.Len(t, f.engine.PendingOrders(), 1)

	// Crossed: fills at the limit price, not the mark.
	f.feed.SetPrice("BTCUSDT", d("94000"))
	require.NoError(t, f.engine.SweepOrders(ctx))
	require.Empty(t, f.engine.PendingOrders())

	filled, err := f.engine.Order(o.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusFilled, filled.Status)
	assert.True(t, filled.FillPrice.Equal(d("95000")))

	pos, err := f.engine.Position("BTCUSDT")
	require.NoError(t, err)
	assert.True(t, pos.EntryPrice.Equal(d("95000")))
	assert.True(t, pos.Margin.Equal(d("950")))
}

func TestLimitOrderCrossedAtSubmitFillsAtMark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.engine.PlaceOrder(ctx, OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       schema.SideLong,
		Type:       schema.OrderTypeLimit,
		Quantity:   d("0.1"),
		LimitPrice: d("101000"),
		Leverage:   10,
	})
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusFilled, o.Status)
	assert.True(t, o.FillPrice.Equal(d("100000")))
}

func TestCancelOrderReleasesMargin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.engine.PlaceOrder(ctx, OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       schema.SideLong,
		Type:       schema.OrderTypeLimit,
		Quantity:   d("0.1"),
		LimitPrice: d("95000"),
		Leverage:   10,
	})
	require.NoError(t, err)

	cancelled, err := f.engine.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusCancelled, cancelled.Status)
	assert.True(t, f.engine.Wallet().LockedMargin.IsZero())

	_, err = f.engine.CancelOrder(ctx, o.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestLimitOrderExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.engine.PlaceOrder(ctx, OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       schema.SideLong,
		Type:       schema.OrderTypeLimit,
		Quantity:   d("0.1"),
		LimitPrice: d("95000"),
		Leverage:   10,
	})
	require.NoError(t, err)

	f.advance(25 * time.Hour)
	require.NoError(t, f.engine.SweepOrders(ctx))

	expired, err := f.engine.Order(o.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusExpired, expired.Status)
	assert.True(t, f.engine.Wallet().LockedMargin.IsZero())
}

func TestInsufficientMarginRejectsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.engine.PlaceOrder(ctx, OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     schema.SideLong,
		Type:     schema.OrderTypeMarket,
		Quantity: d("2"),
		Leverage: 10,
	})
	assert.ErrorIs(t, err, ErrInsufficientMargin)
	require.NotNil(t, o)
	assert.Equal(t, schema.OrderStatusRejected, o.Status)

	w := f.engine.Wallet()
	assert.True(t, w.Balance.Equal(d("10000")))
	assert.True(t, w.LockedMargin.IsZero())
}

func TestUnknownSymbol(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PlaceOrder(ctx, OrderRequest{
		Symbol:   "DOGEUSDT",
		Side:     schema.SideLong,
		Type:     schema.OrderTypeMarket,
		Quantity: d("1"),
		Leverage: 10,
	})
	assert.ErrorIs(t, err, ErrSymbolUnavailable)

	_, err = f.engine.ClosePosition(ctx, "DOGEUSDT", decimal.Zero)
	assert.ErrorIs(t, err, ErrSymbolUnavailable)
}

func TestInvalidOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []OrderRequest{
		{Symbol: "BTCUSDT", Side: "SIDEWAYS", Type: schema.OrderTypeMarket, Quantity: d("0.1"), Leverage: 10},
		{Symbol: "BTCUSDT", Side: schema.SideLong, Type: "STOP", Quantity: d("0.1"), Leverage: 10},
		{Symbol: "BTCUSDT", Side: schema.SideLong, Type: schema.OrderTypeMarket, Quantity: d("0"), Leverage: 10},
		{Symbol: "BTCUSDT", Side: schema.SideLong, Type: schema.OrderTypeMarket, Quantity: d("0.1"), Leverage: 1000},
		{Symbol: "BTCUSDT", Side: schema.SideLong, Type: schema.OrderTypeLimit, Quantity: d("0.1"), Leverage: 10},
		// Stop loss above the mark on a long.
		{Symbol: "BTCUSDT", Side: schema.SideLong, Type: schema.OrderTypeMarket, Quantity: d("0.1"), Leverage: 10, StopLoss: d("101000")},
	}
	for i, req := range cases {
		_, err := f.engine.PlaceOrder(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidOrder, "case %d", i)
	}
}

func TestReduceOnlyCapsAtPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PlaceOrder(ctx, marketLong("0.1"))
	require.NoError(t, err)

	_, err = f.engine.PlaceOrder(ctx, OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       schema.SideShort,
		Type:       schema.OrderTypeMarket,
		Quantity:   d("0.5"),
		Leverage:   10,
		ReduceOnly: true,
	})
	require.NoError(t, err)

	_, err = f.engine.Position("BTCUSDT")
	assert.ErrorIs(t, err, ErrPositionNotFound, "closed, never flipped")
}

func TestReduceOnlyWithoutPosition(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.PlaceOrder(context.Background(), OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       schema.SideShort,
		Type:       schema.OrderTypeMarket,
		Quantity:   d("0.1"),
		Leverage:   10,
		ReduceOnly: true,
	})
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestPartialCloseReleasesMarginProRata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PlaceOrder(ctx, marketLong("0.2"))
	require.NoError(t, err)

	pos, err := f.engine.ClosePosition(ctx, "BTCUSDT", d("0.1"))
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d("0.1")))
	assert.True(t, pos.Margin.Equal(d("1000")), "margin: %s", pos.Margin)
	assert.Equal(t, schema.PositionStatusOpen, pos.Status)

	w := f.engine.Wallet()
	assert.True(t, w.LockedMargin.Equal(d("1000")))
	// Fees: 10 on open 0.2, 5 on closing 0.1.
	assert.True(t, w.TotalFeesPaid.Equal(d("15")))
}

func TestClosePositionRejectsOversize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PlaceOrder(ctx, marketLong("0.1"))
	require.NoError(t, err)

	_, err = f.engine.ClosePosition(ctx, "BTCUSDT", d("0.2"))
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestSetRiskLevels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PlaceOrder(ctx, marketLong("0.1"))
	require.NoError(t, err)

	pos, err := f.engine.SetRiskLevels(ctx, "BTCUSDT", d("95000"), d("110000"))
	require.NoError(t, err)
	assert.True(t, pos.StopLoss.Equal(d("95000")))
	assert.True(t, pos.TakeProfit.Equal(d("110000")))

	_, err = f.engine.SetRiskLevels(ctx, "BTCUSDT", d("110000"), decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = f.engine.SetRiskLevels(ctx, "ETHUSDT", d("2000"), decimal.Zero)
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestOperationsAfterClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Close(ctx))

	_, err := f.engine.PlaceOrder(ctx, marketLong("0.1"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, f.engine.SweepOrders(ctx), ErrClosed)
	assert.ErrorIs(t, f.engine.CheckStops(ctx), ErrClosed)
}

func TestStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PlaceOrder(ctx, marketLong("0.1"))
	require.NoError(t, err)
	f.feed.SetPrice("BTCUSDT", d("105000"))
	_, err = f.engine.ClosePosition(ctx, "BTCUSDT", decimal.Zero)
	require.NoError(t, err)

	f.feed.SetPrice("BTCUSDT", d("100000"))
	_, err = f.engine.PlaceOrder(ctx, marketLong("0.1"))
	require.NoError(t, err)
	f.feed.SetPrice("BTCUSDT", d("99000"))
	_, err = f.engine.ClosePosition(ctx, "BTCUSDT", decimal.Zero)
	require.NoError(t, err)

	stats, err := f.engine.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ClosedTrades)
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 1, stats.Losses)
	assert.True(t, stats.WinRate.Equal(d("50")), "win rate: %s", stats.WinRate)
	assert.True(t, stats.RealizedPnL.Equal(d("400")), "pnl: %s", stats.RealizedPnL)
	assert.Equal(t, 0, stats.OpenPositions)
	assert.True(t, stats.UnrealizedPnL.IsZero())
	assert.True(t, stats.TotalPnL.Equal(d("400")))
	assert.True(t, stats.Balance.Equal(d("10379.8")), "balance: %s", stats.Balance)
	assert.True(t, stats.Available.Equal(stats.Balance), "nothing locked")
}
