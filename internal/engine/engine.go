// Package engine implements the matching and account logic of the
// paper trading simulator. One Engine owns one profile's wallet,
// positions and orders; every mutation happens under a single lock
// and is snapshotted to the ledger store before the call returns.
package engine

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/accounting"
	"main/internal/catalog"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/pricefeed"
	"main/internal/schema"
)

const (
	defaultCurrency      = "USDT"
	defaultLimitOrderTTL = 24 * time.Hour
	defaultLeverage      = 10
)

var defaultInitialBalance = decimal.NewFromInt(10000)

// marginRatioWarnLevel triggers a log warning when equity support for
// a position falls close to the maintenance requirement.
var marginRatioWarnLevel = decimal.RequireFromString("1.5")

// Config sets up one engine instance.
type Config struct {
	Profile        string
	Currency       string
	InitialBalance decimal.Decimal
	LimitOrderTTL  time.Duration

	// WarnOnlyLiquidations logs a breached maintenance margin instead
	// of force-closing the position.
	WarnOnlyLiquidations bool
}

// OrderRequest is the caller's side of PlaceOrder.
type OrderRequest struct {
	Symbol     string
	Side       schema.Side
	Type       schema.OrderType
	Quantity   decimal.Decimal
	LimitPrice decimal.Decimal
	Leverage   int
	ReduceOnly bool
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// Engine is the matching engine for a single account profile.
type Engine struct {
	cfg     Config
	catalog *catalog.Catalog
	feed    pricefeed.Feed
	store   ledger.Store
	metrics *obs.Metrics
	now     func() time.Time

	mu        sync.Mutex
	open      bool
	wallet    *schema.Wallet
	positions map[string]*schema.Position
	closed    []*schema.Position
	pending   map[string]*schema.Order
	orderLog  []*schema.Order
	trades    []*schema.TradeRecord
	funding   []*schema.FundingPayment
	leverages map[string]int
}

// New wires an engine. Open must be called before trading.
func New(cfg Config, cat *catalog.Catalog, feed pricefeed.Feed, store ledger.Store, metrics *obs.Metrics) *Engine {
	if cfg.Profile == "" {
		cfg.Profile = "default"
	}
	if cfg.Currency == "" {
		cfg.Currency = defaultCurrency
	}
	if cfg.InitialBalance.IsZero() {
		cfg.InitialBalance = defaultInitialBalance
	}
	if cfg.LimitOrderTTL <= 0 {
		cfg.LimitOrderTTL = defaultLimitOrderTTL
	}
	return &Engine{
		cfg:       cfg,
		catalog:   cat,
		feed:      feed,
		store:     store,
		metrics:   metrics,
		now:       time.Now,
		positions: make(map[string]*schema.Position),
		pending:   make(map[string]*schema.Order),
		leverages: make(map[string]int),
	}
}

// Open loads the profile's snapshot from the store, or starts a fresh
// wallet when none exists.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.open {
		return errors.New("engine already open").With("profile", e.cfg.Profile)
	}

	snap, err := e.store.Load(ctx, e.cfg.Profile)
	switch {
	case err == nil:
		if err := snap.Validate(); err != nil {
			return errors.Wrap(err, "validate snapshot").With("profile", e.cfg.Profile)
		}
		e.hydrate(snap)
		logs.Infof("loaded profile %s, balance: %s, open positions: %d, pending orders: %d",
			e.cfg.Profile, e.wallet.Balance, len(e.positions), len(e.pending))
	case stderrors.Is(err, ledger.ErrNotFound):
		e.wallet = schema.NewWallet(e.cfg.Currency, e.cfg.InitialBalance)
		logs.Infof("created profile %s, balance: %s", e.cfg.Profile, e.wallet.Balance)
	default:
		return errors.Wrap(err, "load snapshot").With("profile", e.cfg.Profile)
	}

	e.open = true
	e.updateGaugesLocked(decimal.Zero)
	return nil
}

// Close snapshots final state and stops accepting operations.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return nil
	}
	e.open = false

	if err := e.store.Save(ctx, e.snapshotLocked()); err != nil {
		return errors.Wrap(err, "save final snapshot").With("profile", e.cfg.Profile)
	}
	return nil
}

func (e *Engine) hydrate(snap *schema.Snapshot) {
	e.wallet = snap.Wallet
	e.positions = make(map[string]*schema.Position)
	e.closed = nil
	for _, p := range snap.Positions {
		if p.Status == schema.PositionStatusOpen {
			e.positions[p.Symbol] = p
		} else {
			e.closed = append(e.closed, p)
		}
	}
	e.pending = make(map[string]*schema.Order)
	e.orderLog = snap.Orders
	for _, o := range snap.Orders {
		if o.Status == schema.OrderStatusPending {
			e.pending[o.ID] = o
		}
	}
	e.trades = snap.Trades
	e.funding = snap.Funding
	e.leverages = snap.Leverages
	if e.leverages == nil {
		e.leverages = make(map[string]int)
	}
}

func (e *Engine) snapshotLocked() *schema.Snapshot {
	positions := make([]*schema.Position, 0, len(e.closed)+len(e.positions))
	positions = append(positions, e.closed...)
	for _, p := range e.positions {
		positions = append(positions, p)
	}
	return &schema.Snapshot{
		Version:   schema.SnapshotVersion,
		Profile:   e.cfg.Profile,
		SavedAt:   e.now().UTC(),
		Wallet:    e.wallet,
		Positions: positions,
		Orders:    e.orderLog,
		Trades:    e.trades,
		Funding:   e.funding,
		Leverages: e.leverages,
	}
}

// persistLocked saves after a mutation. In-memory state is the source
// of truth, a failed save is logged and trading continues.
func (e *Engine) persistLocked(ctx context.Context) {
	if err := e.store.Save(ctx, e.snapshotLocked()); err != nil {
		logs.Errorf("save snapshot, profile: %s, err: %+v", e.cfg.Profile, err)
	}
}

func (e *Engine) updateGaugesLocked(unrealized decimal.Decimal) {
	if e.metrics == nil {
		return
	}
	balance, _ := e.wallet.Balance.Float64()
	locked, _ := e.wallet.LockedMargin.Float64()
	equity, _ := e.wallet.Equity(unrealized).Float64()
	e.metrics.Balance.Set(balance)
	e.metrics.LockedMargin.Set(locked)
	e.metrics.Equity.Set(equity)
	e.metrics.OpenPositions.Set(float64(len(e.positions)))
	e.metrics.PendingOrders.Set(float64(len(e.pending)))
}

func (e *Engine) countOrder(status schema.OrderStatus) {
	if e.metrics != nil {
		e.metrics.OrdersTotal.WithLabelValues(string(status)).Inc()
	}
}

// markPrice resolves the symbol through the catalog and fetches the
// current mark price. It must be called before taking the engine lock.
func (e *Engine) markPrice(ctx context.Context, symbol string) (catalog.Spec, decimal.Decimal, error) {
	spec, ok := e.catalog.Lookup(symbol)
	if !ok {
		return catalog.Spec{}, decimal.Zero, errors.Wrap(ErrSymbolUnavailable, "not in catalog").With("symbol", symbol)
	}
	price, err := e.feed.MarkPrice(ctx, symbol)
	if err != nil {
		return catalog.Spec{}, decimal.Zero, errors.Wrap(ErrSymbolUnavailable, "fetch mark price").With("symbol", symbol)
	}
	return spec, price, nil
}

// PlaceOrder validates and executes an order. Market orders fill at
// the current mark price. Limit orders fill immediately when already
// crossed, otherwise they rest with their margin reserved.
func (e *Engine) PlaceOrder(ctx context.Context, req OrderRequest) (*schema.Order, error) {
	if !req.Side.Valid() {
		return nil, errors.Wrap(ErrInvalidOrder, "unknown side").With("side", req.Side)
	}
	if !req.Type.Valid() {
		return nil, errors.Wrap(ErrInvalidOrder, "unknown order type").With("type", req.Type)
	}
	if req.Type == schema.OrderTypeLimit && !req.LimitPrice.IsPositive() {
		return nil, errors.Wrap(ErrInvalidOrder, "limit price must be positive").With("limit_price", req.LimitPrice)
	}
	if req.Leverage == 0 {
		req.Leverage = e.Leverage(req.Symbol)
	}

	spec, mark, err := e.markPrice(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	if err := spec.ValidateOrder(req.Quantity, req.Leverage); err != nil {
		return nil, errors.Wrap(ErrInvalidOrder, err.Error())
	}

	reference := mark
	if req.Type == schema.OrderTypeLimit {
		reference = req.LimitPrice
	}
	if err := validateRiskLevels(req.Side, reference, req.StopLoss, req.TakeProfit); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return nil, ErrClosed
	}

	now := e.now().UTC()
	order := &schema.Order{
		ID:         schema.NewID("ord"),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		Leverage:   req.Leverage,
		ReduceOnly: req.ReduceOnly,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Status:     schema.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	e.orderLog = append(e.orderLog, order)

	if req.ReduceOnly {
		pos, ok := e.positions[req.Symbol]
		if !ok || pos.Side != req.Side.Opposite() {
			return e.rejectLocked(ctx, order, "no position to reduce", ErrInvalidOrder)
		}
	}

	switch {
	case req.Type == schema.OrderTypeMarket:
		if err := e.fillLocked(ctx, order, mark); err != nil {
			return order, err
		}
	case order.Fillable(mark):
		// Limit already crossed, fill right away at the mark.
		if err := e.fillLocked(ctx, order, mark); err != nil {
			return order, err
		}
	default:
		if err := e.restLocked(ctx, order, now); err != nil {
			return order, err
		}
	}

	e.persistLocked(ctx)
	e.updateGaugesLocked(decimal.Zero)
	return order, nil
}

// restLocked parks a limit order with its margin reserved.
func (e *Engine) restLocked(ctx context.Context, o *schema.Order, now time.Time) error {
	if !o.ReduceOnly {
		reserved := accounting.Margin(o.Quantity, o.LimitPrice, o.Leverage)
		if reserved.GreaterThan(e.wallet.Available()) {
			_, err := e.rejectLocked(ctx, o, "reserved margin exceeds available balance", ErrInsufficientMargin)
			return err
		}
		if err := e.wallet.LockMargin(reserved); err != nil {
			_, err := e.rejectLocked(ctx, o, err.Error(), ErrInsufficientMargin)
			return err
		}
		o.ReservedMargin = reserved
	}
	o.ExpiresAt = now.Add(e.cfg.LimitOrderTTL)
	e.pending[o.ID] = o
	logs.Infof("rest order %s, %s %s %s @ %s", o.ID, o.Side, o.Quantity, o.Symbol, o.LimitPrice)
	return nil
}

// rejectLocked finalizes an order as REJECTED and persists.
func (e *Engine) rejectLocked(ctx context.Context, o *schema.Order, reason string, kind error) (*schema.Order, error) {
	o.Status = schema.OrderStatusRejected
	o.Reason = reason
	o.UpdatedAt = e.now().UTC()
	e.countOrder(schema.OrderStatusRejected)
	e.persistLocked(ctx)
	return o, errors.Wrap(kind, reason).With("order", o.ID)
}

// fillLocked routes a fill into open, increase, or netting against
// the opposite position.
func (e *Engine) fillLocked(ctx context.Context, o *schema.Order, price decimal.Decimal) error {
	pos := e.positions[o.Symbol]

	if o.ReduceOnly {
		if pos == nil || pos.Side != o.Side.Opposite() {
			_, err := e.rejectLocked(ctx, o, "no position to reduce", ErrInvalidOrder)
			return err
		}
		qty := decimal.Min(o.Quantity, pos.Quantity)
		e.reduceLocked(pos, qty, price, schema.CloseReasonManual, o.ID)
		e.finalizeFillLocked(o, price)
		return nil
	}

	switch {
	case pos == nil:
		if err := e.openLocked(ctx, o, price); err != nil {
			return err
		}
	case pos.Side == o.Side:
		if err := e.increaseLocked(ctx, o, pos, price); err != nil {
			return err
		}
	default:
		if err := e.netLocked(ctx, o, pos, price); err != nil {
			return err
		}
	}
	e.finalizeFillLocked(o, price)
	return nil
}

func (e *Engine) finalizeFillLocked(o *schema.Order, price decimal.Decimal) {
	o.Status = schema.OrderStatusFilled
	o.FillPrice = price
	o.UpdatedAt = e.now().UTC()
	e.countOrder(schema.OrderStatusFilled)
}

// openLocked opens a fresh position from the order.
func (e *Engine) openLocked(ctx context.Context, o *schema.Order, price decimal.Decimal) error {
	margin := accounting.Margin(o.Quantity, price, o.Leverage)
	fee := accounting.Fee(o.Quantity, price)
	if margin.Add(fee).GreaterThan(e.wallet.Available()) {
		_, err := e.rejectLocked(ctx, o, "margin and fee exceed available balance", ErrInsufficientMargin)
		return err
	}

	if err := e.wallet.LockMargin(margin); err != nil {
		_, rerr := e.rejectLocked(ctx, o, err.Error(), ErrInsufficientMargin)
		return rerr
	}
	e.wallet.DeductFee(fee)

	now := e.now().UTC()
	pos := &schema.Position{
		ID:         schema.NewID("pos"),
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   o.Quantity,
		EntryPrice: price,
		Leverage:   o.Leverage,
		Margin:     margin,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
		Status:     schema.PositionStatusOpen,
		OpenedAt:   now,
		UpdatedAt:  now,
	}
	e.positions[o.Symbol] = pos
	o.PositionID = pos.ID

	e.recordTradeLocked(&schema.TradeRecord{
		PositionID: pos.ID,
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Action:     schema.TradeActionOpen,
		Quantity:   o.Quantity,
		Price:      price,
		Fee:        fee,
	})
	logs.Infof("open %s %s %s @ %s, margin: %s", o.Side, o.Quantity, o.Symbol, price, margin)
	return nil
}

// increaseLocked grows a same-side position. The position's leverage
// applies to the added exposure.
func (e *Engine) increaseLocked(ctx context.Context, o *schema.Order, pos *schema.Position, price decimal.Decimal) error {
	margin := accounting.Margin(o.Quantity, price, pos.Leverage)
	fee := accounting.Fee(o.Quantity, price)
	if margin.Add(fee).GreaterThan(e.wallet.Available()) {
		_, err := e.rejectLocked(ctx, o, "margin and fee exceed available balance", ErrInsufficientMargin)
		return err
	}

	if err := e.wallet.LockMargin(margin); err != nil {
		_, rerr := e.rejectLocked(ctx, o, err.Error(), ErrInsufficientMargin)
		return rerr
	}
	e.wallet.DeductFee(fee)

	pos.EntryPrice = accounting.AverageEntry(pos.Quantity, pos.EntryPrice, o.Quantity, price)
	pos.Quantity = pos.Quantity.Add(o.Quantity)
	pos.Margin = pos.Margin.Add(margin)
	if !o.StopLoss.IsZero() {
		pos.StopLoss = o.StopLoss
	}
	if !o.TakeProfit.IsZero() {
		pos.TakeProfit = o.TakeProfit
	}
	pos.UpdatedAt = e.now().UTC()
	o.PositionID = pos.ID

	e.recordTradeLocked(&schema.TradeRecord{
		PositionID: pos.ID,
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Action:     schema.TradeActionIncrease,
		Quantity:   o.Quantity,
		Price:      price,
		Fee:        fee,
	})
	logs.Infof("increase %s %s %s @ %s, entry: %s", pos.Side, o.Quantity, o.Symbol, price, pos.EntryPrice)
	return nil
}

// netLocked reduces the opposite position, flipping to a new position
// when the order quantity exceeds it. The flip is all-or-nothing: if
// the new side cannot be funded, nothing is mutated.
func (e *Engine) netLocked(ctx context.Context, o *schema.Order, pos *schema.Position, price decimal.Decimal) error {
	if o.Quantity.LessThanOrEqual(pos.Quantity) {
		e.reduceLocked(pos, o.Quantity, price, schema.CloseReasonManual, o.ID)
		o.PositionID = pos.ID
		return nil
	}

	excess := o.Quantity.Sub(pos.Quantity)
	newMargin := accounting.Margin(excess, price, o.Leverage)
	openFee := accounting.Fee(excess, price)

	// Project the wallet after the close leg to verify the open leg.
	closePnL := accounting.PnL(pos.Side, pos.Quantity, pos.EntryPrice, price)
	closeFee := accounting.Fee(pos.Quantity, price)
	projected := e.wallet.Available().
		Add(pos.Margin).
		Add(closePnL).
		Sub(closeFee)
	if newMargin.Add(openFee).GreaterThan(projected) {
		_, err := e.rejectLocked(ctx, o, "flip margin exceeds projected balance", ErrInsufficientMargin)
		return err
	}

	e.reduceLocked(pos, pos.Quantity, price, schema.CloseReasonManual, o.ID)

	flip := &schema.Order{
		ID:         o.ID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   excess,
		Leverage:   o.Leverage,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
	}
	if err := e.openLocked(ctx, flip, price); err != nil {
		o.Status = schema.OrderStatusRejected
		o.Reason = flip.Reason
		return err
	}
	o.PositionID = flip.PositionID
	return nil
}

// reduceLocked realizes pnl on part or all of a position, charging the
// close fee and releasing margin pro rata. A full reduction closes the
// position with the given reason.
func (e *Engine) reduceLocked(pos *schema.Position, qty, price decimal.Decimal, reason schema.CloseReason, orderID string) {
	full := qty.Equal(pos.Quantity)

	released := pos.Margin
	if !full {
		released = pos.Margin.Mul(qty).Div(pos.Quantity)
	}
	pnl := accounting.PnL(pos.Side, qty, pos.EntryPrice, price)
	fee := accounting.Fee(qty, price)
	if reason == schema.CloseReasonLiquidation {
		fee = accounting.LiquidationFee(qty, price)
	}

	e.wallet.ReleaseMargin(released)
	e.wallet.RealizePnL(pnl)
	e.wallet.DeductFee(fee)
	e.clampBalanceLocked()

	pos.Quantity = pos.Quantity.Sub(qty)
	pos.Margin = pos.Margin.Sub(released)
	pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
	pos.UpdatedAt = e.now().UTC()

	action := schema.TradeActionReduce
	if full {
		action = schema.TradeActionClose
		if reason == schema.CloseReasonLiquidation {
			action = schema.TradeActionLiquidation
		}
		pos.Status = schema.PositionStatusClosed
		pos.CloseReason = reason
		pos.ClosedAt = pos.UpdatedAt
		delete(e.positions, pos.Symbol)
		e.closed = append(e.closed, pos)
		if e.metrics != nil {
			e.metrics.PositionsClosed.WithLabelValues(string(reason)).Inc()
		}
	}

	e.recordTradeLocked(&schema.TradeRecord{
		PositionID: pos.ID,
		OrderID:    orderID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Action:     action,
		Quantity:   qty,
		Price:      price,
		Fee:        fee,
		PnL:        pnl,
		Reason:     reason,
	})
	logs.Infof("%s %s %s %s @ %s, pnl: %s, fee: %s", action, pos.Side, qty, pos.Symbol, price, pnl, fee)
}

// clampBalanceLocked floors the balance at zero after involuntary
// debits such as liquidation fees or funding.
func (e *Engine) clampBalanceLocked() {
	if e.wallet.Balance.IsNegative() {
		logs.Warnf("balance floored to zero, profile: %s, deficit: %s", e.cfg.Profile, e.wallet.Balance.Neg())
		e.wallet.Balance = decimal.Zero
	}
}

func (e *Engine) recordTradeLocked(t *schema.TradeRecord) {
	t.ID = schema.NewID("trd")
	t.Timestamp = e.now().UTC()
	e.trades = append(e.trades, t)
}

// CancelOrder withdraws a resting limit order and frees its margin.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) (*schema.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return nil, ErrClosed
	}
	o, ok := e.pending[orderID]
	if !ok {
		return nil, errors.Wrap(ErrOrderNotFound, "not pending").With("order", orderID)
	}

	e.wallet.ReleaseMargin(o.ReservedMargin)
	o.ReservedMargin = decimal.Zero
	o.Status = schema.OrderStatusCancelled
	o.UpdatedAt = e.now().UTC()
	delete(e.pending, orderID)
	e.countOrder(schema.OrderStatusCancelled)

	e.persistLocked(ctx)
	e.updateGaugesLocked(decimal.Zero)
	return o, nil
}

// SweepOrders expires stale limit orders and fills the ones whose
// limit has been crossed. Fills execute at the limit price.
func (e *Engine) SweepOrders(ctx context.Context) error {
	prices := e.fetchPrices(ctx, e.pendingSymbols())

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return ErrClosed
	}

	now := e.now().UTC()
	dirty := false
	for _, o := range e.pendingInOrderLocked() {
		if o.Expired(now) {
			e.wallet.ReleaseMargin(o.ReservedMargin)
			o.ReservedMargin = decimal.Zero
			o.Status = schema.OrderStatusExpired
			o.UpdatedAt = now
			delete(e.pending, o.ID)
			e.countOrder(schema.OrderStatusExpired)
			logs.Infof("expire order %s, %s %s %s", o.ID, o.Side, o.Quantity, o.Symbol)
			dirty = true
			continue
		}

		mark, ok := prices[o.Symbol]
		if !ok || !o.Fillable(mark) {
			continue
		}

		e.wallet.ReleaseMargin(o.ReservedMargin)
		o.ReservedMargin = decimal.Zero
		delete(e.pending, o.ID)
		if err := e.fillLocked(ctx, o, o.LimitPrice); err != nil {
			logs.Warnf("pending order fill rejected, order: %s, err: %+v", o.ID, err)
		}
		dirty = true
	}

	if dirty {
		e.persistLocked(ctx)
		e.updateGaugesLocked(decimal.Zero)
	}
	return nil
}

// ClosePosition closes all or part of the open position on a symbol.
// A zero quantity closes the whole position.
func (e *Engine) ClosePosition(ctx context.Context, symbol string, quantity decimal.Decimal) (*schema.Position, error) {
	_, mark, err := e.markPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return nil, ErrClosed
	}
	pos, ok := e.positions[symbol]
	if !ok {
		return nil, errors.Wrap(ErrPositionNotFound, "no open position").With("symbol", symbol)
	}
	if quantity.IsNegative() {
		return nil, errors.Wrap(ErrInvalidOrder, "negative close quantity").With("quantity", quantity)
	}
	if quantity.GreaterThan(pos.Quantity) {
		return nil, errors.Wrap(ErrInvalidOrder, "close quantity exceeds position").
			With("quantity", quantity).
			With("position", pos.Quantity)
	}
	if quantity.IsZero() {
		quantity = pos.Quantity
	}

	e.reduceLocked(pos, quantity, mark, schema.CloseReasonManual, "")
	e.persistLocked(ctx)
	e.updateGaugesLocked(decimal.Zero)

	out := *pos
	return &out, nil
}

// ReversePosition closes the open position and opens the same quantity
// on the opposite side at the current mark, as one netting order. The
// quantity is read from the live position under the lock, so the
// close and the flip happen in one step.
func (e *Engine) ReversePosition(ctx context.Context, symbol string) (*schema.Order, error) {
	spec, mark, err := e.markPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return nil, ErrClosed
	}
	pos, ok := e.positions[symbol]
	if !ok {
		return nil, errors.Wrap(ErrPositionNotFound, "no open position").With("symbol", symbol)
	}

	qty := pos.Quantity.Mul(decimal.NewFromInt(2))
	if err := spec.ValidateOrder(qty, pos.Leverage); err != nil {
		return nil, errors.Wrap(ErrInvalidOrder, err.Error())
	}

	now := e.now().UTC()
	order := &schema.Order{
		ID:        schema.NewID("ord"),
		Symbol:    symbol,
		Side:      pos.Side.Opposite(),
		Type:      schema.OrderTypeMarket,
		Quantity:  qty,
		Leverage:  pos.Leverage,
		Status:    schema.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.orderLog = append(e.orderLog, order)

	if err := e.fillLocked(ctx, order, mark); err != nil {
		return order, err
	}
	e.persistLocked(ctx)
	e.updateGaugesLocked(decimal.Zero)
	return order, nil
}

// SetRiskLevels replaces the stop loss and take profit on an open
// position. Zero clears a level.
func (e *Engine) SetRiskLevels(ctx context.Context, symbol string, stopLoss, takeProfit decimal.Decimal) (*schema.Position, error) {
	_, mark, err := e.markPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return nil, ErrClosed
	}
	pos, ok := e.positions[symbol]
	if !ok {
		return nil, errors.Wrap(ErrPositionNotFound, "no open position").With("symbol", symbol)
	}
	if err := validateRiskLevels(pos.Side, mark, stopLoss, takeProfit); err != nil {
		return nil, err
	}

	pos.StopLoss = stopLoss
	pos.TakeProfit = takeProfit
	pos.UpdatedAt = e.now().UTC()

	e.persistLocked(ctx)
	out := *pos
	return &out, nil
}

// validateRiskLevels checks stop loss and take profit sit on the
// losing and winning side of the reference price respectively.
func validateRiskLevels(side schema.Side, reference, stopLoss, takeProfit decimal.Decimal) error {
	if stopLoss.IsNegative() || takeProfit.IsNegative() {
		return errors.Wrap(ErrInvalidOrder, "negative risk level")
	}
	if side == schema.SideLong {
		if !stopLoss.IsZero() && stopLoss.GreaterThanOrEqual(reference) {
			return errors.Wrap(ErrInvalidOrder, "stop loss must be below price").
				With("stop_loss", stopLoss).
				With("price", reference)
		}
		if !takeProfit.IsZero() && takeProfit.LessThanOrEqual(reference) {
			return errors.Wrap(ErrInvalidOrder, "take profit must be above price").
				With("take_profit", takeProfit).
				With("price", reference)
		}
		return nil
	}
	if !stopLoss.IsZero() && stopLoss.LessThanOrEqual(reference) {
		return errors.Wrap(ErrInvalidOrder, "stop loss must be above price").
			With("stop_loss", stopLoss).
			With("price", reference)
	}
	if !takeProfit.IsZero() && takeProfit.GreaterThanOrEqual(reference) {
		return errors.Wrap(ErrInvalidOrder, "take profit must be below price").
			With("take_profit", takeProfit).
			With("price", reference)
	}
	return nil
}

// CheckStops closes positions whose stop loss or take profit level has
// been reached. When both trigger on one tick, take profit wins and
// the close executes at the take profit price.
func (e *Engine) CheckStops(ctx context.Context) error {
	prices := e.fetchPrices(ctx, e.openSymbols())

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return ErrClosed
	}

	dirty := false
	for symbol, mark := range prices {
		pos, ok := e.positions[symbol]
		if !ok {
			continue
		}
		if level, reason, hit := triggeredStop(pos, mark); hit {
			e.reduceLocked(pos, pos.Quantity, level, reason, "")
			dirty = true
		}
	}

	if dirty {
		e.persistLocked(ctx)
		e.updateGaugesLocked(decimal.Zero)
	}
	return nil
}

func triggeredStop(pos *schema.Position, mark decimal.Decimal) (decimal.Decimal, schema.CloseReason, bool) {
	if pos.Side == schema.SideLong {
		if !pos.TakeProfit.IsZero() && mark.GreaterThanOrEqual(pos.TakeProfit) {
			return pos.TakeProfit, schema.CloseReasonTakeProfit, true
		}
		if !pos.StopLoss.IsZero() && mark.LessThanOrEqual(pos.StopLoss) {
			return pos.StopLoss, schema.CloseReasonStopLoss, true
		}
		return decimal.Zero, "", false
	}
	if !pos.TakeProfit.IsZero() && mark.LessThanOrEqual(pos.TakeProfit) {
		return pos.TakeProfit, schema.CloseReasonTakeProfit, true
	}
	if !pos.StopLoss.IsZero() && mark.GreaterThanOrEqual(pos.StopLoss) {
		return pos.StopLoss, schema.CloseReasonStopLoss, true
	}
	return decimal.Zero, "", false
}

// CheckLiquidations force-closes positions whose mark has crossed the
// liquidation price, and warns when the margin ratio runs low.
func (e *Engine) CheckLiquidations(ctx context.Context) error {
	prices := e.fetchPrices(ctx, e.openSymbols())

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return ErrClosed
	}

	dirty := false
	for symbol, mark := range prices {
		pos, ok := e.positions[symbol]
		if !ok {
			continue
		}

		liq := accounting.LiquidationPrice(pos.Side, pos.EntryPrice, pos.Leverage)
		crossed := mark.LessThanOrEqual(liq)
		if pos.Side == schema.SideShort {
			crossed = mark.GreaterThanOrEqual(liq)
		}
		if crossed {
			if e.cfg.WarnOnlyLiquidations {
				logs.Warnf("liquidation level breached, symbol: %s, mark: %s, liq: %s, auto-liquidation disabled", symbol, mark, liq)
				continue
			}
			logs.Warnf("liquidate %s %s %s, mark: %s, liq: %s", pos.Side, pos.Quantity, symbol, mark, liq)
			e.reduceLocked(pos, pos.Quantity, liq, schema.CloseReasonLiquidation, "")
			if e.metrics != nil {
				e.metrics.Liquidations.Inc()
			}
			dirty = true
			continue
		}

		ratio := marginRatio(pos, mark)
		if ratio.IsPositive() && ratio.LessThan(marginRatioWarnLevel) {
			logs.Warnf("margin ratio low, symbol: %s, ratio: %s, liq: %s", symbol, ratio.Round(4), liq)
		}
	}

	if dirty {
		e.persistLocked(ctx)
		e.updateGaugesLocked(decimal.Zero)
	}
	return nil
}

// marginRatio is margin plus unrealized pnl over the maintenance
// requirement. Liquidation happens at ratio 1.
func marginRatio(pos *schema.Position, mark decimal.Decimal) decimal.Decimal {
	maintenance := pos.Notional(mark).Mul(accounting.MaintenanceMarginRate)
	if !maintenance.IsPositive() {
		return decimal.Zero
	}
	return pos.Margin.Add(pos.UnrealizedPnL(mark)).Div(maintenance)
}

// SettleFunding applies the funding window to every open position that
// has not yet settled it. Re-running the same window is a no-op.
func (e *Engine) SettleFunding(ctx context.Context, window time.Time) error {
	symbols := e.openSymbols()
	prices := e.fetchPrices(ctx, symbols)
	rates := make(map[string]decimal.Decimal, len(symbols))
	for _, symbol := range symbols {
		rate, err := e.feed.FundingRate(ctx, symbol)
		if err != nil {
			logs.Warnf("skip funding, symbol: %s, err: %+v", symbol, err)
			continue
		}
		rates[symbol] = rate
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return ErrClosed
	}

	dirty := false
	for symbol, pos := range e.positions {
		if !pos.LastFundingAt.Before(window) {
			continue
		}
		mark, okPrice := prices[symbol]
		rate, okRate := rates[symbol]
		if !okPrice || !okRate {
			continue
		}

		amount := accounting.FundingPayment(pos.Side, pos.Quantity, mark, rate)
		e.wallet.ApplyFunding(amount)
		e.clampBalanceLocked()
		pos.CumulativeFunding = pos.CumulativeFunding.Add(amount)
		pos.LastFundingAt = window
		pos.UpdatedAt = e.now().UTC()

		e.funding = append(e.funding, &schema.FundingPayment{
			ID:         schema.NewID("fnd"),
			PositionID: pos.ID,
			Symbol:     symbol,
			Side:       pos.Side,
			Rate:       rate,
			MarkPrice:  mark,
			Amount:     amount,
			WindowAt:   window,
			SettledAt:  e.now().UTC(),
		})
		e.recordTradeLocked(&schema.TradeRecord{
			PositionID: pos.ID,
			Symbol:     symbol,
			Side:       pos.Side,
			Action:     schema.TradeActionFunding,
			Quantity:   pos.Quantity,
			Price:      mark,
			PnL:        amount,
		})
		if e.metrics != nil {
			e.metrics.FundingSettled.Inc()
		}
		logs.Infof("funding %s %s, rate: %s, amount: %s", symbol, pos.Side, rate, amount)
		dirty = true
	}

	if dirty {
		e.persistLocked(ctx)
		e.updateGaugesLocked(decimal.Zero)
	}
	return nil
}

func (e *Engine) openSymbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.positions))
	for symbol := range e.positions {
		out = append(out, symbol)
	}
	return out
}

func (e *Engine) pendingSymbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := make(map[string]struct{}, len(e.pending))
	out := make([]string, 0, len(e.pending))
	for _, o := range e.pending {
		if _, ok := seen[o.Symbol]; ok {
			continue
		}
		seen[o.Symbol] = struct{}{}
		out = append(out, o.Symbol)
	}
	return out
}

// fetchPrices resolves marks for the given symbols without holding
// the engine lock. Unavailable symbols are skipped.
func (e *Engine) fetchPrices(ctx context.Context, symbols []string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, symbol := range symbols {
		price, err := e.feed.MarkPrice(ctx, symbol)
		if err != nil {
			logs.Warnf("skip symbol, no mark price: %s, err: %+v", symbol, err)
			continue
		}
		out[symbol] = price
	}
	return out
}

func (e *Engine) pendingInOrderLocked() []*schema.Order {
	out := make([]*schema.Order, 0, len(e.pending))
	for _, o := range e.orderLog {
		if o.Status == schema.OrderStatusPending {
			out = append(out, o)
		}
	}
	return out
}
