package pricefeed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"
)

const (
	_binanceFuturesWsUrl = "wss://fstream.binance.com/ws"

	// markPrice ticks arrive every second; a price older than this
	// is treated as unavailable.
	_binanceStaleAfter = 30 * time.Second
)

// Binance streams mark prices and funding rates from the Binance
// USDT-M futures websocket. One markPrice stream per subscribed
// symbol supplies both values.
type Binance struct {
	wss *ws.WebSocket

	mu    sync.RWMutex
	ticks map[string]binanceMarkTick
}

type binanceMarkTick struct {
	mark    decimal.Decimal
	funding decimal.Decimal
	at      time.Time
}

func NewBinance(ctx context.Context) *Binance {
	return &Binance{
		wss:   ws.New(ctx, _binanceFuturesWsUrl),
		ticks: make(map[string]binanceMarkTick),
	}
}

func (b *Binance) Close() {
	b.wss.Close()
}

func (b *Binance) Start(ctx context.Context) error {
	if err := b.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}

	return nil
}

type binanceSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type binanceSubscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

// SubscribeMarkPrice subscribes the symbol's 'Mark Price Stream' and
// starts folding its ticks into the feed.
func (b *Binance) SubscribeMarkPrice(ctx context.Context, symbol string) error {
	appendIntoRegister := true
	if err := b.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := binanceSubscribeRequest{
				Method: "SUBSCRIBE",
				Params: []string{
					fmt.Sprintf("%s@markPrice@1s", strings.ToLower(symbol)),
				},
				ID: 1,
			}

			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp binanceSubscribeResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != 1 {
				return false, nil
			}

			if resp.Result != nil {
				return false, errors.Errorf("subscribe and wait, err: %+v", resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	b.observe(ctx)
	return nil
}

type binanceMarkPriceEvent struct {
	EventType       string `json:"e"`
	EventTime       int64  `json:"E"`
	Symbol          string `json:"s"`
	MarkPrice       string `json:"p"`
	IndexPrice      string `json:"i"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
}

func (b *Binance) observe(ctx context.Context) {
	ch, cancel := b.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				ev, ok := ws.ReadMessage[binanceMarkPriceEvent](m)
				if !ok || ev.EventType != "markPriceUpdate" {
					continue
				}

				b.apply(ev)
			}
		}
	}()
}

func (b *Binance) apply(ev binanceMarkPriceEvent) {
	mark, err := decimal.NewFromString(ev.MarkPrice)
	if err != nil {
		logs.Warnf("drop mark price tick, symbol: %s, err: %+v", ev.Symbol, err)
		return
	}

	funding, err := decimal.NewFromString(ev.FundingRate)
	if err != nil {
		funding = decimal.Zero
	}

	b.mu.Lock()
	b.ticks[ev.Symbol] = binanceMarkTick{
		mark:    mark,
		funding: funding,
		at:      time.UnixMilli(ev.EventTime),
	}
	b.mu.Unlock()
}

func (b *Binance) MarkPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	tick, err := b.tick(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return tick.mark, nil
}

func (b *Binance) FundingRate(_ context.Context, symbol string) (decimal.Decimal, error) {
	tick, err := b.tick(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return tick.funding, nil
}

func (b *Binance) tick(symbol string) (binanceMarkTick, error) {
	b.mu.RLock()
	tick, ok := b.ticks[symbol]
	b.mu.RUnlock()

	if !ok {
		return binanceMarkTick{}, errors.Wrap(ErrUnavailable, "lookup symbol").With("symbol", symbol)
	}
	if time.Since(tick.at) > _binanceStaleAfter {
		return binanceMarkTick{}, errors.Wrap(ErrUnavailable, "stale tick").
			With("symbol", symbol).
			With("age", time.Since(tick.at).String())
	}
	return tick, nil
}
