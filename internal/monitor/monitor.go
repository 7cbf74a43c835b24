// Package monitor runs the background checks around the engine:
// liquidation, stop levels, pending order sweeps, and the funding
// scheduler. Each monitor completes its in-flight pass before Stop
// returns.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

// Poller runs a check function at a fixed interval.
type Poller struct {
	name     string
	interval time.Duration
	check    func(ctx context.Context) error

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// NewPoller wires a named periodic check.
func NewPoller(name string, interval time.Duration, check func(ctx context.Context) error) *Poller {
	return &Poller{
		name:     name,
		interval: interval,
		check:    check,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the polling loop.
func (p *Poller) Start(ctx context.Context) {
	go func() {
		defer close(p.done)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		logs.Infof("monitor %s started, interval: %s", p.name, p.interval)
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-ticker.C:
				if err := p.check(ctx); err != nil {
					logs.Errorf("monitor %s, err: %+v", p.name, err)
				}
			}
		}
	}()
}

// Stop signals the loop and waits for the current pass to finish.
func (p *Poller) Stop() {
	p.once.Do(func() { close(p.stop) })
	<-p.done
	logs.Infof("monitor %s stopped", p.name)
}

// LiquidationChecker force-closes positions past their liquidation
// price.
type LiquidationChecker interface {
	CheckLiquidations(ctx context.Context) error
}

// StopChecker closes positions whose stop loss or take profit level
// has been hit.
type StopChecker interface {
	CheckStops(ctx context.Context) error
}

// OrderSweeper fills crossed limit orders and expires stale ones.
type OrderSweeper interface {
	SweepOrders(ctx context.Context) error
}

// NewLiquidationMonitor polls CheckLiquidations.
func NewLiquidationMonitor(e LiquidationChecker, interval time.Duration) *Poller {
	return NewPoller("liquidation", interval, e.CheckLiquidations)
}

// NewStopMonitor polls CheckStops.
func NewStopMonitor(e StopChecker, interval time.Duration) *Poller {
	return NewPoller("stops", interval, e.CheckStops)
}

// NewOrderSweepMonitor polls SweepOrders.
func NewOrderSweepMonitor(e OrderSweeper, interval time.Duration) *Poller {
	return NewPoller("orders", interval, e.SweepOrders)
}
