package engine

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/schema"
)

// Leverage returns the symbol's default leverage used when an order
// does not carry one.
func (e *Engine) Leverage(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if lev, ok := e.leverages[symbol]; ok {
		return lev
	}
	return defaultLeverage
}

// SetLeverage stores the symbol's default leverage. The value must fit
// the contract's leverage bounds.
func (e *Engine) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	spec, ok := e.catalog.Lookup(symbol)
	if !ok {
		return errors.Wrap(ErrSymbolUnavailable, "not in catalog").With("symbol", symbol)
	}
	if leverage < spec.MinLeverage || leverage > spec.MaxLeverage {
		return errors.Wrap(ErrInvalidOrder, "leverage out of range").
			With("leverage", leverage).
			With("min", spec.MinLeverage).
			With("max", spec.MaxLeverage)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return ErrClosed
	}
	e.leverages[symbol] = leverage
	e.persistLocked(ctx)
	return nil
}

// Export returns a detached copy of the full account state.
func (e *Engine) Export() (*schema.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return nil, ErrClosed
	}
	return cloneSnapshot(e.snapshotLocked())
}

// Import replaces the account state with the given snapshot and
// persists it under the engine's profile.
func (e *Engine) Import(ctx context.Context, snap *schema.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return errors.Wrap(err, "validate import")
	}
	clone, err := cloneSnapshot(snap)
	if err != nil {
		return err
	}
	clone.Profile = e.cfg.Profile

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return ErrClosed
	}
	e.hydrate(clone)
	e.persistLocked(ctx)
	e.updateGaugesLocked(decimal.Zero)
	logs.Infof("imported state into profile %s, balance: %s, open positions: %d",
		e.cfg.Profile, e.wallet.Balance, len(e.positions))
	return nil
}

// Reset wipes the profile back to a fresh wallet with the configured
// initial balance.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return ErrClosed
	}
	e.wallet = schema.NewWallet(e.cfg.Currency, e.cfg.InitialBalance)
	e.positions = make(map[string]*schema.Position)
	e.closed = nil
	e.pending = make(map[string]*schema.Order)
	e.orderLog = nil
	e.trades = nil
	e.funding = nil
	e.leverages = make(map[string]int)
	e.persistLocked(ctx)
	e.updateGaugesLocked(decimal.Zero)
	logs.Infof("reset profile %s, balance: %s", e.cfg.Profile, e.wallet.Balance)
	return nil
}

// cloneSnapshot detaches a snapshot from the engine's live pointers.
func cloneSnapshot(snap *schema.Snapshot) (*schema.Snapshot, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, errors.Wrap(err, "encode snapshot")
	}
	out := &schema.Snapshot{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	return out, nil
}
