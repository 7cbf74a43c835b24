package schema

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// Wallet holds the virtual quote-currency account. Balance already
// reflects realized pnl, fees and funding. Available margin is always
// derived from Balance and LockedMargin so the two can never drift.
type Wallet struct {
	Currency      string          `json:"currency"`
	Balance       decimal.Decimal `json:"balance"`
	LockedMargin  decimal.Decimal `json:"locked_margin"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	TotalFeesPaid decimal.Decimal `json:"total_fees_paid"`
	TotalFunding  decimal.Decimal `json:"total_funding"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewWallet returns a wallet funded with the given starting balance.
func NewWallet(currency string, balance decimal.Decimal) *Wallet {
	return &Wallet{
		Currency:  currency,
		Balance:   balance,
		UpdatedAt: time.Now().UTC(),
	}
}

// Available returns the margin still free for new positions.
func (w *Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.LockedMargin)
}

// Equity returns account equity given the sum of unrealized pnl
// across open positions.
func (w *Wallet) Equity(unrealized decimal.Decimal) decimal.Decimal {
	return w.Balance.Add(unrealized)
}

// LockMargin reserves margin for a new or growing position.
func (w *Wallet) LockMargin(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.New("negative margin lock").With("amount", amount)
	}
	if amount.GreaterThan(w.Available()) {
		return errors.New("margin lock exceeds available balance").
			With("amount", amount).
			With("available", w.Available())
	}
	w.LockedMargin = w.LockedMargin.Add(amount)
	w.touch()
	return nil
}

// ReleaseMargin frees previously locked margin. Releasing more than is
// locked clamps to zero rather than going negative.
func (w *Wallet) ReleaseMargin(amount decimal.Decimal) {
	w.LockedMargin = w.LockedMargin.Sub(amount)
	if w.LockedMargin.IsNegative() {
		w.LockedMargin = decimal.Zero
	}
	w.touch()
}

// RealizePnL applies realized profit or loss to the balance.
func (w *Wallet) RealizePnL(pnl decimal.Decimal) {
	w.Balance = w.Balance.Add(pnl)
	w.RealizedPnL = w.RealizedPnL.Add(pnl)
	w.touch()
}

// DeductFee charges a trading fee against the balance.
func (w *Wallet) DeductFee(fee decimal.Decimal) {
	w.Balance = w.Balance.Sub(fee)
	w.TotalFeesPaid = w.TotalFeesPaid.Add(fee)
	w.touch()
}

// ApplyFunding credits (positive) or debits (negative) a funding
// payment. Funding settles against the balance unconditionally.
func (w *Wallet) ApplyFunding(amount decimal.Decimal) {
	w.Balance = w.Balance.Add(amount)
	w.TotalFunding = w.TotalFunding.Add(amount)
	w.touch()
}

func (w *Wallet) touch() {
	w.UpdatedAt = time.Now().UTC()
}
