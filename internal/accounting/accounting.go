// Package accounting implements the margin, pnl, fee, funding and
// liquidation arithmetic. All functions are pure and operate on
// arbitrary-precision decimals.
package accounting

import (
	"github.com/shopspring/decimal"

	"main/internal/schema"
)

var (
	// FeeRate is the taker fee charged on both open and close,
	// as a fraction of notional.
	FeeRate = decimal.RequireFromString("0.0005")

	// MaintenanceMarginRate is the maintenance margin requirement
	// used in the liquidation price formula.
	MaintenanceMarginRate = decimal.RequireFromString("0.005")

	// LiquidationFeeRate is charged on the notional when a position
	// is force-closed.
	LiquidationFeeRate = decimal.RequireFromString("0.005")

	hundred = decimal.NewFromInt(100)
)

// Margin returns the initial margin for the given exposure.
func Margin(quantity, price decimal.Decimal, leverage int) decimal.Decimal {
	return quantity.Mul(price).Div(decimal.NewFromInt(int64(leverage)))
}

// Fee returns the trading fee on the given notional.
func Fee(quantity, price decimal.Decimal) decimal.Decimal {
	return quantity.Mul(price).Mul(FeeRate)
}

// LiquidationFee returns the penalty charged when force-closing.
func LiquidationFee(quantity, price decimal.Decimal) decimal.Decimal {
	return quantity.Mul(price).Mul(LiquidationFeeRate)
}

// PnL returns the profit or loss of closing quantity at mark against
// the given entry price.
func PnL(side schema.Side, quantity, entry, mark decimal.Decimal) decimal.Decimal {
	diff := mark.Sub(entry)
	if side == schema.SideShort {
		diff = diff.Neg()
	}
	return quantity.Mul(diff)
}

// ROE returns pnl over margin in percent. Zero margin yields zero.
func ROE(pnl, margin decimal.Decimal) decimal.Decimal {
	if margin.IsZero() {
		return decimal.Zero
	}
	return pnl.Div(margin).Mul(hundred)
}

// LiquidationPrice returns the mark price at which the position's
// remaining margin equals the maintenance requirement, rounded to
// two decimal places.
//
//	LONG:  entry * (1 - 1/leverage + mmr)
//	SHORT: entry * (1 + 1/leverage - mmr)
func LiquidationPrice(side schema.Side, entry decimal.Decimal, leverage int) decimal.Decimal {
	inv := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(leverage)))
	var factor decimal.Decimal
	if side == schema.SideLong {
		factor = decimal.NewFromInt(1).Sub(inv).Add(MaintenanceMarginRate)
	} else {
		factor = decimal.NewFromInt(1).Add(inv).Sub(MaintenanceMarginRate)
	}
	return entry.Mul(factor).Round(2)
}

// FundingPayment returns the signed amount credited to the account for
// one funding settlement. A positive rate means longs pay shorts.
func FundingPayment(side schema.Side, quantity, mark, rate decimal.Decimal) decimal.Decimal {
	payment := quantity.Mul(mark).Mul(rate)
	if side == schema.SideLong {
		return payment.Neg()
	}
	return payment
}

// AverageEntry returns the quantity-weighted entry price after adding
// addQty at addPrice to an existing position of baseQty at basePrice.
func AverageEntry(baseQty, basePrice, addQty, addPrice decimal.Decimal) decimal.Decimal {
	total := baseQty.Add(addQty)
	if total.IsZero() {
		return decimal.Zero
	}
	notional := baseQty.Mul(basePrice).Add(addQty.Mul(addPrice))
	return notional.Div(total)
}
