package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAddAndLookup(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(Spec{
		Symbol:      "BTCUSDT",
		MinQuantity: d("0.001"),
		QtyStep:     d("0.001"),
		MinLeverage: 1,
		MaxLeverage: 125,
	}))

	s, ok := c.Lookup("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", s.Symbol)

	_, ok = c.Lookup("DOGEUSDT")
	assert.False(t, ok)
}

func TestAddRejectsBadSpecs(t *testing.T) {
	c := New()
	assert.Error(t, c.Add(Spec{Symbol: "", MinLeverage: 1, MaxLeverage: 10}))
	assert.Error(t, c.Add(Spec{Symbol: "X", MinLeverage: 0, MaxLeverage: 10}))
	assert.Error(t, c.Add(Spec{Symbol: "X", MinLeverage: 10, MaxLeverage: 1}))
	assert.Error(t, c.Add(Spec{
		Symbol:      "X",
		MinLeverage: 1,
		MaxLeverage: 10,
		MinQuantity: d("1"),
		MaxQuantity: d("0.5"),
	}))
}

func TestValidateOrder(t *testing.T) {
	s := Spec{
		Symbol:      "BTCUSDT",
		MinQuantity: d("0.001"),
		MaxQuantity: d("100"),
		QtyStep:     d("0.001"),
		MinLeverage: 1,
		MaxLeverage: 125,
	}

	assert.NoError(t, s.ValidateOrder(d("0.1"), 10))
	assert.Error(t, s.ValidateOrder(d("0"), 10))
	assert.Error(t, s.ValidateOrder(d("-1"), 10))
	assert.Error(t, s.ValidateOrder(d("0.0001"), 10))
	assert.Error(t, s.ValidateOrder(d("200"), 10))
	assert.Error(t, s.ValidateOrder(d("0.0015"), 10), "off step")
	assert.Error(t, s.ValidateOrder(d("0.1"), 0))
	assert.Error(t, s.ValidateOrder(d("0.1"), 200))
}

func TestDefaults(t *testing.T) {
	c := Defaults()
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, c.Symbols())
}
