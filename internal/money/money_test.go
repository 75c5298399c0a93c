package money

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseKeepsExactCents(t *testing.T) {
	c, err := Parse("5200000.00")
	require.NoError(t, err)
	require.Equal(t, Cents(520000000), c)

	c, err = Parse("$1,234.5")
	require.NoError(t, err)
	require.Equal(t, Cents(123450), c)
}

func TestParseRejectsSubCentPrecision(t *testing.T) {
	_, err := Parse("10.005")
	require.True(t, errors.Is(err, ErrPrecision))
}

func TestFromDecimalNegative(t *testing.T) {
	c, err := FromDecimal(decimal.RequireFromString("-0.07"))
	require.NoError(t, err)
	require.Equal(t, Cents(-7), c)
}

func TestFormat(t *testing.T) {
	require.Equal(t, "$150,000,000.00", FromUnits(150_000_000).Format())
	require.Equal(t, "-$5,000,000.50", Cents(-500000050).Format())
	require.Equal(t, "$0.09", Cents(9).Format())
}

func TestJSONRoundTrip(t *testing.T) {
	type payload struct {
		Amount Cents `json:"amount"`
	}
	raw, err := json.Marshal(payload{Amount: Cents(2500)})
	require.NoError(t, err)
	require.JSONEq(t, `{"amount":"25.00"}`, string(raw))

	var fromNumber payload
	require.NoError(t, json.Unmarshal([]byte(`{"amount":13.1}`), &fromNumber))
	require.Equal(t, Cents(1310), fromNumber.Amount)
}
