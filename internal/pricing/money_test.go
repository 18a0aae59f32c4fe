package pricing_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/apotek-pos/internal/pricing"
)

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in   string
		want pricing.Money
	}{
		{"10.00", 1000},
		{"43.2", 4320},
		{"0", 0},
		{"10.50000", 1050},
		{"-5.25", -525},
		{"1234567.89", 123456789},
	}
	for _, tc := range cases {
		got, err := pricing.ParseMoney(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"ten dollars", "10.005", "0.001", "-0.499", "90000000000.01", "1e30"} {
		_, err := pricing.ParseMoney(bad)
		require.ErrorIs(t, err, pricing.ErrInvalidMoney, bad)
	}
	m, err := pricing.ParseMoney("90000000000.00")
	require.NoError(t, err)
	require.Equal(t, pricing.MaxAmount, m)
}

func TestMoneyCheckedArithmetic(t *testing.T) {
	product, err := pricing.Cents(1000).Times(3)
	require.NoError(t, err)
	require.Equal(t, pricing.Cents(3000), product)

	product, err = pricing.Cents(-250).Times(2)
	require.NoError(t, err)
	require.Equal(t, pricing.Cents(-500), product)

	_, err = pricing.Cents(1000).Times(9_223_372_036_854_776)
	require.ErrorIs(t, err, pricing.ErrOverflow)
	_, err = pricing.MaxAmount.Times(2)
	require.ErrorIs(t, err, pricing.ErrOverflow)

	sum, err := pricing.MaxAmount.Plus(-1)
	require.NoError(t, err)
	require.Equal(t, pricing.MaxAmount-1, sum)
	_, err = pricing.MaxAmount.Plus(1)
	require.ErrorIs(t, err, pricing.ErrOverflow)
	_, err = pricing.Money(math.MaxInt64).Plus(1)
	require.ErrorIs(t, err, pricing.ErrOverflow)
}

func TestMoneyString(t *testing.T) {
	require.Equal(t, "32.40", pricing.Cents(3240).String())
	require.Equal(t, "0.00", pricing.Cents(0).String())
	require.Equal(t, "0.07", pricing.Cents(7).String())
	require.Equal(t, "-6.80", pricing.Cents(-680).String())
}

func TestMoneyJSON(t *testing.T) {
	var payload struct {
		Price pricing.Money  `json:"price"`
		Copay *pricing.Money `json:"copay"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"price": 50.00, "copay": "10.00"}`), &payload))
	require.Equal(t, pricing.Money(5000), payload.Price)
	require.NotNil(t, payload.Copay)
	require.Equal(t, pricing.Money(1000), *payload.Copay)

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	require.JSONEq(t, `{"price":"50.00","copay":"10.00"}`, string(out))

	require.Error(t, json.Unmarshal([]byte(`{"price": "abc"}`), &payload))
	require.ErrorIs(t, json.Unmarshal([]byte(`{"price": "10.005"}`), &payload), pricing.ErrInvalidMoney)
}
