package pricing

import (
	"bytes"
	"errors"
	"fmt"
	"math/bits"

	"github.com/shopspring/decimal"
)

// ErrInvalidMoney is returned when a value cannot be represented as an amount of minor units.
var ErrInvalidMoney = errors.New("pricing: invalid money amount")

// Money represents a monetary value stored in minor units (cents).
type Money int64

const moneyScale = 2

// MaxAmount bounds every amount and running total. Applying any Rate to an
// amount within the bound cannot overflow int64.
const MaxAmount Money = 9_000_000_000_000

// ErrOverflow is returned when arithmetic leaves [-MaxAmount, MaxAmount].
var ErrOverflow = errors.New("pricing: amount out of range")

// Cents builds a Money value from a count of minor units.
func Cents(v int64) Money { return Money(v) }

// ParseMoney parses a decimal string such as "43.20". Amounts with non-zero
// sub-cent digits or beyond MaxAmount are rejected. Negative values are accepted
// so callers can reject them with their own error instead of having them clamped here.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMoney, s)
	}
	return FromDecimal(d)
}

// MustMoney is like ParseMoney but panics on error. Intended for constants and tests.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// FromDecimal converts a major-unit decimal into minor units. It never rounds.
func FromDecimal(d decimal.Decimal) (Money, error) {
	if !d.Equal(d.Truncate(moneyScale)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidMoney, d.String(), moneyScale)
	}
	shifted := d.Shift(moneyScale)
	if shifted.Abs().GreaterThan(decimal.NewFromInt(int64(MaxAmount))) {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidMoney, d.String())
	}
	return Money(shifted.IntPart()), nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -moneyScale)
}

// String formats the amount with two decimal places.
func (m Money) String() string {
	return m.Decimal().StringFixed(moneyScale)
}

// MarshalJSON encodes the amount as a quoted decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (m *Money) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidMoney, string(data))
	}
	v, err := FromDecimal(d)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Times returns m*n, failing with ErrOverflow when the product leaves the bound.
func (m Money) Times(n int) (Money, error) {
	if m == 0 || n == 0 {
		return 0, nil
	}
	hi, lo := bits.Mul64(absU(int64(m)), absU(int64(n)))
	if hi != 0 || lo > uint64(MaxAmount) {
		return 0, fmt.Errorf("%w: %s x %d", ErrOverflow, m, n)
	}
	if (m < 0) != (n < 0) {
		return -Money(lo), nil
	}
	return Money(lo), nil
}

// Plus returns m+o, failing with ErrOverflow when the sum leaves the bound.
func (m Money) Plus(o Money) (Money, error) {
	if m > MaxAmount || m < -MaxAmount || o > MaxAmount || o < -MaxAmount {
		return 0, fmt.Errorf("%w: %s + %s", ErrOverflow, m, o)
	}
	sum := m + o
	if sum > MaxAmount || sum < -MaxAmount {
		return 0, fmt.Errorf("%w: %s + %s", ErrOverflow, m, o)
	}
	return sum, nil
}

func absU(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}

// Max returns the larger of a and b.
func Max(a, b Money) Money {
	if a > b {
		return a
	}
	return b
}
