package pricing

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidRate indicates a rate outside [0, 1) or one that cannot be parsed.
var ErrInvalidRate = errors.New("pricing: invalid rate")

// Rate is a fractional rate stored in parts per million, so 80000 is 8%.
type Rate int64

const (
	rateScale = 6
	ratePPM   = 1_000_000
)

// ParseRate parses a decimal fraction such as "0.08" or "0.08875".
func ParseRate(s string) (Rate, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRate, s)
	}
	return rateFromDecimal(d)
}

// RateFromFloat converts a float fraction using its shortest decimal representation.
func RateFromFloat(f float64) (Rate, error) {
	return rateFromDecimal(decimal.NewFromFloat(f))
}

// MustRate is like ParseRate but panics on error.
func MustRate(s string) Rate {
	r, err := ParseRate(s)
	if err != nil {
		panic(err)
	}
	return r
}

func rateFromDecimal(d decimal.Decimal) (Rate, error) {
	if d.IsNegative() || d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return 0, fmt.Errorf("%w: %s must be in [0, 1)", ErrInvalidRate, d.String())
	}
	return Rate(d.Round(rateScale).Shift(rateScale).IntPart()), nil
}

// Decimal returns the rate as a fraction.
func (r Rate) Decimal() decimal.Decimal {
	return decimal.New(int64(r), -rateScale)
}

func (r Rate) String() string {
	return r.Decimal().String()
}

// Apply multiplies base by the rate and rounds half-up to the nearest minor unit.
// The product is computed in 128 bits. Quotients that do not fit, which only
// rates outside [0, 1) can produce, saturate.
func (r Rate) Apply(base Money) Money {
	if base == 0 || r == 0 {
		return 0
	}
	hi, lo := bits.Mul64(absU(int64(base)), absU(int64(r)))
	lo, carry := bits.Add64(lo, ratePPM/2, 0)
	hi += carry
	q := uint64(math.MaxInt64)
	if hi < ratePPM {
		q, _ = bits.Div64(hi, lo, ratePPM)
		q = min(q, math.MaxInt64)
	}
	if (base < 0) != (r < 0) {
		return -Money(q)
	}
	return Money(q)
}

// MarshalJSON encodes the rate as a quoted decimal fraction.
func (r Rate) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal fraction.
func (r *Rate) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRate, string(data))
	}
	v, err := rateFromDecimal(d)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// RateTable resolves the tax rate that applies to a tenant.
type RateTable struct {
	Default Rate
	Tenants map[string]Rate
}

// For returns the tenant rate, or the default when the tenant has none configured.
func (t RateTable) For(tenantID string) Rate {
	if rate, ok := t.Tenants[strings.ToLower(strings.TrimSpace(tenantID))]; ok {
		return rate
	}
	return t.Default
}

// ParseRateTable builds a table from a default rate and a "tenant=rate,tenant=rate" list.
func ParseRateTable(defaultRate, perTenant string) (RateTable, error) {
	table := RateTable{Tenants: map[string]Rate{}}
	if strings.TrimSpace(defaultRate) != "" {
		rate, err := ParseRate(defaultRate)
		if err != nil {
			return RateTable{}, fmt.Errorf("default rate: %w", err)
		}
		table.Default = rate
	}
	for _, pair := range strings.Split(perTenant, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tenantID, value, ok := strings.Cut(pair, "=")
		tenantID = strings.ToLower(strings.TrimSpace(tenantID))
		if !ok || tenantID == "" {
			return RateTable{}, fmt.Errorf("%w: malformed entry %q", ErrInvalidRate, pair)
		}
		rate, err := ParseRate(value)
		if err != nil {
			return RateTable{}, fmt.Errorf("tenant %s: %w", tenantID, err)
		}
		table.Tenants[tenantID] = rate
	}
	return table, nil
}

// TenantIDs lists the tenants with an explicit rate, sorted.
func (t RateTable) TenantIDs() []string {
	ids := make([]string, 0, len(t.Tenants))
	for id := range t.Tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
