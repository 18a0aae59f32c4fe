package pos

import (
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/apotek-pos/internal/pricing"
)

var (
	// ErrOutOfRange is returned when an index-based operation references a position that does not exist.
	ErrOutOfRange = errors.New("pos: index out of range")
	// ErrInvalidAmount is returned when a tender or price override is negative, or
	// when a change would push a line or running total past pricing.MaxAmount.
	ErrInvalidAmount = errors.New("pos: invalid amount")
	// ErrUnknownKind is returned when a line kind is not one of prescription, otc or product.
	ErrUnknownKind = errors.New("pos: unknown line kind")
	// ErrUnknownMethod is returned when a tender method is not one of the supported instruments.
	ErrUnknownMethod = errors.New("pos: unknown tender method")
)

// Kind classifies a cart line by its source.
type Kind string

const (
	KindPrescription Kind = "prescription"
	KindOTC          Kind = "otc"
	KindProduct      Kind = "product"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPrescription, KindOTC, KindProduct:
		return true
	}
	return false
}

// ParseKind converts a case-insensitive string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Method is the payment instrument of a tender.
type Method string

const (
	MethodCash      Method = "cash"
	MethodCard      Method = "card"
	MethodInsurance Method = "insurance"
	MethodHSA       Method = "hsa"
	MethodCheck     Method = "check"
)

// Methods lists every supported tender method.
func Methods() []Method {
	return []Method{MethodCash, MethodCard, MethodInsurance, MethodHSA, MethodCheck}
}

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	for _, known := range Methods() {
		if m == known {
			return true
		}
	}
	return false
}

// ParseMethod converts a case-insensitive string into a Method.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
	return m, nil
}

// Item is a sellable catalog entry as supplied by the catalog or prescription source.
type Item struct {
	ID               string         `json:"id"`
	Name             string         `json:"name,omitempty"`
	Price            pricing.Money  `json:"price"`
	InsuranceCovered bool           `json:"insuranceCovered,omitempty"`
	Copay            *pricing.Money `json:"copay,omitempty"`
}

// Line is one purchasable unit in the active transaction.
type Line struct {
	ID               string         `json:"id"`
	Kind             Kind           `json:"kind"`
	Name             string         `json:"name,omitempty"`
	UnitPrice        pricing.Money  `json:"unitPrice"`
	Quantity         int            `json:"quantity"`
	InsuranceCovered bool           `json:"insuranceCovered"`
	Copay            *pricing.Money `json:"copay,omitempty"`
}

// MaxQuantity bounds the quantity of a single line.
const MaxQuantity = 1_000_000

// LineTotal is always derived from unit price and quantity. A Session keeps
// the product within pricing.MaxAmount.
func (l Line) LineTotal() pricing.Money {
	return l.UnitPrice * pricing.Money(l.Quantity)
}

// InsuranceCredit is the portion of the line paid by insurance, floored at zero.
// Copay is a fixed amount per line and does not scale with quantity.
func (l Line) InsuranceCredit() pricing.Money {
	if !l.InsuranceCovered {
		return 0
	}
	var copay pricing.Money
	if l.Copay != nil {
		copay = *l.Copay
	}
	return pricing.Max(l.LineTotal()-copay, 0)
}

// PricedLine is a Line together with its derived amounts, for read models and receipts.
type PricedLine struct {
	Line
	LineTotal       pricing.Money `json:"lineTotal"`
	InsuranceCredit pricing.Money `json:"insuranceCredit"`
}

// Priced returns the line with its derived amounts filled in.
func (l Line) Priced() PricedLine {
	return PricedLine{Line: l, LineTotal: l.LineTotal(), InsuranceCredit: l.InsuranceCredit()}
}

// Tender is one payment instrument applied toward the total.
type Tender struct {
	Method Method        `json:"method"`
	Amount pricing.Money `json:"amount"`
}

// Customer is the patient associated with a checkout session.
type Customer struct {
	ID        string            `json:"id"`
	Name      string            `json:"name,omitempty"`
	Insurance *InsuranceProfile `json:"insurance,omitempty"`
}

// InsuranceProfile identifies the customer's coverage.
type InsuranceProfile struct {
	Provider string `json:"provider"`
	MemberID string `json:"memberId"`
}
