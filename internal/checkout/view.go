package checkout

import (
	"time"

	"github.com/noah-isme/apotek-pos/internal/gateway"
	"github.com/noah-isme/apotek-pos/internal/pos"
	"github.com/noah-isme/apotek-pos/internal/pricing"
)

// Status labels where a session stands. Settleable is Building with a balanced projection.
type Status string

const (
	StatusEmpty      Status = "empty"
	StatusBuilding   Status = "building"
	StatusSettleable Status = "settleable"
)

// View is the read model returned after every operation.
type View struct {
	ID         string           `json:"id"`
	Tenant     string           `json:"tenant,omitempty"`
	Status     Status           `json:"status"`
	Currency   string           `json:"currency,omitempty"`
	TaxRate    pricing.Rate     `json:"taxRate"`
	Lines      []pos.PricedLine `json:"lines"`
	Tenders    []pos.Tender     `json:"tenders"`
	Customer   *pos.Customer    `json:"customer,omitempty"`
	Settlement pos.Settlement   `json:"settlement"`
	CanSettle  bool             `json:"canSettle"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
	ExpiresAt  time.Time        `json:"expiresAt"`
}

// Result is returned by a successful Finalize.
type Result struct {
	SessionID  string           `json:"sessionId"`
	Receipt    gateway.Receipt  `json:"receipt"`
	Settlement pos.Settlement   `json:"settlement"`
	Lines      []pos.PricedLine `json:"lines"`
	Tenders    []pos.Tender     `json:"tenders"`
	Customer   *pos.Customer    `json:"customer,omitempty"`
}

func pricedLines(s *pos.Session) []pos.PricedLine {
	lines := s.Lines()
	out := make([]pos.PricedLine, len(lines))
	for i, l := range lines {
		out[i] = l.Priced()
	}
	return out
}

func customerOf(s *pos.Session) *pos.Customer {
	if c, ok := s.Customer(); ok {
		return &c
	}
	return nil
}

func statusOf(s *pos.Session, settlement pos.Settlement) Status {
	switch {
	case s.Empty():
		return StatusEmpty
	case len(s.Lines()) > 0 && settlement.Settled():
		return StatusSettleable
	default:
		return StatusBuilding
	}
}
