package pos

import "github.com/noah-isme/apotek-pos/internal/pricing"

// Settlement is the computed breakdown of a checkout. It is a projection of the
// session state and is never stored by the session itself.
type Settlement struct {
	Subtotal         pricing.Money `json:"subtotal"`
	InsuranceCredit  pricing.Money `json:"insuranceCredit"`
	TaxableBase      pricing.Money `json:"taxableBase"`
	Tax              pricing.Money `json:"tax"`
	TotalDue         pricing.Money `json:"totalDue"`
	TotalTendered    pricing.Money `json:"totalTendered"`
	RemainingBalance pricing.Money `json:"remainingBalance"`
	ChangeDue        pricing.Money `json:"changeDue"`
}

// Settled reports whether nothing remains to be paid.
func (r Settlement) Settled() bool {
	return r.RemainingBalance == 0
}

// ComputeSettlement recomputes the breakdown from the current lines and tenders.
// All arithmetic is in minor units; tax is rounded half-up once, when it is finalised.
// The session keeps the subtotal and tendered total within pricing.MaxAmount, so
// none of the sums below can overflow.
func (s *Session) ComputeSettlement(rate pricing.Rate) Settlement {
	var r Settlement
	for _, l := range s.lines {
		r.Subtotal += l.LineTotal()
		r.InsuranceCredit += l.InsuranceCredit()
	}
	r.TaxableBase = pricing.Max(r.Subtotal-r.InsuranceCredit, 0)
	r.Tax = rate.Apply(r.TaxableBase)
	r.TotalDue = r.Subtotal + r.Tax - r.InsuranceCredit
	for _, t := range s.tenders {
		r.TotalTendered += t.Amount
	}
	r.RemainingBalance = pricing.Max(r.TotalDue-r.TotalTendered, 0)
	r.ChangeDue = pricing.Max(r.TotalTendered-r.TotalDue, 0)
	return r
}

// CanSettle reports whether the current projection has no remaining balance.
func (s *Session) CanSettle(rate pricing.Rate) bool {
	return s.ComputeSettlement(rate).Settled()
}
