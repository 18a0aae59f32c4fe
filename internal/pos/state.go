package pos

import "fmt"

// State is the serialisable snapshot of a session. Line totals are not part of
// it; they are recomputed from unit price and quantity on restore.
type State struct {
	Lines    []Line    `json:"lines,omitempty"`
	Tenders  []Tender  `json:"tenders,omitempty"`
	Customer *Customer `json:"customer,omitempty"`
}

// State captures the current session contents.
func (s *Session) State() State {
	st := State{}
	if len(s.lines) > 0 {
		st.Lines = s.Lines()
	}
	if len(s.tenders) > 0 {
		st.Tenders = s.Tenders()
	}
	if c, ok := s.Customer(); ok {
		st.Customer = &c
	}
	return st
}

// Restore rebuilds a session from a snapshot. Snapshots that could not have been
// produced by the session operations are rejected.
func Restore(st State) (*Session, error) {
	s := NewSession()
	for i, l := range st.Lines {
		if !l.Kind.Valid() {
			return nil, fmt.Errorf("restore line %d: %w: %q", i, ErrUnknownKind, string(l.Kind))
		}
		if l.Quantity <= 0 || l.Quantity > MaxQuantity {
			return nil, fmt.Errorf("restore line %d: quantity %d: %w", i, l.Quantity, ErrInvalidAmount)
		}
		if l.UnitPrice < 0 {
			return nil, fmt.Errorf("restore line %d: unit price %s: %w", i, l.UnitPrice, ErrInvalidAmount)
		}
		if l.Kind != KindPrescription || !l.InsuranceCovered {
			l.InsuranceCovered = false
			l.Copay = nil
		}
		s.lines = append(s.lines, l.clone())
	}
	for i, t := range st.Tenders {
		if !t.Method.Valid() {
			return nil, fmt.Errorf("restore tender %d: %w: %q", i, ErrUnknownMethod, string(t.Method))
		}
		if t.Amount < 0 {
			return nil, fmt.Errorf("restore tender %d: %w", i, ErrInvalidAmount)
		}
		s.tenders = append(s.tenders, t)
	}
	if err := checkTotals(s.lines, s.tenders); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	if st.Customer != nil {
		s.SelectCustomer(*st.Customer)
	}
	return s, nil
}
