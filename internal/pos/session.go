package pos

import (
	"fmt"

	"github.com/noah-isme/apotek-pos/internal/pricing"
)

// Session holds the cart and tenders of one checkout. A Session is owned by a
// single flow of control and is not safe for concurrent use.
type Session struct {
	lines    []Line
	tenders  []Tender
	customer *Customer
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{}
}

// AddLine adds one unit of item to the cart. When a line with the same id and
// kind already exists its quantity is incremented instead. The returned line is
// the one created or merged into. The cart is left unchanged when the result
// would exceed MaxQuantity or pricing.MaxAmount.
func (s *Session) AddLine(item Item, kind Kind) (Line, error) {
	for i := range s.lines {
		if s.lines[i].ID == item.ID && s.lines[i].Kind == kind {
			if err := s.tryQuantity(i, s.lines[i].Quantity+1); err != nil {
				return Line{}, err
			}
			return s.lines[i].clone(), nil
		}
	}
	if item.Price < 0 {
		return Line{}, fmt.Errorf("unit price %s: %w", item.Price, ErrInvalidAmount)
	}
	line := Line{
		ID:        item.ID,
		Kind:      kind,
		Name:      item.Name,
		UnitPrice: item.Price,
		Quantity:  1,
	}
	if kind == KindPrescription && item.InsuranceCovered {
		line.InsuranceCovered = true
		if item.Copay != nil {
			copay := *item.Copay
			line.Copay = &copay
		}
	}
	s.lines = append(s.lines, line)
	if err := checkTotals(s.lines, s.tenders); err != nil {
		s.lines = s.lines[:len(s.lines)-1]
		if len(s.lines) == 0 {
			s.lines = nil
		}
		return Line{}, err
	}
	return line.clone(), nil
}

// SetQuantity changes the quantity of the line at index. A quantity of zero or
// less removes the line.
func (s *Session) SetQuantity(index, quantity int) error {
	if err := checkIndex("line", index, len(s.lines)); err != nil {
		return err
	}
	if quantity <= 0 {
		s.lines = deleteAt(s.lines, index)
		return nil
	}
	return s.tryQuantity(index, quantity)
}

func (s *Session) tryQuantity(index, quantity int) error {
	if quantity > MaxQuantity {
		return fmt.Errorf("quantity %d above %d: %w", quantity, MaxQuantity, ErrInvalidAmount)
	}
	prev := s.lines[index].Quantity
	s.lines[index].Quantity = quantity
	if err := checkTotals(s.lines, s.tenders); err != nil {
		s.lines[index].Quantity = prev
		return err
	}
	return nil
}

// SetUnitPrice overrides the unit price of the line at index.
func (s *Session) SetUnitPrice(index int, price pricing.Money) error {
	if err := checkIndex("line", index, len(s.lines)); err != nil {
		return err
	}
	if price < 0 {
		return fmt.Errorf("unit price %s: %w", price, ErrInvalidAmount)
	}
	prev := s.lines[index].UnitPrice
	s.lines[index].UnitPrice = price
	if err := checkTotals(s.lines, s.tenders); err != nil {
		s.lines[index].UnitPrice = prev
		return err
	}
	return nil
}

// RemoveLine deletes the line at index.
func (s *Session) RemoveLine(index int) error {
	if err := checkIndex("line", index, len(s.lines)); err != nil {
		return err
	}
	s.lines = deleteAt(s.lines, index)
	return nil
}

// AddTender appends a payment. Amounts above the remaining balance are allowed
// and surface as change due.
func (s *Session) AddTender(method Method, amount pricing.Money) error {
	if !method.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMethod, string(method))
	}
	if amount < 0 {
		return fmt.Errorf("tender %s %s: %w", method, amount, ErrInvalidAmount)
	}
	tenders := append(s.Tenders(), Tender{Method: method, Amount: amount})
	if err := checkTotals(s.lines, tenders); err != nil {
		return err
	}
	s.tenders = tenders
	return nil
}

// RemoveTender deletes the tender at index.
func (s *Session) RemoveTender(index int) error {
	if err := checkIndex("tender", index, len(s.tenders)); err != nil {
		return err
	}
	s.tenders = deleteAt(s.tenders, index)
	return nil
}

// SelectCustomer associates a customer with the session, replacing any previous one.
func (s *Session) SelectCustomer(c Customer) {
	if c.Insurance != nil {
		profile := *c.Insurance
		c.Insurance = &profile
	}
	s.customer = &c
}

// Customer returns the selected customer, if any.
func (s *Session) Customer() (Customer, bool) {
	if s.customer == nil {
		return Customer{}, false
	}
	c := *s.customer
	if c.Insurance != nil {
		profile := *c.Insurance
		c.Insurance = &profile
	}
	return c, true
}

// Clear empties the cart, the tenders and the customer association.
func (s *Session) Clear() {
	s.lines = nil
	s.tenders = nil
	s.customer = nil
}

// Lines returns a copy of the cart lines in order.
func (s *Session) Lines() []Line {
	out := make([]Line, len(s.lines))
	for i, l := range s.lines {
		out[i] = l.clone()
	}
	return out
}

// Tenders returns a copy of the tenders in order.
func (s *Session) Tenders() []Tender {
	return append([]Tender(nil), s.tenders...)
}

// Empty reports whether the session has no lines and no tenders.
func (s *Session) Empty() bool {
	return len(s.lines) == 0 && len(s.tenders) == 0
}

func (l Line) clone() Line {
	if l.Copay != nil {
		copay := *l.Copay
		l.Copay = &copay
	}
	return l
}

// checkTotals verifies that every line total, the subtotal and the tendered
// total stay within pricing.MaxAmount, so settlement arithmetic cannot overflow.
func checkTotals(lines []Line, tenders []Tender) error {
	var subtotal, tendered pricing.Money
	for i, l := range lines {
		total, err := l.UnitPrice.Times(l.Quantity)
		if err == nil {
			subtotal, err = subtotal.Plus(total)
		}
		if err != nil {
			return fmt.Errorf("line %d: %w: %w", i, ErrInvalidAmount, err)
		}
	}
	for i, t := range tenders {
		var err error
		if tendered, err = tendered.Plus(t.Amount); err != nil {
			return fmt.Errorf("tender %d: %w: %w", i, ErrInvalidAmount, err)
		}
	}
	return nil
}

func checkIndex(what string, index, n int) error {
	if index < 0 || index >= n {
		return fmt.Errorf("%s %d of %d: %w", what, index, n, ErrOutOfRange)
	}
	return nil
}

func deleteAt[T any](items []T, index int) []T {
	out := append(items[:index:index], items[index+1:]...)
	if len(out) == 0 {
		return nil
	}
	return out
}
