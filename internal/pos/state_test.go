package pos_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/apotek-pos/internal/pos"
	"github.com/noah-isme/apotek-pos/internal/pricing"
)

func TestStateRoundTripPreservesSettlement(t *testing.T) {
	s := pharmacyCart(t)
	require.NoError(t, s.AddTender(pos.MethodInsurance, money("20.00")))
	s.SelectCustomer(pos.Customer{ID: "patient-7", Name: "R. Diaz"})

	raw, err := json.Marshal(s.State())
	require.NoError(t, err)
	require.NotContains(t, string(raw), "lineTotal")

	var st pos.State
	require.NoError(t, json.Unmarshal(raw, &st))
	restored, err := pos.Restore(st)
	require.NoError(t, err)

	require.Equal(t, s.ComputeSettlement(taxRate), restored.ComputeSettlement(taxRate))
	require.Equal(t, s.Lines(), restored.Lines())
	c, ok := restored.Customer()
	require.True(t, ok)
	require.Equal(t, "patient-7", c.ID)
}

func TestRestoreRejectsImpossibleState(t *testing.T) {
	_, err := pos.Restore(pos.State{Lines: []pos.Line{{ID: "a", Kind: pos.KindOTC, Quantity: 0}}})
	require.ErrorIs(t, err, pos.ErrInvalidAmount)

	_, err = pos.Restore(pos.State{Lines: []pos.Line{{ID: "a", Kind: "bundle", Quantity: 1}}})
	require.ErrorIs(t, err, pos.ErrUnknownKind)

	_, err = pos.Restore(pos.State{Tenders: []pos.Tender{{Method: "cash", Amount: -1}}})
	require.ErrorIs(t, err, pos.ErrInvalidAmount)

	_, err = pos.Restore(pos.State{Tenders: []pos.Tender{{Method: "barter", Amount: 1}}})
	require.ErrorIs(t, err, pos.ErrUnknownMethod)

	_, err = pos.Restore(pos.State{Lines: []pos.Line{{ID: "a", Kind: pos.KindOTC, Quantity: pos.MaxQuantity, UnitPrice: pricing.MaxAmount}}})
	require.ErrorIs(t, err, pos.ErrInvalidAmount)

	_, err = pos.Restore(pos.State{Tenders: []pos.Tender{{Method: "cash", Amount: pricing.MaxAmount}, {Method: "card", Amount: 1}}})
	require.ErrorIs(t, err, pos.ErrInvalidAmount)
}

func TestRestoreDropsCopayOnUninsuredLines(t *testing.T) {
	copay := money("3.00")
	s, err := pos.Restore(pos.State{Lines: []pos.Line{{ID: "a", Kind: pos.KindOTC, Quantity: 1, UnitPrice: money("4.00"), InsuranceCovered: true, Copay: &copay}}})
	require.NoError(t, err)
	lines := s.Lines()
	require.False(t, lines[0].InsuranceCovered)
	require.Nil(t, lines[0].Copay)
}
