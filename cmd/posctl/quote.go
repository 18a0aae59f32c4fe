package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/noah-isme/apotek-pos/internal/pos"
	"github.com/noah-isme/apotek-pos/internal/pricing"
)

type cartFile struct {
	TaxRate string     `json:"taxRate"`
	Lines   []cartLine `json:"lines"`
	Tenders []struct {
		Method string        `json:"method"`
		Amount pricing.Money `json:"amount"`
	} `json:"tenders"`
}

type cartLine struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Kind             string         `json:"kind"`
	Price            pricing.Money  `json:"price"`
	Quantity         *int           `json:"quantity"`
	InsuranceCovered bool           `json:"insuranceCovered"`
	Copay            *pricing.Money `json:"copay"`
}

type quoteOutput struct {
	TaxRate    pricing.Rate     `json:"taxRate"`
	Lines      []pos.PricedLine `json:"lines"`
	Settlement pos.Settlement   `json:"settlement"`
	CanSettle  bool             `json:"canSettle"`
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "posctl",
		Short:         "Pharmacy point of sale tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(quoteCmd())
	return root
}

func quoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Compute the settlement of a cart file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			rateFlag, _ := cmd.Flags().GetString("tax-rate")

			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read cart: %w", err)
			}
			var cart cartFile
			if err := json.Unmarshal(raw, &cart); err != nil {
				return fmt.Errorf("decode cart: %w", err)
			}
			if rateFlag != "" {
				cart.TaxRate = rateFlag
			}
			out, err := quote(cart)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().String("file", "", "Path to the cart JSON file")
	cmd.Flags().String("tax-rate", "", "Tax rate overriding the file, e.g. 0.08")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// quote replays cart onto a fresh session. A line without a quantity counts
// once; a quantity of zero leaves the line out of the cart. Lines repeating
// an id and kind are merged.
func quote(cart cartFile) (quoteOutput, error) {
	rateText := cart.TaxRate
	if rateText == "" {
		rateText = "0"
	}
	rate, err := pricing.ParseRate(rateText)
	if err != nil {
		return quoteOutput{}, err
	}

	sess := pos.NewSession()
	for i, l := range cart.Lines {
		kind, err := pos.ParseKind(l.Kind)
		if err != nil {
			return quoteOutput{}, fmt.Errorf("line %d: %w", i, err)
		}
		if l.Price < 0 {
			return quoteOutput{}, fmt.Errorf("line %d: price %s: %w", i, l.Price, pos.ErrInvalidAmount)
		}
		quantity := 1
		if l.Quantity != nil {
			quantity = *l.Quantity
		}
		if quantity < 0 || quantity > pos.MaxQuantity {
			return quoteOutput{}, fmt.Errorf("line %d: quantity %d: %w", i, quantity, pos.ErrInvalidAmount)
		}
		if quantity == 0 {
			continue
		}
		line, err := sess.AddLine(pos.Item{
			ID:               l.ID,
			Name:             l.Name,
			Price:            l.Price,
			InsuranceCovered: l.InsuranceCovered,
			Copay:            l.Copay,
		}, kind)
		if err != nil {
			return quoteOutput{}, fmt.Errorf("line %d: %w", i, err)
		}
		if quantity > 1 {
			idx := lineIndex(sess, l.ID, kind)
			if err := sess.SetQuantity(idx, line.Quantity+quantity-1); err != nil {
				return quoteOutput{}, fmt.Errorf("line %d: %w", i, err)
			}
		}
	}
	for i, t := range cart.Tenders {
		method, err := pos.ParseMethod(t.Method)
		if err != nil {
			return quoteOutput{}, fmt.Errorf("tender %d: %w", i, err)
		}
		if err := sess.AddTender(method, t.Amount); err != nil {
			return quoteOutput{}, fmt.Errorf("tender %d: %w", i, err)
		}
	}

	lines := sess.Lines()
	priced := make([]pos.PricedLine, len(lines))
	for i, l := range lines {
		priced[i] = l.Priced()
	}
	return quoteOutput{
		TaxRate:    rate,
		Lines:      priced,
		Settlement: sess.ComputeSettlement(rate),
		CanSettle:  sess.CanSettle(rate),
	}, nil
}

func lineIndex(sess *pos.Session, id string, kind pos.Kind) int {
	for i, l := range sess.Lines() {
		if l.ID == id && l.Kind == kind {
			return i
		}
	}
	return -1
}
