// Package gateway hands finalized transactions to the system of record and
// returns the receipt it issues.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/apotek-pos/internal/pos"
	"github.com/noah-isme/apotek-pos/internal/pricing"
)

// ErrRejected is returned when the system of record refuses a transaction.
var ErrRejected = errors.New("gateway: transaction rejected")

// Record is everything the system of record needs about a finalized sale.
type Record struct {
	// ID is unique per finalize attempt and doubles as the upstream idempotency key.
	ID          uuid.UUID        `json:"id"`
	Tenant      string           `json:"tenant,omitempty"`
	SessionID   string           `json:"sessionId"`
	Currency    string           `json:"currency,omitempty"`
	TaxRate     pricing.Rate     `json:"taxRate"`
	Lines       []pos.PricedLine `json:"lines"`
	Tenders     []pos.Tender     `json:"tenders"`
	Customer    *pos.Customer    `json:"customer,omitempty"`
	Settlement  pos.Settlement   `json:"settlement"`
	FinalizedAt time.Time        `json:"finalizedAt"`
}

// Receipt is the opaque acknowledgement returned by the system of record.
type Receipt struct {
	Number     string    `json:"receiptNumber"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Recorder persists finalized transactions.
type Recorder interface {
	Record(ctx context.Context, rec Record) (Receipt, error)
}
