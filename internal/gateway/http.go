package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/apotek-pos/internal/resilience"
)

const maxReceiptBody = 1 << 20

// HTTPRecorder posts records to {BaseURL}/transactions.
type HTTPRecorder struct {
	BaseURL string
	APIKey  string
	Client  *resilience.Client
	Now     func() time.Time
}

type receiptBody struct {
	ReceiptNumber string `json:"receiptNumber"`
	Data          *struct {
		ReceiptNumber string `json:"receiptNumber"`
	} `json:"data"`
}

// Record implements Recorder. Any non-2xx answer is a failure; 4xx answers
// wrap ErrRejected.
func (g *HTTPRecorder) Record(ctx context.Context, rec Record) (Receipt, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return Receipt{}, fmt.Errorf("gateway: encode record: %w", err)
	}
	endpoint := strings.TrimRight(g.BaseURL, "/") + "/transactions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", rec.ID.String())
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	resp, err := g.Client.Do(ctx, req)
	if err != nil {
		return Receipt{}, fmt.Errorf("gateway: record %s: %w", rec.SessionID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReceiptBody))
	if err != nil {
		return Receipt{}, fmt.Errorf("gateway: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &resilience.StatusError{Code: resp.StatusCode}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return Receipt{}, fmt.Errorf("%w: %w", ErrRejected, statusErr)
		}
		return Receipt{}, fmt.Errorf("gateway: record %s: %w", rec.SessionID, statusErr)
	}

	var decoded receiptBody
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Receipt{}, fmt.Errorf("gateway: decode receipt: %w", err)
	}
	number := decoded.ReceiptNumber
	if number == "" && decoded.Data != nil {
		number = decoded.Data.ReceiptNumber
	}
	if strings.TrimSpace(number) == "" {
		return Receipt{}, fmt.Errorf("gateway: response carries no receipt number")
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	return Receipt{Number: number, RecordedAt: now().UTC()}, nil
}
