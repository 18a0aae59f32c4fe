package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/noah-isme/apotek-pos/internal/pos"
	"github.com/noah-isme/apotek-pos/internal/resilience"
)

const maxItemBody = 1 << 20

// HTTPSource looks items up from the pharmacy catalog service:
// GET {base}/prescriptions/{id} and GET {base}/products/{id}.
type HTTPSource struct {
	BaseURL string
	Client  *resilience.Client
}

// Lookup implements Source.
func (s *HTTPSource) Lookup(ctx context.Context, kind pos.Kind, id string) (pos.Item, error) {
	ns, err := namespace(kind)
	if err != nil {
		return pos.Item{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return pos.Item{}, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	endpoint := strings.TrimRight(s.BaseURL, "/") + "/" + ns + "/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return pos.Item{}, fmt.Errorf("catalog: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(ctx, req)
	if err != nil {
		return pos.Item{}, fmt.Errorf("catalog: lookup %s %s: %w", kind, id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return pos.Item{}, fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return pos.Item{}, fmt.Errorf("catalog: lookup %s %s: %w", kind, id, &resilience.StatusError{Code: resp.StatusCode})
	}

	var item pos.Item
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxItemBody)).Decode(&item); err != nil {
		return pos.Item{}, fmt.Errorf("catalog: decode %s %s: %w", kind, id, err)
	}
	if item.ID == "" {
		item.ID = id
	}
	if err := validateItem(item); err != nil {
		return pos.Item{}, err
	}
	return item, nil
}
