package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/noah-isme/apotek-pos/internal/pos"
)

var (
	// ErrNotFound is returned when no catalog entry or prescription exists for the id.
	ErrNotFound = errors.New("catalog: item not found")
	// ErrInvalidItem is returned when an upstream entry cannot be sold as is.
	ErrInvalidItem = errors.New("catalog: invalid item")
)

// Source resolves sellable items. Prescriptions and retail products live in
// separate namespaces; otc and product lines share the product namespace.
type Source interface {
	Lookup(ctx context.Context, kind pos.Kind, id string) (pos.Item, error)
}

func namespace(kind pos.Kind) (string, error) {
	switch kind {
	case pos.KindPrescription:
		return "prescriptions", nil
	case pos.KindOTC, pos.KindProduct:
		return "products", nil
	default:
		return "", fmt.Errorf("%w: %q", pos.ErrUnknownKind, string(kind))
	}
}

func validateItem(item pos.Item) error {
	if strings.TrimSpace(item.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidItem)
	}
	if item.Price < 0 {
		return fmt.Errorf("%w: %s has negative price %s", ErrInvalidItem, item.ID, item.Price)
	}
	if item.Copay != nil && *item.Copay < 0 {
		return fmt.Errorf("%w: %s has negative copay %s", ErrInvalidItem, item.ID, *item.Copay)
	}
	return nil
}

// StaticSource serves items from memory. It is safe for concurrent use.
type StaticSource struct {
	mu    sync.RWMutex
	items map[string]map[string]pos.Item
}

// StaticFile is the on-disk layout read by LoadFile.
type StaticFile struct {
	Prescriptions []pos.Item `json:"prescriptions"`
	Products      []pos.Item `json:"products"`
}

// NewStaticSource returns an empty source.
func NewStaticSource() *StaticSource {
	return &StaticSource{items: map[string]map[string]pos.Item{
		"prescriptions": {},
		"products":      {},
	}}
}

// LoadFile builds a StaticSource from a JSON file shaped like StaticFile.
func LoadFile(path string) (*StaticSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var file StaticFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("catalog: decode %s: %w", path, err)
	}
	src := NewStaticSource()
	for _, item := range file.Prescriptions {
		if err := src.Put(pos.KindPrescription, item); err != nil {
			return nil, err
		}
	}
	for _, item := range file.Products {
		if err := src.Put(pos.KindProduct, item); err != nil {
			return nil, err
		}
	}
	return src, nil
}

// Put adds or replaces an item.
func (s *StaticSource) Put(kind pos.Kind, item pos.Item) error {
	ns, err := namespace(kind)
	if err != nil {
		return err
	}
	if err := validateItem(item); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[ns][item.ID] = item
	return nil
}

// Lookup implements Source.
func (s *StaticSource) Lookup(_ context.Context, kind pos.Kind, id string) (pos.Item, error) {
	ns, err := namespace(kind)
	if err != nil {
		return pos.Item{}, err
	}
	s.mu.RLock()
	item, ok := s.items[ns][id]
	s.mu.RUnlock()
	if !ok {
		return pos.Item{}, fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	if item.Copay != nil {
		copay := *item.Copay
		item.Copay = &copay
	}
	return item, nil
}
