package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRecorder keeps records in process. Used when no gateway URL is configured.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []Record
	byID    map[uuid.UUID]Receipt
}

// NewMemoryRecorder returns an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{byID: map[uuid.UUID]Receipt{}}
}

// Record implements Recorder. Replaying a record id returns the first receipt.
func (m *MemoryRecorder) Record(_ context.Context, rec Record) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byID == nil {
		m.byID = map[uuid.UUID]Receipt{}
	}
	if receipt, ok := m.byID[rec.ID]; ok {
		return receipt, nil
	}
	receipt := Receipt{
		Number:     "RCPT-" + strings.ToUpper(uuid.NewString()[:8]),
		RecordedAt: time.Now().UTC(),
	}
	m.byID[rec.ID] = receipt
	m.records = append(m.records, rec)
	return receipt, nil
}

// Records returns the stored records in arrival order.
func (m *MemoryRecorder) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}
