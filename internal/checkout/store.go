package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/apotek-pos/internal/cache"
	"github.com/noah-isme/apotek-pos/internal/pos"
)

// Snapshot is a parked session as kept between requests.
type Snapshot struct {
	ID        string    `json:"id"`
	Tenant    string    `json:"tenant,omitempty"`
	State     pos.State `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// RecordID is the idempotency key of a finalize attempt the gateway has
	// not confirmed yet. Any cart mutation resets it.
	RecordID uuid.UUID `json:"recordId"`
}

// Store parks sessions between requests.
type Store interface {
	Load(ctx context.Context, id string) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// RedisStore keeps snapshots as JSON under tenant-scoped keys.
type RedisStore struct {
	json *cache.JSON
}

// NewRedisStore returns a store on client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{json: cache.NewJSON(client, 0)}
}

// Load returns ErrSessionNotFound when the key is missing or has expired.
func (s *RedisStore) Load(ctx context.Context, id string) (Snapshot, error) {
	var snap Snapshot
	ok, err := s.json.Get(ctx, cache.KeySession(ctx, id), &snap)
	if err != nil {
		return Snapshot{}, err
	}
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}
	return snap, nil
}

// Save writes snap and resets its expiry to ttl.
func (s *RedisStore) Save(ctx context.Context, snap Snapshot, ttl time.Duration) error {
	return s.json.SetTTL(ctx, cache.KeySession(ctx, snap.ID), snap, ttl)
}

// Delete removes the session.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.json.Delete(ctx, cache.KeySession(ctx, id))
}
