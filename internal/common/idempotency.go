package common

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	// IdempotencyHeader carries the client supplied key.
	IdempotencyHeader = "Idempotency-Key"
	// ReplayHeader marks responses served from a stored result.
	ReplayHeader = "Idempotent-Replayed"

	idemPending = "pending"
)

// Idem provides an Idempotency-Key middleware backed by Redis. The first
// request with a key runs the handler and its response is stored; later
// requests with the same key get the stored response back. A request that
// arrives while the first one is still running is rejected with 409.
// Responses that report a transient condition are not stored and the key
// is released so the client can retry with it.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
	// Scope namespaces keys, for example by tenant. Optional.
	Scope func(*http.Request) string
	// Transient reports whether a response must not be stored. Defaults to
	// TransientResponse.
	Transient func(status int, body []byte) bool
}

// TransientCodes lists error codes that describe a temporary conflict
// rather than the outcome of the request.
var TransientCodes = map[string]bool{
	"SESSION_BUSY":      true,
	"IDEMPOTENT_REPLAY": true,
}

// TransientResponse treats 5xx, 429 and 409 responses carrying one of
// TransientCodes as retryable.
func TransientResponse(status int, body []byte) bool {
	switch {
	case status >= http.StatusInternalServerError, status == http.StatusTooManyRequests:
		return true
	case status == http.StatusConflict:
		var env errorEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return false
		}
		return TransientCodes[env.Error.Code]
	}
	return false
}

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body"`
}

func (i Idem) redisKey(r *http.Request, header string) string {
	scope := ""
	if i.Scope != nil {
		scope = i.Scope(r)
	}
	sum := sha256.Sum256([]byte(scope + "|" + r.URL.Path + "|" + header))
	return "idem:" + hex.EncodeToString(sum[:])
}

// Middleware enforces idempotency semantics for write endpoints.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := i.redisKey(r, header)
		ttl := i.TTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}

		ok, err := i.R.SetNX(ctx, key, idemPending, ttl).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", nil)
			return
		}
		if !ok {
			i.replay(w, r, key)
			return
		}

		rec := &bufferedWriter{header: http.Header{}, status: http.StatusOK}
		defer func() {
			if p := recover(); p != nil {
				_ = i.R.Del(ctx, key).Err()
				panic(p)
			}
		}()
		next.ServeHTTP(rec, r)

		transient := i.Transient
		if transient == nil {
			transient = TransientResponse
		}
		if transient(rec.status, rec.body.Bytes()) {
			_ = i.R.Del(ctx, key).Err()
		} else if raw, err := json.Marshal(storedResponse{
			Status:      rec.status,
			ContentType: rec.header.Get("Content-Type"),
			Body:        rec.body.Bytes(),
		}); err == nil {
			_ = i.R.Set(ctx, key, raw, ttl).Err()
		}
		rec.flush(w)
	})
}

func (i Idem) replay(w http.ResponseWriter, r *http.Request, key string) {
	raw, err := i.R.Get(r.Context(), key).Bytes()
	if err != nil && err != redis.Nil {
		JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", nil)
		return
	}
	if err == redis.Nil || string(raw) == idemPending {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "request with this idempotency key is in progress", nil)
		return
	}
	var stored storedResponse
	if err := json.Unmarshal(raw, &stored); err != nil {
		JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", nil)
		return
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(ReplayHeader, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
	wrote  bool
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.wrote {
		return
	}
	b.status = status
	b.wrote = true
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.wrote = true
	return b.body.Write(p)
}

func (b *bufferedWriter) flush(w http.ResponseWriter) {
	for k, v := range b.header {
		w.Header()[k] = v
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}
