package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotAcquired is returned when the lock stays held by someone else for longer than MaxWait.
	ErrNotAcquired = errors.New("lock: not acquired")
	// ErrLost is returned when the lease could not be renewed while fn ran. The
	// context passed to fn is canceled at that point.
	ErrLost = errors.New("lock: lease lost")
)

var releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)

var renewScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)

// Locker hands out Redis SetNX leases. Checkout uses it so a session is only
// mutated by one request at a time, whichever API instance serves it.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
	// MaxWait bounds how long WithLock polls for a held lock. Zero waits until ctx ends.
	MaxWait time.Duration
}

// WithLock runs fn while holding key. The lease expires after ttl if the holder
// dies. While fn runs the lease is renewed every ttl/3; if it cannot be renewed
// within ttl, fn's context is canceled and WithLock reports ErrLost. The lease is
// released as soon as fn returns, only if still owned.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	token := uuid.NewString()

	waitCtx := ctx
	if l.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.MaxWait)
		defer cancel()
	}

	for {
		ok, err := l.R.SetNX(waitCtx, key, token, ttl).Result()
		if err != nil {
			if ctx.Err() == nil && waitCtx.Err() != nil {
				return fmt.Errorf("%w: %s", ErrNotAcquired, key)
			}
			return fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(retry)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s", ErrNotAcquired, key)
		case <-timer.C:
		}
	}

	defer func() {
		_ = releaseScript.Run(context.WithoutCancel(ctx), l.R, []string{key}, token).Err()
	}()

	fnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lost := make(chan struct{})
	done := make(chan struct{})
	go l.renew(fnCtx, key, token, ttl, lost, cancel, done)

	err := fn(fnCtx)
	cancel()
	<-done
	select {
	case <-lost:
		return errors.Join(fmt.Errorf("%w: %s", ErrLost, key), err)
	default:
		return err
	}
}

func (l Locker) renew(ctx context.Context, key, token string, ttl time.Duration, lost chan<- struct{}, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(max(ttl/3, time.Millisecond))
	defer ticker.Stop()
	lastOK := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		owned, err := renewScript.Run(ctx, l.R, []string{key}, token, ttl.Milliseconds()).Int()
		if ctx.Err() != nil {
			return
		}
		switch {
		case err == nil && owned == 1:
			lastOK = time.Now()
			continue
		case err != nil && time.Since(lastOK) < ttl:
			continue
		}
		close(lost)
		cancel()
		return
	}
}
