package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("calendar lock not acquired")
)

// Locker serializes check-then-insert on one practitioner calendar.
type Locker interface {
	WithCalendarLock(ctx context.Context, calendarID string, fn func(ctx context.Context) error) error
}

type redisCalendarLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisCalendarLocker creates a locker that uses a per calendar Redis key.
// It retries acquisition for up to wait before giving up with
// ErrLockNotAcquired.
func NewRedisCalendarLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisCalendarLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func lockKey(calendarID string) string {
	return fmt.Sprintf("lock:calendar:%s", calendarID)
}

func (l *redisCalendarLocker) WithCalendarLock(ctx context.Context, calendarID string, fn func(ctx context.Context) error) error {
	key := lockKey(calendarID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisCalendarLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	backoff := 10 * time.Millisecond
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire calendar lock: %w", err)
		}
		if ok {
			return nil
		}
		if time.Now().Add(backoff).After(deadline) {
			return ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisCalendarLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release calendar lock: %w", err)
	}
	return nil
}

// processLocker keeps one mutex per calendar in memory. It is enough when a
// single process owns the calendar (CLI, tests, single-node deployments).
type processLocker struct {
	mu sync.Map // map[string]*sync.Mutex
}

func NewProcessLocker() Locker {
	return &processLocker{}
}

func (l *processLocker) WithCalendarLock(ctx context.Context, calendarID string, fn func(ctx context.Context) error) error {
	v, _ := l.mu.LoadOrStore(calendarID, &sync.Mutex{})
	m := v.(*sync.Mutex)

	m.Lock()
	defer m.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
