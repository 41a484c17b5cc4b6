package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// MemoryBudget is an in-process fixed-window counter.
type MemoryBudget struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	now         func() time.Time
	windowStart time.Time
	count       int
}

// NewMemoryBudget creates a counter whose first window starts now.
func NewMemoryBudget(limit int, window time.Duration, now func() time.Time) *MemoryBudget {
	if now == nil {
		now = time.Now
	}
	return &MemoryBudget{limit: limit, window: window, now: now, windowStart: now()}
}

func (b *MemoryBudget) Reserve(_ context.Context) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.windowStart)
	if elapsed >= b.window {
		b.windowStart = now
		b.count = 0
		elapsed = 0
	}
	if b.count >= b.limit {
		return b.window - elapsed, nil
	}
	b.count++
	return 0, nil
}

func (b *MemoryBudget) Restart(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.windowStart = b.now()
	b.count = 0
	return nil
}

// Count returns the requests recorded in the current window.
func (b *MemoryBudget) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// RedisBudget shares one fixed window across processes. The window is a
// counter key that expires when the window ends.
type RedisBudget struct {
	rdb    redis.Cmdable
	key    string
	limit  int
	window time.Duration
}

// NewRedisBudget creates a shared counter stored under key.
func NewRedisBudget(rdb redis.Cmdable, key string, limit int, window time.Duration) (*RedisBudget, error) {
	if rdb == nil {
		return nil, eris.New("ratelimit: redis client is required")
	}
	if key == "" {
		return nil, eris.New("ratelimit: redis key is required")
	}
	if limit <= 0 || window <= 0 {
		return nil, eris.Errorf("ratelimit: invalid budget %d per %s", limit, window)
	}
	return &RedisBudget{rdb: rdb, key: key, limit: limit, window: window}, nil
}

// reserveScript admits one request atomically. Rejected requests are not
// counted. It returns 0 when admitted, else the window's remaining ms.
var reserveScript = redis.NewScript(`
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local used = tonumber(redis.call('GET', KEYS[1]) or '0')
	if used < limit then
		if redis.call('INCR', KEYS[1]) == 1 then
			redis.call('PEXPIRE', KEYS[1], window)
		end
		return 0
	end

	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], window)
		ttl = window
	end
	if ttl == 0 then
		ttl = 1
	end
	return ttl
`)

func (b *RedisBudget) Reserve(ctx context.Context) (time.Duration, error) {
	ms, err := reserveScript.Run(ctx, b.rdb, []string{b.key}, b.limit, b.window.Milliseconds()).Int64()
	if err != nil {
		return 0, eris.Wrap(err, "ratelimit: redis reserve")
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Restart is a no-op: the window key expires on its own, and other
// processes may still be counting against it.
func (b *RedisBudget) Restart(_ context.Context) error {
	return nil
}
