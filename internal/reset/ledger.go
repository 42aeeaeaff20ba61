package reset

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// Ledger remembers consumed reset token ids until the tokens expire.
type Ledger interface {
	// Consume marks id as used until the given time. It returns
	// ErrResetTokenUsed if id was already consumed.
	Consume(ctx context.Context, id string, until time.Time) error
	// Release forgets a consumed id so the token can be used again.
	Release(ctx context.Context, id string) error
}

// MemoryLedger is a process-local Ledger.
type MemoryLedger struct {
	mu   sync.Mutex
	used map[string]time.Time
	now  func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{used: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryLedger) Consume(_ context.Context, id string, until time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, exp := range l.used {
		if !now.Before(exp) {
			delete(l.used, k)
		}
	}
	if _, ok := l.used[id]; ok {
		return ErrResetTokenUsed
	}
	l.used[id] = until
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.used, id)
	return nil
}

// RedisLedger shares consumed ids across processes through Redis.
type RedisLedger struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisLedger(client redis.UniversalClient, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "cookieauth:reset:"
	}
	return &RedisLedger{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisLedger) Consume(ctx context.Context, id string, until time.Time) error {
	ttl := until.Sub(l.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := l.client.SetNX(ctx, l.prefix+id, 1, ttl).Result()
	if err != nil {
		return oops.Code("RESET_LEDGER").With("operation", "consume").Wrap(err)
	}
	if !ok {
		return ErrResetTokenUsed
	}
	return nil
}

func (l *RedisLedger) Release(ctx context.Context, id string) error {
	if err := l.client.Del(ctx, l.prefix+id).Err(); err != nil {
		return oops.Code("RESET_LEDGER").With("operation", "release").Wrap(err)
	}
	return nil
}
