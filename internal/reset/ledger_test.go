package reset

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLedger(t *testing.T) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewRedisLedger(rdb, ""), mr
}

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLedger()
	l.now = func() time.Time { return now }

	require.NoError(t, l.Consume(ctx, "jti-1", now.Add(10*time.Minute)))
	require.ErrorIs(t, l.Consume(ctx, "jti-1", now.Add(10*time.Minute)), ErrResetTokenUsed)
	require.NoError(t, l.Consume(ctx, "jti-2", now.Add(10*time.Minute)))

	now = now.Add(11 * time.Minute)
	require.NoError(t, l.Consume(ctx, "jti-3", now.Add(time.Minute)))
	assert.NotContains(t, l.used, "jti-1", "expired entries are purged")
}

func TestRedisLedger(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLedger(t)

	require.NoError(t, l.Consume(ctx, "jti-1", time.Now().Add(10*time.Minute)))
	require.ErrorIs(t, l.Consume(ctx, "jti-1", time.Now().Add(10*time.Minute)), ErrResetTokenUsed)

	assert.True(t, mr.Exists("cookieauth:reset:jti-1"))
	ttl := mr.TTL("cookieauth:reset:jti-1")
	assert.Greater(t, ttl, 9*time.Minute)
	assert.LessOrEqual(t, ttl, 10*time.Minute)

	mr.FastForward(11 * time.Minute)
	assert.False(t, mr.Exists("cookieauth:reset:jti-1"))
}

func TestRedisLedger_PastExpiryStillRecorded(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLedger(t)

	require.NoError(t, l.Consume(ctx, "jti-1", time.Now().Add(-time.Minute)))
	assert.True(t, mr.Exists("cookieauth:reset:jti-1"))
}

func TestRedisLedger_Unavailable(t *testing.T) {
	l, mr := newRedisLedger(t)
	mr.Close()

	err := l.Consume(context.Background(), "jti-1", time.Now().Add(time.Minute))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrResetTokenUsed)
}

func TestLedger_Release(t *testing.T) {
	ledgers := map[string]func(t *testing.T) Ledger{
		"memory": func(*testing.T) Ledger { return NewMemoryLedger() },
		"redis": func(t *testing.T) Ledger {
			l, _ := newRedisLedger(t)
			return l
		},
	}
	for name, newLedger := range ledgers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := newLedger(t)
			until := time.Now().Add(10 * time.Minute)

			require.NoError(t, l.Consume(ctx, "jti-1", until))
			require.NoError(t, l.Release(ctx, "jti-1"))
			require.NoError(t, l.Consume(ctx, "jti-1", until))
			require.ErrorIs(t, l.Consume(ctx, "jti-1", until), ErrResetTokenUsed)

			require.NoError(t, l.Release(ctx, "never-consumed"))
		})
	}
}
