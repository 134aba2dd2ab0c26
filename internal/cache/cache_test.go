package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worktime/internal/db"
	"worktime/internal/domain"
	"worktime/internal/migrate"
	"worktime/internal/repo"
)

func TestNewSelectsDriver(t *testing.T) {
	c, err := New(Options{Driver: "none", TTL: time.Minute})
	require.NoError(t, err)
	assert.IsType(t, Noop{}, c)

	c, err = New(Options{Driver: "sqlite", TTL: 0})
	require.NoError(t, err)
	assert.IsType(t, Noop{}, c)

	_, err = New(Options{Driver: "sqlite", TTL: time.Minute})
	assert.Error(t, err)

	_, err = New(Options{Driver: "memcached", TTL: time.Minute})
	assert.Error(t, err)
}

func TestNoopNeverHits(t *testing.T) {
	ctx := context.Background()
	var c Noop
	require.NoError(t, c.Set(ctx, "k", []domain.StatusEvent{{Status: "x"}}))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteCacheTTL(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	now := time.Date(2024, 3, 8, 10, 0, 0, 0, time.UTC)
	hc, err := New(Options{Driver: "sqlite", TTL: 10 * time.Minute, Repo: repo.Repo{DB: conn}})
	require.NoError(t, err)
	c := hc.(*SQLite)
	c.Now = func() time.Time { return now }

	item := domain.WorkItem{Key: "A-1", WorkspaceID: "ws", WorkItemID: "1"}
	_, ok, err := c.Get(ctx, Key(item))
	require.NoError(t, err)
	assert.False(t, ok)

	evs := []domain.StatusEvent{{ItemKey: "A-1", Timestamp: now.Add(-time.Hour), Status: "in progress"}}
	require.NoError(t, c.Set(ctx, Key(item), evs))

	now = now.Add(5 * time.Minute)
	got, ok, err := c.Get(ctx, Key(item))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "in progress", got[0].Status)

	now = now.Add(10 * time.Minute)
	_, ok, err = c.Get(ctx, Key(item))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c := NewRedisWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 10*time.Minute)
	t.Cleanup(func() { c.Close() })

	_, ok, err := c.Get(ctx, "ws/1")
	require.NoError(t, err)
	assert.False(t, ok)

	ts := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	evs := []domain.StatusEvent{{ItemKey: "A-1", Timestamp: ts, Status: "in progress"}}
	require.NoError(t, c.Set(ctx, "ws/1", evs))
	assert.True(t, mr.Exists("worktime:history:ws/1"))
	assert.Equal(t, 10*time.Minute, mr.TTL("worktime:history:ws/1"))

	got, ok, err := c.Get(ctx, "ws/1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "in progress", got[0].Status)
	assert.True(t, got[0].Timestamp.Equal(ts))

	require.NoError(t, c.Set(ctx, "ws/2", nil))
	got, ok, err = c.Get(ctx, "ws/2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)

	mr.FastForward(11 * time.Minute)
	_, ok, err = c.Get(ctx, "ws/1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheCorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewRedisWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, mr.Set("worktime:history:bad", "{"))
	_, _, err := c.Get(context.Background(), "bad")
	assert.Error(t, err)
}

func TestNewRedisDriver(t *testing.T) {
	mr := miniredis.RunT(t)
	hc, err := New(Options{Driver: "redis", TTL: time.Minute, RedisAddr: mr.Addr()})
	require.NoError(t, err)
	c := hc.(*Redis)
	t.Cleanup(func() { c.Close() })

	hc, err = New(Options{Driver: "redis", TTL: time.Minute, RedisAddr: "redis://" + mr.Addr() + "/0"})
	require.NoError(t, err)
	hc.(*Redis).Close()

	_, err = New(Options{Driver: "redis", TTL: time.Minute, RedisAddr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "ws-1/42", Key(domain.WorkItem{WorkspaceID: "ws-1", WorkItemID: "42"}))
}
