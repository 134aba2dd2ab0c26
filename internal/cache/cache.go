// Package cache keeps recently fetched tracker histories so repeated reports
// over the same items do not hit the tracker again.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"worktime/internal/domain"
	"worktime/internal/repo"
)

// HistoryCache stores status events per work item.
type HistoryCache interface {
	Get(ctx context.Context, key string) ([]domain.StatusEvent, bool, error)
	Set(ctx context.Context, key string, events []domain.StatusEvent) error
}

// Key identifies a work item history in the cache.
func Key(item domain.WorkItem) string {
	return item.WorkspaceID + "/" + item.WorkItemID
}

// Options selects and configures a cache driver.
type Options struct {
	Driver    string
	TTL       time.Duration
	RedisAddr string
	RedisDB   int
	Repo      repo.Repo
	Log       *logrus.Logger
}

// New builds the cache for the configured driver. A zero TTL disables caching.
func New(opts Options) (HistoryCache, error) {
	if opts.TTL <= 0 {
		return Noop{}, nil
	}
	switch opts.Driver {
	case "", "none":
		return Noop{}, nil
	case "sqlite":
		if opts.Repo.DB == nil {
			return nil, errors.New("sqlite cache needs a database")
		}
		return &SQLite{Repo: opts.Repo, TTL: opts.TTL}, nil
	case "redis":
		c, err := NewRedis(opts.RedisAddr, opts.RedisDB, opts.TTL, opts.Log)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", opts.Driver)
	}
}

type Noop struct{}

func (Noop) Get(context.Context, string) ([]domain.StatusEvent, bool, error) { return nil, false, nil }
func (Noop) Set(context.Context, string, []domain.StatusEvent) error          { return nil }

// SQLite keeps histories in the local state database.
type SQLite struct {
	Repo repo.Repo
	TTL  time.Duration
	Now  func() time.Time
}

func (c *SQLite) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *SQLite) Get(ctx context.Context, key string) ([]domain.StatusEvent, bool, error) {
	evs, err := c.Repo.GetCachedHistory(ctx, key, c.now().Add(-c.TTL))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return evs, true, nil
}

func (c *SQLite) Set(ctx context.Context, key string, events []domain.StatusEvent) error {
	return c.Repo.PutCachedHistory(ctx, key, events, c.now())
}

// Redis shares histories between server instances.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis connects to addr, which is either host:port or a redis:// URL.
func NewRedis(addr string, db int, ttl time.Duration, log *logrus.Logger) (*Redis, error) {
	var opt *redis.Options
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		opt = parsed
	} else {
		opt = &redis.Options{Addr: addr, DB: db}
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	if log != nil {
		log.WithFields(logrus.Fields{"addr": opt.Addr, "ttl": ttl}).Info("redis history cache ready")
	}
	return NewRedisWithClient(client, ttl), nil
}

func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl, prefix: "worktime:history:"}
}

func (c *Redis) Get(ctx context.Context, key string) ([]domain.StatusEvent, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var evs []domain.StatusEvent
	if err := json.Unmarshal(data, &evs); err != nil {
		return nil, false, fmt.Errorf("decode cached history %s: %w", key, err)
	}
	return evs, true, nil
}

func (c *Redis) Set(ctx context.Context, key string, events []domain.StatusEvent) error {
	if events == nil {
		events = []domain.StatusEvent{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *Redis) Close() error {
	return c.client.Close()
}
