// Package draftcache stores in-progress drafts in redis with an expiry, in
// place of the sqlite drafts table. A serve process keeps open forms in
// memory, so one draft key must only be edited through one process at a time.
package draftcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pavelanni/mea/internal/wizard"
)

// DefaultTTL bounds how long an untouched draft is kept.
const DefaultTTL = 30 * 24 * time.Hour

// Options configures a Cache.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every draft key.
	Prefix string
	// TTL is refreshed on every save; zero means DefaultTTL.
	TTL time.Duration
}

// Cache is a redis-backed wizard.DraftStore.
type Cache struct {
	rdb    goredis.UniversalClient
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

// New connects to redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Cache, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, errors.New("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(rdb, opts), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb goredis.UniversalClient, opts Options) *Cache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		rdb:    rdb,
		prefix: opts.Prefix,
		ttl:    ttl,
		log:    slog.Default().With("component", "draftcache"),
	}
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

// SaveDraft stores blob under key and refreshes its expiry.
func (c *Cache) SaveDraft(ctx context.Context, key string, blob []byte) error {
	if err := c.rdb.Set(ctx, c.key(key), blob, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// LoadDraft returns the draft under key, or wizard.ErrDraftNotFound.
func (c *Cache) LoadDraft(ctx context.Context, key string) ([]byte, error) {
	blob, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, wizard.ErrDraftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return blob, nil
}

// DeleteDraft removes the draft under key.
func (c *Cache) DeleteDraft(ctx context.Context, key string) error {
	n, err := c.rdb.Del(ctx, c.key(key)).Result()
	if err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	c.log.Debug("deleted draft", "key", key, "removed", n)
	return nil
}

// Ping reports whether redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
