package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/park285/skyquest-client/internal/obslog"
	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

const (
	DefaultTTL   = 30 * time.Second
	DefaultLimit = 10
	fetchTimeout = 10 * time.Second
	keyPrefix    = "skyquest:lb:"
)

// Fetcher loads a leaderboard from the authority.
type Fetcher interface {
	GetLeaderboard(ctx context.Context, req dto.LeaderboardRequest) (*dto.LeaderboardResponse, error)
}

// Cache is a read-through leaderboard cache. Concurrent misses for the same
// key share one authority call. Without Redis every read goes to the fetcher.
type Cache struct {
	fetch  Fetcher
	rdb    *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

type Option func(*Cache)

func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

func NewCache(fetch Fetcher, rdb *redis.Client, opts ...Option) *Cache {
	c := &Cache{fetch: fetch, rdb: rdb, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = obslog.Or(c.logger).With(zap.String("component", "leaderboard"))
	return c
}

func keyFor(d dto.Difficulty, limit int) string {
	return keyPrefix + string(d) + ":" + strconv.Itoa(limit)
}

// Get returns the leaderboard for d. Redis failures degrade to a direct fetch.
func (c *Cache) Get(ctx context.Context, d dto.Difficulty, limit int) (*dto.LeaderboardResponse, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	key := keyFor(d, limit)
	if resp, ok := c.load(ctx, key); ok {
		return resp, nil
	}

	// The shared fetch outlives any single caller, so it runs on a detached
	// context. A caller that gives up stops waiting without failing the rest.
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		resp, err := c.fetch.GetLeaderboard(fctx, dto.LeaderboardRequest{Difficulty: d, Limit: limit})
		if err != nil {
			return nil, err
		}
		c.save(fctx, key, resp)
		return resp, nil
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	v, shared := res.Val, res.Shared
	if shared {
		c.logger.Debug("leaderboard_fetch_shared", zap.String("key", key))
	}
	resp := *v.(*dto.LeaderboardResponse)
	resp.Leaderboard = append([]dto.LeaderboardEntry(nil), resp.Leaderboard...)
	return &resp, nil
}

func (c *Cache) load(ctx context.Context, key string) (*dto.LeaderboardResponse, bool) {
	if c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("leaderboard_cache_read", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	var resp dto.LeaderboardResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logger.Warn("leaderboard_cache_corrupt", zap.String("key", key), zap.Error(err))
		_ = c.rdb.Del(ctx, key).Err()
		return nil, false
	}
	return &resp, true
}

func (c *Cache) save(ctx context.Context, key string, resp *dto.LeaderboardResponse) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("leaderboard_cache_write", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate drops every cached page for d and the all-difficulty pages,
// which include d's entries.
func (c *Cache) Invalidate(ctx context.Context, d dto.Difficulty) error {
	if c.rdb == nil {
		return nil
	}
	patterns := []string{keyPrefix + string(d) + ":*"}
	if d != "" {
		patterns = append(patterns, keyPrefix+":*")
	}
	var keys []string
	for _, pattern := range patterns {
		iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan leaderboard keys: %w", err)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// OpenRedis parses url and pings the server.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}
