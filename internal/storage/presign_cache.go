package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"juris-rag/internal/config"
)

const presignKeyPrefix = "juris:presign:"

type cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type redisCache struct {
	rdb *goredis.Client
}

func (c redisCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c redisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// NewRedisClient connects to the presign cache and checks it with a ping.
func NewRedisClient(ctx context.Context, cfg config.StorageConfig) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// CachedPresigner reuses signed URLs across requests. A cached URL is kept for
// half its ttl so callers always get at least ttl/2 of validity. Cache errors
// fall back to signing directly.
type CachedPresigner struct {
	next  Presigner
	cache cache
}

func NewCachedPresigner(next Presigner, rdb *goredis.Client) *CachedPresigner {
	return &CachedPresigner{next: next, cache: redisCache{rdb: rdb}}
}

func (p *CachedPresigner) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	cacheKey := fmt.Sprintf("%s%s:%d", presignKeyPrefix, key, int64(ttl.Seconds()))
	if url, ok, err := p.cache.Get(ctx, cacheKey); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Presign cache read failed")
	} else if ok {
		return url, nil
	}

	url, err := p.next.Presign(ctx, key, ttl)
	if err != nil {
		return "", err
	}
	if keep := ttl / 2; keep > 0 {
		if err := p.cache.Set(ctx, cacheKey, url, keep); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Presign cache write failed")
		}
	}
	return url, nil
}
