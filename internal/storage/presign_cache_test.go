package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"juris-rag/internal/config"
)

type countingPresigner struct {
	calls int
}

func (p *countingPresigner) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	p.calls++
	return fmt.Sprintf("https://storage.googleapis.com/juris/%s?X-Goog-Signature=sig%d", key, p.calls), nil
}

type mapCache struct {
	items map[string]string
	ttls  map[string]time.Duration
	err   error
}

func newMapCache() *mapCache {
	return &mapCache{items: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *mapCache) Get(_ context.Context, key string) (string, bool, error) {
	if c.err != nil {
		return "", false, c.err
	}
	v, ok := c.items[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if c.err != nil {
		return c.err
	}
	c.items[key] = value
	c.ttls[key] = ttl
	return nil
}

func TestCachedPresigner_ReusesURL(t *testing.T) {
	next := &countingPresigner{}
	c := newMapCache()
	p := &CachedPresigner{next: next, cache: c}
	ctx := context.Background()

	first, err := p.Presign(ctx, "fallos/a.pdf", 10*time.Minute)
	require.NoError(t, err)
	second, err := p.Presign(ctx, "fallos/a.pdf", 10*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, next.calls)
	for _, ttl := range c.ttls {
		assert.Equal(t, 5*time.Minute, ttl)
	}

	_, err = p.Presign(ctx, "fallos/b.pdf", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestCachedPresigner_CacheErrorsFallThrough(t *testing.T) {
	next := &countingPresigner{}
	c := newMapCache()
	c.err = errors.New("connection refused")
	p := &CachedPresigner{next: next, cache: c}

	url, err := p.Presign(context.Background(), "fallos/a.pdf", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "fallos/a.pdf")
	assert.Equal(t, 1, next.calls)
}

func TestClientOptions(t *testing.T) {
	assert.Len(t, clientOptions(config.StorageConfig{}), 1)
	assert.Len(t, clientOptions(config.StorageConfig{CredentialsFile: "/etc/juris/sa.json"}), 2)
	assert.Len(t, clientOptions(config.StorageConfig{CredentialsFile: `{"type":"service_account"}`}), 2)
}

func TestNewBucket_RequiresName(t *testing.T) {
	_, err := NewBucket(context.Background(), config.StorageConfig{})
	assert.Error(t, err)
}
