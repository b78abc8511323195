package rerank

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ragpipeline/internal/pipelineerr"
)

// Cache is the narrow capability the reranker's result cache depends on,
// mirroring the checkpoint store's backend split (§4.9).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// cacheKey computes md5(query, sorted(ids), model_name) so a model change
// invalidates the cache implicitly (§4.9).
func cacheKey(query string, ids []string, modelName string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	payload, _ := json.Marshal(struct {
		Query string   `json:"query"`
		IDs   []string `json:"candidate_ids"`
		Model string   `json:"model"`
	}{Query: query, IDs: sorted, Model: modelName})
	sum := md5.Sum(payload)
	return hex.EncodeToString(sum[:])
}

// MemoryCache is an in-process Cache for tests and single-process
// deployments.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value   []byte
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cacheEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	c.entries[key] = cacheEntry{value: value, expires: expires}
	return nil
}

var _ Cache = (*MemoryCache)(nil)

// RedisCache is a Redis-backed Cache, grounded on the teacher's
// RedisDedupeStore (ping-on-construct, plain key/value with TTL).
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(addr string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.DependencyUnavailable, "redis ping", err)
	}
	return &RedisCache{client: client}, nil
}

func rerankCacheKey(key string) string {
	return fmt.Sprintf("rerank:%s", key)
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, rerankCacheKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, pipelineerr.Wrap(pipelineerr.DependencyUnavailable, "redis get rerank cache", err)
	}
	return raw, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, rerankCacheKey(key), value, ttl).Err(); err != nil {
		return pipelineerr.Wrap(pipelineerr.DependencyUnavailable, "redis set rerank cache", err)
	}
	return nil
}

func (c *RedisCache) Close() error { return c.client.Close() }

var _ Cache = (*RedisCache)(nil)
