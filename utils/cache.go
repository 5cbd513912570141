package utils

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nci/gomemcache/memcache"
	"github.com/redis/go-redis/v9"
)

// Cache stores encoded ingest results. Misses and backend errors both read
// as a miss; Set errors are reported but callers may ignore them.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// CacheKey hashes the parts of a normalised request into a fixed length key.
func CacheKey(parts ...interface{}) string {
	buff := md5.Sum([]byte(fmt.Sprint(parts...)))
	return hex.EncodeToString(buff[:])
}

type memItem struct {
	value   []byte
	expires time.Time
}

// memorySweepInterval is how often Set drops expired entries that were
// never read again.
const memorySweepInterval = time.Minute

type MemoryCache struct {
	mu        sync.Mutex
	items     map[string]memItem
	now       func() time.Time
	nextSweep time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memItem), now: time.Now}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !it.expires.IsZero() && !c.now().Before(it.expires) {
		delete(c.items, key)
		return nil, false
	}
	return it.value, true
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if !now.Before(c.nextSweep) {
		c.sweep(now)
		c.nextSweep = now.Add(memorySweepInterval)
	}

	it := memItem{value: value}
	if ttl > 0 {
		it.expires = now.Add(ttl)
	}
	c.items[key] = it
	return nil
}

func (c *MemoryCache) sweep(now time.Time) {
	for k, it := range c.items {
		if !it.expires.IsZero() && !now.Before(it.expires) {
			delete(c.items, k)
		}
	}
}

func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.items = make(map[string]memItem)
	c.mu.Unlock()
	return nil
}

// MemcacheCache namespaces keys with a generation number so that Clear only
// has to move to a new generation.
type MemcacheCache struct {
	mc         *memcache.Client
	prefix     string
	generation int64
}

func NewMemcacheCache(addr, prefix string) *MemcacheCache {
	return &MemcacheCache{mc: memcache.New(addr), prefix: prefix}
}

func (c *MemcacheCache) key(key string) string {
	return c.prefix + strconv.FormatInt(atomic.LoadInt64(&c.generation), 10) + ":" + key
}

func (c *MemcacheCache) Get(ctx context.Context, key string) ([]byte, bool) {
	it, err := c.mc.Get(c.key(key))
	if err != nil {
		return nil, false
	}
	return it.Value, true
}

func (c *MemcacheCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.mc.Set(&memcache.Item{Key: c.key(key), Value: value, Expiration: int32(ttl / time.Second)})
}

func (c *MemcacheCache) Clear(ctx context.Context) error {
	atomic.AddInt64(&c.generation, 1)
	return nil
}

type RedisCache struct {
	rc     *redis.Client
	prefix string
}

func NewRedisCache(rc *redis.Client, prefix string) *RedisCache {
	return &RedisCache{rc: rc, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := c.rc.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rc.Set(ctx, c.prefix+key, value, ttl).Err()
}

func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.rc.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rc.Del(ctx, keys...).Err()
}

// Close releases the redis connection pool.
func (c *RedisCache) Close() error {
	return c.rc.Close()
}
