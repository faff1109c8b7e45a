package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// variantSeparator splits a cache key into the object path and a variant
// suffix such as the URL lifetime.
const variantSeparator = "@"

// URLCache remembers signed URLs until shortly before they expire.
type URLCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, url string, ttl time.Duration) error
	// Invalidate drops the entries for each path, including every
	// path@variant key, wherever they were written from.
	Invalidate(ctx context.Context, paths ...string) error
}

// RedisURLCache implements URLCache using Redis
type RedisURLCache struct {
	client *redis.Client
	prefix string
}

// NewRedisURLCache connects to redisURL and verifies the connection.
func NewRedisURLCache(redisURL string) (*RedisURLCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisURLCacheWithClient(client), nil
}

func NewRedisURLCacheWithClient(client *redis.Client) *RedisURLCache {
	return &RedisURLCache{
		client: client,
		prefix: "signed-url:",
	}
}

func (c *RedisURLCache) key(path string) string {
	return c.prefix + path
}

func (c *RedisURLCache) Get(ctx context.Context, path string) (string, bool, error) {
	value, err := c.client.Get(ctx, c.key(path)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup signed url: %w", err)
	}
	return value, true, nil
}

func (c *RedisURLCache) Set(ctx context.Context, path, url string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, c.key(path), url, ttl).Err(); err != nil {
		return fmt.Errorf("save signed url: %w", err)
	}
	return nil
}

func (c *RedisURLCache) Invalidate(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		keys = append(keys, c.key(p))
		iter := c.client.Scan(ctx, 0, escapeGlob(c.key(p))+variantSeparator+"*", 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan signed urls: %w", err)
		}
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate signed urls: %w", err)
	}
	return nil
}

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

func (c *RedisURLCache) Close() error {
	return c.client.Close()
}

func (c *RedisURLCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
