package blob

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const defaultSafetyMargin = 10 * time.Second

// CachedSigner wraps a Store so signed URLs are reused while they remain
// valid for at least the safety margin. Writes and deletes drop cached URLs
// for the touched paths. Cache failures are logged and bypassed.
type CachedSigner struct {
	store  Store
	cache  URLCache
	margin time.Duration
	log    zerolog.Logger
}

func NewCachedSigner(store Store, cache URLCache, margin time.Duration, log zerolog.Logger) *CachedSigner {
	if margin <= 0 {
		margin = defaultSafetyMargin
	}
	return &CachedSigner{
		store:  store,
		cache:  cache,
		margin: margin,
		log:    log,
	}
}

// cacheKey scopes an entry to one TTL. Invalidate on the cache removes
// every variant of a path.
func (c *CachedSigner) cacheKey(path string, ttl time.Duration) string {
	return fmt.Sprintf("%s%s%d", path, variantSeparator, int64(ttl/time.Second))
}

func (c *CachedSigner) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	key := c.cacheKey(path, ttl)
	if cached, ok, err := c.cache.Get(ctx, key); err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("signed url cache lookup failed")
	} else if ok {
		return cached, nil
	}

	url, err := c.store.SignedURL(ctx, path, ttl)
	if err != nil {
		return "", err
	}

	if keep := ttl - c.margin; keep > 0 {
		if err := c.cache.Set(ctx, key, url, keep); err != nil {
			c.log.Warn().Err(err).Str("path", path).Msg("signed url cache store failed")
		}
	}
	return url, nil
}

func (c *CachedSigner) Put(ctx context.Context, path string, data []byte, contentType string, overwrite bool) error {
	if err := c.store.Put(ctx, path, data, contentType, overwrite); err != nil {
		return err
	}
	c.invalidate(ctx, path)
	return nil
}

func (c *CachedSigner) Delete(ctx context.Context, paths []string) error {
	err := c.store.Delete(ctx, paths)
	c.invalidate(ctx, paths...)
	return err
}

func (c *CachedSigner) invalidate(ctx context.Context, paths ...string) {
	if err := c.cache.Invalidate(ctx, paths...); err != nil {
		c.log.Warn().Err(err).Strs("paths", paths).Msg("signed url cache invalidation failed")
	}
}
