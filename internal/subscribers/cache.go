package subscribers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultCacheKey = "restroom:subscribers"
	defaultCacheTTL = time.Minute
)

// CacheClient is the subset of the redis client the cache uses.
type CacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedDirectory is a read-through Redis cache in front of another directory.
// Assignments are eventually consistent within the TTL; cache errors fall through to the source.
type CachedDirectory struct {
	source Directory
	client CacheClient
	key    string
	ttl    time.Duration
	logger *log.Logger
}

// CacheOption configures the cache.
type CacheOption func(*CachedDirectory)

// WithCacheTTL sets the entry lifetime.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *CachedDirectory) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCacheKey overrides the redis key.
func WithCacheKey(key string) CacheOption {
	return func(c *CachedDirectory) {
		if key != "" {
			c.key = key
		}
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *log.Logger) CacheOption {
	return func(c *CachedDirectory) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCachedDirectory constructs the cache.
func NewCachedDirectory(source Directory, client CacheClient, opts ...CacheOption) (*CachedDirectory, error) {
	if source == nil {
		return nil, errNilDirectory
	}
	if client == nil {
		return nil, errors.New("subscribers: nil redis client")
	}
	c := &CachedDirectory{
		source: source,
		client: client,
		key:    defaultCacheKey,
		ttl:    defaultCacheTTL,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListSubscribers serves from Redis when possible.
func (c *CachedDirectory) ListSubscribers(ctx context.Context) ([]Subscriber, error) {
	raw, err := c.client.Get(ctx, c.key).Result()
	switch {
	case err == nil:
		var cached []Subscriber
		if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil {
			return cached, nil
		}
		c.logger.Printf("subscribers cache: corrupt entry key=%s", c.key)
	case !errors.Is(err, redis.Nil):
		c.logger.Printf("subscribers cache: get failed: %v", err)
	}

	list, err := c.source.ListSubscribers(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(list)
	if err == nil {
		if setErr := c.client.Set(ctx, c.key, payload, c.ttl).Err(); setErr != nil {
			c.logger.Printf("subscribers cache: set failed: %v", setErr)
		}
	}
	return list, nil
}
