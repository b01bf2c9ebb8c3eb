package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the default key holding the shared token.
const DefaultRedisKey = "catalogsync:access_token"

// DefaultRedisTimeout bounds each Redis round trip.
const DefaultRedisTimeout = 2 * time.Second

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Key is the string key holding the token (default: catalogsync:access_token).
	Key string
	// TTL expires the token server-side. Zero keeps it until cleared.
	TTL time.Duration
	// Timeout bounds each command (default 2s).
	Timeout time.Duration
}

// Redis shares one token between terminals and hosts.
type Redis struct {
	config RedisConfig
	client *goredis.Client
}

// NewRedis creates a Redis-backed store.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis credential store requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis credential store: invalid URL: %w", err)
	}
	if cfg.Key == "" {
		cfg.Key = DefaultRedisKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRedisTimeout
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("ttl must be >= 0, got %s", cfg.TTL)
	}

	return &Redis{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Get fetches the token.
func (r *Redis) Get(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	token, err := r.client.Get(ctx, r.config.Key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("redis credential get: %w", err)
	}
	if token == "" {
		return "", ErrNoCredential
	}
	return token, nil
}

// Set stores the token with the configured TTL.
func (r *Redis) Set(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	if err := r.client.Set(ctx, r.config.Key, token, r.config.TTL).Err(); err != nil {
		return fmt.Errorf("redis credential set: %w", err)
	}
	return nil
}

// Clear deletes the token key.
func (r *Redis) Clear(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	if err := r.client.Del(ctx, r.config.Key).Err(); err != nil {
		return fmt.Errorf("redis credential clear: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ WritableStore = (*Redis)(nil)
