// Package redis publishes catalog refresh events over Redis pub/sub.
//
// Each event is PUBLISHed as JSON on the configured channel and also kept
// under "<channel>:last" so a client that was not subscribed at the time
// can still see when the catalog last refreshed.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/catalogsync/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "catalogsync:catalog_refreshed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// DefaultBackoff is the delay before the first retry. It doubles per retry.
const DefaultBackoff = 500 * time.Millisecond

// DefaultLastEventTTL bounds how long the last event is kept.
const DefaultLastEventTTL = 7 * 24 * time.Hour

// ErrNoEvent is returned by LastEvent when nothing has been published.
var ErrNoEvent = errors.New("no catalog refresh recorded")

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: catalogsync:catalog_refreshed).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
	// Backoff is the first retry delay (default 500ms).
	Backoff time.Duration
	// LastEventTTL expires the stored last event (default 7 days).
	LastEventTTL time.Duration
}

// Adapter publishes catalog refresh events via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis pub/sub adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.LastEventTTL <= 0 {
		cfg.LastEventTTL = DefaultLastEventTTL
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// LastEventKey is the key holding the most recent event.
func (a *Adapter) LastEventKey() string {
	return a.config.Channel + ":last"
}

// Publish records the event and PUBLISHes it in one transaction.
func (a *Adapter) Publish(ctx context.Context, event *adapter.CatalogRefreshedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	var lastErr error
	attempts := 1 + a.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}

		if i > 0 {
			backoff := a.config.Backoff << uint(i-1)
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		_, lastErr = a.client.TxPipelined(publishCtx, func(p goredis.Pipeliner) error {
			p.Set(publishCtx, a.LastEventKey(), body, a.config.LastEventTTL)
			p.Publish(publishCtx, a.config.Channel, body)
			return nil
		})
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// LastEvent returns the most recently published event.
func (a *Adapter) LastEvent(ctx context.Context) (*adapter.CatalogRefreshedEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	raw, err := a.client.Get(ctx, a.LastEventKey()).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNoEvent
	}
	if err != nil {
		return nil, fmt.Errorf("redis: read last event: %w", err)
	}

	var event adapter.CatalogRefreshedEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("redis: decode last event: %w", err)
	}
	return &event, nil
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
