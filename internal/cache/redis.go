// Package cache mirrors the newest dashboard views into Redis so other services
// can read the current reading per unit or follow updates over pub/sub.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/skobkin/gcu-sentinel/internal/dashboard"
)

// ErrMiss is returned when no view is cached for a unit.
var ErrMiss = errors.New("cache miss")

// Options configures the publisher.
type Options struct {
	KeyPrefix string
	Channel   string
	TTL       time.Duration
}

// ViewSource is the feed of rendered views.
type ViewSource interface {
	Subscribe() (<-chan dashboard.View, func())
}

// RedisPublisher stores the latest view of each unit with a TTL and announces
// every update on a channel.
type RedisPublisher struct {
	client *redis.Client
	opts   Options
	logger *slog.Logger

	published atomic.Uint64
	failures  atomic.Uint64
}

// NewRedisClient creates a client for addr.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisPublisher wraps client.
func NewRedisPublisher(client *redis.Client, opts Options, logger *slog.Logger) (*RedisPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if opts.KeyPrefix == "" {
		return nil, fmt.Errorf("redis key prefix is required")
	}
	if opts.TTL < 0 {
		return nil, fmt.Errorf("redis ttl must be >= 0")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RedisPublisher{
		client: client,
		opts:   opts,
		logger: logger.With("component", "redis_publisher"),
	}, nil
}

// Ping checks connectivity.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Run mirrors views from source until the context is canceled or the source closes.
func (p *RedisPublisher) Run(ctx context.Context, source ViewSource) error {
	views, unsubscribe := source.Subscribe()
	defer unsubscribe()

	p.logger.Info("redis publisher started", "prefix", p.opts.KeyPrefix, "channel", p.opts.Channel)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("redis publisher stopping", "reason", ctx.Err())
			return nil
		case view, ok := <-views:
			if !ok {
				return nil
			}
			if err := p.Publish(ctx, view); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				p.logger.Warn("publish view failed", "unit_id", view.UnitID, "err", err)
			}
		}
	}
}

// Publish stores view under its unit key, stores the image next to it when
// present, and announces the update.
func (p *RedisPublisher) Publish(ctx context.Context, view dashboard.View) error {
	payload, err := json.Marshal(view)
	if err != nil {
		p.failures.Add(1)
		return fmt.Errorf("encode view: %w", err)
	}

	key := p.key(view.UnitID)
	pipe := p.client.TxPipeline()
	pipe.Set(ctx, key, payload, p.opts.TTL)
	if len(view.PNG) > 0 {
		pipe.Set(ctx, key+":png", view.PNG, p.opts.TTL)
	}
	if p.opts.Channel != "" {
		pipe.Publish(ctx, p.opts.Channel, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		p.failures.Add(1)
		return fmt.Errorf("store view %s: %w", key, err)
	}
	p.published.Add(1)
	return nil
}

// Get reads the cached view of a unit together with its image, if one was stored.
func (p *RedisPublisher) Get(ctx context.Context, unitID uint8) (dashboard.View, error) {
	key := p.key(unitID)
	pipe := p.client.Pipeline()
	viewCmd := pipe.Get(ctx, key)
	pngCmd := pipe.Get(ctx, key+":png")
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return dashboard.View{}, fmt.Errorf("read view: %w", err)
	}

	raw, err := viewCmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return dashboard.View{}, ErrMiss
		}
		return dashboard.View{}, fmt.Errorf("read view: %w", err)
	}
	var view dashboard.View
	if err := json.Unmarshal(raw, &view); err != nil {
		return dashboard.View{}, fmt.Errorf("decode view: %w", err)
	}

	switch img, err := pngCmd.Bytes(); {
	case err == nil:
		view.PNG = img
	case !errors.Is(err, redis.Nil):
		return dashboard.View{}, fmt.Errorf("read image: %w", err)
	}
	return view, nil
}

// Published reports how many views were stored.
func (p *RedisPublisher) Published() uint64 {
	return p.published.Load()
}

// Failures reports how many views could not be stored.
func (p *RedisPublisher) Failures() uint64 {
	return p.failures.Load()
}

// Close releases the client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func (p *RedisPublisher) key(unitID uint8) string {
	return p.opts.KeyPrefix + strconv.Itoa(int(unitID))
}
