// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/skobkin/gcu-sentinel/internal/cache"
	"github.com/skobkin/gcu-sentinel/internal/config"
	"github.com/skobkin/gcu-sentinel/internal/dashboard"
	"github.com/skobkin/gcu-sentinel/internal/gateway"
	"github.com/skobkin/gcu-sentinel/internal/httpserver"
	"github.com/skobkin/gcu-sentinel/internal/stream"
	"github.com/skobkin/gcu-sentinel/internal/units"
)

const (
	shutdownTimeout  = 10 * time.Second
	redisPingTimeout = 3 * time.Second
)

type worker struct {
	name string
	run  func(context.Context) error
}

// Run bootstraps the application lifecycle.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	registry := units.NewRegistry(cfg.UnitLabels)
	appLogger.Info("configured units", "count", len(registry.List()), "warning_threshold", cfg.WarningThreshold)

	dialer, err := NewDialer(cfg)
	if err != nil {
		return fmt.Errorf("init stream dialer: %w", err)
	}
	session, err := stream.NewSession(dialer, cfg.Stream.RetryDelay, baseLogger)
	if err != nil {
		return fmt.Errorf("init stream session: %w", err)
	}
	appLogger.Info("stream source selected", "source", cfg.Stream.Source)

	manager, err := dashboard.NewManager(session, registry, cfg.WarningThreshold, baseLogger)
	if err != nil {
		return fmt.Errorf("init dashboard: %w", err)
	}

	backend, err := NewBackend(cfg)
	if err != nil {
		return fmt.Errorf("init backend client: %w", err)
	}
	poller, err := gateway.NewPoller(backend, cfg.Backend.PollInterval, baseLogger)
	if err != nil {
		return fmt.Errorf("init backend poller: %w", err)
	}
	if cfg.Backend.Simulate {
		appLogger.Warn("backend simulation enabled", "reason", "APP_BACKEND_SIMULATE")
	}

	workers := []worker{
		{name: "stream", run: session.Run},
		{name: "dashboard", run: manager.Run},
		{name: "backend_poller", run: poller.Run},
	}

	var publisher *cache.RedisPublisher
	if cfg.Redis.Enabled() {
		publisher, err = newRedisPublisher(ctx, cfg.Redis, baseLogger, appLogger)
		if err != nil {
			return fmt.Errorf("init redis publisher: %w", err)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				appLogger.Warn("redis client close", "err", err)
			}
		}()
		workers = append(workers, worker{
			name: "redis_publisher",
			run: func(ctx context.Context) error {
				return publisher.Run(ctx, manager)
			},
		})
	}

	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()

	results := make(chan workerResult, len(workers))
	for _, w := range workers {
		go func(w worker) {
			results <- workerResult{name: w.name, err: w.run(workerCtx)}
		}(w)
	}
	pending := len(workers)

	// drain stops the remaining workers and joins their unexpected failures.
	drain := func() error {
		workerCancel()
		var errs []error
		for ; pending > 0; pending-- {
			if res := <-results; res.failed() {
				errs = append(errs, res.wrapped())
			}
		}
		return errors.Join(errs...)
	}

	srv := httpserver.New(cfg, baseLogger.With("component", "http"), httpserver.Deps{
		Units:     registry,
		Dashboard: manager,
		Session:   session,
		Poller:    poller,
		Cache:     publisher,
	})

	appLogger.Info("starting HTTP server", "listen_addr", cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	for {
		select {
		case err := <-errCh:
			drainErr := drain()
			if err != nil {
				return errors.Join(err, drainErr)
			}
			return drainErr
		case res := <-results:
			pending--
			if !res.failed() {
				appLogger.Debug("worker stopped", "worker", res.name)
				continue
			}
			appLogger.Error("worker failed", "worker", res.name, "err", res.err)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			shutdownErr := srv.Shutdown(shutdownCtx)
			<-errCh
			return errors.Join(res.wrapped(), shutdownErr, drain())
		case <-ctx.Done():
			appLogger.Info("shutdown initiated", "reason", ctx.Err())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("http shutdown: %w", err)
			}

			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			if err := drain(); err != nil {
				return err
			}

			appLogger.Info("shutdown complete")
			return nil
		}
	}
}

type workerResult struct {
	name string
	err  error
}

func (r workerResult) failed() bool {
	return r.err != nil && !errors.Is(r.err, context.Canceled)
}

func (r workerResult) wrapped() error {
	return fmt.Errorf("%s: %w", r.name, r.err)
}

// NewDialer selects the telemetry transport named by the configuration.
func NewDialer(cfg config.Config) (stream.Dialer, error) {
	switch cfg.Stream.Source {
	case config.SourceWebsocket:
		return &stream.WebsocketDialer{URL: cfg.Stream.URL, ReadLimit: cfg.Stream.MaxFrameBytes}, nil
	case config.SourceMQTT:
		return &stream.MQTTDialer{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      cfg.MQTT.QoS,

			MaxPayloadBytes: cfg.Stream.MaxFrameBytes,
		}, nil
	case config.SourceSimulated:
		return &stream.SimulatedDialer{Interval: cfg.Stream.SimInterval}, nil
	default:
		return nil, fmt.Errorf("unknown stream source %q", cfg.Stream.Source)
	}
}

// NewBackend returns the HTTP client for the alert backend, or the canned
// backend when simulation was explicitly requested.
func NewBackend(cfg config.Config) (gateway.Backend, error) {
	if cfg.Backend.Simulate {
		return gateway.NewSimulatedBackend(nil), nil
	}
	backend, err := gateway.NewHTTPBackend(cfg.Backend.URL, cfg.Backend.Timeout, cfg.Backend.Retries)
	if err != nil {
		return nil, err
	}
	return backend, nil
}

func newRedisPublisher(ctx context.Context, cfg config.RedisConfig, baseLogger, appLogger *slog.Logger) (*cache.RedisPublisher, error) {
	client := cache.NewRedisClient(cfg.Addr, cfg.Password, cfg.DB)
	publisher, err := cache.NewRedisPublisher(client, cache.Options{
		KeyPrefix: cfg.KeyPrefix,
		Channel:   cfg.Channel,
		TTL:       cfg.TTL,
	}, baseLogger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := publisher.Ping(pingCtx); err != nil {
		appLogger.Warn("redis not reachable at startup", "addr", cfg.Addr, "err", err)
	}
	return publisher, nil
}
