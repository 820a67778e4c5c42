package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/gcu-sentinel/internal/fanout"
)

// Status is the outcome of one poll of the backend. Available covers the health
// check, AlertsAvailable the alert list: an empty Alerts slice only means "no
// alerts" when AlertsAvailable is set.
type Status struct {
	Available       bool      `json:"available"`
	Health          *Health   `json:"health,omitempty"`
	AlertsAvailable bool      `json:"alerts_available"`
	Alerts          []Alert   `json:"alerts"`
	AlertsError     string    `json:"alerts_error,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// PollerStats counts poll outcomes.
type PollerStats struct {
	Polls    uint64 `json:"polls"`
	Failures uint64 `json:"failures"`
}

// Poller fetches health and alerts on an interval, caches the newest result and
// fans it out to subscribers.
type Poller struct {
	backend  Backend
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// refreshMu keeps polls from overlapping so an older result never replaces a newer one.
	refreshMu sync.Mutex

	mu        sync.RWMutex
	latest    Status
	hasLatest bool
	stats     PollerStats
	wasUp     *bool
	hub       fanout.Hub[Status]
}

// NewPoller constructs a poller. Each poll is bounded by the interval.
func NewPoller(backend Backend, interval time.Duration, logger *slog.Logger) (*Poller, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be > 0")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Poller{
		backend:  backend,
		interval: interval,
		timeout:  interval,
		logger:   logger.With("component", "backend_poller"),
		now:      time.Now,
	}, nil
}

// Run polls until the context is canceled.
func (p *Poller) Run(ctx context.Context) error {
	defer p.hub.Close()

	p.logger.Info("backend poller started", "interval", p.interval)
	p.Refresh(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("backend poller stopping", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			p.Refresh(ctx)
		}
	}
}

// Refresh polls the backend immediately and publishes the result.
func (p *Poller) Refresh(ctx context.Context) Status {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	pollCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	status := Status{CheckedAt: p.now(), Alerts: []Alert{}}

	health, healthErr := p.backend.Health(pollCtx)
	alerts, alertsErr := p.backend.Alerts(pollCtx)
	if err := errors.Join(healthErr, alertsErr); err != nil {
		status.LastError = err.Error()
	}
	if healthErr == nil {
		health.UptimeHuman = FormatUptime(health.UptimeSeconds)
		status.Health = &health
		status.Available = true
	}
	if alertsErr == nil {
		status.Alerts = alerts
		status.AlertsAvailable = true
	} else {
		status.AlertsError = alertsErr.Error()
	}

	p.mu.Lock()
	p.latest = status
	p.hasLatest = true
	p.stats.Polls++
	if status.LastError != "" {
		p.stats.Failures++
	}
	changed := p.wasUp == nil || *p.wasUp != status.Available
	up := status.Available
	p.wasUp = &up
	p.mu.Unlock()

	switch {
	case changed && status.Available:
		p.logger.Info("backend available")
	case changed:
		p.logger.Warn("backend unavailable", "err", status.LastError)
	case status.LastError != "":
		p.logger.Debug("backend poll failed", "err", status.LastError)
	}

	p.hub.Publish(status)
	return status
}

// Latest returns the newest poll result.
func (p *Poller) Latest() (Status, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.hasLatest
}

// Subscribe registers for poll results, starting with the newest one.
func (p *Poller) Subscribe() (<-chan Status, func()) {
	p.mu.RLock()
	var initial []Status
	if p.hasLatest {
		initial = append(initial, p.latest)
	}
	p.mu.RUnlock()
	return p.hub.Subscribe(initial...)
}

// Stats returns the poll counters.
func (p *Poller) Stats() PollerStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// DeleteAlert removes one alert and refreshes the cached list.
func (p *Poller) DeleteAlert(ctx context.Context, id int64) error {
	if err := p.backend.DeleteAlert(ctx, id); err != nil {
		return err
	}
	p.Refresh(ctx)
	return nil
}

// DeleteAllAlerts clears the alert log and refreshes the cached list.
func (p *Poller) DeleteAllAlerts(ctx context.Context) error {
	if err := p.backend.DeleteAllAlerts(ctx); err != nil {
		return err
	}
	p.Refresh(ctx)
	return nil
}
