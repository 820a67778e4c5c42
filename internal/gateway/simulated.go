package gateway

import (
	"context"
	"sync"
	"time"
)

// SimulatedBackend stands in for the backend during demos. Both links report
// online, uptime counts from construction and two canned alerts are served
// until deleted.
type SimulatedBackend struct {
	now     func() time.Time
	started time.Time

	mu      sync.Mutex
	deleted map[int64]bool
	cleared bool
}

// NewSimulatedBackend returns a backend that never fails.
func NewSimulatedBackend(now func() time.Time) *SimulatedBackend {
	if now == nil {
		now = time.Now
	}
	return &SimulatedBackend{
		now:     now,
		started: now(),
		deleted: make(map[int64]bool),
	}
}

func (b *SimulatedBackend) Health(ctx context.Context) (Health, error) {
	if err := ctx.Err(); err != nil {
		return Health{}, err
	}
	now := b.now()
	return Health{
		MQTTStatus:    LinkOnline,
		ZeroMQStatus:  LinkOnline,
		UptimeSeconds: float64(int64(now.Sub(b.started).Seconds())),
		Timestamp:     now.UTC().Format(time.RFC3339Nano),
	}, nil
}

func (b *SimulatedBackend) Alerts(ctx context.Context) ([]Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := b.now()
	mock := []Alert{
		{
			ID:                1,
			Timestamp:         now.Add(-time.Hour).UTC().Format(time.RFC3339Nano),
			GCUID:             1,
			MaxTemp:           82.5,
			ImagePathComplete: "mock_complete_1.png",
			ImagePathHotspot:  "mock_hotspot_1.png",
		},
		{
			ID:                2,
			Timestamp:         now.Add(-2 * time.Hour).UTC().Format(time.RFC3339Nano),
			GCUID:             2,
			MaxTemp:           79.1,
			ImagePathComplete: "mock_complete_2.png",
			ImagePathHotspot:  "mock_hotspot_2.png",
		},
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	alerts := make([]Alert, 0, len(mock))
	if b.cleared {
		return alerts, nil
	}
	for _, alert := range mock {
		if !b.deleted[alert.ID] {
			alerts = append(alerts, alert)
		}
	}
	return alerts, nil
}

func (b *SimulatedBackend) DeleteAlert(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.deleted[id] = true
	b.mu.Unlock()
	return nil
}

func (b *SimulatedBackend) DeleteAllAlerts(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.cleared = true
	b.mu.Unlock()
	return nil
}
