package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatUptime(t *testing.T) {
	t.Parallel()

	cases := map[float64]string{
		0:      "0h 0m",
		59:     "0h 0m",
		61:     "0h 1m",
		3600:   "1h 0m",
		93784:  "26h 3m",
		-10:    "0h 0m",
		7199.9: "1h 59m",
	}
	for seconds, want := range cases {
		assert.Equal(t, want, FormatUptime(seconds), "seconds=%v", seconds)
	}
}

type fakeAPI struct {
	mu      sync.Mutex
	alerts  []Alert
	deletes []string
	fail    bool
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		if f.failing() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Health{
			MQTTStatus:    LinkOnline,
			ZeroMQStatus:  LinkOffline,
			UptimeSeconds: 3720,
			Timestamp:     "2026-01-01T00:00:00Z",
		})
	})
	mux.HandleFunc("GET /api/alerts", func(w http.ResponseWriter, r *http.Request) {
		if f.failing() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(f.alerts)
	})
	mux.HandleFunc("DELETE /api/alerts/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.deletes = append(f.deletes, r.PathValue("id"))
		if r.PathValue("id") == "404" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /api/alerts", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.deletes = append(f.deletes, "all")
		f.alerts = nil
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (f *fakeAPI) failing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

func newTestBackend(t *testing.T, api *fakeAPI) *HTTPBackend {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	backend, err := NewHTTPBackend(srv.URL, time.Second, 0)
	require.NoError(t, err)
	return backend
}

func TestNewHTTPBackendValidation(t *testing.T) {
	t.Parallel()

	_, err := NewHTTPBackend("", time.Second, 1)
	require.Error(t, err)
	_, err = NewHTTPBackend("http://localhost", 0, 1)
	require.Error(t, err)
}

func TestHTTPBackendHealthAndAlerts(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{alerts: []Alert{{ID: 7, GCUID: 2, MaxTemp: 80.5, Timestamp: "2026-01-01T00:00:00Z"}}}
	backend := newTestBackend(t, api)
	ctx := context.Background()

	health, err := backend.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, LinkOnline, health.MQTTStatus)
	assert.Equal(t, LinkOffline, health.ZeroMQStatus)
	assert.Equal(t, 3720.0, health.UptimeSeconds)

	alerts, err := backend.Alerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, int64(7), alerts[0].ID)
	assert.Equal(t, uint8(2), alerts[0].GCUID)

	api.mu.Lock()
	api.fail = true
	api.mu.Unlock()

	_, err = backend.Health(ctx)
	require.Error(t, err)
	_, err = backend.Alerts(ctx)
	require.Error(t, err)
}

func TestHTTPBackendDeletes(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	backend := newTestBackend(t, api)
	ctx := context.Background()

	require.NoError(t, backend.DeleteAlert(ctx, 12))
	err := backend.DeleteAlert(ctx, 404)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, backend.DeleteAllAlerts(ctx))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []string{"12", "404", "all"}, api.deletes)
}

func TestHTTPBackendEmptyAlertList(t *testing.T) {
	t.Parallel()

	backend := newTestBackend(t, &fakeAPI{})
	alerts, err := backend.Alerts(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, alerts)
	assert.Empty(t, alerts)
}

func TestSimulatedBackend(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	backend := NewSimulatedBackend(func() time.Time { return now })
	ctx := context.Background()

	now = start.Add(90 * time.Minute)
	health, err := backend.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, LinkOnline, health.MQTTStatus)
	assert.Equal(t, LinkOnline, health.ZeroMQStatus)
	assert.Equal(t, 5400.0, health.UptimeSeconds)

	alerts, err := backend.Alerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, 82.5, alerts[0].MaxTemp)
	assert.Equal(t, uint8(1), alerts[0].GCUID)
	assert.Equal(t, now.Add(-time.Hour).Format(time.RFC3339Nano), alerts[0].Timestamp)
	assert.Equal(t, 79.1, alerts[1].MaxTemp)
	assert.Equal(t, now.Add(-2*time.Hour).Format(time.RFC3339Nano), alerts[1].Timestamp)

	require.NoError(t, backend.DeleteAlert(ctx, 1))
	alerts, err = backend.Alerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, int64(2), alerts[0].ID)

	require.NoError(t, backend.DeleteAllAlerts(ctx))
	alerts, err = backend.Alerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

type stubBackend struct {
	mu        sync.Mutex
	healthErr error
	alertsErr error
	alerts    []Alert
	deleted   []int64

	delay  time.Duration
	active atomic.Int32
	peak   atomic.Int32
}

func (s *stubBackend) Health(context.Context) (Health, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(s.delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.healthErr != nil {
		return Health{}, s.healthErr
	}
	return Health{MQTTStatus: LinkOnline, ZeroMQStatus: LinkOnline, UptimeSeconds: 7260}, nil
}

func (s *stubBackend) Alerts(context.Context) ([]Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.healthErr != nil {
		return nil, s.healthErr
	}
	if s.alertsErr != nil {
		return nil, s.alertsErr
	}
	return append([]Alert(nil), s.alerts...), nil
}

func (s *stubBackend) DeleteAlert(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	kept := s.alerts[:0]
	for _, a := range s.alerts {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	s.alerts = kept
	return nil
}

func (s *stubBackend) DeleteAllAlerts(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = nil
	return nil
}

func newTestPoller(t *testing.T, backend Backend, interval time.Duration) *Poller {
	t.Helper()
	poller, err := NewPoller(backend, interval, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return poller
}

func TestNewPollerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPoller(nil, time.Second, nil)
	require.Error(t, err)
	_, err = NewPoller(&stubBackend{}, 0, nil)
	require.Error(t, err)
}

func TestPollerRefresh(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{alerts: []Alert{{ID: 1}, {ID: 2}}}
	poller := newTestPoller(t, backend, time.Hour)

	_, ok := poller.Latest()
	assert.False(t, ok)

	status := poller.Refresh(context.Background())
	assert.True(t, status.Available)
	require.NotNil(t, status.Health)
	assert.Equal(t, "2h 1m", status.Health.UptimeHuman)
	assert.Len(t, status.Alerts, 2)
	assert.Empty(t, status.LastError)

	backend.mu.Lock()
	backend.healthErr = errors.New("connection refused")
	backend.mu.Unlock()

	status = poller.Refresh(context.Background())
	assert.False(t, status.Available, "failures are reported, never masked")
	assert.Nil(t, status.Health)
	assert.False(t, status.AlertsAvailable)
	assert.NotNil(t, status.Alerts)
	assert.Empty(t, status.Alerts)
	assert.Contains(t, status.LastError, "connection refused")

	latest, ok := poller.Latest()
	require.True(t, ok)
	assert.Equal(t, status, latest)
	assert.Equal(t, PollerStats{Polls: 2, Failures: 1}, poller.Stats())
}

func TestPollerAlertFailureIsNotAnEmptyList(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{alerts: []Alert{{ID: 1}}}
	poller := newTestPoller(t, backend, time.Hour)

	status := poller.Refresh(context.Background())
	assert.True(t, status.AlertsAvailable)
	assert.Empty(t, status.AlertsError)

	backend.mu.Lock()
	backend.alertsErr = errors.New("alerts table locked")
	backend.mu.Unlock()

	status = poller.Refresh(context.Background())
	assert.True(t, status.Available, "health still answers")
	assert.False(t, status.AlertsAvailable)
	assert.Empty(t, status.Alerts)
	assert.Equal(t, "alerts table locked", status.AlertsError)
	assert.Contains(t, status.LastError, "alerts table locked")
	assert.Equal(t, uint64(1), poller.Stats().Failures)
}

func TestPollerRefreshDoesNotOverlap(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{delay: 5 * time.Millisecond}
	poller := newTestPoller(t, backend, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Refresh(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), backend.peak.Load())
	assert.Equal(t, uint64(4), poller.Stats().Polls)
}

func TestPollerDeleteRefreshes(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{alerts: []Alert{{ID: 1}, {ID: 2}}}
	poller := newTestPoller(t, backend, time.Hour)
	ctx := context.Background()

	require.NoError(t, poller.DeleteAlert(ctx, 1))
	latest, ok := poller.Latest()
	require.True(t, ok)
	require.Len(t, latest.Alerts, 1)
	assert.Equal(t, int64(2), latest.Alerts[0].ID)

	require.NoError(t, poller.DeleteAllAlerts(ctx))
	latest, _ = poller.Latest()
	assert.Empty(t, latest.Alerts)
}

func TestPollerRunPublishes(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{alerts: []Alert{{ID: 3}}}
	poller := newTestPoller(t, backend, 10*time.Millisecond)

	updates, unsubscribe := poller.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	select {
	case status := <-updates:
		assert.True(t, status.Available)
	case <-time.After(time.Second):
		t.Fatal("no status published")
	}
	require.Eventually(t, func() bool { return poller.Stats().Polls >= 3 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
