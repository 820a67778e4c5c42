package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPBackend calls the backend REST API.
type HTTPBackend struct {
	client *resty.Client
}

// NewHTTPBackend builds a client for the backend rooted at baseURL.
func NewHTTPBackend(baseURL string, timeout time.Duration, retries int) (*HTTPBackend, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("backend url is required")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("backend timeout must be > 0")
	}
	if retries < 0 {
		retries = 0
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Accept", "application/json")
	return &HTTPBackend{client: client}, nil
}

// Health fetches GET /api/health.
func (b *HTTPBackend) Health(ctx context.Context) (Health, error) {
	var health Health
	resp, err := b.client.R().
		SetContext(ctx).
		SetResult(&health).
		Get("/api/health")
	if err != nil {
		return Health{}, fmt.Errorf("fetch health: %w", err)
	}
	if resp.IsError() {
		return Health{}, fmt.Errorf("fetch health: unexpected status %d", resp.StatusCode())
	}
	return health, nil
}

// Alerts fetches GET /api/alerts.
func (b *HTTPBackend) Alerts(ctx context.Context) ([]Alert, error) {
	var alerts []Alert
	resp, err := b.client.R().
		SetContext(ctx).
		SetResult(&alerts).
		Get("/api/alerts")
	if err != nil {
		return nil, fmt.Errorf("fetch alerts: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch alerts: unexpected status %d", resp.StatusCode())
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	return alerts, nil
}

// DeleteAlert calls DELETE /api/alerts/{id}.
func (b *HTTPBackend) DeleteAlert(ctx context.Context, id int64) error {
	resp, err := b.client.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		Delete("/api/alerts/{id}")
	if err != nil {
		return fmt.Errorf("delete alert %d: %w", id, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("delete alert %d: %w", id, ErrNotFound)
	}
	if resp.IsError() {
		return fmt.Errorf("delete alert %d: unexpected status %d", id, resp.StatusCode())
	}
	return nil
}

// DeleteAllAlerts calls DELETE /api/alerts.
func (b *HTTPBackend) DeleteAllAlerts(ctx context.Context) error {
	resp, err := b.client.R().
		SetContext(ctx).
		Delete("/api/alerts")
	if err != nil {
		return fmt.Errorf("delete alerts: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("delete alerts: unexpected status %d", resp.StatusCode())
	}
	return nil
}
