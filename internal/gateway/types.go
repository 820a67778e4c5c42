// Package gateway talks to the alert/health backend and polls it for the dashboard.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when the backend has no alert with the requested id.
var ErrNotFound = errors.New("alert not found")

// Link states reported by the backend.
const (
	LinkOnline  = "online"
	LinkOffline = "offline"
)

// Health is the backend system health document.
type Health struct {
	MQTTStatus    string  `json:"mqtt_status"`
	ZeroMQStatus  string  `json:"zeromq_status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Timestamp     string  `json:"timestamp"`
	UptimeHuman   string  `json:"uptime_human,omitempty"`
}

// Alert is a recorded over-temperature event.
type Alert struct {
	ID                int64   `json:"id"`
	Timestamp         string  `json:"timestamp"`
	GCUID             uint8   `json:"gcu_id"`
	MaxTemp           float64 `json:"max_temp"`
	ImagePathComplete string  `json:"image_path_complete"`
	ImagePathHotspot  string  `json:"image_path_hotspot"`
}

// Backend is the alert/health service as seen by the dashboard.
type Backend interface {
	Health(ctx context.Context) (Health, error)
	Alerts(ctx context.Context) ([]Alert, error)
	DeleteAlert(ctx context.Context, id int64) error
	DeleteAllAlerts(ctx context.Context) error
}

// FormatUptime renders seconds as "<h>h <m>m".
func FormatUptime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds * float64(time.Second))
	hours := int64(d / time.Hour)
	minutes := int64((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
