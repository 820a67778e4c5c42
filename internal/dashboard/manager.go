// Package dashboard turns decoded telemetry samples into renderable views and
// keeps the newest view per unit for HTTP and WebSocket clients.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/skobkin/gcu-sentinel/internal/fanout"
	"github.com/skobkin/gcu-sentinel/internal/frame"
	"github.com/skobkin/gcu-sentinel/internal/thermal"
	"github.com/skobkin/gcu-sentinel/internal/units"
)

// Source delivers decoded samples, newest first when a consumer falls behind.
type Source interface {
	Subscribe() (<-chan frame.Sample, func())
}

// Legend describes the rendered image: its grid and the color scale bounds.
type Legend struct {
	Width             int      `json:"width"`
	Height            int      `json:"height"`
	MinTemp           float64  `json:"min_temp"`
	MaxTemp           float64  `json:"max_temp"`
	ThresholdPosition *float64 `json:"threshold_position,omitempty"`
}

// View is everything a client needs to show one unit: telemetry card values,
// the warning flag and, when the matrix was renderable, the image and its legend.
type View struct {
	UnitID     uint8     `json:"unit_id"`
	Label      string    `json:"label"`
	Timestamp  uint64    `json:"timestamp"`
	MaxTemp    float32   `json:"max_temp"`
	AvgTemp    float32   `json:"avg_temp"`
	PayloadLen uint32    `json:"payload_len"`
	Warning    bool      `json:"warning"`
	Frame      *Legend   `json:"frame,omitempty"`
	ReceivedAt time.Time `json:"received_at"`

	PNG []byte `json:"-"`
}

// Stats counts what the manager did with incoming samples.
type Stats struct {
	Rendered     uint64 `json:"rendered"`
	Unrenderable uint64 `json:"unrenderable"`
	EncodeErrors uint64 `json:"encode_errors"`
}

// Manager renders every sample once and fans the resulting views out.
type Manager struct {
	source    Source
	registry  *units.Registry
	threshold float64
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	latest map[uint8]View
	stats  Stats
	hub    *fanout.KeyedHub[uint8, View]
}

// NewManager builds a Manager reading from source.
func NewManager(source Source, registry *units.Registry, threshold float64, logger *slog.Logger) (*Manager, error) {
	if source == nil {
		return nil, fmt.Errorf("sample source is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		source:    source,
		registry:  registry,
		threshold: threshold,
		logger:    logger.With("component", "dashboard"),
		now:       time.Now,
		latest:    make(map[uint8]View),
		hub:       fanout.NewKeyedHub(func(v View) uint8 { return v.UnitID }),
	}, nil
}

// Run consumes samples until the context is canceled or the source closes.
func (m *Manager) Run(ctx context.Context) error {
	samples, unsubscribe := m.source.Subscribe()
	defer unsubscribe()
	defer m.hub.Close()

	m.logger.Info("dashboard started", "threshold", m.threshold)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("dashboard stopping", "reason", ctx.Err())
			return nil
		case sample, ok := <-samples:
			if !ok {
				m.logger.Info("sample source closed")
				return nil
			}
			m.Ingest(sample)
		}
	}
}

// Ingest renders a single sample and publishes the view.
func (m *Manager) Ingest(sample frame.Sample) View {
	view := m.buildView(sample)

	// Publishing under the lock keeps Subscribe's snapshot and the feed in step.
	m.mu.Lock()
	m.latest[view.UnitID] = view
	m.hub.Publish(view)
	m.mu.Unlock()
	return view
}

func (m *Manager) buildView(sample frame.Sample) View {
	view := View{
		UnitID:     sample.UnitID,
		Label:      m.registry.Label(sample.UnitID),
		Timestamp:  sample.Timestamp,
		MaxTemp:    sample.MaxTemp,
		AvgTemp:    sample.AvgTemp,
		PayloadLen: sample.PayloadLen,
		Warning:    float64(sample.MaxTemp) > m.threshold,
		ReceivedAt: m.now(),
	}

	rendered, ok := thermal.Render(sample.Matrix, int(sample.PayloadLen), m.threshold)
	if !ok {
		m.count(func(s *Stats) { s.Unrenderable++ })
		m.logger.Debug("sample not renderable", "unit_id", sample.UnitID, "payload_len", sample.PayloadLen)
		return view
	}

	png, err := thermal.EncodePNG(rendered)
	if err != nil {
		m.count(func(s *Stats) { s.EncodeErrors++ })
		m.logger.Warn("encode png failed", "unit_id", sample.UnitID, "err", err)
		return view
	}

	view.Frame = &Legend{
		Width:             rendered.Width,
		Height:            rendered.Height,
		MinTemp:           rendered.MinTemp,
		MaxTemp:           rendered.MaxTemp,
		ThresholdPosition: rendered.ThresholdPosition,
	}
	view.PNG = png
	m.count(func(s *Stats) { s.Rendered++ })
	return view
}

func (m *Manager) count(update func(*Stats)) {
	m.mu.Lock()
	update(&m.stats)
	m.mu.Unlock()
}

// Latest returns the most recent view for a unit.
func (m *Manager) Latest(unitID uint8) (View, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	view, ok := m.latest[unitID]
	return view, ok
}

// Subscribe registers a listener for new views. The newest view of every unit
// is delivered first, ordered by unit id. A slow listener skips superseded
// views of a unit but never misses the newest view of another unit.
func (m *Manager) Subscribe() (<-chan View, func()) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	initial := make([]View, 0, len(m.latest))
	for _, view := range m.latest {
		initial = append(initial, view)
	}
	sort.Slice(initial, func(i, j int) bool { return initial[i].UnitID < initial[j].UnitID })
	return m.hub.Subscribe(initial...)
}

// UnitIDs returns the ids that have produced at least one view, sorted.
func (m *Manager) UnitIDs() []uint8 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uint8, 0, len(m.latest))
	for id := range m.latest {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Ready reports whether at least one view has been produced.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.latest) > 0
}

// Stats returns a snapshot of the render counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
