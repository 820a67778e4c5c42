// Package stream maintains the live connection to the thermal telemetry source.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/gcu-sentinel/internal/fanout"
	"github.com/skobkin/gcu-sentinel/internal/frame"
)

// State is the connectivity state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{StateDisconnected, StateConnecting, StateConnected} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown stream state %q", text)
}

// ErrFrameTooLarge is returned by a Conn that discarded an oversize message.
// The connection stays usable.
var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// dropTooLarge labels frames rejected by the transport for their size.
const dropTooLarge = "too_large"

// Conn is a message-oriented transport delivering one frame per Read.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Status is a point-in-time view of a Session.
type Status struct {
	State         State             `json:"state"`
	Connected     bool              `json:"connected"`
	ConnID        string            `json:"conn_id,omitempty"`
	FramesDecoded uint64            `json:"frames_decoded"`
	FramesDropped map[string]uint64 `json:"frames_dropped"`
	Reconnects    uint64            `json:"reconnects"`
	LastFrameAt   time.Time         `json:"last_frame_at,omitzero"`
	LastError     string            `json:"last_error,omitempty"`
}

// Session keeps a transport connected, decodes every message, and publishes the
// newest valid sample. It retries forever with a fixed delay.
type Session struct {
	dialer     Dialer
	retryDelay time.Duration
	wait       WaitFunc
	now        func() time.Time
	logger     *slog.Logger

	mu        sync.RWMutex
	state     State
	connID    string
	latest    frame.Sample
	hasLatest bool
	decoded   uint64
	dropped   map[string]uint64
	retries   uint64
	lastFrame time.Time
	lastErr   string

	samples  *fanout.KeyedHub[uint8, frame.Sample]
	statuses fanout.Hub[Status]
}

// Option customises a Session.
type Option func(*Session)

// WithWait replaces the reconnect delay implementation.
func WithWait(wait WaitFunc) Option {
	return func(s *Session) {
		if wait != nil {
			s.wait = wait
		}
	}
}

// WithClock replaces the wall clock used for frame timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSession builds a Session around dialer.
func NewSession(dialer Dialer, retryDelay time.Duration, logger *slog.Logger, opts ...Option) (*Session, error) {
	if dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if retryDelay <= 0 {
		return nil, fmt.Errorf("retry delay must be > 0")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		dialer:     dialer,
		retryDelay: retryDelay,
		wait:       sleepContext,
		now:        time.Now,
		logger:     logger.With("component", "stream_session"),
		dropped:    make(map[string]uint64),
		samples:    fanout.NewKeyedHub(func(v frame.Sample) uint8 { return v.UnitID }),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run connects and consumes frames until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer s.samples.Close()
	defer s.statuses.Close()

	for {
		s.connect(ctx)
		s.setState(StateDisconnected, "")
		if ctx.Err() != nil {
			s.logger.Info("stream session stopping", "reason", ctx.Err())
			return nil
		}

		s.logger.Info("reconnect scheduled", "delay", s.retryDelay)
		if err := s.wait(ctx, s.retryDelay); err != nil {
			s.logger.Info("stream session stopping", "reason", err)
			return nil
		}
		s.mu.Lock()
		s.retries++
		s.mu.Unlock()
	}
}

func (s *Session) connect(ctx context.Context) {
	connID := uuid.NewString()
	logger := s.logger.With("conn_id", connID)
	s.setState(StateConnecting, connID)

	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("stream dial failed", "err", err)
			s.recordError(err)
		}
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debug("stream close failed", "err", err)
		}
	}()

	s.setState(StateConnected, connID)
	logger.Info("stream connected")

	for {
		data, err := conn.Read(ctx)
		if errors.Is(err, ErrFrameTooLarge) {
			s.countDrop(dropTooLarge, logger)
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("stream closed", "err", err)
				s.recordError(err)
			}
			return
		}
		s.handleMessage(data, logger)
	}
}

func (s *Session) handleMessage(data []byte, logger *slog.Logger) {
	sample, err := frame.Decode(data)
	if err != nil {
		s.countDrop(frame.Reason(err), logger.With("bytes", len(data)))
		return
	}

	s.mu.Lock()
	s.latest = sample
	s.hasLatest = true
	s.decoded++
	s.lastFrame = s.now()
	s.mu.Unlock()

	s.samples.Publish(sample)
}

func (s *Session) countDrop(reason string, logger *slog.Logger) {
	s.mu.Lock()
	s.dropped[reason]++
	s.mu.Unlock()
	logger.Debug("frame dropped", "reason", reason)
}

// Latest returns the most recently decoded sample.
func (s *Session) Latest() (frame.Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasLatest
}

// State returns the current connectivity state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Connected reports whether the transport is currently up.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// Status returns a snapshot of the session counters.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

// Subscribe registers for decoded samples. The newest sample, if any, is delivered
// first. A slow subscriber skips superseded samples of a unit, never another unit's.
func (s *Session) Subscribe() (<-chan frame.Sample, func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.hasLatest {
		return s.samples.Subscribe(s.latest)
	}
	return s.samples.Subscribe()
}

// SubscribeStatus registers for connectivity changes, starting with the current status.
func (s *Session) SubscribeStatus() (<-chan Status, func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statuses.Subscribe(s.statusLocked())
}

func (s *Session) setState(state State, connID string) {
	s.mu.Lock()
	if s.state == state && s.connID == connID {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.connID = connID
	status := s.statusLocked()
	s.mu.Unlock()

	s.statuses.Publish(status)
}

func (s *Session) recordError(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

func (s *Session) statusLocked() Status {
	return Status{
		State:         s.state,
		Connected:     s.state == StateConnected,
		ConnID:        s.connID,
		FramesDecoded: s.decoded,
		FramesDropped: maps.Clone(s.dropped),
		Reconnects:    s.retries,
		LastFrameAt:   s.lastFrame,
		LastError:     s.lastErr,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
