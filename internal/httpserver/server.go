package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/skobkin/gcu-sentinel/internal/api"
	"github.com/skobkin/gcu-sentinel/internal/cache"
	"github.com/skobkin/gcu-sentinel/internal/config"
	"github.com/skobkin/gcu-sentinel/internal/dashboard"
	"github.com/skobkin/gcu-sentinel/internal/gateway"
	"github.com/skobkin/gcu-sentinel/internal/stream"
	"github.com/skobkin/gcu-sentinel/internal/units"
	"github.com/skobkin/gcu-sentinel/internal/version"
)

const (
	readHeaderTimeout = 5 * time.Second
	wsSendQueueSize   = 16
)

// Deps are the running components the HTTP surface reads from.
// Poller may be nil, in which case the alert and health endpoints answer 503.
// Cache is optional and backs the frame endpoints when no live view exists yet.
type Deps struct {
	Units     *units.Registry
	Dashboard *dashboard.Manager
	Session   *stream.Session
	Poller    *gateway.Poller
	Cache     *cache.RedisPublisher
}

// Server wraps the HTTP surface area of the application.
type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	units      *units.Registry
	dashboard  *dashboard.Manager
	session    *stream.Session
	poller     *gateway.Poller
	cache      *cache.RedisPublisher

	maxWSClients int64
	wsActive     atomic.Int64
	wsTotal      atomic.Uint64
	wsRejected   atomic.Uint64
	wsSent       atomic.Uint64
	wsDropped    atomic.Uint64
	wsConnIDs    atomic.Uint64
}

// New assembles a Server with its handlers.
func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		units:     deps.Units,
		dashboard: deps.Dashboard,
		session:   deps.Session,
		poller:    deps.Poller,
		cache:     deps.Cache,
	}

	if cfg.WS.MaxClients > 0 {
		s.maxWSClients = int64(cfg.WS.MaxClients)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/api/readyz", s.handleReadyz)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api", s.handleAPIDocs)
	mux.HandleFunc("/api/", s.handleAPIDocs)
	mux.HandleFunc("/api/units", s.handleAPIUnits)
	mux.HandleFunc("/api/units/", s.handleAPIUnitSubresource)
	mux.HandleFunc("/api/stream", s.handleAPIStream)
	mux.HandleFunc("/api/health", s.handleAPIHealth)
	mux.HandleFunc("/api/alerts", s.handleAPIAlerts)
	mux.HandleFunc("/api/alerts/", s.handleAPIAlert)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/", s.staticHandler())

	if cfg.EnablePrometheus {
		s.registerPrometheus(mux)
	}
	if cfg.EnablePprof {
		registerPprof(mux)
	}

	handler := s.withRequestLogging(mux)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Handler exposes the fully wrapped handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving HTTP until shutdown is requested.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("listener stopped")
	return nil
}

// Shutdown attempts a graceful shutdown within the supplied context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func allowOnly(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, method := range methods {
		if r.Method == method {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.loggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet) {
		return
	}

	info := s.readiness()
	statusCode := http.StatusOK
	if info.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, statusCode, info)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, r, http.StatusOK, version.Current())
}

func (s *Server) handleAPIDocs(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet) {
		return
	}

	if r.URL.Path != "/api" && r.URL.Path != "/api/" {
		http.NotFound(w, r)
		return
	}

	logger := s.loggerFromContext(r.Context())
	data, err := embeddedAssets.ReadFile("assets/api.html")
	if err != nil {
		logger.Error("failed to read api docs asset", "err", err)
		http.Error(w, "missing api docs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(data); err != nil {
		logger.Warn("failed to write api docs response", "err", err)
	}
}

type unitEntry struct {
	ID      uint8  `json:"id"`
	Label   string `json:"label"`
	Known   bool   `json:"known"`
	Live    bool   `json:"live"`
	Warning bool   `json:"warning"`
}

func (s *Server) unitEntries() []unitEntry {
	index := make(map[uint8]*unitEntry)
	for _, info := range s.units.List() {
		index[info.ID] = &unitEntry{ID: info.ID, Label: info.Label, Known: true}
	}
	if s.dashboard != nil {
		for _, id := range s.dashboard.UnitIDs() {
			entry, ok := index[id]
			if !ok {
				entry = &unitEntry{ID: id, Label: s.units.Label(id)}
				index[id] = entry
			}
			if view, ok := s.dashboard.Latest(id); ok {
				entry.Live = true
				entry.Warning = view.Warning
			}
		}
	}

	out := make([]unitEntry, 0, len(index))
	for _, entry := range index {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Server) handleAPIUnits(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.unitEntries())
}

func (s *Server) handleAPIUnitSubresource(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet) {
		return
	}

	const prefix = "/api/units/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	segments := strings.Split(rest, "/")
	if len(segments) != 2 || segments[0] == "" {
		http.NotFound(w, r)
		return
	}

	unitID, err := units.ParseID(segments[0])
	if err != nil {
		http.NotFound(w, r)
		return
	}

	switch segments[1] {
	case "frame":
		s.serveUnitFrame(w, r, unitID)
	case "frame.png":
		s.serveUnitImage(w, r, unitID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) latestView(w http.ResponseWriter, r *http.Request, unitID uint8) (dashboard.View, bool) {
	if s.dashboard == nil && s.cache == nil {
		http.Error(w, "dashboard unavailable", http.StatusServiceUnavailable)
		return dashboard.View{}, false
	}
	var (
		view dashboard.View
		ok   bool
	)
	if s.dashboard != nil {
		view, ok = s.dashboard.Latest(unitID)
	}
	if !ok && s.cache != nil {
		cached, err := s.cache.Get(r.Context(), unitID)
		switch {
		case err == nil:
			view, ok = cached, true
		case !errors.Is(err, cache.ErrMiss):
			s.loggerFromContext(r.Context()).Warn("cached view lookup failed", "unit_id", unitID, "err", err)
		}
	}
	if !ok {
		if !s.units.Known(unitID) {
			http.Error(w, "unknown unit", http.StatusNotFound)
			return dashboard.View{}, false
		}
		http.Error(w, "no frame available", http.StatusServiceUnavailable)
		return dashboard.View{}, false
	}
	return view, true
}

func (s *Server) serveUnitFrame(w http.ResponseWriter, r *http.Request, unitID uint8) {
	view, ok := s.latestView(w, r, unitID)
	if !ok {
		return
	}
	s.writeJSON(w, r, http.StatusOK, view)
}

func (s *Server) serveUnitImage(w http.ResponseWriter, r *http.Request, unitID uint8) {
	view, ok := s.latestView(w, r, unitID)
	if !ok {
		return
	}
	if len(view.PNG) == 0 {
		http.Error(w, "no image available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(view.PNG)))
	if _, err := w.Write(view.PNG); err != nil {
		s.loggerFromContext(r.Context()).Warn("failed to write frame image", "unit_id", unitID, "err", err)
	}
}

func (s *Server) handleAPIStream(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet) {
		return
	}
	if s.session == nil {
		http.Error(w, "stream session unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.session.Status())
}

func (s *Server) backendStatus(w http.ResponseWriter) (gateway.Status, bool) {
	if s.poller == nil {
		http.Error(w, "backend not configured", http.StatusServiceUnavailable)
		return gateway.Status{}, false
	}
	status, ok := s.poller.Latest()
	if !ok {
		http.Error(w, "backend not polled yet", http.StatusServiceUnavailable)
		return gateway.Status{}, false
	}
	return status, true
}

func (s *Server) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet) {
		return
	}
	status, ok := s.backendStatus(w)
	if !ok {
		return
	}
	code := http.StatusOK
	if !status.Available {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, code, status)
}

func (s *Server) handleAPIAlerts(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet, http.MethodDelete) {
		return
	}

	if r.Method == http.MethodDelete {
		if s.poller == nil {
			http.Error(w, "backend not configured", http.StatusServiceUnavailable)
			return
		}
		if err := s.poller.DeleteAllAlerts(r.Context()); err != nil {
			s.loggerFromContext(r.Context()).Warn("delete all alerts failed", "err", err)
			http.Error(w, "backend request failed", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	status, ok := s.backendStatus(w)
	if !ok {
		return
	}
	if !status.AlertsAvailable {
		s.loggerFromContext(r.Context()).Debug("alert list unavailable", "err", status.AlertsError)
		http.Error(w, "alert list unavailable", http.StatusBadGateway)
		return
	}
	s.writeJSON(w, r, http.StatusOK, status.Alerts)
}

func (s *Server) handleAPIAlert(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodDelete) {
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/alerts/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid alert id", http.StatusBadRequest)
		return
	}
	if s.poller == nil {
		http.Error(w, "backend not configured", http.StatusServiceUnavailable)
		return
	}

	if err := s.poller.DeleteAlert(r.Context(), id); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			http.Error(w, "alert not found", http.StatusNotFound)
			return
		}
		s.loggerFromContext(r.Context()).Warn("delete alert failed", "alert_id", id, "err", err)
		http.Error(w, "backend request failed", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) features() map[string]bool {
	return map[string]bool{
		"alerts":            s.poller != nil,
		"metrics":           s.cfg.EnablePrometheus,
		"simulated_stream":  s.cfg.Stream.Source == config.SourceSimulated,
		"simulated_backend": s.cfg.Backend.Simulate,
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	reqLogger := s.loggerFromContext(r.Context())
	if !allowOnly(w, r, http.MethodGet) {
		return
	}

	if !s.reserveWS() {
		reqLogger.Warn("websocket rejected", "reason", "capacity")
		http.Error(w, "websocket capacity reached", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseWS()

	opts := &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.AllowedOrigins),
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		reqLogger.Warn("websocket accept failed", "err", err)
		return
	}
	defer closeWebsocket(reqLogger, conn)

	connID := s.wsConnIDs.Add(1)
	s.wsTotal.Add(1)
	logger := reqLogger.With("ws_id", connID)

	outbound := newWSOutbound(wsSendQueueSize, &s.wsDropped)

	hello := api.NewHelloMessage(
		s.units.List(),
		s.cfg.WarningThreshold,
		api.Turbine{Number: s.cfg.TurbineNumber, ParkID: s.cfg.ParkID},
		s.features(),
	)

	ctx, cancel := context.WithCancel(r.Context())

	writerDone := make(chan struct{})
	go s.wsWriter(ctx, conn, outbound, cancel, logger, writerDone)

	var (
		viewCh     <-chan dashboard.View
		statusCh   <-chan gateway.Status
		streamCh   <-chan stream.Status
		unsubFuncs []func()
		unitFilter uint8
	)

	defer func() {
		for _, unsubscribe := range unsubFuncs {
			unsubscribe()
		}
		outbound.close()
		cancel()
		<-writerDone
	}()

	if !s.enqueueMessage(outbound, hello, logger) {
		return
	}

	if s.dashboard != nil {
		ch, unsubscribe := s.dashboard.Subscribe()
		viewCh = ch
		unsubFuncs = append(unsubFuncs, unsubscribe)
	}
	if s.poller != nil {
		ch, unsubscribe := s.poller.Subscribe()
		statusCh = ch
		unsubFuncs = append(unsubFuncs, unsubscribe)
	}
	if s.session != nil {
		ch, unsubscribe := s.session.SubscribeStatus()
		streamCh = ch
		unsubFuncs = append(unsubFuncs, unsubscribe)
	}

	messageCh := make(chan []byte, 8)
	readErrCh := make(chan error, 1)
	go s.readMessages(ctx, conn, messageCh, readErrCh)

	switchFilter := func(target uint8) error {
		if target != 0 && !s.units.Known(target) {
			if s.dashboard == nil {
				return fmt.Errorf("unknown unit %d", target)
			}
			if _, ok := s.dashboard.Latest(target); !ok {
				return fmt.Errorf("unknown unit %d", target)
			}
		}
		unitFilter = target
		logger.Info("ws subscribed", "unit_id", target)

		if s.dashboard == nil {
			return nil
		}
		for _, id := range s.dashboard.UnitIDs() {
			if target != 0 && id != target {
				continue
			}
			if view, ok := s.dashboard.Latest(id); ok {
				if !s.enqueueMessage(outbound, api.NewTelemetryMessage(view), logger) {
					return fmt.Errorf("failed to enqueue telemetry")
				}
			}
		}
		return nil
	}

	for {
		select {
		case view, ok := <-viewCh:
			if !ok {
				viewCh = nil
				continue
			}
			if unitFilter != 0 && view.UnitID != unitFilter {
				continue
			}
			if !s.enqueueMessage(outbound, api.NewTelemetryMessage(view), logger) {
				return
			}
		case status, ok := <-statusCh:
			if !ok {
				statusCh = nil
				continue
			}
			if !s.enqueueMessage(outbound, api.NewStatusMessage(status), logger) {
				return
			}
		case status, ok := <-streamCh:
			if !ok {
				streamCh = nil
				continue
			}
			if !s.enqueueMessage(outbound, api.NewStreamMessage(status), logger) {
				return
			}
		case data, ok := <-messageCh:
			if !ok {
				messageCh = nil
				continue
			}
			if err := s.handleClientMessage(outbound, data, switchFilter, logger); err != nil {
				logger.Warn("client message handling error", "err", err)
				return
			}
		case err := <-readErrCh:
			if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				logger.Warn("websocket read error", "err", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) readMessages(ctx context.Context, conn *websocket.Conn, out chan<- []byte, errCh chan<- error) {
	defer close(out)
	for {
		readCtx := ctx
		var cancel context.CancelFunc
		if s.cfg.WS.ReadTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, s.cfg.WS.ReadTimeout)
		}
		msgType, data, err := conn.Read(readCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				continue
			}
			errCh <- err
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		select {
		case out <- data:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleClientMessage(outbound *wsOutbound, data []byte, switchFilter func(uint8) error, logger *slog.Logger) error {
	var envelope api.ClientMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		logger.Debug("invalid client message", "err", err)
		return nil
	}

	switch envelope.Type {
	case api.TypeSubscribe:
		var msg api.SubscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if !s.enqueueError(outbound, "invalid subscribe payload", logger) {
				return fmt.Errorf("failed to enqueue subscribe error")
			}
			return nil
		}
		if err := switchFilter(msg.UnitID); err != nil {
			if !s.enqueueError(outbound, err.Error(), logger) {
				return fmt.Errorf("failed to enqueue subscription error")
			}
			return nil
		}
	case api.TypePing:
		if !s.enqueueMessage(outbound, api.PongMessage{Type: api.TypePong}, logger) {
			return fmt.Errorf("failed to enqueue pong response")
		}
	default:
		logger.Debug("unknown message type", "type", envelope.Type)
	}
	return nil
}

func (s *Server) wsWriter(ctx context.Context, conn *websocket.Conn, outbound *wsOutbound, cancel context.CancelFunc, logger *slog.Logger, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-outbound.channel():
			if !ok {
				return
			}
			if err := s.writeRaw(ctx, conn, msg); err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					logger.Warn("websocket write failed", "err", err)
				}
				cancel()
				return
			}
			s.wsSent.Add(1)
		}
	}
}

func (s *Server) writeRaw(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.WS.WriteTimeout > 0 {
		writeCtx, cancel = context.WithTimeout(ctx, s.cfg.WS.WriteTimeout)
	}
	if cancel != nil {
		defer cancel()
	}
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (s *Server) enqueueMessage(outbound *wsOutbound, payload any, logger *slog.Logger) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal websocket payload", "err", err)
		return false
	}
	if !outbound.enqueue(data) {
		logger.Warn("websocket outbound queue unavailable")
		return false
	}
	return true
}

func (s *Server) enqueueError(outbound *wsOutbound, msg string, logger *slog.Logger) bool {
	return s.enqueueMessage(outbound, api.ErrorMessage{Type: api.TypeError, Message: msg}, logger)
}

func (s *Server) reserveWS() bool {
	if s.maxWSClients <= 0 {
		s.wsActive.Add(1)
		return true
	}

	for {
		current := s.wsActive.Load()
		if current >= s.maxWSClients {
			s.wsRejected.Add(1)
			return false
		}
		if s.wsActive.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (s *Server) releaseWS() {
	s.wsActive.Add(-1)
}

func registerPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

func originPatterns(origins []string) []string {
	for _, origin := range origins {
		if origin == "*" {
			return nil
		}
	}
	dst := make([]string, len(origins))
	copy(dst, origins)
	return dst
}

// readiness is ok once the stream is connected and at least one frame has
// been rendered. A dropped stream degrades readiness even with cached frames.
func (s *Server) readiness() readyResponse {
	resp := readyResponse{Units: len(s.units.List())}

	if s.dashboard == nil || s.session == nil {
		resp.Status = "degraded"
		resp.Reason = "stream_not_configured"
		return resp
	}

	resp.StreamState = s.session.State().String()
	resp.LiveUnits = len(s.dashboard.UnitIDs())

	if !s.session.Connected() {
		resp.Status = "degraded"
		resp.Reason = "stream_disconnected"
		return resp
	}

	if !s.dashboard.Ready() {
		resp.Status = "initializing"
		resp.Reason = "waiting_for_frames"
		return resp
	}

	resp.Status = "ok"
	return resp
}

type readyResponse struct {
	Status      string `json:"status"`
	Units       int    `json:"units"`
	LiveUnits   int    `json:"live_units"`
	StreamState string `json:"stream_state,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type wsOutbound struct {
	ch     chan []byte
	closed atomic.Bool
	drops  *atomic.Uint64
}

func newWSOutbound(size int, dropCounter *atomic.Uint64) *wsOutbound {
	if size <= 0 {
		size = 1
	}
	return &wsOutbound{
		ch:    make(chan []byte, size),
		drops: dropCounter,
	}
}

// enqueue queues msg, evicting the oldest queued message when full.
func (o *wsOutbound) enqueue(msg []byte) bool {
	if o.closed.Load() {
		o.countDrop()
		return false
	}

	select {
	case o.ch <- msg:
		return true
	default:
	}

	select {
	case <-o.ch:
		o.countDrop()
	default:
	}

	select {
	case o.ch <- msg:
		return true
	default:
		o.countDrop()
		return false
	}
}

func (o *wsOutbound) close() {
	if o.closed.CompareAndSwap(false, true) {
		close(o.ch)
	}
}

func (o *wsOutbound) channel() <-chan []byte {
	return o.ch
}

func (o *wsOutbound) countDrop() {
	if o.drops != nil {
		o.drops.Add(1)
	}
}
