package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skobkin/gcu-sentinel/internal/cache"
	"github.com/skobkin/gcu-sentinel/internal/dashboard"
	"github.com/skobkin/gcu-sentinel/internal/gateway"
	"github.com/skobkin/gcu-sentinel/internal/stream"
)

const metricsNamespace = "gcu_sentinel"

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Current number of active WebSocket clients.",
		}, func() float64 {
			return float64(s.wsActive.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted since start.",
		}, func() float64 {
			return float64(s.wsTotal.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "rejected_total",
			Help:      "Total WebSocket connection attempts rejected due to capacity.",
		}, func() float64 {
			return float64(s.wsRejected.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "messages_sent_total",
			Help:      "Total WebSocket messages sent to clients.",
		}, func() float64 {
			return float64(s.wsSent.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "messages_dropped_total",
			Help:      "Total WebSocket messages dropped due to backpressure.",
		}, func() float64 {
			return float64(s.wsDropped.Load())
		}),
	}

	if c := newStreamCollector(s.session); c != nil {
		collectors = append(collectors, c)
	}
	if c := newUnitCollector(s.dashboard); c != nil {
		collectors = append(collectors, c)
	}
	if c := newBackendCollector(s.poller); c != nil {
		collectors = append(collectors, c)
	}
	if c := newRedisCollector(s.cache); c != nil {
		collectors = append(collectors, c)
	}

	for _, collector := range collectors {
		registry.MustRegister(collector)
	}

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

func desc(subsystem, name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, subsystem, name),
		help,
		labels,
		nil,
	)
}

type streamCollector struct {
	session    *stream.Session
	connected  *prometheus.Desc
	decoded    *prometheus.Desc
	dropped    *prometheus.Desc
	reconnects *prometheus.Desc
	frameAge   *prometheus.Desc
}

func newStreamCollector(session *stream.Session) prometheus.Collector {
	if session == nil {
		return nil
	}
	return &streamCollector{
		session:    session,
		connected:  desc("stream", "connected", "Whether the upstream telemetry stream is connected."),
		decoded:    desc("stream", "frames_decoded_total", "Frames decoded from the upstream stream."),
		dropped:    desc("stream", "frames_dropped_total", "Malformed frames dropped, by reason.", "reason"),
		reconnects: desc("stream", "reconnects_total", "Reconnect attempts since start."),
		frameAge:   desc("stream", "last_frame_age_seconds", "Seconds since the last decoded frame."),
	}
}

func (c *streamCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connected
	ch <- c.decoded
	ch <- c.dropped
	ch <- c.reconnects
	ch <- c.frameAge
}

func (c *streamCollector) Collect(ch chan<- prometheus.Metric) {
	status := c.session.Status()
	connected := 0.0
	if status.Connected {
		connected = 1
	}
	ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, connected)
	ch <- prometheus.MustNewConstMetric(c.decoded, prometheus.CounterValue, float64(status.FramesDecoded))
	for reason, count := range status.FramesDropped {
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(count), reason)
	}
	ch <- prometheus.MustNewConstMetric(c.reconnects, prometheus.CounterValue, float64(status.Reconnects))
	if !status.LastFrameAt.IsZero() {
		age := max(time.Since(status.LastFrameAt).Seconds(), 0)
		ch <- prometheus.MustNewConstMetric(c.frameAge, prometheus.GaugeValue, age)
	}
}

type unitCollector struct {
	dashboard    *dashboard.Manager
	maxTemp      *prometheus.Desc
	avgTemp      *prometheus.Desc
	warning      *prometheus.Desc
	viewAge      *prometheus.Desc
	rendered     *prometheus.Desc
	unrenderable *prometheus.Desc
}

func newUnitCollector(manager *dashboard.Manager) prometheus.Collector {
	if manager == nil {
		return nil
	}
	return &unitCollector{
		dashboard:    manager,
		maxTemp:      desc("unit", "max_temp_celsius", "Maximum temperature reported by the unit.", "unit_id", "label"),
		avgTemp:      desc("unit", "avg_temp_celsius", "Average temperature reported by the unit.", "unit_id", "label"),
		warning:      desc("unit", "warning", "Whether the unit's maximum temperature exceeds the warning threshold.", "unit_id", "label"),
		viewAge:      desc("unit", "last_frame_age_seconds", "Seconds since the unit's latest frame was received.", "unit_id", "label"),
		rendered:     desc("render", "frames_total", "Frames rendered into images."),
		unrenderable: desc("render", "unrenderable_total", "Frames that carried no drawable cells."),
	}
}

func (c *unitCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.maxTemp
	ch <- c.avgTemp
	ch <- c.warning
	ch <- c.viewAge
	ch <- c.rendered
	ch <- c.unrenderable
}

func (c *unitCollector) Collect(ch chan<- prometheus.Metric) {
	for _, id := range c.dashboard.UnitIDs() {
		view, ok := c.dashboard.Latest(id)
		if !ok {
			continue
		}
		unit := strconv.Itoa(int(id))
		warning := 0.0
		if view.Warning {
			warning = 1
		}
		ch <- prometheus.MustNewConstMetric(c.maxTemp, prometheus.GaugeValue, float64(view.MaxTemp), unit, view.Label)
		ch <- prometheus.MustNewConstMetric(c.avgTemp, prometheus.GaugeValue, float64(view.AvgTemp), unit, view.Label)
		ch <- prometheus.MustNewConstMetric(c.warning, prometheus.GaugeValue, warning, unit, view.Label)
		age := max(time.Since(view.ReceivedAt).Seconds(), 0)
		ch <- prometheus.MustNewConstMetric(c.viewAge, prometheus.GaugeValue, age, unit, view.Label)
	}
	stats := c.dashboard.Stats()
	ch <- prometheus.MustNewConstMetric(c.rendered, prometheus.CounterValue, float64(stats.Rendered))
	ch <- prometheus.MustNewConstMetric(c.unrenderable, prometheus.CounterValue, float64(stats.Unrenderable))
}

type backendCollector struct {
	poller    *gateway.Poller
	available *prometheus.Desc
	link      *prometheus.Desc
	alerts    *prometheus.Desc
	polls     *prometheus.Desc
	failures  *prometheus.Desc
}

func newBackendCollector(poller *gateway.Poller) prometheus.Collector {
	if poller == nil {
		return nil
	}
	return &backendCollector{
		poller:    poller,
		available: desc("backend", "available", "Whether the last backend poll succeeded."),
		link:      desc("backend", "link_online", "Backend-reported link status.", "link"),
		alerts:    desc("backend", "alerts", "Number of alerts recorded by the backend."),
		polls:     desc("backend", "polls_total", "Backend polls performed."),
		failures:  desc("backend", "poll_failures_total", "Backend polls that returned an error."),
	}
}

func (c *backendCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.available
	ch <- c.link
	ch <- c.alerts
	ch <- c.polls
	ch <- c.failures
}

func (c *backendCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.poller.Stats()
	ch <- prometheus.MustNewConstMetric(c.polls, prometheus.CounterValue, float64(stats.Polls))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(stats.Failures))

	status, ok := c.poller.Latest()
	if !ok {
		return
	}
	available := 0.0
	if status.Available {
		available = 1
	}
	ch <- prometheus.MustNewConstMetric(c.available, prometheus.GaugeValue, available)
	if status.AlertsAvailable {
		ch <- prometheus.MustNewConstMetric(c.alerts, prometheus.GaugeValue, float64(len(status.Alerts)))
	}
	if status.Health != nil {
		ch <- prometheus.MustNewConstMetric(c.link, prometheus.GaugeValue, online(status.Health.MQTTStatus), "mqtt")
		ch <- prometheus.MustNewConstMetric(c.link, prometheus.GaugeValue, online(status.Health.ZeroMQStatus), "zeromq")
	}
}

func online(status string) float64 {
	if status == gateway.LinkOnline {
		return 1
	}
	return 0
}

type redisCollector struct {
	publisher *cache.RedisPublisher
	published *prometheus.Desc
	failures  *prometheus.Desc
}

func newRedisCollector(publisher *cache.RedisPublisher) prometheus.Collector {
	if publisher == nil {
		return nil
	}
	return &redisCollector{
		publisher: publisher,
		published: desc("redis", "views_published_total", "Views mirrored into Redis."),
		failures:  desc("redis", "publish_failures_total", "Views that could not be mirrored into Redis."),
	}
}

func (c *redisCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.published
	ch <- c.failures
}

func (c *redisCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.published, prometheus.CounterValue, float64(c.publisher.Published()))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(c.publisher.Failures()))
}
