package config

import (
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/skobkin/gcu-sentinel/internal/units"
)

// Stream sources.
const (
	SourceWebsocket = "websocket"
	SourceMQTT      = "mqtt"
	SourceSimulated = "simulated"
)

// Config represents runtime configuration sourced from environment variables.
type Config struct {
	ListenAddr       string
	AllowedOrigins   []string
	EnablePrometheus bool
	EnablePprof      bool
	LogLevel         slog.Level

	WarningThreshold float64
	UnitLabels       map[uint8]string
	TurbineNumber    int
	ParkID           int

	Stream  StreamConfig
	MQTT    MQTTConfig
	Backend BackendConfig
	Redis   RedisConfig
	WS      WebsocketConfig
}

// StreamConfig selects and tunes the upstream telemetry transport.
type StreamConfig struct {
	Source        string
	URL           string
	RetryDelay    time.Duration
	MaxFrameBytes int64
	SimInterval   time.Duration
}

// MQTTConfig holds broker settings for the mqtt stream source.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// BackendConfig points at the alert/health service.
type BackendConfig struct {
	URL          string
	Timeout      time.Duration
	Retries      int
	Simulate     bool
	PollInterval time.Duration
}

// RedisConfig enables mirroring of views into Redis. An empty Addr disables it.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Channel   string
	TTL       time.Duration
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// WebsocketConfig captures tunables for WebSocket handling.
type WebsocketConfig struct {
	MaxClients   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// Load parses configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:       ":8080",
		AllowedOrigins:   []string{"*"},
		LogLevel:         slog.LevelInfo,
		WarningThreshold: 75,
		UnitLabels:       units.DefaultLabels(),
		TurbineNumber:    104,
		ParkID:           15,
		Stream: StreamConfig{
			Source:        SourceWebsocket,
			URL:           "ws://localhost:3000/ws",
			RetryDelay:    2 * time.Second,
			MaxFrameBytes: 4 << 20,
			SimInterval:   100 * time.Millisecond,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			Topic:    "gcu/thermal",
			ClientID: "gcu-sentinel",
		},
		Backend: BackendConfig{
			URL:          "http://localhost:3000",
			Timeout:      5 * time.Second,
			Retries:      1,
			PollInterval: 5 * time.Second,
		},
		Redis: RedisConfig{
			KeyPrefix: "gcu-sentinel:unit:",
			Channel:   "gcu-sentinel:telemetry",
			TTL:       30 * time.Second,
		},
		WS: WebsocketConfig{
			MaxClients:   64,
			WriteTimeout: 3 * time.Second,
			ReadTimeout:  30 * time.Second,
		},
	}

	var err error

	if value := env("APP_LISTEN_ADDR"); value != "" {
		cfg.ListenAddr = value
	}

	if value := env("APP_ALLOWED_ORIGINS"); value != "" {
		origins := splitAndTrim(value, ",")
		if len(origins) == 0 {
			return Config{}, fmt.Errorf("APP_ALLOWED_ORIGINS must not be empty")
		}
		cfg.AllowedOrigins = origins
	}

	if cfg.EnablePrometheus, err = envBool("APP_ENABLE_PROMETHEUS", cfg.EnablePrometheus); err != nil {
		return Config{}, err
	}
	if cfg.EnablePprof, err = envBool("APP_ENABLE_PPROF", cfg.EnablePprof); err != nil {
		return Config{}, err
	}

	if value := env("APP_LOG_LEVEL"); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	if value := env("APP_WARNING_THRESHOLD"); value != "" {
		threshold, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_WARNING_THRESHOLD: %w", err)
		}
		if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
			return Config{}, fmt.Errorf("APP_WARNING_THRESHOLD must be a finite number")
		}
		cfg.WarningThreshold = threshold
	}

	if value := env("APP_UNIT_LABELS"); value != "" {
		labels, err := units.ParseLabels(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_UNIT_LABELS: %w", err)
		}
		cfg.UnitLabels = labels
	}

	if cfg.TurbineNumber, err = envInt("APP_TURBINE_NUMBER", cfg.TurbineNumber, 0); err != nil {
		return Config{}, err
	}
	if cfg.ParkID, err = envInt("APP_PARK_ID", cfg.ParkID, 0); err != nil {
		return Config{}, err
	}

	if err := loadStream(&cfg); err != nil {
		return Config{}, err
	}
	if err := loadBackend(&cfg); err != nil {
		return Config{}, err
	}
	if err := loadRedis(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.WS.MaxClients, err = envInt("APP_WS_MAX_CLIENTS", cfg.WS.MaxClients, 1); err != nil {
		return Config{}, err
	}
	if cfg.WS.WriteTimeout, err = envDuration("APP_WS_WRITE_TIMEOUT", cfg.WS.WriteTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WS.ReadTimeout, err = envDuration("APP_WS_READ_TIMEOUT", cfg.WS.ReadTimeout); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadStream(cfg *Config) error {
	var err error

	if value := env("APP_STREAM_SOURCE"); value != "" {
		source := strings.ToLower(value)
		switch source {
		case SourceWebsocket, SourceMQTT, SourceSimulated:
			cfg.Stream.Source = source
		default:
			return fmt.Errorf("APP_STREAM_SOURCE must be one of websocket, mqtt, simulated; got %q", value)
		}
	}

	if value := env("APP_STREAM_URL"); value != "" {
		parsed, err := url.Parse(value)
		if err != nil {
			return fmt.Errorf("parse APP_STREAM_URL: %w", err)
		}
		if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
			return fmt.Errorf("APP_STREAM_URL must use ws or wss scheme")
		}
		cfg.Stream.URL = value
	}

	if cfg.Stream.RetryDelay, err = envDuration("APP_STREAM_RETRY_DELAY", cfg.Stream.RetryDelay); err != nil {
		return err
	}
	if cfg.Stream.SimInterval, err = envDuration("APP_SIM_INTERVAL", cfg.Stream.SimInterval); err != nil {
		return err
	}

	maxBytes, err := envInt("APP_STREAM_MAX_FRAME_BYTES", int(cfg.Stream.MaxFrameBytes), 1)
	if err != nil {
		return err
	}
	cfg.Stream.MaxFrameBytes = int64(maxBytes)

	if value := env("APP_MQTT_BROKER"); value != "" {
		cfg.MQTT.Broker = value
	}
	if value := env("APP_MQTT_TOPIC"); value != "" {
		cfg.MQTT.Topic = value
	}
	if value := env("APP_MQTT_CLIENT_ID"); value != "" {
		cfg.MQTT.ClientID = value
	}
	cfg.MQTT.Username = env("APP_MQTT_USERNAME")
	cfg.MQTT.Password = os.Getenv("APP_MQTT_PASSWORD")

	qos, err := envInt("APP_MQTT_QOS", int(cfg.MQTT.QoS), 0)
	if err != nil {
		return err
	}
	if qos > 2 {
		return fmt.Errorf("APP_MQTT_QOS must be 0, 1 or 2")
	}
	cfg.MQTT.QoS = byte(qos)

	return nil
}

func loadBackend(cfg *Config) error {
	var err error

	if value := env("APP_BACKEND_URL"); value != "" {
		parsed, err := url.Parse(value)
		if err != nil {
			return fmt.Errorf("parse APP_BACKEND_URL: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("APP_BACKEND_URL must use http or https scheme")
		}
		cfg.Backend.URL = strings.TrimRight(value, "/")
	}

	if cfg.Backend.Timeout, err = envDuration("APP_BACKEND_TIMEOUT", cfg.Backend.Timeout); err != nil {
		return err
	}
	if cfg.Backend.Retries, err = envInt("APP_BACKEND_RETRIES", cfg.Backend.Retries, 0); err != nil {
		return err
	}
	if cfg.Backend.Simulate, err = envBool("APP_BACKEND_SIMULATE", cfg.Backend.Simulate); err != nil {
		return err
	}
	if cfg.Backend.PollInterval, err = envDuration("APP_POLL_INTERVAL", cfg.Backend.PollInterval); err != nil {
		return err
	}
	return nil
}

func loadRedis(cfg *Config) error {
	var err error

	cfg.Redis.Addr = env("APP_REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("APP_REDIS_PASSWORD")

	if cfg.Redis.DB, err = envInt("APP_REDIS_DB", cfg.Redis.DB, 0); err != nil {
		return err
	}
	if value := env("APP_REDIS_KEY_PREFIX"); value != "" {
		cfg.Redis.KeyPrefix = value
	}
	if value, ok := os.LookupEnv("APP_REDIS_CHANNEL"); ok {
		cfg.Redis.Channel = strings.TrimSpace(value)
	}
	if cfg.Redis.TTL, err = envDuration("APP_REDIS_TTL", cfg.Redis.TTL); err != nil {
		return err
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envBool(key string, fallback bool) (bool, error) {
	value := env(key)
	if value == "" {
		return fallback, nil
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return enabled, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := env(key)
	if value == "" {
		return fallback, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return duration, nil
}

func envInt(key string, fallback, minimum int) (int, error) {
	value := env(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if n < minimum {
		return 0, fmt.Errorf("%s must be >= %d", key, minimum)
	}
	return n, nil
}

func splitAndTrim(value, sep string) []string {
	raw := strings.Split(value, sep)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
