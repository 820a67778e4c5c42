package config

import (
	"log/slog"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected ListenAddr %q", cfg.ListenAddr)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("unexpected LogLevel %v", cfg.LogLevel)
	}
	if cfg.WarningThreshold != 75 {
		t.Fatalf("unexpected WarningThreshold %v", cfg.WarningThreshold)
	}
	wantLabels := map[uint8]string{1: "GCU 1 (Izquierda)", 2: "GCU 2 (Derecha)"}
	if !reflect.DeepEqual(cfg.UnitLabels, wantLabels) {
		t.Fatalf("unexpected UnitLabels %+v", cfg.UnitLabels)
	}
	if cfg.TurbineNumber != 104 || cfg.ParkID != 15 {
		t.Fatalf("unexpected turbine identity %d/%d", cfg.TurbineNumber, cfg.ParkID)
	}
	if cfg.Stream.Source != SourceWebsocket {
		t.Fatalf("unexpected Stream.Source %q", cfg.Stream.Source)
	}
	if cfg.Stream.URL != "ws://localhost:3000/ws" {
		t.Fatalf("unexpected Stream.URL %q", cfg.Stream.URL)
	}
	if cfg.Stream.RetryDelay != 2*time.Second {
		t.Fatalf("unexpected Stream.RetryDelay %s", cfg.Stream.RetryDelay)
	}
	if cfg.Backend.Simulate {
		t.Fatalf("backend simulation must be opt-in")
	}
	if cfg.Backend.PollInterval != 5*time.Second {
		t.Fatalf("unexpected Backend.PollInterval %s", cfg.Backend.PollInterval)
	}
	if cfg.Redis.Enabled() {
		t.Fatalf("redis must be disabled without an address")
	}
	if cfg.WS.MaxClients != 64 {
		t.Fatalf("unexpected WS.MaxClients %d", cfg.WS.MaxClients)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APP_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("APP_ALLOWED_ORIGINS", "https://example.com, https://other.test")
	t.Setenv("APP_ENABLE_PROMETHEUS", "true")
	t.Setenv("APP_ENABLE_PPROF", "true")
	t.Setenv("APP_LOG_LEVEL", "debug")
	t.Setenv("APP_WARNING_THRESHOLD", "80.5")
	t.Setenv("APP_UNIT_LABELS", "1=Left, 3=Rear")
	t.Setenv("APP_TURBINE_NUMBER", "7")
	t.Setenv("APP_PARK_ID", "2")
	t.Setenv("APP_STREAM_SOURCE", "MQTT")
	t.Setenv("APP_STREAM_URL", "wss://gcu.example/ws")
	t.Setenv("APP_STREAM_RETRY_DELAY", "500ms")
	t.Setenv("APP_STREAM_MAX_FRAME_BYTES", "1024")
	t.Setenv("APP_SIM_INTERVAL", "1s")
	t.Setenv("APP_MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("APP_MQTT_TOPIC", "turbine/7/thermal")
	t.Setenv("APP_MQTT_CLIENT_ID", "sentinel-7")
	t.Setenv("APP_MQTT_USERNAME", "user")
	t.Setenv("APP_MQTT_PASSWORD", "secret")
	t.Setenv("APP_MQTT_QOS", "1")
	t.Setenv("APP_BACKEND_URL", "https://backend.example/")
	t.Setenv("APP_BACKEND_TIMEOUT", "2s")
	t.Setenv("APP_BACKEND_RETRIES", "3")
	t.Setenv("APP_BACKEND_SIMULATE", "true")
	t.Setenv("APP_POLL_INTERVAL", "10s")
	t.Setenv("APP_REDIS_ADDR", "redis:6379")
	t.Setenv("APP_REDIS_DB", "4")
	t.Setenv("APP_REDIS_KEY_PREFIX", "t7:")
	t.Setenv("APP_REDIS_CHANNEL", "")
	t.Setenv("APP_REDIS_TTL", "1m")
	t.Setenv("APP_WS_MAX_CLIENTS", "8")
	t.Setenv("APP_WS_WRITE_TIMEOUT", "10s")
	t.Setenv("APP_WS_READ_TIMEOUT", "45s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("ListenAddr override failed, got %q", cfg.ListenAddr)
	}
	wantOrigins := []string{"https://example.com", "https://other.test"}
	if !reflect.DeepEqual(cfg.AllowedOrigins, wantOrigins) {
		t.Fatalf("AllowedOrigins mismatch: %+v", cfg.AllowedOrigins)
	}
	if !cfg.EnablePrometheus || !cfg.EnablePprof {
		t.Fatalf("feature flag overrides failed")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel override failed, got %v", cfg.LogLevel)
	}
	if cfg.WarningThreshold != 80.5 {
		t.Fatalf("WarningThreshold override failed, got %v", cfg.WarningThreshold)
	}
	if !reflect.DeepEqual(cfg.UnitLabels, map[uint8]string{1: "Left", 3: "Rear"}) {
		t.Fatalf("UnitLabels override failed, got %+v", cfg.UnitLabels)
	}
	if cfg.TurbineNumber != 7 || cfg.ParkID != 2 {
		t.Fatalf("turbine identity override failed, got %d/%d", cfg.TurbineNumber, cfg.ParkID)
	}

	wantStream := StreamConfig{
		Source:        SourceMQTT,
		URL:           "wss://gcu.example/ws",
		RetryDelay:    500 * time.Millisecond,
		MaxFrameBytes: 1024,
		SimInterval:   time.Second,
	}
	if cfg.Stream != wantStream {
		t.Fatalf("Stream override failed, got %+v", cfg.Stream)
	}
	wantMQTT := MQTTConfig{
		Broker:   "tcp://broker:1883",
		Topic:    "turbine/7/thermal",
		ClientID: "sentinel-7",
		Username: "user",
		Password: "secret",
		QoS:      1,
	}
	if cfg.MQTT != wantMQTT {
		t.Fatalf("MQTT override failed, got %+v", cfg.MQTT)
	}
	wantBackend := BackendConfig{
		URL:          "https://backend.example",
		Timeout:      2 * time.Second,
		Retries:      3,
		Simulate:     true,
		PollInterval: 10 * time.Second,
	}
	if cfg.Backend != wantBackend {
		t.Fatalf("Backend override failed, got %+v", cfg.Backend)
	}
	wantRedis := RedisConfig{
		Addr:      "redis:6379",
		DB:        4,
		KeyPrefix: "t7:",
		Channel:   "",
		TTL:       time.Minute,
	}
	if cfg.Redis != wantRedis {
		t.Fatalf("Redis override failed, got %+v", cfg.Redis)
	}
	if !cfg.Redis.Enabled() {
		t.Fatalf("expected redis enabled")
	}
	if cfg.WS.MaxClients != 8 {
		t.Fatalf("WS.MaxClients override failed, got %d", cfg.WS.MaxClients)
	}
	if cfg.WS.WriteTimeout != 10*time.Second {
		t.Fatalf("WS.WriteTimeout override failed, got %s", cfg.WS.WriteTimeout)
	}
	if cfg.WS.ReadTimeout != 45*time.Second {
		t.Fatalf("WS.ReadTimeout override failed, got %s", cfg.WS.ReadTimeout)
	}
}

func TestLoadInvalidEnv(t *testing.T) {
	testCases := []struct {
		name string
		key  string
		val  string
	}{
		{"InvalidOrigins", "APP_ALLOWED_ORIGINS", ","},
		{"InvalidPrometheusBool", "APP_ENABLE_PROMETHEUS", "maybe"},
		{"InvalidLogLevel", "APP_LOG_LEVEL", "loud"},
		{"InvalidThreshold", "APP_WARNING_THRESHOLD", "hot"},
		{"NaNThreshold", "APP_WARNING_THRESHOLD", "NaN"},
		{"InvalidUnitLabels", "APP_UNIT_LABELS", "left"},
		{"ZeroUnitID", "APP_UNIT_LABELS", "0=zero"},
		{"NegativeTurbine", "APP_TURBINE_NUMBER", "-1"},
		{"UnknownSource", "APP_STREAM_SOURCE", "carrier-pigeon"},
		{"HTTPStreamURL", "APP_STREAM_URL", "http://gcu/ws"},
		{"InvalidRetryDelay", "APP_STREAM_RETRY_DELAY", "soon"},
		{"NonPositiveRetryDelay", "APP_STREAM_RETRY_DELAY", "0s"},
		{"NonPositiveMaxFrame", "APP_STREAM_MAX_FRAME_BYTES", "0"},
		{"NegativeSimInterval", "APP_SIM_INTERVAL", "-1s"},
		{"InvalidQoS", "APP_MQTT_QOS", "3"},
		{"WSBackendURL", "APP_BACKEND_URL", "ws://backend"},
		{"InvalidBackendTimeout", "APP_BACKEND_TIMEOUT", "nope"},
		{"NegativeBackendRetries", "APP_BACKEND_RETRIES", "-1"},
		{"InvalidBackendSimulate", "APP_BACKEND_SIMULATE", "maybe"},
		{"NonPositivePollInterval", "APP_POLL_INTERVAL", "0"},
		{"InvalidRedisDB", "APP_REDIS_DB", "first"},
		{"InvalidRedisTTL", "APP_REDIS_TTL", "forever"},
		{"InvalidWSMaxClients", "APP_WS_MAX_CLIENTS", "zero"},
		{"NonPositiveWSMaxClients", "APP_WS_MAX_CLIENTS", "0"},
		{"InvalidWSWriteTimeout", "APP_WS_WRITE_TIMEOUT", "nope"},
		{"NegativeWSWriteTimeout", "APP_WS_WRITE_TIMEOUT", "-1s"},
		{"NegativeWSReadTimeout", "APP_WS_READ_TIMEOUT", "-1s"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.val)
			}
		})
	}
}
