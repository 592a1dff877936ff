package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
mqtt:
  broker: tcp://localhost:1883
  client_id: dispatch-test
mysql:
  dsn: user:pass@tcp(localhost:3306)/dispatch?parseTime=true
redis:
  addr: localhost:6379
match:
  radii_km: [5, 15, 30]
dispatch:
  order_ttl_seconds: 900
  hold_window_seconds: 10
reconciler:
  interval_seconds: 30
metrics:
  prometheus_enabled: true
api:
  enabled: true
  addr: ":8081"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("broker = %s", cfg.MQTT.Broker)
	}
	if cfg.Dispatch.OrderTTLSeconds != 900 {
		t.Errorf("order ttl = %d, want 900", cfg.Dispatch.OrderTTLSeconds)
	}
	if cfg.Dispatch.HoldWindowSeconds != 10 {
		t.Errorf("hold window = %d, want 10", cfg.Dispatch.HoldWindowSeconds)
	}
	if len(cfg.Match.RadiiKm) != 3 || cfg.Match.RadiiKm[0] != 5 {
		t.Errorf("radii = %v", cfg.Match.RadiiKm)
	}
	if cfg.Reconciler.IntervalSeconds != 30 {
		t.Errorf("reconciler interval = %d", cfg.Reconciler.IntervalSeconds)
	}
	if !cfg.API.Enabled || cfg.API.Addr != ":8081" {
		t.Errorf("api = %+v", cfg.API)
	}
	// defaults fill the gaps
	if cfg.Dispatch.LockTTLSeconds == 0 {
		t.Error("lock ttl default not applied")
	}
	if cfg.Reconciler.BatchSize == 0 {
		t.Error("batch size default not applied")
	}
	if cfg.Metrics.PrometheusPort == "" {
		t.Error("prometheus port default not applied")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("K_REDIS__ADDR", "redis.internal:6380")
	cfg, err := Load(writeConfig(t, "config.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Fatalf("redis addr = %s, want env override", cfg.Redis.Addr)
	}
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	if _, err := Load(writeConfig(t, "config.toml", "a = 1")); err == nil {
		t.Fatal("toml accepted")
	}
}

func TestLoadRequiresDSN(t *testing.T) {
	if _, err := Load(writeConfig(t, "config.yaml", "mqtt:\n  broker: tcp://localhost:1883\n")); err == nil {
		t.Fatal("missing mysql dsn accepted")
	}
}
