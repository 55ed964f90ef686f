package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codejudge/internal/judge/sandbox/spec"
)

const baseConfig = `
server:
  addr: 127.0.0.1:9000
logger:
  level: info
  format: json
status:
  store: memory
sandbox:
  backend: unsupported
languages:
  - id: python
    name: Python
    sourceFile: main.py
    runCmd: "python3 -I {src}"
  - id: javascript
    name: JavaScript
    sourceFile: main.js
    runCmd: "node {src}"
    timeMultiplier: 1.5
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "judge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppConfigDefaults(t *testing.T) {
	cfg, err := loadAppConfig(writeConfig(t, baseConfig), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" || cfg.Server.ShutdownTimeout != defaultShutdownTimeout {
		t.Fatalf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Limits != spec.DefaultLimits() {
		t.Fatalf("limits should default, got %+v", cfg.Limits)
	}
	if len(cfg.Languages) != 2 || cfg.Languages[1].TimeMultiplier != 1.5 {
		t.Fatalf("unexpected languages %+v", cfg.Languages)
	}
	if cfg.Kafka.ReportTopic != "" {
		t.Fatalf("report topic only defaults when kafka is configured")
	}
	if cfg.Redis.DialTimeout != 5*time.Second {
		t.Fatalf("redis defaults should apply, got %v", cfg.Redis.DialTimeout)
	}
}

func TestEnumeratedOptionsRejected(t *testing.T) {
	cases := map[string][2]string{
		"backend":    {"backend: unsupported", "backend: firecracker"},
		"format":     {"format: json", "format: xml"},
		"level":      {"level: info", "level: loud"},
		"store":      {"store: memory", "store: etcd"},
		"language":   {"id: javascript", "id: ruby"},
		"redis":      {"store: memory", "store: redis"},
		"namespaces": {"backend: unsupported", "backend: process\n  enableNamespaces: false"},
		"uid":        {"backend: unsupported", "backend: unsupported\n  sandboxUid: -1"},
	}
	for name, swap := range cases {
		body := strings.Replace(baseConfig, swap[0], swap[1], 1)
		if _, err := loadAppConfig(writeConfig(t, body), ""); err == nil {
			t.Fatalf("%s: expected load error", name)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg := &AppConfig{}
	env := map[string]string{
		"CODEJUDGE_HTTP_ADDR":       ":8080",
		"CODEJUDGE_REDIS_ADDR":      "redis:6379",
		"CODEJUDGE_KAFKA_BROKERS":   "k1:9092, k2:9092,",
		"CODEJUDGE_SANDBOX_BACKEND": "docker",
		"CODEJUDGE_LOG_LEVEL":       " debug ",
	}
	applyEnvOverrides(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if cfg.Server.Addr != ":8080" || cfg.Redis.Addr != "redis:6379" || cfg.Sandbox.Backend != "docker" || cfg.Logger.Level != "debug" {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}

	applyDefaults(cfg)
	if cfg.Status.Store != storeRedis || cfg.Kafka.ReportTopic != defaultReportTopic {
		t.Fatalf("redis and kafka defaults should follow overrides: %+v %+v", cfg.Status, cfg.Kafka)
	}
}

func TestDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("CODEJUDGE_GRPC_ADDR=127.0.0.1:9100\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("CODEJUDGE_GRPC_ADDR", "")
	os.Unsetenv("CODEJUDGE_GRPC_ADDR")

	cfg, err := loadAppConfig(writeConfig(t, baseConfig), envPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GRPC.Addr != "127.0.0.1:9100" {
		t.Fatalf("env file should override grpc addr, got %q", cfg.GRPC.Addr)
	}
	if _, err := loadAppConfig(writeConfig(t, baseConfig), filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing env file is not an error: %v", err)
	}
}

func TestParseCompression(t *testing.T) {
	for _, ok := range []string{"", "none", "gzip", "SNAPPY", "lz4", "zstd"} {
		if _, err := parseCompression(ok); err != nil {
			t.Fatalf("%q should parse: %v", ok, err)
		}
	}
	if _, err := parseCompression("brotli"); err == nil {
		t.Fatalf("unknown codec should fail")
	}
}

func TestShippedConfigLoads(t *testing.T) {
	path := filepath.Join("..", "..", "configs", "judge_service.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skipf("config not found: %v", err)
	}
	cfg, err := loadAppConfig(path, "")
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	if len(cfg.Languages) != 2 {
		t.Fatalf("shipped config should declare both languages")
	}
}
