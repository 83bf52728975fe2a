package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func envFrom(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestLoadConfig_Defaults(t *testing.T) {
	config, err := loadConfig(envFrom(nil))
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if !reflect.DeepEqual(config, defaultConfig()) {
		t.Errorf("config = %+v, want defaults %+v", config, defaultConfig())
	}
}

func TestLoadConfig_Environment(t *testing.T) {
	config, err := loadConfig(envFrom(map[string]string{
		"HTTP_PORT":            "9090",
		"STORE_TYPE":           "redis",
		"REDIS_DB":             "2",
		"COUNTER_RESET_POLICY": "restart",
		"SIMULATOR":            "true",
		"SIMULATOR_INTERVAL":   "250ms",
		"ACTION_RATE":          "0.5",
		"ALLOWED_ORIGINS":      "dash.example.com, *.local ,",
		"TRUST_PROXY_HEADERS":  "true",
	}))
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if config.HTTPPort != "9090" || config.StoreType != "redis" || config.RedisDB != 2 {
		t.Errorf("unexpected config %+v", config)
	}
	if config.CounterResetPolicy != "restart" || !config.Simulator {
		t.Errorf("unexpected config %+v", config)
	}
	if config.SimulatorInterval != 250*time.Millisecond {
		t.Errorf("SimulatorInterval = %v, want 250ms", config.SimulatorInterval)
	}
	if config.ActionRate != 0.5 {
		t.Errorf("ActionRate = %v, want 0.5", config.ActionRate)
	}
	if want := []string{"dash.example.com", "*.local"}; !reflect.DeepEqual(config.AllowedOrigins, want) {
		t.Errorf("AllowedOrigins = %q, want %q", config.AllowedOrigins, want)
	}
	if !config.TrustProxyHeaders {
		t.Error("TrustProxyHeaders = false, want true")
	}
	// Untouched keys keep their defaults.
	if config.GRPCPort != "50051" {
		t.Errorf("GRPCPort = %q, want 50051", config.GRPCPort)
	}
}

func TestLoadConfig_FileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aquaflow.yaml")
	file := `
store_type: sqlite
db_path: /var/lib/aquaflow/state.db
simulator: true
simulator_interval: 2s
log_format: json
`
	if err := os.WriteFile(path, []byte(file), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	config, err := loadConfig(envFrom(map[string]string{
		"CONFIG_FILE": path,
		"DB_PATH":     "/tmp/override.db",
	}))
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if config.StoreType != "sqlite" || config.LogFormat != "json" || !config.Simulator {
		t.Errorf("file values not applied: %+v", config)
	}
	if config.SimulatorInterval != 2*time.Second {
		t.Errorf("SimulatorInterval = %v, want 2s", config.SimulatorInterval)
	}
	if config.DBPath != "/tmp/override.db" {
		t.Errorf("DBPath = %q, environment should win", config.DBPath)
	}
	if config.HTTPPort != "8080" {
		t.Errorf("HTTPPort = %q, want default 8080", config.HTTPPort)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown store", env: map[string]string{"STORE_TYPE": "etcd"}},
		{name: "unknown policy", env: map[string]string{"COUNTER_RESET_POLICY": "rollover"}},
		{name: "bad duration", env: map[string]string{"SIMULATOR_INTERVAL": "soon"}},
		{name: "zero interval", env: map[string]string{"SIMULATOR_INTERVAL": "0s"}},
		{name: "bad bool", env: map[string]string{"SIMULATOR": "maybe"}},
		{name: "bad proxy flag", env: map[string]string{"TRUST_PROXY_HEADERS": "sometimes"}},
		{name: "bad int", env: map[string]string{"REDIS_DB": "two"}},
		{name: "negative rate", env: map[string]string{"ACTION_RATE": "-1"}},
		{name: "cert without key", env: map[string]string{"TLS_CERT": "server.pem"}},
		{name: "unknown log format", env: map[string]string{"LOG_FORMAT": "xml"}},
		{name: "missing config file", env: map[string]string{"CONFIG_FILE": "/nonexistent/aquaflow.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadConfig(envFrom(tt.env)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
