package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
gateway:
  host: npu.local
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Gateway.Host != "npu.local" {
		t.Errorf("host = %q", cfg.Gateway.Host)
	}
	if cfg.Gateway.TCPPort != 26 {
		t.Errorf("tcp_port = %d, want default 26", cfg.Gateway.TCPPort)
	}
	if !cfg.Gateway.UseSceneProxy {
		t.Error("use_scene_proxy default must be true")
	}
	if cfg.Gateway.KeepAlive.Interval != 60 || cfg.Gateway.KeepAlive.MaxFailures != 5 {
		t.Errorf("keep_alive defaults = %+v", cfg.Gateway.KeepAlive)
	}
	if cfg.MQTT.TopicPrefix != "edin" || cfg.MQTT.QoS != 1 {
		t.Errorf("mqtt defaults = %+v", cfg.MQTT)
	}
	if cfg.History.Enabled || cfg.InfluxDB.Enabled {
		t.Error("optional sinks must default to disabled")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
gateway:
  host: 192.168.1.50
  tcp_port: 10001
  use_scene_proxy: false
  keep_alive:
    interval: 30
mqtt:
  broker:
    host: broker.local
    port: 8883
    tls: true
  topic_prefix: home/edin
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Gateway.TCPPort != 10001 {
		t.Errorf("tcp_port = %d", cfg.Gateway.TCPPort)
	}
	if cfg.Gateway.UseSceneProxy {
		t.Error("use_scene_proxy not overridden")
	}
	if cfg.Gateway.KeepAlive.Interval != 30 {
		t.Errorf("keep_alive.interval = %d", cfg.Gateway.KeepAlive.Interval)
	}
	// Unset siblings keep their defaults.
	if cfg.Gateway.KeepAlive.MaxFailures != 5 {
		t.Errorf("keep_alive.max_failures = %d, want default 5", cfg.Gateway.KeepAlive.MaxFailures)
	}
	if !cfg.MQTT.Broker.TLS || cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("broker = %+v", cfg.MQTT.Broker)
	}
	if cfg.MQTT.TopicPrefix != "home/edin" {
		t.Errorf("topic_prefix = %q", cfg.MQTT.TopicPrefix)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
gateway:
  host: npu.local
mqtt:
  auth:
    username: filevalue
`)

	t.Setenv("EDINBRIDGE_GATEWAY_HOST", "npu-env.local")
	t.Setenv("EDINBRIDGE_GATEWAY_TCP_PORT", "10001")
	t.Setenv("EDINBRIDGE_MQTT_USERNAME", "envuser")
	t.Setenv("EDINBRIDGE_MQTT_PASSWORD", "envpass")
	t.Setenv("EDINBRIDGE_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Gateway.Host != "npu-env.local" {
		t.Errorf("host = %q, env must win over file", cfg.Gateway.Host)
	}
	if cfg.Gateway.TCPPort != 10001 {
		t.Errorf("tcp_port = %d", cfg.Gateway.TCPPort)
	}
	if cfg.MQTT.Auth.Username != "envuser" || cfg.MQTT.Auth.Password != "envpass" {
		t.Errorf("auth = %+v", cfg.MQTT.Auth)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Gateway.Host = "npu.local"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing host",
			mutate:  func(c *Config) { c.Gateway.Host = "" },
			wantErr: "gateway.host",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Gateway.TCPPort = 70000 },
			wantErr: "tcp_port",
		},
		{
			name:    "zero keepalive interval",
			mutate:  func(c *Config) { c.Gateway.KeepAlive.Interval = 0 },
			wantErr: "keep_alive.interval",
		},
		{
			name:    "negative grace",
			mutate:  func(c *Config) { c.Gateway.KeepAlive.Grace = -1 },
			wantErr: "grace",
		},
		{
			name: "max delay below initial",
			mutate: func(c *Config) {
				c.Gateway.Reconnect.InitialDelay = 60
				c.Gateway.Reconnect.MaxDelay = 30
			},
			wantErr: "max_delay",
		},
		{
			name:    "bad qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "qos",
		},
		{
			name:    "empty topic prefix",
			mutate:  func(c *Config) { c.MQTT.TopicPrefix = "" },
			wantErr: "topic_prefix",
		},
		{
			name: "history enabled without path",
			mutate: func(c *Config) {
				c.History.Enabled = true
				c.History.Path = ""
			},
			wantErr: "history.path",
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.Gateway.GetKeepAliveInterval(); got != 60*time.Second {
		t.Errorf("keep-alive interval = %v", got)
	}
	if got := cfg.Gateway.GetKeepAliveTimeout(); got != 2*time.Second {
		t.Errorf("keep-alive timeout = %v", got)
	}
	if got := cfg.Gateway.GetKeepAliveGrace(); got != time.Second {
		t.Errorf("keep-alive grace = %v", got)
	}
	if got := cfg.Gateway.GetInitialReconnectDelay(); got != 5*time.Second {
		t.Errorf("initial reconnect delay = %v", got)
	}
	if got := cfg.Gateway.GetMaxReconnectDelay(); got != 300*time.Second {
		t.Errorf("max reconnect delay = %v", got)
	}
	if got := cfg.Gateway.GetSystemInfoInterval(); got != 5*time.Minute {
		t.Errorf("systeminfo interval = %v", got)
	}
	if got := cfg.Gateway.GetPulseTime(); got != time.Second {
		t.Errorf("pulse time = %v", got)
	}
	if got := cfg.History.GetRetention(); got != 30*24*time.Hour {
		t.Errorf("retention = %v", got)
	}
}
