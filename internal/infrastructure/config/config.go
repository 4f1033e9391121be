package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for edinbridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	History  HistoryConfig  `yaml:"history"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// GatewayConfig contains the eDIN+ NPU connection settings.
type GatewayConfig struct {
	// Host is the NPU hostname or IP address. The HTTP discovery
	// endpoints are always reached on port 80.
	Host string `yaml:"host"`

	// TCPPort is the NPU gateway-interface TCP port.
	TCPPort int `yaml:"tcp_port"`

	// UseSceneProxy routes dimmer commands through single-channel scenes
	// where the NPU configuration allows it. The NPU handles scene
	// recalls more reliably than rapid channel fades.
	UseSceneProxy bool `yaml:"use_scene_proxy"`

	// PulseTimeMs is the pulse duration for relay pulse outputs.
	PulseTimeMs int `yaml:"pulse_time_ms"`

	// SystemInfoInterval is how often (seconds) the configuration
	// fingerprint is re-fetched to detect NPU reconfiguration.
	SystemInfoInterval int `yaml:"systeminfo_interval"`

	KeepAlive KeepAliveConfig `yaml:"keep_alive"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// KeepAliveConfig contains the TCP keep-alive watchdog settings.
// The NPU silently drops idle gateway connections after roughly an hour,
// so the watchdog both keeps the socket warm and proves liveness.
type KeepAliveConfig struct {
	// Interval is the seconds between keep-alive probes.
	Interval int `yaml:"interval"`

	// Timeout is the seconds to wait for an !OK; acknowledgement.
	Timeout int `yaml:"timeout"`

	// Grace is the extra seconds of dispatcher latency tolerated when
	// accepting an acknowledgement from an overlapping probe.
	Grace int `yaml:"grace"`

	// MaxFailures is the number of consecutive missed acknowledgements
	// before the socket is forced closed and reconnected.
	MaxFailures int `yaml:"max_failures"`
}

// ReconnectConfig contains the TCP reconnection backoff settings.
type ReconnectConfig struct {
	// InitialDelay is the first retry delay in seconds.
	InitialDelay int `yaml:"initial_delay"`

	// MaxDelay caps the exponential backoff, in seconds.
	MaxDelay int `yaml:"max_delay"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	QoS    int              `yaml:"qos"`

	// TopicPrefix is the root of all published topics. The gateway host
	// is appended below it, e.g. "edin/npu-house/dimmer/...".
	TopicPrefix string `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HistoryConfig contains the SQLite state/event history settings.
// The history is an append-only diagnostic log; it is never read back
// into live entity state.
type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays is how long entries are kept before pruning.
	RetentionDays int `yaml:"retention_days"`
}

// InfluxDBConfig contains optional channel-level telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file, applies environment variable
// overrides and validates the result.
//
// Precedence (lowest to highest): built-in defaults, YAML file, environment.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns the built-in defaults. The keep-alive numbers match
// observed NPU behaviour: the unit drops idle gateway connections after about
// 3600s and acknowledges $OK; within a couple of seconds when healthy.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			TCPPort:            26,
			UseSceneProxy:      true,
			PulseTimeMs:        1000,
			SystemInfoInterval: 300,
			KeepAlive: KeepAliveConfig{
				Interval:    60,
				Timeout:     2,
				Grace:       1,
				MaxFailures: 5,
			},
			Reconnect: ReconnectConfig{
				InitialDelay: 5,
				MaxDelay:     300,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "edinbridge",
			},
			QoS:         1,
			TopicPrefix: "edin",
		},
		History: HistoryConfig{
			Enabled:       false,
			Path:          "data/edinbridge.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		InfluxDB: InfluxDBConfig{
			Enabled:       false,
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides for values that
// commonly differ between deployments (host, credentials, log level).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EDINBRIDGE_GATEWAY_HOST"); v != "" {
		cfg.Gateway.Host = v
	}
	if v := os.Getenv("EDINBRIDGE_GATEWAY_TCP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.TCPPort = port
		}
	}
	if v := os.Getenv("EDINBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("EDINBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("EDINBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("EDINBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("EDINBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	if c.Gateway.Host == "" {
		return fmt.Errorf("gateway.host is required")
	}
	if c.Gateway.TCPPort <= 0 || c.Gateway.TCPPort > 65535 {
		return fmt.Errorf("gateway.tcp_port must be between 1 and 65535, got %d", c.Gateway.TCPPort)
	}
	if c.Gateway.KeepAlive.Interval <= 0 {
		return fmt.Errorf("gateway.keep_alive.interval must be positive, got %d", c.Gateway.KeepAlive.Interval)
	}
	if c.Gateway.KeepAlive.Timeout <= 0 {
		return fmt.Errorf("gateway.keep_alive.timeout must be positive, got %d", c.Gateway.KeepAlive.Timeout)
	}
	if c.Gateway.KeepAlive.Grace < 0 {
		return fmt.Errorf("gateway.keep_alive.grace must not be negative, got %d", c.Gateway.KeepAlive.Grace)
	}
	if c.Gateway.KeepAlive.MaxFailures <= 0 {
		return fmt.Errorf("gateway.keep_alive.max_failures must be positive, got %d", c.Gateway.KeepAlive.MaxFailures)
	}
	if c.Gateway.Reconnect.InitialDelay <= 0 {
		return fmt.Errorf("gateway.reconnect.initial_delay must be positive, got %d", c.Gateway.Reconnect.InitialDelay)
	}
	if c.Gateway.Reconnect.MaxDelay < c.Gateway.Reconnect.InitialDelay {
		return fmt.Errorf("gateway.reconnect.max_delay (%d) must be >= initial_delay (%d)",
			c.Gateway.Reconnect.MaxDelay, c.Gateway.Reconnect.InitialDelay)
	}
	if c.Gateway.SystemInfoInterval <= 0 {
		return fmt.Errorf("gateway.systeminfo_interval must be positive, got %d", c.Gateway.SystemInfoInterval)
	}
	if c.Gateway.PulseTimeMs <= 0 {
		return fmt.Errorf("gateway.pulse_time_ms must be positive, got %d", c.Gateway.PulseTimeMs)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.Broker.Host == "" {
		return fmt.Errorf("mqtt.broker.host is required")
	}
	if c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("mqtt.topic_prefix is required")
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			return fmt.Errorf("influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			return fmt.Errorf("influxdb.bucket is required when influxdb is enabled")
		}
	}
	return nil
}

// GetKeepAliveInterval returns the keep-alive probe interval.
func (g *GatewayConfig) GetKeepAliveInterval() time.Duration {
	return time.Duration(g.KeepAlive.Interval) * time.Second
}

// GetKeepAliveTimeout returns the acknowledgement wait per probe.
func (g *GatewayConfig) GetKeepAliveTimeout() time.Duration {
	return time.Duration(g.KeepAlive.Timeout) * time.Second
}

// GetKeepAliveGrace returns the acknowledgement grace window.
func (g *GatewayConfig) GetKeepAliveGrace() time.Duration {
	return time.Duration(g.KeepAlive.Grace) * time.Second
}

// GetInitialReconnectDelay returns the starting backoff delay.
func (g *GatewayConfig) GetInitialReconnectDelay() time.Duration {
	return time.Duration(g.Reconnect.InitialDelay) * time.Second
}

// GetMaxReconnectDelay returns the backoff cap.
func (g *GatewayConfig) GetMaxReconnectDelay() time.Duration {
	return time.Duration(g.Reconnect.MaxDelay) * time.Second
}

// GetSystemInfoInterval returns the fingerprint polling interval.
func (g *GatewayConfig) GetSystemInfoInterval() time.Duration {
	return time.Duration(g.SystemInfoInterval) * time.Second
}

// GetPulseTime returns the relay pulse duration.
func (g *GatewayConfig) GetPulseTime() time.Duration {
	return time.Duration(g.PulseTimeMs) * time.Millisecond
}

// GetRetention returns the history retention window.
func (h *HistoryConfig) GetRetention() time.Duration {
	return time.Duration(h.RetentionDays) * 24 * time.Hour
}
