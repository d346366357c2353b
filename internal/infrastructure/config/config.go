package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the dispatch hub.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Hub       HubConfig       `yaml:"hub"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Agent     AgentConfig     `yaml:"agent"`
}

// HubConfig contains hub-instance identification.
type HubConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings for the activity log.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for telemetry persistence.
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

// SecurityConfig contains token validation settings.
// Token issuance is handled by an external identity service; the hub only
// validates the signatures of tokens it is presented with.
type SecurityConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	DeviceToken string `yaml:"device_token"`
}

// DispatchConfig contains tuning for the device dispatch core.
type DispatchConfig struct {
	// QueueCapacity is the per-device outbound command queue size.
	QueueCapacity int `yaml:"queue_capacity"`

	// WatermarkWindow is how far back (seconds) a freshly seen sensor's
	// telemetry watermark is initialised. Older records are dropped.
	WatermarkWindow int `yaml:"watermark_window"`
}

// AgentConfig contains settings for the field-device agent.
// Only read by dispatch-agent; ignored by the hub daemon.
type AgentConfig struct {
	HubURL         string `yaml:"hub_url"`
	DeviceID       string `yaml:"device_id"`
	Token          string `yaml:"token"`
	ReconnectDelay int    `yaml:"reconnect_delay"`
	MaxDelay       int    `yaml:"max_delay"`
}

// Default configuration values applied when fields are unset.
const (
	defaultAPIPort         = 8089
	defaultQueueCapacity   = 1000
	defaultWatermarkWindow = 300
	defaultPingInterval    = 30
	defaultPongTimeout     = 60
	defaultMaxMessageSize  = 65536
	defaultBusyTimeout     = 5
	defaultReconnectDelay  = 2
	defaultMaxDelay        = 60
)

// Load reads and parses the configuration file at the given path.
//
// After parsing, environment variable overrides are applied and defaults
// are filled in for unset values. The returned config is validated.
//
// Parameters:
//   - path: Filesystem path to the YAML configuration file
//
// Returns:
//   - *Config: Parsed and validated configuration
//   - error: If the file cannot be read, parsed, or fails validation
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path comes from operator-controlled flag/env
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Secrets in particular should come from the environment in production.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DISPATCH_JWT_SECRET"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := os.Getenv("DISPATCH_DEVICE_TOKEN"); v != "" {
		cfg.Security.DeviceToken = v
	}
	if v := os.Getenv("DISPATCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DISPATCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("DISPATCH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("DISPATCH_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
}

// applyDefaults fills in zero-valued fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.API.Port == 0 {
		cfg.API.Port = defaultAPIPort
	}
	if cfg.Dispatch.QueueCapacity == 0 {
		cfg.Dispatch.QueueCapacity = defaultQueueCapacity
	}
	if cfg.Dispatch.WatermarkWindow == 0 {
		cfg.Dispatch.WatermarkWindow = defaultWatermarkWindow
	}
	if cfg.WebSocket.PingInterval == 0 {
		cfg.WebSocket.PingInterval = defaultPingInterval
	}
	if cfg.WebSocket.PongTimeout == 0 {
		cfg.WebSocket.PongTimeout = defaultPongTimeout
	}
	if cfg.WebSocket.MaxMessageSize == 0 {
		cfg.WebSocket.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.Database.BusyTimeout == 0 {
		cfg.Database.BusyTimeout = defaultBusyTimeout
	}
	if cfg.Agent.ReconnectDelay == 0 {
		cfg.Agent.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.Agent.MaxDelay == 0 {
		cfg.Agent.MaxDelay = defaultMaxDelay
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 0 and 65535, got %d", c.API.Port)
	}
	if c.Dispatch.QueueCapacity < 1 {
		return fmt.Errorf("dispatch.queue_capacity must be positive, got %d", c.Dispatch.QueueCapacity)
	}
	if c.Dispatch.WatermarkWindow < 0 {
		return fmt.Errorf("dispatch.watermark_window must not be negative, got %d", c.Dispatch.WatermarkWindow)
	}
	if c.API.TLS.Enabled {
		if c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "" {
			return fmt.Errorf("api.tls requires cert_file and key_file when enabled")
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		return fmt.Errorf("mqtt.broker.host is required when mqtt is enabled")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		return fmt.Errorf("influxdb.url is required when influxdb is enabled")
	}
	if level := strings.ToLower(c.Logging.Level); level != "debug" && level != "info" &&
		level != "warn" && level != "warning" && level != "error" {
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

// WatermarkWindowDuration returns the watermark window as a time.Duration.
func (c *DispatchConfig) WatermarkWindowDuration() time.Duration {
	return time.Duration(c.WatermarkWindow) * time.Second
}
