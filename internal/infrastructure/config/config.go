package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for CorePost Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Security     SecurityConfig     `yaml:"security"`
	Registration RegistrationConfig `yaml:"registration"`
	Lock         LockConfig         `yaml:"lock"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig contains HTTP API server settings.
type ServerConfig struct {
	Host     string              `yaml:"host"`
	Port     int                 `yaml:"port"`
	TLS      TLSConfig           `yaml:"tls"`
	Timeouts ServerTimeoutConfig `yaml:"timeouts"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ServerTimeoutConfig contains HTTP timeout settings (seconds).
type ServerTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// SecurityConfig contains request authentication settings.
type SecurityConfig struct {
	// AdminToken is the static shared secret for the admin surface.
	// Always set via COREPOST_ADMIN_TOKEN in production.
	AdminToken string `yaml:"admin_token"`

	// HMACWindow is the freshness window (seconds) for signed requests.
	// Requests with |now - timestamp| greater than this are rejected
	// before any keyed comparison.
	HMACWindow int `yaml:"hmac_window"`
}

// RegistrationConfig controls how devices join the fleet.
type RegistrationConfig struct {
	// NeedApproval requires devices to be pre-registered by an admin
	// before they can self-activate.
	NeedApproval bool `yaml:"need_approval"`

	// NeedHWID requires a hardware fingerprint at registration and
	// binds the record to it.
	NeedHWID bool `yaml:"need_hwid"`
}

// LockConfig controls the panic lock/unlock protocol.
type LockConfig struct {
	// NeedApproval enables the two-phase confirm flow for lock and
	// unlock requests.
	NeedApproval bool `yaml:"need_approval"`

	// ApprovalTimeSeconds is the confirmation window for pending
	// lock/unlock requests.
	ApprovalTimeSeconds int `yaml:"approval_time_seconds"`

	// DefaultUserCanUnlock sets the unlock permission for newly
	// registered devices.
	DefaultUserCanUnlock bool `yaml:"default_user_can_unlock"`
}

// MQTTConfig contains event bus settings. The bus is optional; when
// disabled, state-change events are simply not published.
type MQTTConfig struct {
	Enabled bool             `yaml:"enabled"`
	Broker  MQTTBrokerConfig `yaml:"broker"`
	Auth    MQTTAuthConfig   `yaml:"auth"`
	QoS     int              `yaml:"qos"`
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

// InfluxDBConfig contains heartbeat telemetry settings. Optional.
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: COREPOST_SECTION_KEY
// For example: COREPOST_DATABASE_PATH, COREPOST_ADMIN_TOKEN
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8000,
			Timeouts: ServerTimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/corepost.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Security: SecurityConfig{
			HMACWindow: 5,
		},
		Lock: LockConfig{
			ApprovalTimeSeconds:  30,
			DefaultUserCanUnlock: true,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "corepost-core",
			},
			QoS: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: COREPOST_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("COREPOST_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("COREPOST_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	// Database
	if v := os.Getenv("COREPOST_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Security - admin token (IMPORTANT: always override in production)
	if v := os.Getenv("COREPOST_ADMIN_TOKEN"); v != "" {
		cfg.Security.AdminToken = v
	}

	// MQTT
	if v := os.Getenv("COREPOST_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("COREPOST_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("COREPOST_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("COREPOST_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// Security validation - admin token is REQUIRED
	// The admin surface can unlock any device in the fleet. A missing
	// or guessable token would let an attacker release a stolen device.
	const minAdminTokenLength = 16
	if c.Security.AdminToken == "" {
		errs = append(errs, "security.admin_token is required (set COREPOST_ADMIN_TOKEN environment variable)")
	} else if len(c.Security.AdminToken) < minAdminTokenLength {
		errs = append(errs, "security.admin_token must be at least 16 characters")
	}

	if c.Security.HMACWindow < 1 {
		errs = append(errs, "security.hmac_window must be at least 1 second")
	}

	// Lock validation
	if c.Lock.ApprovalTimeSeconds < 1 {
		errs = append(errs, "lock.approval_time_seconds must be at least 1 second")
	}

	// MQTT validation
	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the server read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the server write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the server idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Idle) * time.Second
}
