package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for myq-sync.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MyQ      MyQConfig      `yaml:"myq"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MyQConfig contains the MyQ cloud account and polling settings.
type MyQConfig struct {
	// Username is the MyQ account login (email address).
	Username string `yaml:"username"`

	// Password is the MyQ account password.
	// Prefer setting MYQSYNC_MYQ_PASSWORD over storing it in the file.
	Password string `yaml:"password"`

	// StatusInterval is the full poll cadence in minutes.
	// Bounded between 5 minutes and 24 hours. Default: 10.
	StatusInterval int `yaml:"status_interval"`

	// StatusDelay is how long after a command a targeted re-poll of the
	// commanded device is scheduled, in seconds. Door transitions continue
	// past the confirmation window, so a follow-up read is always needed.
	// Default: 30.
	StatusDelay int `yaml:"status_delay"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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

// APIConfig contains the local diagnostics HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB state-history settings.
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

// Polling interval bounds, in minutes.
const (
	MinStatusInterval = 5
	MaxStatusInterval = 24 * 60
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MYQSYNC_SECTION_KEY
// For example: MYQSYNC_MYQ_PASSWORD, MYQSYNC_DATABASE_PATH
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
		MyQ: MyQConfig{
			StatusInterval: 10,
			StatusDelay:    30,
		},
		Database: DatabaseConfig{
			Path:        "./data/myqsync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "myqsync",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8093,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MYQSYNC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MyQ account
	if v := os.Getenv("MYQSYNC_MYQ_USERNAME"); v != "" {
		cfg.MyQ.Username = v
	}
	if v := os.Getenv("MYQSYNC_MYQ_PASSWORD"); v != "" {
		cfg.MyQ.Password = v
	}

	// Database
	if v := os.Getenv("MYQSYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("MYQSYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MYQSYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MYQSYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("MYQSYNC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("MYQSYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MyQ account validation. The username is an email address; the vendor
	// rejects anything shorter than a@b.c anyway.
	const minUsernameLength = 5
	if len(c.MyQ.Username) < minUsernameLength {
		errs = append(errs, "myq.username is required (MyQ login email address)")
	}
	if c.MyQ.Password == "" {
		errs = append(errs, "myq.password is required (set MYQSYNC_MYQ_PASSWORD environment variable)")
	}
	if c.MyQ.StatusInterval < MinStatusInterval || c.MyQ.StatusInterval > MaxStatusInterval {
		errs = append(errs, "myq.status_interval must be at least 5 minutes and no more than 24 hours")
	}
	if c.MyQ.StatusDelay < 1 {
		errs = append(errs, "myq.status_delay must be at least 1 second")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetStatusInterval returns the full poll cadence as a Duration.
func (c *Config) GetStatusInterval() time.Duration {
	return time.Duration(c.MyQ.StatusInterval) * time.Minute
}

// GetStatusDelay returns the post-command re-poll delay as a Duration.
func (c *Config) GetStatusDelay() time.Duration {
	return time.Duration(c.MyQ.StatusDelay) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
