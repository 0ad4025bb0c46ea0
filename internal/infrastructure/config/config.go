package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for cgateweb.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	CGate     CGateConfig     `yaml:"cgate"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Pool      PoolConfig      `yaml:"pool"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig identifies this bridge instance. Validate requires ID; neither
// field is used for logging or for the MQTT client ID.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// CGateConfig contains connection settings for the C-Gate TCP server.
type CGateConfig struct {
	Host        string `yaml:"host"`
	CommandPort int    `yaml:"command_port"`
	EventPort   int    `yaml:"event_port"`
	Project     string `yaml:"project"`
	User        string `yaml:"user,omitempty"`
	Password    string `yaml:"password,omitempty"`
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

// BridgeConfig contains bridge behaviour settings (spec §3 Settings).
type BridgeConfig struct {
	MessageIntervalMs  int    `yaml:"message_interval_ms"`
	GetAllNetApp       string `yaml:"get_all_net_app"`
	GetAllOnStart      bool   `yaml:"get_all_on_start"`
	GetAllPeriodSeconds int   `yaml:"get_all_period_seconds"`
	RetainReads        bool   `yaml:"retain_reads"`
}

// DiscoveryConfig contains Home Assistant MQTT discovery settings.
type DiscoveryConfig struct {
	Enabled  bool              `yaml:"enabled"`
	Networks []string          `yaml:"networks"`
	Prefix   string            `yaml:"prefix"`
	AppIDs   map[string]string `yaml:"app_ids"`
}

// PoolConfig contains the C-Gate command-connection pool settings.
type PoolConfig struct {
	Size                  int `yaml:"size"`
	HealthCheckIntervalMs int `yaml:"health_check_interval_ms"`
	KeepAliveIntervalMs   int `yaml:"keep_alive_interval_ms"`
	ReconnectInitialMs    int `yaml:"reconnect_initial_ms"`
	ReconnectMaxMs        int `yaml:"reconnect_max_ms"`
	MaxRetries            int `yaml:"max_retries"`
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
// Environment variables follow the pattern: CGATEWEB_SECTION_KEY
// For example: CGATEWEB_CGATE_HOST, CGATEWEB_MQTT_HOST
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

// DetectManaged reports whether cgateweb is running under a supervised
// add-on environment (e.g. a Home Assistant supervisor). cmd/cgateweb only
// logs the result; it changes neither the config file path nor core
// behaviour.
func DetectManaged() bool {
	if os.Getenv("SUPERVISOR_TOKEN") != "" {
		return true
	}
	if os.Getenv("INGRESS_SESSION") != "" {
		return true
	}
	if _, err := os.Stat("/data/options.json"); err == nil {
		return true
	}
	return false
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "cgateweb-001",
			Name: "cgateweb",
		},
		CGate: CGateConfig{
			Host:        "localhost",
			CommandPort: 20023,
			EventPort:   20025,
			Project:     "HOME",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "cgateweb",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Bridge: BridgeConfig{
			MessageIntervalMs:  200,
			GetAllNetApp:       "",
			GetAllOnStart:      false,
			GetAllPeriodSeconds: 0,
			RetainReads:        true,
		},
		Discovery: DiscoveryConfig{
			Enabled:  false,
			Networks: nil,
			Prefix:   "homeassistant",
			AppIDs: map[string]string{
				"56": "light",
				"38": "cover",
			},
		},
		Pool: PoolConfig{
			Size:                  2,
			HealthCheckIntervalMs: 30000,
			KeepAliveIntervalMs:   60000,
			ReconnectInitialMs:    1000,
			ReconnectMaxMs:        60000,
			MaxRetries:            0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CGATEWEB_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CGATEWEB_CGATE_HOST"); v != "" {
		cfg.CGate.Host = v
	}
	if v := os.Getenv("CGATEWEB_CGATE_PROJECT"); v != "" {
		cfg.CGate.Project = v
	}
	if v := os.Getenv("CGATEWEB_CGATE_USER"); v != "" {
		cfg.CGate.User = v
	}
	if v := os.Getenv("CGATEWEB_CGATE_PASSWORD"); v != "" {
		cfg.CGate.Password = v
	}

	if v := os.Getenv("CGATEWEB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CGATEWEB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CGATEWEB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.CGate.Host == "" {
		errs = append(errs, "cgate.host is required")
	}
	if c.CGate.CommandPort < 1 || c.CGate.CommandPort > 65535 {
		errs = append(errs, "cgate.command_port must be between 1 and 65535")
	}
	if c.CGate.EventPort < 1 || c.CGate.EventPort > 65535 {
		errs = append(errs, "cgate.event_port must be between 1 and 65535")
	}
	if c.CGate.CommandPort == c.CGate.EventPort {
		errs = append(errs, "cgate.command_port and cgate.event_port must differ")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Bridge.MessageIntervalMs <= 0 {
		errs = append(errs, "bridge.message_interval_ms must be greater than 0")
	}
	if c.Bridge.GetAllPeriodSeconds < 0 {
		errs = append(errs, "bridge.get_all_period_seconds must not be negative")
	}

	if c.Pool.Size < 1 {
		errs = append(errs, "pool.size must be at least 1")
	}
	if c.Pool.HealthCheckIntervalMs < 5000 {
		errs = append(errs, "pool.health_check_interval_ms must be at least 5000")
	}
	if c.Pool.KeepAliveIntervalMs < 10000 {
		errs = append(errs, "pool.keep_alive_interval_ms must be at least 10000")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReconnectBounds returns the pool's reconnect backoff bounds as Durations.
func (c *Config) ReconnectBounds() (initial, max time.Duration) {
	return time.Duration(c.Pool.ReconnectInitialMs) * time.Millisecond,
		time.Duration(c.Pool.ReconnectMaxMs) * time.Millisecond
}

// HealthCheckInterval returns the pool health-check interval as a Duration.
func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.Pool.HealthCheckIntervalMs) * time.Millisecond
}

// KeepAliveInterval returns the pool keep-alive ping interval as a Duration.
func (c *Config) KeepAliveInterval() time.Duration {
	return time.Duration(c.Pool.KeepAliveIntervalMs) * time.Millisecond
}

// MessageInterval returns the command-queue pacing interval as a Duration.
func (c *Config) MessageInterval() time.Duration {
	return time.Duration(c.Bridge.MessageIntervalMs) * time.Millisecond
}

// GetAllPeriod returns the periodic full-refresh interval as a Duration.
// Zero means periodic refresh is disabled.
func (c *Config) GetAllPeriod() time.Duration {
	return time.Duration(c.Bridge.GetAllPeriodSeconds) * time.Second
}
