package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the HYQW adapter core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Adapter   AdapterConfig   `yaml:"adapter"`
	Cloud     CloudConfig     `yaml:"cloud"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Sync      SyncConfig      `yaml:"sync"`
	Polling   PollingConfig   `yaml:"polling"`
	Control   ControlConfig   `yaml:"control"`
	Replay    ReplayConfig    `yaml:"replay"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AdapterConfig identifies the installation against the cloud platform.
type AdapterConfig struct {
	// ProjectCode is the cloud-side project identifier embedded in topic names.
	ProjectCode string `yaml:"project_code"`

	// DeviceSN is the serial number of the site gateway this adapter mirrors.
	DeviceSN string `yaml:"device_sn"`

	// Devices is the site's device inventory. Devices seen in state
	// traffic but missing here are still tracked, with unknown type.
	Devices []DeviceConfig `yaml:"devices"`
}

// DeviceConfig is one device's metadata in the site inventory.
type DeviceConfig struct {
	SI     int    `yaml:"si"`
	ST     int    `yaml:"st"`
	TypeID int    `yaml:"type_id"`
	Name   string `yaml:"name"`
	Room   string `yaml:"room"`
}

// CloudConfig contains settings for the cloud REST endpoints.
type CloudConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`

	// Timeout is the per-request timeout in seconds for fetch/control calls.
	Timeout int `yaml:"timeout"`
}

// MQTTConfig contains cloud broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	QoS    int              `yaml:"qos"`

	// StartupEnable controls whether the adapter attempts bus mode at startup.
	// When false the adapter starts in polling mode and bus mode must be
	// requested through the API.
	StartupEnable bool `yaml:"startup_enable"`
}

// MQTTBrokerConfig contains broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains broker authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SyncConfig contains state-synchronization behaviour settings.
type SyncConfig struct {
	// FallbackInterval is the reconciliation sweep interval in seconds while
	// in bus mode. 0 disables the sweep.
	FallbackInterval int `yaml:"fallback_interval"`

	// OptimisticEcho applies an expected post-command state locally before
	// transport confirmation arrives.
	OptimisticEcho bool `yaml:"optimistic_echo"`
}

// PollingConfig contains the adaptive poll scheduler intervals, in seconds.
type PollingConfig struct {
	LongInterval  int `yaml:"long_interval"`
	ShortInterval int `yaml:"short_interval"`
	BurstDuration int `yaml:"burst_duration"`
}

// ControlConfig contains command execution settings.
type ControlConfig struct {
	// PreControlDelay is the stabilization window in milliseconds between
	// dequeuing a command and hitting the cloud control endpoint.
	PreControlDelay int `yaml:"pre_control_delay"`
}

// ReplayConfig contains downstream command record/replay settings.
type ReplayConfig struct {
	Enabled bool `yaml:"enabled"`

	// CaptureTimeout is the wait in seconds for the next downstream frame
	// when capture is armed.
	CaptureTimeout int `yaml:"capture_timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket notification settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains state-history writer settings.
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
// Environment variables follow the pattern: HYQW_SECTION_KEY
// For example: HYQW_CLOUD_TOKEN, HYQW_MQTT_HOST
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
// Interval defaults match the cloud platform's published behaviour.
func defaultConfig() *Config {
	return &Config{
		Adapter: AdapterConfig{
			ProjectCode: "SH-485-V22",
		},
		Cloud: CloudConfig{
			Timeout: 10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Port:     1883,
				ClientID: "hyqwd",
			},
			QoS:           1,
			StartupEnable: false,
		},
		Sync: SyncConfig{
			FallbackInterval: 600,
			OptimisticEcho:   false,
		},
		Polling: PollingConfig{
			LongInterval:  15,
			ShortInterval: 1,
			BurstDuration: 5,
		},
		Control: ControlConfig{
			PreControlDelay: 200,
		},
		Replay: ReplayConfig{
			Enabled:        false,
			CaptureTimeout: 2,
		},
		Database: DatabaseConfig{
			Path:        "./data/hyqw.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HYQW_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Adapter identity
	if v := os.Getenv("HYQW_PROJECT_CODE"); v != "" {
		cfg.Adapter.ProjectCode = v
	}
	if v := os.Getenv("HYQW_DEVICE_SN"); v != "" {
		cfg.Adapter.DeviceSN = v
	}

	// Cloud
	if v := os.Getenv("HYQW_CLOUD_BASE_URL"); v != "" {
		cfg.Cloud.BaseURL = v
	}
	if v := os.Getenv("HYQW_CLOUD_TOKEN"); v != "" {
		cfg.Cloud.Token = v
	}

	// MQTT
	if v := os.Getenv("HYQW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HYQW_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("HYQW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HYQW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("HYQW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("HYQW_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("HYQW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Adapter.DeviceSN == "" {
		errs = append(errs, "adapter.device_sn is required")
	}
	if c.Adapter.ProjectCode == "" {
		errs = append(errs, "adapter.project_code is required")
	}

	if c.Cloud.BaseURL == "" {
		errs = append(errs, "cloud.base_url is required")
	}
	if c.Cloud.Timeout < 1 {
		errs = append(errs, "cloud.timeout must be at least 1 second")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Polling.LongInterval < 1 {
		errs = append(errs, "polling.long_interval must be at least 1 second")
	}
	if c.Polling.ShortInterval < 1 {
		errs = append(errs, "polling.short_interval must be at least 1 second")
	}
	if c.Polling.ShortInterval > c.Polling.LongInterval {
		errs = append(errs, "polling.short_interval must not exceed polling.long_interval")
	}
	if c.Polling.BurstDuration < 1 {
		errs = append(errs, "polling.burst_duration must be at least 1 second")
	}

	if c.Sync.FallbackInterval < 0 {
		errs = append(errs, "sync.fallback_interval must be 0 (disabled) or positive")
	}

	if c.Control.PreControlDelay < 0 {
		errs = append(errs, "control.pre_control_delay must not be negative")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetCloudTimeout returns the cloud request timeout as a Duration.
func (c *Config) GetCloudTimeout() time.Duration {
	return time.Duration(c.Cloud.Timeout) * time.Second
}

// GetLongInterval returns the steady-state poll interval as a Duration.
func (c *Config) GetLongInterval() time.Duration {
	return time.Duration(c.Polling.LongInterval) * time.Second
}

// GetShortInterval returns the burst poll interval as a Duration.
func (c *Config) GetShortInterval() time.Duration {
	return time.Duration(c.Polling.ShortInterval) * time.Second
}

// GetBurstDuration returns the burst window length as a Duration.
func (c *Config) GetBurstDuration() time.Duration {
	return time.Duration(c.Polling.BurstDuration) * time.Second
}

// GetFallbackInterval returns the reconciliation sweep interval as a Duration.
// Zero means the sweep is disabled.
func (c *Config) GetFallbackInterval() time.Duration {
	return time.Duration(c.Sync.FallbackInterval) * time.Second
}

// GetPreControlDelay returns the pre-control stabilization delay as a Duration.
func (c *Config) GetPreControlDelay() time.Duration {
	return time.Duration(c.Control.PreControlDelay) * time.Millisecond
}

// GetCaptureTimeout returns the replay capture wait as a Duration.
func (c *Config) GetCaptureTimeout() time.Duration {
	return time.Duration(c.Replay.CaptureTimeout) * time.Second
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
