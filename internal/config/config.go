package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTimezoneOffset is added to station timestamps on the form path
const DefaultTimezoneOffset = 7 * time.Hour

// AppConfig holds all configuration for the weather station server
type AppConfig struct {
	Server   ServerSettings   `yaml:"server"`
	Storage  StorageSettings  `yaml:"storage"`
	Ingest   IngestSettings   `yaml:"ingest"`
	Watchdog WatchdogSettings `yaml:"watchdog"`
	Forward  ForwardSettings  `yaml:"forward"`
	Live     LiveSettings     `yaml:"live"`
	Logging  LoggingConfig    `yaml:"logging"`
}

// ServerSettings contains HTTP server configuration
type ServerSettings struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// StorageSettings contains storage configuration
type StorageSettings struct {
	DBPath     string `yaml:"db_path"`
	MirrorPath string `yaml:"mirror_path"`
	MirrorSync bool   `yaml:"mirror_sync"`

	// DisableMirror turns off the CSV mirror; readings then land only in the database.
	DisableMirror bool          `yaml:"disable_mirror"`
	MaxOpenConns  int           `yaml:"max_open_conns"`
	BusyTimeout   time.Duration `yaml:"busy_timeout"`
}

// IngestSettings controls how incoming readings are normalized
type IngestSettings struct {
	// TimezoneOffset shifts station-local timestamps on the form path.
	// Zero is a valid value; an absent key means DefaultTimezoneOffset.
	TimezoneOffset time.Duration `yaml:"timezone_offset"`
}

// WatchdogSettings contains inactivity watchdog configuration
type WatchdogSettings struct {
	Timeout     time.Duration `yaml:"timeout"`
	CheckPeriod time.Duration `yaml:"check_period"`
}

// ForwardSettings groups the upstream relays
type ForwardSettings struct {
	HTTP HTTPForwardSettings `yaml:"http"`
	MQTT MQTTForwardSettings `yaml:"mqtt"`
}

// HTTPForwardSettings configures the upstream HTTP collector relay
type HTTPForwardSettings struct {
	Enabled    bool          `yaml:"enabled"`
	URL        string        `yaml:"url"`
	StationID  int           `yaml:"station_id"`
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// MQTTForwardSettings configures the MQTT relay
type MQTTForwardSettings struct {
	Enabled    bool          `yaml:"enabled"`
	Broker     string        `yaml:"broker"`
	ClientID   string        `yaml:"client_id"`
	Topic      string        `yaml:"topic"`
	QoS        int           `yaml:"qos"`
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// LiveSettings configures the websocket feed
type LiveSettings struct {
	SnapshotSize int `yaml:"snapshot_size"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level    string `yaml:"level"`     // debug, info, warn, error
	Format   string `yaml:"format"`    // json or console
	FilePath string `yaml:"file_path"` // empty = stdout only
}

// Load loads configuration from a YAML file, applies defaults and
// environment overrides, and validates the result
func Load(path string) (*AppConfig, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(yamlData)
}

// Parse builds a configuration from YAML bytes
func Parse(yamlData []byte) (*AppConfig, error) {
	config := AppConfig{
		Ingest: IngestSettings{TimezoneOffset: DefaultTimezoneOffset},
	}
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	if err := config.OverrideFromEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for any unset fields
func (ac *AppConfig) ApplyDefaults() {
	if ac.Server.Port == 0 {
		ac.Server.Port = 5000
	}
	if ac.Server.Host == "" {
		ac.Server.Host = "0.0.0.0"
	}
	if ac.Server.ReadTimeout == 0 {
		ac.Server.ReadTimeout = 15 * time.Second
	}
	if ac.Server.WriteTimeout == 0 {
		ac.Server.WriteTimeout = 15 * time.Second
	}
	if ac.Server.ShutdownTimeout == 0 {
		ac.Server.ShutdownTimeout = 10 * time.Second
	}

	if ac.Storage.DBPath == "" {
		ac.Storage.DBPath = "./data/weather_data.db"
	}
	if ac.Storage.MirrorPath == "" {
		ac.Storage.MirrorPath = "./data/weather_data.csv"
	}
	if ac.Storage.MaxOpenConns == 0 {
		ac.Storage.MaxOpenConns = 4
	}
	if ac.Storage.BusyTimeout == 0 {
		ac.Storage.BusyTimeout = 5 * time.Second
	}

	if ac.Watchdog.Timeout == 0 {
		ac.Watchdog.Timeout = 60 * time.Second
	}
	if ac.Watchdog.CheckPeriod == 0 {
		ac.Watchdog.CheckPeriod = time.Second
	}

	if ac.Forward.HTTP.Interval == 0 {
		ac.Forward.HTTP.Interval = 3 * time.Second
	}
	if ac.Forward.HTTP.BatchSize == 0 {
		ac.Forward.HTTP.BatchSize = 50
	}
	if ac.Forward.HTTP.Timeout == 0 {
		ac.Forward.HTTP.Timeout = 10 * time.Second
	}
	if ac.Forward.HTTP.MaxBackoff == 0 {
		ac.Forward.HTTP.MaxBackoff = 5 * time.Minute
	}

	if ac.Forward.MQTT.ClientID == "" {
		ac.Forward.MQTT.ClientID = "weather-station"
	}
	if ac.Forward.MQTT.Topic == "" {
		ac.Forward.MQTT.Topic = "weather"
	}
	if ac.Forward.MQTT.Interval == 0 {
		ac.Forward.MQTT.Interval = 3 * time.Second
	}
	if ac.Forward.MQTT.BatchSize == 0 {
		ac.Forward.MQTT.BatchSize = 50
	}
	if ac.Forward.MQTT.MaxBackoff == 0 {
		ac.Forward.MQTT.MaxBackoff = 5 * time.Minute
	}

	if ac.Live.SnapshotSize == 0 {
		ac.Live.SnapshotSize = 20
	}

	if ac.Logging.Level == "" {
		ac.Logging.Level = "info"
	}
	if ac.Logging.Format == "" {
		ac.Logging.Format = "json"
	}
}

// OverrideFromEnv overrides config values from environment variables.
// Only non-empty variables are applied.
func (ac *AppConfig) OverrideFromEnv() error {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		ac.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", v, err)
		}
		ac.Server.Port = port
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		ac.Storage.DBPath = v
	}
	if v := os.Getenv("MIRROR_PATH"); v != "" {
		ac.Storage.MirrorPath = v
	}
	if v := os.Getenv("TIMEZONE_OFFSET"); v != "" {
		offset, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid TIMEZONE_OFFSET %q: %w", v, err)
		}
		ac.Ingest.TimezoneOffset = offset
	}
	if v := os.Getenv("FORWARD_URL"); v != "" {
		ac.Forward.HTTP.URL = v
		ac.Forward.HTTP.Enabled = true
	}
	if v := os.Getenv("STATION_ID"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid STATION_ID %q: %w", v, err)
		}
		ac.Forward.HTTP.StationID = id
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		ac.Forward.MQTT.Broker = v
		ac.Forward.MQTT.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		ac.Logging.Level = v
	}
	return nil
}

// Validate checks if the configuration is valid
func (ac *AppConfig) Validate() error {
	if ac.Server.Port < 1 || ac.Server.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	if ac.Storage.DBPath == "" {
		return errors.New("storage db_path is required")
	}
	if ac.Storage.MaxOpenConns < 1 {
		return errors.New("storage max_open_conns must be at least 1")
	}
	if ac.Ingest.TimezoneOffset < -24*time.Hour || ac.Ingest.TimezoneOffset > 24*time.Hour {
		return errors.New("ingest timezone_offset must be within 24h")
	}
	if ac.Watchdog.Timeout < time.Second {
		return errors.New("watchdog timeout must be at least 1 second")
	}
	if ac.Watchdog.CheckPeriod <= 0 || ac.Watchdog.CheckPeriod > ac.Watchdog.Timeout {
		return errors.New("watchdog check_period must be positive and no longer than the timeout")
	}

	if ac.Forward.HTTP.Enabled {
		u, err := url.Parse(ac.Forward.HTTP.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("forward.http url must be an http:// or https:// URL, got %q", ac.Forward.HTTP.URL)
		}
		if ac.Forward.HTTP.BatchSize < 1 {
			return errors.New("forward.http batch_size must be at least 1")
		}
	}
	if ac.Forward.MQTT.Enabled {
		if ac.Forward.MQTT.Broker == "" {
			return errors.New("forward.mqtt broker is required when enabled")
		}
		if ac.Forward.MQTT.QoS < 0 || ac.Forward.MQTT.QoS > 2 {
			return errors.New("forward.mqtt qos must be 0, 1 or 2")
		}
		if ac.Forward.MQTT.BatchSize < 1 {
			return errors.New("forward.mqtt batch_size must be at least 1")
		}
	}

	if ac.Live.SnapshotSize < 1 || ac.Live.SnapshotSize > 1000 {
		return errors.New("live snapshot_size must be between 1 and 1000")
	}

	switch strings.ToLower(ac.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be json or console, got %q", ac.Logging.Format)
	}
	return nil
}

// Addr returns the listen address
func (ac *AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", ac.Server.Host, ac.Server.Port)
}

// String returns a safe string representation (hides URL credentials)
func (ac *AppConfig) String() string {
	return fmt.Sprintf("AppConfig{Server: %s, Storage: %+v, Ingest: %+v, Watchdog: %+v, "+
		"Forward: [HTTP enabled=%t url=%s station=%d, MQTT enabled=%t broker=%s topic=%s], Live: %+v, Logging: %+v}",
		ac.Addr(),
		ac.Storage,
		ac.Ingest,
		ac.Watchdog,
		ac.Forward.HTTP.Enabled,
		maskURL(ac.Forward.HTTP.URL),
		ac.Forward.HTTP.StationID,
		ac.Forward.MQTT.Enabled,
		maskURL(ac.Forward.MQTT.Broker),
		ac.Forward.MQTT.Topic,
		ac.Live,
		ac.Logging,
	)
}

// maskURL hides any password embedded in a URL
func maskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "****"
	}
	return u.Redacted()
}
