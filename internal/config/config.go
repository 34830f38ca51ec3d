// Package config loads and merges configuration from a TOML file and
// environment variable overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so that BurntSushi/toml can decode "30s"-style
// strings via the encoding.TextUnmarshaler interface.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// DSN is passed straight to the pgx driver; both URL and keyword
	// ("dbname=… host=…") forms work.
	DSN    string `toml:"dsn"`
	Create bool   `toml:"create"`
}

// UPSConfig holds status-source settings.
type UPSConfig struct {
	Name         string   `toml:"name"`
	Source       string   `toml:"source"` // "exec" or "nis"
	ClientPath   string   `toml:"client_path"`
	NISAddr      string   `toml:"nis_addr"`
	PollInterval Duration `toml:"poll_interval"`
}

// MQTTConfig holds optional MQTT broker connection settings.
// An empty Broker disables MQTT announcements entirely.
type MQTTConfig struct {
	Broker      string `toml:"broker"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	ClientID    string `toml:"client_id"`
	TopicPrefix string `toml:"topic_prefix"`
	Retained    bool   `toml:"retained"`
	QOS         byte   `toml:"qos"`
	TLSCACert   string `toml:"tls_ca_cert"`
}

// LogConfig holds output verbosity settings.
type LogConfig struct {
	Verbose bool `toml:"verbose"`
	Debug   bool `toml:"debug"`
}

// Config is the top-level configuration struct.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	UPS      UPSConfig      `toml:"ups"`
	MQTT     MQTTConfig     `toml:"mqtt"`
	Log      LogConfig      `toml:"log"`
}

// Load reads config from the first existing path in paths, then applies
// environment variable overrides.  Missing files are skipped silently;
// a malformed file returns an error.  Calling Load() with no arguments
// returns pure defaults plus any env overrides.
func Load(paths ...string) (*Config, error) {
	cfg := defaults()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, statErr := os.Stat(path); statErr == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %q: %w", path, err)
			}
			break // first found file wins
		} else if !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("checking config path %q: %w", path, statErr)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFile reads config from exactly path.  Unlike Load, a missing file is
// an error: a path the operator named must exist.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}
	cfg := defaults()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:    "dbname=upslog_v2 user=upslog host=localhost",
			Create: true,
		},
		UPS: UPSConfig{
			Name:         "apc",
			Source:       "exec",
			ClientPath:   "/sbin/apcaccess",
			NISAddr:      "localhost:3551",
			PollInterval: Duration{60 * time.Second},
		},
		MQTT: MQTTConfig{
			ClientID:    "ups-pglog",
			TopicPrefix: "ups",
			Retained:    true,
			QOS:         1,
		},
	}
}

// Validate reports configuration errors that must stop the process before
// any sampling begins.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must not be empty")
	}
	switch c.UPS.Source {
	case "exec", "nis":
	default:
		return fmt.Errorf("ups.source must be \"exec\" or \"nis\", got %q", c.UPS.Source)
	}
	if c.UPS.Source == "exec" && c.UPS.ClientPath == "" {
		return fmt.Errorf("ups.client_path must not be empty with ups.source = \"exec\"")
	}
	if c.UPS.Source == "nis" && c.UPS.NISAddr == "" {
		return fmt.Errorf("ups.nis_addr must not be empty with ups.source = \"nis\"")
	}
	if c.UPS.PollInterval.Duration <= 0 {
		return fmt.Errorf("ups.poll_interval must be positive, got %s", c.UPS.PollInterval)
	}
	return nil
}

// applyEnvOverrides copies any set UPS_PGLOG_* environment variables into cfg.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("UPS_PGLOG_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("UPS_PGLOG_DB_CREATE"); v != "" {
		cfg.Database.Create = v == "true" || v == "1"
	}
	if v := os.Getenv("UPS_PGLOG_UPS_NAME"); v != "" {
		cfg.UPS.Name = v
	}
	if v := os.Getenv("UPS_PGLOG_UPS_SOURCE"); v != "" {
		cfg.UPS.Source = v
	}
	if v := os.Getenv("UPS_PGLOG_UPS_CLIENT_PATH"); v != "" {
		cfg.UPS.ClientPath = v
	}
	if v := os.Getenv("UPS_PGLOG_UPS_NIS_ADDR"); v != "" {
		cfg.UPS.NISAddr = v
	}
	if v := os.Getenv("UPS_PGLOG_UPS_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.UPS.PollInterval = Duration{d}
		} else {
			log.Printf("config: ignoring invalid UPS_PGLOG_UPS_POLL_INTERVAL=%q: %v", v, err)
		}
	}
	if v := os.Getenv("UPS_PGLOG_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("UPS_PGLOG_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("UPS_PGLOG_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("UPS_PGLOG_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.ClientID = v
	}
	if v := os.Getenv("UPS_PGLOG_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}
	if v := os.Getenv("UPS_PGLOG_MQTT_RETAINED"); v != "" {
		cfg.MQTT.Retained = v == "true" || v == "1"
	}
	if v := os.Getenv("UPS_PGLOG_MQTT_QOS"); v != "" {
		if q, err := strconv.ParseUint(v, 10, 8); err == nil {
			cfg.MQTT.QOS = byte(q)
		} else {
			log.Printf("config: ignoring invalid UPS_PGLOG_MQTT_QOS=%q: %v", v, err)
		}
	}
	if v := os.Getenv("UPS_PGLOG_MQTT_TLS_CA_CERT"); v != "" {
		cfg.MQTT.TLSCACert = v
	}
	if v := os.Getenv("UPS_PGLOG_LOG_VERBOSE"); v != "" {
		cfg.Log.Verbose = v == "true" || v == "1"
	}
	if v := os.Getenv("UPS_PGLOG_LOG_DEBUG"); v != "" {
		cfg.Log.Debug = v == "true" || v == "1"
	}
}
