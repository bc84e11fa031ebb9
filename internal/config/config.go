// Package config loads, validates and saves the cyberguard server
// configuration. Files are YAML; JSON files parse through the same decoder.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/cyberguard/cyberguard/internal/errors"
	"github.com/cyberguard/cyberguard/internal/logging"
	"github.com/cyberguard/cyberguard/internal/scan"
	"github.com/cyberguard/cyberguard/internal/store/postgres"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600

	minSecretLength = 32
)

// Config represents the complete server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Session   SessionConfig   `yaml:"session" json:"session"`
	Scan      scan.Policy     `yaml:"scan" json:"scan"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Logging   logging.Config  `yaml:"logging" json:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Reporter  ReporterConfig  `yaml:"reporter" json:"reporter"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	// MaxRequestSize bounds JSON request bodies in bytes.
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size"`
	// AllowedOrigins lists CORS origins; empty disables CORS headers.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	// TrustProxy takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a reverse proxy.
	TrustProxy bool `yaml:"trust_proxy" json:"trust_proxy"`
}

// SessionConfig holds login session settings
type SessionConfig struct {
	// Secret signs session tokens. Must be at least 32 bytes.
	Secret       string        `yaml:"secret" json:"-"`
	TTL          time.Duration `yaml:"ttl" json:"ttl"`
	CookieName   string        `yaml:"cookie_name" json:"cookie_name"`
	SecureCookie bool          `yaml:"secure_cookie" json:"secure_cookie"`
}

// StorageConfig selects and configures the entity store
type StorageConfig struct {
	Driver   string          `yaml:"driver" json:"driver"`
	Database postgres.Config `yaml:"database" json:"database"`
	// Seed loads the fixture data set at startup.
	Seed bool `yaml:"seed" json:"seed"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// ReporterConfig holds the periodic summary job settings
type ReporterConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Schedule is a cron spec, descriptors such as "@every 1m" included.
	Schedule string `yaml:"schedule" json:"schedule"`
}

// RateLimitConfig holds per-client request limits
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// LoginRPS and LoginBurst bound login attempts per client address.
	LoginRPS   float64 `yaml:"login_rps" json:"login_rps"`
	LoginBurst int     `yaml:"login_burst" json:"login_burst"`
	// APIRPS and APIBurst bound all other API calls per client address.
	APIRPS   float64 `yaml:"api_rps" json:"api_rps"`
	APIBurst int     `yaml:"api_burst" json:"api_burst"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            5000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxRequestSize:  1024 * 1024, // 1MB
			AllowedOrigins:  []string{"http://localhost:3000"},
		},
		Session: SessionConfig{
			TTL:        24 * time.Hour,
			CookieName: "cyberguard_session",
		},
		Scan: scan.DefaultPolicy(),
		Storage: StorageConfig{
			Driver:   DriverMemory,
			Database: postgres.DefaultConfig(),
			Seed:     true,
		},
		Logging: logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Reporter: ReporterConfig{
			Enabled:  true,
			Schedule: "@every 1m",
		},
		RateLimit: RateLimitConfig{
			Enabled:    true,
			LoginRPS:   1,
			LoginBurst: 5,
			APIRPS:     50,
			APIBurst:   100,
		},
	}
}

// Load loads and validates configuration from a file. A missing file
// yields defaults.
func Load(path string) (*Config, error) {
	config, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Read parses a configuration file over the defaults without validating
// it, so callers can apply overrides before calling Validate. A missing
// file yields defaults.
func Read(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".json":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	return config, nil
}

// Save saves configuration to a file as YAML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration. The session secret is checked
// separately by RequireSecret because commands such as "config show" run
// without one.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.ErrConfigInvalid("server.port", c.Server.Port)
	}
	if c.Server.Host == "" {
		return errors.ErrConfigMissing("server.host")
	}
	if c.Server.MaxRequestSize <= 0 {
		return errors.ErrConfigInvalid("server.max_request_size", c.Server.MaxRequestSize)
	}

	if c.Session.TTL <= 0 {
		return errors.ErrConfigInvalid("session.ttl", c.Session.TTL)
	}
	if c.Session.CookieName == "" {
		return errors.ErrConfigMissing("session.cookie_name")
	}

	if err := c.Scan.Validate(); err != nil {
		return err
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.Database.Host == "" {
			return errors.ErrConfigMissing("storage.database.host")
		}
		if c.Storage.Database.Database == "" {
			return errors.ErrConfigMissing("storage.database.database")
		}
		if c.Storage.Database.Username == "" {
			return errors.ErrConfigMissing("storage.database.username")
		}
	default:
		return errors.ErrConfigInvalid("storage.driver", c.Storage.Driver)
	}

	validLogLevels := map[logging.LogLevel]bool{
		logging.LevelDebug: true,
		logging.LevelInfo:  true,
		logging.LevelWarn:  true,
		logging.LevelError: true,
	}
	if !validLogLevels[c.Logging.Level] {
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}
	if c.Logging.Format != logging.FormatText && c.Logging.Format != logging.FormatJSON {
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return errors.ErrConfigMissing("metrics.path")
	}

	if c.Reporter.Enabled {
		if _, err := cron.ParseStandard(c.Reporter.Schedule); err != nil {
			return errors.ErrConfigInvalid("reporter.schedule", c.Reporter.Schedule)
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.LoginRPS <= 0 || c.RateLimit.LoginBurst <= 0 {
			return errors.ErrConfigInvalid("rate_limit.login", c.RateLimit.LoginRPS)
		}
		if c.RateLimit.APIRPS <= 0 || c.RateLimit.APIBurst <= 0 {
			return errors.ErrConfigInvalid("rate_limit.api", c.RateLimit.APIRPS)
		}
	}

	return nil
}

// RequireSecret checks that a usable session secret is configured.
func (c *Config) RequireSecret() error {
	if c.Session.Secret == "" {
		return errors.ErrConfigMissing("session.secret")
	}
	if len(c.Session.Secret) < minSecretLength {
		return errors.NewConfigFieldError(errors.CodeConfiguration,
			fmt.Sprintf("session.secret must be at least %d bytes", minSecretLength), "session.secret", nil)
	}
	return nil
}

// Address returns the HTTP listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
