// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Storage() StorageConfig
	Mappings() MappingsConfig
	Proxy() ProxyConfig
	API() APIConfig
	Browser() BrowserConfig

	SetStorageBackend(string)
	SetStoragePath(string)
	SetProxyAddress(string)
	SetAPIAddress(string)
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	StorageCfg  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	MappingsCfg MappingsConfig `mapstructure:"mappings" yaml:"mappings"`
	ProxyCfg    ProxyConfig    `mapstructure:"proxy" yaml:"proxy"`
	APICfg      APIConfig      `mapstructure:"api" yaml:"api"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Storage() StorageConfig   { return c.StorageCfg }
func (c *Config) Mappings() MappingsConfig { return c.MappingsCfg }
func (c *Config) Proxy() ProxyConfig       { return c.ProxyCfg }
func (c *Config) API() APIConfig           { return c.APICfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetStorageBackend(b string) { c.StorageCfg.Backend = b }
func (c *Config) SetStoragePath(p string)    { c.StorageCfg.Path = p }
func (c *Config) SetProxyAddress(a string)   { c.ProxyCfg.Address = a }
func (c *Config) SetAPIAddress(a string)     { c.APICfg.Address = a }
func (c *Config) SetBrowserHeadless(b bool)  { c.BrowserCfg.Headless = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// Storage backend names.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// StorageConfig selects and configures the tainted-domain persistence backend.
type StorageConfig struct {
	Backend       string        `mapstructure:"backend" yaml:"backend"`
	Path          string        `mapstructure:"path" yaml:"path"`
	DSN           string        `mapstructure:"dsn" yaml:"-"`
	RedisURL      string        `mapstructure:"redis_url" yaml:"-"`
	RedisKey      string        `mapstructure:"redis_key" yaml:"redis_key"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

// MappingsConfig points at an optional YAML file that extends the built-in CDN table.
type MappingsConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// ProxyConfig defines the interception proxy that feeds load events to the watcher.
type ProxyConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Address   string `mapstructure:"address" yaml:"address"`
	CACert    string `mapstructure:"ca_cert" yaml:"ca_cert"`
	CAKey     string `mapstructure:"ca_key" yaml:"ca_key"`
	QueueSize int    `mapstructure:"queue_size" yaml:"queue_size"`
}

// APIConfig configures the lookup API consumed by the substitution engine.
type APIConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Address    string `mapstructure:"address" yaml:"address"`
	// AuthSecret, when set, requires an HS256 bearer token on /v1 routes.
	AuthSecret string `mapstructure:"auth_secret" yaml:"-"`
}

// BrowserConfig holds settings for the headless browser used by the page auditor.
type BrowserConfig struct {
	Headless bool          `mapstructure:"headless" yaml:"headless"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Args     []string      `mapstructure:"args" yaml:"args"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "loadwatcher")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Storage --
	v.SetDefault("storage.backend", BackendFile)
	v.SetDefault("storage.path", "~/.loadwatcher/storage.json")
	v.SetDefault("storage.redis_key", "loadwatcher:taintedDomains")
	v.SetDefault("storage.flush_interval", "1s")

	// -- Proxy --
	v.SetDefault("proxy.enabled", true)
	v.SetDefault("proxy.address", "127.0.0.1:8118")
	v.SetDefault("proxy.queue_size", 1024)

	// -- API --
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.address", "127.0.0.1:8119")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.timeout", "45s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are only ever taken from the environment.
	_ = v.BindEnv("storage.dsn", "LOADWATCHER_STORAGE_DSN")
	_ = v.BindEnv("api.auth_secret", "LOADWATCHER_API_AUTH_SECRET")
	_ = v.BindEnv("storage.redis_url", "LOADWATCHER_REDIS_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves "~" in every file path setting.
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.StorageCfg.Path,
		&c.MappingsCfg.File,
		&c.LoggerCfg.LogFile,
		&c.ProxyCfg.CACert,
		&c.ProxyCfg.CAKey,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.StorageCfg.Validate(); err != nil {
		return fmt.Errorf("storage configuration invalid: %w", err)
	}
	if c.ProxyCfg.Enabled {
		if c.ProxyCfg.Address == "" {
			return fmt.Errorf("proxy.address is required when the proxy is enabled")
		}
		if c.ProxyCfg.QueueSize <= 0 {
			return fmt.Errorf("proxy.queue_size must be a positive integer")
		}
		if (c.ProxyCfg.CACert == "") != (c.ProxyCfg.CAKey == "") {
			return fmt.Errorf("proxy.ca_cert and proxy.ca_key must be set together")
		}
	}
	if c.APICfg.Enabled && c.APICfg.Address == "" {
		return fmt.Errorf("api.address is required when the API is enabled")
	}
	return nil
}

// Validate checks the storage configuration.
func (s *StorageConfig) Validate() error {
	switch strings.ToLower(s.Backend) {
	case BackendFile, BackendSQLite:
		if s.Path == "" {
			return fmt.Errorf("path is required for the %s backend", s.Backend)
		}
	case BackendPostgres:
		if s.DSN == "" {
			return fmt.Errorf("dsn is required for the postgres backend (hint: set LOADWATCHER_STORAGE_DSN)")
		}
	case BackendRedis:
		if s.RedisURL == "" {
			return fmt.Errorf("redis_url is required for the redis backend (hint: set LOADWATCHER_REDIS_URL)")
		}
		if s.RedisKey == "" {
			return fmt.Errorf("redis_key must not be empty")
		}
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if s.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be a positive duration")
	}
	return nil
}
