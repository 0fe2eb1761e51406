// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Admin        AdminConfig        `yaml:"admin"`
	ChannelStore ChannelStoreConfig `yaml:"channel_store"`
	History      HistoryConfig      `yaml:"history"`
	Cloak        CloakConfig        `yaml:"cloak"`
	Modules      []string           `yaml:"modules"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// ServerConfig identifies this server.
type ServerConfig struct {
	Name    string `yaml:"name"`
	Network string `yaml:"network"`
}

// AdminConfig configures the operator HTTP listener.
type AdminConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Addr returns the listen address in host:port form.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// ChannelStoreConfig configures persistent channel storage.
type ChannelStoreConfig struct {
	Database     string        `yaml:"database"`
	SaveInterval time.Duration `yaml:"save_interval"`
}

// HistoryConfig configures message history.
type HistoryConfig struct {
	Backend  string        `yaml:"backend"` // "mem" or "sqlite"
	Database string        `yaml:"database"`
	MaxLines int           `yaml:"max_lines"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// CloakConfig configures hostname cloaking. Either no keys (cloaking
// disabled) or exactly three strong random strings.
type CloakConfig struct {
	Keys []string `yaml:"keys"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics on the admin listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // default: /metrics
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// Useful for container deployments where no config file is mounted.
//
// Environment variables:
//
//	IRCMOD_SERVER_NAME      - Server name (required)
//	IRCMOD_SERVER_NETWORK   - Network name
//	IRCMOD_ADMIN_HOST       - Admin listener host (default: 127.0.0.1)
//	IRCMOD_ADMIN_PORT       - Admin listener port (default: 8970)
//	IRCMOD_CHANNELDB_PATH   - Channel store path (default: data/channel.db)
//	IRCMOD_HISTORY_BACKEND  - History backend: mem or sqlite (default: mem)
//	IRCMOD_HISTORY_DSN      - History database path (sqlite backend)
//	IRCMOD_MODULES          - Comma-separated module list
//	IRCMOD_CLOAK_KEYS       - Comma-separated cloak keys
//	IRCMOD_LOG_LEVEL        - Log level: debug, info, warn, error (default: info)
//	IRCMOD_LOG_FORMAT       - Log format: json or console (default: json)
//	IRCMOD_METRICS_ENABLED  - Enable /metrics endpoint
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if os.Getenv("IRCMOD_SERVER_NAME") != "" {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide config file or set IRCMOD_SERVER_NAME")
}

// applyEnvOverrides applies IRCMOD_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IRCMOD_SERVER_NAME"); v != "" {
		cfg.Server.Name = v
	}
	if v := os.Getenv("IRCMOD_SERVER_NETWORK"); v != "" {
		cfg.Server.Network = v
	}
	if v := os.Getenv("IRCMOD_ADMIN_HOST"); v != "" {
		cfg.Admin.Host = v
	}
	if v := os.Getenv("IRCMOD_ADMIN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Admin.Port = port
		}
	}
	if v := os.Getenv("IRCMOD_CHANNELDB_PATH"); v != "" {
		cfg.ChannelStore.Database = v
	}
	if v := os.Getenv("IRCMOD_HISTORY_BACKEND"); v != "" {
		cfg.History.Backend = v
	}
	if v := os.Getenv("IRCMOD_HISTORY_DSN"); v != "" {
		cfg.History.Database = v
	}
	if v := os.Getenv("IRCMOD_MODULES"); v != "" {
		cfg.Modules = splitList(v)
	}
	if v := os.Getenv("IRCMOD_CLOAK_KEYS"); v != "" {
		cfg.Cloak.Keys = splitList(v)
	}
	if v := os.Getenv("IRCMOD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("IRCMOD_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("IRCMOD_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true" || v == "1"
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setDefaults(cfg *Config) {
	if cfg.Server.Network == "" {
		cfg.Server.Network = "ExampleNet"
	}
	if cfg.Admin.Host == "" {
		cfg.Admin.Host = "127.0.0.1"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 8970
	}
	if cfg.Admin.ReadTimeout == 0 {
		cfg.Admin.ReadTimeout = 10 * time.Second
	}
	if cfg.Admin.WriteTimeout == 0 {
		cfg.Admin.WriteTimeout = 10 * time.Second
	}
	if cfg.ChannelStore.Database == "" {
		cfg.ChannelStore.Database = "data/channel.db"
	}
	if cfg.ChannelStore.SaveInterval == 0 {
		// Offset from a round number so periodic saves spread out when
		// several instances run on one host.
		cfg.ChannelStore.SaveInterval = 299 * time.Second
	}
	if cfg.History.Backend == "" {
		cfg.History.Backend = "mem"
	}
	if cfg.History.Database == "" {
		cfg.History.Database = "data/history.db"
	}
	if cfg.History.MaxLines == 0 {
		cfg.History.MaxLines = 1000
	}
	if cfg.History.MaxAge == 0 {
		cfg.History.MaxAge = 24 * time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Name == "" {
		return fmt.Errorf("server.name is required")
	}
	if !strings.Contains(cfg.Server.Name, ".") {
		return fmt.Errorf("server.name %q must contain a dot", cfg.Server.Name)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q is not one of json, console", cfg.Logging.Format)
	}
	switch cfg.History.Backend {
	case "mem", "sqlite":
	default:
		return fmt.Errorf("history.backend %q is not one of mem, sqlite", cfg.History.Backend)
	}
	if cfg.Admin.Port < 0 || cfg.Admin.Port > 65535 {
		return fmt.Errorf("admin.port %d out of range", cfg.Admin.Port)
	}
	if n := len(cfg.Cloak.Keys); n != 0 && n != 3 {
		return fmt.Errorf("cloak.keys wants exactly 3 keys, got %d", n)
	}
	for i, k := range cfg.Cloak.Keys {
		if len(k) < 16 {
			return fmt.Errorf("cloak.keys[%d] shorter than 16 characters", i)
		}
	}
	if cfg.History.MaxLines < 0 {
		return fmt.Errorf("history.max_lines must not be negative")
	}
	return nil
}
