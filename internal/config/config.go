// Package config loads console settings from the environment and an optional config file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. TURNA_BACKEND_URL.
const EnvPrefix = "TURNA"

// AppConfig is the root configuration structure.
type AppConfig struct {
	Env string `mapstructure:"env"`

	Backend    BackendConfig    `mapstructure:"backend"`
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Log        LogConfig        `mapstructure:"log"`
}

// BackendConfig describes how to reach the Turna REST API.
type BackendConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ServerConfig contains the local console HTTP server settings.
type ServerConfig struct {
	ListenAddr   string        `mapstructure:"listen_addr"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BodyLimit    string        `mapstructure:"body_limit"`
}

// StorageConfig contains local file locations.
type StorageConfig struct {
	DataDir     string `mapstructure:"data_dir"`
	SpoolDir    string `mapstructure:"spool_dir"`
	HistoryPath string `mapstructure:"history_path"`
}

// ProcessingConfig tunes the ingestion workflow.
type ProcessingConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	AutoExtract  bool          `mapstructure:"auto_extract"`
	PageSize     int           `mapstructure:"page_size"`

	// SpoolRetention is how long an unqueued spool file survives before
	// the cleanup loop removes it.
	SpoolRetention time.Duration `mapstructure:"spool_retention"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"api-url":       "backend.url",
	"token":         "backend.token",
	"timeout":       "backend.timeout",
	"listen":        "server.listen_addr",
	"data-dir":      "storage.data_dir",
	"poll-interval": "processing.poll_interval",
	"extract":       "processing.auto_extract",
	"page-size":     "processing.page_size",
	"log-level":     "log.level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "production")

	v.SetDefault("backend.url", "")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.timeout", 30*time.Second)

	v.SetDefault("server.listen_addr", "127.0.0.1:8089")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.body_limit", "512M")

	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.spool_dir", "")
	v.SetDefault("storage.history_path", "")

	v.SetDefault("processing.poll_interval", 2*time.Second)
	v.SetDefault("processing.auto_extract", false)
	v.SetDefault("processing.page_size", 20)
	v.SetDefault("processing.spool_retention", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads configuration from the environment and, when configPath is not
// empty, from that file. Values from flags override both when flags is non-nil.
func Load(configPath string, flags *pflag.FlagSet) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// CORS origins arrive as one comma separated string from the environment.
	if len(cfg.Server.CORSOrigins) == 1 && strings.Contains(cfg.Server.CORSOrigins[0], ",") {
		cfg.Server.CORSOrigins = splitList(cfg.Server.CORSOrigins[0])
	}

	cfg.resolvePaths()
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// resolvePaths fills the derived storage paths from the data directory.
func (c *AppConfig) resolvePaths() {
	if c.Storage.SpoolDir == "" {
		c.Storage.SpoolDir = filepath.Join(c.Storage.DataDir, "spool")
	}
	if c.Storage.HistoryPath == "" {
		c.Storage.HistoryPath = filepath.Join(c.Storage.DataDir, "history.duckdb")
	}
}

// IsDev reports whether the console runs in development mode.
func (c *AppConfig) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration can drive the backend.
func (c *AppConfig) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required (set %s_BACKEND_URL or --api-url)", EnvPrefix)
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil {
		return fmt.Errorf("backend.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.url must use http or https, got %q", u.Scheme)
	}
	if c.Processing.PollInterval <= 0 {
		return fmt.Errorf("processing.poll_interval must be positive, got %s", c.Processing.PollInterval)
	}
	if c.Processing.PageSize < 1 || c.Processing.PageSize > 100 {
		return fmt.Errorf("processing.page_size must be between 1 and 100, got %d", c.Processing.PageSize)
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("backend.timeout must not be negative")
	}
	return nil
}

// EnsureDirectories creates all necessary directories.
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		c.Storage.SpoolDir,
		filepath.Dir(c.Storage.HistoryPath),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
