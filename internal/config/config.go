package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	dirName = ".dispatch"
	dbFile  = "dispatch.db"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	History  HistoryConfig  `mapstructure:"history"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Reducer  ReducerConfig  `mapstructure:"reducer"`
	Log      LogConfig      `mapstructure:"log"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type HistoryConfig struct {
	Limit                  int  `mapstructure:"limit"`
	RedactSensitiveHeaders bool `mapstructure:"redact_sensitive_headers"`
}

type HTTPConfig struct {
	Timeout                time.Duration `mapstructure:"timeout"` // zero means no client timeout
	MaxResponseBytes       int64         `mapstructure:"max_response_bytes"`
	BlockMetadataEndpoints bool          `mapstructure:"block_metadata_endpoints"`
}

type ReducerConfig struct {
	DiscardStaleResults bool `mapstructure:"discard_stale_results"`
	RecordSentRequest   bool `mapstructure:"record_sent_request"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the configuration file (if any), applies DISPATCH_* environment
// overrides and fills in defaults. A missing config file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("$HOME", dirName))
	}

	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	path, err := expandHome(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	cfg.Database.Path = path

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", filepath.Join("~", dirName, dbFile))

	v.SetDefault("history.limit", 50)
	v.SetDefault("history.redact_sensitive_headers", true)

	v.SetDefault("http.timeout", time.Duration(0))
	v.SetDefault("http.max_response_bytes", 50*1024*1024) // 50MB
	v.SetDefault("http.block_metadata_endpoints", true)

	v.SetDefault("reducer.discard_stale_results", false)
	v.SetDefault("reducer.record_sent_request", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are plain values, decoding them cannot fail.
	_ = v.Unmarshal(&cfg)
	cfg.Database.Path, _ = expandHome(cfg.Database.Path)
	return &cfg
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.History.Limit <= 0 {
		return fmt.Errorf("history limit must be positive, got %d", c.History.Limit)
	}
	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("http timeout cannot be negative")
	}
	if c.HTTP.MaxResponseBytes <= 0 {
		return fmt.Errorf("http max_response_bytes must be positive, got %d", c.HTTP.MaxResponseBytes)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn or error)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}
	return nil
}

// expandHome resolves a leading "~" to the user's home directory.
func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, path[1:]), nil
}
