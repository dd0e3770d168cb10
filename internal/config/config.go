// Package config loads nexus.toml.
//
// Values are resolved from (highest first) command-line flags bound by the
// caller, NEXUS_* environment variables, the config file and the defaults
// below. Keys are dotted: server.url is NEXUS_SERVER_URL in the environment.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	// FileName is the config file name without extension.
	FileName = "nexus"

	// EnvPrefix is the environment variable prefix.
	EnvPrefix = "NEXUS"
)

// Config is the resolved configuration.
type Config struct {
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	Assist  AssistConfig  `toml:"assist" mapstructure:"assist"`
	Session SessionConfig `toml:"session" mapstructure:"session"`
}

// ServerConfig covers both sides of the store connection. URL is what
// clients dial; Host, Port, DB and AllowedOrigins are used by nexus serve.
type ServerConfig struct {
	URL            string   `toml:"url" mapstructure:"url"`
	Host           string   `toml:"host" mapstructure:"host"`
	Port           int      `toml:"port" mapstructure:"port"`
	DB             string   `toml:"db" mapstructure:"db"`
	AllowedOrigins []string `toml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig enables a rotating log file for nexus serve.
type LogConfig struct {
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
}

// AssistConfig configures the AI assistant. An empty APIKey disables it.
type AssistConfig struct {
	APIKey    string  `toml:"api_key" mapstructure:"api_key"`
	Model     string  `toml:"model" mapstructure:"model"`
	MaxTokens int     `toml:"max_tokens" mapstructure:"max_tokens"`
	RateLimit float64 `toml:"rate_limit" mapstructure:"rate_limit"`
}

// SessionConfig locates the identity cache and an optional invite.
type SessionConfig struct {
	Cache  string `toml:"cache" mapstructure:"cache"`
	Invite string `toml:"invite" mapstructure:"invite"`
}

// Dir returns the per-user config directory, ~/.config/nexus.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nexus"
	}
	return filepath.Join(home, ".config", "nexus")
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	dir := Dir()
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8765,
			DB:             filepath.Join(dir, "nexus.db"),
			AllowedOrigins: []string{"localhost:*", "127.0.0.1:*"},
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Assist: AssistConfig{
			Model:     "claude-3-5-haiku-latest",
			MaxTokens: 1024,
			RateLimit: 1,
		},
		Session: SessionConfig{
			Cache: filepath.Join(dir, "session.yaml"),
		},
	}
}

// New creates a viper instance with defaults and environment binding and
// reads configFile, or nexus.toml from the working directory or Dir() when
// configFile is empty. A missing file is not an error.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath(Dir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		if configFile != "" && errors.Is(err, os.ErrNotExist) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return v, nil
}

// Load resolves the configuration from v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	return &cfg, nil
}

// Watch calls fn with the reloaded configuration whenever the config file
// changes. It does nothing when no config file was read.
func Watch(v *viper.Viper, logger *log.Logger, fn func(*Config)) bool {
	path := v.ConfigFileUsed()
	if path == "" {
		return false
	}
	// An explicit --config may name a file that does not exist yet
	if _, err := os.Stat(path); err != nil {
		return false
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Load(v)
		if err != nil {
			logger.Printf("Ignoring config change in %s: %v", e.Name, err)
			return
		}
		logger.Printf("Reloaded config from %s", e.Name)
		fn(cfg)
	})
	v.WatchConfig()
	return true
}

// WriteDefault writes the default configuration to path as TOML. An
// existing file is left alone unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(Defaults()); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.url", d.Server.URL)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.db", d.Server.DB)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("assist.api_key", d.Assist.APIKey)
	v.SetDefault("assist.model", d.Assist.Model)
	v.SetDefault("assist.max_tokens", d.Assist.MaxTokens)
	v.SetDefault("assist.rate_limit", d.Assist.RateLimit)
	v.SetDefault("session.cache", d.Session.Cache)
	v.SetDefault("session.invite", d.Session.Invite)
}
