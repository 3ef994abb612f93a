package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/openmined/blobdispatch/internal/dispatch"
	"github.com/openmined/blobdispatch/internal/provider"
	"github.com/spf13/viper"
)

const (
	EnvPrefix       = "BLOBDISPATCH"
	DefaultAddr     = "127.0.0.1:8080"
	DefaultLogLevel = "info"
	configFileName  = "blobdispatch"
)

var (
	home, _        = os.UserHomeDir()
	DefaultDataDir = filepath.Join(home, ".blobdispatch")
)

// Config is the full configuration of a blobdispatch process
type Config struct {
	HTTP      HTTPConfig        `mapstructure:"http"`
	Log       LogConfig         `mapstructure:"log"`
	Providers []provider.Config `mapstructure:"providers"`
	Dispatch  dispatch.Config   `mapstructure:"dispatch"`

	// Strict refuses to start when dispatch can route to an unregistered provider
	Strict bool `mapstructure:"strict"`

	// Path of the config file that was read, empty when none
	Path string `mapstructure:"-"`
}

// HTTPConfig configures the blob API server
type HTTPConfig struct {
	Addr     string `mapstructure:"addr"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`

	// AuthSecret enables HS256 bearer tokens on the api routes
	AuthSecret string `mapstructure:"auth_secret"`

	// UploadRate limits uploads per client, ulule/limiter format ("100-M")
	UploadRate    string `mapstructure:"upload_rate"`
	MaxUploadSize int64  `mapstructure:"max_upload_size"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// SlogLevel parses Level, defaulting to info
func (l *LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", l.Level, err)
	}
	return level, nil
}

// NewViper returns a viper instance with defaults and BLOBDISPATCH_ env lookup.
// Nested keys map to env names with "_", e.g. http.addr -> BLOBDISPATCH_HTTP_ADDR.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("http.addr", DefaultAddr)
	v.SetDefault("http.cert_file", "")
	v.SetDefault("http.key_file", "")
	v.SetDefault("http.auth_secret", "")
	v.SetDefault("http.upload_rate", "")
	v.SetDefault("http.max_upload_size", int64(512<<20))
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.file", "")
	v.SetDefault("strict", true)
	v.SetDefault("dispatch.default", "")
	v.SetDefault("dispatch.rules_file", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// LoadDotEnv loads variables from a .env file without overriding the environment.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configFile (or searches the default locations when empty), then
// unmarshals and validates the result
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDataDir)
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()

	baseDir := "."
	if cfg.Path != "" {
		baseDir = filepath.Dir(cfg.Path)
	}
	if err := cfg.Dispatch.ResolveRulesFile(baseDir); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration, providers and dispatch included
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr required")
	}
	if (c.HTTP.CertFile == "") != (c.HTTP.KeyFile == "") {
		return fmt.Errorf("http.cert_file and http.key_file must be set together")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider required")
	}
	seen := map[string]bool{}
	for i := range c.Providers {
		p := &c.Providers[i]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("providers[%d]: %w", i, err)
		}
		if seen[p.ID] {
			return fmt.Errorf("provider %q defined twice", p.ID)
		}
		seen[p.ID] = true
	}

	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	return nil
}
