// Package config loads the settings of the fluid command from a YAML file
// and FLUID_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lemmego/fluid"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "FLUID"
	configFileName = "fluid"
	configFileType = "yaml"
)

// Config is the top-level configuration
type Config struct {
	// Provider names the registered provider factory: gorm, bun, mongo,
	// redis or memory
	Provider string        `mapstructure:"provider"`
	Database fluid.Config  `mapstructure:"database"`
	Log      LogConfig     `mapstructure:"log"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// MetricsConfig configures the Prometheus endpoint of "fluid serve"
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// setDefaults registers every key so that FLUID_* variables can override it
func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "gorm")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.database", "fluid.db")
	v.SetDefault("database.connection_url", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.max_idle_conns", 0)
	v.SetDefault("database.conn_max_lifetime", "0s")
	v.SetDefault("database.conn_max_idle_time", "0s")
	v.SetDefault("database.ssl.enabled", false)
	v.SetDefault("database.ssl.mode", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads the configuration. An empty path searches fluid.yaml in the
// working directory and $HOME/.fluid; a missing file there is not an error.
// FLUID_DATABASE_HOST style variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.fluid")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings Load cannot default
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fluid.NewError(fluid.ErrorTypeConfiguration, "provider is required")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fluid.NewError(fluid.ErrorTypeConfiguration,
			fmt.Sprintf("unknown log format %q", c.Log.Format))
	}
	return nil
}
