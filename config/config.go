// Package config loads application configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Dialogue  DialogueConfig  `mapstructure:"dialogue"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains the control API settings.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// DialogueConfig tunes the question/answer coordinator.
type DialogueConfig struct {
	// DefaultTimeout bounds blocking answer waits without an explicit
	// per-call timeout.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// OpenBrowser launches the respondent UI when a session starts; off for
	// headless operation.
	OpenBrowser bool `mapstructure:"open_browser"`
	// TransportHost is the bind host for per-session endpoints.
	TransportHost string `mapstructure:"transport_host"`
}

// StorageConfig selects and tunes the brainstorm snapshot store.
type StorageConfig struct {
	// Kind is "file" or "redis".
	Kind    string      `mapstructure:"kind"`
	BaseDir string      `mapstructure:"base_dir"`
	Redis   RedisConfig `mapstructure:"redis"`
	// Retention prunes file snapshots older than this; zero disables the
	// sweep. For redis the same duration becomes the key TTL.
	Retention time.Duration `mapstructure:"retention"`
	// SweepCron schedules the retention sweep for the file backend.
	SweepCron string `mapstructure:"sweep_cron"`
}

// RedisConfig contains redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TelemetryConfig controls metrics exposure.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig reads configuration from the given path, or from the standard
// search locations when path is empty, with COLLOQUY_* environment variables
// overriding file values. A missing config file is fine; defaults apply.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.listen", ":8642")
	viper.SetDefault("dialogue.default_timeout", 5*time.Minute)
	viper.SetDefault("dialogue.transport_host", "127.0.0.1")
	viper.SetDefault("storage.kind", "file")
	viper.SetDefault("storage.sweep_cron", "@hourly")
	viper.SetDefault("storage.redis.addr", "localhost:6379")
	viper.SetDefault("telemetry.enabled", true)

	if path == "" {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("COLLOQUY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return &config
}
