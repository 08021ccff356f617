// Package config loads the pine proxy configuration from an optional YAML
// file, PINE_* environment variables and command-line overrides.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nicolagi/chunkring/ring"
	"github.com/spf13/viper"
)

// Config represents the proxy configuration
type Config struct {
	Listen  Endpoint      `mapstructure:"listen"`
	Remote  Endpoint      `mapstructure:"remote"`
	Buffer  BufferConfig  `mapstructure:"buffer"`
	Log     LogConfig     `mapstructure:"log"`
	Trace   TraceConfig   `mapstructure:"trace"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Gops    GopsConfig    `mapstructure:"gops"`
}

// Endpoint is a network address, as accepted by net.Listen and net.Dial
type Endpoint struct {
	Network string `mapstructure:"network"`
	Address string `mapstructure:"address"`
}

// BufferConfig sizes the chunk ring staging each connection direction
type BufferConfig struct {
	Size     int `mapstructure:"size"`      // bytes per direction
	ReadSize int `mapstructure:"read_size"` // largest chunk received from a socket at once
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

type TraceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	MSize   uint32 `mapstructure:"msize"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"` // empty disables the /metrics listener
}

type GopsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen.network", "tcp")
	v.SetDefault("listen.address", "")
	v.SetDefault("remote.network", "tcp")
	v.SetDefault("remote.address", "")
	v.SetDefault("buffer.size", 64<<10)
	v.SetDefault("buffer.read_size", 8<<10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("trace.enabled", true)
	v.SetDefault("trace.msize", 8192+24)
	v.SetDefault("metrics.address", "")
	v.SetDefault("gops.enabled", false)
}

// Set overrides key, taking precedence over file and environment.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// Load reads the file at path, if path is not empty, and returns the
// validated configuration.
func (l *Loader) Load(path string) (*Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if c.Listen.Address == "" {
		return errors.New("listen.address is required")
	}
	if c.Remote.Address == "" {
		return errors.New("remote.address is required")
	}
	if c.Buffer.Size <= 0 || c.Buffer.Size > ring.MaxBufferSize {
		return fmt.Errorf("buffer.size must be in [1, %d], got %d", ring.MaxBufferSize, c.Buffer.Size)
	}
	if c.Buffer.ReadSize <= 0 || c.Buffer.ReadSize > c.Buffer.Size {
		return fmt.Errorf("buffer.read_size must be in [1, buffer.size], got %d", c.Buffer.ReadSize)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	if c.Trace.Enabled && c.Trace.MSize < 7 {
		return fmt.Errorf("trace.msize too small: %d", c.Trace.MSize)
	}
	return nil
}
