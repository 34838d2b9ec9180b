// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ServiceName tags loggers and reports emitted by this process.
const ServiceName = "qoegate"

// configValidate is the shared validator instance for configuration structs.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
}

// Config holds the entire application configuration.
type Config struct {
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger"`
	Policy PolicyConfig `mapstructure:"policy" yaml:"policy"`
	HTTP   HTTPConfig   `mapstructure:"http" yaml:"http"`
	Batch  BatchConfig  `mapstructure:"batch" yaml:"batch"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error dpanic panic fatal"`
	Format      string      `mapstructure:"format" yaml:"format" validate:"oneof=console json"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name" validate:"required"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size" validate:"gte=1"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age" validate:"gte=0"`
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

// PolicyConfig selects the gating policy and criticality profile sources.
// Name resolves a built-in preset; File points at a YAML policy document and
// takes precedence when both are set by flags. Profile is an optional path to
// a criticality profile; empty means the built-in streaming profile.
type PolicyConfig struct {
	Name    string `mapstructure:"name" yaml:"name"`
	File    string `mapstructure:"file" yaml:"file"`
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// HTTPConfig tunes outbound fetches of baseline and current documents.
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gt=0"`
	Burst     int           `mapstructure:"burst" yaml:"burst" validate:"gte=1"`
}

// BatchConfig tunes concurrent manifest evaluation.
type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=1"`
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
	v.SetDefault("logger.service_name", ServiceName)
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", true)

	// -- Policy --
	v.SetDefault("policy.name", "default")
	v.SetDefault("policy.file", "")
	v.SetDefault("policy.profile", "")

	// -- HTTP --
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.rate_limit", 4.0)
	v.SetDefault("http.burst", 2)

	// -- Batch --
	v.SetDefault("batch.concurrency", 4)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config field %s failed %q validation", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}
