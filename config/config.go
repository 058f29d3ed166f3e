// Package config loads vitrans runtime settings.
//
// Values come from, in increasing priority: built-in defaults, a vitrans.yaml
// file (current directory first, then $XDG_CONFIG_HOME/vitrans), and
// VITRANS_* environment variables where nested keys use "_" for ".", e.g.
// VITRANS_TRANSLATE_BATCH_SIZE. Command-line flags are applied on top by the
// caller. Credentials are not part of this file; see package settings.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/minios-linux/vitrans/gemini"
	"github.com/minios-linux/vitrans/normalize"
	"github.com/minios-linux/vitrans/settings"
	"github.com/minios-linux/vitrans/translate"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// FileName is the config file base name, without extension.
const FileName = "vitrans"

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "VITRANS"

// Config is the complete runtime configuration.
type Config struct {
	Env          string          `mapstructure:"env" validate:"oneof=development production staging"`
	DefaultModel string          `mapstructure:"default_model" validate:"required"`
	BaseURL      string          `mapstructure:"base_url" validate:"required,url"`
	Proxy        string          `mapstructure:"proxy" validate:"omitempty,url"`
	Timeout      time.Duration   `mapstructure:"timeout" validate:"min=1"`
	Translate    TranslateConfig `mapstructure:"translate"`
	Normalize    NormalizeConfig `mapstructure:"normalize"`
	Server       ServerConfig    `mapstructure:"server"`
	Page         PageConfig      `mapstructure:"page"`

	source string
}

// TranslateConfig mirrors translate.Options.
type TranslateConfig struct {
	BatchSize           int           `mapstructure:"batch_size" validate:"min=1,max=256"`
	MaxRetries          int           `mapstructure:"max_retries" validate:"min=1,max=20"`
	Throttle            time.Duration `mapstructure:"throttle" validate:"min=0"`
	ParseBackoff        time.Duration `mapstructure:"parse_backoff" validate:"min=0"`
	TransientBackoff    time.Duration `mapstructure:"transient_backoff" validate:"min=0"`
	SchemaFallbackDelay time.Duration `mapstructure:"schema_fallback_delay" validate:"min=0"`
}

// NormalizeConfig tunes the response normalizer.
type NormalizeConfig struct {
	// ReservedKeys are extra object keys never read as ids.
	ReservedKeys []string `mapstructure:"reserved_keys"`
}

// ServerConfig configures `vitrans serve`.
type ServerConfig struct {
	Listen       string   `mapstructure:"listen" validate:"required"`
	CORSOrigins  []string `mapstructure:"cors_origins"`
	MaxBodyBytes int64    `mapstructure:"max_body_bytes" validate:"min=1"`
}

// PageConfig configures page fetching.
type PageConfig struct {
	MaxFetchAttempts uint64 `mapstructure:"max_fetch_attempts" validate:"min=1,max=10"`
	UserAgent        string `mapstructure:"user_agent"`
}

// Defaults returns the built-in configuration.
func Defaults() map[string]any {
	return map[string]any{
		"env":                             "production",
		"default_model":                   settings.DefaultModel,
		"base_url":                        gemini.DefaultBaseURL,
		"proxy":                           "",
		"timeout":                         120 * time.Second,
		"translate.batch_size":            translate.DefaultBatchSize,
		"translate.max_retries":           translate.DefaultMaxRetries,
		"translate.throttle":              translate.DefaultThrottle,
		"translate.parse_backoff":         translate.DefaultParseBackoff,
		"translate.transient_backoff":     translate.DefaultTransientBackoff,
		"translate.schema_fallback_delay": translate.DefaultSchemaFallbackDelay,
		"normalize.reserved_keys":         []string{},
		"server.listen":                   "127.0.0.1:8000",
		"server.cors_origins":             []string{"*"},
		"server.max_body_bytes":           int64(4 << 20),
		"page.max_fetch_attempts":         uint64(3),
		"page.user_agent":                 "",
	}
}

// LoadOptions selects where Load looks for a config file.
type LoadOptions struct {
	// File is an explicit config file. When set, it must exist.
	File string
	// Paths are searched in order for vitrans.yaml. Defaults to "." and the
	// XDG config directory.
	Paths []string
}

// Load reads, merges and validates the configuration.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	for key, val := range Defaults() {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName(FileName)
		paths := opts.Paths
		if paths == nil {
			paths = []string{"."}
			if dir, err := settings.ConfigDir(); err == nil {
				paths = append(paths, dir)
			}
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := Config{}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := ValidateStruct(cfg); err != nil {
		return nil, err
	}

	cfg.source = v.ConfigFileUsed()
	return &cfg, nil
}

// Source returns the config file that was read, or "" when none was found.
func (c *Config) Source() string { return c.source }

// Normalizer builds a response normalizer honoring ReservedKeys.
func (c *Config) Normalizer() *normalize.Normalizer {
	if len(c.Normalize.ReservedKeys) == 0 {
		return normalize.Default()
	}
	return normalize.New(normalize.DefaultTable().WithReservedKeys(c.Normalize.ReservedKeys...))
}

// TranslateOptions converts the translate section into translate.Options.
// Defaults are already filled in, so a configured 0 disables that wait.
func (c *Config) TranslateOptions(logger *zap.Logger) translate.Options {
	return translate.Options{
		BatchSize:           c.Translate.BatchSize,
		MaxRetries:          c.Translate.MaxRetries,
		Throttle:            waitOption(c.Translate.Throttle),
		ParseBackoff:        waitOption(c.Translate.ParseBackoff),
		TransientBackoff:    waitOption(c.Translate.TransientBackoff),
		SchemaFallbackDelay: waitOption(c.Translate.SchemaFallbackDelay),
		Normalizer:          c.Normalizer(),
		Logger:              logger,
	}
}

func waitOption(d time.Duration) time.Duration {
	if d == 0 {
		return translate.NoWait
	}
	return d
}
