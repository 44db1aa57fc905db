// Package config loads knolfix settings. Sources are layered: built-in
// defaults, an optional YAML file, KNOLFIX_ environment variables and finally
// command-line flags that were set explicitly.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "KNOLFIX_"

type Config struct {
	DB                  string          `koanf:"db" validate:"required"`
	LogLevel            string          `koanf:"log_level" validate:"oneof=debug info warn error"`
	ProgressLabel       string          `koanf:"progress_label" validate:"required"`
	MaxReportedProblems int             `koanf:"max_reported_problems" validate:"min=1,max=100"`
	StmtCacheSize       int             `koanf:"stmt_cache_size" validate:"min=1"`
	RolloverHour        int             `koanf:"rollover_hour" validate:"min=0,max=23"`
	Report              string          `koanf:"report"`
	Telemetry           TelemetryConfig `koanf:"telemetry"`
}

type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint" validate:"omitempty,hostname_port"`
	Insecure bool   `koanf:"insecure"`
}

var defaults = map[string]any{
	"log_level":             "info",
	"progress_label":        "Checking database",
	"max_reported_problems": 10,
	"stmt_cache_size":       64,
	"rollover_hour":         4,
	"telemetry.enabled":     false,
	"telemetry.insecure":    false,
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	return validate.Struct(c)
}

// SlogLevel maps the configured log level to a slog level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RegisterFlags adds the command-line flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("db", "", "Path to the collection database")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("progress-label", "Checking database", "Text shown in front of the progress counter")
	fs.Int("max-reported-problems", 10, "Number of problems sent to telemetry")
	fs.Int("stmt-cache-size", 64, "Number of compiled statements kept per database")
	fs.Int("rollover-hour", 4, "Hour at which a new scheduler day starts")
	fs.String("report", "", "Write the check result as JSON to this file")
	fs.Bool("telemetry-enabled", false, "Export traces over OTLP/HTTP")
	fs.String("telemetry-endpoint", "", "OTLP/HTTP endpoint (host:port)")
	fs.Bool("telemetry-insecure", false, "Use plain HTTP for the OTLP endpoint")
}

// Load builds the configuration. path may be empty to skip the config file;
// fs may be nil when there are no flags.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	var cfg Config
	k := koanf.New(".")

	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return cfg, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return cfg, fmt.Errorf("failed to load environment: %w", err)
	}

	if fs != nil {
		// Flags left at their default do not override earlier sources.
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			return flagKey(f.Name), posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return cfg, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey maps KNOLFIX_TELEMETRY_ENDPOINT to telemetry.endpoint and
// KNOLFIX_LOG_LEVEL to log_level.
func envKey(s string) string {
	return nestKey(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)))
}

// flagKey maps --telemetry-endpoint to telemetry.endpoint and --log-level to
// log_level.
func flagKey(name string) string {
	return nestKey(strings.ReplaceAll(name, "-", "_"))
}

func nestKey(key string) string {
	if rest, ok := strings.CutPrefix(key, "telemetry_"); ok {
		return "telemetry." + rest
	}
	return key
}
