package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of the environment variables read by Load.
const EnvPrefix = "SQLPRUNE_"

// configKey and loggerKey store the config and the logger in a command
// context.
type configKey struct{}
type loggerKey struct{}

// findConfigFile finds the config file to use.
// Priority: explicit path > sqlprune.yaml > sqlprune.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{"sqlprune.yaml", "sqlprune.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load loads configuration from defaults, the config file, environment
// variables and flags. Precedence (highest to lowest): flags > env vars >
// config file > defaults. It returns the config and the config file used,
// if any.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, string, error) {
	k := koanf.New(".")

	// 1. Load defaults
	if err := k.Load(confmap.Provider(map[string]any{
		"driver":        DefaultDriver,
		"database":      DefaultDatabase,
		"output":        DefaultOutput,
		"verbose":       false,
		"allow_unbound": false,
	}, "."), nil); err != nil {
		return nil, "", fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Load config file
	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, "", fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// 3. Load environment variables
	// Transform: SQLPRUNE_ALLOW_UNBOUND -> allow_unbound
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, "", fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags that were explicitly set
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed || f.Name == "config" || f.Name == "set" {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, "", fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, "", fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, used, nil
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	if !slices.Contains(Drivers, c.Driver) {
		return fmt.Errorf("invalid driver %q, expected one of %s", c.Driver, strings.Join(Drivers, ", "))
	}
	if !slices.Contains(Outputs, c.Output) {
		return fmt.Errorf("invalid output %q, expected one of %s", c.Output, strings.Join(Outputs, ", "))
	}
	return nil
}

// NewLogger returns a logger writing to the command's error stream, at
// debug level when the config is verbose.
func (c *Config) NewLogger(out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(logrus.WarnLevel)
	if c.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// WithConfig returns a context holding cfg and log.
func WithConfig(ctx context.Context, cfg *Config, log logrus.FieldLogger) context.Context {
	ctx = context.WithValue(ctx, configKey{}, cfg)
	return context.WithValue(ctx, loggerKey{}, log)
}

// FromContext retrieves the config from a command context, or the defaults
// if there is none.
func FromContext(ctx context.Context) *Config {
	if ctx != nil {
		if c, ok := ctx.Value(configKey{}).(*Config); ok {
			return c
		}
	}
	return &Config{
		Driver:   DefaultDriver,
		Database: DefaultDatabase,
		Output:   DefaultOutput,
	}
}

// Logger retrieves the logger from a command context.
func Logger(ctx context.Context) logrus.FieldLogger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(logrus.FieldLogger); ok {
			return l
		}
	}
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return log
}
