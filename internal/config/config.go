// Package config loads binadmin settings from defaults, a YAML file, the
// environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/bgunnarsson/binadmin/internal/db"
	"github.com/bgunnarsson/binadmin/internal/dump"
)

const (
	EnvPrefix     = "BINADMIN_"
	DefaultListen = "127.0.0.1:7420"
	DefaultOutput = "table"
	appDir        = "binadmin"
)

// ErrUnknownProfile is returned when --profile names a profile that is not
// in the config file.
var ErrUnknownProfile = errors.New("unknown profile")

type Config struct {
	db.Credentials `koanf:",squash"`

	Profile  string                    `koanf:"profile"`
	Profiles map[string]db.Credentials `koanf:"profiles"`

	Tools       dump.Tools `koanf:"tools"`
	BackupDir   string     `koanf:"backup_dir"`
	HistoryPath string     `koanf:"history_path"`

	Output    string `koanf:"output"`
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	Listen        string `koanf:"listen"`
	SessionSecret string `koanf:"session_secret"`

	// File is the config file that was read, if any.
	File string `koanf:"-"`
}

// connection flags and the keys they set
var flagKeys = map[string]string{
	"driver":     "driver",
	"host":       "host",
	"port":       "port",
	"user":       "user",
	"password":   "password",
	"database":   "database",
	"sslmode":    "sslmode",
	"profile":    "profile",
	"output":     "output",
	"log-level":  "log_level",
	"log-format": "log_format",
	"listen":     "listen",
	"backup-dir": "backup_dir",
	"history":    "history_path",
}

var connectionKeys = map[string]bool{
	"driver": true, "host": true, "port": true, "user": true,
	"password": true, "database": true, "sslmode": true,
}

func defaults() map[string]any {
	return map[string]any{
		"driver":       db.DriverPostgres,
		"backup_dir":   ".",
		"history_path": DefaultHistoryPath(),
		"output":       DefaultOutput,
		"log_level":    "warn",
		"log_format":   "text",
		"listen":       DefaultListen,
	}
}

// Dir is the per-user config directory, or "" when it cannot be determined.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, appDir)
}

func DefaultHistoryPath() string {
	if d := Dir(); d != "" {
		return filepath.Join(d, "history.db")
	}
	return ""
}

// DefaultFile is where profiles are saved when no config file exists yet.
func DefaultFile() string {
	if d := Dir(); d != "" {
		return filepath.Join(d, "binadmin.yaml")
	}
	return "binadmin.yaml"
}

// findConfigFile picks the file to read.
// Priority: explicit path > ./binadmin.yaml > ./.binadmin.yaml > user config dir.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	candidates := []string{"binadmin.yaml", ".binadmin.yaml"}
	if d := Dir(); d != "" {
		candidates = append(candidates, filepath.Join(d, "binadmin.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// Load builds the configuration.
// Precedence (highest to lowest): flags > env vars > profile > config file > defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// BINADMIN_LOG_LEVEL -> log_level, BINADMIN_TOOLS__PG_DUMP -> tools.pg_dump
	envKey := func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}
	envLayer := koanf.New(".")
	if err := envLayer.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	flagLayer := koanf.New(".")
	if flags != nil {
		if err := flagLayer.Load(posflag.ProviderWithFlag(flags, ".", flagLayer, func(f *pflag.Flag) (string, any) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if err := k.Merge(envLayer); err != nil {
		return nil, fmt.Errorf("failed to merge env vars: %w", err)
	}
	if err := k.Merge(flagLayer); err != nil {
		return nil, fmt.Errorf("failed to merge flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = used

	if cfg.Profile != "" {
		p, ok := cfg.Profiles[cfg.Profile]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownProfile, cfg.Profile)
		}
		cfg.Credentials = MergeCredentials(cfg.Credentials, p)

		// connection settings given on the command line or in the
		// environment still win over the profile
		var explicit db.Credentials
		over := koanf.New(".")
		for _, layer := range []*koanf.Koanf{envLayer, flagLayer} {
			for _, key := range layer.Keys() {
				if connectionKeys[key] {
					_ = over.Set(key, layer.Get(key))
				}
			}
		}
		if err := over.Unmarshal("", &explicit); err != nil {
			return nil, fmt.Errorf("unable to decode config: %w", err)
		}
		cfg.Credentials = MergeCredentials(cfg.Credentials, explicit)
	}

	expandCredentials(&cfg.Credentials)
	return &cfg, nil
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns. Unset variables are left as is.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		if val := os.Getenv(match[2 : len(match)-1]); val != "" {
			return val
		}
		return match
	})
}

func expandCredentials(c *db.Credentials) {
	c.Host = expandEnvVars(c.Host)
	c.User = expandEnvVars(c.User)
	c.Password = expandEnvVars(c.Password)
	c.Database = expandEnvVars(c.Database)
	for k, v := range c.Options {
		c.Options[k] = expandEnvVars(v)
	}
}

// MergeCredentials returns base with every non-empty field of override
// applied on top.
func MergeCredentials(base, override db.Credentials) db.Credentials {
	out := base.WithDatabase(base.Database)
	if override.Driver != "" {
		out.Driver = override.Driver
	}
	if override.Host != "" {
		out.Host = override.Host
	}
	if override.Port != 0 {
		out.Port = override.Port
	}
	if override.User != "" {
		out.User = override.User
	}
	if override.Password != "" {
		out.Password = override.Password
	}
	if override.Database != "" {
		out.Database = override.Database
	}
	if override.SSLMode != "" {
		out.SSLMode = override.SSLMode
	}
	if len(override.Options) > 0 {
		if out.Options == nil {
			out.Options = make(map[string]string, len(override.Options))
		}
		for k, v := range override.Options {
			out.Options[k] = v
		}
	}
	return out
}
