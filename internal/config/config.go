// Package config loads repospawn settings from a YAML file, environment
// variables and built-in defaults, in increasing order of precedence:
// defaults, file, environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/zoobzio/repospawn"
	"github.com/zoobzio/repospawn/internal/logarchive"
	"github.com/zoobzio/repospawn/internal/store"
)

const (
	// AppName is the application name.
	AppName = "repospawn"
	// FileName is the config file name without extension.
	FileName = "repospawn"
	// EnvPrefix prefixes environment overrides: store.dsn is read from
	// REPOSPAWN_STORE_DSN.
	EnvPrefix = "REPOSPAWN"
)

// Config holds every repospawn setting.
type Config struct {
	Namespace       string        `yaml:"namespace" mapstructure:"namespace"`
	Descriptors     []string      `yaml:"descriptors" mapstructure:"descriptors"`
	ScratchDir      string        `yaml:"scratch_dir" mapstructure:"scratch_dir"`
	ContainerPrefix string        `yaml:"container_prefix" mapstructure:"container_prefix"`
	LogLevel        string        `yaml:"log_level" mapstructure:"log_level"`
	Env             []string      `yaml:"env" mapstructure:"env"`
	BuildArgs       []string      `yaml:"build_args" mapstructure:"build_args"`
	Cmd             []string      `yaml:"cmd" mapstructure:"cmd"`
	Store           StoreConfig   `yaml:"store" mapstructure:"store"`
	Archive         ArchiveConfig `yaml:"archive" mapstructure:"archive"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	// DSN is a file path for sqlite and a connection URL for postgres.
	// Empty selects sessions.db in the config directory for sqlite.
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// ArchiveConfig locates the build log bucket.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Region    string `yaml:"region" mapstructure:"region"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// Logarchive converts c to the archive client configuration.
func (c ArchiveConfig) Logarchive() logarchive.Config {
	return logarchive.Config{
		Endpoint:  c.Endpoint,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Region:    c.Region,
		Bucket:    c.Bucket,
		UseSSL:    c.UseSSL,
	}
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Namespace:       repospawn.DefaultNamespace,
		Descriptors:     append([]string(nil), repospawn.DefaultDescriptors...),
		ContainerPrefix: repospawn.DefaultContainerPrefix,
		LogLevel:        "info",
		Store: StoreConfig{
			Driver: store.DriverSQLite,
		},
		Archive: ArchiveConfig{
			Bucket: "repospawn-build-logs",
			UseSSL: true,
		},
	}
}

// Dir returns the configuration directory: $XDG_CONFIG_HOME/repospawn,
// defaulting to ~/.config/repospawn.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, AppName), nil
}

// Load reads the configuration. A non-empty path is used exclusively and
// must exist; otherwise repospawn.yaml is searched for in Dir(),
// ~/.repospawn and the working directory, and a missing file is not an
// error. The result is validated.
func Load(path string) (*Config, string, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	dir, err := Dir()
	if err != nil {
		return nil, "", err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, "."+AppName))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Store.Driver == store.DriverSQLite && cfg.Store.DSN == "" {
		cfg.Store.DSN = filepath.Join(dir, "sessions.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, v.ConfigFileUsed(), nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("namespace", d.Namespace)
	v.SetDefault("descriptors", d.Descriptors)
	v.SetDefault("scratch_dir", d.ScratchDir)
	v.SetDefault("container_prefix", d.ContainerPrefix)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("env", d.Env)
	v.SetDefault("build_args", d.BuildArgs)
	v.SetDefault("cmd", d.Cmd)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("archive.enabled", d.Archive.Enabled)
	v.SetDefault("archive.endpoint", d.Archive.Endpoint)
	v.SetDefault("archive.access_key", d.Archive.AccessKey)
	v.SetDefault("archive.secret_key", d.Archive.SecretKey)
	v.SetDefault("archive.region", d.Archive.Region)
	v.SetDefault("archive.bucket", d.Archive.Bucket)
	v.SetDefault("archive.use_ssl", d.Archive.UseSSL)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Namespace == "" || strings.ContainsAny(c.Namespace, " \t:") {
		return fmt.Errorf("namespace %q must be non-empty without spaces or colons", c.Namespace)
	}
	if len(c.Descriptors) == 0 {
		return errors.New("descriptors must name at least one file")
	}
	for _, d := range c.Descriptors {
		if d == "" || strings.ContainsRune(d, filepath.Separator) {
			return fmt.Errorf("descriptor %q must be a plain file name", d)
		}
	}
	if c.ContainerPrefix == "" {
		return errors.New("container_prefix is required")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.Store.Driver {
	case store.DriverSQLite, store.DriverPostgres:
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", store.DriverSQLite, store.DriverPostgres, c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return errors.New("store.dsn is required")
	}
	if _, err := ParsePairs(c.Env); err != nil {
		return fmt.Errorf("env: %w", err)
	}
	if _, err := ParsePairs(c.BuildArgs); err != nil {
		return fmt.Errorf("build_args: %w", err)
	}
	if c.Archive.Enabled {
		if err := c.Archive.Logarchive().Validate(); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
	}
	return nil
}

// ParsePairs converts KEY=VALUE entries to a map. Entries are kept as a
// list in the file because configuration keys are case-insensitive.
func ParsePairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%q is not KEY=VALUE", p)
		}
		out[k] = v
	}
	return out, nil
}

// redactedMark replaces secrets in Redacted output.
const redactedMark = "xxxxx"

var dsnPassword = regexp.MustCompile(`(?i)(\bpassword\s*=\s*)('[^']*'|\S+)`)

// Redacted returns a copy of c with the archive secret key and any password
// in the store DSN masked.
func (c Config) Redacted() Config {
	if c.Archive.SecretKey != "" {
		c.Archive.SecretKey = redactedMark
	}
	c.Store.DSN = redactDSN(c.Store.DSN)
	return c
}

func redactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			return u.Redacted()
		}
		return dsn
	}
	return dsnPassword.ReplaceAllString(dsn, "${1}"+redactedMark)
}

// Marshal renders c as YAML.
func Marshal(c Config) ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteDefault writes the default configuration to path, creating parent
// directories. An existing file is never overwritten.
func WriteDefault(path string) error {
	data, err := Marshal(Default())
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write config: %w", err)
	}
	return f.Close()
}
