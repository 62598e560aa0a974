//go:build testing

package config

import (
	"bytes"
	"go/format"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/zoobzio/repospawn"
)

// isolate points every config search path at empty temp dirs.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	return filepath.Join(xdg, AppName)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg, used, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != "" {
		t.Errorf("config file used: %q, want none", used)
	}
	if cfg.Namespace != repospawn.DefaultNamespace {
		t.Errorf("Namespace: got %q", cfg.Namespace)
	}
	if !slices.Equal(cfg.Descriptors, repospawn.DefaultDescriptors) {
		t.Errorf("Descriptors: got %v", cfg.Descriptors)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.DSN != filepath.Join(dir, "sessions.db") {
		t.Errorf("Store: got %+v", cfg.Store)
	}
	if cfg.Archive.Enabled {
		t.Error("archive enabled by default")
	}
}

func TestLoad_FileInConfigDir(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "repospawn.yaml"), `
namespace: everware
descriptors: [Dockerfile]
log_level: debug
env:
  - JUPYTER_TOKEN=abc
store:
  driver: postgres
  dsn: postgres://u:p@localhost/db
`)

	cfg, used, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != filepath.Join(dir, "repospawn.yaml") {
		t.Errorf("used: got %q", used)
	}
	if cfg.Namespace != "everware" || cfg.LogLevel != "debug" {
		t.Errorf("got %+v", cfg)
	}
	if !slices.Equal(cfg.Descriptors, []string{"Dockerfile"}) {
		t.Errorf("Descriptors: got %v", cfg.Descriptors)
	}
	env, err := ParsePairs(cfg.Env)
	if err != nil || env["JUPYTER_TOKEN"] != "abc" {
		t.Errorf("Env: got %v (%v)", env, err)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://u:p@localhost/db" {
		t.Errorf("Store: got %+v", cfg.Store)
	}
	// untouched keys keep their defaults
	if cfg.ContainerPrefix != repospawn.DefaultContainerPrefix {
		t.Errorf("ContainerPrefix: got %q", cfg.ContainerPrefix)
	}
}

func TestLoad_ExplicitPath(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	writeFile(t, path, "namespace: custom\n")

	cfg, used, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != path || cfg.Namespace != "custom" {
		t.Errorf("got (%q, %q)", used, cfg.Namespace)
	}
}

func TestLoad_ExplicitPathMissing(t *testing.T) {
	isolate(t)
	if _, _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "repospawn.yaml"), "namespace: fromfile\n")
	t.Setenv("REPOSPAWN_NAMESPACE", "fromenv")
	t.Setenv("REPOSPAWN_STORE_DSN", "/tmp/other.db")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Namespace != "fromenv" {
		t.Errorf("Namespace: got %q", cfg.Namespace)
	}
	if cfg.Store.DSN != "/tmp/other.db" {
		t.Errorf("Store.DSN: got %q", cfg.Store.DSN)
	}
}

func TestLoad_Invalid(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "repospawn.yaml"), "store:\n  driver: mysql\n")
	if _, _, err := Load(""); err == nil || !strings.Contains(err.Error(), "store.driver") {
		t.Errorf("got %v, want store.driver error", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := Default()
	valid.Store.DSN = "sessions.db"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"empty namespace", func(c *Config) { c.Namespace = "" }, true},
		{"namespace with colon", func(c *Config) { c.Namespace = "a:b" }, true},
		{"no descriptors", func(c *Config) { c.Descriptors = nil }, true},
		{"descriptor path", func(c *Config) { c.Descriptors = []string{"sub/Dockerfile"} }, true},
		{"no prefix", func(c *Config) { c.ContainerPrefix = "" }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"bad env", func(c *Config) { c.Env = []string{"NOEQUALS"} }, true},
		{"bad build arg", func(c *Config) { c.BuildArgs = []string{"=x"} }, true},
		{"no dsn", func(c *Config) { c.Store.DSN = "" }, true},
		{"archive incomplete", func(c *Config) { c.Archive.Enabled = true }, true},
		{"archive complete", func(c *Config) {
			c.Archive = ArchiveConfig{Enabled: true, Endpoint: "s3:9000", AccessKey: "a", SecretKey: "s", Bucket: "b"}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate: got %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParsePairs(t *testing.T) {
	got, err := ParsePairs([]string{"A=1", "B=x=y", "C="})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["A"] != "1" || got["B"] != "x=y" || got["C"] != "" || len(got) != 3 {
		t.Errorf("got %v", got)
	}
}

func TestWriteDefault(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "repospawn.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := WriteDefault(path); err == nil {
		t.Error("second write should refuse to overwrite")
	}

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("load written default: %v", err)
	}
	if cfg.Namespace != repospawn.DefaultNamespace {
		t.Errorf("Namespace: got %q", cfg.Namespace)
	}
}

func TestConfig_Redacted(t *testing.T) {
	cases := []struct {
		name, dsn, want string
	}{
		{"url with password", "postgres://repo:hunter2@db:5432/spawn?sslmode=disable", "postgres://repo:xxxxx@db:5432/spawn?sslmode=disable"},
		{"url without password", "postgres://repo@db/spawn", "postgres://repo@db/spawn"},
		{"key value", "host=db user=repo password=hunter2 dbname=spawn", "host=db user=repo password=xxxxx dbname=spawn"},
		{"quoted key value", "host=db password='hun ter2' dbname=spawn", "host=db password=xxxxx dbname=spawn"},
		{"sqlite path", "/var/lib/repospawn/sessions.db", "/var/lib/repospawn/sessions.db"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			c.Store.DSN = tc.dsn
			c.Archive.SecretKey = "s3cr3t"

			r := c.Redacted()
			if r.Store.DSN != tc.want {
				t.Errorf("DSN: got %q, want %q", r.Store.DSN, tc.want)
			}
			if r.Archive.SecretKey != "xxxxx" {
				t.Errorf("SecretKey: got %q", r.Archive.SecretKey)
			}
			if c.Store.DSN != tc.dsn || c.Archive.SecretKey != "s3cr3t" {
				t.Error("Redacted modified the receiver")
			}
		})
	}
}

func TestConfig_RedactedEmptySecret(t *testing.T) {
	if got := Default().Redacted().Archive.SecretKey; got != "" {
		t.Errorf("SecretKey: got %q, want empty", got)
	}
}

func TestSourceFormatted(t *testing.T) {
	src, err := os.ReadFile("config.go")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got, err := format.Source(src)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Error("config.go is not gofmt-formatted")
	}
}
