//go:build testing

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"

	"github.com/zoobzio/repospawn"
)

const testDockerfile = "FROM busybox:1.36\nCMD [\"sleep\", \"300\"]\n"

// requireDocker skips the test unless a Docker daemon answers, and returns
// an engine connected to it.
func requireDocker(t *testing.T) *repospawn.DockerEngine {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	eng, err := repospawn.NewDockerEngine()
	if err != nil {
		t.Skipf("Docker client unavailable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Preflight(ctx); err != nil {
		_ = eng.Close()
		t.Skipf("Docker not available: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

// requireTestcontainers skips the test unless testcontainers can reach a
// provider. Provider detection may panic on hosts without Docker.
func requireTestcontainers(t *testing.T) {
	t.Helper()
	requireDocker(t)
	available := func() (ok bool) {
		defer func() {
			if r := recover(); r != nil {
				ok = false
			}
		}()
		provider, err := testcontainers.ProviderDocker.GetProvider()
		if err != nil {
			return false
		}
		defer provider.Close()
		return true
	}()
	if !available {
		t.Skip("testcontainers provider not available")
	}
}

// makeContextDir writes testDockerfile into a fresh directory.
func makeContextDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(testDockerfile), 0o644); err != nil {
		t.Fatalf("write Dockerfile: %v", err)
	}
	return dir
}
