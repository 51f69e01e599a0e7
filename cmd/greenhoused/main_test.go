package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"greenhouse/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestCLICheckBuildsEveryComponent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "catalog.yaml"), "seed_types:\n  - name: Tomato\n    expected_germination_rate: 90\n    ideal_temperature: 25\n    ideal_humidity: 60\n    estimated_profit: 100\n")
	writeFile(t, filepath.Join(dir, "greenhouse.yaml"), strings.Join([]string{
		"storage:",
		"  driver: sqlite",
		"  sqlite_path: " + filepath.Join(dir, "gh.db"),
		"blob:",
		"  driver: fs",
		"  fs_root: " + filepath.Join(dir, "blobs"),
		"catalog:",
		"  path: " + filepath.Join(dir, "catalog.yaml"),
		"",
	}, "\n"))
	writeFile(t, filepath.Join(dir, ".env"), "GREENHOUSE_LOG_LEVEL=warn\n")

	var stdout, stderr bytes.Buffer
	code := cli([]string{"-config", dir, "-env-file", filepath.Join(dir, ".env"), "-check"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	if got := stdout.String(); !strings.Contains(got, "configuration ok") {
		t.Fatalf("unexpected stdout %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "gh.db")); err != nil {
		t.Fatalf("expected sqlite file: %v", err)
	}
}

func TestCLIRejectsUnknownDriver(t *testing.T) {
	t.Setenv("GREENHOUSE_STORAGE_DRIVER", "cassandra")
	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-config", t.TempDir(), "-env-file", "missing.env", "-check"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func TestCLIBadFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-nope"}, &stdout, &stderr); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	a, err := build(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.close(ctx)

	done := make(chan error, 1)
	go func() { done <- a.serve(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
