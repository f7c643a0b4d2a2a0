package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PLANNER_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TimeLimitSec != 30 || cfg.Workers != 4 || cfg.ExhaustiveLimit != 9 {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.Weights.Lateness != 10000 || cfg.Weights.Compactness != 1 {
		t.Fatalf("default weights: %+v", cfg.Weights)
	}
}

func TestLoadYAMLFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "planner.yaml")
	raw := []byte(`
addr: ":9090"
timeLimitSec: 10
workers: 8
mirrorPolicy: forward
weights:
  lateness: 20000
  changeover: 700
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("PLANNER_CONFIG", path)
	t.Setenv("PLANNER_WORKERS", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.TimeLimitSec != 10 {
		t.Fatalf("yaml values: %+v", cfg)
	}
	// env wins over the file
	if cfg.Workers != 2 {
		t.Fatalf("workers: got %d, want 2", cfg.Workers)
	}
	if cfg.MirrorPolicy != "forward" {
		t.Fatalf("mirrorPolicy: got %s", cfg.MirrorPolicy)
	}
	if cfg.Weights.Lateness != 20000 || cfg.Weights.Changeover != 700 {
		t.Fatalf("weights: %+v", cfg.Weights)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "planner.yaml")
	if err := os.WriteFile(path, []byte("mirrorPolicy: backward\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("PLANNER_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown mirrorPolicy")
	}
}

func TestOverlay(t *testing.T) {
	base := Default()
	out := base.Overlay(map[string]any{
		"timeLimitSec": 5.0,
		"mirrorPolicy": "forward",
		"weights":      map[string]any{"changeover": 900.0},
		"bogus":        "ignored",
	})
	if out.TimeLimitSec != 5 || out.MirrorPolicy != "forward" {
		t.Fatalf("overlay: %+v", out)
	}
	if out.Weights.Changeover != 900 || out.Weights.Lateness != base.Weights.Lateness {
		t.Fatalf("weights overlay: %+v", out.Weights)
	}
	// base is unchanged
	if base.TimeLimitSec != 30 {
		t.Fatalf("base mutated: %+v", base)
	}
}

func TestOverlayIgnoresInvalid(t *testing.T) {
	base := Default()
	out := base.Overlay(map[string]any{
		"timeLimitSec": -1.0,
		"workers":      0.0,
		"mirrorPolicy": "sideways",
	})
	if out != base {
		t.Fatalf("invalid values should be ignored: %+v", out)
	}
}
