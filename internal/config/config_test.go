package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected defaults to load, got error: %v", err)
	}

	if cfg.Server.BaseURL != "http://localhost:8080" {
		t.Errorf("expected default base URL, got '%s'", cfg.Server.BaseURL)
	}
	if cfg.Capture.Interval != 5*time.Second {
		t.Errorf("expected 5s interval, got %s", cfg.Capture.Interval)
	}
	if cfg.Capture.MaxWidth != 320 || cfg.Capture.MaxHeight != 240 || cfg.Capture.MaxFrameRate != 2 {
		t.Errorf("unexpected capture constraints %+v", cfg.Capture)
	}
	if cfg.Capture.Source != SourcePattern {
		t.Errorf("expected pattern source, got %s", cfg.Capture.Source)
	}
	if cfg.Viewer.Protocol != "binary" {
		t.Errorf("expected binary protocol, got %s", cfg.Viewer.Protocol)
	}
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	content := `
server:
  base_url: https://relay.example.com
space:
  space_id: from-file
capture:
  interval: 2s
  source: dir
  dir: /tmp/frames
viewer:
  protocol: json
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TELEPRESENCE_SPACE_ID", "from-env")
	t.Setenv("TELEPRESENCE_CAPTURE_MAX_WIDTH", "640")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.BaseURL != "https://relay.example.com" {
		t.Errorf("unexpected base url %s", cfg.Server.BaseURL)
	}
	if cfg.Space.SpaceID != "from-env" {
		t.Errorf("env must override file, got %s", cfg.Space.SpaceID)
	}
	if cfg.Capture.MaxWidth != 640 {
		t.Errorf("expected env max width 640, got %d", cfg.Capture.MaxWidth)
	}
	if cfg.Capture.Interval != 2*time.Second || cfg.Capture.Source != SourceDir {
		t.Errorf("unexpected capture config %+v", cfg.Capture)
	}
}

func TestLoadInvalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TELEPRESENCE_CAPTURE_SOURCE", "webcam")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for unknown capture source")
	}
}

func TestLoadServerConfig(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_SCREEN_BYTES", "1024")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "9090" || cfg.MaxScreenBytes != 1024 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", cfg.CORSOrigins)
	}
	if cfg.ScreenRatePerSec != 2 || cfg.ScreenBurst != 4 {
		t.Errorf("unexpected pacing %v/%d", cfg.ScreenRatePerSec, cfg.ScreenBurst)
	}

	t.Setenv("MAX_SCREEN_BYTES", "lots")
	if _, err := LoadServerConfig(); err == nil {
		t.Error("expected error for invalid MAX_SCREEN_BYTES")
	}
}
