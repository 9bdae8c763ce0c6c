package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Model == "" || cfg.ModelMaxTokens != 4096 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.DefaultContextThreshold != 0.7 {
		t.Fatalf("DefaultContextThreshold = %v, want 0.7", cfg.DefaultContextThreshold)
	}
}

func TestLoadConfigClampsAndBackfills(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	raw := "model: \"\"\nmodel_max_tokens: -5\ndefault_context_threshold: 1.5\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Model == "" {
		t.Fatal("empty model not backfilled")
	}
	if cfg.ModelMaxTokens != 4096 {
		t.Fatalf("ModelMaxTokens = %d, want 4096", cfg.ModelMaxTokens)
	}
	if cfg.DefaultContextThreshold != 0.95 {
		t.Fatalf("threshold not clamped: %v", cfg.DefaultContextThreshold)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	in := DefaultConfig()
	in.APIKey = "sk-test"
	in.Model = "some-model"
	in.DefaultContextThreshold = 0.4

	if err := SaveConfig(in, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	out, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch:\n in  %+v\n out %+v", in, out)
	}
}
