package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scanner.BatchSize != 200 {
		t.Errorf("BatchSize = %d, want default 200", cfg.Scanner.BatchSize)
	}
	if cfg.Output.Directory != "./result" {
		t.Errorf("Output.Directory = %q, want ./result", cfg.Output.Directory)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scanner_config.json")
	content := `{"scanner": {"batch_size": 50, "only_success": true}, "output": {"format": ["text", "json"]}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scanner.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", cfg.Scanner.BatchSize)
	}
	if !cfg.Scanner.OnlySuccess {
		t.Error("OnlySuccess = false, want true")
	}

	formats := cfg.OutputFormats()
	if len(formats) != 2 || formats[0] != "text" || formats[1] != "json" {
		t.Errorf("OutputFormats() = %v, want [text json]", formats)
	}
}

func TestOutputFormatsAliasesTxtToText(t *testing.T) {
	cfg := &Config{Output: OutputConfig{Format: "txt"}}
	formats := cfg.OutputFormats()
	if len(formats) != 1 || formats[0] != "text" {
		t.Errorf("OutputFormats() = %v, want [text]", formats)
	}
}

func TestEnvVarOverride(t *testing.T) {
	t.Setenv("SCANNER_SCANNER_BATCH_SIZE", "77")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scanner.BatchSize != 77 {
		t.Errorf("BatchSize = %d, want 77 from env override", cfg.Scanner.BatchSize)
	}
}
