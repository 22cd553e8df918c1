package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parcheck.json")
	if err := os.WriteFile(path, []byte(`{"fix_names": true, "total_volumes": 4}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.FixNames {
		t.Fatal("FixNames should be true from the overlay")
	}
	if cfg.TotalVolumes != 4 {
		t.Fatalf("TotalVolumes = %d, want 4", cfg.TotalVolumes)
	}
	if !cfg.RecoverVolumes {
		t.Fatal("RecoverVolumes default should survive an overlay that doesn't mention it")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
