package repl

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xtaci/parcheck/internal/config"
	"github.com/xtaci/parcheck/internal/parapi"
	"github.com/xtaci/parcheck/internal/progress"
)

func TestRunCreateAndFileList(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.dat"), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.TotalVolumes = 1
	rep := progress.New(new(bytes.Buffer), 0)
	api := parapi.New(dir, cfg, rep)

	var out bytes.Buffer
	in := strings.NewReader("addfile " + filepath.Join(dir, "a.dat") + "\naddpars 1\ncreate\nfilelist\nquit\n")
	if err := Run(api, in, &out); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !strings.Contains(out.String(), "a.dat") {
		t.Fatalf("expected a.dat in output, got %q", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "recovery.vol1")); err != nil {
		t.Fatalf("expected recovery.vol1 to exist: %v", err)
	}
}

func TestRunReportsUnknownCommand(t *testing.T) {
	dir := t.TempDir()
	api := parapi.New(dir, config.Default(), progress.New(new(bytes.Buffer), 0))
	var out bytes.Buffer
	in := strings.NewReader("bogus\nquit\n")
	if err := Run(api, in, &out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "unknown command") {
		t.Fatalf("expected unknown command error, got %q", out.String())
	}
}
