package parapi

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/xtaci/parcheck/internal/config"
	"github.com/xtaci/parcheck/internal/progress"
)

func newTestAPI(t *testing.T, dir string) *API {
	t.Helper()
	cfg := config.Default()
	cfg.TotalVolumes = 1
	rep := progress.New(new(bytes.Buffer), 0)
	return New(dir, cfg, rep)
}

func writeFile(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCreateThenRecoverMissingFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.dat", bytes.Repeat([]byte{0x11}, 20000))
	writeFile(t, dir, "b.dat", []byte("second file, much shorter"))

	api := newTestAPI(t, dir)
	if err := api.AddFile(filepath.Join(dir, "a.dat")); err != nil {
		t.Fatalf("AddFile a.dat: %v", err)
	}
	if err := api.AddFile(filepath.Join(dir, "b.dat")); err != nil {
		t.Fatalf("AddFile b.dat: %v", err)
	}
	if err := api.AddPars(1); err != nil {
		t.Fatalf("AddPars: %v", err)
	}

	if got := api.FileList(); len(got) != 2 {
		t.Fatalf("FileList = %v, want 2 entries", got)
	}

	if _, err := api.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "recovery.vol1")); err != nil {
		t.Fatalf("expected recovery.vol1 to be written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "recovery.par")); err != nil {
		t.Fatalf("expected recovery.par to be written: %v", err)
	}

	want, err := os.ReadFile(filepath.Join(dir, "a.dat"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, "a.dat")); err != nil {
		t.Fatal(err)
	}

	// Reload into a fresh API as a real recovery session would.
	api2 := newTestAPI(t, dir)
	if err := api2.Load("recovery.par"); err != nil {
		t.Fatalf("Load recovery.par: %v", err)
	}
	if err := api2.Load("recovery.vol1"); err != nil {
		t.Fatalf("Load recovery.vol1: %v", err)
	}

	outcomes, err := api2.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	var recovered bool
	for _, o := range outcomes {
		if o.Name == "a.dat" {
			recovered = o.Status == progress.Recovered
		}
	}
	if !recovered {
		t.Fatalf("a.dat was not recovered: %+v", outcomes)
	}

	got, err := os.ReadFile(filepath.Join(dir, "a.dat"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("recovered a.dat does not match original bytes")
	}
}

func TestAddFileRejectsNameClash(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.dat", []byte("one"))

	api := newTestAPI(t, dir)
	if err := api.AddFile(filepath.Join(dir, "a.dat")); err != nil {
		t.Fatal(err)
	}

	// Same base name, different content, from elsewhere on disk.
	clashDir := t.TempDir()
	writeFile(t, clashDir, "a.dat", []byte("different content"))
	if err := api.AddFile(filepath.Join(clashDir, "a.dat")); err == nil {
		t.Fatal("expected a NameClash error for same name, different hash")
	}

	// Same name, same content: AlreadyLoaded, not NameClash.
	if err := api.AddFile(filepath.Join(dir, "a.dat")); err == nil {
		t.Fatal("expected AlreadyLoaded for an identical re-add")
	}
}

func TestLoadRejectsAlreadyLoaded(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.dat", []byte("content"))
	api := newTestAPI(t, dir)
	if err := api.AddFile(filepath.Join(dir, "a.dat")); err != nil {
		t.Fatal(err)
	}
	if err := api.AddPars(1); err != nil {
		t.Fatal(err)
	}
	if _, err := api.Create(); err != nil {
		t.Fatal(err)
	}

	api2 := newTestAPI(t, dir)
	if err := api2.Load("recovery.par"); err != nil {
		t.Fatal(err)
	}
	if err := api2.Load("recovery.par"); err == nil {
		t.Fatal("expected AlreadyLoaded on second load of the same volume")
	}
}
