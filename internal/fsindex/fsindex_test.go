package fsindex

import (
	"crypto/md5"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureHashedIsMonotonicAndIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	content := append([]byte("PAR\x00"), make([]byte, PrefixSize*2)...)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	ix := New(false)
	e, err := ix.Add(path)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if e.Level != LevelNone {
		t.Fatalf("fresh entry level = %v, want LevelNone", e.Level)
	}

	ix.EnsureHashed(e, LevelPrefix)
	if e.Level != LevelPrefix {
		t.Fatalf("level after EnsureHashed(PREFIX) = %v", e.Level)
	}
	wantMagic := [4]byte{'P', 'A', 'R', 0}
	if e.Magic != wantMagic {
		t.Fatalf("Magic = %v, want %v", e.Magic, wantMagic)
	}
	wantPrefix := md5.Sum(content[:PrefixSize])
	if e.PrefixMD5 != wantPrefix {
		t.Fatal("PrefixMD5 mismatch")
	}

	// Re-requesting PREFIX must not touch FULL.
	ix.EnsureHashed(e, LevelPrefix)
	if e.Level != LevelPrefix {
		t.Fatal("level regressed or advanced unexpectedly on repeat PREFIX request")
	}

	ix.EnsureHashed(e, LevelFull)
	if e.Level != LevelFull {
		t.Fatalf("level after EnsureHashed(FULL) = %v", e.Level)
	}
	wantFull := md5.Sum(content)
	if e.FullMD5 != wantFull {
		t.Fatal("FullMD5 mismatch")
	}
}

func TestEnsureHashedRecordsErrorWithoutEviction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.bin")
	ix := New(false)
	e := &Entry{Path: path}

	ix.EnsureHashed(e, LevelPrefix)
	if e.Err == nil {
		t.Fatal("expected an I/O error for a missing file")
	}
	if e.Level != LevelNone {
		t.Fatal("level must not advance on failure")
	}
}

func TestCompareNames(t *testing.T) {
	cases := []struct {
		a, b string
		want NameMatch
	}{
		{"File.txt", "File.txt", Equal},
		{"File.txt", "file.TXT", EqualCaseInsensitiveOnly},
		{"File.txt", "other.txt", NotEqual},
	}
	for _, c := range cases {
		if got := CompareNames(c.a, c.b); got != c.want {
			t.Errorf("CompareNames(%q,%q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
