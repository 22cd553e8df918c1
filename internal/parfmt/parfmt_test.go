package parfmt

import (
	"bytes"
	"crypto/md5"
	"os"
	"testing"
)

// newFakeFile backs a Writer/Manifest round trip with a real temp file
// so Create/Open can seek freely, the way the real CLI uses os.File.
func newFakeFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "parfmt-*.par")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestIndexRoundTrip(t *testing.T) {
	f := newFakeFile(t)

	fullA := md5.Sum([]byte("file a contents"))
	prefixA := md5.Sum([]byte("file a prefix"))
	fullB := md5.Sum([]byte("file b contents"))
	prefixB := md5.Sum([]byte("file b prefix"))

	files := []FileEntry{
		{Status: 1, FileSize: 15, FullMD5: fullA, PrefixMD5: prefixA, Name: "a.txt"},
		{Status: 1, FileSize: 15, FullMD5: fullB, PrefixMD5: prefixB, Name: "b.txt"},
	}

	wr, err := Create(f, 0, files)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := wr.WriteComment("a test archive"); err != nil {
		t.Fatalf("WriteComment: %v", err)
	}

	if _, err := f.Seek(0, 0); err != nil {
		t.Fatal(err)
	}
	m, err := Open(f, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if m.Legacy {
		t.Fatal("expected v1.0 parse, got legacy")
	}
	if m.VolumeNumber != 0 {
		t.Fatalf("VolumeNumber = %d, want 0", m.VolumeNumber)
	}
	if m.Comment != "a test archive" {
		t.Fatalf("Comment = %q", m.Comment)
	}
	if len(m.Files) != 2 || m.Files[0].Name != "a.txt" || m.Files[1].Name != "b.txt" {
		t.Fatalf("Files = %+v", m.Files)
	}
	if m.Files[0].FullMD5 != fullA || m.Files[1].FullMD5 != fullB {
		t.Fatal("full MD5 mismatch after round trip")
	}
}

func TestVolumeRoundTrip(t *testing.T) {
	f := newFakeFile(t)
	files := []FileEntry{
		{Status: 1, FileSize: 4, Name: "x.bin"},
	}
	wr, err := Create(f, 1, files)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.Seek(wr.DataOffset(), 0); err != nil {
		t.Fatal(err)
	}
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if _, err := f.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := wr.Finalize(int64(len(payload))); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if _, err := f.Seek(0, 0); err != nil {
		t.Fatal(err)
	}
	m, err := Open(f, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if m.VolumeNumber != 1 {
		t.Fatalf("VolumeNumber = %d, want 1", m.VolumeNumber)
	}
	if m.DataSize != int64(len(payload)) {
		t.Fatalf("DataSize = %d, want %d", m.DataSize, len(payload))
	}
	got := make([]byte, len(payload))
	if _, err := f.Read(got); err != nil {
		t.Fatalf("reading payload at DataOffset: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %x, want %x", got, payload)
	}
}

func TestSetHashIsPermutationInvariant(t *testing.T) {
	a := md5.Sum([]byte("a"))
	b := md5.Sum([]byte("b"))
	c := md5.Sum([]byte("c"))
	order1 := []FileEntry{
		{Status: 1, FullMD5: a}, {Status: 1, FullMD5: b}, {Status: 1, FullMD5: c},
	}
	order2 := []FileEntry{
		{Status: 1, FullMD5: c}, {Status: 1, FullMD5: a}, {Status: 1, FullMD5: b},
	}
	if computeSetHash(order1) != computeSetHash(order2) {
		t.Fatal("set-hash must depend only on the multiset of included files, not their order")
	}

	excluded := []FileEntry{
		{Status: 1, FullMD5: a}, {Status: 0, FullMD5: b}, {Status: 1, FullMD5: c},
	}
	if computeSetHash(order1) == computeSetHash(excluded) {
		t.Fatal("excluding a status-bit-0 file must change the set-hash")
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	f := newFakeFile(t)
	if _, err := f.Write([]byte("not a par file at all")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(f, false); err == nil {
		t.Fatal("expected ErrNotPar for garbage input")
	}
}
