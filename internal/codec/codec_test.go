package codec

import (
	"bytes"
	"testing"

	"github.com/xtaci/parcheck/internal/rs"
)

func TestRunReconstructsMissingFile(t *testing.T) {
	d0 := bytes.Repeat([]byte{0xAA}, 40000) // spans multiple blocks
	d1 := []byte("the second file, shorter than the first")

	// Build the single recovery volume (k=1) payload by running the
	// codec forward: inputs are both data files, output is the volume.
	muls := rs.Solve(
		[]rs.RowTag{rs.DataColumn(0), rs.DataColumn(1)},
		[]rs.RowTag{rs.RecoveryVolume(1, []int{0, 1})},
	)
	volLen := int64(len(d0))
	var vol bytes.Buffer
	err := Run(
		[]Source{
			{Name: "d0", Reader: bytes.NewReader(d0), Len: int64(len(d0))},
			{Name: "d1", Reader: bytes.NewReader(d1), Len: int64(len(d1))},
		},
		[]Sink{{Name: "vol1", Writer: &vol, Len: volLen}},
		muls,
		nil,
	)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Now recover d0 from d1 + vol1.
	recMuls := rs.Solve(
		[]rs.RowTag{rs.DataColumn(1), rs.RecoveryVolume(1, []int{0, 1})},
		[]rs.RowTag{rs.DataColumn(0)},
	)
	var got bytes.Buffer
	var pcts []int
	err = Run(
		[]Source{
			{Name: "d1", Reader: bytes.NewReader(d1), Len: int64(len(d1))},
			{Name: "vol1", Reader: bytes.NewReader(vol.Bytes()), Len: volLen},
		},
		[]Sink{{Name: "d0", Writer: &got, Len: int64(len(d0))}},
		recMuls,
		func(pct int) { pcts = append(pcts, pct) },
	)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !bytes.Equal(got.Bytes(), d0) {
		t.Fatalf("recovered %d bytes, want %d bytes matching original", got.Len(), len(d0))
	}
	if len(pcts) == 0 {
		t.Fatal("expected at least one progress tick for a multi-block run")
	}
}

func TestRunLeavesUnrecoverableOutputZeroedInsteadOfPanicking(t *testing.T) {
	// Two missing columns, one recovery volume: rs.Solve can't determine
	// either row, so both muls[0] and muls[1] come back nil. Run must treat that as "no
	// contribution" rather than index into it.
	muls := rs.Solve(
		[]rs.RowTag{rs.DataColumn(0), rs.RecoveryVolume(1, []int{0, 1, 2})},
		[]rs.RowTag{rs.DataColumn(1), rs.DataColumn(2)},
	)
	if muls[0] != nil || muls[1] != nil {
		t.Fatal("expected both outputs unrecoverable for this setup")
	}

	var out0, out1 bytes.Buffer
	err := Run(
		[]Source{
			{Name: "d0", Reader: bytes.NewReader([]byte{1, 2, 3}), Len: 3},
			{Name: "vol1", Reader: bytes.NewReader([]byte{4, 5, 6}), Len: 3},
		},
		[]Sink{
			{Name: "d1", Writer: &out0, Len: 3},
			{Name: "d2", Writer: &out1, Len: 3},
		},
		muls,
		nil,
	)
	if err != nil {
		t.Fatalf("Run panicked or errored on an unrecoverable row: %v", err)
	}
	if !bytes.Equal(out0.Bytes(), []byte{0, 0, 0}) || !bytes.Equal(out1.Bytes(), []byte{0, 0, 0}) {
		t.Fatalf("expected unrecoverable outputs left zero-filled, got %v and %v", out0.Bytes(), out1.Bytes())
	}
}

type shortWriter struct{ n int }

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.n {
		return w.n, nil
	}
	return len(p), nil
}

func TestRunReportsShortWrite(t *testing.T) {
	muls := [][]byte{{1}}
	err := Run(
		[]Source{{Name: "d0", Reader: bytes.NewReader([]byte("hello world")), Len: 11}},
		[]Sink{{Name: "out", Writer: &shortWriter{n: 3}, Len: 11}},
		muls,
		nil,
	)
	if err == nil {
		t.Fatal("expected short write to be reported as an error")
	}
}
