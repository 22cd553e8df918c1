package progress

import (
	"bytes"
	"strings"
	"testing"
)

func TestLineReportsStatus(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, 0)
	r.Line("archive.dat", OK)
	r.Line("missing.dat", NotFound)

	out := buf.String()
	if !strings.Contains(out, "archive.dat") || !strings.Contains(out, "OK") {
		t.Fatalf("output missing OK line: %q", out)
	}
	if !strings.Contains(out, "missing.dat") || !strings.Contains(out, "NOT FOUND") {
		t.Fatalf("output missing NOT FOUND line: %q", out)
	}
}

func TestPercentRespectsVerbosity(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, 0)
	r.Percent(50)
	if buf.Len() != 0 {
		t.Fatalf("expected no output at verbosity 0, got %q", buf.String())
	}

	r = New(&buf, 1)
	r.Percent(50)
	if !strings.Contains(buf.String(), "50%") {
		t.Fatalf("expected a percent tick, got %q", buf.String())
	}
}

func TestSummarySkipsZeroCounts(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, 0)
	r.Summary("restore", map[Status]int{OK: 2, Failed: 1})
	out := buf.String()
	if !strings.Contains(out, "2 OK") || !strings.Contains(out, "1 FAILED") {
		t.Fatalf("unexpected summary: %q", out)
	}
	if strings.Contains(out, "RECOVERED") {
		t.Fatalf("zero-count status should be omitted: %q", out)
	}
}
