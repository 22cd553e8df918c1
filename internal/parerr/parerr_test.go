package parerr

import (
	"io"
	"testing"

	"github.com/pkg/errors"
)

func TestKindOfClassifiesWrappedError(t *testing.T) {
	base := New(KindNotFound, "missing.par")
	wrapped := errors.Wrap(base, "load")
	if got := KindOf(wrapped); got != KindNotFound {
		t.Fatalf("KindOf = %v, want NotFound", got)
	}
}

func TestKindOfDefaultsToIOForUnclassified(t *testing.T) {
	if got := KindOf(io.ErrUnexpectedEOF); got != KindIO {
		t.Fatalf("KindOf = %v, want Io", got)
	}
}

func TestKindOfNilIsNone(t *testing.T) {
	if got := KindOf(nil); got != KindNone {
		t.Fatalf("KindOf(nil) = %v, want None", got)
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if err := Wrap(KindIO, nil, "context"); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}
