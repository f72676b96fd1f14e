package ext4

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCodeOfExtractsWrappedError(t *testing.T) {
	base := newErr("op", ENOSPC, errors.New("disk full"))
	wrapped := fmt.Errorf("higher level context: %w", base)

	if CodeOf(wrapped) != ENOSPC {
		t.Fatalf("expected CodeOf to see through wrapping, got %v", CodeOf(wrapped))
	}
}

func TestCodeOfNonErrTypeReturnsZero(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != 0 {
		t.Fatalf("expected 0 for a non-*Error, got %v", got)
	}
	if got := CodeOf(nil); got != 0 {
		t.Fatalf("expected 0 for nil, got %v", got)
	}
}

func TestErrorStringIncludesOpAndCode(t *testing.T) {
	err := newErr("Unlink", ENOENT, nil)
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected a non-empty error string")
	}
	if !strings.Contains(msg, "Unlink") || !strings.Contains(msg, "ENOENT") {
		t.Fatalf("expected error string to include op and code, got %q", msg)
	}
}
