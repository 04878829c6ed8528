package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a := New("audit")
	b := New("audit")
	if a == b {
		t.Fatalf("expected unique ids, got %q twice", a)
	}
	if !strings.HasPrefix(a, "audit-") {
		t.Fatalf("expected audit- prefix, got %q", a)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(a, "audit-")); err != nil {
		t.Fatalf("expected uuid suffix: %v", err)
	}
}

func TestNewWithoutPrefix(t *testing.T) {
	if _, err := uuid.Parse(New("")); err != nil {
		t.Fatalf("expected bare uuid: %v", err)
	}
}
