package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	a := NewID("")
	b := NewID("")
	if len(a) != 32 || strings.Contains(a, "-") {
		t.Fatalf("unexpected id %q", a)
	}
	if a == b {
		t.Fatal("ids must be unique")
	}
	if id := NewID("req"); !strings.HasPrefix(id, "req_") || len(id) != 36 {
		t.Fatalf("unexpected prefixed id %q", id)
	}
}
