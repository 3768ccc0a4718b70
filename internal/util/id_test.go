package util

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewID(t *testing.T) {
	id := NewID("doc")
	if !strings.HasPrefix(id, "doc_") {
		t.Fatalf("NewID(doc) = %q, want doc_ prefix", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "doc_")); err != nil {
		t.Fatalf("id suffix is not a uuid: %v", err)
	}
	if NewID("doc") == id {
		t.Fatalf("ids must be unique")
	}
	if _, err := uuid.Parse(NewID("")); err != nil {
		t.Fatalf("bare id is not a uuid: %v", err)
	}
}
