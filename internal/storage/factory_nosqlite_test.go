//go:build !sqlite

package storage

import (
	"strings"
	"testing"
)

func TestNewStoreSQLiteUnavailable(t *testing.T) {
	_, err := NewStore("sqlite", "ignored.db")
	if err == nil {
		t.Fatal("expected error without sqlite build tag")
	}
	if !strings.Contains(err.Error(), "-tags sqlite") {
		t.Fatalf("error should point at the build tag: %v", err)
	}
}
