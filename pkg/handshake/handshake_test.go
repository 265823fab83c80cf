package handshake

import (
	"path/filepath"
	"testing"
)

func TestHasReadClearLifecycle(t *testing.T) {
	home := t.TempDir()

	if Has(home) {
		t.Fatal("Has should be false before any handshake file is written")
	}
	if _, ok, err := Read(home); err != nil || ok {
		t.Fatalf("Read on absent file = (_, %v, %v), want (_, false, nil)", ok, err)
	}

	if err := Write(home, "outstanding task: review PR #42"); err != nil {
		t.Fatalf("Write unexpected error: %v", err)
	}

	if !Has(home) {
		t.Fatal("Has should be true after Write")
	}
	content, ok, err := Read(home)
	if err != nil {
		t.Fatalf("Read unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("Read ok = false, want true after Write")
	}
	if content != "outstanding task: review PR #42" {
		t.Errorf("content = %q, want the written text", content)
	}

	if err := Clear(home); err != nil {
		t.Fatalf("Clear unexpected error: %v", err)
	}
	if Has(home) {
		t.Fatal("Has should be false after Clear")
	}
}

func TestClearOnAbsentFileIsNotAnError(t *testing.T) {
	home := t.TempDir()
	if err := Clear(home); err != nil {
		t.Fatalf("Clear on an already-absent file should be a no-op, got error: %v", err)
	}
}

func TestWriteCreatesHomeDirectory(t *testing.T) {
	home := filepath.Join(t.TempDir(), "nested", "home")
	if err := Write(home, "hello"); err != nil {
		t.Fatalf("Write unexpected error: %v", err)
	}
	if !Has(home) {
		t.Fatal("Has should be true after Write created the nested directory")
	}
}
