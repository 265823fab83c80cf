package executor

import "testing"

func TestTruncateLeavesShortStringsUnchanged(t *testing.T) {
	if got := truncate("hello", 200); got != "hello" {
		t.Errorf("truncate(short) = %q, want unchanged", got)
	}
}

func TestTruncateCutsAtTheLimit(t *testing.T) {
	s := "0123456789"
	if got := truncate(s, 5); got != "01234" {
		t.Errorf("truncate(%q, 5) = %q, want %q", s, got, "01234")
	}
}

func TestTruncateExactLengthUnchanged(t *testing.T) {
	s := "01234"
	if got := truncate(s, 5); got != s {
		t.Errorf("truncate at exact length = %q, want unchanged %q", got, s)
	}
}
