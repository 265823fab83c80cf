package flockerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfExtractsKindThroughWrapping(t *testing.T) {
	base := New(NotFound, "home_not_found", "home x@y not found")
	wrapped := fmt.Errorf("transition failed: %w", base)

	kind, ok := KindOf(wrapped)
	if !ok {
		t.Fatal("KindOf should find the taxonomy error through fmt.Errorf wrapping")
	}
	if kind != NotFound {
		t.Errorf("kind = %v, want NotFound", kind)
	}
}

func TestKindOfReturnsFalseForPlainErrors(t *testing.T) {
	_, ok := KindOf(errors.New("boom"))
	if ok {
		t.Fatal("KindOf should report false for a non-taxonomy error")
	}
}

func TestErrorsIsMatchesByKindWhenSentinelHasNoCode(t *testing.T) {
	err := New(InvalidTransition, "bad_edge", "UNASSIGNED->ACTIVE is not legal")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Error("errors.Is against the kind-only sentinel should match regardless of code")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("errors.Is should not match a different kind's sentinel")
	}
}

func TestWrapPreservesUnderlyingCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(LocalIO, "snapshot_write", "failed to write archive", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause via Unwrap")
	}
	if kind, ok := KindOf(err); !ok || kind != LocalIO {
		t.Errorf("kind = %v (ok=%v), want LocalIO", kind, ok)
	}
}

func TestJSONRPCCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{New(Validation, "bad_input", "missing field"), JSONRPCInvalidParams},
		{New(NotFound, "home_not_found", "x"), JSONRPCDomainError},
		{New(DuplicateMigration, "dup", "already has an active migration"), JSONRPCDomainError},
		{New(CapacityReject, "full", "no capacity"), JSONRPCDomainError},
		{New(Internal, "oops", "inconsistent state"), JSONRPCInternalError},
		{errors.New("not a taxonomy error"), JSONRPCInternalError},
	}
	for _, tc := range cases {
		if got := JSONRPCCode(tc.err); got != tc.want {
			t.Errorf("JSONRPCCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
