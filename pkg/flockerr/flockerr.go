// Package flockerr defines Flock's error taxonomy: a closed set of kinds
// that every component raises instead of ad-hoc errors, plus the mapping
// from kind to JSON-RPC error code used at the HTTP boundary.
package flockerr

import (
	"errors"
	"fmt"
)

// Kind is one taxon of the error taxonomy. Each kind carries its own
// recovery strategy, documented alongside its constant.
type Kind string

const (
	// Validation covers bad input, missing fields, bad enum values.
	// Recovery: caller-visible failure, no retry.
	Validation Kind = "validation"
	// NotFound covers an unknown agent, migration, or home.
	// Recovery: caller-visible failure.
	NotFound Kind = "not_found"
	// InvalidTransition covers an illegal home or migration FSM edge.
	// Recovery: caller-visible failure.
	InvalidTransition Kind = "invalid_transition"
	// DuplicateMigration means a second ticket was requested for an agent
	// that already has a non-terminal one.
	// Recovery: caller-visible failure.
	DuplicateMigration Kind = "duplicate_migration"
	// CapacityReject means a peer rejected a migration/request on
	// capacity or authorization grounds. Recovery: caller-visible, abort.
	CapacityReject Kind = "capacity_reject"
	// NetworkTimeout covers transfer or verification ack failures.
	// Recovery: RETRY_NETWORK.
	NetworkTimeout Kind = "network_timeout"
	// LocalIO covers snapshot archive or checksum compute failures.
	// Recovery: RETRY_LOCAL.
	LocalIO Kind = "local_io"
	// VerificationFailure covers checksum, size, or corrupt-archive
	// failures observed on the target. Recovery: auto-rollback.
	VerificationFailure Kind = "verification_failure"
	// SizeExceeded means the portable archive exceeded MAX_PORTABLE_SIZE_BYTES.
	// Recovery: abort.
	SizeExceeded Kind = "size_exceeded"
	// RehydrateFailure covers extract/clone/apply failures on the target.
	// Recovery: auto-rollback.
	RehydrateFailure Kind = "rehydrate_failure"
	// PathTraversal means a work-state relative path escaped the target
	// work root. Recovery: warn, skip project, continue.
	PathTraversal Kind = "path_traversal"
	// Internal covers inconsistencies that indicate a programming error
	// rather than a caller mistake. Recovery: abort + alert.
	Internal Kind = "internal"
)

// Error is a taxonomy-tagged error. Code is a short machine-readable token
// specific to the call site (e.g. "home_not_found"); Kind selects recovery
// policy and JSON-RPC mapping.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, flockerr.NotFound) work by comparing Kind to a
// sentinel *Error whose only set field is Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return t.Kind == e.Kind && t.Code == e.Code
	}
	return t.Kind == e.Kind
}

// New constructs a taxonomy error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap constructs a taxonomy error around an underlying cause.
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Sentinels for errors.Is comparisons against a kind only, regardless of code.
var (
	ErrValidation         = &Error{Kind: Validation}
	ErrNotFound           = &Error{Kind: NotFound}
	ErrInvalidTransition  = &Error{Kind: InvalidTransition}
	ErrDuplicateMigration = &Error{Kind: DuplicateMigration}
	ErrCapacityReject     = &Error{Kind: CapacityReject}
	ErrNetworkTimeout     = &Error{Kind: NetworkTimeout}
	ErrLocalIO            = &Error{Kind: LocalIO}
	ErrVerification       = &Error{Kind: VerificationFailure}
	ErrSizeExceeded       = &Error{Kind: SizeExceeded}
	ErrRehydrateFailure   = &Error{Kind: RehydrateFailure}
	ErrPathTraversal      = &Error{Kind: PathTraversal}
	ErrInternal           = &Error{Kind: Internal}
)

// KindOf extracts the Kind of err if it (or something it wraps) is a
// *Error, and reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// Standard JSON-RPC 2.0 codes.
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
	// JSONRPCDomainError is used for NotFound, DuplicateMigration, and
	// unknown-peer domain errors that standard JSON-RPC codes don't cover.
	JSONRPCDomainError = -32001
)

// JSONRPCCode maps an error's taxon to the JSON-RPC error code family it
// should be reported under. Errors that are not *Error map to
// JSONRPCInternalError, matching the "no uncaught failure propagates past
// the HTTP handler" propagation policy.
func JSONRPCCode(err error) int {
	kind, ok := KindOf(err)
	if !ok {
		return JSONRPCInternalError
	}
	switch kind {
	case Validation:
		return JSONRPCInvalidParams
	case NotFound, DuplicateMigration, CapacityReject:
		return JSONRPCDomainError
	default:
		return JSONRPCInternalError
	}
}
