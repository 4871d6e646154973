// Package faults defines the error taxonomy shared across the platform.
//
// Components translate underlying failures into a Kind; callers branch on
// KindOf(err) rather than matching message text. Errors wrap their cause so
// errors.Is/As keep working through the taxonomy.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. The string form is stable and part of the HTTP
// error contract.
type Kind string

const (
	// SchemaInvalid means a param or payload failed validation. Fatal; the
	// caller sent something malformed and retrying cannot help.
	SchemaInvalid Kind = "schema_invalid"

	// PermissionDenied means the tenant or user is not allowed the tool. Fatal.
	PermissionDenied Kind = "permission_denied"

	// NotFound means a tool, resource, prompt, or document is missing.
	NotFound Kind = "not_found"

	// Timeout means a deadline elapsed. Retryable in ingestion; surfaced for queries.
	Timeout Kind = "timeout"

	// TransportClosed means the adapter connection is gone. In-flight requests
	// fail immediately; the next request may retry after reconnect.
	TransportClosed Kind = "transport_closed"

	// RpcError is a JSON-RPC error object returned by an adapter. Retryable
	// only when the adapter's code marks it transient.
	RpcError Kind = "rpc_error"

	// DependencyUnavailable means a vector/text/graph store or broker is down.
	DependencyUnavailable Kind = "dependency_unavailable"

	// Cancelled means the caller's context ended while work was in flight.
	Cancelled Kind = "cancelled"

	// Internal is the fallback for unclassified failures.
	Internal Kind = "internal"
)

// Error carries a Kind plus the operation that failed and the wrapped cause.
type Error struct {
	Kind      Kind
	Op        string // e.g. "mcp.invoke", "ingest.pull"
	Err       error
	Retryable bool // explicit retry hint; see IsRetryable
	Attempts  int  // populated by retry loops on the final error

	// RPC error detail, set when Kind == RpcError.
	Code    int
	Message string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, &Error{Kind: Timeout}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E builds an *Error. Msg is optional; when empty the wrapped error's text is used.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error from a format string with no wrapped cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// RPC builds an RpcError with the adapter's code and message. Retryable is
// decided by the transport from its configured transient code band.
func RPC(op string, code int, message string, retryable bool) *Error {
	return &Error{Kind: RpcError, Op: op, Code: code, Message: message, Retryable: retryable}
}

// KindOf extracts the Kind from err, walking the wrap chain. Unclassified
// errors report Internal; nil reports the empty Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// IsRetryable reports whether the ingestion retry loop should try again.
// Timeout and TransportClosed always retry; RpcError retries only when the
// adapter marked it; SchemaInvalid and PermissionDenied never retry;
// everything else retries (and dead-letters on exhaustion).
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case SchemaInvalid, PermissionDenied, NotFound, Cancelled:
		return false
	case Timeout, TransportClosed, DependencyUnavailable:
		return true
	case RpcError:
		var fe *Error
		if errors.As(err, &fe) {
			return fe.Retryable
		}
		return false
	default:
		return true
	}
}

// Fatal reports whether the failure is a caller error that must surface
// without retry or DLQ.
func Fatal(err error) bool {
	k := KindOf(err)
	return k == SchemaInvalid || k == PermissionDenied
}

// WithAttempts returns err annotated with the attempt count, preserving the
// original error for DLQ records. Non-*Error values are wrapped as Internal.
func WithAttempts(err error, attempts int) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		cp := *fe
		cp.Attempts = attempts
		return &cp
	}
	return &Error{Kind: Internal, Err: err, Attempts: attempts}
}
