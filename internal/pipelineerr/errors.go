// Package pipelineerr defines the error taxonomy shared by every component
// of the RAG pipeline. Callers handle errors by Kind, not by message.
package pipelineerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds named in the component design.
type Kind string

const (
	SchemaInvalid          Kind = "SchemaInvalid"
	PermissionDenied       Kind = "PermissionDenied"
	NotFound               Kind = "NotFound"
	Timeout                Kind = "Timeout"
	TransportClosed        Kind = "TransportClosed"
	RpcError               Kind = "RpcError"
	DependencyUnavailable  Kind = "DependencyUnavailable"
	ConflictResolved       Kind = "ConflictResolved"
	InsufficientEvidence   Kind = "InsufficientEvidence"
	Cancelled              Kind = "Cancelled"
)

// Retryable reports whether ingestion should retry an error of this kind.
// SchemaInvalid and PermissionDenied are caller errors and never retried;
// ConflictResolved and InsufficientEvidence are not errors at all.
func (k Kind) Retryable() bool {
	switch k {
	case Timeout, TransportClosed, DependencyUnavailable:
		return true
	case RpcError:
		// RpcError retryability depends on the adapter's error code; see
		// Error.RetryableRPC, which callers should check explicitly.
		return false
	default:
		return false
	}
}

// Error is the concrete error type the pipeline packages return to carry a
// Kind. Wrap stores an underlying cause in Cause, which Unwrap returns, so
// errors.Unwrap/errors.Is/errors.As reach it.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// RetryableRPC is set only for Kind == RpcError, reflecting whether the
	// adapter marked its JSON-RPC error code as retryable.
	RetryableRPC bool

	// Code is the JSON-RPC error code, populated only for Kind == RpcError.
	Code int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether this specific error should be retried by the
// ingestion worker's retry policy.
func (e *Error) Retryable() bool {
	if e.Kind == RpcError {
		return e.RetryableRPC
	}
	return e.Kind.Retryable()
}

// New constructs a pipeline error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a pipeline error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Of extracts the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func Of(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// Is reports whether err is (or wraps) a pipeline error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
