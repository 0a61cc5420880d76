// Package errs provides the unified error type used across all of bacanora.
//
// Every subsystem (runtime detection, path resolution, backends, remote
// clients, the dispatcher) wraps its native errors into *errs.Error before
// returning them. Callers use the Is* predicates to handle errors without
// importing backend-specific packages.
//
// Usage:
//
//	// In a backend, wrap native errors:
//	return errs.Wrap(errs.ErrKindDirectOperationFailed, "copy failed", err)
//
//	// In a caller, check the error kind anywhere in the chain:
//	if errs.IsNotFound(err) {
//	    ...
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
type ErrKind int

const (
	ErrKindUnknown ErrKind = iota

	// Environment and path classification.
	ErrKindUnknownRuntime       // override names no known runtime
	ErrKindRuntimeNotDetected   // no marker set matched in strict mode
	ErrKindUnknownStorageSystem // system id matched no rule or catalog record
	ErrKindManagedStore         // no physical mapping for (type, runtime)

	// Backend outcomes.
	ErrKindUnknowableOutcome     // a backend cannot tell; try elsewhere
	ErrKindDirectOperationFailed // local filesystem action failed
	ErrKindRemoteOperationFailed // file service action failed
	ErrKindImportNotComplete     // sync wait ran out of time

	// Dispatch.
	ErrKindBackendNotImplemented
	ErrKindOperationNotImplemented
	ErrKindProcessingFailed

	// Generic.
	ErrKindNotFound
	ErrKindConflict
	ErrKindPermissionDenied
	ErrKindInvalidInput
	ErrKindTimeout
	ErrKindConnectionFailed
	ErrKindQueryFailed
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindUnknownRuntime:
		return "unknown_runtime"
	case ErrKindRuntimeNotDetected:
		return "runtime_not_detected"
	case ErrKindUnknownStorageSystem:
		return "unknown_storage_system"
	case ErrKindManagedStore:
		return "managed_store"
	case ErrKindUnknowableOutcome:
		return "unknowable_outcome"
	case ErrKindDirectOperationFailed:
		return "direct_operation_failed"
	case ErrKindRemoteOperationFailed:
		return "remote_operation_failed"
	case ErrKindImportNotComplete:
		return "import_not_complete"
	case ErrKindBackendNotImplemented:
		return "backend_not_implemented"
	case ErrKindOperationNotImplemented:
		return "operation_not_implemented"
	case ErrKindProcessingFailed:
		return "processing_failed"
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConflict:
		return "conflict"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindQueryFailed:
		return "query_failed"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all bacanora subsystems.
type Error struct {
	Kind      ErrKind
	Message   string
	Cause     error // original error, preserved for logging
	Retryable bool  // the operation may succeed if attempted again
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a formatted message.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Transient creates a retryable *Error.
func Transient(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause, Retryable: true}
}

// --- Predicates ---
//
// Predicates match a kind anywhere in the chain, so a processing failure
// that wraps a not-found cause satisfies both IsProcessingFailed and
// IsNotFound.

func IsUnknownRuntime(err error) bool       { return Has(err, ErrKindUnknownRuntime) }
func IsRuntimeNotDetected(err error) bool   { return Has(err, ErrKindRuntimeNotDetected) }
func IsUnknownStorageSystem(err error) bool { return Has(err, ErrKindUnknownStorageSystem) }
func IsManagedStore(err error) bool         { return Has(err, ErrKindManagedStore) }
func IsUnknowableOutcome(err error) bool    { return Has(err, ErrKindUnknowableOutcome) }
func IsImportNotComplete(err error) bool    { return Has(err, ErrKindImportNotComplete) }
func IsBackendNotImplemented(err error) bool {
	return Has(err, ErrKindBackendNotImplemented)
}
func IsOperationNotImplemented(err error) bool {
	return Has(err, ErrKindOperationNotImplemented)
}
func IsProcessingFailed(err error) bool { return Has(err, ErrKindProcessingFailed) }

// IsNotFound reports whether err represents a missing path, object, row or system.
func IsNotFound(err error) bool {
	return Has(err, ErrKindNotFound)
}

// IsConflict reports whether err was caused by an existing destination.
func IsConflict(err error) bool {
	return Has(err, ErrKindConflict)
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return Has(err, ErrKindTimeout)
}

// IsConnectionFailed reports whether err is a connectivity failure.
func IsConnectionFailed(err error) bool {
	return Has(err, ErrKindConnectionFailed)
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return Has(err, ErrKindInvalidInput)
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return Has(err, ErrKindPermissionDenied)
}

// IsConfiguration reports whether err indicates misconfiguration rather than
// an operation failure: runtime and system classification, missing path
// mappings, and requests for backends or operations that do not exist.
// These errors are never retried and are never hidden by permissive mode.
func IsConfiguration(err error) bool {
	switch {
	case Has(err, ErrKindUnknownRuntime),
		Has(err, ErrKindRuntimeNotDetected),
		Has(err, ErrKindUnknownStorageSystem),
		Has(err, ErrKindManagedStore),
		Has(err, ErrKindBackendNotImplemented),
		Has(err, ErrKindOperationNotImplemented):
		return true
	}
	return false
}

// IsRetryable reports whether the outermost *Error in the chain is marked
// retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// KindOf returns the kind of the outermost *Error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}

// Has reports whether any *Error in the chain carries kind.
func Has(err error, kind ErrKind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}
