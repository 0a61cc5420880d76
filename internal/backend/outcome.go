package backend

import (
	"context"
	"errors"

	"github.com/koustreak/bacanora/internal/errs"
)

// Probe is the answer to an existence question. When Known is false the
// backend could not tell and Found is meaningless.
type Probe struct {
	Found  bool
	Known  bool
	Reason string
}

// Found returns a definite answer.
func Found(found bool) Probe { return Probe{Found: found, Known: true} }

// Indeterminate returns an answer that defers to the next backend.
func Indeterminate(reason string) Probe { return Probe{Reason: reason} }

// OutcomeKind classifies the result of one backend attempt.
type OutcomeKind int

const (
	// Success: use the value.
	Success OutcomeKind = iota
	// NotFound: the path is absent here; try the next backend.
	NotFound
	// AlreadyExists: the destination is taken; abort dispatch.
	AlreadyExists
	// Inapplicable: this backend cannot serve the request; try the next.
	Inapplicable
	// Transient: the attempt failed in a way a later retry may fix.
	Transient
	// Fatal: abort dispatch with this error.
	Fatal
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case Inapplicable:
		return "inapplicable"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is an evaluated backend attempt.
type Outcome struct {
	Kind  OutcomeKind
	Value any
	Err   error
}

// Fallthrough reports whether dispatch should move on to the next backend.
func (o Outcome) Fallthrough() bool {
	return o.Kind == NotFound || o.Kind == Inapplicable || o.Kind == Transient
}

// Evaluate classifies the value and error a backend returned. A value that
// is itself an error counts as a failure. An indeterminate Probe becomes an
// Inapplicable outcome carrying an unknowable_outcome error; a known Probe
// is unwrapped to its bool.
func Evaluate(value any, err error) Outcome {
	if err == nil {
		if verr, ok := value.(error); ok && verr != nil {
			err = verr
		}
	}
	if err == nil {
		if p, ok := value.(Probe); ok {
			if !p.Known {
				msg := p.Reason
				if msg == "" {
					msg = "outcome cannot be determined"
				}
				return Outcome{Kind: Inapplicable, Err: errs.New(errs.ErrKindUnknowableOutcome, msg)}
			}
			return Outcome{Kind: Success, Value: p.Found}
		}
		return Outcome{Kind: Success, Value: value}
	}
	return Outcome{Kind: Classify(err), Err: err}
}

// Classify maps a backend error to an outcome kind.
func Classify(err error) OutcomeKind {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if errs.IsRetryable(err) {
			return Transient
		}
		return Fatal
	case errs.IsUnknowableOutcome(err), errs.IsManagedStore(err):
		return Inapplicable
	case errs.IsConfiguration(err):
		return Fatal
	case errs.IsNotFound(err):
		return NotFound
	case errs.IsConflict(err):
		return AlreadyExists
	case errs.IsPermissionDenied(err):
		return Inapplicable
	case errs.IsInvalidInput(err),
		errs.IsImportNotComplete(err),
		errs.Has(err, errs.ErrKindQueryFailed):
		return Fatal
	}
	return Transient
}
