package tapis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/koustreak/bacanora/internal/errs"
)

// HTTPError is a non-2xx response from the Tapis API, decorated with the
// message, status and version fields of the JSON envelope when present.
type HTTPError struct {
	StatusCode int
	Reason     string
	Message    string
	Status     string
	Version    string
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTPError - %d %s; message: %s; status: %s; version: %s",
		e.StatusCode, e.Reason, e.Message, e.Status, e.Version)
}

// Retryable reports whether the failure is likely transient.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		(e.StatusCode >= 500 && e.StatusCode <= 599)
}

func newHTTPError(resp *http.Response, body []byte) *HTTPError {
	e := &HTTPError{
		StatusCode: resp.StatusCode,
		Reason:     http.StatusText(resp.StatusCode),
		Message:    "Unexpected error encountered by the web service",
		Status:     "error",
		Version:    "unknown",
		Body:       body,
	}
	if e.Reason == "" {
		e.Reason = "UNKNOWN ERROR"
	}
	var env envelope[json.RawMessage]
	if err := json.Unmarshal(body, &env); err != nil {
		if len(body) > 0 {
			e.Message = string(body)
		}
		return e
	}
	if env.Message != nil {
		e.Message = *env.Message
	}
	if env.Status != "" {
		e.Status = env.Status
	}
	if env.Version != "" {
		e.Version = env.Version
	}
	return e
}

// mapError translates a transport or API error into a *errs.Error. Only a
// done ctx yields a timeout; a request that outlived the client's own
// deadline is a transient connection failure.
func mapError(ctx context.Context, err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Transient(errs.ErrKindConnectionFailed, msg, err)
	}

	var herr *HTTPError
	if errors.As(err, &herr) {
		switch herr.StatusCode {
		case http.StatusNotFound:
			return errs.Wrap(errs.ErrKindNotFound, msg, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
		case http.StatusConflict:
			return errs.Wrap(errs.ErrKindConflict, msg, err)
		case http.StatusBadRequest:
			return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
		}
		if herr.Retryable() {
			return errs.Transient(errs.ErrKindRemoteOperationFailed, msg, err)
		}
		return errs.Wrap(errs.ErrKindRemoteOperationFailed, msg, err)
	}

	// Anything else is a transport failure.
	return errs.Transient(errs.ErrKindConnectionFailed, msg, err)
}
