package direct

import (
	"context"
	"errors"
	"io/fs"

	"github.com/koustreak/bacanora/internal/errs"
)

// mapError translates a filesystem error into *errs.Error. A nil err
// yields nil.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var e *errs.Error
	if errors.As(err, &e) {
		return errs.Wrap(e.Kind, msg, err)
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	case errors.Is(err, fs.ErrNotExist):
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	case errors.Is(err, fs.ErrExist):
		return errs.Wrap(errs.ErrKindConflict, msg, err)
	case errors.Is(err, fs.ErrPermission):
		return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
	}
	return errs.Wrap(errs.ErrKindDirectOperationFailed, msg, err)
}
