package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/koustreak/bacanora/internal/errs"
)

// PostgreSQL SQLSTATE error codes (read-relevant only)
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrUndefinedTable   = "42P01"
	pgErrUndefinedColumn  = "42703"
	pgErrInsufficientPriv = "42501"
)

// mapError translates pgx / pgconn native errors into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	// Context cancellation / deadline exceeded
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	// No rows
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	// Postgres server-side error (SQLSTATE codes)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		// class 08: connection exceptions
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08":
			return errs.Transient(errs.ErrKindConnectionFailed, fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
		case pgErr.Code == pgErrInsufficientPriv:
			return errs.Wrap(errs.ErrKindPermissionDenied, fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
		case pgErr.Code == pgErrUndefinedTable, pgErr.Code == pgErrUndefinedColumn:
			return errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("%s: catalog table is missing or malformed: %s", msg, pgErr.Message), err)
		}
		return errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
	}

	// Fallthrough: connection-level errors (TLS, network, auth)
	return errs.Transient(errs.ErrKindConnectionFailed, msg, err)
}
