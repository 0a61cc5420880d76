package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/koustreak/bacanora/internal/errs"
)

// MySQL error numbers
// Full list: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	errDBAccessDenied   = 1044
	errAccessDenied     = 1045
	errNoDatabase       = 1046
	errUnknownDatabase  = 1049
	errTooManyConns     = 1040
	errUserConnLimit    = 1203
	errBadFieldError    = 1054
	errParseError       = 1064
	errNoSuchTable      = 1146
	errTableAccessDeny  = 1142
	errLockWaitTimeout  = 1205
	errQueryInterrupted = 1317
)

// mapError translates go-sql-driver/mysql errors into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		kind, transient := classifyMySQLCode(mysqlErr.Number)
		m := fmt.Sprintf("%s: %s", msg, mysqlErr.Message)
		if transient {
			return errs.Transient(kind, m, err)
		}
		return errs.Wrap(kind, m, err)
	}

	return errs.Transient(errs.ErrKindConnectionFailed, msg, err)
}

// classifyMySQLCode maps MySQL error numbers to ErrKind and reports whether
// the condition is worth retrying.
func classifyMySQLCode(code uint16) (errs.ErrKind, bool) {
	switch code {
	case errDBAccessDenied, errAccessDenied, errTableAccessDeny:
		return errs.ErrKindPermissionDenied, false
	case errNoDatabase, errUnknownDatabase:
		return errs.ErrKindConnectionFailed, false
	case errTooManyConns, errUserConnLimit:
		return errs.ErrKindConnectionFailed, true
	case errLockWaitTimeout, errQueryInterrupted:
		return errs.ErrKindTimeout, true
	case errBadFieldError, errParseError, errNoSuchTable:
		return errs.ErrKindQueryFailed, false
	default:
		return errs.ErrKindQueryFailed, false
	}
}
