package mysql

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"

	"github.com/koustreak/bacanora/internal/errs"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      errs.ErrKind
		retryable bool
	}{
		{"cancelled", context.Canceled, errs.ErrKindTimeout, false},
		{"no rows", sql.ErrNoRows, errs.ErrKindNotFound, false},
		{"access denied", &gomysql.MySQLError{Number: errAccessDenied, Message: "Access denied"}, errs.ErrKindPermissionDenied, false},
		{"unknown database", &gomysql.MySQLError{Number: errUnknownDatabase, Message: "Unknown database"}, errs.ErrKindConnectionFailed, false},
		{"too many connections", &gomysql.MySQLError{Number: errTooManyConns, Message: "Too many connections"}, errs.ErrKindConnectionFailed, true},
		{"lock wait", &gomysql.MySQLError{Number: errLockWaitTimeout, Message: "Lock wait timeout"}, errs.ErrKindTimeout, true},
		{"missing table", &gomysql.MySQLError{Number: errNoSuchTable, Message: "Table doesn't exist"}, errs.ErrKindQueryFailed, false},
		{"bad connection", gomysql.ErrInvalidConn, errs.ErrKindConnectionFailed, true},
		{"other", errors.New("driver: bad connection"), errs.ErrKindConnectionFailed, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, "lookup")
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.ErrorIs(t, got, tt.err)
		})
	}
	assert.Nil(t, mapError(nil, "noop"))
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "?", (&Driver{}).Placeholder(2))
}
