package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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
		{"deadline", context.DeadlineExceeded, errs.ErrKindTimeout, false},
		{"no rows", pgx.ErrNoRows, errs.ErrKindNotFound, false},
		{"wrapped no rows", fmt.Errorf("scan: %w", pgx.ErrNoRows), errs.ErrKindNotFound, false},
		{"connection exception", &pgconn.PgError{Code: "08006", Message: "connection failure"}, errs.ErrKindConnectionFailed, true},
		{"privilege", &pgconn.PgError{Code: pgErrInsufficientPriv, Message: "permission denied"}, errs.ErrKindPermissionDenied, false},
		{"undefined table", &pgconn.PgError{Code: pgErrUndefinedTable, Message: "relation does not exist"}, errs.ErrKindQueryFailed, false},
		{"syntax", &pgconn.PgError{Code: "42601", Message: "syntax error"}, errs.ErrKindQueryFailed, false},
		{"network", errors.New("dial tcp: connection refused"), errs.ErrKindConnectionFailed, true},
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
	d := &Driver{}
	assert.Equal(t, "$1", d.Placeholder(1))
	assert.Equal(t, "$3", d.Placeholder(3))
}
