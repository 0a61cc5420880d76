package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/koustreak/bacanora/internal/errs"
)

// columns are the catalog table columns LookupSystem reads.
var columns = []string{
	"id", "type", "short_name", "owner", "host", "port", "protocol", "root_dir", "home_dir",
}

// Verify checks through information_schema that the catalog table exists
// and carries every column LookupSystem reads. A missing table is
// not_found; missing columns are query_failed.
func (c *Catalog) Verify(ctx context.Context) error {
	if c.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.QueryTimeout)
		defer cancel()
	}

	args := []any{c.table}
	marks := make([]string, len(columns))
	for i, col := range columns {
		args = append(args, col)
		marks[i] = c.db.Placeholder(i + 2)
	}
	q := fmt.Sprintf(
		"SELECT COUNT(*) FROM information_schema.columns WHERE table_name = %s AND column_name IN (%s)",
		c.db.Placeholder(1), strings.Join(marks, ", "),
	)
	if c.schema != "" {
		args = append(args, c.schema)
		q += " AND table_schema = " + c.db.Placeholder(len(args))
	}

	var n sql.NullInt64
	if err := c.db.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "inspect catalog table "+c.name(), err)
	}
	switch {
	case n.Int64 == 0:
		return errs.Newf(errs.ErrKindNotFound, "catalog table %s does not exist", c.name())
	case n.Int64 < int64(len(columns)):
		return errs.Newf(errs.ErrKindQueryFailed,
			"catalog table %s has %d of the %d expected columns (%s)",
			c.name(), n.Int64, len(columns), strings.Join(columns, ", "))
	}
	return nil
}

func (c *Catalog) name() string {
	if c.schema == "" {
		return c.table
	}
	return c.schema + "." + c.table
}
