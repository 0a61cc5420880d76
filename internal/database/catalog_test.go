package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/bacanora/internal/config"
	"github.com/koustreak/bacanora/internal/errs"
	"github.com/koustreak/bacanora/internal/storage"
)

// fakeDB serves rows from a map keyed by the first query argument.
type fakeDB struct {
	rows    map[string][]any
	err     error
	queries []string
}

func (f *fakeDB) Ping(context.Context) error { return nil }
func (f *fakeDB) Close()                     {}
func (f *fakeDB) Placeholder(n int) string   { return "$1" }

func (f *fakeDB) QueryRow(_ context.Context, q string, args ...any) Row {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return fakeRow{err: f.err}
	}
	vals, ok := f.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: errs.Wrap(errs.ErrKindNotFound, "scan failed", sql.ErrNoRows)}
	}
	return fakeRow{vals: vals}
}

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		if s, ok := d.(sql.Scanner); ok {
			if err := s.Scan(r.vals[i]); err != nil {
				return err
			}
			continue
		}
		*(d.(*string)) = r.vals[i].(string)
	}
	return nil
}

func TestNewCatalog_Query(t *testing.T) {
	db := &fakeDB{}
	c, err := NewCatalog(db, &Config{Table: "public.systems"})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT id, type, short_name, owner, host, port, protocol, root_dir, home_dir FROM public.systems WHERE id = $1",
		c.Query())

	_, err = NewCatalog(db, &Config{Table: "systems; DROP TABLE x"})
	assert.True(t, errs.IsInvalidInput(err))

	_, err = NewCatalog(nil, nil)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestCatalog_LookupSystem(t *testing.T) {
	db := &fakeDB{rows: map[string][]any{
		"data-tacc-work-zed": {"data-tacc-work-zed", "work", "zed", "zed", "data.tacc.utexas.edu", int64(22), "SFTP", "/work/01234/zed", "/"},
		"data-sparse":        {"data-sparse", "project", nil, nil, nil, nil, nil, nil, nil},
		"data-weird":         {"data-weird", "scratch", nil, nil, nil, nil, nil, nil, nil},
	}}
	c, err := NewCatalog(db, nil)
	require.NoError(t, err)
	ctx := context.Background()

	rec, err := c.LookupSystem(ctx, "data-tacc-work-zed")
	require.NoError(t, err)
	assert.Equal(t, storage.Work, rec.Type)
	assert.Equal(t, 22, rec.Storage.Port)
	assert.Equal(t, "/work/01234/zed", rec.Root())

	rec, err = c.LookupSystem(ctx, "data-sparse")
	require.NoError(t, err)
	assert.Equal(t, storage.Project, rec.Type)
	assert.Empty(t, rec.Root())

	_, err = c.LookupSystem(ctx, "data-weird")
	assert.Equal(t, errs.ErrKindQueryFailed, errs.KindOf(err))

	_, err = c.LookupSystem(ctx, "data-missing")
	assert.True(t, errs.IsNotFound(err))
}

func TestCatalog_BackendError(t *testing.T) {
	boom := errs.Transient(errs.ErrKindConnectionFailed, "ping failed", errors.New("refused"))
	c, err := NewCatalog(&fakeDB{err: boom}, nil)
	require.NoError(t, err)

	_, err = c.LookupSystem(context.Background(), "data-tacc-work-zed")
	assert.ErrorIs(t, err, boom)
	assert.False(t, errs.IsNotFound(err))
}

func TestCatalog_WithStorageCatalog(t *testing.T) {
	db := &fakeDB{rows: map[string][]any{
		"data-lab-archive": {"data-lab-archive", "project", "archive", nil, nil, nil, nil, nil, nil},
	}}
	src, err := NewCatalog(db, nil)
	require.NoError(t, err)

	cat := storage.NewCatalog(src)
	rec, err := cat.Lookup(context.Background(), "data-lab-archive")
	require.NoError(t, err)
	assert.Equal(t, "archive", rec.ShortName)

	_, err = cat.Lookup(context.Background(), "data-lab-archive")
	require.NoError(t, err)
	assert.Len(t, db.queries, 1, "catalog lookups are memoized")
}

func TestFromConfig(t *testing.T) {
	_, ok := FromConfig(config.CatalogConfig{})
	assert.False(t, ok)

	c, ok := FromConfig(config.CatalogConfig{Driver: "mysql", DSN: "u:p@tcp(db:3306)/sd2e"})
	require.True(t, ok)
	assert.Equal(t, DriverMySQL, c.Driver)
	assert.Equal(t, DefaultTable, c.Table)

	c, ok = FromConfig(config.CatalogConfig{Driver: "postgres", DSN: "postgres://db/sd2e", Table: "systems"})
	require.True(t, ok)
	assert.Equal(t, "systems", c.Table)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), &Config{Driver: "oracle"})
	assert.True(t, errs.IsInvalidInput(err))
}

func TestRegister(t *testing.T) {
	name := Driver("fake-" + t.Name())
	Register(name, func(context.Context, *Config) (DB, error) { return &fakeDB{}, nil })
	assert.Contains(t, Drivers(), name)

	db, err := Open(context.Background(), &Config{Driver: name})
	require.NoError(t, err)
	assert.IsType(t, &fakeDB{}, db)

	assert.Panics(t, func() { Register(name, func(context.Context, *Config) (DB, error) { return nil, nil }) })
}

func TestCatalog_Verify(t *testing.T) {
	tests := []struct {
		name  string
		table string
		count int64
		check func(error) bool
	}{
		{"complete", "storage_systems", 9, func(err error) bool { return err == nil }},
		{"qualified", "public.systems", 9, func(err error) bool { return err == nil }},
		{"missing table", "storage_systems", 0, errs.IsNotFound},
		{"missing columns", "storage_systems", 6, func(err error) bool { return errs.KindOf(err) == errs.ErrKindQueryFailed }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bare := strings.TrimPrefix(tt.table, "public.")
			db := &fakeDB{rows: map[string][]any{bare: {tt.count}}}
			c, err := NewCatalog(db, &Config{Table: tt.table})
			require.NoError(t, err)

			err = c.Verify(context.Background())
			assert.True(t, tt.check(err), "got %v", err)
			require.Len(t, db.queries, 1)
			assert.Contains(t, db.queries[0], "information_schema.columns")
		})
	}

	c, err := NewCatalog(&fakeDB{err: errs.New(errs.ErrKindConnectionFailed, "down")}, nil)
	require.NoError(t, err)
	assert.True(t, errs.IsConnectionFailed(c.Verify(context.Background())))
}
