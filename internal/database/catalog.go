// Package database reads storage system records from a SQL table, for
// deployments that keep system definitions outside the file service.
//
// The expected table layout is:
//
//	CREATE TABLE storage_systems (
//	    id         TEXT PRIMARY KEY,
//	    type       TEXT NOT NULL,  -- community, public, share, project, work
//	    short_name TEXT,
//	    owner      TEXT,
//	    host       TEXT,
//	    port       INTEGER,
//	    protocol   TEXT,
//	    root_dir   TEXT,
//	    home_dir   TEXT
//	);
//
// Engines live in the postgres and mysql subpackages.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/koustreak/bacanora/internal/errs"
	"github.com/koustreak/bacanora/internal/storage"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Catalog is a storage.MetadataSource backed by a SQL table.
type Catalog struct {
	db     DB
	query  string
	cfg    *Config
	schema string
	table  string
}

var _ storage.MetadataSource = (*Catalog)(nil)

// NewCatalog prepares lookups against cfg.Table on db.
func NewCatalog(db DB, cfg *Config) (*Catalog, error) {
	if db == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "catalog: db is nil")
	}
	if cfg == nil {
		cfg = DefaultConfig("", "")
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	if !identRe.MatchString(table) {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "catalog: invalid table name %q", table)
	}
	q := fmt.Sprintf(
		"SELECT id, type, short_name, owner, host, port, protocol, root_dir, home_dir FROM %s WHERE id = %s",
		table, db.Placeholder(1),
	)
	c := &Catalog{db: db, query: q, cfg: cfg, table: table}
	if i := strings.IndexByte(table, '.'); i >= 0 {
		c.schema, c.table = table[:i], table[i+1:]
	}
	return c, nil
}

// LookupSystem returns the record for id, or a not_found error.
func (c *Catalog) LookupSystem(ctx context.Context, id string) (*storage.Record, error) {
	if c.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.QueryTimeout)
		defer cancel()
	}

	var (
		rec  storage.Record
		typ  string
		port sql.NullInt64

		short, owner, host, proto, rootDir, homeDir sql.NullString
	)
	err := c.db.QueryRow(ctx, c.query, id).Scan(
		&rec.ID, &typ, &short, &owner, &host, &port, &proto, &rootDir, &homeDir,
	)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, errs.Wrap(errs.ErrKindNotFound, "storage system "+id+" not in catalog", err)
		}
		return nil, err
	}

	st, err := storage.ParseSystemType(typ)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "catalog row for "+id+" has invalid type", err)
	}
	rec.Type = st
	rec.ShortName = short.String
	rec.Owner = owner.String
	rec.Storage = storage.StorageInfo{
		Host:     host.String,
		Port:     int(port.Int64),
		Protocol: proto.String,
		RootDir:  rootDir.String,
		HomeDir:  homeDir.String,
	}
	return &rec, nil
}

// Query returns the lookup statement, for logging.
func (c *Catalog) Query() string {
	return c.query
}
