// Package filestore defines the remote file-service capability used by the
// remote backend.
//
// Every provider (the Tapis files API, an S3-compatible object store, the
// in-memory store used in tests) implements Client. Callers depend only on
// this package, never on a specific provider package.
//
// Paths are logical, slash-separated and relative to the root of the named
// storage system. Providers translate their native errors into *errs.Error:
// a missing path is errs.ErrKindNotFound, an access failure is
// errs.ErrKindPermissionDenied, and transient service or transport failures
// are marked retryable.
//
// Usage:
//
//	client, err := tapis.New(filestore.Config{BaseURL: url, Token: token})
//	if err != nil { ... }
//	entries, err := client.List(ctx, "data-sd2e-community", "/uploads", filestore.ListOptions{Limit: 100})
package filestore

import (
	"context"
	"io"
)

// Client is the single interface all remote file services implement.
type Client interface {
	// Upload writes r to dir/name, creating or replacing the file.
	Upload(ctx context.Context, systemID, dir, name string, r io.Reader, size int64) error

	// Download opens a stream of the file at p. The caller MUST Close it.
	Download(ctx context.Context, systemID, p string) (io.ReadCloser, error)

	// List returns a page of entries for p. Listing a file returns that
	// file; listing a directory returns a "." entry describing the
	// directory itself followed by its children.
	List(ctx context.Context, systemID, p string, opts ListOptions) ([]FileInfo, error)

	// Delete removes the file or directory tree at p.
	Delete(ctx context.Context, systemID, p string) error

	// Manage performs a server-side mkdir, rename, copy or move at p.
	Manage(ctx context.Context, systemID, p string, op ManageOp) error

	// UpdatePermissions grants g on p.
	UpdatePermissions(ctx context.Context, systemID, p string, g Grant) error

	// History returns the lifecycle events recorded for p, oldest first.
	History(ctx context.Context, systemID, p string) ([]HistoryEvent, error)

	// System returns the definition of a storage system.
	System(ctx context.Context, systemID string) (*SystemInfo, error)
}
