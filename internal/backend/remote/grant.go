package remote

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/koustreak/bacanora/internal/backend"
	"github.com/koustreak/bacanora/internal/errs"
	"github.com/koustreak/bacanora/internal/filestore"
)

// grantNamespace scopes grant session ids.
var grantNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/koustreak/bacanora/grant"))

// Grant gives req.Username req.Permission on req.Path. The grant on the
// path itself must succeed. For a directory with Recursive, every entry
// below it is then granted concurrently; entry failures are logged and
// counted but do not fail the call.
func (b *Backend) Grant(ctx context.Context, req backend.Request) (backend.GrantReport, error) {
	root := req.Target()
	if req.Username == "" {
		return backend.GrantReport{}, errs.New(errs.ErrKindInvalidInput, "username is required")
	}
	perm, err := filestore.ParsePermission(string(req.Permission))
	if err != nil {
		return backend.GrantReport{}, err
	}

	session := uuid.NewSHA1(grantNamespace, []byte(req.System+":"+root+":"+req.Username+":"+string(perm)+":"+
		strconv.FormatInt(backend.Stamp(), 10))).String()
	report := backend.GrantReport{Session: session, Root: root}
	log := b.log.With().Str("session", session).Str("system", req.System).Logger()

	g := filestore.Grant{Username: req.Username, Permission: perm, Recursive: req.Recursive}
	if err := b.client.UpdatePermissions(ctx, req.System, root, g); err != nil {
		return report, err
	}
	if !req.Recursive {
		return report, nil
	}
	fi, err := b.stat(ctx, req.System, root)
	if err != nil {
		return report, err
	}
	if !fi.IsDir() {
		return report, nil
	}

	walk := req
	walk.Directories = true
	walk.Dotfiles = true
	entries, err := b.Walk(ctx, walk)
	if err != nil {
		return report, err
	}
	report.Entries = len(entries)

	limit := rate.Inf
	if b.grant.RatePerSecond > 0 {
		limit = rate.Limit(b.grant.RatePerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)
	workers := b.grant.Concurrency
	if workers < 1 {
		workers = 1
	}

	// The service applies the root grant to the subtree; each entry is
	// granted individually as well for services that do not.
	entry := g
	entry.Recursive = false

	var failed atomic.Int64
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for _, p := range entries {
		eg.Go(func() error {
			if err := limiter.Wait(egCtx); err != nil {
				return errs.Wrap(errs.ErrKindTimeout, "grant interrupted", err)
			}
			if err := b.client.UpdatePermissions(egCtx, req.System, p, entry); err != nil {
				failed.Add(1)
				b.metrics.GrantFailure(req.System)
				log.WarnWith("grant failed", err, map[string]any{"path": p})
			}
			return nil
		})
	}
	err = eg.Wait()
	report.Failed = int(failed.Load())

	log.InfoWith("grant finished", map[string]any{
		"path":    root,
		"user":    req.Username,
		"entries": report.Entries,
		"failed":  report.Failed,
	})
	return report, err
}
