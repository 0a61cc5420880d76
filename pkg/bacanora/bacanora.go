// Package bacanora is a single file-operations API over storage systems
// that may be reachable through a local mount, a remote file service, or
// both.
//
// Every operation names a storage system and a logical path on it. The
// client tries its backends in order (by default the local mount first,
// then the remote service), falling back when a backend cannot find the
// path or cannot serve the request, and retrying transient failures with
// exponential backoff.
//
// Usage:
//
//	cfg, err := bacanora.LoadConfig("")
//	if err != nil { ... }
//	client, err := bacanora.New(ctx, cfg)
//	if err != nil { ... }
//	defer client.Close()
//
//	local, err := client.Get(ctx, "/uploads/run1/reads.fastq")
//	ok, err := client.Put(ctx, "results.csv", "/analysis", bacanora.WithForce(true))
package bacanora

import (
	"context"

	"github.com/spf13/afero"

	"github.com/koustreak/bacanora/internal/backend"
	"github.com/koustreak/bacanora/internal/backend/direct"
	"github.com/koustreak/bacanora/internal/backend/remote"
	"github.com/koustreak/bacanora/internal/database"
	"github.com/koustreak/bacanora/internal/errs"
	"github.com/koustreak/bacanora/internal/filestore"
	"github.com/koustreak/bacanora/internal/filestore/minio"
	"github.com/koustreak/bacanora/internal/filestore/tapis"
	"github.com/koustreak/bacanora/internal/logger"
	"github.com/koustreak/bacanora/internal/metrics"
	"github.com/koustreak/bacanora/internal/processor"
	"github.com/koustreak/bacanora/internal/retry"
	"github.com/koustreak/bacanora/internal/runtime"
	"github.com/koustreak/bacanora/internal/storage"

	_ "github.com/koustreak/bacanora/internal/database/mysql"    // register the mysql catalog driver
	_ "github.com/koustreak/bacanora/internal/database/postgres" // register the postgres catalog driver
)

// Client runs file operations. It is safe for concurrent use.
type Client struct {
	cfg       Config
	detector  *runtime.Detector
	resolver  *storage.Resolver
	processor *processor.Processor
	registry  *processor.Registry
	db        database.DB
	log       *logger.Logger
}

// New wires a Client from cfg. It connects to the catalog database and the
// S3 endpoint when they are configured.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.New(&cfg.Log)
	}
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}
	log := o.log.Component("bacanora")

	detector, err := newDetector(cfg, o.lookup)
	if err != nil {
		return nil, err
	}
	m, err := metrics.New(o.registerer)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "register metrics", err)
	}

	rc := o.remote
	if rc == nil {
		if rc, err = newRemote(ctx, cfg, o.log); err != nil {
			return nil, err
		}
	}

	c := &Client{cfg: cfg, detector: detector, log: log}
	sources := append([]storage.MetadataSource(nil), o.sources...)
	if dbCfg, ok := database.FromConfig(cfg.Catalog); ok {
		db, err := database.Open(ctx, dbCfg)
		if err != nil {
			return nil, err
		}
		src, err := database.NewCatalog(db, dbCfg)
		if err == nil {
			err = src.Verify(ctx)
		}
		if err != nil {
			db.Close()
			return nil, err
		}
		c.db = db
		sources = append(sources, src)
	}
	if rc != nil {
		sources = append(sources, remote.SystemSource(rc))
	}

	c.resolver, err = storage.NewResolver(cfg, storage.NewCatalog(sources...))
	if err != nil {
		c.Close()
		return nil, err
	}

	backends := []backend.Backend{
		direct.New(c.resolver, detector,
			direct.WithFs(o.fs),
			direct.WithLogger(o.log),
			direct.WithBlockSize(cfg.Files.BlockSize)),
	}
	if rc != nil {
		backends = append(backends, remote.New(rc,
			remote.WithFs(o.fs),
			remote.WithLogger(o.log),
			remote.WithMetrics(m),
			remote.WithPageSize(cfg.Files.PageSize),
			remote.WithSyncPolicy(retry.FromConfig(cfg.Sync)),
			remote.WithGrant(cfg.Grant)))
	}
	c.registry, err = processor.NewRegistry(backends...)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.processor = processor.New(c.registry, cfg, processor.WithLogger(o.log), processor.WithMetrics(m))

	log.InfoWith("client ready", map[string]any{
		"backends":   c.registry.Names(),
		"processors": cfg.Processors,
		"system":     cfg.StorageSystem,
	})
	return c, nil
}

func newDetector(cfg Config, lookup runtime.LookupFunc) (*runtime.Detector, error) {
	fallback, err := runtime.Parse(cfg.DefaultRuntime)
	if err != nil {
		return nil, err
	}
	opts := []runtime.Option{runtime.WithFallback(fallback)}
	if lookup != nil {
		opts = append(opts, runtime.WithLookup(lookup))
	}
	if !cfg.PermissiveRuntime {
		opts = append(opts, runtime.WithStrict())
	}
	return runtime.NewDetector(opts...), nil
}

// newRemote builds the file service client named by cfg, or nil when none
// is configured.
func newRemote(ctx context.Context, cfg Config, log *logger.Logger) (filestore.Client, error) {
	fc, ok := filestore.FromConfig(cfg)
	if !ok {
		return nil, nil
	}
	switch fc.Provider {
	case filestore.ProviderTapis:
		return tapis.New(fc, tapis.WithLogger(log))
	case filestore.ProviderMinIO:
		return minio.New(ctx, fc)
	}
	return nil, errs.Newf(errs.ErrKindInvalidInput, "unsupported file service %q", fc.Provider)
}

// Close releases the catalog database connection, if any.
func (c *Client) Close() {
	if c.db != nil {
		c.db.Close()
		c.db = nil
	}
}

// Backends lists the registered backend names in registration order.
func (c *Client) Backends() []string {
	return c.registry.Names()
}

func (c *Client) newCall(p string, opts []CallOption) *call {
	cl := &call{req: backend.Request{
		System:  c.cfg.StorageSystem,
		Path:    p,
		Runtime: c.cfg.Runtime,
		Atomic:  c.cfg.Files.Atomic,
	}}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// run dispatches cmd and applies permissive mode to the result.
func run[T any](ctx context.Context, c *Client, cmd backend.Command, cl *call) (T, error) {
	v, err := processor.Run[T](ctx, c.processor, cmd, cl.req)
	if err != nil && cl.permissive && !errs.IsConfiguration(err) {
		c.log.DebugWith("suppressed error", map[string]any{
			"command": string(cmd),
			"system":  cl.req.System,
			"path":    cl.req.Path,
			"error":   err.Error(),
		})
		var zero T
		return zero, nil
	}
	return v, err
}

// Get copies the file at p to the local host and returns the local file
// name, which defaults to the base name of p.
func (c *Client) Get(ctx context.Context, p string, opts ...CallOption) (string, error) {
	return run[string](ctx, c, backend.CmdGet, c.newCall(p, opts))
}

// Put copies localFile into the directory dest.
func (c *Client) Put(ctx context.Context, localFile, dest string, opts ...CallOption) (bool, error) {
	cl := c.newCall(dest, opts)
	cl.req.Local = localFile
	return run[bool](ctx, c, backend.CmdPut, cl)
}

// Exists reports whether p exists.
func (c *Client) Exists(ctx context.Context, p string, opts ...CallOption) (bool, error) {
	return run[bool](ctx, c, backend.CmdExists, c.newCall(p, opts))
}

// IsFile reports whether p is a file.
func (c *Client) IsFile(ctx context.Context, p string, opts ...CallOption) (bool, error) {
	return run[bool](ctx, c, backend.CmdIsFile, c.newCall(p, opts))
}

// IsDir reports whether p is a directory.
func (c *Client) IsDir(ctx context.Context, p string, opts ...CallOption) (bool, error) {
	return run[bool](ctx, c, backend.CmdIsDir, c.newCall(p, opts))
}

// IsLink reports whether p is a symbolic link.
func (c *Client) IsLink(ctx context.Context, p string, opts ...CallOption) (bool, error) {
	return run[bool](ctx, c, backend.CmdIsLink, c.newCall(p, opts))
}

// IsMount reports whether p is the mounted root of its system.
func (c *Client) IsMount(ctx context.Context, p string, opts ...CallOption) (bool, error) {
	return run[bool](ctx, c, backend.CmdIsMount, c.newCall(p, opts))
}

// Mkdir creates the directory p and its parents.
func (c *Client) Mkdir(ctx context.Context, p string, opts ...CallOption) (bool, error) {
	return run[bool](ctx, c, backend.CmdMkdir, c.newCall(p, opts))
}

// Delete removes p and everything below it. With WithRecursive(false) a
// directory that still has entries is left alone and reported as a
// conflict.
func (c *Client) Delete(ctx context.Context, p string, opts ...CallOption) (bool, error) {
	opts = append([]CallOption{WithRecursive(true)}, opts...)
	return run[bool](ctx, c, backend.CmdDelete, c.newCall(p, opts))
}

// Rename moves src to the full path dst.
func (c *Client) Rename(ctx context.Context, src, dst string, opts ...CallOption) (bool, error) {
	return c.relocate(ctx, backend.CmdRename, src, dst, opts)
}

// Move moves src to the full path dst.
func (c *Client) Move(ctx context.Context, src, dst string, opts ...CallOption) (bool, error) {
	return c.relocate(ctx, backend.CmdMove, src, dst, opts)
}

// Copy copies src to the full path dst.
func (c *Client) Copy(ctx context.Context, src, dst string, opts ...CallOption) (bool, error) {
	return c.relocate(ctx, backend.CmdCopy, src, dst, opts)
}

func (c *Client) relocate(ctx context.Context, cmd backend.Command, src, dst string, opts []CallOption) (bool, error) {
	cl := c.newCall(src, opts)
	cl.req.Dest = dst
	return run[bool](ctx, c, cmd, cl)
}

// Walk lists the logical paths of everything below p.
func (c *Client) Walk(ctx context.Context, p string, opts ...CallOption) ([]string, error) {
	return run[[]string](ctx, c, backend.CmdWalk, c.newCall(p, opts))
}

// ListDir lists the names of the children of p, directories included
// unless WithDirectories(false) is given.
func (c *Client) ListDir(ctx context.Context, p string, opts ...CallOption) ([]string, error) {
	opts = append([]CallOption{WithDirectories(true)}, opts...)
	return run[[]string](ctx, c, backend.CmdListDir, c.newCall(p, opts))
}

// Grant gives username permission on p. With WithRecursive(true) every
// entry below a directory is granted as well; failures on those entries
// are logged but do not fail the call. Grant is permissive unless
// WithPermissive(false) is given: a failed grant reports false.
func (c *Client) Grant(ctx context.Context, p, username, permission string, opts ...CallOption) (bool, error) {
	opts = append([]CallOption{WithPermissive(true)}, opts...)
	cl := c.newCall(p, opts)
	perm, err := filestore.ParsePermission(permission)
	if err != nil {
		if cl.permissive {
			return false, nil
		}
		return false, err
	}
	cl.req.Username = username
	cl.req.Permission = perm
	rep, err := run[backend.GrantReport](ctx, c, backend.CmdGrant, cl)
	if err != nil {
		return false, err
	}
	return rep.Session != "", nil
}

// AbsPath returns the local path of p on this host.
func (c *Client) AbsPath(ctx context.Context, p string, opts ...CallOption) (string, error) {
	cl := c.newCall(p, opts)
	kind, err := c.detector.Detect(cl.req.Runtime)
	if err != nil {
		return "", err
	}
	return c.resolver.Physical(ctx, cl.req.Target(), cl.req.System, kind)
}

// RelPath returns the logical path of the local path physical.
func (c *Client) RelPath(ctx context.Context, physical string, opts ...CallOption) (string, error) {
	cl := c.newCall("", opts)
	kind, err := c.detector.Detect(cl.req.Runtime)
	if err != nil {
		return "", err
	}
	return c.resolver.Logical(ctx, physical, cl.req.System, kind)
}

// Runtime returns the detected (or configured) runtime.
func (c *Client) Runtime() (string, error) {
	kind, err := c.detector.Detect(c.cfg.Runtime)
	return string(kind), err
}
