// Package remote serves file operations through a remote file service
// (filestore.Client). It works on logical paths only and never needs a
// local mount; the local side of get and put goes through afero.
package remote

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/koustreak/bacanora/internal/backend"
	"github.com/koustreak/bacanora/internal/config"
	"github.com/koustreak/bacanora/internal/errs"
	"github.com/koustreak/bacanora/internal/filestore"
	"github.com/koustreak/bacanora/internal/logger"
	"github.com/koustreak/bacanora/internal/metrics"
	"github.com/koustreak/bacanora/internal/retry"
	"github.com/koustreak/bacanora/internal/storage"
)

// Name is the processor name of the remote backend.
const Name = "tapis"

const defaultPageSize = 100

// Backend implements every operation group except Mounter.
type Backend struct {
	client   filestore.Client
	fs       afero.Afero
	log      *logger.Logger
	metrics  *metrics.Metrics
	pageSize int
	sync     retry.Policy
	grant    config.GrantConfig
}

var (
	_ backend.Getter  = (*Backend)(nil)
	_ backend.Putter  = (*Backend)(nil)
	_ backend.Prober  = (*Backend)(nil)
	_ backend.Manager = (*Backend)(nil)
	_ backend.Walker  = (*Backend)(nil)
	_ backend.Granter = (*Backend)(nil)
)

// Option configures a Backend.
type Option func(*Backend)

// WithFs replaces the OS filesystem used for local files.
func WithFs(fs afero.Fs) Option {
	return func(b *Backend) { b.fs = afero.Afero{Fs: fs} }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(b *Backend) { b.log = l.Component(Name) }
}

// WithMetrics records grant entry failures in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Backend) { b.metrics = m }
}

// WithPageSize sets the listing page size.
func WithPageSize(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.pageSize = n
		}
	}
}

// WithSyncPolicy sets how long put waits for an import to finish.
func WithSyncPolicy(p retry.Policy) Option {
	return func(b *Backend) { b.sync = p }
}

// WithGrant paces recursive grants.
func WithGrant(g config.GrantConfig) Option {
	return func(b *Backend) { b.grant = g }
}

// New returns a Backend calling client.
func New(client filestore.Client, opts ...Option) *Backend {
	def := config.Default()
	b := &Backend{
		client:   client,
		fs:       afero.Afero{Fs: afero.NewOsFs()},
		log:      logger.Nop(),
		pageSize: defaultPageSize,
		sync:     retry.FromConfig(def.Sync),
		grant:    def.Grant,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return Name }

// --- transfers ---

// Get downloads req.Path to req.Local, which defaults to the base name of
// the source. An existing local file is replaced only with Force.
func (b *Backend) Get(ctx context.Context, req backend.Request) (string, error) {
	src := req.Target()
	local := req.Local
	if local == "" {
		local = path.Base(src)
	}
	if ok, _ := b.fs.Exists(local); ok && !req.Force {
		return "", errs.Newf(errs.ErrKindConflict, "local file %s exists", local)
	}

	body, err := b.client.Download(ctx, req.System, src)
	if err != nil {
		return "", err
	}
	defer body.Close()

	if dir := filepath.Dir(local); dir != "." {
		if err := b.fs.MkdirAll(dir, 0o755); err != nil {
			return "", errs.Wrap(errs.ErrKindDirectOperationFailed, "create "+dir, err)
		}
	}
	target := local
	if req.Atomic {
		target = backend.TempName(local)
	}
	if err := b.writeLocal(target, body); err != nil {
		_ = b.fs.Remove(target)
		return "", err
	}
	if target != local {
		if err := b.fs.Rename(target, local); err != nil {
			_ = b.fs.Remove(target)
			return "", errs.Wrap(errs.ErrKindDirectOperationFailed, "rename into place", err)
		}
	}
	b.log.DebugWith("downloaded", map[string]any{"system": req.System, "path": src, "local": local})
	return local, nil
}

func (b *Backend) writeLocal(name string, r io.Reader) error {
	f, err := b.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.ErrKindDirectOperationFailed, "create "+name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return errs.Transient(errs.ErrKindRemoteOperationFailed, "download interrupted", err)
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(errs.ErrKindDirectOperationFailed, "close "+name, err)
	}
	return nil
}

// Put uploads req.Local into the directory req.Path. With Force the
// directory is created and an existing file is replaced. With Atomic the
// upload lands under a staging name and is moved into place; with Sync the
// call returns only once the service reports the import finished.
func (b *Backend) Put(ctx context.Context, req backend.Request) (bool, error) {
	f, err := b.fs.Open(req.Local)
	if err != nil {
		return false, errs.Wrap(errs.ErrKindNotFound, "open "+req.Local, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return false, errs.Wrap(errs.ErrKindDirectOperationFailed, "stat "+req.Local, err)
	}
	if fi.IsDir() {
		return false, errs.Newf(errs.ErrKindInvalidInput, "%s is a directory", req.Local)
	}

	dir := req.Target()
	if err := b.ensureDir(ctx, req.System, dir, req.Force); err != nil {
		return false, err
	}

	name := filepath.Base(req.Local)
	dst := path.Join(dir, name)
	exists, err := b.exists(ctx, req.System, dst)
	if err != nil {
		return false, err
	}
	if exists && !req.Force {
		return false, errs.Newf(errs.ErrKindConflict, "%s exists", dst)
	}

	uploaded := dst
	if req.Atomic {
		uploaded = backend.TempName(dst)
	}
	if err := b.client.Upload(ctx, req.System, dir, path.Base(uploaded), f, fi.Size()); err != nil {
		return false, err
	}
	if uploaded != dst {
		if exists {
			if err := b.client.Delete(ctx, req.System, dst); err != nil && !errs.IsNotFound(err) {
				return false, err
			}
		}
		if err := b.client.Manage(ctx, req.System, uploaded, filestore.ManageOp{Action: filestore.ActionMove, Path: dst}); err != nil {
			return false, err
		}
	}
	if req.Sync {
		if err := b.awaitImport(ctx, req.System, dst); err != nil {
			return false, err
		}
	}
	b.log.DebugWith("uploaded", map[string]any{"system": req.System, "path": dst, "local": req.Local})
	return true, nil
}

// ensureDir checks that dir exists, creating it when create is set.
func (b *Backend) ensureDir(ctx context.Context, systemID, dir string, create bool) error {
	fi, err := b.stat(ctx, systemID, dir)
	switch {
	case err == nil && fi.IsDir():
		return nil
	case err == nil:
		return errs.Newf(errs.ErrKindConflict, "%s is a file", dir)
	case !errs.IsNotFound(err):
		return err
	case !create:
		return errs.Newf(errs.ErrKindNotFound, "directory %s does not exist", dir)
	}
	return b.client.Manage(ctx, systemID, "/", filestore.ManageOp{Action: filestore.ActionMkdir, Path: storage.Normalize(dir)})
}

// awaitImport polls the history of p until it reports a finished import.
func (b *Backend) awaitImport(ctx context.Context, systemID, p string) error {
	pending := errs.Transient(errs.ErrKindImportNotComplete, p+" has not finished importing", nil)
	err := b.sync.Do(ctx, func(ctx context.Context) error {
		events, err := b.client.History(ctx, systemID, p)
		if err != nil {
			if errs.IsRetryable(err) {
				return errs.Transient(errs.ErrKindImportNotComplete, "history of "+p, err)
			}
			return err
		}
		for i := len(events) - 1; i >= 0; i-- {
			switch {
			case events[i].Failed():
				return errs.Newf(errs.ErrKindImportNotComplete, "import of %s failed: %s", p, events[i].Status)
			case events[i].Terminal():
				return nil
			}
		}
		return pending
	})
	if err != nil && errs.IsRetryable(err) {
		return errs.Wrap(errs.ErrKindImportNotComplete, "gave up waiting for "+p, err)
	}
	return err
}

// --- probes ---

// stat describes p using a one-entry listing.
func (b *Backend) stat(ctx context.Context, systemID, p string) (filestore.FileInfo, error) {
	entries, err := b.client.List(ctx, systemID, p, filestore.ListOptions{Limit: 1})
	if err != nil {
		return filestore.FileInfo{}, err
	}
	if len(entries) == 0 {
		return filestore.FileInfo{}, errs.Newf(errs.ErrKindNotFound, "%s not found", p)
	}
	return entries[0], nil
}

func (b *Backend) exists(ctx context.Context, systemID, p string) (bool, error) {
	_, err := b.stat(ctx, systemID, p)
	if errs.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (b *Backend) probe(ctx context.Context, req backend.Request, test func(filestore.FileInfo) bool) (backend.Probe, error) {
	fi, err := b.stat(ctx, req.System, req.Target())
	if errs.IsNotFound(err) {
		return backend.Found(false), nil
	}
	if err != nil {
		return backend.Probe{}, err
	}
	return backend.Found(test(fi)), nil
}

func (b *Backend) Exists(ctx context.Context, req backend.Request) (backend.Probe, error) {
	return b.probe(ctx, req, func(filestore.FileInfo) bool { return true })
}

func (b *Backend) IsFile(ctx context.Context, req backend.Request) (backend.Probe, error) {
	return b.probe(ctx, req, func(fi filestore.FileInfo) bool { return !fi.IsDir() })
}

func (b *Backend) IsDir(ctx context.Context, req backend.Request) (backend.Probe, error) {
	return b.probe(ctx, req, filestore.FileInfo.IsDir)
}

// IsLink is always false: the service does not expose links.
func (b *Backend) IsLink(ctx context.Context, req backend.Request) (backend.Probe, error) {
	return b.probe(ctx, req, func(filestore.FileInfo) bool { return false })
}

// --- tree changes ---

func (b *Backend) Mkdir(ctx context.Context, req backend.Request) (bool, error) {
	target := req.Target()
	if storage.Normalize(target) == "" {
		return false, errs.New(errs.ErrKindInvalidInput, "the system root always exists")
	}
	exists, err := b.exists(ctx, req.System, target)
	if err != nil {
		return false, err
	}
	if exists {
		if !req.Force {
			return false, errs.Newf(errs.ErrKindConflict, "%s exists", target)
		}
		if err := b.client.Delete(ctx, req.System, target); err != nil {
			return false, err
		}
	}
	op := filestore.ManageOp{Action: filestore.ActionMkdir, Path: storage.Normalize(target)}
	if err := b.client.Manage(ctx, req.System, "/", op); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes req.Path. A missing path yields false.
func (b *Backend) Delete(ctx context.Context, req backend.Request) (bool, error) {
	if !req.Recursive {
		// A directory listing starts with its own entry.
		entries, err := b.client.List(ctx, req.System, req.Target(), filestore.ListOptions{Limit: 2})
		if errs.IsNotFound(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if len(entries) > 1 && entries[0].IsDir() {
			return false, errs.Newf(errs.ErrKindConflict, "%s is not empty", req.Target())
		}
	}
	err := b.client.Delete(ctx, req.System, req.Target())
	if errs.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *Backend) Rename(ctx context.Context, req backend.Request) (bool, error) {
	return b.relocate(ctx, req, filestore.ActionMove)
}

func (b *Backend) Move(ctx context.Context, req backend.Request) (bool, error) {
	return b.relocate(ctx, req, filestore.ActionMove)
}

func (b *Backend) Copy(ctx context.Context, req backend.Request) (bool, error) {
	return b.relocate(ctx, req, filestore.ActionCopy)
}

func (b *Backend) relocate(ctx context.Context, req backend.Request, action string) (bool, error) {
	src, dst := req.Target(), req.Destination()
	if src == dst {
		return false, errs.Newf(errs.ErrKindInvalidInput, "source and destination are both %s", src)
	}
	exists, err := b.exists(ctx, req.System, dst)
	if err != nil {
		return false, err
	}
	if exists {
		if !req.Force {
			return false, errs.Newf(errs.ErrKindConflict, "%s exists", dst)
		}
		if err := b.client.Delete(ctx, req.System, dst); err != nil {
			return false, err
		}
	}

	op := filestore.ManageOp{Action: action, Path: dst}
	if action == filestore.ActionMove && path.Dir(src) == path.Dir(dst) {
		op = filestore.ManageOp{Action: filestore.ActionRename, Path: path.Base(dst)}
	}
	if err := b.client.Manage(ctx, req.System, src, op); err != nil {
		return false, err
	}
	return true, nil
}

// --- listings ---

// list returns every entry of dir except the self entry, paging through
// the service.
func (b *Backend) list(ctx context.Context, systemID, dir string) ([]filestore.FileInfo, error) {
	var out []filestore.FileInfo
	for offset := 0; ; offset += b.pageSize {
		page, err := b.client.List(ctx, systemID, dir, filestore.ListOptions{Limit: b.pageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, fi := range page {
			if fi.Name != filestore.SelfName {
				out = append(out, fi)
			}
		}
		if len(page) < b.pageSize {
			return out, nil
		}
	}
}

// Walk lists everything below req.Path, sorted. Files are always included;
// directories only with Directories. Hidden entries are skipped without
// Dotfiles. Walking a file returns the file itself.
func (b *Backend) Walk(ctx context.Context, req backend.Request) ([]string, error) {
	root := req.Target()
	fi, err := b.stat(ctx, req.System, root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return []string{root}, nil
	}

	out := []string{}
	queue := []string{root}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]
		entries, err := b.list(ctx, req.System, dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			p := path.Join(dir, e.Name)
			if !backend.Visible(storage.Normalize(p[len(root):]), req.Dotfiles) {
				continue
			}
			if e.IsDir() {
				queue = append(queue, p)
				if !req.Directories {
					continue
				}
			}
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ListDir returns the sorted names of the children of req.Path.
func (b *Backend) ListDir(ctx context.Context, req backend.Request) ([]string, error) {
	entries, err := b.list(ctx, req.System, req.Target())
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, e := range entries {
		if !req.Dotfiles && storage.IsHidden(e.Name) {
			continue
		}
		if e.IsDir() && !req.Directories {
			continue
		}
		out = append(out, e.Name)
	}
	sort.Strings(out)
	return out, nil
}
