// Package direct serves file operations through the local filesystem when
// a storage system is mounted on the host.
//
// Logical paths are mapped to physical ones by storage.Resolver for the
// detected runtime. A system with no mount on this runtime makes every
// operation inapplicable, and a path missing from the mount is reported as
// not found or indeterminate so the dispatcher can ask the remote service.
package direct

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/koustreak/bacanora/internal/backend"
	"github.com/koustreak/bacanora/internal/errs"
	"github.com/koustreak/bacanora/internal/logger"
	"github.com/koustreak/bacanora/internal/runtime"
	"github.com/koustreak/bacanora/internal/storage"
)

// Name is the processor name of the direct backend.
const Name = "direct"

const defaultBlockSize = 4096

// Backend implements every operation group except Granter.
type Backend struct {
	fs        afero.Afero
	resolver  *storage.Resolver
	detector  *runtime.Detector
	log       *logger.Logger
	blockSize int
}

var (
	_ backend.Getter  = (*Backend)(nil)
	_ backend.Putter  = (*Backend)(nil)
	_ backend.Prober  = (*Backend)(nil)
	_ backend.Mounter = (*Backend)(nil)
	_ backend.Manager = (*Backend)(nil)
	_ backend.Walker  = (*Backend)(nil)
)

// Option configures a Backend.
type Option func(*Backend)

// WithFs replaces the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(b *Backend) { b.fs = afero.Afero{Fs: fs} }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(b *Backend) { b.log = l.Component(Name) }
}

// WithBlockSize sets the copy buffer size.
func WithBlockSize(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.blockSize = n
		}
	}
}

// New returns a Backend that resolves paths with resolver under the runtime
// reported by detector.
func New(resolver *storage.Resolver, detector *runtime.Detector, opts ...Option) *Backend {
	b := &Backend{
		fs:        afero.Afero{Fs: afero.NewOsFs()},
		resolver:  resolver,
		detector:  detector,
		log:       logger.Nop(),
		blockSize: defaultBlockSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return Name }

func (b *Backend) base(ctx context.Context, req backend.Request) (string, error) {
	kind, err := b.detector.Detect(req.Runtime)
	if err != nil {
		return "", err
	}
	return b.resolver.Base(ctx, req.System, kind)
}

// physical maps a slash-rooted logical path to the mount.
func (b *Backend) physical(ctx context.Context, req backend.Request, logical string) (string, error) {
	kind, err := b.detector.Detect(req.Runtime)
	if err != nil {
		return "", err
	}
	return b.resolver.Physical(ctx, logical, req.System, kind)
}

// --- transfers ---

// Get copies the file at req.Path to req.Local, which defaults to the base
// name of the source. An existing local file is replaced only with Force.
func (b *Backend) Get(ctx context.Context, req backend.Request) (string, error) {
	src, err := b.physical(ctx, req, req.Target())
	if err != nil {
		return "", err
	}
	fi, err := b.fs.Stat(src)
	if err != nil {
		return "", mapError(err, "stat "+req.Target())
	}
	if fi.IsDir() {
		return "", errs.Newf(errs.ErrKindInvalidInput, "%s is a directory", req.Target())
	}

	local := req.Local
	if local == "" {
		local = path.Base(req.Target())
	}
	if ok, _ := b.fs.Exists(local); ok && !req.Force {
		return "", errs.Newf(errs.ErrKindConflict, "local file %s exists", local)
	}
	if dir := filepath.Dir(local); dir != "." {
		if err := b.fs.MkdirAll(dir, 0o755); err != nil {
			return "", mapError(err, "create "+dir)
		}
	}
	if err := b.transfer(ctx, src, local, req.Atomic); err != nil {
		return "", err
	}
	b.log.DebugWith("downloaded", map[string]any{"system": req.System, "path": req.Target(), "local": local})
	return local, nil
}

// Put copies req.Local into the directory req.Path. With Force the
// directory is created and an existing file is replaced.
func (b *Backend) Put(ctx context.Context, req backend.Request) (bool, error) {
	fi, err := b.fs.Stat(req.Local)
	if err != nil {
		return false, mapError(err, "stat "+req.Local)
	}
	if fi.IsDir() {
		return false, errs.Newf(errs.ErrKindInvalidInput, "%s is a directory", req.Local)
	}

	dir, err := b.physical(ctx, req, req.Target())
	if err != nil {
		return false, err
	}
	if req.Force {
		if err := b.fs.MkdirAll(dir, 0o755); err != nil {
			return false, mapError(err, "create "+req.Target())
		}
	} else if ok, err := b.fs.DirExists(dir); err != nil || !ok {
		return false, errs.Newf(errs.ErrKindNotFound, "directory %s does not exist", req.Target())
	}

	dst := filepath.Join(dir, filepath.Base(req.Local))
	if ok, _ := b.fs.Exists(dst); ok && !req.Force {
		return false, errs.Newf(errs.ErrKindConflict, "%s exists", path.Join(req.Target(), filepath.Base(req.Local)))
	}
	if err := b.transfer(ctx, req.Local, dst, req.Atomic); err != nil {
		return false, err
	}
	b.log.DebugWith("uploaded", map[string]any{"system": req.System, "path": req.Target(), "local": req.Local})
	return true, nil
}

// transfer copies src to dst, staging through a temporary sibling of dst
// when atomic is set.
func (b *Backend) transfer(ctx context.Context, src, dst string, atomic bool) error {
	if !atomic {
		return b.copyFile(ctx, src, dst)
	}
	tmp := backend.TempName(dst)
	if err := b.copyFile(ctx, src, tmp); err != nil {
		_ = b.fs.Remove(tmp)
		return err
	}
	if err := b.fs.Rename(tmp, dst); err != nil {
		_ = b.fs.Remove(tmp)
		return mapError(err, "rename into place")
	}
	return nil
}

// copyFile copies contents, mode and modification time.
func (b *Backend) copyFile(ctx context.Context, src, dst string) error {
	in, err := b.fs.Open(src)
	if err != nil {
		return mapError(err, "open "+src)
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return mapError(err, "stat "+src)
	}
	out, err := b.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return mapError(err, "create "+dst)
	}
	buf := make([]byte, b.blockSize)
	if _, err := io.CopyBuffer(out, &ctxReader{ctx: ctx, r: in}, buf); err != nil {
		out.Close()
		return mapError(err, "copy "+src)
	}
	if err := out.Close(); err != nil {
		return mapError(err, "close "+dst)
	}
	_ = b.fs.Chtimes(dst, fi.ModTime(), fi.ModTime())
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// --- probes ---

// stat resolves and stats req.Path. A system without a mount and a path
// absent from the mount both produce an indeterminate probe.
func (b *Backend) stat(ctx context.Context, req backend.Request, lstat bool) (os.FileInfo, *backend.Probe, error) {
	p, err := b.physical(ctx, req, req.Target())
	if err != nil {
		if errs.IsManagedStore(err) {
			probe := backend.Indeterminate(err.Error())
			return nil, &probe, nil
		}
		return nil, nil, err
	}

	var fi os.FileInfo
	if lstat {
		ls, ok := b.fs.Fs.(afero.Lstater)
		if !ok {
			probe := backend.Indeterminate("filesystem cannot report links")
			return nil, &probe, nil
		}
		fi, _, err = ls.LstatIfPossible(p)
	} else {
		fi, err = b.fs.Stat(p)
	}
	if err != nil {
		mapped := mapError(err, "stat "+req.Target())
		if errs.IsNotFound(mapped) {
			probe := backend.Indeterminate(req.Target() + " is not present locally")
			return nil, &probe, nil
		}
		return nil, nil, mapped
	}
	return fi, nil, nil
}

func (b *Backend) Exists(ctx context.Context, req backend.Request) (backend.Probe, error) {
	_, probe, err := b.stat(ctx, req, false)
	if err != nil || probe != nil {
		return deref(probe), err
	}
	return backend.Found(true), nil
}

func (b *Backend) IsFile(ctx context.Context, req backend.Request) (backend.Probe, error) {
	fi, probe, err := b.stat(ctx, req, false)
	if err != nil || probe != nil {
		return deref(probe), err
	}
	return backend.Found(fi.Mode().IsRegular()), nil
}

func (b *Backend) IsDir(ctx context.Context, req backend.Request) (backend.Probe, error) {
	fi, probe, err := b.stat(ctx, req, false)
	if err != nil || probe != nil {
		return deref(probe), err
	}
	return backend.Found(fi.IsDir()), nil
}

func (b *Backend) IsLink(ctx context.Context, req backend.Request) (backend.Probe, error) {
	fi, probe, err := b.stat(ctx, req, true)
	if err != nil || probe != nil {
		return deref(probe), err
	}
	return backend.Found(fi.Mode()&os.ModeSymlink != 0), nil
}

// IsMount reports whether req.Path is the directory the system is mounted
// at.
func (b *Backend) IsMount(ctx context.Context, req backend.Request) (backend.Probe, error) {
	fi, probe, err := b.stat(ctx, req, false)
	if err != nil || probe != nil {
		return deref(probe), err
	}
	return backend.Found(fi.IsDir() && storage.Normalize(req.Target()) == ""), nil
}

func deref(p *backend.Probe) backend.Probe {
	if p == nil {
		return backend.Probe{}
	}
	return *p
}

// --- tree changes ---

// Mkdir creates req.Path and its parents. An existing path is a conflict
// unless Force is set, in which case it is removed first.
func (b *Backend) Mkdir(ctx context.Context, req backend.Request) (bool, error) {
	p, err := b.physical(ctx, req, req.Target())
	if err != nil {
		return false, err
	}
	if ok, _ := b.fs.Exists(p); ok {
		if !req.Force {
			return false, errs.Newf(errs.ErrKindConflict, "%s exists", req.Target())
		}
		if err := b.removeAll(ctx, req, p); err != nil {
			return false, err
		}
	}
	if err := b.fs.MkdirAll(p, 0o755); err != nil {
		return false, mapError(err, "mkdir "+req.Target())
	}
	return true, nil
}

// Delete removes a file, or a directory and everything below it.
func (b *Backend) Delete(ctx context.Context, req backend.Request) (bool, error) {
	p, err := b.physical(ctx, req, req.Target())
	if err != nil {
		return false, err
	}
	fi, err := b.fs.Stat(p)
	if err != nil {
		return false, mapError(err, "stat "+req.Target())
	}
	if fi.IsDir() && !req.Recursive {
		empty, err := afero.IsEmpty(b.fs, p)
		if err != nil {
			return false, mapError(err, "read "+req.Target())
		}
		if !empty {
			return false, errs.Newf(errs.ErrKindConflict, "%s is not empty", req.Target())
		}
	}
	if err := b.removeAll(ctx, req, p); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Backend) removeAll(ctx context.Context, req backend.Request, p string) error {
	base, err := b.base(ctx, req)
	if err != nil {
		return err
	}
	if filepath.Clean(p) == base {
		return errs.Newf(errs.ErrKindInvalidInput, "refusing to delete the root of %s", req.System)
	}
	if err := b.fs.RemoveAll(p); err != nil {
		return mapError(err, "delete "+p)
	}
	return nil
}

// Rename moves req.Path to req.Dest.
func (b *Backend) Rename(ctx context.Context, req backend.Request) (bool, error) {
	return b.relocate(ctx, req, true)
}

// Move is Rename.
func (b *Backend) Move(ctx context.Context, req backend.Request) (bool, error) {
	return b.relocate(ctx, req, true)
}

// Copy duplicates a file or a directory tree at req.Dest.
func (b *Backend) Copy(ctx context.Context, req backend.Request) (bool, error) {
	return b.relocate(ctx, req, false)
}

func (b *Backend) relocate(ctx context.Context, req backend.Request, move bool) (bool, error) {
	src, err := b.physical(ctx, req, req.Target())
	if err != nil {
		return false, err
	}
	dst, err := b.physical(ctx, req, req.Destination())
	if err != nil {
		return false, err
	}
	fi, err := b.fs.Stat(src)
	if err != nil {
		return false, mapError(err, "stat "+req.Target())
	}
	if src == dst {
		return false, errs.Newf(errs.ErrKindInvalidInput, "source and destination are both %s", req.Target())
	}
	if fi.IsDir() && isWithin(dst, src) {
		return false, errs.Newf(errs.ErrKindInvalidInput, "cannot place %s inside itself", req.Target())
	}
	if ok, _ := b.fs.Exists(dst); ok {
		if !req.Force {
			return false, errs.Newf(errs.ErrKindConflict, "%s exists", req.Destination())
		}
		if err := b.removeAll(ctx, req, dst); err != nil {
			return false, err
		}
	}
	if err := b.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, mapError(err, "create parent of "+req.Destination())
	}

	switch {
	case move:
		err = mapError(b.fs.Rename(src, dst), "rename "+req.Target())
	case fi.IsDir():
		err = b.copyTree(ctx, src, dst)
	default:
		err = b.copyFile(ctx, src, dst)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *Backend) copyTree(ctx context.Context, src, dst string) error {
	return b.fs.Walk(src, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return mapError(err, "walk "+p)
		}
		if err := ctx.Err(); err != nil {
			return mapError(err, "copy interrupted")
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return mapError(err, "copy "+p)
		}
		target := filepath.Join(dst, rel)
		if fi.IsDir() {
			return mapError(b.fs.MkdirAll(target, fi.Mode().Perm()|0o700), "create "+target)
		}
		return b.copyFile(ctx, p, target)
	})
}

func isWithin(p, dir string) bool {
	rel, err := filepath.Rel(dir, p)
	return err == nil && rel != "." && rel != ".." &&
		!strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// --- listings ---

// Walk lists everything below req.Path in lexical order. Files are always
// included; directories only with Directories. Hidden entries are skipped
// without Dotfiles. Walking a file returns the file itself.
func (b *Backend) Walk(ctx context.Context, req backend.Request) ([]string, error) {
	root, err := b.physical(ctx, req, req.Target())
	if err != nil {
		return nil, err
	}
	fi, err := b.fs.Stat(root)
	if err != nil {
		return nil, mapError(err, "stat "+req.Target())
	}
	if !fi.IsDir() {
		return []string{req.Target()}, nil
	}

	out := []string{}
	err = b.fs.Walk(root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return mapError(err, "walk "+p)
		}
		if err := ctx.Err(); err != nil {
			return mapError(err, "walk interrupted")
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return mapError(err, "walk "+p)
		}
		rel = filepath.ToSlash(rel)
		if !backend.Visible(rel, req.Dotfiles) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if fi.IsDir() && !req.Directories {
			return nil
		}
		out = append(out, path.Join(req.Target(), rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListDir returns the sorted names of the children of req.Path.
func (b *Backend) ListDir(ctx context.Context, req backend.Request) ([]string, error) {
	root, err := b.physical(ctx, req, req.Target())
	if err != nil {
		return nil, err
	}
	entries, err := b.fs.ReadDir(root)
	if err != nil {
		return nil, mapError(err, "list "+req.Target())
	}
	out := []string{}
	for _, e := range entries {
		if !req.Dotfiles && storage.IsHidden(e.Name()) {
			continue
		}
		if e.IsDir() && !req.Directories {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}
