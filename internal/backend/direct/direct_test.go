package direct

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/bacanora/internal/backend"
	"github.com/koustreak/bacanora/internal/config"
	"github.com/koustreak/bacanora/internal/errs"
	"github.com/koustreak/bacanora/internal/runtime"
	"github.com/koustreak/bacanora/internal/storage"
)

const system = "data-sd2e-community"

func newBackend(t *testing.T, fs afero.Fs, root string, opts ...Option) *Backend {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.LocalhostRoot = root
	cfg.Paths.JupyterRoot = "/home/jupyter"
	r, err := storage.NewResolver(cfg, nil)
	require.NoError(t, err)
	det := runtime.NewDetector(runtime.WithLookup(func(string) (string, bool) { return "", false }))
	return New(r, det, append([]Option{WithFs(fs), WithBlockSize(3)}, opts...)...)
}

func req(p string) backend.Request {
	return backend.Request{System: system, Path: p}
}

func writeFile(t *testing.T, fs afero.Fs, p, data string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, afero.WriteFile(fs, p, []byte(data), 0o644))
}

func TestGet(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := newBackend(t, fs, "/mnt/data")
	ctx := context.Background()
	writeFile(t, fs, "/mnt/data/sample/out.csv", "a,b,c\n1,2,3\n")

	r := req("/sample/out.csv")
	r.Local = "/home/me/copies/out.csv"
	r.Atomic = true
	got, err := b.Get(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, "/home/me/copies/out.csv", got)
	data, err := afero.ReadFile(fs, got)
	require.NoError(t, err)
	assert.Equal(t, "a,b,c\n1,2,3\n", string(data))

	_, err = b.Get(ctx, r)
	assert.True(t, errs.IsConflict(err), "existing local file without force")

	r.Force = true
	_, err = b.Get(ctx, r)
	require.NoError(t, err)

	_, err = b.Get(ctx, req("/sample/missing.csv"))
	assert.True(t, errs.IsNotFound(err))

	_, err = b.Get(ctx, req("/sample"))
	assert.True(t, errs.IsInvalidInput(err))
}

func TestGet_RootDirAndDefaultName(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := newBackend(t, fs, "/mnt/data")
	writeFile(t, fs, "/mnt/data/runs/r1/log.txt", "ok")

	r := backend.Request{System: system, Path: "log.txt", RootDir: "/runs/r1"}
	got, err := b.Get(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "log.txt", got)
	ok, _ := afero.Exists(fs, "log.txt")
	assert.True(t, ok)
}

func TestPut(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := newBackend(t, fs, "/mnt/data")
	ctx := context.Background()
	writeFile(t, fs, "/tmp/in.txt", "hello")

	r := req("/uploads/new")
	r.Local = "/tmp/in.txt"
	_, err := b.Put(ctx, r)
	assert.True(t, errs.IsNotFound(err), "missing directory without force")

	r.Force = true
	ok, err := b.Put(ctx, r)
	require.NoError(t, err)
	assert.True(t, ok)
	data, err := afero.ReadFile(fs, "/mnt/data/uploads/new/in.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	r.Force = false
	_, err = b.Put(ctx, r)
	assert.True(t, errs.IsConflict(err))

	r.Local = "/tmp/absent.txt"
	_, err = b.Put(ctx, r)
	assert.True(t, errs.IsNotFound(err))
}

// watch stats p in a loop until stop is called and returns every size
// it saw that was neither absent nor want.
func watch(p string, want int64) (stop func() []int64) {
	done := make(chan struct{})
	seen := make(chan []int64, 1)
	go func() {
		var partial []int64
		for {
			select {
			case <-done:
				seen <- partial
				return
			default:
			}
			if fi, err := os.Stat(p); err == nil && fi.Size() != want {
				partial = append(partial, fi.Size())
			}
		}
	}()
	return func() []int64 {
		close(done)
		return <-seen
	}
}

func TestTransfer_AtomicIsAllOrNothing(t *testing.T) {
	const size = 4 << 20
	root := t.TempDir()
	fs := afero.NewOsFs()
	b := newBackend(t, fs, filepath.Join(root, "mount"), WithBlockSize(32<<10))
	ctx := context.Background()

	local := filepath.Join(root, "local", "big.bin")
	require.NoError(t, os.MkdirAll(filepath.Dir(local), 0o755))
	require.NoError(t, os.WriteFile(local, bytes.Repeat([]byte("x"), size), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "mount", "in"), 0o755))

	t.Run("put", func(t *testing.T) {
		dst := filepath.Join(root, "mount", "in", "big.bin")
		stop := watch(dst, size)
		r := req("/in")
		r.Local = local
		r.Atomic = true
		_, err := b.Put(ctx, r)
		partial := stop()
		require.NoError(t, err)
		assert.Empty(t, partial, "reader saw a partial file")

		fi, err := os.Stat(dst)
		require.NoError(t, err)
		assert.Equal(t, int64(size), fi.Size())
	})

	t.Run("get", func(t *testing.T) {
		dst := filepath.Join(root, "out", "big.bin")
		stop := watch(dst, size)
		r := req("/in/big.bin")
		r.Local = dst
		r.Atomic = true
		_, err := b.Get(ctx, r)
		partial := stop()
		require.NoError(t, err)
		assert.Empty(t, partial, "reader saw a partial file")

		fi, err := os.Stat(dst)
		require.NoError(t, err)
		assert.Equal(t, int64(size), fi.Size())
	})
}

func TestPut_AtomicLeavesNoStagingFiles(t *testing.T) {
	root := t.TempDir()
	fs := afero.NewOsFs()
	b := newBackend(t, fs, filepath.Join(root, "mount"))
	local := filepath.Join(root, "local", "data.bin")
	writeFile(t, fs, local, "0123456789")
	require.NoError(t, fs.MkdirAll(filepath.Join(root, "mount", "in"), 0o755))

	r := req("/in")
	r.Local = local
	r.Atomic = true
	_, err := b.Put(context.Background(), r)
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "mount", "in"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "data.bin", entries[0].Name())
}

func TestProbes(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := newBackend(t, fs, "/mnt/data")
	ctx := context.Background()
	writeFile(t, fs, "/mnt/data/a/file.txt", "x")

	tests := []struct {
		name  string
		probe func(context.Context, backend.Request) (backend.Probe, error)
		path  string
		want  backend.Probe
	}{
		{"exists file", b.Exists, "/a/file.txt", backend.Found(true)},
		{"exists dir", b.Exists, "/a", backend.Found(true)},
		{"isfile on file", b.IsFile, "/a/file.txt", backend.Found(true)},
		{"isfile on dir", b.IsFile, "/a", backend.Found(false)},
		{"isdir on dir", b.IsDir, "/a", backend.Found(true)},
		{"isdir on file", b.IsDir, "/a/file.txt", backend.Found(false)},
		{"ismount on root", b.IsMount, "/", backend.Found(true)},
		{"ismount below root", b.IsMount, "/a", backend.Found(false)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.probe(ctx, req(tt.path))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("absent is indeterminate", func(t *testing.T) {
		got, err := b.Exists(ctx, req("/a/missing.txt"))
		require.NoError(t, err)
		assert.False(t, got.Known)
		assert.Equal(t, backend.Inapplicable, backend.Evaluate(got, err).Kind)
	})

	t.Run("unmounted system is indeterminate", func(t *testing.T) {
		r := backend.Request{System: "data-sd2e-projects-users", Path: "/x", Runtime: "jupyter"}
		got, err := b.IsDir(ctx, r)
		require.NoError(t, err)
		assert.False(t, got.Known)
	})

	t.Run("unknown system is an error", func(t *testing.T) {
		_, err := b.Exists(ctx, backend.Request{System: "data-nowhere", Path: "/x"})
		assert.True(t, errs.IsUnknownStorageSystem(err))
	})

	t.Run("links need an lstater", func(t *testing.T) {
		plain := newBackend(t, plainFs{fs}, "/mnt/data")
		got, err := plain.IsLink(ctx, req("/a/file.txt"))
		require.NoError(t, err)
		assert.False(t, got.Known)
	})
}

// plainFs hides every optional interface of the wrapped filesystem.
type plainFs struct{ afero.Fs }

func TestIsLink_OsFs(t *testing.T) {
	root := t.TempDir()
	b := newBackend(t, afero.NewOsFs(), root)
	require.NoError(t, os.WriteFile(filepath.Join(root, "target.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(root, "target.txt"), filepath.Join(root, "link.txt")))

	got, err := b.IsLink(context.Background(), req("/link.txt"))
	require.NoError(t, err)
	assert.Equal(t, backend.Found(true), got)

	got, err = b.IsLink(context.Background(), req("/target.txt"))
	require.NoError(t, err)
	assert.Equal(t, backend.Found(false), got)
}

func TestMkdir(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := newBackend(t, fs, "/mnt/data")
	ctx := context.Background()

	ok, err := b.Mkdir(ctx, req("/x/y/z"))
	require.NoError(t, err)
	assert.True(t, ok)
	isDir, _ := afero.DirExists(fs, "/mnt/data/x/y/z")
	assert.True(t, isDir)

	writeFile(t, fs, "/mnt/data/x/y/z/keep.txt", "1")
	_, err = b.Mkdir(ctx, req("/x/y/z"))
	assert.True(t, errs.IsConflict(err))

	r := req("/x/y/z")
	r.Force = true
	_, err = b.Mkdir(ctx, r)
	require.NoError(t, err)
	gone, _ := afero.Exists(fs, "/mnt/data/x/y/z/keep.txt")
	assert.False(t, gone, "force recreates the directory empty")
}

func TestDelete(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := newBackend(t, fs, "/mnt/data")
	ctx := context.Background()
	writeFile(t, fs, "/mnt/data/d/one.txt", "1")
	writeFile(t, fs, "/mnt/data/d/sub/two.txt", "2")

	_, err := b.Delete(ctx, req("/d"))
	assert.True(t, errs.IsConflict(err), "non-recursive delete keeps a populated directory")
	ok, _ := afero.Exists(fs, "/mnt/data/d/sub/two.txt")
	assert.True(t, ok)

	require.NoError(t, fs.MkdirAll("/mnt/data/empty", 0o755))
	_, err = b.Delete(ctx, req("/empty"))
	require.NoError(t, err)

	r := req("/d")
	r.Recursive = true
	_, err = b.Delete(ctx, r)
	require.NoError(t, err)
	ok, _ = afero.Exists(fs, "/mnt/data/d")
	assert.False(t, ok)

	_, err = b.Delete(ctx, r)
	assert.True(t, errs.IsNotFound(err))

	r = req("/")
	r.Recursive = true
	_, err = b.Delete(ctx, r)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestRelocate(t *testing.T) {
	ctx := context.Background()

	t.Run("rename file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		b := newBackend(t, fs, "/mnt/data")
		writeFile(t, fs, "/mnt/data/a.txt", "A")

		r := req("/a.txt")
		r.Dest = "/moved/b.txt"
		_, err := b.Rename(ctx, r)
		require.NoError(t, err)
		data, err := afero.ReadFile(fs, "/mnt/data/moved/b.txt")
		require.NoError(t, err)
		assert.Equal(t, "A", string(data))
		ok, _ := afero.Exists(fs, "/mnt/data/a.txt")
		assert.False(t, ok)
	})

	t.Run("move honours force", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		b := newBackend(t, fs, "/mnt/data")
		writeFile(t, fs, "/mnt/data/a.txt", "new")
		writeFile(t, fs, "/mnt/data/b.txt", "old")

		r := req("/a.txt")
		r.Dest = "/b.txt"
		_, err := b.Move(ctx, r)
		assert.True(t, errs.IsConflict(err))

		r.Force = true
		_, err = b.Move(ctx, r)
		require.NoError(t, err)
		data, _ := afero.ReadFile(fs, "/mnt/data/b.txt")
		assert.Equal(t, "new", string(data))
	})

	t.Run("copy tree", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		b := newBackend(t, fs, "/mnt/data")
		writeFile(t, fs, "/mnt/data/src/one.txt", "1")
		writeFile(t, fs, "/mnt/data/src/deep/two.txt", "22")

		r := req("/src")
		r.Dest = "/dst"
		_, err := b.Copy(ctx, r)
		require.NoError(t, err)
		data, err := afero.ReadFile(fs, "/mnt/data/dst/deep/two.txt")
		require.NoError(t, err)
		assert.Equal(t, "22", string(data))
		ok, _ := afero.Exists(fs, "/mnt/data/src/one.txt")
		assert.True(t, ok, "copy keeps the source")
	})

	t.Run("invalid targets", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		b := newBackend(t, fs, "/mnt/data")
		writeFile(t, fs, "/mnt/data/src/one.txt", "1")

		r := req("/src")
		r.Dest = "/src"
		_, err := b.Copy(ctx, r)
		assert.True(t, errs.IsInvalidInput(err))

		r.Dest = "/src/inner"
		_, err = b.Move(ctx, r)
		assert.True(t, errs.IsInvalidInput(err))

		r = req("/nothing")
		r.Dest = "/else"
		_, err = b.Copy(ctx, r)
		assert.True(t, errs.IsNotFound(err))
	})
}

func TestWalkAndListDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := newBackend(t, fs, "/mnt/data")
	ctx := context.Background()
	writeFile(t, fs, "/mnt/data/w/a.txt", "a")
	writeFile(t, fs, "/mnt/data/w/.hidden", "h")
	writeFile(t, fs, "/mnt/data/w/sub/b.txt", "b")
	writeFile(t, fs, "/mnt/data/w/.git/config", "c")

	got, err := b.Walk(ctx, req("/w"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/w/a.txt", "/w/sub/b.txt"}, got)

	r := req("/w")
	r.Directories = true
	r.Dotfiles = true
	got, err = b.Walk(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, []string{"/w/.git", "/w/.git/config", "/w/.hidden", "/w/a.txt", "/w/sub", "/w/sub/b.txt"}, got)

	got, err = b.Walk(ctx, req("/w/a.txt"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/w/a.txt"}, got)

	_, err = b.Walk(ctx, req("/missing"))
	assert.True(t, errs.IsNotFound(err))

	r = req("/w")
	r.Directories = true
	names, err := b.ListDir(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "sub"}, names)

	names, err = b.ListDir(ctx, req("/w"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, names)
}

func TestDispatchThroughInvoke(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := newBackend(t, fs, "/mnt/data")
	_, ok, err := backend.Invoke(context.Background(), b, backend.CmdGrant, req("/"))
	assert.False(t, ok)
	assert.True(t, errs.IsOperationNotImplemented(err))
}
