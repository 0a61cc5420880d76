package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/koustreak/bacanora/internal/errs"
	"github.com/koustreak/bacanora/internal/filestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sys = "data-projects-echo"

func names(entries []filestore.FileInfo) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestStore_UploadDownload(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Upload(ctx, sys, "/a/b", "f.txt", strings.NewReader("hello"), 5))

	rc, err := s.Download(ctx, sys, "/a/b/f.txt")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(data))
	assert.True(t, s.Exists(sys, "/a"), "parents are created")

	_, err = s.Download(ctx, sys, "/a")
	assert.True(t, errs.IsInvalidInput(err))
	_, err = s.Download(ctx, sys, "/missing")
	assert.True(t, errs.IsNotFound(err))
}

func TestStore_ListShape(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.WriteFile(sys, "/d/b.txt", []byte("bb"))
	s.WriteFile(sys, "/d/a.txt", []byte("a"))
	s.MkdirAll(sys, "/d/sub")

	all, err := s.List(ctx, sys, "/d", filestore.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{".", "a.txt", "b.txt", "sub"}, names(all))
	assert.Equal(t, filestore.TypeDir, all[0].Type)
	assert.Equal(t, "/d/a.txt", all[1].Path)
	assert.Equal(t, int64(1), all[1].Length)

	pg, err := s.List(ctx, sys, "/d", filestore.ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt", "sub"}, names(pg))

	empty, err := s.List(ctx, sys, "/d", filestore.ListOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)

	file, err := s.List(ctx, sys, "/d/a.txt", filestore.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, file, 1)
	assert.Equal(t, filestore.TypeFile, file[0].Type)
}

func TestStore_Manage(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.WriteFile(sys, "/src/x/f.txt", []byte("x"))

	require.NoError(t, s.Manage(ctx, sys, "/", filestore.ManageOp{Action: filestore.ActionMkdir, Path: "made/deep"}))
	assert.True(t, s.Exists(sys, "/made/deep"))

	require.NoError(t, s.Manage(ctx, sys, "/src", filestore.ManageOp{Action: filestore.ActionCopy, Path: "/copy"}))
	assert.True(t, s.Exists(sys, "/copy/x/f.txt"))
	assert.True(t, s.Exists(sys, "/src/x/f.txt"))

	require.NoError(t, s.Manage(ctx, sys, "/src", filestore.ManageOp{Action: filestore.ActionMove, Path: "/moved"}))
	assert.False(t, s.Exists(sys, "/src"))
	assert.True(t, s.Exists(sys, "/moved/x/f.txt"))

	require.NoError(t, s.Manage(ctx, sys, "/moved", filestore.ManageOp{Action: filestore.ActionRename, Path: "renamed"}))
	assert.True(t, s.Exists(sys, "/renamed/x/f.txt"))

	err := s.Manage(ctx, sys, "/renamed", filestore.ManageOp{Action: filestore.ActionMove, Path: "/copy"})
	assert.True(t, errs.IsConflict(err))
	err = s.Manage(ctx, sys, "/renamed", filestore.ManageOp{Action: filestore.ActionMove, Path: "/renamed/inner"})
	assert.True(t, errs.IsInvalidInput(err))
	err = s.Manage(ctx, sys, "/ghost", filestore.ManageOp{Action: filestore.ActionCopy, Path: "/y"})
	assert.True(t, errs.IsNotFound(err))
}

func TestStore_DeleteAndPermissions(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.WriteFile(sys, "/d/a.txt", nil)
	s.WriteFile(sys, "/d/e/b.txt", nil)

	require.NoError(t, s.UpdatePermissions(ctx, sys, "/d", filestore.Grant{Username: "vaughn", Permission: filestore.PermRead, Recursive: true}))
	assert.Equal(t, filestore.PermRead, s.Permissions(sys, "/d/e/b.txt")["vaughn"])

	require.NoError(t, s.UpdatePermissions(ctx, sys, "/d/a.txt", filestore.Grant{Username: "vaughn", Permission: filestore.PermNone}))
	assert.Empty(t, s.Permissions(sys, "/d/a.txt"))

	require.NoError(t, s.Delete(ctx, sys, "/d"))
	assert.Empty(t, s.Paths(sys))
	assert.True(t, errs.IsNotFound(s.Delete(ctx, sys, "/d")))
	assert.True(t, errs.IsInvalidInput(s.Delete(ctx, sys, "/")))
}

func TestStore_HistoryPending(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.ImportPolls = 2
	require.NoError(t, s.Upload(ctx, sys, "/", "f", strings.NewReader("x"), 1))

	h, err := s.History(ctx, sys, "/f")
	require.NoError(t, err)
	assert.False(t, h[len(h)-1].Terminal())

	h, err = s.History(ctx, sys, "/f")
	require.NoError(t, err)
	assert.True(t, h[len(h)-1].Terminal())
}

func TestStore_Faults(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.WriteFile(sys, "/a", nil)
	boom := errors.New("boom")
	s.Fail(OpList, "/a", boom, 1)

	_, err := s.List(ctx, sys, "/a", filestore.ListOptions{})
	assert.ErrorIs(t, err, boom)
	_, err = s.List(ctx, sys, "/a", filestore.ListOptions{})
	assert.NoError(t, err)
	assert.Equal(t, 2, s.Calls(OpList))
}

func TestStore_System(t *testing.T) {
	s := New()
	s.AddSystem(filestore.SystemInfo{ID: "data-tacc-work-zed", Storage: filestore.StorageInfo{RootDir: "/work/1/zed"}})

	info, err := s.System(context.Background(), "data-tacc-work-zed")
	require.NoError(t, err)
	assert.Equal(t, "/work/1/zed", info.Storage.RootDir)

	_, err = s.System(context.Background(), "nope")
	assert.True(t, errs.IsNotFound(err))
}
