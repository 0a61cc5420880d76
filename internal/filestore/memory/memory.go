// Package memory is an in-memory filestore.Client. It follows the listing,
// error and history conventions of the Tapis files API closely enough to
// stand in for it in tests and offline development, and lets tests inject
// failures per operation and path.
package memory

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/koustreak/bacanora/internal/errs"
	"github.com/koustreak/bacanora/internal/filestore"
	"github.com/koustreak/bacanora/internal/storage"
)

// Operation names for fault injection and call counting.
const (
	OpUpload      = "upload"
	OpDownload    = "download"
	OpList        = "list"
	OpDelete      = "delete"
	OpManage      = "manage"
	OpPermissions = "permissions"
	OpHistory     = "history"
	OpSystem      = "system"
)

type node struct {
	dir     bool
	data    []byte
	modTime time.Time
	pems    map[string]filestore.Permission
	history []filestore.HistoryEvent
	// pendingPolls is the number of History calls that still report the
	// import as queued.
	pendingPolls int
}

type fault struct {
	op, path string
	err      error
	times    int // < 0 means forever
}

// Store is a goroutine-safe in-memory file service.
type Store struct {
	mu      sync.Mutex
	systems map[string]map[string]*node
	infos   map[string]filestore.SystemInfo
	faults  []*fault
	calls   map[string]int
	now     func() time.Time

	// ImportPolls makes new uploads report STAGING_QUEUED for this many
	// History calls before completing.
	ImportPolls int
}

var _ filestore.Client = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		systems: make(map[string]map[string]*node),
		infos:   make(map[string]filestore.SystemInfo),
		calls:   make(map[string]int),
		now:     time.Now,
	}
}

// --- seeding and inspection helpers ---

// AddSystem registers a system definition returned by System.
func (s *Store) AddSystem(info filestore.SystemInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos[info.ID] = info
}

// WriteFile stores data at p, creating parent directories.
func (s *Store) WriteFile(systemID, p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(systemID, key(p), data, 0)
}

// MkdirAll creates the directory p and its parents.
func (s *Store) MkdirAll(systemID, p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mkdirAll(systemID, key(p))
}

// ReadFile returns the content of the file at p.
func (s *Store) ReadFile(systemID, p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.tree(systemID)[key(p)]
	if !ok || n.dir {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// Exists reports whether p exists.
func (s *Store) Exists(systemID, p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tree(systemID)[key(p)]
	return ok
}

// Permissions returns the grants recorded on p.
func (s *Store) Permissions(systemID, p string) map[string]filestore.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]filestore.Permission)
	if n, ok := s.tree(systemID)[key(p)]; ok {
		for u, perm := range n.pems {
			out[u] = perm
		}
	}
	return out
}

// Paths returns every path on a system, sorted, slash-rooted.
func (s *Store) Paths(systemID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.tree(systemID) {
		if k != "" {
			out = append(out, "/"+k)
		}
	}
	sort.Strings(out)
	return out
}

// Fail makes the next times calls of op on p return err. An empty p matches
// every path; times < 0 fails forever.
func (s *Store) Fail(op, p string, err error, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp := p
	if p != "" {
		fp = key(p)
	}
	s.faults = append(s.faults, &fault{op: op, path: fp, err: err, times: times})
}

// Calls returns how many times op has been invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// --- filestore.Client ---

func (s *Store) Upload(ctx context.Context, systemID, dir, name string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.ErrKindTimeout, "upload cancelled", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return errs.Wrap(errs.ErrKindRemoteOperationFailed, "read upload body", err)
	}
	if name == "" || strings.Contains(name, "/") {
		return errs.Newf(errs.ErrKindInvalidInput, "invalid file name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	target := key(path.Join(dir, name))
	if err := s.enter(OpUpload, target); err != nil {
		return err
	}
	if n, ok := s.tree(systemID)[key(dir)]; ok && !n.dir {
		return errs.Newf(errs.ErrKindInvalidInput, "%s is not a directory", dir)
	}
	if n, ok := s.tree(systemID)[target]; ok && n.dir {
		return errs.Newf(errs.ErrKindConflict, "%s is a directory", target)
	}
	s.put(systemID, target, data, s.ImportPolls)
	return nil
}

func (s *Store) Download(ctx context.Context, systemID, p string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(p)
	if err := s.enter(OpDownload, k); err != nil {
		return nil, err
	}
	n, err := s.lookup(systemID, k)
	if err != nil {
		return nil, err
	}
	if n.dir {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "%s is a directory", p)
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), n.data...))), nil
}

func (s *Store) List(ctx context.Context, systemID, p string, opts filestore.ListOptions) ([]filestore.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(p)
	if err := s.enter(OpList, k); err != nil {
		return nil, err
	}
	n, err := s.lookup(systemID, k)
	if err != nil {
		return nil, err
	}

	var all []filestore.FileInfo
	if !n.dir {
		all = []filestore.FileInfo{info(k, n, path.Base("/"+k))}
	} else {
		all = append(all, info(k, n, filestore.SelfName))
		for _, child := range s.children(systemID, k) {
			all = append(all, info(child, s.tree(systemID)[child], path.Base(child)))
		}
	}
	return page(all, opts), nil
}

func (s *Store) Delete(ctx context.Context, systemID, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(p)
	if err := s.enter(OpDelete, k); err != nil {
		return err
	}
	if k == "" {
		return errs.New(errs.ErrKindInvalidInput, "refusing to delete system root")
	}
	if _, err := s.lookup(systemID, k); err != nil {
		return err
	}
	for _, d := range s.subtree(systemID, k) {
		delete(s.tree(systemID), d)
	}
	return nil
}

func (s *Store) Manage(ctx context.Context, systemID, p string, op filestore.ManageOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(p)
	if err := s.enter(OpManage, k); err != nil {
		return err
	}
	n, err := s.lookup(systemID, k)
	if err != nil {
		return err
	}

	switch op.Action {
	case filestore.ActionMkdir:
		if !n.dir {
			return errs.Newf(errs.ErrKindInvalidInput, "%s is not a directory", p)
		}
		target := key(path.Join(k, op.Path))
		if existing, ok := s.tree(systemID)[target]; ok && !existing.dir {
			return errs.Newf(errs.ErrKindConflict, "%s exists and is a file", target)
		}
		s.mkdirAll(systemID, target)
		return nil
	case filestore.ActionRename:
		if op.Path == "" || strings.Contains(op.Path, "/") {
			return errs.Newf(errs.ErrKindInvalidInput, "invalid new name %q", op.Path)
		}
		return s.relocate(systemID, k, key(path.Join(path.Dir("/"+k), op.Path)), true)
	case filestore.ActionMove:
		return s.relocate(systemID, k, key(op.Path), true)
	case filestore.ActionCopy:
		return s.relocate(systemID, k, key(op.Path), false)
	}
	return errs.Newf(errs.ErrKindInvalidInput, "unsupported action %q", op.Action)
}

func (s *Store) UpdatePermissions(ctx context.Context, systemID, p string, g filestore.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(p)
	if err := s.enter(OpPermissions, k); err != nil {
		return err
	}
	if _, err := s.lookup(systemID, k); err != nil {
		return err
	}
	if g.Username == "" {
		return errs.New(errs.ErrKindInvalidInput, "username is required")
	}
	targets := []string{k}
	if g.Recursive {
		targets = s.subtree(systemID, k)
	}
	for _, t := range targets {
		n := s.tree(systemID)[t]
		if n.pems == nil {
			n.pems = make(map[string]filestore.Permission)
		}
		if g.Permission == filestore.PermNone {
			delete(n.pems, g.Username)
			continue
		}
		n.pems[g.Username] = g.Permission
	}
	return nil
}

func (s *Store) History(ctx context.Context, systemID, p string) ([]filestore.HistoryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(p)
	if err := s.enter(OpHistory, k); err != nil {
		return nil, err
	}
	n, err := s.lookup(systemID, k)
	if err != nil {
		return nil, err
	}
	if n.pendingPolls > 0 {
		n.pendingPolls--
		if n.pendingPolls == 0 {
			n.history = append(n.history, filestore.HistoryEvent{Status: filestore.StatusStagingCompleted, CreatedAt: s.now()})
		}
	}
	return append([]filestore.HistoryEvent(nil), n.history...), nil
}

func (s *Store) System(ctx context.Context, systemID string) (*filestore.SystemInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpSystem, ""); err != nil {
		return nil, err
	}
	info, ok := s.infos[systemID]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "system %s not found", systemID)
	}
	return &info, nil
}

// --- internals; callers hold s.mu ---

func key(p string) string {
	return storage.Normalize(p)
}

func (s *Store) tree(systemID string) map[string]*node {
	t, ok := s.systems[systemID]
	if !ok {
		t = map[string]*node{"": {dir: true, modTime: s.now()}}
		s.systems[systemID] = t
	}
	return t
}

func (s *Store) enter(op, k string) error {
	s.calls[op]++
	for _, f := range s.faults {
		if f.op != op || f.times == 0 || (f.path != "" && f.path != k) {
			continue
		}
		if f.times > 0 {
			f.times--
		}
		return f.err
	}
	return nil
}

func (s *Store) lookup(systemID, k string) (*node, error) {
	n, ok := s.tree(systemID)[k]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "/%s does not exist on %s", k, systemID)
	}
	return n, nil
}

func (s *Store) mkdirAll(systemID, k string) {
	t := s.tree(systemID)
	for cur := k; cur != ""; cur = parent(cur) {
		if _, ok := t[cur]; ok {
			break
		}
		t[cur] = &node{dir: true, modTime: s.now()}
	}
}

func (s *Store) put(systemID, k string, data []byte, pendingPolls int) {
	s.mkdirAll(systemID, parent(k))
	now := s.now()
	n := &node{data: append([]byte(nil), data...), modTime: now, pendingPolls: pendingPolls}
	if pendingPolls > 0 {
		n.history = []filestore.HistoryEvent{{Status: filestore.StatusStagingQueued, CreatedAt: now}}
	} else {
		n.history = []filestore.HistoryEvent{
			{Status: filestore.StatusCreated, CreatedAt: now},
			{Status: filestore.StatusStagingCompleted, CreatedAt: now},
		}
	}
	s.tree(systemID)[k] = n
}

func (s *Store) relocate(systemID, src, dst string, removeSource bool) error {
	if src == "" || dst == "" {
		return errs.New(errs.ErrKindInvalidInput, "cannot relocate the system root")
	}
	if src == dst {
		return errs.Newf(errs.ErrKindInvalidInput, "source and destination are both /%s", src)
	}
	if strings.HasPrefix(dst, src+"/") {
		return errs.Newf(errs.ErrKindInvalidInput, "cannot place /%s inside itself", src)
	}
	t := s.tree(systemID)
	if _, ok := t[dst]; ok {
		return errs.Newf(errs.ErrKindConflict, "/%s already exists", dst)
	}
	s.mkdirAll(systemID, parent(dst))
	for _, old := range s.subtree(systemID, src) {
		n := *t[old]
		n.data = append([]byte(nil), n.data...)
		n.modTime = s.now()
		if n.pems != nil {
			pems := make(map[string]filestore.Permission, len(n.pems))
			for u, perm := range n.pems {
				pems[u] = perm
			}
			n.pems = pems
		}
		t[dst+strings.TrimPrefix(old, src)] = &n
		if removeSource {
			delete(t, old)
		}
	}
	return nil
}

// subtree returns k and every path below it.
func (s *Store) subtree(systemID, k string) []string {
	out := []string{k}
	prefix := k + "/"
	for p := range s.tree(systemID) {
		if k == "" && p != "" || strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Store) children(systemID, k string) []string {
	var out []string
	for p := range s.tree(systemID) {
		if p != "" && p != k && parent(p) == k {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func parent(k string) string {
	d := path.Dir("/" + k)
	return strings.TrimPrefix(d, "/")
}

func info(k string, n *node, name string) filestore.FileInfo {
	fi := filestore.FileInfo{
		Name:         name,
		Path:         "/" + k,
		Type:         filestore.TypeFile,
		Length:       int64(len(n.data)),
		LastModified: n.modTime,
	}
	if n.dir {
		fi.Type = filestore.TypeDir
		fi.Length = 0
	}
	return fi
}

func page(all []filestore.FileInfo, opts filestore.ListOptions) []filestore.FileInfo {
	if opts.Offset >= len(all) {
		return []filestore.FileInfo{}
	}
	all = all[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all
}
