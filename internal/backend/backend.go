// Package backend defines what a file-operation backend is and how the
// dispatcher judges the result of calling one.
//
// A backend implements only the operation groups it supports. Each group is
// a separate interface (Getter, Putter, Prober, Manager, Walker, Granter);
// a backend that lacks the interface for a command does not implement it,
// and the dispatcher moves on to the next backend.
package backend

import (
	"context"

	"github.com/koustreak/bacanora/internal/errs"
)

// Command names a uniform file operation.
type Command string

const (
	CmdGet     Command = "get"
	CmdPut     Command = "put"
	CmdExists  Command = "exists"
	CmdIsFile  Command = "isfile"
	CmdIsDir   Command = "isdir"
	CmdIsLink  Command = "islink"
	CmdIsMount Command = "ismount"
	CmdMkdir   Command = "mkdir"
	CmdDelete  Command = "delete"
	CmdRename  Command = "rename"
	CmdMove    Command = "move"
	CmdCopy    Command = "copy"
	CmdWalk    Command = "walk"
	CmdListDir Command = "listdir"
	CmdGrant   Command = "grant"
)

// Commands lists every command.
func Commands() []Command {
	return []Command{
		CmdGet, CmdPut, CmdExists, CmdIsFile, CmdIsDir, CmdIsLink, CmdIsMount,
		CmdMkdir, CmdDelete, CmdRename, CmdMove, CmdCopy,
		CmdWalk, CmdListDir, CmdGrant,
	}
}

// Backend is anything registered with the dispatcher.
type Backend interface {
	Name() string
}

// Getter copies a file from a storage system to the local host and returns
// the local file name.
type Getter interface {
	Backend
	Get(ctx context.Context, req Request) (string, error)
}

// Putter copies a local file into a directory on a storage system.
type Putter interface {
	Backend
	Put(ctx context.Context, req Request) (bool, error)
}

// Prober answers existence questions. A Probe that is not Known means the
// backend cannot tell and another backend should be asked.
type Prober interface {
	Backend
	Exists(ctx context.Context, req Request) (Probe, error)
	IsFile(ctx context.Context, req Request) (Probe, error)
	IsDir(ctx context.Context, req Request) (Probe, error)
	IsLink(ctx context.Context, req Request) (Probe, error)
}

// Mounter reports whether a path is the root of a mounted system.
type Mounter interface {
	Backend
	IsMount(ctx context.Context, req Request) (Probe, error)
}

// Manager changes the tree of a storage system.
type Manager interface {
	Backend
	Mkdir(ctx context.Context, req Request) (bool, error)
	Delete(ctx context.Context, req Request) (bool, error)
	Rename(ctx context.Context, req Request) (bool, error)
	Move(ctx context.Context, req Request) (bool, error)
	Copy(ctx context.Context, req Request) (bool, error)
}

// Walker lists directories. Walk returns slash-rooted logical paths of
// everything below the target; ListDir returns the names of its immediate
// children.
type Walker interface {
	Backend
	Walk(ctx context.Context, req Request) ([]string, error)
	ListDir(ctx context.Context, req Request) ([]string, error)
}

// Granter sets permissions.
type Granter interface {
	Backend
	Grant(ctx context.Context, req Request) (GrantReport, error)
}

// GrantReport summarizes a grant. Only the root grant decides success;
// Failed counts entries of a recursive grant that could not be updated.
type GrantReport struct {
	Session string
	Root    string
	Entries int
	Failed  int
}

// Invoke runs cmd on b. implemented is false when b lacks the operation
// group for cmd; err is then an operation_not_implemented error.
func Invoke(ctx context.Context, b Backend, cmd Command, req Request) (value any, implemented bool, err error) {
	notImplemented := func() (any, bool, error) {
		return nil, false, errs.Newf(errs.ErrKindOperationNotImplemented, "%s does not implement %s", b.Name(), cmd)
	}

	switch cmd {
	case CmdGet:
		g, ok := b.(Getter)
		if !ok {
			return notImplemented()
		}
		v, err := g.Get(ctx, req)
		return v, true, err
	case CmdPut:
		p, ok := b.(Putter)
		if !ok {
			return notImplemented()
		}
		v, err := p.Put(ctx, req)
		return v, true, err
	case CmdExists, CmdIsFile, CmdIsDir, CmdIsLink:
		p, ok := b.(Prober)
		if !ok {
			return notImplemented()
		}
		var (
			v   Probe
			err error
		)
		switch cmd {
		case CmdExists:
			v, err = p.Exists(ctx, req)
		case CmdIsFile:
			v, err = p.IsFile(ctx, req)
		case CmdIsDir:
			v, err = p.IsDir(ctx, req)
		default:
			v, err = p.IsLink(ctx, req)
		}
		return v, true, err
	case CmdIsMount:
		m, ok := b.(Mounter)
		if !ok {
			return notImplemented()
		}
		v, err := m.IsMount(ctx, req)
		return v, true, err
	case CmdMkdir, CmdDelete, CmdRename, CmdMove, CmdCopy:
		m, ok := b.(Manager)
		if !ok {
			return notImplemented()
		}
		var (
			v   bool
			err error
		)
		switch cmd {
		case CmdMkdir:
			v, err = m.Mkdir(ctx, req)
		case CmdDelete:
			v, err = m.Delete(ctx, req)
		case CmdRename:
			v, err = m.Rename(ctx, req)
		case CmdMove:
			v, err = m.Move(ctx, req)
		default:
			v, err = m.Copy(ctx, req)
		}
		return v, true, err
	case CmdWalk, CmdListDir:
		w, ok := b.(Walker)
		if !ok {
			return notImplemented()
		}
		if cmd == CmdWalk {
			v, err := w.Walk(ctx, req)
			return v, true, err
		}
		v, err := w.ListDir(ctx, req)
		return v, true, err
	case CmdGrant:
		g, ok := b.(Granter)
		if !ok {
			return notImplemented()
		}
		v, err := g.Grant(ctx, req)
		return v, true, err
	}
	return notImplemented()
}
