package backend

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/koustreak/bacanora/internal/filestore"
	"github.com/koustreak/bacanora/internal/storage"
)

// Request carries every argument a command may need. Fields a command does
// not use are ignored.
type Request struct {
	System string
	// Path is the logical path acted on: the source of get, rename, move
	// and copy, and the destination directory of put.
	Path string
	// Dest is the logical destination of rename, move and copy.
	Dest string
	// Local is a path on the local host: the file put uploads, or the
	// file get writes (defaults to the base name of Path).
	Local string
	// RootDir anchors relative Path and Dest values.
	RootDir string
	// Runtime overrides runtime detection.
	Runtime string
	// Processor restricts dispatch to one backend.
	Processor string

	Force       bool
	Atomic      bool
	Sync        bool
	Recursive   bool
	Directories bool
	Dotfiles    bool

	Username   string
	Permission filestore.Permission
}

// Target returns Path anchored at RootDir, slash-rooted.
func (r Request) Target() string {
	return storage.Absolute(storage.Rooted(r.Path, r.RootDir))
}

// Destination returns Dest anchored at RootDir, slash-rooted.
func (r Request) Destination() string {
	return storage.Absolute(storage.Rooted(r.Dest, r.RootDir))
}

// Visible reports whether a path relative to a walk root passes the
// dotfile filter.
func Visible(rel string, dotfiles bool) bool {
	return dotfiles || !storage.IsHidden(rel)
}

var lastStamp atomic.Int64

// Stamp returns a process-wide strictly increasing nanosecond timestamp.
func Stamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := lastStamp.Load()
		if now <= last {
			now = last + 1
		}
		if lastStamp.CompareAndSwap(last, now) {
			return now
		}
	}
}

// TempName returns the staging name an atomic transfer writes before
// renaming into final.
func TempName(final string) string {
	return final + "-" + strconv.FormatInt(Stamp(), 10)
}
