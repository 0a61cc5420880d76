package storage

import (
	"path"
	"strings"
)

// Normalize returns p relative to a system root: duplicate separators are
// collapsed, "." and ".." are resolved without climbing above the root, and
// leading and trailing slashes are removed. Normalize is idempotent.
func Normalize(p string) string {
	return strings.Trim(path.Clean("/"+p), "/")
}

// Rooted joins rootDir and p and returns the normalized result. It is how
// relative caller inputs are anchored to a working directory.
func Rooted(p, rootDir string) string {
	if rootDir == "" {
		return Normalize(p)
	}
	return Normalize(path.Join(Normalize(rootDir), Normalize(p)))
}

// Absolute returns the slash-rooted form of a logical path.
func Absolute(p string) string {
	return "/" + Normalize(p)
}

// IsHidden reports whether any component of p starts with a dot.
func IsHidden(p string) bool {
	for _, part := range strings.Split(Normalize(p), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
