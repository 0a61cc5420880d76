package filestore

import (
	"strings"
	"time"

	"github.com/koustreak/bacanora/internal/errs"
)

// Entry types reported by List.
const (
	TypeFile = "file"
	TypeDir  = "dir"
)

// SelfName is the name of the entry describing a listed directory itself.
const SelfName = "."

// FileInfo describes one listed entry.
type FileInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Type         string    `json:"type"`
	Length       int64     `json:"length"`
	LastModified time.Time `json:"lastModified"`
	Permissions  string    `json:"permissions,omitempty"`
	MimeType     string    `json:"mimeType,omitempty"`
}

// IsDir reports whether the entry is a directory.
func (f FileInfo) IsDir() bool { return f.Type == TypeDir }

// ListOptions pages a listing.
type ListOptions struct {
	// Limit caps the number of entries returned. 0 means the provider default.
	Limit int
	// Offset skips entries from the start of the full listing.
	Offset int
}

// Manage actions.
const (
	ActionMkdir  = "mkdir"
	ActionRename = "rename"
	ActionCopy   = "copy"
	ActionMove   = "move"
)

// ManageOp is a server-side file action.
//
// For mkdir the target path is the parent directory and Path names the new
// directory relative to it. For rename Path is the new base name. For copy
// and move Path is the absolute destination.
type ManageOp struct {
	Action string `json:"action"`
	Path   string `json:"path"`
}

// Permission is a file service permission level.
type Permission string

const (
	PermRead         Permission = "READ"
	PermWrite        Permission = "WRITE"
	PermExecute      Permission = "EXECUTE"
	PermReadWrite    Permission = "READ_WRITE"
	PermReadExecute  Permission = "READ_EXECUTE"
	PermWriteExecute Permission = "WRITE_EXECUTE"
	PermAll          Permission = "ALL"
	PermNone         Permission = "NONE"
)

// ParsePermission validates s case-insensitively.
func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case PermRead, PermWrite, PermExecute, PermReadWrite, PermReadExecute,
		PermWriteExecute, PermAll, PermNone:
		return p, nil
	}
	return "", errs.Newf(errs.ErrKindInvalidInput, "%q is not a permission", s)
}

// Grant assigns a permission to a user.
type Grant struct {
	Username   string     `json:"username"`
	Permission Permission `json:"permission"`
	Recursive  bool       `json:"recursive"`
}

// History states that end an import.
const (
	StatusStagingCompleted      = "STAGING_COMPLETED"
	StatusTransformingCompleted = "TRANSFORMING_COMPLETED"
	StatusCreated               = "CREATED"
	StatusDownload              = "DOWNLOAD"
	StatusStagingFailed         = "STAGING_FAILED"
	StatusTransformingFailed    = "TRANSFORMING_FAILED"
	StatusStagingQueued         = "STAGING_QUEUED"
)

// HistoryEvent is one recorded lifecycle event of a file.
type HistoryEvent struct {
	Status      string    `json:"status"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created"`
}

// Terminal reports whether the event ends an import successfully.
func (e HistoryEvent) Terminal() bool {
	switch e.Status {
	case StatusStagingCompleted, StatusTransformingCompleted, StatusCreated, StatusDownload:
		return true
	}
	return false
}

// Failed reports whether the event ends an import in failure.
func (e HistoryEvent) Failed() bool {
	return e.Status == StatusStagingFailed || e.Status == StatusTransformingFailed
}

// SystemInfo is a storage system definition published by the service.
type SystemInfo struct {
	ID      string      `json:"id"`
	Name    string      `json:"name,omitempty"`
	Type    string      `json:"type,omitempty"`
	Owner   string      `json:"owner,omitempty"`
	Public  bool        `json:"public,omitempty"`
	Storage StorageInfo `json:"storage"`
}

// StorageInfo locates a system's files.
type StorageInfo struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	RootDir  string `json:"rootDir,omitempty"`
	HomeDir  string `json:"homeDir,omitempty"`
}
