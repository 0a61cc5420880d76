package bacanora

import (
	"github.com/koustreak/bacanora/internal/config"
	"github.com/koustreak/bacanora/internal/errs"
	"github.com/koustreak/bacanora/internal/filestore"
	"github.com/koustreak/bacanora/internal/logger"
	"github.com/koustreak/bacanora/internal/storage"
)

type (
	// Config is the full client configuration.
	Config = config.Config
	// Error is the error type returned by every operation.
	Error = errs.Error
	// ErrKind classifies an Error.
	ErrKind = errs.ErrKind
	// Remote is a remote file service.
	Remote = filestore.Client
	// MetadataSource resolves storage system records.
	MetadataSource = storage.MetadataSource
	// Record is a storage system record.
	Record = storage.Record
	// Logger is the structured logger.
	Logger = logger.Logger
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads defaults, the YAML file at path and the process
// environment.
func LoadConfig(path string) (Config, error) { return config.Load(path, nil) }

// NewLogger builds a logger from cfg.Log.
func NewLogger(cfg Config) *Logger { return logger.New(&cfg.Log) }

var (
	IsNotFound                = errs.IsNotFound
	IsConflict                = errs.IsConflict
	IsPermissionDenied        = errs.IsPermissionDenied
	IsInvalidInput            = errs.IsInvalidInput
	IsTimeout                 = errs.IsTimeout
	IsUnknownRuntime          = errs.IsUnknownRuntime
	IsRuntimeNotDetected      = errs.IsRuntimeNotDetected
	IsUnknownStorageSystem    = errs.IsUnknownStorageSystem
	IsManagedStore            = errs.IsManagedStore
	IsImportNotComplete       = errs.IsImportNotComplete
	IsBackendNotImplemented   = errs.IsBackendNotImplemented
	IsOperationNotImplemented = errs.IsOperationNotImplemented
	IsProcessingFailed        = errs.IsProcessingFailed
	IsConfiguration           = errs.IsConfiguration
	IsRetryable               = errs.IsRetryable
)
