// Package config builds the immutable settings value shared by every
// bacanora component.
//
// A Config is assembled once, from defaults, an optional YAML file and the
// process environment (in that order of precedence, lowest first), then
// validated and passed by value. Nothing in bacanora reads the environment
// for settings after this point.
//
// Usage:
//
//	cfg, err := config.Load("bacanora.yaml", os.LookupEnv)
//	if err != nil { ... }
//	client, err := bacanora.New(ctx, cfg)
package config

import (
	"os"
	"strings"
	"time"

	"github.com/koustreak/bacanora/internal/errs"
	"github.com/koustreak/bacanora/internal/logger"
	"github.com/koustreak/bacanora/internal/runtime"
	"go.yaml.in/yaml/v3"
)

// DefaultStorageSystem is used when a call names no system.
const DefaultStorageSystem = "data-sd2e-community"

// Config holds every tunable setting.
type Config struct {
	// StorageSystem is the system used when a call does not name one.
	StorageSystem string `yaml:"storage_system"`

	// Runtime, when set, overrides environment detection.
	Runtime string `yaml:"runtime"`
	// PermissiveRuntime falls back to DefaultRuntime when no markers match.
	PermissiveRuntime bool   `yaml:"permissive_runtime"`
	DefaultRuntime    string `yaml:"default_runtime"`

	// PermissiveSystems treats unclassifiable systems as remote-only
	// instead of failing.
	PermissiveSystems bool `yaml:"permissive_systems"`

	Paths PathsConfig `yaml:"paths"`

	// Processors is the default backend order.
	Processors []string `yaml:"processors"`

	Retry   RetryConfig   `yaml:"retry"`
	Sync    RetryConfig   `yaml:"sync"`
	Files   FilesConfig   `yaml:"files"`
	Tapis   TapisConfig   `yaml:"tapis"`
	S3      S3Config      `yaml:"s3"`
	Catalog CatalogConfig `yaml:"catalog"`
	Grant   GrantConfig   `yaml:"grant"`

	Log logger.Config `yaml:"log"`
}

// PathsConfig controls where storage systems are found on local disk.
type PathsConfig struct {
	LocalhostRoot  string `yaml:"localhost_root"`
	JupyterRoot    string `yaml:"jupyter_root"`
	HPCJupyterRoot string `yaml:"hpc_jupyter_root"`
	// PrefixOverride, when set, is the base directory for every system.
	PrefixOverride string `yaml:"prefix_override"`
	// Mappings overrides base directory templates, keyed by runtime then
	// system type. An empty template removes the mapping.
	Mappings map[string]map[string]string `yaml:"mappings"`
}

// RetryConfig bounds an exponential backoff loop.
type RetryConfig struct {
	MaxElapsed time.Duration `yaml:"max_elapsed"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
}

// FilesConfig tunes transfers and listings.
type FilesConfig struct {
	Atomic    bool `yaml:"atomic"`
	PageSize  int  `yaml:"page_size"`
	BlockSize int  `yaml:"block_size"`
}

// TapisConfig locates the remote file service.
type TapisConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Token    string        `yaml:"token"`
	Username string        `yaml:"username"`
	Timeout  time.Duration `yaml:"timeout"`
}

// S3Config locates an S3-compatible object store used as the remote backend
// when no Tapis endpoint is configured.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
}

// CatalogConfig points at a SQL table of storage system records.
type CatalogConfig struct {
	Driver string `yaml:"driver"` // postgres, mysql, or empty for none
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
}

// GrantConfig paces recursive permission grants.
type GrantConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Concurrency   int     `yaml:"concurrency"`
}

// Default returns the built-in settings.
func Default() Config {
	root, err := os.Getwd()
	if err != nil {
		root = os.TempDir()
	}
	return Config{
		StorageSystem:     DefaultStorageSystem,
		PermissiveRuntime: true,
		DefaultRuntime:    string(runtime.Localhost),
		Paths: PathsConfig{
			LocalhostRoot: root,
			JupyterRoot:   "/home/jupyter",
		},
		Processors: []string{"direct", "tapis"},
		Retry: RetryConfig{
			MaxElapsed: 90 * time.Second,
			BaseDelay:  2 * time.Second,
			MaxDelay:   64 * time.Second,
			Multiplier: 2,
		},
		Sync: RetryConfig{
			MaxElapsed: time.Hour,
			BaseDelay:  150 * time.Millisecond,
			MaxDelay:   30 * time.Second,
			Multiplier: 2,
		},
		Files: FilesConfig{
			Atomic:    true,
			PageSize:  100,
			BlockSize: 4096,
		},
		Tapis: TapisConfig{
			Timeout: 30 * time.Second,
		},
		Catalog: CatalogConfig{
			Table: "storage_systems",
		},
		Grant: GrantConfig{
			RatePerSecond: 20,
			Concurrency:   4,
		},
		Log: logger.Config{
			Level:      "info",
			Format:     "json",
			TimeFormat: "rfc3339",
		},
	}
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty and BACANORA_CONFIG is unset) and the environment.
func Load(path string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := Default()

	if path == "" {
		path, _ = lookup("BACANORA_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errs.Wrap(errs.ErrKindInvalidInput, "read config file", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errs.Wrap(errs.ErrKindInvalidInput, "parse config file", err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv is Load without a file.
func FromEnv(lookup LookupFunc) (Config, error) {
	return Load("", lookup)
}

// Validate checks cross-field consistency.
func (c Config) Validate() error {
	if c.Runtime != "" {
		if _, err := runtime.Parse(c.Runtime); err != nil {
			return err
		}
	}
	if _, err := runtime.Parse(c.DefaultRuntime); err != nil {
		return err
	}
	if strings.TrimSpace(c.StorageSystem) == "" {
		return errs.New(errs.ErrKindInvalidInput, "storage_system must not be empty")
	}
	if len(c.Processors) == 0 {
		return errs.New(errs.ErrKindInvalidInput, "at least one processor is required")
	}
	for name, rc := range map[string]RetryConfig{"retry": c.Retry, "sync": c.Sync} {
		if rc.MaxElapsed <= 0 || rc.BaseDelay <= 0 || rc.MaxDelay < rc.BaseDelay {
			return errs.Newf(errs.ErrKindInvalidInput, "%s: delays must be positive and max_delay >= base_delay", name)
		}
		if rc.Multiplier < 1 {
			return errs.Newf(errs.ErrKindInvalidInput, "%s: multiplier must be >= 1", name)
		}
	}
	if c.Files.PageSize <= 0 {
		return errs.New(errs.ErrKindInvalidInput, "files.page_size must be positive")
	}
	if c.Files.BlockSize <= 0 {
		return errs.New(errs.ErrKindInvalidInput, "files.block_size must be positive")
	}
	switch c.Catalog.Driver {
	case "", "postgres", "mysql":
	default:
		return errs.Newf(errs.ErrKindInvalidInput, "catalog.driver %q is not supported", c.Catalog.Driver)
	}
	if c.Catalog.Driver != "" && c.Catalog.DSN == "" {
		return errs.New(errs.ErrKindInvalidInput, "catalog.dsn is required when catalog.driver is set")
	}
	if c.Grant.Concurrency < 1 || c.Grant.RatePerSecond <= 0 {
		return errs.New(errs.ErrKindInvalidInput, "grant.concurrency and grant.rate_per_second must be positive")
	}
	for rt := range c.Paths.Mappings {
		if _, err := runtime.Parse(rt); err != nil {
			return err
		}
	}
	return nil
}
