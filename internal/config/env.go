package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/koustreak/bacanora/internal/errs"
)

// applyEnv overlays environment variables on cfg. Integer durations are
// read as seconds; Go duration strings ("90s", "1m") are accepted too.
func applyEnv(cfg *Config, lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("BACANORA_STORAGE_SYSTEM", &cfg.StorageSystem)
	e.str("BACANORA_RUNTIME", &cfg.Runtime)
	e.boolean("BACANORA_PERMISSIVE_RUNTIME", &cfg.PermissiveRuntime)
	e.str("BACANORA_DEFAULT_RUNTIME", &cfg.DefaultRuntime)
	e.boolean("BACANORA_PERMISSIVE_SYSTEMS", &cfg.PermissiveSystems)

	e.str("BACANORA_LOCALHOST_ROOT_DIR", &cfg.Paths.LocalhostRoot)
	e.str("BACANORA_JUPYTER_ROOT_DIR", &cfg.Paths.JupyterRoot)
	if cfg.Paths.HPCJupyterRoot == "" {
		e.str("HOME", &cfg.Paths.HPCJupyterRoot)
	}
	e.str("BACANORA_HPC_JUPYTER_ROOT_DIR", &cfg.Paths.HPCJupyterRoot)
	e.str("STORAGE_SYSTEM_PREFIX_OVERRIDE", &cfg.Paths.PrefixOverride)

	e.list("BACANORA_PROCESSORS", &cfg.Processors)

	e.duration("BACANORA_RETRY_MAX_DELAY", &cfg.Retry.MaxElapsed)
	e.duration("BACANORA_RETRY_BASE_DELAY", &cfg.Retry.BaseDelay)
	e.duration("BACANORA_RETRY_MAX_BACKOFF", &cfg.Retry.MaxDelay)
	e.duration("BACANORA_IMPORT_DATA_MAX_ELAPSED", &cfg.Sync.MaxElapsed)
	e.duration("BACANORA_IMPORT_DATA_RETRY_DELAY", &cfg.Sync.BaseDelay)

	e.boolean("BACANORA_FILES_ATOMIC_OPERATIONS", &cfg.Files.Atomic)
	e.integer("BACANORA_FILES_LIST_PAGESIZE", &cfg.Files.PageSize)
	e.integer("BACANORA_FILES_BLOCK_SIZE", &cfg.Files.BlockSize)

	// Abaco injects its own credentials; explicit TAPIS_* values win.
	e.str("_abaco_api_server", &cfg.Tapis.BaseURL)
	e.str("TAPIS_BASE_URL", &cfg.Tapis.BaseURL)
	e.str("_abaco_access_token", &cfg.Tapis.Token)
	e.str("TAPIS_TOKEN", &cfg.Tapis.Token)
	e.str("_abaco_username", &cfg.Tapis.Username)
	e.str("TAPIS_USERNAME", &cfg.Tapis.Username)
	e.duration("TAPIS_TIMEOUT", &cfg.Tapis.Timeout)

	e.str("BACANORA_S3_ENDPOINT", &cfg.S3.Endpoint)
	e.str("BACANORA_S3_ACCESS_KEY", &cfg.S3.AccessKey)
	e.str("BACANORA_S3_SECRET_KEY", &cfg.S3.SecretKey)
	e.boolean("BACANORA_S3_USE_SSL", &cfg.S3.UseSSL)
	e.str("BACANORA_S3_REGION", &cfg.S3.Region)

	e.str("BACANORA_CATALOG_DRIVER", &cfg.Catalog.Driver)
	e.str("BACANORA_CATALOG_DSN", &cfg.Catalog.DSN)
	e.str("BACANORA_CATALOG_TABLE", &cfg.Catalog.Table)

	e.integer("BACANORA_GRANT_CONCURRENCY", &cfg.Grant.Concurrency)

	e.str("BACANORA_LOG_LEVEL", &cfg.Log.Level)
	e.str("BACANORA_LOG_FORMAT", &cfg.Log.Format)

	return e.err
}

// envReader records the first parse failure and ignores later variables.
type envReader struct {
	lookup LookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(key, val string, cause error) {
	e.err = errs.Wrap(errs.ErrKindInvalidInput, "invalid value for "+key+": "+strconv.Quote(val), cause)
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := parseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes", "on", "y":
		return true, nil
	case "no", "off", "n":
		return false, nil
	}
	return strconv.ParseBool(v)
}
