package storage

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/koustreak/bacanora/internal/config"
	"github.com/koustreak/bacanora/internal/errs"
	"github.com/koustreak/bacanora/internal/runtime"
)

// Resolver converts between logical paths on a storage system and physical
// paths on the local filesystem. It is safe for concurrent use.
type Resolver struct {
	mappings   Mappings
	catalog    *Catalog
	vars       map[string]string
	prefix     string
	permissive bool
}

// NewResolver builds a Resolver from the path settings in cfg.
func NewResolver(cfg config.Config, catalog *Catalog) (*Resolver, error) {
	mappings, err := DefaultMappings().With(cfg.Paths.Mappings)
	if err != nil {
		return nil, err
	}
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Resolver{
		mappings: mappings,
		catalog:  catalog,
		vars: map[string]string{
			phLocalhost:  cfg.Paths.LocalhostRoot,
			phJupyter:    cfg.Paths.JupyterRoot,
			phHPCJupyter: cfg.Paths.HPCJupyterRoot,
		},
		prefix:     cfg.Paths.PrefixOverride,
		permissive: cfg.PermissiveSystems,
	}, nil
}

// Catalog returns the metadata catalog used for {root} templates.
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Describe classifies systemID, consulting the catalog for ids the built-in
// rules do not recognize.
func (r *Resolver) Describe(ctx context.Context, systemID string) (Descriptor, error) {
	d, err := Classify(systemID)
	if err == nil {
		return d, nil
	}
	if rec, lerr := r.catalog.Lookup(ctx, systemID); lerr == nil && rec.Type != "" {
		if _, terr := ParseSystemType(string(rec.Type)); terr == nil {
			return Descriptor{ID: systemID, Type: rec.Type, ShortName: rec.ShortName, Classified: true}, nil
		}
	}
	if r.permissive {
		return Descriptor{ID: systemID}, nil
	}
	return d, err
}

// Base returns the physical directory corresponding to "/" on systemID.
func (r *Resolver) Base(ctx context.Context, systemID string, kind runtime.Kind) (string, error) {
	d, err := r.Describe(ctx, systemID)
	if err != nil {
		return "", err
	}
	if r.prefix != "" {
		return filepath.Clean(r.prefix), nil
	}
	if !d.Classified {
		return "", errs.Newf(errs.ErrKindManagedStore, "storage system %q has no local mount", systemID)
	}

	tpl, ok := r.mappings.Template(kind, d.Type)
	if !ok {
		return "", errs.Newf(errs.ErrKindManagedStore, "%s systems are not mounted on %s", d.Type, kind)
	}
	base, err := r.expand(ctx, tpl, d)
	if err != nil {
		return "", err
	}
	if base == "" {
		return "", errs.Newf(errs.ErrKindManagedStore, "empty base directory for %s on %s", systemID, kind)
	}
	return filepath.Clean(filepath.FromSlash(base)), nil
}

func (r *Resolver) expand(ctx context.Context, tpl string, d Descriptor) (string, error) {
	out := strings.ReplaceAll(tpl, phName, d.ShortName)
	out = strings.ReplaceAll(out, phSystem, d.ID)
	for k, v := range r.vars {
		if strings.Contains(out, k) {
			if v == "" {
				return "", errs.Newf(errs.ErrKindManagedStore, "%s is not configured", k)
			}
			out = strings.ReplaceAll(out, k, v)
		}
	}
	if strings.Contains(out, phRoot) {
		rec, err := r.catalog.Lookup(ctx, d.ID)
		if err != nil {
			return "", errs.Wrap(errs.ErrKindManagedStore, "no root directory known for "+d.ID, err)
		}
		if rec.Root() == "" {
			return "", errs.Newf(errs.ErrKindManagedStore, "record for %s has no root directory", d.ID)
		}
		out = strings.ReplaceAll(out, phRoot, rec.Root())
	}
	return out, nil
}

// Physical returns the local path of logical on systemID.
func (r *Resolver) Physical(ctx context.Context, logical, systemID string, kind runtime.Kind) (string, error) {
	base, err := r.Base(ctx, systemID, kind)
	if err != nil {
		return "", err
	}
	rel := Normalize(logical)
	if rel == "" {
		return base, nil
	}
	return filepath.Join(base, filepath.FromSlash(rel)), nil
}

// Logical returns the slash-rooted logical path of physical on systemID.
func (r *Resolver) Logical(ctx context.Context, physical, systemID string, kind runtime.Kind) (string, error) {
	base, err := r.Base(ctx, systemID, kind)
	if err != nil {
		return "", err
	}
	p := filepath.Clean(physical)
	if p == base {
		return "/", nil
	}
	prefix := base
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(p, prefix) {
		return "", errs.Newf(errs.ErrKindInvalidInput, "%s is outside %s (%s)", physical, systemID, base)
	}
	return Absolute(filepath.ToSlash(strings.TrimPrefix(p, prefix))), nil
}
