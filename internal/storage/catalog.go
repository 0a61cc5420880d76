package storage

import (
	"context"
	_ "embed"
	"path"
	"sync"

	"github.com/koustreak/bacanora/internal/errs"
	"go.yaml.in/yaml/v3"
	"golang.org/x/sync/singleflight"
)

// Record is storage system metadata as published by a metadata source.
type Record struct {
	ID        string      `yaml:"id"`
	Type      SystemType  `yaml:"type"`
	ShortName string      `yaml:"short_name"`
	Owner     string      `yaml:"owner"`
	Storage   StorageInfo `yaml:"storage"`
}

// StorageInfo describes where a system keeps its files.
type StorageInfo struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Protocol string `yaml:"protocol"`
	RootDir  string `yaml:"root_dir"`
	HomeDir  string `yaml:"home_dir"`
}

// Root is the physical directory a system's "/" refers to.
func (r Record) Root() string {
	if r.Storage.RootDir == "" {
		return ""
	}
	return path.Join(r.Storage.RootDir, r.Storage.HomeDir)
}

// MetadataSource looks up a storage system record by id. Implementations
// return a not_found error for unknown ids.
type MetadataSource interface {
	LookupSystem(ctx context.Context, id string) (*Record, error)
}

// MetadataFunc adapts a function to MetadataSource.
type MetadataFunc func(ctx context.Context, id string) (*Record, error)

func (f MetadataFunc) LookupSystem(ctx context.Context, id string) (*Record, error) {
	return f(ctx, id)
}

//go:embed systems.yaml
var builtinSystems []byte

// Catalog answers record lookups from built-in records first, then from its
// sources in order. Successful source lookups are memoized for the life of
// the Catalog; concurrent lookups of the same id share one source call.
type Catalog struct {
	builtin map[string]Record
	sources []MetadataSource

	mu    sync.RWMutex
	cache map[string]Record
	group singleflight.Group
}

// NewCatalog returns a Catalog seeded with the built-in records.
func NewCatalog(sources ...MetadataSource) *Catalog {
	builtin, err := parseRecords(builtinSystems)
	if err != nil {
		panic("storage: invalid built-in systems: " + err.Error())
	}
	var live []MetadataSource
	for _, s := range sources {
		if s != nil {
			live = append(live, s)
		}
	}
	return &Catalog{
		builtin: builtin,
		sources: live,
		cache:   make(map[string]Record),
	}
}

func parseRecords(data []byte) (map[string]Record, error) {
	var doc struct {
		Systems []Record `yaml:"systems"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(doc.Systems))
	for _, r := range doc.Systems {
		out[r.ID] = r
	}
	return out, nil
}

// Lookup returns the record for id.
func (c *Catalog) Lookup(ctx context.Context, id string) (Record, error) {
	if r, ok := c.builtin[id]; ok {
		return r, nil
	}
	c.mu.RLock()
	r, ok := c.cache[id]
	c.mu.RUnlock()
	if ok {
		return r, nil
	}

	v, err, _ := c.group.Do(id, func() (any, error) {
		return c.fetch(ctx, id)
	})
	if err != nil {
		return Record{}, err
	}
	return v.(Record), nil
}

func (c *Catalog) fetch(ctx context.Context, id string) (Record, error) {
	var lastErr error
	for _, src := range c.sources {
		rec, err := src.LookupSystem(ctx, id)
		if err != nil {
			if !errs.IsNotFound(err) {
				lastErr = err
			}
			continue
		}
		if rec == nil {
			continue
		}
		if rec.ID == "" {
			rec.ID = id
		}
		c.mu.Lock()
		c.cache[id] = *rec
		c.mu.Unlock()
		return *rec, nil
	}
	if lastErr != nil {
		return Record{}, lastErr
	}
	return Record{}, errs.Newf(errs.ErrKindNotFound, "no metadata for storage system %q", id)
}
