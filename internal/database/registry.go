package database

import (
	"context"
	"sort"
	"sync"

	"github.com/koustreak/bacanora/internal/errs"
)

// Opener connects to a database engine.
type Opener func(ctx context.Context, cfg *Config) (DB, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[Driver]Opener)
)

// Register makes an engine available to Open. Engine packages call it from
// init, so importing an engine for side effects enables it.
func Register(name Driver, open Opener) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if open == nil {
		panic("database: Register opener is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("database: Register called twice for driver " + string(name))
	}
	drivers[name] = open
}

// Drivers returns the registered engine names, sorted.
func Drivers() []Driver {
	driversMu.RLock()
	defer driversMu.RUnlock()
	out := make([]Driver, 0, len(drivers))
	for d := range drivers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Open connects using the engine registered for cfg.Driver.
func Open(ctx context.Context, cfg *Config) (DB, error) {
	driversMu.RLock()
	open, ok := drivers[cfg.Driver]
	driversMu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "database: unknown driver %q (forgotten import?)", cfg.Driver)
	}
	return open(ctx, cfg)
}
