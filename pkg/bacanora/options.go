package bacanora

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/koustreak/bacanora/internal/backend"
	"github.com/koustreak/bacanora/internal/filestore"
	"github.com/koustreak/bacanora/internal/logger"
	"github.com/koustreak/bacanora/internal/runtime"
	"github.com/koustreak/bacanora/internal/storage"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	remote     filestore.Client
	fs         afero.Fs
	sources    []storage.MetadataSource
	log        *logger.Logger
	registerer prometheus.Registerer
	lookup     runtime.LookupFunc
}

// WithRemote uses client as the remote file service instead of building
// one from the configuration.
func WithRemote(client Remote) Option {
	return func(o *options) { o.remote = client }
}

// WithFs replaces the local filesystem used by both backends.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithMetadataSource adds a catalog source consulted after the built-in
// records and before the remote service.
func WithMetadataSource(src MetadataSource) Option {
	return func(o *options) { o.sources = append(o.sources, src) }
}

// WithLogger replaces the logger built from Config.Log.
func WithLogger(l *Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRegisterer registers the client's Prometheus collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithEnv replaces os.LookupEnv as the source of runtime markers.
func WithEnv(lookup func(key string) (string, bool)) Option {
	return func(o *options) { o.lookup = lookup }
}

// CallOption adjusts a single operation.
type CallOption func(*call)

type call struct {
	req        backend.Request
	permissive bool
}

// WithSystem names the storage system. The default is Config.StorageSystem.
func WithSystem(id string) CallOption {
	return func(c *call) { c.req.System = id }
}

// WithRootDir anchors relative paths.
func WithRootDir(dir string) CallOption {
	return func(c *call) { c.req.RootDir = dir }
}

// WithProcessor restricts the call to one backend.
func WithProcessor(name string) CallOption {
	return func(c *call) { c.req.Processor = name }
}

// WithRuntime overrides runtime detection.
func WithRuntime(name string) CallOption {
	return func(c *call) { c.req.Runtime = name }
}

// WithForce replaces or removes whatever is in the way.
func WithForce(force bool) CallOption {
	return func(c *call) { c.req.Force = force }
}

// WithAtomic stages transfers under a temporary name. The default is
// Config.Files.Atomic.
func WithAtomic(atomic bool) CallOption {
	return func(c *call) { c.req.Atomic = atomic }
}

// WithSync makes Put wait until the remote service has finished importing.
func WithSync(sync bool) CallOption {
	return func(c *call) { c.req.Sync = sync }
}

// WithPermissive turns operation failures into false or empty results.
// Configuration errors are still returned.
func WithPermissive(permissive bool) CallOption {
	return func(c *call) { c.permissive = permissive }
}

// WithRecursive applies Grant to everything below a directory. Delete is
// recursive unless WithRecursive(false) is given.
func WithRecursive(recursive bool) CallOption {
	return func(c *call) { c.req.Recursive = recursive }
}

// WithDirectories includes directories in Walk and ListDir results.
func WithDirectories(dirs bool) CallOption {
	return func(c *call) { c.req.Directories = dirs }
}

// WithDotfiles includes hidden entries in Walk and ListDir results.
func WithDotfiles(dotfiles bool) CallOption {
	return func(c *call) { c.req.Dotfiles = dotfiles }
}

// WithLocalName sets the local file Get writes.
func WithLocalName(name string) CallOption {
	return func(c *call) { c.req.Local = name }
}
