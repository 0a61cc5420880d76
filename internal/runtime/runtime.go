// Package runtime classifies the execution environment into one of a fixed
// set of kinds. The kind decides where storage systems are mounted locally.
//
// Detection is a pure function of environment markers checked in a fixed
// priority order, so an environment carrying markers for several kinds
// always resolves to the same one.
package runtime

import (
	"os"
	"strings"

	"github.com/koustreak/bacanora/internal/errs"
)

// Kind is a classified execution environment.
type Kind string

const (
	Abaco      Kind = "abaco"       // ephemeral function container
	Jupyter    Kind = "jupyter"     // notebook container
	HPCJupyter Kind = "hpc_jupyter" // notebook container hosted on an HPC system
	HPC        Kind = "hpc"         // HPC login or compute node
	Localhost  Kind = "localhost"   // anything else
)

// Kinds returns every known kind in detection priority order.
func Kinds() []Kind {
	return []Kind{Abaco, HPCJupyter, Jupyter, HPC, Localhost}
}

// Parse validates s case-insensitively.
func Parse(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", errs.Newf(errs.ErrKindUnknownRuntime, "%q is not a known runtime", s)
}

// Info is descriptive metadata for a kind.
type Info struct {
	Kind        Kind
	Description string
	Markers     []string // environment variables that must all be present
	Container   bool
}

var infos = map[Kind]Info{
	Abaco: {
		Kind:        Abaco,
		Description: "Abaco reactor container",
		Markers:     []string{"REACTORS_VERSION"},
		Container:   true,
	},
	HPCJupyter: {
		Kind:        HPCJupyter,
		Description: "Jupyter notebook on a TACC HPC system",
		Markers:     []string{"JUPYTERHUB_USER", "TACC_DOMAIN"},
		Container:   true,
	},
	Jupyter: {
		Kind:        Jupyter,
		Description: "hosted Jupyter notebook",
		Markers:     []string{"JUPYTERHUB_USER"},
		Container:   true,
	},
	HPC: {
		Kind:        HPC,
		Description: "TACC HPC host",
		Markers:     []string{"TACC_DOMAIN"},
	},
	Localhost: {
		Kind:        Localhost,
		Description: "generic host",
		Markers:     []string{"LOCALONLY"},
	},
}

// Describe returns metadata for k. Unknown kinds yield a zero Info and false.
func Describe(k Kind) (Info, bool) {
	info, ok := infos[k]
	return info, ok
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// Detector classifies the current environment.
type Detector struct {
	lookup     LookupFunc
	permissive bool
	fallback   Kind
}

// Option configures a Detector.
type Option func(*Detector)

// WithLookup replaces os.LookupEnv as the marker source.
func WithLookup(fn LookupFunc) Option {
	return func(d *Detector) { d.lookup = fn }
}

// WithStrict makes Detect fail when no marker set matches.
func WithStrict() Option {
	return func(d *Detector) { d.permissive = false }
}

// WithFallback sets the kind returned when nothing matches in permissive mode.
func WithFallback(k Kind) Option {
	return func(d *Detector) { d.fallback = k }
}

// NewDetector returns a permissive detector reading the process environment
// and falling back to Localhost.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		lookup:     os.LookupEnv,
		permissive: true,
		fallback:   Localhost,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns override when it is set, otherwise the first kind whose
// full marker set is present.
func (d *Detector) Detect(override string) (Kind, error) {
	if override != "" {
		return Parse(override)
	}
	for _, k := range Kinds() {
		if d.matches(infos[k].Markers) {
			return k, nil
		}
	}
	if d.permissive {
		return d.fallback, nil
	}
	return "", errs.New(errs.ErrKindRuntimeNotDetected, "no runtime markers present in environment")
}

func (d *Detector) matches(markers []string) bool {
	for _, m := range markers {
		if _, ok := d.lookup(m); !ok {
			return false
		}
	}
	return len(markers) > 0
}
