package storage

import (
	"github.com/koustreak/bacanora/internal/errs"
	"github.com/koustreak/bacanora/internal/runtime"
)

// Template placeholders.
const (
	phName       = "{name}"       // descriptor short name
	phSystem     = "{system}"     // system id
	phRoot       = "{root}"       // catalog record root directory
	phLocalhost  = "{localhost}"  // Paths.LocalhostRoot
	phJupyter    = "{jupyter}"    // Paths.JupyterRoot
	phHPCJupyter = "{hpcjupyter}" // Paths.HPCJupyterRoot
)

// Mappings holds base directory templates per runtime and system type. A
// missing entry means the runtime has no local mount for that type.
type Mappings map[runtime.Kind]map[SystemType]string

// DefaultMappings returns the TACC layout.
func DefaultMappings() Mappings {
	tacc := map[SystemType]string{
		Community: "/work/projects/SD2E-Community/prod/data",
		Public:    "/work/projects/SD2E-Community/prod/share",
		Share:     "/work/projects/SD2E-Community/prod/projects/" + phName,
		Project:   "/work/projects/DARPA-SD2-Partners/" + phName,
		Work:      phRoot,
	}
	notebook := func(base string) map[SystemType]string {
		return map[SystemType]string{
			Community: base + "/sd2e-community",
			Work:      base + "/tacc-work",
			Share:     base + "/sd2e-projects/" + phName,
			Project:   base + "/sd2e-partners/" + phName,
		}
	}
	local := make(map[SystemType]string)
	for _, t := range SystemTypes() {
		local[t] = phLocalhost
	}

	return Mappings{
		runtime.HPC:        tacc,
		runtime.Abaco:      copyTemplates(tacc),
		runtime.Jupyter:    notebook(phJupyter),
		runtime.HPCJupyter: notebook(phHPCJupyter),
		runtime.Localhost:  local,
	}
}

// Template returns the base directory template for (k, t).
func (m Mappings) Template(k runtime.Kind, t SystemType) (string, bool) {
	tpl, ok := m[k][t]
	return tpl, ok && tpl != ""
}

// With returns a copy of m with overrides applied. Keys are runtime and
// system type names; an empty template removes the mapping.
func (m Mappings) With(overrides map[string]map[string]string) (Mappings, error) {
	out := make(Mappings, len(m))
	for k, v := range m {
		out[k] = copyTemplates(v)
	}
	for rtName, byType := range overrides {
		k, err := runtime.Parse(rtName)
		if err != nil {
			return nil, err
		}
		if out[k] == nil {
			out[k] = make(map[SystemType]string)
		}
		for typeName, tpl := range byType {
			t, err := ParseSystemType(typeName)
			if err != nil {
				return nil, errs.Wrap(errs.ErrKindInvalidInput, "paths.mappings."+rtName, err)
			}
			if tpl == "" {
				delete(out[k], t)
				continue
			}
			out[k][t] = tpl
		}
	}
	return out, nil
}

func copyTemplates(in map[SystemType]string) map[SystemType]string {
	out := make(map[SystemType]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
