package runtime

import (
	"testing"

	"github.com/koustreak/bacanora/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"hpc", HPC, false},
		{"HPC", HPC, false},
		{" Abaco ", Abaco, false},
		{"hpc_jupyter", HPCJupyter, false},
		{"localhost", Localhost, false},
		{"mars", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errs.IsUnknownRuntime(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetect_Markers(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want Kind
	}{
		{"abaco", map[string]string{"REACTORS_VERSION": "1.0"}, Abaco},
		{"jupyter", map[string]string{"JUPYTERHUB_USER": "vaughn"}, Jupyter},
		{"hpc jupyter", map[string]string{"JUPYTERHUB_USER": "vaughn", "TACC_DOMAIN": "stampede2"}, HPCJupyter},
		{"hpc", map[string]string{"TACC_DOMAIN": "frontera"}, HPC},
		{"localhost marker", map[string]string{"LOCALONLY": ""}, Localhost},
		{"abaco wins over hpc", map[string]string{"REACTORS_VERSION": "1", "TACC_DOMAIN": "x"}, Abaco},
		{"nothing matches", map[string]string{}, Localhost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewDetector(WithLookup(env(tt.vars))).Detect("")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetect_Deterministic(t *testing.T) {
	d := NewDetector(WithLookup(env(map[string]string{
		"JUPYTERHUB_USER":  "u",
		"TACC_DOMAIN":      "d",
		"REACTORS_VERSION": "1",
		"LOCALONLY":        "1",
	})))

	for i := 0; i < 50; i++ {
		got, err := d.Detect("")
		require.NoError(t, err)
		require.Equal(t, Abaco, got)
	}
}

func TestDetect_Override(t *testing.T) {
	d := NewDetector(WithLookup(env(map[string]string{"REACTORS_VERSION": "1"})))

	got, err := d.Detect("Jupyter")
	require.NoError(t, err)
	assert.Equal(t, Jupyter, got)

	_, err = d.Detect("venus")
	assert.True(t, errs.IsUnknownRuntime(err))
}

func TestDetect_Strict(t *testing.T) {
	_, err := NewDetector(WithLookup(env(nil)), WithStrict()).Detect("")
	require.Error(t, err)
	assert.True(t, errs.IsRuntimeNotDetected(err))
}

func TestDetect_Fallback(t *testing.T) {
	got, err := NewDetector(WithLookup(env(nil)), WithFallback(HPC)).Detect("")
	require.NoError(t, err)
	assert.Equal(t, HPC, got)
}

func TestDescribe(t *testing.T) {
	info, ok := Describe(HPCJupyter)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"JUPYTERHUB_USER", "TACC_DOMAIN"}, info.Markers)
	assert.True(t, info.Container)

	_, ok = Describe(Kind("nope"))
	assert.False(t, ok)
}
