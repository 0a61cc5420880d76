package errs

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  New(ErrKindConflict, "destination exists"),
			want: "[conflict] destination exists",
		},
		{
			name: "with cause",
			err:  Wrap(ErrKindDirectOperationFailed, "copy failed", fs.ErrPermission),
			want: "[direct_operation_failed] copy failed: permission denied",
		},
		{
			name: "formatted",
			err:  Newf(ErrKindUnknownRuntime, "unknown runtime %q", "mars"),
			want: `[unknown_runtime] unknown runtime "mars"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestHas_MatchesNestedKinds(t *testing.T) {
	inner := New(ErrKindNotFound, "no such file")
	outer := Wrap(ErrKindProcessingFailed, "all backends failed", fmt.Errorf("remote: %w", inner))

	assert.True(t, IsProcessingFailed(outer))
	assert.True(t, IsNotFound(outer))
	assert.False(t, IsConflict(outer))
	assert.Equal(t, ErrKindProcessingFailed, KindOf(outer))
}

func TestIsRetryable_UsesOutermost(t *testing.T) {
	inner := Transient(ErrKindRemoteOperationFailed, "503", nil)

	assert.True(t, IsRetryable(inner))
	assert.False(t, IsRetryable(Wrap(ErrKindProcessingFailed, "failed", inner)))
	assert.True(t, IsRetryable(Transient(ErrKindProcessingFailed, "failed", inner)))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestIsConfiguration(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{New(ErrKindUnknownRuntime, ""), true},
		{New(ErrKindRuntimeNotDetected, ""), true},
		{New(ErrKindUnknownStorageSystem, ""), true},
		{New(ErrKindManagedStore, ""), true},
		{New(ErrKindBackendNotImplemented, ""), true},
		{New(ErrKindOperationNotImplemented, ""), true},
		{Wrap(ErrKindProcessingFailed, "", New(ErrKindUnknownStorageSystem, "")), true},
		{New(ErrKindNotFound, ""), false},
		{New(ErrKindDirectOperationFailed, ""), false},
		{errors.New("plain"), false},
		{nil, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v", tt.err), func(t *testing.T) {
			assert.Equal(t, tt.want, IsConfiguration(tt.err))
		})
	}
}

func TestKindOf_Unknown(t *testing.T) {
	assert.Equal(t, ErrKindUnknown, KindOf(errors.New("x")))
	assert.Equal(t, "unknown", ErrKindUnknown.String())
}
