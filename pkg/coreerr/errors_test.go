package coreerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors_SatisfyErrorsIsAgainstTheirSentinel(t *testing.T) {
	cause := errors.New("driver errno 5")

	cases := []struct {
		name string
		err  error
		kind error
	}{
		{"NotFound", NotFound("op", "pool", "p", cause), ErrNotFound},
		{"StateConflict", StateConflict("op", "nexus", "n", cause), ErrStateConflict},
		{"InvalidArgument", InvalidArgument("op", "replica", "r", cause), ErrInvalidArgument},
		{"AlreadyExists", AlreadyExists("op", "pool", "p", cause), ErrAlreadyExists},
		{"NoSpace", NoSpace("op", "pool", "p", cause), ErrNoSpace},
		{"IoError", IoError("op", "child", "c", cause), ErrIoError},
		{"Timeout", Timeout("op", "lock", "l", cause), ErrTimeout},
		{"Cancelled", Cancelled("op", "rebuild", "j", cause), ErrCancelled},
		{"Persistence", Persistence("op", "pool", "p", cause), ErrPersistence},
		{"Fatal", Fatal("op", "nexus", "n", cause), ErrFatal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.err, tc.kind)
			assert.ErrorIs(t, tc.err, cause)
		})
	}
}

func TestNotFound_WithNilCauseStillMatchesSentinel(t *testing.T) {
	err := NotFound("DestroyPool", "pool", "missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	var ce *CoreError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, "pool", ce.ResourceKind)
	assert.Equal(t, "missing", ce.ResourceID)
}

func TestError_IncludesOpResourceAndCause(t *testing.T) {
	err := New("CreatePool", "pool", "pool-a", ErrAlreadyExists, errors.New("duplicate name"))
	msg := err.Error()
	assert.Contains(t, msg, "CreatePool")
	assert.Contains(t, msg, "pool=pool-a")
	assert.Contains(t, msg, "already exists")
	assert.Contains(t, msg, "duplicate name")
}

func TestError_WithoutResourceKindOmitsResourceSegment(t *testing.T) {
	err := New("op", "", "", ErrTimeout, nil)
	assert.NotContains(t, err.Error(), "=")
}
