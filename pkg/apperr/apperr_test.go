package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	err := New(NotFound, "transport not found")
	assert.Equal(t, "NOT_FOUND: transport not found", err.Error())

	wrapped := Wrap(errors.New("ipc broke"), EngineFailed, "media engine call failed")
	assert.Contains(t, wrapped.Error(), "ENGINE_FAILED")
	assert.Contains(t, wrapped.Error(), "ipc broke")
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(cause, EngineFailed, "call failed")
	assert.True(t, errors.Is(err, cause))
}

func TestIsAndAs(t *testing.T) {
	err := NewConflict("peer already exists")
	assert.True(t, Is(err, Conflict))
	assert.False(t, Is(err, NotFound))
	assert.False(t, Is(nil, Conflict))
	assert.False(t, Is(errors.New("plain"), Conflict))

	// As walks wrap chains built with %w
	chained := fmt.Errorf("handler: %w", err)
	ae := As(chained)
	require.NotNil(t, ae)
	assert.Equal(t, Conflict, ae.Kind)
}

func TestConstructors(t *testing.T) {
	assert.Equal(t, ArgumentInvalid, NewArgumentInvalid("x").Kind)
	assert.Equal(t, NotFound, NewNotFound("consumer").Kind)
	assert.Contains(t, NewNotFound("consumer").Error(), "consumer not found")
	assert.Equal(t, Conflict, NewConflict("x").Kind)
	assert.Equal(t, EngineRejected, NewEngineRejected("x").Kind)
	assert.Equal(t, EngineFailed, NewEngineFailed(errors.New("x")).Kind)
	assert.Equal(t, Fatal, NewFatal(errors.New("x")).Kind)
}

func TestWithContext(t *testing.T) {
	err := New(NotFound, "peer not found").WithContext("peer_id", "a")
	assert.Equal(t, "a", err.Context["peer_id"])
}
