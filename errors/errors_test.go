package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelWrapping(t *testing.T) {
	err := NewValidationError("scriptPath contains %q", ";")
	require.Error(t, err)

	assert.True(t, Is(err, ErrValidation))
	assert.False(t, Is(err, ErrConfiguration))
	assert.Contains(t, err.Error(), `scriptPath contains ";"`)
}

func TestWrapPreservesSentinel(t *testing.T) {
	err := NewConfigurationError("cluster host not configured")
	wrapped := Wrap(err, "submit rejected")

	assert.True(t, IsConfigurationError(wrapped))
	assert.Contains(t, wrapped.Error(), "submit rejected")
}

func TestIsHelpersNilSafe(t *testing.T) {
	assert.False(t, IsValidationError(nil))
	assert.False(t, IsConfigurationError(nil))
	assert.False(t, IsConnectionError(nil))
	assert.False(t, IsNotFoundError(nil))
	assert.False(t, IsPreconditionError(nil))
}

func TestWithDetailKeepsIdentity(t *testing.T) {
	err := Wrap(ErrSubmission, "sbatch output unparseable")
	err = WithDetail(err, "Job ID: 42")

	assert.True(t, Is(err, ErrSubmission))
}
