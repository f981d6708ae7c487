package vczerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCapturesStack(t *testing.T) {
	err := New(ErrorTypePlanning, "num_partitions must be >= 1")
	require.NotNil(t, err)
	assert.Equal(t, ErrorTypePlanning, err.Type)
	assert.NotEmpty(t, err.Stack)
	assert.Equal(t, "planning: num_partitions must be >= 1", err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("permission denied")
	err := Wrap(cause, ErrorTypeIO, "failed to write chunk").
		WithPartition(3).
		WithField("INFO/DP")

	require.NotNil(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, err.Details["partition"])
	assert.Equal(t, "INFO/DP", err.Details["field"])
}

func TestWrapNil(t *testing.T) {
	var err error
	wrapped := Wrap(err, ErrorTypeIO, "should be nil")
	assert.Nil(t, wrapped)
}

func TestIsType(t *testing.T) {
	err := New(ErrorTypeSchemaMismatch, "field not in store")
	wrapped := fmt.Errorf("encode failed: %w", err)

	assert.True(t, IsType(wrapped, ErrorTypeSchemaMismatch))
	assert.False(t, IsType(wrapped, ErrorTypePlanning))
	assert.False(t, IsType(errors.New("plain"), ErrorTypePlanning))
}

func TestIncompletePartition(t *testing.T) {
	err := NewIncompletePartition([]int{3, 0, 2})
	assert.True(t, IsType(err, ErrorTypeIncompletePartition))
	assert.Equal(t, []int{0, 2, 3}, MissingPartitions(err))

	// Propagates through wrapping.
	wrapped := fmt.Errorf("finalise: %w", err)
	assert.Equal(t, []int{0, 2, 3}, MissingPartitions(wrapped))

	assert.Nil(t, MissingPartitions(New(ErrorTypeIO, "other")))
}
