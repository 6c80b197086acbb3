// internal/common/errors/errors_test.go
package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDataValidationError(t *testing.T) {
	err := NewDataValidationError([]string{"missing column: ward", "bad value for urban"})

	assert.Equal(t, ErrCodeDataValidationFailed, err.Code)
	assert.False(t, err.Retryable)
	assert.Equal(t, "missing column: ward; bad value for urban", err.Details)
	assert.Equal(t, []string{"missing column: ward", "bad value for urban"}, err.Metadata["problems"])
	assert.Contains(t, err.Error(), "DATA_VALIDATION_FAILED")
}

func TestRetryability(t *testing.T) {
	assert.False(t, NewRegionNotRecognizedError("Narnia").Retryable)
	assert.False(t, NewSessionNotFoundError("s1").Retryable)
	assert.True(t, NewSessionBusyError("s1").Retryable)
	assert.True(t, NewSessionStoreError(errors.New("conn reset")).Retryable)
	assert.True(t, NewBoundaryQueryFailedError("Kano", errors.New("timeout")).Retryable)
}

func TestIsCode(t *testing.T) {
	err := NewSessionBusyError("s1")
	assert.True(t, IsCode(err, ErrCodeSessionBusy))
	assert.False(t, IsCode(err, ErrCodeSessionNotFound))
	assert.False(t, IsCode(errors.New("plain"), ErrCodeSessionBusy))
	assert.False(t, IsCode(nil, ErrCodeSessionBusy))

	wrapped := fmt.Errorf("while advancing: %w", err)
	assert.True(t, IsCode(wrapped, ErrCodeSessionBusy))
}

func TestCode(t *testing.T) {
	err := NewSessionBusyError("s1")
	assert.Equal(t, ErrCodeSessionBusy, Code(err))
	assert.Equal(t, ErrCodeSessionBusy, Code(fmt.Errorf("while advancing: %w", err)))
	assert.Equal(t, ErrCodeInternal, Code(errors.New("plain")))
	assert.Equal(t, ErrCodeInternal, Code(nil))
}

func TestNewArtifactNotReadyError(t *testing.T) {
	err := NewArtifactNotReadyError("sess-1", "tpr_table")
	require.Equal(t, ErrCodeArtifactNotReady, err.Code)
	assert.Contains(t, err.Details, "sess-1")
	assert.Contains(t, err.Details, "tpr_table")
}
