package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorMessage(t *testing.T) {
	err := NewValidationError("INVALID_BATCH_SIZE", "batch size must be >= 1")
	assert.Equal(t, "INVALID_BATCH_SIZE: batch size must be >= 1", err.Error())

	err = err.WithDetails("got -3")
	assert.Contains(t, err.Error(), "got -3")
}

func TestWrapErrorPreservesSentinel(t *testing.T) {
	err := WrapError(ErrCheckpointNotFound, ErrorTypeStorage, "CHECKPOINT_NOT_FOUND", "no checkpoint for run")

	assert.ErrorIs(t, err, ErrCheckpointNotFound)
	assert.NotErrorIs(t, err, ErrLedgerCorrupt)
	assert.Equal(t, ErrCheckpointNotFound, errors.Unwrap(err))
}

func TestWrapErrorThroughFmtChain(t *testing.T) {
	inner := WrapError(ErrCancelled, ErrorTypeTraining, "TRAINING_CANCELLED", "interrupted")
	outer := fmt.Errorf("search failed: %w", inner)

	assert.ErrorIs(t, outer, ErrCancelled)
	assert.Equal(t, "TRAINING_CANCELLED", GetCode(outer))
}

func TestIsMatchesTypeAndCode(t *testing.T) {
	a := NewDataError("SHAPE_MISMATCH", "input has 5 samples, target has 4")
	b := NewDataError("SHAPE_MISMATCH", "different message")
	c := NewStorageError("SHAPE_MISMATCH", "same code, other type")

	assert.ErrorIs(t, a, b)
	assert.NotErrorIs(t, a, c)
}

func TestIsType(t *testing.T) {
	err := NewTrainingError("TRAINING_FAILED", "diverged")
	assert.True(t, IsType(err, ErrorTypeTraining))
	assert.False(t, IsType(err, ErrorTypeStorage))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeTraining))
}

func TestWithContext(t *testing.T) {
	err := NewStorageError("LEDGER_WRITE", "write failed").
		WithContext("path", "errors_site_72.json").
		WithContext("run", "lstm")

	assert.Equal(t, "errors_site_72.json", err.Context["path"])
	assert.Equal(t, "lstm", err.Context["run"])
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, "EMPTY_SPACE", GetCode(NewValidationError("EMPTY_SPACE", "nothing to search")))
	assert.Empty(t, GetCode(errors.New("plain")))
	assert.Empty(t, GetCode(nil))
}
