package models_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
)

func TestValidTransitionAllowsTheDocumentedGraph(t *testing.T) {
	assert.True(t, models.ValidTransition(models.JobStatusPending, models.JobStatusQueued))
	assert.True(t, models.ValidTransition(models.JobStatusPending, models.JobStatusRunning))
	assert.True(t, models.ValidTransition(models.JobStatusQueued, models.JobStatusRunning))
	assert.True(t, models.ValidTransition(models.JobStatusRunning, models.JobStatusDone))
	assert.True(t, models.ValidTransition(models.JobStatusRunning, models.JobStatusInterrupted))
}

func TestValidTransitionRejectsTerminalReentry(t *testing.T) {
	assert.False(t, models.ValidTransition(models.JobStatusDone, models.JobStatusRunning))
	assert.False(t, models.ValidTransition(models.JobStatusFailed, models.JobStatusQueued))
	assert.False(t, models.ValidTransition(models.JobStatusCancelled, models.JobStatusRunning))
}

func TestValidTransitionRejectsSkippingQueuedBackwards(t *testing.T) {
	assert.False(t, models.ValidTransition(models.JobStatusRunning, models.JobStatusQueued))
	assert.False(t, models.ValidTransition(models.JobStatusRunning, models.JobStatusPending))
}

func TestJobStatusIsTerminal(t *testing.T) {
	for _, s := range []models.JobStatus{models.JobStatusDone, models.JobStatusFailed, models.JobStatusCancelled, models.JobStatusInterrupted} {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
	for _, s := range []models.JobStatus{models.JobStatusPending, models.JobStatusQueued, models.JobStatusRunning} {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestValidationErrorMessageAndSentinelsAreDistinguishable(t *testing.T) {
	err := models.NewValidationError("email", "is required")
	var validErr *models.ValidationError
	require.True(t, errors.As(err, &validErr))
	assert.Equal(t, "email", validErr.Field)
	assert.Contains(t, err.Error(), "is required")

	assert.False(t, errors.Is(err, models.ErrNotFound))
	assert.True(t, errors.Is(models.ErrNotFound, models.ErrNotFound))
}
