package models_test

import (
	"testing"

	"github.com/kiranshivaraju/mediagen/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobStatus(t *testing.T) {
	for _, s := range []string{"pending", "processing", "completed", "failed"} {
		got, err := models.ParseJobStatus(s)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatus(s), got)
	}

	_, err := models.ParseJobStatus("running")
	assert.Error(t, err)
}

func TestJobStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to models.JobStatus
		want     bool
	}{
		{models.JobStatusPending, models.JobStatusProcessing, true},
		{models.JobStatusPending, models.JobStatusCompleted, false},
		{models.JobStatusPending, models.JobStatusFailed, false},
		{models.JobStatusProcessing, models.JobStatusCompleted, true},
		{models.JobStatusProcessing, models.JobStatusFailed, true},
		{models.JobStatusProcessing, models.JobStatusPending, false},
		{models.JobStatusFailed, models.JobStatusProcessing, true},
		{models.JobStatusFailed, models.JobStatusCompleted, false},
		{models.JobStatusCompleted, models.JobStatusProcessing, false},
		{models.JobStatusCompleted, models.JobStatusFailed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestNewJob_Defaults(t *testing.T) {
	job := models.NewJob("a cat", "m1", nil)

	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	assert.NotNil(t, job.Parameters)
	assert.Nil(t, job.MediaPath)
	assert.Nil(t, job.ErrorMessage)
	assert.False(t, job.CreatedAt.IsZero())
}

func TestPredictionInput_PromptWins(t *testing.T) {
	job := models.NewJob("a cat", "m1", map[string]any{"prompt": "a dog", "width": 512})

	input := job.PredictionInput()
	assert.Equal(t, "a cat", input["prompt"])
	assert.Equal(t, 512, input["width"])
	// original parameters untouched
	assert.Equal(t, "a dog", job.Parameters["prompt"])
}

func TestPrediction_ResultReference(t *testing.T) {
	tests := []struct {
		name   string
		output any
		want   string
		ok     bool
	}{
		{"string", "http://x/img.png", "http://x/img.png", true},
		{"list", []any{"http://x/img.png", "http://x/other.png"}, "http://x/img.png", true},
		{"string list", []string{"http://x/a.png"}, "http://x/a.png", true},
		{"empty string", "", "", false},
		{"empty list", []any{}, "", false},
		{"list of non-strings", []any{42}, "", false},
		{"object", map[string]any{"url": "http://x"}, "", false},
		{"nil", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := models.Prediction{Output: tt.output}.ResultReference()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPredictionStatus_Terminal(t *testing.T) {
	assert.True(t, models.PredictionSucceeded.Terminal())
	assert.True(t, models.PredictionFailed.Terminal())
	assert.True(t, models.PredictionCanceled.Terminal())
	assert.False(t, models.PredictionStarting.Terminal())
	assert.False(t, models.PredictionProcessing.Terminal())
	assert.False(t, models.PredictionStatus("queued").Terminal())
}
