package jobs

import (
	"errors"
	"testing"

	"github.com/raaihank/phi-deid/internal/extraction"
	"github.com/raaihank/phi-deid/internal/privacy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob() *FileJob {
	return New(extraction.Source{Name: "note.txt", MIME: "text/plain", Content: []byte("hello")})
}

func TestNewJob(t *testing.T) {
	job := newJob()

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, int64(5), job.SizeBytes)
	assert.False(t, job.CreatedAt.IsZero())
	assert.NotEqual(t, job.ID, newJob().ID)
}

func TestJobLifecycle(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		job := newJob()
		require.NoError(t, job.Start())
		require.NoError(t, job.SetProgress(40))
		require.NoError(t, job.SetProgress(20))
		assert.Equal(t, 40, job.Progress)

		detections := []privacy.Detection{{Type: "ssn", Value: "123-45-6789"}}
		require.NoError(t, job.Complete("raw", "[SSN]", detections, privacy.ValidationReport{SuccessRatePercent: 100}))

		assert.Equal(t, StatusCompleted, job.Status)
		assert.Equal(t, 100, job.Progress)
		assert.Equal(t, "[SSN]", job.RedactedText)
		assert.Nil(t, job.Source().Content)
		assert.NotNil(t, job.FinishedAt)
	})

	t.Run("error keeps progress", func(t *testing.T) {
		job := newJob()
		require.NoError(t, job.Start())
		require.NoError(t, job.SetProgress(60))
		require.NoError(t, job.Fail(errors.New("corrupt pdf")))

		assert.Equal(t, StatusError, job.Status)
		assert.Equal(t, 60, job.Progress)
		assert.Equal(t, "corrupt pdf", job.ErrorMessage)
	})

	t.Run("terminal states reject transitions", func(t *testing.T) {
		job := newJob()
		require.NoError(t, job.Start())
		require.NoError(t, job.Fail(errors.New("x")))

		assert.ErrorIs(t, job.Start(), ErrInvalidTransition)
		assert.ErrorIs(t, job.SetProgress(90), ErrInvalidTransition)
		assert.ErrorIs(t, job.Complete("", "", nil, privacy.ValidationReport{}), ErrInvalidTransition)
		assert.ErrorIs(t, job.Fail(errors.New("y")), ErrInvalidTransition)
		assert.Equal(t, "x", job.ErrorMessage)
		assert.True(t, job.Status.IsTerminal())
	})

	t.Run("pending cannot complete", func(t *testing.T) {
		job := newJob()

		assert.ErrorIs(t, job.Complete("", "", nil, privacy.ValidationReport{}), ErrInvalidTransition)
		assert.ErrorIs(t, job.SetProgress(10), ErrInvalidTransition)
	})
}

func TestSnapshotIsIndependent(t *testing.T) {
	job := newJob()
	require.NoError(t, job.Start())
	require.NoError(t, job.Complete("a", "b", []privacy.Detection{{Type: "ssn"}}, privacy.ValidationReport{}))

	snap := job.Snapshot()
	snap.Detections[0].Type = "names"

	assert.Equal(t, "ssn", job.Detections[0].Type)
}
