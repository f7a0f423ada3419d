package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raaihank/phi-deid/internal/extraction"
	"github.com/raaihank/phi-deid/internal/jobs"
	"github.com/raaihank/phi-deid/internal/logger"
	"github.com/raaihank/phi-deid/internal/privacy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeExtractor returns the file content as text unless the name is listed
// in failures. block, when set, is waited on before extracting.
type fakeExtractor struct {
	failures map[string]error
	panics   map[string]bool
	block    chan struct{}
}

func (f *fakeExtractor) Extract(ctx context.Context, src extraction.Source, progress extraction.ProgressFunc) (string, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	progress(40)
	if f.panics[src.Name] {
		panic("corrupt stream")
	}
	if err := f.failures[src.Name]; err != nil {
		return "", err
	}
	progress(80)
	return string(src.Content), nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Publish(eventType string, jobID string, data interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, eventType)
}

func (s *recordingSink) count(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type memorySaver struct {
	saved []privacy.RedactionConfig
	err   error
}

func (m *memorySaver) Save(_ context.Context, cfg privacy.RedactionConfig) error {
	m.saved = append(m.saved, cfg)
	return m.err
}

type fakeRefiner struct {
	err error
}

func (f *fakeRefiner) Refine(_ context.Context, text string, _ privacy.RedactionConfig) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return strings.ToUpper(text), nil
}

func newCoordinator(t *testing.T, extractor extraction.Extractor, cfg Config) *Coordinator {
	t.Helper()
	redactor := privacy.NewRedactor(privacy.NewRegistry(), logger.Nop())
	return NewCoordinator(cfg, extractor, redactor, zap.NewNop())
}

func source(name, content string) extraction.Source {
	return extraction.Source{Name: name, MIME: "text/plain", Content: []byte(content)}
}

func TestEnqueueSkipsUnsupportedFiles(t *testing.T) {
	c := newCoordinator(t, &fakeExtractor{}, Config{})
	sink := &recordingSink{}
	c.SetEventSink(sink)

	result := c.Enqueue([]extraction.Source{
		source("notes.txt", "a"),
		{Name: "archive.zip", MIME: "application/zip", Content: []byte("PK")},
		{Name: "scan", MIME: "image/png", Content: []byte("x")},
	})

	require.Len(t, result.Jobs, 2)
	assert.Equal(t, "notes.txt", result.Jobs[0].Name)
	assert.Equal(t, jobs.StatusPending, result.Jobs[0].Status)
	require.NotNil(t, result.Skipped)
	require.Len(t, result.Skipped.Files, 1)
	assert.Equal(t, "archive.zip", result.Skipped.Files[0].Name)
	assert.Contains(t, result.Skipped.Error(), "unsupported formats")

	assert.Len(t, c.Pending(), 2)
	assert.Equal(t, 2, sink.count(EventJobEnqueued))
	assert.Equal(t, 1, sink.count(EventBatchSkipped))
}

func TestEnqueueMaxFileSize(t *testing.T) {
	c := newCoordinator(t, &fakeExtractor{}, Config{MaxFileSize: 4})

	result := c.Enqueue([]extraction.Source{source("small.txt", "abc"), source("large.txt", "abcdef")})

	require.Len(t, result.Jobs, 1)
	require.NotNil(t, result.Skipped)
	assert.Equal(t, "large.txt", result.Skipped.Files[0].Name)
}

func TestReconfigure(t *testing.T) {
	c := newCoordinator(t, &fakeExtractor{}, Config{})
	assert.True(t, c.Accepts("notes.txt", ""))

	c.Reconfigure(Config{AllowedExtensions: []string{".pdf"}, AllowedMIMETypes: []string{"application/pdf"}, MaxFileSize: 2})

	assert.False(t, c.Accepts("notes.txt", "text/plain"))
	assert.True(t, c.Accepts("scan.PDF", ""))

	result := c.Enqueue([]extraction.Source{{Name: "big.pdf", Content: []byte("abc")}})
	assert.Empty(t, result.Jobs)
	require.NotNil(t, result.Skipped)
	assert.Contains(t, result.Skipped.Files[0].Reason, "exceeds 2 bytes")
}

func TestEnqueueAllAcceptedHasNoNotice(t *testing.T) {
	c := newCoordinator(t, &fakeExtractor{}, Config{})

	result := c.Enqueue([]extraction.Source{source("a.csv", "x,y")})

	assert.Nil(t, result.Skipped)
}

func TestProcessAllIsolatesFailures(t *testing.T) {
	extractor := &fakeExtractor{failures: map[string]error{"2.txt": errors.New("unreadable")}}
	c := newCoordinator(t, extractor, Config{})
	sink := &recordingSink{}
	c.SetEventSink(sink)

	var failed []jobs.FileJob
	c.OnFailure(func(job jobs.FileJob, err error) {
		failed = append(failed, job)
	})

	c.Enqueue([]extraction.Source{
		source("1.txt", "SSN 123-45-6789"),
		source("2.txt", "ignored"),
		source("3.txt", "Email jane@example.org"),
	})

	result, err := c.ProcessAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 2, result.Completed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "2.txt", result.Failures[0].Name)
	assert.Equal(t, "unreadable", result.Failures[0].Error)
	require.Len(t, failed, 1)
	assert.Equal(t, "2.txt", failed[0].Name)
	assert.Equal(t, jobs.StatusError, failed[0].Status)
	assert.Equal(t, "unreadable", failed[0].ErrorMessage)
	assert.Equal(t, 40, failed[0].Progress)

	assert.Empty(t, c.Pending())
	archive := c.Archive()
	require.Len(t, archive, 2)
	assert.Equal(t, "1.txt", archive[0].Name)
	assert.Equal(t, "SSN [SSN]", archive[0].RedactedText)
	assert.Equal(t, "3.txt", archive[1].Name)
	assert.Equal(t, "Email [EMAIL]", archive[1].RedactedText)
	for _, job := range archive {
		assert.Equal(t, jobs.StatusCompleted, job.Status)
		assert.Equal(t, 100, job.Progress)
		require.NotNil(t, job.Report)
		assert.Equal(t, 100.0, job.Report.SuccessRatePercent)
	}

	assert.Equal(t, 2, sink.count(EventJobCompleted))
	assert.Equal(t, 1, sink.count(EventJobFailed))
	assert.Equal(t, 1, sink.count(EventBatchCompleted))
	assert.GreaterOrEqual(t, sink.count(EventJobProgress), 3)
}

func TestProcessAllRecoversPanics(t *testing.T) {
	c := newCoordinator(t, &fakeExtractor{panics: map[string]bool{"bad.txt": true}}, Config{})
	c.Enqueue([]extraction.Source{source("bad.txt", "x"), source("good.txt", "y")})

	result, err := c.ProcessAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Failures[0].Error, "corrupt stream")
	assert.Len(t, c.Archive(), 1)
}

func TestProcessAllRejectsReentry(t *testing.T) {
	extractor := &fakeExtractor{block: make(chan struct{})}
	c := newCoordinator(t, extractor, Config{})
	c.Enqueue([]extraction.Source{source("a.txt", "a")})

	done := make(chan error, 1)
	go func() {
		_, err := c.ProcessAll(context.Background())
		done <- err
	}()

	assert.Eventually(t, c.Processing, time.Second, 5*time.Millisecond)

	_, err := c.ProcessAll(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	_, err = c.ProcessNext(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(extractor.block)
	require.NoError(t, <-done)
	assert.False(t, c.Processing())
}

func TestStartProcessAll(t *testing.T) {
	extractor := &fakeExtractor{block: make(chan struct{})}
	c := newCoordinator(t, extractor, Config{})
	c.Enqueue([]extraction.Source{source("a.txt", "a")})

	done := make(chan BatchResult, 1)
	require.NoError(t, c.StartProcessAll(context.Background(), func(result BatchResult, err error) {
		assert.NoError(t, err)
		done <- result
	}))

	// claimed before returning, so no drain can slip in between
	assert.True(t, c.Processing())
	assert.ErrorIs(t, c.StartProcessAll(context.Background(), nil), ErrBusy)
	_, err := c.ProcessAll(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(extractor.block)
	result := <-done
	assert.Equal(t, 1, result.Completed)
	assert.Eventually(t, func() bool { return !c.Processing() }, time.Second, 5*time.Millisecond)
}

func TestProcessNext(t *testing.T) {
	c := newCoordinator(t, &fakeExtractor{}, Config{})

	_, err := c.ProcessNext(context.Background())
	assert.ErrorIs(t, err, ErrNoPendingJobs)

	c.Enqueue([]extraction.Source{source("a.txt", "call 555-123-4567"), source("b.txt", "b")})

	job, err := c.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a.txt", job.Name)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Len(t, c.Pending(), 1)
	assert.Len(t, c.Archive(), 1)
}

func TestJobTimeout(t *testing.T) {
	c := newCoordinator(t, &fakeExtractor{block: make(chan struct{})}, Config{JobTimeout: 20 * time.Millisecond})
	c.Enqueue([]extraction.Source{source("slow.txt", "x")})

	result, err := c.ProcessAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Failures[0].Error, context.DeadlineExceeded.Error())
}

func TestProcessAllStopsOnCancel(t *testing.T) {
	c := newCoordinator(t, &fakeExtractor{}, Config{})
	c.Enqueue([]extraction.Source{source("a.txt", "a")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ProcessAll(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, c.Pending(), 1)
}

func TestSettingsApplyToLaterJobs(t *testing.T) {
	c := newCoordinator(t, &fakeExtractor{}, Config{})
	saver := &memorySaver{}
	c.SetSettingsStore(saver)

	cfg := c.Settings()
	cfg.Set(privacy.CategorySSN, false)
	require.NoError(t, c.UpdateSettings(context.Background(), cfg))
	require.Len(t, saver.saved, 1)
	assert.False(t, c.Settings().IsEnabled(privacy.CategorySSN))

	c.Enqueue([]extraction.Source{source("a.txt", "ID: 123-45-6789")})
	_, err := c.ProcessAll(context.Background())
	require.NoError(t, err)

	job := c.Archive()[0]
	assert.Equal(t, "ID: 123-45-6789", job.RedactedText)
	require.NotNil(t, job.Report)
	assert.Equal(t, 1, job.Report.RemainingCount)

	saver.err = errors.New("redis down")
	assert.ErrorContains(t, c.UpdateSettings(context.Background(), cfg), "redis down")
}

func TestRefiner(t *testing.T) {
	t.Run("applied after redaction", func(t *testing.T) {
		c := newCoordinator(t, &fakeExtractor{}, Config{})
		c.SetRefiner(&fakeRefiner{})
		c.Enqueue([]extraction.Source{source("a.txt", "mail jane@example.org")})

		_, err := c.ProcessAll(context.Background())
		require.NoError(t, err)

		assert.Equal(t, "MAIL [EMAIL]", c.Archive()[0].RedactedText)
	})

	t.Run("failure aborts only the job", func(t *testing.T) {
		c := newCoordinator(t, &fakeExtractor{}, Config{})
		sink := &recordingSink{}
		c.SetEventSink(sink)
		c.SetRefiner(&fakeRefiner{err: errors.New("model not loaded")})

		var failed []jobs.FileJob
		c.OnFailure(func(job jobs.FileJob, err error) {
			failed = append(failed, job)
		})
		c.Enqueue([]extraction.Source{source("a.txt", "mail jane@example.org")})

		result, err := c.ProcessAll(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, result.Failed)
		assert.Empty(t, c.Archive())
		assert.Empty(t, c.Pending())
		assert.Equal(t, 1, sink.count(EventJobFailed))
		require.Len(t, failed, 1)
		assert.Equal(t, jobs.StatusError, failed[0].Status)
		assert.Contains(t, failed[0].ErrorMessage, "model not loaded")
	})
}

func TestArchiveAccess(t *testing.T) {
	c := newCoordinator(t, &fakeExtractor{}, Config{})
	result := c.Enqueue([]extraction.Source{source("a.txt", "a")})
	_, err := c.ProcessAll(context.Background())
	require.NoError(t, err)

	job, err := c.ArchivedJob(result.Jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", job.Name)

	_, err = c.ArchivedJob("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.Equal(t, 1, c.ClearArchive())
	assert.Empty(t, c.Archive())
}
