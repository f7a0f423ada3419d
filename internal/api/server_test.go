package api

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/raaihank/phi-deid/internal/cache"
	"github.com/raaihank/phi-deid/internal/extraction"
	"github.com/raaihank/phi-deid/internal/generation"
	"github.com/raaihank/phi-deid/internal/jobs"
	"github.com/raaihank/phi-deid/internal/logger"
	"github.com/raaihank/phi-deid/internal/privacy"
	"github.com/raaihank/phi-deid/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, cfg Config, model *generation.Model) *Server {
	t.Helper()
	return newTestServerWith(t, cfg, func(deps *Dependencies) { deps.Model = model })
}

func newTestServerWith(t *testing.T, cfg Config, configure func(*Dependencies)) *Server {
	t.Helper()

	pipeline, err := extraction.NewDefaultPipeline(extraction.Config{}, zap.NewNop())
	require.NoError(t, err)

	redactor := privacy.NewRedactor(privacy.NewRegistry(), logger.Nop())
	coordinator := queue.NewCoordinator(queue.Config{}, pipeline, redactor, zap.NewNop())

	deps := Dependencies{
		Queue:     coordinator,
		Redactor:  redactor,
		ModelPath: "phi-model",
		Version:   "test",
	}
	configure(&deps)

	s := New(cfg, deps, logger.Nop())
	t.Cleanup(func() { s.cancelBase() })
	return s
}

func do(t *testing.T, s *Server, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func upload(t *testing.T, files map[string]string) ([]byte, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, Config{}, nil)

	rec := do(t, s, http.MethodGet, "/health", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestJobLifecycle(t *testing.T) {
	s := newTestServer(t, Config{}, nil)

	body, contentType := upload(t, map[string]string{
		"notes.txt": "SSN 123-45-6789",
		"bundle.zip": "PK",
	})
	rec := do(t, s, http.MethodPost, "/api/jobs", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var enqueued queue.EnqueueResult
	decode(t, rec, &enqueued)
	require.Len(t, enqueued.Jobs, 1)
	require.NotNil(t, enqueued.Skipped)
	assert.Equal(t, "bundle.zip", enqueued.Skipped.Files[0].Name)

	rec = do(t, s, http.MethodGet, "/api/jobs", nil, "")
	var pending []jobs.FileJob
	decode(t, rec, &pending)
	assert.Len(t, pending, 1)

	rec = do(t, s, http.MethodPost, "/api/jobs/process?wait=true", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var batch queue.BatchResult
	decode(t, rec, &batch)
	assert.Equal(t, 1, batch.Completed)

	rec = do(t, s, http.MethodGet, "/api/archive/"+enqueued.Jobs[0].ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job jobs.FileJob
	decode(t, rec, &job)
	assert.Equal(t, "SSN [SSN]", job.RedactedText)
	assert.Equal(t, jobs.StatusCompleted, job.Status)

	rec = do(t, s, http.MethodGet, "/api/archive/"+job.ID+"/export?format=txt", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SSN [SSN]", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "notes_deidentified.txt")

	rec = do(t, s, http.MethodGet, "/api/export?format=csv", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Filename,Original Text,Redacted Text"))

	rec = do(t, s, http.MethodGet, "/api/export?format=xml", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/archive", nil, "")
	assert.Contains(t, rec.Body.String(), `"cleared":1`)

	rec = do(t, s, http.MethodGet, "/api/archive/"+job.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/export", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadWithoutFiles(t *testing.T) {
	s := newTestServer(t, Config{}, nil)

	body, contentType := upload(t, nil)
	rec := do(t, s, http.MethodPost, "/api/jobs", body, contentType)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type blockingExtractor struct {
	release chan struct{}
}

func (b *blockingExtractor) Extract(ctx context.Context, src extraction.Source, _ extraction.ProgressFunc) (string, error) {
	select {
	case <-b.release:
		return string(src.Content), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestProcessAllAsyncConflict(t *testing.T) {
	extractor := &blockingExtractor{release: make(chan struct{})}
	var coordinator *queue.Coordinator
	s := newTestServerWith(t, Config{}, func(deps *Dependencies) {
		coordinator = queue.NewCoordinator(queue.Config{}, extractor, deps.Redactor, zap.NewNop())
		deps.Queue = coordinator
	})
	coordinator.Enqueue([]extraction.Source{{Name: "a.txt", MIME: "text/plain", Content: []byte("a")}})

	rec := do(t, s, http.MethodPost, "/api/jobs/process", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pending":1`)

	rec = do(t, s, http.MethodPost, "/api/jobs/process", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(extractor.release)
	assert.Eventually(t, func() bool { return len(coordinator.Archive()) == 1 && !coordinator.Processing() },
		time.Second, 5*time.Millisecond)
}

func TestProcessNextEmptyQueue(t *testing.T) {
	s := newTestServer(t, Config{}, nil)

	rec := do(t, s, http.MethodPost, "/api/jobs/process-next", nil, "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettingsEndpoints(t *testing.T) {
	s := newTestServer(t, Config{}, nil)

	rec := do(t, s, http.MethodGet, "/api/settings", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redactSSN":true`)

	payload := `{"redactSSN":false,"customPatterns":[{"name":"bad","pattern":"CASE-(\\d+","enabled":true}]}`
	rec = do(t, s, http.MethodPut, "/api/settings", []byte(payload), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redactSSN":false`)
	assert.Contains(t, rec.Body.String(), "bad")

	rec = do(t, s, http.MethodPost, "/api/redact", []byte(`{"text":"ID: 123-45-6789"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"text":"ID: 123-45-6789"`)

	rec = do(t, s, http.MethodPut, "/api/settings", []byte(`{"redactSSN":"yes"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTextEndpoints(t *testing.T) {
	s := newTestServer(t, Config{}, nil)

	rec := do(t, s, http.MethodPost, "/api/detect", []byte(`{"text":"mail jane@example.org"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	var detected struct {
		Detections []privacy.Detection `json:"detections"`
		Stats      privacy.Stats       `json:"stats"`
	}
	decode(t, rec, &detected)
	require.Len(t, detected.Detections, 1)
	assert.Equal(t, "emails", detected.Detections[0].Type)
	assert.Equal(t, 1, detected.Stats.Total)

	rec = do(t, s, http.MethodPost, "/api/redact", []byte(`{"text":"mail jane@example.org"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"text":"mail [EMAIL]"`)

	rec = do(t, s, http.MethodPost, "/api/validate", []byte(`{"original":"mail jane@example.org","redacted":"mail [EMAIL]"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	var report privacy.ValidationReport
	decode(t, rec, &report)
	assert.Equal(t, 100.0, report.SuccessRatePercent)

	rec = do(t, s, http.MethodPost, "/api/detect", []byte(`not json`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModelEndpoints(t *testing.T) {
	t.Run("generation disabled", func(t *testing.T) {
		s := newTestServer(t, Config{}, nil)

		rec := do(t, s, http.MethodGet, "/api/model", nil, "")
		assert.Contains(t, rec.Body.String(), `"state":"not_loaded"`)

		rec = do(t, s, http.MethodPost, "/api/model/load", nil, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("rules backend", func(t *testing.T) {
		backend := generation.NewRuleBackend(func(s string) string { return s })
		s := newTestServer(t, Config{}, generation.NewModel(backend, zap.NewNop()))

		rec := do(t, s, http.MethodPost, "/api/model/load", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var status generation.Status
		decode(t, rec, &status)
		assert.Equal(t, generation.StateReady, status.State)
		assert.Equal(t, "phi-model", status.ModelPath)
	})
}

func TestCacheEndpoints(t *testing.T) {
	s := newTestServer(t, Config{}, nil)
	rec := do(t, s, http.MethodGet, "/api/cache", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s = newTestServerWith(t, Config{}, func(deps *Dependencies) {
		deps.Cache = cache.NewMemoryCache(cache.Config{})
	})

	rec = do(t, s, http.MethodGet, "/api/cache", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"backend":"memory"`)

	rec = do(t, s, http.MethodDelete, "/api/cache", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Config{RateLimit: RateLimitConfig{Enabled: true, RequestsPerMin: 1, Burst: 1}}, nil)

	body, contentType := upload(t, map[string]string{"a.txt": "a"})
	rec := do(t, s, http.MethodPost, "/api/jobs", body, contentType)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/jobs", body, contentType)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestStopCancelsBackgroundWork(t *testing.T) {
	s := newTestServer(t, Config{}, nil)

	require.NoError(t, s.Stop(context.Background()))
	assert.Error(t, s.baseCtx.Err())
}
