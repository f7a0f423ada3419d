package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/raaihank/phi-deid/internal/export"
	"github.com/raaihank/phi-deid/internal/extraction"
	"github.com/raaihank/phi-deid/internal/generation"
	"github.com/raaihank/phi-deid/internal/privacy"
	"github.com/raaihank/phi-deid/internal/queue"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":       "phi-deid",
		"version":    s.deps.Version,
		"pending":    len(s.deps.Queue.Pending()),
		"archived":   len(s.deps.Queue.Archive()),
		"processing": s.deps.Queue.Processing(),
		"categories": s.deps.Queue.Settings().EnabledCategories(),
	}
	if s.deps.Model != nil {
		info["model_state"] = s.deps.Model.State()
	}
	if s.deps.Hub != nil {
		info["websocket"] = s.deps.Hub.GetStats()
	}
	writeJSON(w, http.StatusOK, info)
}

// handleEnqueue accepts multipart uploads in the "files" field
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	log := s.logger.WithRequestID(getRequestID(r.Context()))

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid upload: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, `no files in form field "files"`)
		return
	}

	sources := make([]extraction.Source, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to open %s: %v", fh.Filename, err))
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read %s: %v", fh.Filename, err))
			return
		}
		sources = append(sources, extraction.Source{
			Name:    fh.Filename,
			Size:    fh.Size,
			MIME:    fh.Header.Get("Content-Type"),
			Content: content,
		})
	}

	result := s.deps.Queue.Enqueue(sources)
	log.Info("Upload enqueued",
		zap.Int("files", len(sources)),
		zap.Int("accepted", len(result.Jobs)),
	)

	writeJSON(w, http.StatusCreated, result)
}

// handlePending lists queued jobs
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Queue.Pending())
}

// handleProcessAll starts a drain. With wait=true the batch result is
// returned once the queue is empty.
func (s *Server) handleProcessAll(w http.ResponseWriter, r *http.Request) {
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		result, err := s.deps.Queue.ProcessAll(r.Context())
		if errors.Is(err, queue.ErrBusy) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	pending := len(s.deps.Queue.Pending())
	err := s.deps.Queue.StartProcessAll(s.baseCtx, func(_ queue.BatchResult, err error) {
		if err != nil {
			s.logger.Warn("Background drain ended early", zap.Error(err))
		}
	})
	if errors.Is(err, queue.ErrBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "processing",
		"pending": pending,
	})
}

// handleProcessNext processes the head of the queue synchronously
func (s *Server) handleProcessNext(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Queue.ProcessNext(r.Context())
	switch {
	case errors.Is(err, queue.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, queue.ErrNoPendingJobs):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, job)
	}
}

// handleArchive lists completed jobs
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Queue.Archive())
}

// handleClearArchive drops every archived job
func (s *Server) handleClearArchive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"cleared": s.deps.Queue.ClearArchive()})
}

// handleArchivedJob returns one archived job
func (s *Server) handleArchivedJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Queue.ArchivedJob(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func exportOptions(r *http.Request) (export.Options, error) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		return export.Options{}, err
	}
	metadata, _ := strconv.ParseBool(r.URL.Query().Get("metadata"))
	return export.Options{Format: format, IncludeMetadata: metadata}, nil
}

func setDownloadHeaders(w http.ResponseWriter, format export.Format, filename string) {
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}

// handleExportJob downloads one archived job
func (s *Server) handleExportJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Queue.ArchivedJob(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	opts, err := exportOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	setDownloadHeaders(w, opts.Format, export.JobFileName(job.Name, opts.Format))
	if err := export.WriteJob(w, job, opts); err != nil {
		s.logger.Error("Job export failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// handleExport downloads the whole archive
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	archive := s.deps.Queue.Archive()
	if len(archive) == 0 {
		writeError(w, http.StatusNotFound, "no processed files to export")
		return
	}

	opts, err := exportOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts.Settings = s.deps.Queue.Settings()

	setDownloadHeaders(w, opts.Format, export.BatchFileName(opts.Format))
	if err := export.Write(w, archive, opts); err != nil {
		s.logger.Error("Archive export failed", zap.Error(err))
	}
}

// handleGetSettings returns the flat settings record
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Queue.Settings())
}

// handlePutSettings replaces the settings record
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	cfg := privacy.DefaultRedactionConfig()
	if err := decodeBody(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var warnings []string
	for _, p := range cfg.CustomPatterns {
		if err := privacy.ValidatePattern(p); err != nil {
			warnings = append(warnings, err.Error())
		}
	}

	if err := s.deps.Queue.UpdateSettings(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"settings": s.deps.Queue.Settings(),
		"warnings": warnings,
	})
}

type textRequest struct {
	Text     string                   `json:"text"`
	Settings *privacy.RedactionConfig `json:"settings,omitempty"`
}

// handleDetect reports PHI found in text
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	detections := s.deps.Redactor.Detect(req.Text)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"detections": detections,
		"stats":      privacy.Summarize(detections),
	})
}

// handleRedact de-identifies text with the current or supplied settings
func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := s.deps.Queue.Settings()
	if req.Settings != nil {
		cfg = *req.Settings
	}

	result := s.deps.Redactor.Deidentify(req.Text, cfg)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"text":       result.Text,
		"warnings":   result.Warnings,
		"validation": s.deps.Redactor.ValidateRedaction(req.Text, result.Text),
	})
}

type validateRequest struct {
	Original string `json:"original"`
	Redacted string `json:"redacted"`
}

// handleValidate re-scans redacted text for remaining PHI
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Redactor.ValidateRedaction(req.Original, req.Redacted))
}

// handleModelStatus reports the generation model state
func (s *Server) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Model == nil {
		writeJSON(w, http.StatusOK, generation.Status{State: generation.StateNotLoaded, Backend: string(generation.BackendNone)})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Model.Status())
}

type loadRequest struct {
	Path string `json:"path"`
}

// handleModelLoad loads the generation model from the configured or given path
func (s *Server) handleModelLoad(w http.ResponseWriter, r *http.Request) {
	if s.deps.Model == nil {
		writeError(w, http.StatusServiceUnavailable, "generation is disabled")
		return
	}

	req := loadRequest{Path: s.deps.ModelPath}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Path == "" {
			req.Path = s.deps.ModelPath
		}
	}

	err := s.deps.Model.Load(r.Context(), req.Path)
	switch {
	case errors.Is(err, generation.ErrModelLoading):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, s.deps.Model.Status())
	}
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Cache.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Cache.Clear(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
