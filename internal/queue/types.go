package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raaihank/phi-deid/internal/jobs"
	"github.com/raaihank/phi-deid/internal/privacy"
)

// Event types published to the EventSink
const (
	EventJobEnqueued    = "job_enqueued"
	EventBatchSkipped   = "batch_skipped"
	EventJobProgress    = "job_progress"
	EventJobCompleted   = "job_completed"
	EventJobFailed      = "job_failed"
	EventBatchCompleted = "batch_completed"
)

// EventSink receives job lifecycle events
type EventSink interface {
	Publish(eventType string, jobID string, data interface{})
}

// SettingsSaver persists redaction settings
type SettingsSaver interface {
	Save(ctx context.Context, cfg privacy.RedactionConfig) error
}

// Refiner post-processes redacted text with a generation model
type Refiner interface {
	Refine(ctx context.Context, text string, cfg privacy.RedactionConfig) (string, error)
}

// FailureHook is called after a job ends in error
type FailureHook func(job jobs.FileJob, err error)

var (
	// ErrBusy is returned when a drain is already running
	ErrBusy = errors.New("queue is already processing")
	// ErrNoPendingJobs is returned by ProcessNext when nothing is queued
	ErrNoPendingJobs = errors.New("no pending jobs")
	// ErrJobNotFound is returned for unknown archive ids
	ErrJobNotFound = errors.New("job not found")
	// ErrJobPanicked wraps a panic recovered while processing a job
	ErrJobPanicked = errors.New("job processing panicked")
)

// SkippedFile is one file rejected at ingestion
type SkippedFile struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// SkipNotice reports the files of a batch that were not accepted
type SkipNotice struct {
	Files []SkippedFile `json:"files"`
}

func (n *SkipNotice) Error() string {
	names := make([]string, 0, len(n.Files))
	for _, f := range n.Files {
		names = append(names, f.Name)
	}
	return fmt.Sprintf("some files were skipped due to unsupported formats: %s", strings.Join(names, ", "))
}

// EnqueueResult lists the jobs created for a batch
type EnqueueResult struct {
	Jobs    []jobs.FileJob `json:"jobs"`
	Skipped *SkipNotice    `json:"skipped,omitempty"`
}

// JobFailure describes a job that ended in error
type JobFailure struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// BatchResult summarizes one drain of the queue
type BatchResult struct {
	Processed int           `json:"processed"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Failures  []JobFailure  `json:"failures,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// JobEvent is the payload of job events
type JobEvent struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Status         jobs.Status `json:"status"`
	Progress       int         `json:"progress"`
	DetectionCount int         `json:"detectionCount,omitempty"`
	Error          string      `json:"error,omitempty"`
}

func jobEvent(job jobs.FileJob) JobEvent {
	return JobEvent{
		ID:             job.ID,
		Name:           job.Name,
		Status:         job.Status,
		Progress:       job.Progress,
		DetectionCount: len(job.Detections),
		Error:          job.ErrorMessage,
	}
}

// Config contains queue configuration
type Config struct {
	AllowedExtensions []string      `yaml:"allowed_extensions" mapstructure:"allowed_extensions"`
	AllowedMIMETypes  []string      `yaml:"allowed_mime_types" mapstructure:"allowed_mime_types"`
	MaxFileSize       int64         `yaml:"max_file_size" mapstructure:"max_file_size"`
	JobTimeout        time.Duration `yaml:"job_timeout" mapstructure:"job_timeout"`
}

// DefaultAllowedExtensions are the file extensions accepted at ingestion
var DefaultAllowedExtensions = []string{"txt", "csv", "xlsx", "xls", "pdf", "jpg", "jpeg", "png"}

// DefaultAllowedMIMETypes are the MIME types accepted at ingestion
var DefaultAllowedMIMETypes = []string{
	"text/plain",
	"text/csv",
	"application/pdf",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-excel",
	"image/jpeg",
	"image/png",
	"image/jpg",
}
