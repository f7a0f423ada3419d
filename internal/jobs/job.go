package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/raaihank/phi-deid/internal/extraction"
	"github.com/raaihank/phi-deid/internal/privacy"
)

// Status is the lifecycle state of a FileJob
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// IsTerminal reports whether no further transition is allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ErrInvalidTransition is returned for transitions the lifecycle forbids
var ErrInvalidTransition = errors.New("invalid job transition")

// FileJob tracks one submitted file through extraction and redaction.
// It is not safe for concurrent use; the queue serializes access.
type FileJob struct {
	ID            string                    `json:"id"`
	Name          string                    `json:"name"`
	SizeBytes     int64                     `json:"size"`
	MIME          string                    `json:"type"`
	Status        Status                    `json:"status"`
	Progress      int                       `json:"progress"`
	ExtractedText string                    `json:"originalText,omitempty"`
	RedactedText  string                    `json:"result,omitempty"`
	Detections    []privacy.Detection       `json:"phiDetected,omitempty"`
	Report        *privacy.ValidationReport `json:"validation,omitempty"`
	Warnings      []string                  `json:"warnings,omitempty"`
	ErrorMessage  string                    `json:"error,omitempty"`
	CreatedAt     time.Time                 `json:"timestamp"`
	StartedAt     *time.Time                `json:"startedAt,omitempty"`
	FinishedAt    *time.Time                `json:"finishedAt,omitempty"`

	source extraction.Source
}

// New creates a pending job for src
func New(src extraction.Source) *FileJob {
	size := src.Size
	if size == 0 {
		size = int64(len(src.Content))
	}

	return &FileJob{
		ID:        uuid.NewString(),
		Name:      src.Name,
		SizeBytes: size,
		MIME:      src.MIME,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		source:    src,
	}
}

// Source returns the submitted file
func (j *FileJob) Source() extraction.Source {
	return j.source
}

// Start moves a pending job to processing and resets progress
func (j *FileJob) Start() error {
	if j.Status != StatusPending {
		return j.transitionError(StatusProcessing)
	}

	now := time.Now().UTC()
	j.Status = StatusProcessing
	j.Progress = 0
	j.StartedAt = &now
	return nil
}

// SetProgress records progress while processing. Lower values are ignored.
func (j *FileJob) SetProgress(percent int) error {
	if j.Status != StatusProcessing {
		return fmt.Errorf("%w: progress update in state %s", ErrInvalidTransition, j.Status)
	}

	if percent > 100 {
		percent = 100
	}
	if percent > j.Progress {
		j.Progress = percent
	}
	return nil
}

// Complete finishes a processing job with its results
func (j *FileJob) Complete(extracted, redacted string, detections []privacy.Detection, report privacy.ValidationReport) error {
	if j.Status != StatusProcessing {
		return j.transitionError(StatusCompleted)
	}

	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.Progress = 100
	j.ExtractedText = extracted
	j.RedactedText = redacted
	j.Detections = detections
	j.Report = &report
	j.FinishedAt = &now
	j.source.Content = nil
	return nil
}

// Fail finishes a processing job with an error. Progress is kept.
func (j *FileJob) Fail(cause error) error {
	if j.Status != StatusProcessing {
		return j.transitionError(StatusError)
	}

	now := time.Now().UTC()
	j.Status = StatusError
	j.ErrorMessage = cause.Error()
	j.FinishedAt = &now
	j.source.Content = nil
	return nil
}

// Snapshot returns a copy that does not share the detection slice
func (j *FileJob) Snapshot() FileJob {
	out := *j
	if j.Detections != nil {
		out.Detections = append([]privacy.Detection(nil), j.Detections...)
	}
	if j.Warnings != nil {
		out.Warnings = append([]string(nil), j.Warnings...)
	}
	out.source = extraction.Source{Name: j.source.Name, Size: j.source.Size, MIME: j.source.MIME}
	return out
}

func (j *FileJob) transitionError(to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
}
