package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/raaihank/phi-deid/internal/extraction"
	"github.com/raaihank/phi-deid/internal/jobs"
	"github.com/raaihank/phi-deid/internal/privacy"
	"go.uber.org/zap"
)

// Progress reported once text has been extracted and redaction starts
const redactionProgress = 80

// Coordinator owns the pending queue and the archive and drains the queue
// one job at a time
type Coordinator struct {
	extractor extraction.Extractor
	redactor  *privacy.Redactor
	logger    *zap.Logger

	mu         sync.Mutex
	limits     limits
	pending    []*jobs.FileJob
	archive    []*jobs.FileJob
	processing bool
	settings   privacy.RedactionConfig

	refiner   Refiner
	sink      EventSink
	store     SettingsSaver
	onFailure FailureHook
}

// NewCoordinator creates a coordinator with the redactor's current settings
func NewCoordinator(cfg Config, extractor extraction.Extractor, redactor *privacy.Redactor, logger *zap.Logger) *Coordinator {
	c := &Coordinator{
		extractor: extractor,
		redactor:  redactor,
		logger:    logger.With(zap.String("component", "queue")),
		limits:    newLimits(cfg),
		settings:  redactor.Config(),
	}

	c.logger.Info("Queue coordinator initialized",
		zap.Int("allowed_extensions", len(c.limits.extensions)),
		zap.Int("allowed_mime_types", len(c.limits.mimeTypes)),
		zap.Int64("max_file_size", c.limits.maxSize),
		zap.Duration("job_timeout", c.limits.jobTimeout),
	)

	return c
}

// limits are the ingestion and execution bounds taken from Config
type limits struct {
	extensions map[string]bool
	mimeTypes  map[string]bool
	maxSize    int64
	jobTimeout time.Duration
}

func newLimits(cfg Config) limits {
	extensions := cfg.AllowedExtensions
	if len(extensions) == 0 {
		extensions = DefaultAllowedExtensions
	}
	mimeTypes := cfg.AllowedMIMETypes
	if len(mimeTypes) == 0 {
		mimeTypes = DefaultAllowedMIMETypes
	}
	return limits{
		extensions: toSet(extensions),
		mimeTypes:  toSet(mimeTypes),
		maxSize:    cfg.MaxFileSize,
		jobTimeout: cfg.JobTimeout,
	}
}

// Reconfigure replaces the allow-list, size limit and job timeout. A job
// already running keeps the timeout it started with.
func (c *Coordinator) Reconfigure(cfg Config) {
	l := newLimits(cfg)

	c.mu.Lock()
	c.limits = l
	c.mu.Unlock()

	c.logger.Info("Queue limits updated",
		zap.Int64("max_file_size", l.maxSize),
		zap.Duration("job_timeout", l.jobTimeout),
	)
}

func (c *Coordinator) currentLimits() limits {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limits
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimPrefix(v, "."))] = true
	}
	return set
}

// SetRefiner enables generation refinement after rule based redaction
func (c *Coordinator) SetRefiner(r Refiner) {
	c.mu.Lock()
	c.refiner = r
	c.mu.Unlock()
}

// SetEventSink sets the receiver of job events
func (c *Coordinator) SetEventSink(sink EventSink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// SetSettingsStore sets where UpdateSettings persists
func (c *Coordinator) SetSettingsStore(store SettingsSaver) {
	c.mu.Lock()
	c.store = store
	c.mu.Unlock()
}

// OnFailure registers a hook called for each failed job
func (c *Coordinator) OnFailure(hook FailureHook) {
	c.mu.Lock()
	c.onFailure = hook
	c.mu.Unlock()
}

// Accepts reports whether a file passes the ingestion allow-list
func (c *Coordinator) Accepts(name, mime string) bool {
	return c.currentLimits().accepts(name, mime)
}

func (l limits) accepts(name, mime string) bool {
	if l.extensions[extraction.Extension(name)] {
		return true
	}
	mime = strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	return l.mimeTypes[mime]
}

// Enqueue appends accepted files to the pending queue. Files rejected by the
// allow-list or size limit are reported in one batch level notice.
func (c *Coordinator) Enqueue(sources []extraction.Source) EnqueueResult {
	var (
		result  EnqueueResult
		skipped []SkippedFile
		created []*jobs.FileJob
	)

	l := c.currentLimits()
	for _, src := range sources {
		if !l.accepts(src.Name, src.MIME) {
			skipped = append(skipped, SkippedFile{Name: src.Name, Reason: "unsupported file type"})
			continue
		}
		size := src.Size
		if size == 0 {
			size = int64(len(src.Content))
		}
		if l.maxSize > 0 && size > l.maxSize {
			skipped = append(skipped, SkippedFile{Name: src.Name, Reason: fmt.Sprintf("file exceeds %d bytes", l.maxSize)})
			continue
		}
		created = append(created, jobs.New(src))
	}

	c.mu.Lock()
	c.pending = append(c.pending, created...)
	for _, job := range created {
		result.Jobs = append(result.Jobs, job.Snapshot())
	}
	c.mu.Unlock()

	for _, job := range result.Jobs {
		c.publish(EventJobEnqueued, job.ID, jobEvent(job))
	}

	if len(skipped) > 0 {
		result.Skipped = &SkipNotice{Files: skipped}
		c.publish(EventBatchSkipped, "", result.Skipped)
		c.logger.Warn("Files skipped at ingestion", zap.Int("skipped", len(skipped)))
	}

	c.logger.Info("Files enqueued",
		zap.Int("accepted", len(result.Jobs)),
		zap.Int("skipped", len(skipped)),
	)

	return result
}

// ProcessAll drains the pending queue in FIFO order. Failed jobs are removed
// from the queue without being archived; the batch always continues.
func (c *Coordinator) ProcessAll(ctx context.Context) (BatchResult, error) {
	if !c.begin() {
		return BatchResult{}, ErrBusy
	}
	defer c.end()
	return c.drain(ctx)
}

// StartProcessAll claims the queue and drains it in the background. It
// returns ErrBusy without starting anything when a drain is already running.
// done, if not nil, receives the outcome of the drain.
func (c *Coordinator) StartProcessAll(ctx context.Context, done func(BatchResult, error)) error {
	if !c.begin() {
		return ErrBusy
	}

	go func() {
		defer c.end()
		result, err := c.drain(ctx)
		if done != nil {
			done(result, err)
		}
	}()
	return nil
}

func (c *Coordinator) drain(ctx context.Context) (BatchResult, error) {
	start := time.Now()
	var result BatchResult

	for {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}

		job, cfg, ok := c.next()
		if !ok {
			break
		}
		c.run(ctx, job, cfg, &result)
	}

	result.Duration = time.Since(start)
	c.publish(EventBatchCompleted, "", result)
	c.logger.Info("Batch completed",
		zap.Int("processed", result.Processed),
		zap.Int("completed", result.Completed),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}

// ProcessNext processes only the job at the head of the queue
func (c *Coordinator) ProcessNext(ctx context.Context) (jobs.FileJob, error) {
	if !c.begin() {
		return jobs.FileJob{}, ErrBusy
	}
	defer c.end()

	job, cfg, ok := c.next()
	if !ok {
		return jobs.FileJob{}, ErrNoPendingJobs
	}

	var result BatchResult
	return c.run(ctx, job, cfg, &result), nil
}

// Processing reports whether a drain is running
func (c *Coordinator) Processing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

func (c *Coordinator) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing {
		return false
	}
	c.processing = true
	return true
}

func (c *Coordinator) end() {
	c.mu.Lock()
	c.processing = false
	c.mu.Unlock()
}

// next starts the first pending job and returns it with the settings
// snapshot it runs under
func (c *Coordinator) next() (*jobs.FileJob, privacy.RedactionConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, job := range c.pending {
		if job.Status != jobs.StatusPending {
			continue
		}
		if err := job.Start(); err != nil {
			continue
		}
		return job, c.settings.Clone(), true
	}
	return nil, privacy.RedactionConfig{}, false
}

type outcome struct {
	extracted  string
	redacted   string
	detections []privacy.Detection
	report     privacy.ValidationReport
	warnings   []string
}

// run executes one job and moves it out of the pending queue
func (c *Coordinator) run(ctx context.Context, job *jobs.FileJob, cfg privacy.RedactionConfig, result *BatchResult) jobs.FileJob {
	log := c.logger.With(zap.String("job_id", job.ID), zap.String("file", job.Name))
	log.Info("Processing job")

	jobCtx := ctx
	if timeout := c.currentLimits().jobTimeout; timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := c.execute(jobCtx, job, cfg)

	c.mu.Lock()
	if err != nil {
		_ = job.Fail(err)
	} else {
		job.Warnings = out.warnings
		_ = job.Complete(out.extracted, out.redacted, out.detections, out.report)
		c.archive = append(c.archive, job)
	}
	c.removePendingLocked(job.ID)
	snapshot := job.Snapshot()
	hook := c.onFailure
	c.mu.Unlock()

	result.Processed++
	if err != nil {
		result.Failed++
		result.Failures = append(result.Failures, JobFailure{ID: snapshot.ID, Name: snapshot.Name, Error: snapshot.ErrorMessage})

		log.Error("Job failed", zap.Error(err))
		c.publish(EventJobFailed, snapshot.ID, jobEvent(snapshot))
		if hook != nil {
			hook(snapshot, err)
		}
		return snapshot
	}

	result.Completed++
	log.Info("Job completed",
		zap.Int("detections", len(snapshot.Detections)),
		zap.Float64("success_rate", snapshot.Report.SuccessRatePercent),
	)
	c.publish(EventJobCompleted, snapshot.ID, jobEvent(snapshot))
	return snapshot
}

// execute extracts, detects and redacts. A panic fails only this job.
func (c *Coordinator) execute(ctx context.Context, job *jobs.FileJob, cfg privacy.RedactionConfig) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()

	text, err := c.extractor.Extract(ctx, job.Source(), func(percent int) {
		c.progress(job, percent)
	})
	if err != nil {
		return out, err
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	c.progress(job, redactionProgress)

	result := c.redactor.Deidentify(text, cfg)
	for _, w := range result.Warnings {
		out.warnings = append(out.warnings, w.Error())
	}
	out.extracted = text
	out.detections = c.redactor.Detect(text)
	out.redacted = result.Text

	c.mu.Lock()
	refiner := c.refiner
	c.mu.Unlock()

	if refiner != nil {
		refined, err := refiner.Refine(ctx, out.redacted, cfg)
		if err != nil {
			return out, fmt.Errorf("refinement failed: %w", err)
		}
		out.redacted = refined
	}

	out.report = c.redactor.ValidateRedaction(text, out.redacted)
	return out, nil
}

func (c *Coordinator) progress(job *jobs.FileJob, percent int) {
	c.mu.Lock()
	before := job.Progress
	if err := job.SetProgress(percent); err != nil {
		c.mu.Unlock()
		return
	}
	snapshot := job.Snapshot()
	c.mu.Unlock()

	if snapshot.Progress != before {
		c.publish(EventJobProgress, snapshot.ID, jobEvent(snapshot))
	}
}

func (c *Coordinator) removePendingLocked(id string) {
	for i, job := range c.pending {
		if job.ID == id {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) publish(eventType, jobID string, data interface{}) {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()

	if sink != nil {
		sink.Publish(eventType, jobID, data)
	}
}

// Pending returns copies of the queued jobs in order
func (c *Coordinator) Pending() []jobs.FileJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshots(c.pending)
}

// Archive returns copies of the completed jobs in completion order
func (c *Coordinator) Archive() []jobs.FileJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshots(c.archive)
}

// ArchivedJob returns a copy of one archived job
func (c *Coordinator) ArchivedJob(id string) (jobs.FileJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, job := range c.archive {
		if job.ID == id {
			return job.Snapshot(), nil
		}
	}
	return jobs.FileJob{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

// ClearArchive drops every archived job and returns how many were removed
func (c *Coordinator) ClearArchive() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.archive)
	c.archive = nil
	c.logger.Info("Archive cleared", zap.Int("jobs", n))
	return n
}

func snapshots(list []*jobs.FileJob) []jobs.FileJob {
	out := make([]jobs.FileJob, 0, len(list))
	for _, job := range list {
		out = append(out, job.Snapshot())
	}
	return out
}

// Settings returns a copy of the current redaction settings
func (c *Coordinator) Settings() privacy.RedactionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.Clone()
}

// UpdateSettings replaces the redaction settings for jobs started afterwards
// and persists them when a store is set
func (c *Coordinator) UpdateSettings(ctx context.Context, cfg privacy.RedactionConfig) error {
	cfg = cfg.Clone()

	c.mu.Lock()
	c.settings = cfg
	store := c.store
	c.mu.Unlock()

	c.redactor.Configure(cfg)

	if store != nil {
		if err := store.Save(ctx, cfg); err != nil {
			return fmt.Errorf("failed to persist settings: %w", err)
		}
	}
	return nil
}
