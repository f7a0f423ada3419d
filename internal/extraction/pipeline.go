package extraction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config selects the external engines used by the default adapters
type Config struct {
	PDFEngine   string // ledongthuc or pdfcpu
	OCRLanguage string
}

// Stats tracks extraction activity since the pipeline was created
type Stats struct {
	StartTime   time.Time      `json:"startTime"`
	Extracted   int64          `json:"extracted"`
	Failed      int64          `json:"failed"`
	BytesIn     int64          `json:"bytesIn"`
	CharsOut    int64          `json:"charsOut"`
	ByKind      map[Kind]int64 `json:"byKind"`
	LastFailure string         `json:"lastFailure,omitempty"`
}

// Pipeline routes each source to the adapter for its kind
type Pipeline struct {
	adapters map[Kind]Adapter
	logger   *zap.Logger

	mu    sync.RWMutex
	stats Stats
}

// NewPipeline creates a pipeline over the given adapters
func NewPipeline(logger *zap.Logger, adapters ...Adapter) *Pipeline {
	p := &Pipeline{
		adapters: make(map[Kind]Adapter, len(adapters)),
		logger:   logger,
		stats: Stats{
			StartTime: time.Now(),
			ByKind:    make(map[Kind]int64),
		},
	}
	for _, a := range adapters {
		p.adapters[a.Kind()] = a
	}
	return p
}

// NewDefaultPipeline wires the text, tabular, PDF and image adapters
func NewDefaultPipeline(cfg Config, logger *zap.Logger) (*Pipeline, error) {
	parser, err := NewPDFParser(cfg.PDFEngine)
	if err != nil {
		return nil, err
	}

	language := cfg.OCRLanguage
	if language == "" {
		language = "eng"
	}

	return NewPipeline(logger,
		NewTextAdapter(),
		NewTabularAdapter(),
		NewPDFAdapter(parser),
		NewImageAdapter(NewTesseractEngine(), language, logger),
	), nil
}

// Extract converts src into raw text. Progress is clamped to 0..100 and never
// decreases within one call.
func (p *Pipeline) Extract(ctx context.Context, src Source, progress ProgressFunc) (string, error) {
	kind := DetectKind(src.Name, src.MIME)

	adapter, ok := p.adapters[kind]
	if !ok {
		return "", p.fail(src, kind, ErrNoAdapter)
	}

	start := time.Now()
	text, err := adapter.Extract(ctx, src, Monotonic(progress))
	if err != nil {
		return "", p.fail(src, kind, err)
	}

	p.mu.Lock()
	p.stats.Extracted++
	p.stats.BytesIn += int64(len(src.Content))
	p.stats.CharsOut += int64(len(text))
	p.stats.ByKind[kind]++
	p.mu.Unlock()

	p.logger.Info("Text extracted",
		zap.String("file", src.Name),
		zap.String("kind", string(kind)),
		zap.Int("bytes", len(src.Content)),
		zap.Int("chars", len(text)),
		zap.Duration("duration", time.Since(start)),
	)

	return text, nil
}

func (p *Pipeline) fail(src Source, kind Kind, err error) error {
	var extractionErr *ExtractionError
	if !errors.As(err, &extractionErr) {
		extractionErr = &ExtractionError{Kind: kind, Name: src.Name, Err: err}
	}

	p.mu.Lock()
	p.stats.Failed++
	p.stats.LastFailure = extractionErr.Error()
	p.mu.Unlock()

	p.logger.Warn("Extraction failed",
		zap.String("file", src.Name),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)

	return extractionErr
}

// GetStats returns a copy of the current statistics
func (p *Pipeline) GetStats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := p.stats
	stats.ByKind = make(map[Kind]int64, len(p.stats.ByKind))
	for k, v := range p.stats.ByKind {
		stats.ByKind[k] = v
	}
	return stats
}

// Monotonic wraps progress so reported values stay within 0..100 and never
// go backwards. A nil sink is allowed.
func Monotonic(progress ProgressFunc) ProgressFunc {
	last := -1
	return func(percent int) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		if percent <= last {
			return
		}
		last = percent
		if progress != nil {
			progress(percent)
		}
	}
}

// Stage is one step of an adapter. The checkpoint is reported before Run.
type Stage struct {
	Name       string
	Checkpoint int
	Run        func(ctx context.Context) error
}

// RunStages executes stages in order and stops at the first failure or
// when ctx is done
func RunStages(ctx context.Context, progress ProgressFunc, stages ...Stage) error {
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", stage.Name, err)
		}

		if stage.Checkpoint > 0 && progress != nil {
			progress(stage.Checkpoint)
		}

		if stage.Run == nil {
			continue
		}
		if err := stage.Run(ctx); err != nil {
			return fmt.Errorf("%s: %w", stage.Name, err)
		}
	}
	return nil
}
