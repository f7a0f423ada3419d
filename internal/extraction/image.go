package extraction

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// OCREngine hands out OCR workers
type OCREngine interface {
	Acquire(ctx context.Context) (OCRWorker, error)
}

// OCRWorker follows a load, initialize, recognize, terminate protocol
type OCRWorker interface {
	LoadLanguage(ctx context.Context, language string) error
	Initialize(ctx context.Context, language string) error
	Recognize(ctx context.Context, image []byte) (string, error)
	Terminate() error
}

// ImageAdapter runs OCR over raster images
type ImageAdapter struct {
	engine   OCREngine
	language string
	logger   *zap.Logger
}

// NewImageAdapter creates an image adapter
func NewImageAdapter(engine OCREngine, language string, logger *zap.Logger) *ImageAdapter {
	return &ImageAdapter{
		engine:   engine,
		language: language,
		logger:   logger,
	}
}

// Kind implements Adapter
func (a *ImageAdapter) Kind() Kind {
	return KindImage
}

// Extract implements Adapter. The worker is terminated only after
// recognition has finished or failed.
func (a *ImageAdapter) Extract(ctx context.Context, src Source, progress ProgressFunc) (string, error) {
	var (
		worker OCRWorker
		text   string
	)
	defer func() {
		if worker == nil {
			return
		}
		if err := worker.Terminate(); err != nil {
			a.logger.Warn("OCR worker terminate failed", zap.String("file", src.Name), zap.Error(err))
		}
	}()

	err := RunStages(ctx, progress,
		Stage{Name: "acquire ocr worker", Checkpoint: 20, Run: func(ctx context.Context) error {
			var err error
			worker, err = a.engine.Acquire(ctx)
			return err
		}},
		Stage{Name: "load language", Checkpoint: 40, Run: func(ctx context.Context) error {
			return worker.LoadLanguage(ctx, a.language)
		}},
		Stage{Name: "initialize ocr", Run: func(ctx context.Context) error {
			return worker.Initialize(ctx, a.language)
		}},
		Stage{Name: "recognize", Checkpoint: 60, Run: func(ctx context.Context) error {
			var err error
			text, err = worker.Recognize(ctx, src.Content)
			return err
		}},
		Stage{Name: "recognized", Checkpoint: 80},
	)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(text), nil
}
