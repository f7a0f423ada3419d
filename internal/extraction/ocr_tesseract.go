//go:build tesseract
// +build tesseract

package extraction

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine creates gosseract clients. Requires build tag 'tesseract'
// and the tesseract development libraries.
type TesseractEngine struct{}

// NewTesseractEngine returns the tesseract OCR engine
func NewTesseractEngine() OCREngine {
	return TesseractEngine{}
}

// Acquire implements OCREngine
func (TesseractEngine) Acquire(ctx context.Context) (OCRWorker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tesseractWorker{client: gosseract.NewClient()}, nil
}

type tesseractWorker struct {
	client *gosseract.Client
}

func (w *tesseractWorker) LoadLanguage(_ context.Context, language string) error {
	if err := w.client.SetLanguage(language); err != nil {
		return fmt.Errorf("load language %s: %w", language, err)
	}
	return nil
}

func (w *tesseractWorker) Initialize(context.Context, string) error {
	return w.client.SetPageSegMode(gosseract.PSM_AUTO)
}

func (w *tesseractWorker) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := w.client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	return w.client.Text()
}

func (w *tesseractWorker) Terminate() error {
	return w.client.Close()
}
