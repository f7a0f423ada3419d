//go:build !tesseract
// +build !tesseract

package extraction

import "context"

// Stub engine used when the 'tesseract' build tag is not set.
func NewTesseractEngine() OCREngine {
	return unavailableEngine{}
}

type unavailableEngine struct{}

func (unavailableEngine) Acquire(context.Context) (OCRWorker, error) {
	return nil, ErrOCRUnavailable
}
