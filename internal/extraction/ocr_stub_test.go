//go:build !tesseract
// +build !tesseract

package extraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestImageAdapterWithoutTesseract(t *testing.T) {
	adapter := NewImageAdapter(NewTesseractEngine(), "eng", zap.NewNop())

	_, err := adapter.Extract(context.Background(), Source{Name: "scan.png"}, nil)

	assert.ErrorIs(t, err, ErrOCRUnavailable)
}
