package extraction

import (
	"bytes"
	"context"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TextAdapter reads the content as UTF-8 text
type TextAdapter struct{}

// NewTextAdapter creates a plain text adapter
func NewTextAdapter() *TextAdapter {
	return &TextAdapter{}
}

// Kind implements Adapter
func (a *TextAdapter) Kind() Kind {
	return KindPlainText
}

// Extract implements Adapter
func (a *TextAdapter) Extract(ctx context.Context, src Source, progress ProgressFunc) (string, error) {
	var text string

	err := RunStages(ctx, progress,
		Stage{Name: "read text", Checkpoint: 40, Run: func(context.Context) error {
			text = decodeText(src.Content)
			return nil
		}},
		Stage{Name: "text ready", Checkpoint: 80},
	)
	if err != nil {
		return "", err
	}

	return text, nil
}

// decodeText strips a UTF-8 byte order mark and replaces invalid sequences
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	return strings.ToValidUTF8(string(data), "�")
}
