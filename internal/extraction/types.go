package extraction

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Kind is the extraction strategy selected for a file
type Kind string

const (
	KindPlainText Kind = "plainText"
	KindTabular   Kind = "delimitedOrSpreadsheet"
	KindPDF       Kind = "pdfDocument"
	KindImage     Kind = "rasterImage"
)

var extensionKinds = map[string]Kind{
	"txt":  KindPlainText,
	"csv":  KindTabular,
	"xlsx": KindTabular,
	"xls":  KindTabular,
	"pdf":  KindPDF,
	"jpg":  KindImage,
	"jpeg": KindImage,
	"png":  KindImage,
}

var mimeKinds = map[string]Kind{
	"text/plain":      KindPlainText,
	"text/csv":        KindTabular,
	"application/pdf": KindPDF,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": KindTabular,
	"application/vnd.ms-excel":                                          KindTabular,
	"image/jpeg":                                                        KindImage,
	"image/jpg":                                                         KindImage,
	"image/png":                                                         KindImage,
}

// Extension returns the lower-cased extension of name without the dot
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// DetectKind selects a kind by extension, then by MIME type, falling back
// to plain text
func DetectKind(name, mime string) Kind {
	if kind, ok := extensionKinds[Extension(name)]; ok {
		return kind
	}

	mime = strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	if kind, ok := mimeKinds[mime]; ok {
		return kind
	}

	return KindPlainText
}

// Source is a file submitted for extraction
type Source struct {
	Name    string
	Size    int64
	MIME    string
	Content []byte
}

// ProgressFunc receives progress percentages between 0 and 100
type ProgressFunc func(percent int)

// Adapter converts one kind of file into raw text
type Adapter interface {
	Kind() Kind
	Extract(ctx context.Context, src Source, progress ProgressFunc) (string, error)
}

// Extractor is the capability the queue depends on
type Extractor interface {
	Extract(ctx context.Context, src Source, progress ProgressFunc) (string, error)
}

var (
	// ErrNoAdapter is returned when no adapter is registered for a kind
	ErrNoAdapter = errors.New("no adapter registered")
	// ErrOCRUnavailable is returned when the binary was built without OCR support
	ErrOCRUnavailable = errors.New("OCR support not compiled in (build with -tags tesseract)")
	// ErrEmptyWorkbook is returned when a workbook has no sheets
	ErrEmptyWorkbook = errors.New("workbook has no sheets")
)

// ExtractionError wraps an adapter failure with the file it concerns
type ExtractionError struct {
	Kind Kind
	Name string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s (%s): %v", e.Name, e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
