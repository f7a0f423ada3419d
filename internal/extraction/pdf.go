package extraction

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser opens PDF documents
type PDFParser interface {
	Open(ctx context.Context, data []byte) (PDFDocument, error)
}

// PDFDocument exposes page text by 1-based page number
type PDFDocument interface {
	NumPages() int
	PageText(page int) (string, error)
	Close() error
}

// NewPDFParser returns the parser registered under name
func NewPDFParser(name string) (PDFParser, error) {
	switch name {
	case "", "ledongthuc":
		return LedongthucParser{}, nil
	case "pdfcpu":
		return PdfcpuParser{}, nil
	default:
		return nil, fmt.Errorf("unknown pdf engine: %s", name)
	}
}

// PDFAdapter extracts text page by page
type PDFAdapter struct {
	parser PDFParser
}

// NewPDFAdapter creates a PDF adapter over parser
func NewPDFAdapter(parser PDFParser) *PDFAdapter {
	return &PDFAdapter{parser: parser}
}

// Kind implements Adapter
func (a *PDFAdapter) Kind() Kind {
	return KindPDF
}

// Extract implements Adapter. Pages are read sequentially and joined by a
// blank line while progress moves linearly from 60 to 80.
func (a *PDFAdapter) Extract(ctx context.Context, src Source, progress ProgressFunc) (string, error) {
	var (
		doc   PDFDocument
		pages []string
	)
	defer func() {
		if doc != nil {
			doc.Close()
		}
	}()

	err := RunStages(ctx, progress,
		Stage{Name: "load pdf", Checkpoint: 20},
		Stage{Name: "open pdf", Checkpoint: 40, Run: func(ctx context.Context) error {
			var err error
			doc, err = a.parser.Open(ctx, src.Content)
			return err
		}},
		Stage{Name: "read pages", Checkpoint: 60, Run: func(ctx context.Context) error {
			total := doc.NumPages()
			pages = make([]string, 0, total)
			for i := 1; i <= total; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				text, err := doc.PageText(i)
				if err != nil {
					return fmt.Errorf("page %d: %w", i, err)
				}
				pages = append(pages, text)
				if progress != nil {
					progress(60 + i*20/total)
				}
			}
			return nil
		}},
	)
	if err != nil {
		return "", err
	}

	return strings.Join(pages, "\n\n"), nil
}

// LedongthucParser reads PDFs with github.com/ledongthuc/pdf
type LedongthucParser struct{}

// Open implements PDFParser
func (LedongthucParser) Open(_ context.Context, data []byte) (doc PDFDocument, err error) {
	// the reader panics on some malformed cross reference tables
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("corrupt pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	return &ledongthucDocument{reader: reader}, nil
}

type ledongthucDocument struct {
	reader *pdf.Reader
}

func (d *ledongthucDocument) NumPages() int {
	return d.reader.NumPage()
}

func (d *ledongthucDocument) PageText(n int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("corrupt page: %v", r)
		}
	}()

	page := d.reader.Page(n)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func (d *ledongthucDocument) Close() error {
	return nil
}
