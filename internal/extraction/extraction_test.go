package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type recorder struct {
	values []int
}

func (r *recorder) sink(p int) {
	r.values = append(r.values, p)
}

func TestDetectKind(t *testing.T) {
	tests := []struct {
		name string
		mime string
		want Kind
	}{
		{"notes.txt", "", KindPlainText},
		{"labs.CSV", "", KindTabular},
		{"labs.xlsx", "", KindTabular},
		{"legacy.xls", "", KindTabular},
		{"scan.pdf", "", KindPDF},
		{"photo.JPEG", "", KindImage},
		{"photo.png", "", KindImage},
		{"upload", "application/pdf", KindPDF},
		{"upload", "image/png; charset=binary", KindImage},
		{"upload.bin", "application/octet-stream", KindPlainText},
		{"report.pdf", "text/plain", KindPDF},
	}

	for _, tt := range tests {
		t.Run(tt.name+"_"+tt.mime, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectKind(tt.name, tt.mime))
		})
	}
}

func TestMonotonic(t *testing.T) {
	rec := &recorder{}
	progress := Monotonic(rec.sink)

	for _, p := range []int{-5, 20, 10, 40, 40, 150, 90} {
		progress(p)
	}

	assert.Equal(t, []int{0, 20, 40, 100}, rec.values)

	assert.NotPanics(t, func() { Monotonic(nil)(50) })
}

func TestRunStages(t *testing.T) {
	t.Run("stops at first failure", func(t *testing.T) {
		rec := &recorder{}
		var ran []string
		boom := errors.New("boom")

		err := RunStages(context.Background(), rec.sink,
			Stage{Name: "one", Checkpoint: 10, Run: func(context.Context) error { ran = append(ran, "one"); return nil }},
			Stage{Name: "two", Checkpoint: 20, Run: func(context.Context) error { ran = append(ran, "two"); return boom }},
			Stage{Name: "three", Checkpoint: 30, Run: func(context.Context) error { ran = append(ran, "three"); return nil }},
		)

		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "two")
		assert.Equal(t, []string{"one", "two"}, ran)
		assert.Equal(t, []int{10, 20}, rec.values)
	})

	t.Run("honors cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := RunStages(ctx, nil, Stage{Name: "never", Run: func(context.Context) error {
			t.Fatal("stage should not run")
			return nil
		}})

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestTextAdapter(t *testing.T) {
	rec := &recorder{}
	content := append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello world")...)

	text, err := NewTextAdapter().Extract(context.Background(), Source{Name: "a.txt", Content: content}, rec.sink)

	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
	assert.Equal(t, []int{40, 80}, rec.values)
}

func TestTabularAdapter(t *testing.T) {
	adapter := NewTabularAdapter()

	t.Run("csv", func(t *testing.T) {
		rec := &recorder{}
		src := Source{Name: "a.csv", Content: []byte("name,phone\nJane Roe,555-123-4567\n")}

		text, err := adapter.Extract(context.Background(), src, rec.sink)

		require.NoError(t, err)
		assert.Equal(t, "name,phone\nJane Roe,555-123-4567", text)
		assert.Equal(t, []int{20, 40, 60, 80}, rec.values)
	})

	t.Run("xlsx first sheet", func(t *testing.T) {
		f := excelize.NewFile()
		require.NoError(t, f.SetCellValue("Sheet1", "A1", "patient"))
		require.NoError(t, f.SetCellValue("Sheet1", "B1", "note"))
		require.NoError(t, f.SetCellValue("Sheet1", "A2", "John Doe"))
		require.NoError(t, f.SetCellValue("Sheet1", "B2", "seen, discharged"))
		_, err := f.NewSheet("Other")
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue("Other", "A1", "ignored"))
		buf, err := f.WriteToBuffer()
		require.NoError(t, err)

		text, err := adapter.Extract(context.Background(), Source{Name: "a.xlsx", Content: buf.Bytes()}, nil)

		require.NoError(t, err)
		assert.Equal(t, "patient,note\nJohn Doe,\"seen, discharged\"", text)
	})

	t.Run("corrupt workbook", func(t *testing.T) {
		_, err := adapter.Extract(context.Background(), Source{Name: "a.xlsx", Content: []byte("PK\x03\x04garbage")}, nil)

		assert.Error(t, err)
	})
}

type fakePDF struct {
	pages   []string
	pageErr error
	closed  bool
}

func (f *fakePDF) NumPages() int { return len(f.pages) }

func (f *fakePDF) PageText(n int) (string, error) {
	if f.pageErr != nil && n == len(f.pages) {
		return "", f.pageErr
	}
	return f.pages[n-1], nil
}

func (f *fakePDF) Close() error {
	f.closed = true
	return nil
}

type fakeParser struct {
	doc *fakePDF
	err error
}

func (p fakeParser) Open(context.Context, []byte) (PDFDocument, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.doc, nil
}

func TestPDFAdapter(t *testing.T) {
	t.Run("pages joined in order", func(t *testing.T) {
		rec := &recorder{}
		doc := &fakePDF{pages: []string{"first page", "second page"}}

		text, err := NewPDFAdapter(fakeParser{doc: doc}).Extract(context.Background(), Source{Name: "a.pdf"}, rec.sink)

		require.NoError(t, err)
		assert.Equal(t, "first page\n\nsecond page", text)
		assert.Equal(t, []int{20, 40, 60, 70, 80}, rec.values)
		assert.True(t, doc.closed)
	})

	t.Run("open failure", func(t *testing.T) {
		_, err := NewPDFAdapter(fakeParser{err: errors.New("bad xref")}).Extract(context.Background(), Source{Name: "a.pdf"}, nil)

		assert.ErrorContains(t, err, "bad xref")
	})

	t.Run("page failure", func(t *testing.T) {
		doc := &fakePDF{pages: []string{"one", "two"}, pageErr: errors.New("bad stream")}

		_, err := NewPDFAdapter(fakeParser{doc: doc}).Extract(context.Background(), Source{Name: "a.pdf"}, nil)

		assert.ErrorContains(t, err, "page 2")
		assert.True(t, doc.closed)
	})

	t.Run("corrupt file with real parsers", func(t *testing.T) {
		for _, engine := range []string{"ledongthuc", "pdfcpu"} {
			parser, err := NewPDFParser(engine)
			require.NoError(t, err)

			_, err = NewPDFAdapter(parser).Extract(context.Background(), Source{Name: "a.pdf", Content: []byte("not a pdf")}, nil)
			assert.Error(t, err, engine)
		}
	})

	t.Run("unknown engine", func(t *testing.T) {
		_, err := NewPDFParser("mupdf")
		assert.Error(t, err)
	})
}

func TestTextFromContentStream(t *testing.T) {
	stream := []byte("BT\n/F1 12 Tf\n72 712 Td\n(Patient John) Tj\n0 -14 Td\n[(SSN ) -20 (123\\05545\\0556789)] TJ\nT*\n(next line) '\nET\n")

	assert.Equal(t, "Patient John SSN 123-45-6789 next line", textFromContentStream(stream))
}

type ocrCall struct {
	calls         []string
	recognizeErr  error
	terminateSeen bool
}

type fakeOCR struct {
	log *ocrCall
}

func (f fakeOCR) Acquire(context.Context) (OCRWorker, error) {
	f.log.calls = append(f.log.calls, "acquire")
	return f, nil
}

func (f fakeOCR) LoadLanguage(_ context.Context, lang string) error {
	f.log.calls = append(f.log.calls, "load:"+lang)
	return nil
}

func (f fakeOCR) Initialize(_ context.Context, lang string) error {
	f.log.calls = append(f.log.calls, "init:"+lang)
	return nil
}

func (f fakeOCR) Recognize(context.Context, []byte) (string, error) {
	f.log.calls = append(f.log.calls, "recognize")
	if f.log.recognizeErr != nil {
		return "", f.log.recognizeErr
	}
	return "  MRN 12345  \n", nil
}

func (f fakeOCR) Terminate() error {
	f.log.calls = append(f.log.calls, "terminate")
	f.log.terminateSeen = true
	return nil
}

func TestImageAdapter(t *testing.T) {
	t.Run("protocol order", func(t *testing.T) {
		log := &ocrCall{}
		rec := &recorder{}

		text, err := NewImageAdapter(fakeOCR{log: log}, "eng", zap.NewNop()).Extract(context.Background(), Source{Name: "a.png"}, rec.sink)

		require.NoError(t, err)
		assert.Equal(t, "MRN 12345", text)
		assert.Equal(t, []string{"acquire", "load:eng", "init:eng", "recognize", "terminate"}, log.calls)
		assert.Equal(t, []int{20, 40, 60, 80}, rec.values)
	})

	t.Run("terminate after failed recognition", func(t *testing.T) {
		log := &ocrCall{recognizeErr: errors.New("worker crashed")}

		_, err := NewImageAdapter(fakeOCR{log: log}, "eng", zap.NewNop()).Extract(context.Background(), Source{Name: "a.png"}, nil)

		assert.ErrorContains(t, err, "worker crashed")
		assert.Equal(t, "terminate", log.calls[len(log.calls)-1])
	})
}

func TestPipeline(t *testing.T) {
	doc := &fakePDF{pages: []string{"page"}}
	p := NewPipeline(zap.NewNop(), NewTextAdapter(), NewPDFAdapter(fakeParser{doc: doc}))

	t.Run("routes by kind", func(t *testing.T) {
		text, err := p.Extract(context.Background(), Source{Name: "x.pdf"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "page", text)

		text, err = p.Extract(context.Background(), Source{Name: "x.unknown", Content: []byte("raw")}, nil)
		require.NoError(t, err)
		assert.Equal(t, "raw", text)
	})

	t.Run("missing adapter", func(t *testing.T) {
		_, err := p.Extract(context.Background(), Source{Name: "x.png"}, nil)

		var extractionErr *ExtractionError
		require.ErrorAs(t, err, &extractionErr)
		assert.Equal(t, KindImage, extractionErr.Kind)
		assert.ErrorIs(t, err, ErrNoAdapter)
	})

	t.Run("stats", func(t *testing.T) {
		stats := p.GetStats()
		assert.Equal(t, int64(2), stats.Extracted)
		assert.Equal(t, int64(1), stats.Failed)
		assert.Equal(t, int64(1), stats.ByKind[KindPDF])
	})
}
