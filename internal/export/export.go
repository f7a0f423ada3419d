package export

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/raaihank/phi-deid/internal/jobs"
	"github.com/raaihank/phi-deid/internal/privacy"
	"github.com/segmentio/parquet-go"
)

// Format is an export representation
type Format string

const (
	FormatText    Format = "txt"
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
)

// ParseFormat maps a format name to a Format, accepting "text" for txt
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "txt", "text":
		return FormatText, nil
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "parquet":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", name)
	}
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/json"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "text/plain"
	}
}

// Options controls an export
type Options struct {
	Format          Format
	IncludeMetadata bool
	Settings        privacy.RedactionConfig
	// Now overrides the export clock
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// BatchFileName is the download name for an export of the whole archive
func BatchFileName(format Format) string {
	return "all_deidentified_results." + string(format)
}

// JobFileName is the download name for a single job export
func JobFileName(name string, format Format) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return base + "_deidentified." + string(format)
}

// Write exports the completed jobs in list
func Write(w io.Writer, list []jobs.FileJob, opts Options) error {
	completed := make([]jobs.FileJob, 0, len(list))
	for _, job := range list {
		if job.Status == jobs.StatusCompleted {
			completed = append(completed, job)
		}
	}

	switch opts.Format {
	case FormatText, "":
		return writeText(w, completed, opts)
	case FormatCSV:
		return writeCSV(w, completed, opts)
	case FormatJSON:
		return writeJSON(w, completed, opts)
	case FormatParquet:
		return writeParquet(w, completed, opts)
	default:
		return fmt.Errorf("unsupported export format: %s", opts.Format)
	}
}

// WriteJob exports a single completed job. The text format holds only the
// redacted text.
func WriteJob(w io.Writer, job jobs.FileJob, opts Options) error {
	if job.Status != jobs.StatusCompleted {
		return fmt.Errorf("job %s is not ready for export (status %s)", job.ID, job.Status)
	}

	switch opts.Format {
	case FormatText, "":
		_, err := io.WriteString(w, job.RedactedText)
		return err
	case FormatCSV:
		var buf bytes.Buffer
		buf.WriteString("Original Text,Redacted Text,PHI Items Found\n")
		buf.WriteString(quote(job.ExtractedText) + "," + quote(job.RedactedText) + "," + strconv.Itoa(len(job.Detections)))
		_, err := w.Write(buf.Bytes())
		return err
	case FormatJSON:
		opts.IncludeMetadata = true
		return encodeJSON(w, result(job, opts))
	case FormatParquet:
		return writeParquet(w, []jobs.FileJob{job}, opts)
	default:
		return fmt.Errorf("unsupported export format: %s", opts.Format)
	}
}

func processingDate(job jobs.FileJob, opts Options) time.Time {
	if job.FinishedAt != nil {
		return job.FinishedAt.UTC()
	}
	return opts.now()
}

func writeText(w io.Writer, list []jobs.FileJob, opts Options) error {
	var buf bytes.Buffer
	for _, job := range list {
		fmt.Fprintf(&buf, "=== %s ===\n", job.Name)
		if opts.IncludeMetadata {
			fmt.Fprintf(&buf, "Processed: %s\n", processingDate(job, opts).Format(time.RFC3339))
			fmt.Fprintf(&buf, "Original size: %d bytes\n", job.SizeBytes)
			fmt.Fprintf(&buf, "PHI items found: %d\n\n", len(job.Detections))
		}
		buf.WriteString(job.RedactedText)
		buf.WriteString("\n\n")
	}
	_, err := w.Write(buf.Bytes())
	return err
}

var quoteEscaper = strings.NewReplacer(`"`, `""`)

func quote(s string) string {
	return `"` + quoteEscaper.Replace(s) + `"`
}

func writeCSV(w io.Writer, list []jobs.FileJob, opts Options) error {
	var buf bytes.Buffer
	buf.WriteString("Filename,Original Text,Redacted Text,PHI Items Found,Processing Date\n")
	for _, job := range list {
		buf.WriteString(strings.Join([]string{
			quote(job.Name),
			quote(job.ExtractedText),
			quote(job.RedactedText),
			strconv.Itoa(len(job.Detections)),
			quote(processingDate(job, opts).Format(time.RFC3339)),
		}, ","))
		buf.WriteByte('\n')
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Document is the structured JSON export
type Document struct {
	ExportTimestamp time.Time               `json:"exportTimestamp"`
	TotalFiles      int                     `json:"totalFiles"`
	Settings        privacy.RedactionConfig `json:"settings"`
	Results         []Result                `json:"results"`
}

// Result is one job in the structured export
type Result struct {
	Filename         string              `json:"filename"`
	OriginalSize     int64               `json:"originalSize"`
	ProcessingDate   time.Time           `json:"processingDate"`
	RedactedText     string              `json:"redactedText"`
	DetectionCount   int                 `json:"detectionCount"`
	OriginalText     *string             `json:"originalText,omitempty"`
	DetectionDetails []privacy.Detection `json:"detectionDetails,omitempty"`
}

func result(job jobs.FileJob, opts Options) Result {
	r := Result{
		Filename:       job.Name,
		OriginalSize:   job.SizeBytes,
		ProcessingDate: processingDate(job, opts),
		RedactedText:   job.RedactedText,
		DetectionCount: len(job.Detections),
	}
	if opts.IncludeMetadata {
		original := job.ExtractedText
		r.OriginalText = &original
		r.DetectionDetails = job.Detections
		if r.DetectionDetails == nil {
			r.DetectionDetails = []privacy.Detection{}
		}
	}
	return r
}

func writeJSON(w io.Writer, list []jobs.FileJob, opts Options) error {
	doc := Document{
		ExportTimestamp: opts.now(),
		TotalFiles:      len(list),
		Settings:        opts.Settings,
		Results:         make([]Result, 0, len(list)),
	}
	for _, job := range list {
		doc.Results = append(doc.Results, result(job, opts))
	}
	return encodeJSON(w, doc)
}

func encodeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return nil
}

// Row is one job in the parquet export
type Row struct {
	Filename       string `parquet:"filename"`
	OriginalText   string `parquet:"original_text"`
	RedactedText   string `parquet:"redacted_text"`
	DetectionCount int64  `parquet:"detection_count"`
	Timestamp      string `parquet:"timestamp"`
}

func writeParquet(w io.Writer, list []jobs.FileJob, opts Options) error {
	rows := make([]Row, 0, len(list))
	for _, job := range list {
		rows = append(rows, Row{
			Filename:       job.Name,
			OriginalText:   job.ExtractedText,
			RedactedText:   job.RedactedText,
			DetectionCount: int64(len(job.Detections)),
			Timestamp:      processingDate(job, opts).Format(time.RFC3339),
		})
	}

	writer := parquet.NewGenericWriter[Row](w)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}
