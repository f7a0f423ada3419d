package export

import (
	"bytes"
	"io"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/raaihank/phi-deid/internal/jobs"
	"github.com/raaihank/phi-deid/internal/privacy"
	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var finished = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func archived() []jobs.FileJob {
	return []jobs.FileJob{
		{
			ID:            "1",
			Name:          "note.txt",
			SizeBytes:     24,
			Status:        jobs.StatusCompleted,
			ExtractedText: `He said "call 555-123-4567"`,
			RedactedText:  `He said "call [PHONE]"`,
			Detections:    []privacy.Detection{{Type: "phoneNumbers", Value: "555-123-4567", Position: 14}},
			FinishedAt:    &finished,
		},
		{ID: "2", Name: "broken.pdf", Status: jobs.StatusError},
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, archived(), Options{Format: FormatText}))
	assert.Equal(t, "=== note.txt ===\nHe said \"call [PHONE]\"\n\n", buf.String())

	buf.Reset()
	require.NoError(t, Write(&buf, archived(), Options{Format: FormatText, IncludeMetadata: true}))
	assert.Contains(t, buf.String(), "Processed: 2024-03-15T10:30:00Z\n")
	assert.Contains(t, buf.String(), "Original size: 24 bytes\n")
	assert.Contains(t, buf.String(), "PHI items found: 1\n\n")
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, archived(), Options{Format: FormatCSV}))

	assert.Equal(t,
		"Filename,Original Text,Redacted Text,PHI Items Found,Processing Date\n"+
			`"note.txt","He said ""call 555-123-4567""","He said ""call [PHONE]""",1,"2024-03-15T10:30:00Z"`+"\n",
		buf.String())
}

func TestWriteJSON(t *testing.T) {
	now := func() time.Time { return time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC) }
	settings := privacy.DefaultRedactionConfig()
	settings.Set(privacy.CategoryURLs, false)

	t.Run("without metadata", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, archived(), Options{Format: FormatJSON, Settings: settings, Now: now}))

		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
		assert.Equal(t, "2024-04-01T00:00:00Z", doc["exportTimestamp"])
		assert.Equal(t, 1.0, doc["totalFiles"])
		assert.Equal(t, false, doc["settings"].(map[string]interface{})["redactURLs"])

		results := doc["results"].([]interface{})
		require.Len(t, results, 1)
		first := results[0].(map[string]interface{})
		assert.Equal(t, "note.txt", first["filename"])
		assert.Equal(t, 1.0, first["detectionCount"])
		assert.NotContains(t, first, "originalText")
		assert.NotContains(t, first, "detectionDetails")
	})

	t.Run("with metadata", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, archived(), Options{Format: FormatJSON, IncludeMetadata: true, Now: now}))

		var doc Document
		require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
		require.Len(t, doc.Results, 1)
		require.NotNil(t, doc.Results[0].OriginalText)
		assert.Equal(t, `He said "call 555-123-4567"`, *doc.Results[0].OriginalText)
		assert.Len(t, doc.Results[0].DetectionDetails, 1)
	})
}

func TestWriteParquet(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, archived(), Options{Format: FormatParquet}))

	reader := parquet.NewReader(bytes.NewReader(buf.Bytes()))
	defer reader.Close()

	var rows []Row
	for {
		var row Row
		err := reader.Read(&row)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}

	require.Len(t, rows, 1)
	assert.Equal(t, "note.txt", rows[0].Filename)
	assert.Equal(t, int64(1), rows[0].DetectionCount)
	assert.Equal(t, `He said "call [PHONE]"`, rows[0].RedactedText)
}

func TestWriteJob(t *testing.T) {
	job := archived()[0]

	var buf bytes.Buffer
	require.NoError(t, WriteJob(&buf, job, Options{Format: FormatText}))
	assert.Equal(t, `He said "call [PHONE]"`, buf.String())

	buf.Reset()
	require.NoError(t, WriteJob(&buf, job, Options{Format: FormatCSV}))
	assert.Equal(t, "Original Text,Redacted Text,PHI Items Found\n"+
		`"He said ""call 555-123-4567""","He said ""call [PHONE]""",1`, buf.String())

	assert.Error(t, WriteJob(&buf, archived()[1], Options{Format: FormatText}))
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "scan.2024_deidentified.json", JobFileName("scan.2024.png", FormatJSON))
	assert.Equal(t, "notes_deidentified.txt", JobFileName("notes", FormatText))
	assert.Equal(t, "all_deidentified_results.csv", BatchFileName(FormatCSV))

	f, err := ParseFormat("TEXT")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)
	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
