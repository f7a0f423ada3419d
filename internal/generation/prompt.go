package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/raaihank/phi-deid/internal/privacy"
	"go.uber.org/zap"
)

// InputMarker separates the system prompt from the document text
const InputMarker = "Now process this:\n"

var categoryPrompts = map[privacy.Category]string{
	privacy.CategoryNames:          "Names (patients, doctors, family)",
	privacy.CategoryDates:          "Dates (birth, admission, discharge, procedures)",
	privacy.CategoryAddresses:      "Addresses (home, hospital, zip codes)",
	privacy.CategoryPhoneNumbers:   "Phone numbers",
	privacy.CategorySSN:            "Social Security Numbers (SSN)",
	privacy.CategoryMRN:            "Medical Record Numbers (MRN), Account Numbers",
	privacy.CategoryEmails:         "Email addresses",
	privacy.CategoryURLs:           "Web addresses (URLs)",
	privacy.CategoryCreditCards:    "Credit card numbers",
	privacy.CategoryDriversLicense: "Driver's license numbers",
}

// BuildSystemPrompt describes the enabled categories and custom patterns
func BuildSystemPrompt(cfg privacy.RedactionConfig) string {
	var sb strings.Builder
	sb.WriteString("You are a medical privacy assistant. Your job is to remove all Protected Health Information (PHI) " +
		"from clinical documents while preserving medical meaning.\n\nRedact these types of PHI:")

	for _, category := range cfg.EnabledCategories() {
		sb.WriteString("\n- ")
		sb.WriteString(categoryPrompts[category])
	}
	sb.WriteString("\n- Any other identifiers: \"my cousin John\", \"the nurse at St. Mary's\"")

	var custom []string
	for _, p := range cfg.CustomPatterns {
		if p.Enabled {
			custom = append(custom, p.Name)
		}
	}
	if len(custom) > 0 {
		sb.WriteString("\n- Custom patterns: ")
		sb.WriteString(strings.Join(custom, ", "))
	}

	sb.WriteString("\n\nRules:\n" +
		"1. Return ONLY the redacted text, with no explanations.\n" +
		"2. For tables: keep structure and replace PHI values with [REDACTED].\n" +
		"3. For images: fix OCR errors (e.g., \"J0hn\" becomes \"[REDACTED]\").\n\n" +
		"Example:\n" +
		"Input: \"Patient John Doe, age 45, visited on 2024-03-15 at 123 Main St, phone 555-0123.\"\n" +
		"Output: \"Patient [REDACTED], age 45, visited on [REDACTED] at [REDACTED], phone [REDACTED].\"\n\n")
	sb.WriteString(InputMarker)

	return sb.String()
}

// SplitPrompt returns the document text following InputMarker
func SplitPrompt(prompt string) (system, input string) {
	idx := strings.LastIndex(prompt, InputMarker)
	if idx < 0 {
		return "", prompt
	}
	return prompt[:idx+len(InputMarker)], prompt[idx+len(InputMarker):]
}

// ParagraphSeparator splits documents into independently refined chunks.
// It is also a stop sequence, so a single call never spans two paragraphs.
const ParagraphSeparator = "\n\n"

// minOutputRatio is the shortest refined paragraph accepted, relative to
// its input
const minOutputRatio = 0.5

// Refiner passes already redacted text through the generation model
type Refiner struct {
	model  *Model
	logger *zap.Logger
}

// NewRefiner creates a refiner over model
func NewRefiner(model *Model, logger *zap.Logger) *Refiner {
	return &Refiner{model: model, logger: logger}
}

// Refine prompts the model once per paragraph with the system prompt
// followed by the paragraph, and joins the trimmed responses. A response
// much shorter than its paragraph fails with ErrOutputTruncated.
func (r *Refiner) Refine(ctx context.Context, text string, cfg privacy.RedactionConfig) (string, error) {
	system := BuildSystemPrompt(cfg)
	paragraphs := strings.Split(text, ParagraphSeparator)

	for i, paragraph := range paragraphs {
		input := strings.TrimSpace(paragraph)
		if input == "" {
			continue
		}

		params := DefaultParams(system + input)
		if limit := len(input) / 2; limit > params.MaxTokens {
			params.MaxTokens = limit
		}

		out, err := r.model.Generate(ctx, params)
		if err != nil {
			return "", err
		}
		out = strings.TrimSpace(out)

		if float64(len(out)) < minOutputRatio*float64(len(input)) {
			return "", wrapError(ErrOutputTruncated,
				fmt.Errorf("paragraph %d: %d of %d characters returned", i+1, len(out), len(input)))
		}
		paragraphs[i] = out
	}

	refined := strings.TrimSpace(strings.Join(paragraphs, ParagraphSeparator))
	r.logger.Debug("Text refined by generation model",
		zap.Int("paragraphs", len(paragraphs)),
		zap.Int("input_chars", len(text)),
		zap.Int("output_chars", len(refined)),
	)
	return refined, nil
}
