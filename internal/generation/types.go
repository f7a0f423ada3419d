package generation

import (
	"context"
	"time"
)

// State is the load state of a model
type State string

const (
	StateNotLoaded State = "not_loaded"
	StateLoading   State = "loading"
	StateReady     State = "ready"
	StateFailed    State = "failed"
)

// Params controls a single generation call
type Params struct {
	Prompt        string   `json:"prompt"`
	MaxTokens     int      `json:"maxTokens"`
	Temperature   float64  `json:"temperature"`
	RepeatPenalty float64  `json:"repeatPenalty"`
	Stop          []string `json:"stop,omitempty"`
}

// DefaultParams returns the parameters used for redaction refinement
func DefaultParams(prompt string) Params {
	return Params{
		Prompt:        prompt,
		MaxTokens:     512,
		Temperature:   0.1,
		RepeatPenalty: 1.1,
		Stop:          []string{ParagraphSeparator, "Output:"},
	}
}

// Backend is a text generation engine
type Backend interface {
	Name() string
	Load(ctx context.Context, modelPath string) error
	Generate(ctx context.Context, params Params) (string, error)
	Close() error
}

// Status describes the model for API consumers
type Status struct {
	State       State         `json:"state"`
	Backend     string        `json:"backend"`
	ModelPath   string        `json:"modelPath,omitempty"`
	Error       string        `json:"error,omitempty"`
	LoadTime    time.Duration `json:"loadTime"`
	Generations int64         `json:"generations"`
	Failures    int64         `json:"failures"`
}

// GenerationError is returned by the model and its backends
type GenerationError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Err     error  `json:"-"`
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Is matches errors of the same code so wrapped errors compare equal to
// the sentinels below
func (e *GenerationError) Is(target error) bool {
	t, ok := target.(*GenerationError)
	return ok && t.Code == e.Code
}

// Common error types
var (
	ErrModelNotLoaded   = &GenerationError{Type: "model_not_loaded", Message: "model not loaded", Code: 2001}
	ErrModelLoading     = &GenerationError{Type: "model_loading", Message: "model is loading", Code: 2002}
	ErrGenerationFailed = &GenerationError{Type: "generation_failed", Message: "generation failed", Code: 2003}
	ErrLoadFailed       = &GenerationError{Type: "load_failed", Message: "model load failed", Code: 2004}
	ErrConfigError      = &GenerationError{Type: "config_error", Message: "configuration error", Code: 2005}
	ErrOutputTruncated  = &GenerationError{Type: "output_truncated", Message: "generated text is truncated", Code: 2006}
)

func wrapError(base *GenerationError, err error) *GenerationError {
	return &GenerationError{Type: base.Type, Message: base.Message, Code: base.Code, Err: err}
}
