package generation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// BackendType selects a generation backend
type BackendType string

const (
	// BackendNone disables generation
	BackendNone BackendType = "none"
	// BackendOllama generates through an Ollama server
	BackendOllama BackendType = "ollama"
	// BackendRules runs the rule based redactor in process
	BackendRules BackendType = "rules"
)

// Config contains generation backend configuration
type Config struct {
	Backend BackendType   `yaml:"backend" mapstructure:"backend"`
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// RedactFunc redacts text in process
type RedactFunc func(text string) string

// NewBackend creates the configured backend. BackendNone returns nil.
func NewBackend(cfg Config, redact RedactFunc, logger *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendOllama:
		logger.Info("Created ollama generation backend", zap.String("base_url", cfg.BaseURL))
		return NewOllamaBackend(cfg.BaseURL, cfg.Timeout, logger), nil
	case BackendRules:
		if redact == nil {
			return nil, wrapError(ErrConfigError, fmt.Errorf("rules backend requires a redactor"))
		}
		logger.Info("Created rules generation backend")
		return NewRuleBackend(redact), nil
	default:
		return nil, wrapError(ErrConfigError, fmt.Errorf("unknown generation backend: %s", cfg.Backend))
	}
}

// RuleBackend answers prompts by redacting the document part with the rule
// engine. It needs no model file.
type RuleBackend struct {
	redact RedactFunc
}

// NewRuleBackend creates a rule backend
func NewRuleBackend(redact RedactFunc) *RuleBackend {
	return &RuleBackend{redact: redact}
}

// Name implements Backend
func (b *RuleBackend) Name() string {
	return string(BackendRules)
}

// Load implements Backend
func (b *RuleBackend) Load(ctx context.Context, _ string) error {
	return ctx.Err()
}

// Generate implements Backend
func (b *RuleBackend) Generate(ctx context.Context, params Params) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	_, input := SplitPrompt(params.Prompt)
	return b.redact(input), nil
}

// Close implements Backend
func (b *RuleBackend) Close() error {
	return nil
}
