package privacy

import (
	"errors"
	"sync"

	"github.com/raaihank/phi-deid/internal/logger"
	"go.uber.org/zap"
)

// Redactor applies primary, contextual and custom rules to text
type Redactor struct {
	registry *Registry
	detector *Detector
	logger   *logger.Logger

	mu     sync.RWMutex
	config RedactionConfig
}

// NewRedactor creates a redactor with every category enabled
func NewRedactor(registry *Registry, log *logger.Logger) *Redactor {
	r := &Redactor{
		registry: registry,
		detector: NewDetector(registry, log),
		logger:   log,
		config:   DefaultRedactionConfig(),
	}

	log.Info("Redaction engine initialized",
		zap.Int("primary_rules", len(registry.Rules())),
		zap.Int("contextual_rules", len(registry.contextual)),
	)

	return r
}

// Configure stores the config used by Redact. Custom patterns are compiled
// lazily on each pass.
func (r *Redactor) Configure(cfg RedactionConfig) {
	r.mu.Lock()
	r.config = cfg.Clone()
	r.mu.Unlock()

	r.logger.Info("Redaction settings updated",
		zap.Int("enabled_categories", len(cfg.EnabledCategories())),
		zap.Int("custom_patterns", len(cfg.CustomPatterns)),
	)
}

// Config returns a copy of the configured settings
func (r *Redactor) Config() RedactionConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.Clone()
}

// Redact de-identifies text with the configured settings
func (r *Redactor) Redact(text string) Result {
	return r.Deidentify(text, r.Config())
}

// Deidentify replaces PHI in text. Enabled primary rules run in registry
// order, then every contextual rule, then enabled custom patterns followed by
// patterns registered at runtime. Custom patterns that fail to compile are
// skipped and reported as warnings.
func (r *Redactor) Deidentify(text string, cfg RedactionConfig) Result {
	result := Result{Text: text}

	for _, rule := range r.registry.Rules() {
		if !cfg.IsEnabled(rule.Category) {
			continue
		}
		result.Text = r.apply(rule, result.Text)
	}

	for _, rule := range r.registry.contextual {
		result.Text = r.apply(rule, result.Text)
	}

	for _, pattern := range cfg.CustomPatterns {
		if !pattern.Enabled {
			continue
		}
		rule, err := compileCustom(pattern)
		var invalid *InvalidPatternError
		if errors.As(err, &invalid) {
			result.Warnings = append(result.Warnings, invalid)
			r.logger.Warn("Skipping invalid custom pattern",
				zap.String("pattern_name", pattern.Name),
				zap.Error(invalid.Err),
			)
			continue
		}
		result.Text = r.apply(rule, result.Text)
	}

	for _, rule := range r.registry.customRules() {
		result.Text = r.apply(rule, result.Text)
	}

	return result
}

func (r *Redactor) apply(rule PatternRule, text string) string {
	if !rule.Matcher.MatchString(text) {
		return text
	}

	r.logger.Debug("PHI masked",
		zap.String("entity_type", rule.Type()),
		zap.String("scope", rule.Scope.String()),
		zap.String("replacement", rule.Replacement),
	)

	return rule.Matcher.ReplaceAllString(text, rule.Replacement)
}

// Detect runs the detection pass
func (r *Redactor) Detect(text string) []Detection {
	return r.detector.Detect(text)
}

// Stats summarizes the detections in text
func (r *Redactor) Stats(text string) Stats {
	return r.detector.Stats(text)
}

// ValidateRedaction detects PHI in both texts and reports what survived.
// A text with nothing to redact scores 100.
func (r *Redactor) ValidateRedaction(original, redacted string) ValidationReport {
	originalCount := len(r.detector.Detect(original))
	missed := r.detector.Detect(redacted)

	report := ValidationReport{
		OriginalCount:      originalCount,
		RemainingCount:     len(missed),
		SuccessRatePercent: 100,
		Missed:             missed,
	}

	if originalCount > 0 {
		rate := float64(originalCount-len(missed)) / float64(originalCount) * 100
		if rate < 0 {
			rate = 0
		}
		report.SuccessRatePercent = rate
	}

	return report
}
