package privacy

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// CustomPattern is a user supplied regular expression
type CustomPattern struct {
	Name        string `json:"name" yaml:"name" mapstructure:"name"`
	Pattern     string `json:"pattern" yaml:"pattern" mapstructure:"pattern"`
	Replacement string `json:"replacement" yaml:"replacement" mapstructure:"replacement"`
	Enabled     bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
}

// RedactionConfig selects the categories and custom patterns to apply.
// A category missing from Enabled is treated as enabled.
type RedactionConfig struct {
	Enabled        map[Category]bool
	CustomPatterns []CustomPattern
}

// settingKeys maps categories to their persisted toggle names
var settingKeys = map[Category]string{
	CategoryNames:          "redactNames",
	CategoryDates:          "redactDates",
	CategoryAddresses:      "redactAddresses",
	CategoryPhoneNumbers:   "redactPhoneNumbers",
	CategorySSN:            "redactSSN",
	CategoryMRN:            "redactMRN",
	CategoryEmails:         "redactEmails",
	CategoryURLs:           "redactURLs",
	CategoryCreditCards:    "redactCreditCards",
	CategoryDriversLicense: "redactDriversLicense",
}

const customPatternsKey = "customPatterns"

// SettingKey returns the toggle name for a category, e.g. "redactSSN"
func SettingKey(c Category) string {
	return settingKeys[c]
}

// ParseCategory accepts a category name ("ssn") or its toggle name
// ("redactSSN"), ignoring case
func ParseCategory(name string) (Category, bool) {
	for _, c := range primaryCategories {
		if strings.EqualFold(name, string(c)) || strings.EqualFold(name, settingKeys[c]) {
			return c, true
		}
	}
	return "", false
}

// DefaultRedactionConfig enables every category with no custom patterns
func DefaultRedactionConfig() RedactionConfig {
	cfg := RedactionConfig{Enabled: make(map[Category]bool, len(primaryCategories))}
	for _, c := range primaryCategories {
		cfg.Enabled[c] = true
	}
	return cfg
}

// IsEnabled reports whether a category should be redacted
func (c RedactionConfig) IsEnabled(category Category) bool {
	enabled, ok := c.Enabled[category]
	return !ok || enabled
}

// Set toggles a category
func (c *RedactionConfig) Set(category Category, enabled bool) {
	if c.Enabled == nil {
		c.Enabled = make(map[Category]bool)
	}
	c.Enabled[category] = enabled
}

// Clone returns a deep copy
func (c RedactionConfig) Clone() RedactionConfig {
	out := RedactionConfig{Enabled: make(map[Category]bool, len(c.Enabled))}
	for k, v := range c.Enabled {
		out.Enabled[k] = v
	}
	if c.CustomPatterns != nil {
		out.CustomPatterns = append([]CustomPattern(nil), c.CustomPatterns...)
	}
	return out
}

// EnabledCategories lists enabled primary categories in evaluation order
func (c RedactionConfig) EnabledCategories() []Category {
	var out []Category
	for _, category := range primaryCategories {
		if c.IsEnabled(category) {
			out = append(out, category)
		}
	}
	return out
}

// MarshalJSON writes the flat keyed record, e.g. {"redactNames":true,...}
func (c RedactionConfig) MarshalJSON() ([]byte, error) {
	record := make(map[string]interface{}, len(settingKeys)+1)
	for _, category := range primaryCategories {
		record[settingKeys[category]] = c.IsEnabled(category)
	}

	patterns := c.CustomPatterns
	if patterns == nil {
		patterns = []CustomPattern{}
	}
	record[customPatternsKey] = patterns

	return json.Marshal(record)
}

// UnmarshalJSON reads the flat keyed record. Unknown keys are ignored and
// missing toggles default to enabled.
func (c *RedactionConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode redaction settings: %w", err)
	}

	cfg := DefaultRedactionConfig()
	for _, category := range primaryCategories {
		value, ok := raw[settingKeys[category]]
		if !ok {
			continue
		}
		var enabled *bool
		if err := json.Unmarshal(value, &enabled); err != nil {
			return fmt.Errorf("invalid value for %s: %w", settingKeys[category], err)
		}
		// null counts as unset
		if enabled == nil {
			continue
		}
		cfg.Enabled[category] = *enabled
	}

	if value, ok := raw[customPatternsKey]; ok {
		if err := json.Unmarshal(value, &cfg.CustomPatterns); err != nil {
			return fmt.Errorf("invalid value for %s: %w", customPatternsKey, err)
		}
	}

	*c = cfg
	return nil
}
