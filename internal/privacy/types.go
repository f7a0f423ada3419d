package privacy

import (
	"fmt"
	"regexp"

	json "github.com/goccy/go-json"
)

// Category identifies a primary PHI category
type Category string

const (
	CategoryNames          Category = "names"
	CategoryDates          Category = "dates"
	CategoryAddresses      Category = "addresses"
	CategoryPhoneNumbers   Category = "phoneNumbers"
	CategoryEmails         Category = "emails"
	CategorySSN            Category = "ssn"
	CategoryMRN            Category = "mrn"
	CategoryURLs           Category = "urls"
	CategoryCreditCards    Category = "creditCards"
	CategoryDriversLicense Category = "driversLicense"

	// CategoryContextual groups relationship and role based rules
	CategoryContextual Category = "contextual"
	// CategoryCustom groups user supplied patterns
	CategoryCustom Category = "custom"
)

// Scope controls when a rule is evaluated
type Scope int

const (
	ScopePrimary Scope = iota
	ScopeContextual
	ScopeCustom
)

// String returns the scope name
func (s Scope) String() string {
	switch s {
	case ScopePrimary:
		return "primary"
	case ScopeContextual:
		return "contextual"
	case ScopeCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// DefaultCustomReplacement is used for custom patterns without a replacement
const DefaultCustomReplacement = "[REDACTED]"

// PatternRule is a single compiled detection and substitution rule
type PatternRule struct {
	Category    Category
	Subcategory string
	Matcher     *regexp.Regexp
	Replacement string // may reference capture groups as ${1}
	Scope       Scope
}

// Type returns the detection type label, e.g. "addresses.zipCode"
func (r PatternRule) Type() string {
	if r.Subcategory == "" {
		return string(r.Category)
	}
	return string(r.Category) + "." + r.Subcategory
}

// RuleNode is either a leaf holding a rule or a group holding children
type RuleNode struct {
	Category Category
	Rule     *PatternRule
	Children []RuleNode
}

// IsLeaf reports whether the node carries a rule
func (n RuleNode) IsLeaf() bool {
	return n.Rule != nil
}

// Detection is a single matched PHI value
type Detection struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Position int    `json:"position"`
}

// Stats summarizes the detections found in a text
type Stats struct {
	Total       int            `json:"total"`
	ByType      map[string]int `json:"byType"`
	UniqueCount int            `json:"uniqueCount"`
}

// Result is the output of a de-identification pass
type Result struct {
	Text     string                 `json:"text"`
	Warnings []*InvalidPatternError `json:"warnings,omitempty"`
}

// ValidationReport compares detections before and after redaction
type ValidationReport struct {
	OriginalCount      int         `json:"originalCount"`
	RemainingCount     int         `json:"remainingCount"`
	SuccessRatePercent float64     `json:"successRate"`
	Missed             []Detection `json:"missed"`
}

// InvalidPatternError is reported when a custom pattern does not compile
type InvalidPatternError struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Err     error  `json:"-"`
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid custom pattern %q (%s): %v", e.Name, e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error {
	return e.Err
}

// MarshalJSON includes the compile error message
func (e *InvalidPatternError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name    string `json:"name"`
		Pattern string `json:"pattern"`
		Message string `json:"message"`
	}{e.Name, e.Pattern, e.Err.Error()})
}
