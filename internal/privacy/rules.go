package privacy

import (
	"errors"
	"regexp"
	"strings"
	"sync"
)

// primaryCategories is the fixed evaluation order. Dates and names run before
// the numeric categories so zip codes never re-match already replaced text.
var primaryCategories = []Category{
	CategoryNames,
	CategoryDates,
	CategoryAddresses,
	CategoryPhoneNumbers,
	CategoryEmails,
	CategorySSN,
	CategoryMRN,
	CategoryURLs,
	CategoryCreditCards,
	CategoryDriversLicense,
}

// PrimaryCategories returns the primary categories in evaluation order
func PrimaryCategories() []Category {
	out := make([]Category, len(primaryCategories))
	copy(out, primaryCategories)
	return out
}

// Registry holds the ordered rule tables plus the runtime custom patterns
type Registry struct {
	tree       []RuleNode
	contextual []PatternRule

	mu     sync.RWMutex
	custom []CustomPattern
	rules  []PatternRule
}

// NewRegistry builds the default rule tables
func NewRegistry() *Registry {
	return &Registry{
		tree:       defaultTree(),
		contextual: defaultContextualRules(),
	}
}

func leaf(category Category, sub, pattern, replacement string) RuleNode {
	return RuleNode{
		Category: category,
		Rule: &PatternRule{
			Category:    category,
			Subcategory: sub,
			Matcher:     regexp.MustCompile(pattern),
			Replacement: replacement,
			Scope:       ScopePrimary,
		},
	}
}

func defaultTree() []RuleNode {
	return []RuleNode{
		leaf(CategoryNames, "", `\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+){1,2}\b`, "[NAME]"),
		leaf(CategoryDates, "", `\b\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4}\b|\b\d{4}[/\-]\d{1,2}[/\-]\d{1,2}\b`, "[DATE]"),
		{
			Category: CategoryAddresses,
			Children: []RuleNode{
				leaf(CategoryAddresses, "street", `(?i)\b\d+\s+[A-Z][a-z]+\s+(?:Street|St|Avenue|Ave|Road|Rd|Drive|Dr)\b`, "[ADDRESS]"),
				leaf(CategoryAddresses, "cityState", `\b[A-Z][a-z]+\s*,\s*[A-Z]{2}\b`, "[CITY/STATE]"),
				leaf(CategoryAddresses, "zipCode", `\b\d{5}(?:-\d{4})?\b`, "[ZIP]"),
			},
		},
		leaf(CategoryPhoneNumbers, "", `\b\d{3}-\d{3}-\d{4}\b`, "[PHONE]"),
		leaf(CategoryEmails, "", `(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, "[EMAIL]"),
		leaf(CategorySSN, "", `\b\d{3}-\d{2}-\d{4}\b`, "[SSN]"),
		leaf(CategoryMRN, "", `(?i)\bMRN:?\s*\d+\b`, "[MRN]"),
		leaf(CategoryURLs, "", `(?i)\bhttps?://[^\s]+\b`, "[URL]"),
		leaf(CategoryCreditCards, "", `\b\d{4}-\d{4}-\d{4}-\d{4}\b`, "[CARD]"),
		leaf(CategoryDriversLicense, "", `(?i)\bDL:?\s*[A-Z0-9]+\b`, "[DL]"),
	}
}

const properName = `[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*`

func defaultContextualRules() []PatternRule {
	relations := strings.Join([]string{
		"mother", "father", "sister", "brother", "wife", "husband", "son", "daughter",
		"aunt", "uncle", "cousin", "nephew", "niece", "grandmother", "grandfather",
	}, "|")

	return []PatternRule{
		{
			Category:    CategoryContextual,
			Subcategory: "relative",
			Matcher:     regexp.MustCompile(`(?i)\b(?:my|his|her|the)\s+(?:` + relations + `)\s+(` + properName + `)\b`),
			Replacement: "${1} [RELATIVE_NAME]",
			Scope:       ScopeContextual,
		},
		{
			Category:    CategoryContextual,
			Subcategory: "provider",
			Matcher: regexp.MustCompile(`(?i)\b(?:Dr\.?|Doctor|Nurse)\s+(` + properName + `)\s+(?:at|from)\s+(` +
				properName + `(?:\s+(?:Hospital|Medical\s+Center|Clinic|Practice))?)\b`),
			Replacement: "[DOCTOR] at [FACILITY]",
			Scope:       ScopeContextual,
		},
		{
			Category:    CategoryContextual,
			Subcategory: "age",
			Matcher:     regexp.MustCompile(`(?i)\b(` + properName + `),?\s+(?:age\s+)?\d{1,3}\b`),
			Replacement: "[NAME], age [AGE]",
			Scope:       ScopeContextual,
		},
	}
}

// Tree returns the primary rule tree
func (r *Registry) Tree() []RuleNode {
	return r.tree
}

// Rules returns the primary leaves in evaluation order
func (r *Registry) Rules() []PatternRule {
	var out []PatternRule
	Walk(r.tree, func(rule PatternRule) {
		out = append(out, rule)
	})
	return out
}

// RulesFor returns the primary leaves belonging to one category
func (r *Registry) RulesFor(category Category) []PatternRule {
	var out []PatternRule
	for _, rule := range r.Rules() {
		if rule.Category == category {
			out = append(out, rule)
		}
	}
	return out
}

// ContextualRules returns the relationship and role rules
func (r *Registry) ContextualRules() []PatternRule {
	out := make([]PatternRule, len(r.contextual))
	copy(out, r.contextual)
	return out
}

// AddCustomPattern registers a runtime custom pattern. The pattern is
// compiled case-insensitively and rejected if it does not compile.
func (r *Registry) AddCustomPattern(p CustomPattern) error {
	rule, err := compileCustom(p)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom = append(r.custom, p)
	r.rules = append(r.rules, rule)
	return nil
}

// CustomPatterns returns the runtime custom patterns
func (r *Registry) CustomPatterns() []CustomPattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CustomPattern, len(r.custom))
	copy(out, r.custom)
	return out
}

func (r *Registry) customRules() []PatternRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PatternRule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Walk visits every leaf of the tree depth first in order
func Walk(nodes []RuleNode, visit func(PatternRule)) {
	for _, node := range nodes {
		if node.IsLeaf() {
			visit(*node.Rule)
			continue
		}
		Walk(node.Children, visit)
	}
}

// Custom pattern rejections besides regexp syntax errors
var (
	ErrEmptyPattern = errors.New("pattern is empty")
	ErrMatchesEmpty = errors.New("pattern matches empty text")
)

func compileCustom(p CustomPattern) (PatternRule, error) {
	if strings.TrimSpace(p.Pattern) == "" {
		return PatternRule{}, &InvalidPatternError{Name: p.Name, Pattern: p.Pattern, Err: ErrEmptyPattern}
	}

	matcher, err := regexp.Compile("(?i)" + p.Pattern)
	if err != nil {
		return PatternRule{}, &InvalidPatternError{Name: p.Name, Pattern: p.Pattern, Err: err}
	}
	// a match on empty text would place a replacement between every character
	if matcher.MatchString("") {
		return PatternRule{}, &InvalidPatternError{Name: p.Name, Pattern: p.Pattern, Err: ErrMatchesEmpty}
	}

	replacement := p.Replacement
	if replacement == "" {
		replacement = DefaultCustomReplacement
	}

	return PatternRule{
		Category:    CategoryCustom,
		Subcategory: p.Name,
		Matcher:     matcher,
		Replacement: replacement,
		Scope:       ScopeCustom,
	}, nil
}

// ValidatePattern reports whether a custom pattern compiles to a non-empty
// matcher. The returned error is an *InvalidPatternError.
func ValidatePattern(p CustomPattern) error {
	_, err := compileCustom(p)
	return err
}
