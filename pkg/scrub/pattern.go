package scrub

import "regexp"

// DefaultReplacement is substituted for every match unless a pattern
// overrides it.
const DefaultReplacement = "[REDACTED]"

// Pattern is a named regex with an optional replacement override.
type Pattern struct {
	Name        string `yaml:"name" json:"name"`
	Pattern     string `yaml:"pattern" json:"pattern"`
	Replacement string `yaml:"replacement,omitempty" json:"replacement,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// CompiledPattern holds a pre-compiled regex with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPatterns returns the fixed PII pattern set. Names are stable; the
// scrub order is builtinOrder then custom patterns in config order.
func builtinPatterns() map[string]Pattern {
	return map[string]Pattern{
		"email": {
			Name:        "email",
			Pattern:     `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
			Description: "Email addresses",
		},
		"phone": {
			Name:        "phone",
			Pattern:     `(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`,
			Description: "North American phone numbers",
		},
		"ssn": {
			Name:        "ssn",
			Pattern:     `\b\d{3}-\d{2}-\d{4}\b`,
			Description: "US social security numbers",
		},
		"credit_card": {
			Name:        "credit_card",
			Pattern:     `\b(?:\d[ -]?){13,16}\b`,
			Description: "Credit card numbers",
		},
		"ipv4": {
			Name:        "ipv4",
			Pattern:     `\b(?:\d{1,3}\.){3}\d{1,3}\b`,
			Description: "IPv4 addresses",
		},
	}
}

// builtinOrder fixes the application order of built-in patterns so scrub
// output is deterministic.
var builtinOrder = []string{"email", "phone", "ssn", "credit_card", "ipv4"}

// builtinGroups maps group names to built-in pattern names.
func builtinGroups() map[string][]string {
	return map[string][]string{
		"pii_basic":  {"email", "phone", "ssn"},
		"pii_strict": {"email", "phone", "ssn", "credit_card", "ipv4"},
	}
}
