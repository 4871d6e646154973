// Package scrub removes personally identifiable information from document
// content before checksumming and indexing.
package scrub

import (
	"fmt"
	"log/slog"
	"regexp"
)

// Config selects which patterns apply to one scrub call. Empty PatternGroups
// and Patterns means the full built-in set.
type Config struct {
	Enabled       bool      `yaml:"enabled" json:"enabled"`
	PatternGroups []string  `yaml:"pattern_groups,omitempty" json:"pattern_groups,omitempty"`
	Patterns      []string  `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	CustomUnnamed []Pattern `yaml:"-" json:"-"`
}

// Service applies PII scrubbing. Created once at startup; all patterns are
// compiled eagerly. Thread-safe and stateless aside from compiled patterns.
type Service struct {
	patterns    map[string]*CompiledPattern
	groups      map[string][]string
	customOrder []string // compiled custom pattern names, config order
}

// NewService compiles the built-in set plus custom patterns. Invalid patterns
// are logged and skipped; scrubbing proceeds with the rest.
func NewService(custom []Pattern) *Service {
	s := &Service{
		patterns: make(map[string]*CompiledPattern),
		groups:   builtinGroups(),
	}

	for name, p := range builtinPatterns() {
		s.compile(name, p)
	}
	for i, p := range custom {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("custom:%d", i)
		}
		if _, exists := s.patterns[name]; exists {
			name = fmt.Sprintf("custom:%s:%d", p.Name, i)
		}
		if s.compile(name, p) {
			s.customOrder = append(s.customOrder, name)
		}
	}

	slog.Info("Scrub service initialized",
		"builtin_patterns", len(builtinOrder),
		"custom_patterns", len(s.customOrder))
	return s
}

func (s *Service) compile(name string, p Pattern) bool {
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		slog.Error("Failed to compile scrub pattern, skipping",
			"pattern", name, "error", err)
		return false
	}
	repl := p.Replacement
	if repl == "" {
		repl = DefaultReplacement
	}
	s.patterns[name] = &CompiledPattern{
		Name:        name,
		Regex:       re,
		Replacement: repl,
		Description: p.Description,
	}
	return true
}

// Apply scrubs content according to cfg. Disabled configs pass content
// through unchanged. Patterns run in a stable order (built-in order, then
// custom in registration order) so identical input always yields identical
// output.
func (s *Service) Apply(content string, cfg Config) string {
	if !cfg.Enabled || content == "" {
		return content
	}
	for _, cp := range s.resolve(cfg) {
		content = cp.Regex.ReplaceAllString(content, cp.Replacement)
	}
	return content
}

// ApplyAll scrubs with the full built-in set plus all custom patterns.
func (s *Service) ApplyAll(content string) string {
	return s.Apply(content, Config{Enabled: true})
}

// resolve expands cfg into an ordered, de-duplicated pattern list. Unknown
// group or pattern names are ignored.
func (s *Service) resolve(cfg Config) []*CompiledPattern {
	seen := make(map[string]bool)
	var out []*CompiledPattern

	add := func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		if cp, ok := s.patterns[name]; ok {
			out = append(out, cp)
		}
	}

	if len(cfg.PatternGroups) == 0 && len(cfg.Patterns) == 0 {
		for _, name := range builtinOrder {
			add(name)
		}
		for _, name := range s.customOrder {
			add(name)
		}
		return out
	}

	for _, group := range cfg.PatternGroups {
		names, ok := s.groups[group]
		if !ok {
			slog.Warn("Unknown scrub pattern group, ignoring", "group", group)
			continue
		}
		for _, name := range names {
			add(name)
		}
	}
	for _, name := range cfg.Patterns {
		add(name)
	}
	return out
}
