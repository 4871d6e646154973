package normalize

import (
	"fmt"
	"log/slog"
	"regexp"
)

// PatternRule rewrites source ACLs by regex. Template may reference capture
// groups as $1..$n.
type PatternRule struct {
	SourceTool string `yaml:"source_tool" json:"source_tool"`
	Pattern    string `yaml:"pattern" json:"pattern"`
	Template   string `yaml:"template" json:"template"`
}

// MapperConfig declares how source-tool ACLs translate to canonical ACL
// strings. Exact is keyed source_tool → source acl → canonical.
type MapperConfig struct {
	Exact    map[string]map[string]string `yaml:"exact" json:"exact"`
	Patterns []PatternRule                `yaml:"patterns" json:"patterns"`
}

type compiledRule struct {
	sourceTool string
	re         *regexp.Regexp
	template   string
}

// ACLMapper translates tool-specific ACL strings into canonical form.
// Resolution order per ACL: exact mapping, then pattern rules in declaration
// order, then the namespaced fallback "{source_tool}:{acl}".
type ACLMapper struct {
	exact map[string]map[string]string
	rules []compiledRule
}

// NewACLMapper compiles the pattern rules eagerly. Invalid patterns are
// logged and skipped.
func NewACLMapper(cfg MapperConfig) *ACLMapper {
	m := &ACLMapper{exact: cfg.Exact}
	if m.exact == nil {
		m.exact = make(map[string]map[string]string)
	}
	for _, r := range cfg.Patterns {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			slog.Error("Failed to compile ACL pattern rule, skipping",
				"source_tool", r.SourceTool, "pattern", r.Pattern, "error", err)
			continue
		}
		m.rules = append(m.rules, compiledRule{sourceTool: r.SourceTool, re: re, template: r.Template})
	}
	return m
}

// Map produces the canonical ACL list: tenant:{tenant} first, then each
// source ACL translated in input order. Duplicates are removed preserving
// first-seen order.
func (m *ACLMapper) Map(tenantID, sourceTool string, sourceACLs []string) []string {
	out := []string{"tenant:" + tenantID}
	seen := map[string]bool{out[0]: true}

	add := func(acl string) {
		if acl == "" || seen[acl] {
			return
		}
		seen[acl] = true
		out = append(out, acl)
	}

	for _, acl := range sourceACLs {
		add(m.mapOne(sourceTool, acl))
	}
	return out
}

func (m *ACLMapper) mapOne(sourceTool, acl string) string {
	if byTool, ok := m.exact[sourceTool]; ok {
		if canonical, ok := byTool[acl]; ok {
			return canonical
		}
	}
	for _, r := range m.rules {
		if r.sourceTool != "" && r.sourceTool != sourceTool {
			continue
		}
		if idx := r.re.FindStringSubmatchIndex(acl); idx != nil && idx[0] == 0 && idx[1] == len(acl) {
			return string(r.re.ExpandString(nil, r.template, acl, idx))
		}
	}
	return fmt.Sprintf("%s:%s", sourceTool, acl)
}
