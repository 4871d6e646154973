package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go templates.
// Uses {{.VAR_NAME}} syntax so literal $ characters survive untouched. The
// config carries regex patterns (scrub rules, ACL rewrites) and secrets where
// $ is common:
//   - Scrub patterns: ^secret.*$, \$[0-9]+
//   - ACL templates: repo:$1
//   - Passwords inside DSNs: p@ss$word
//
// Examples:
//   - {{.DATABASE_URL}} → value of DATABASE_URL
//   - {{.QDRANT_HOST}}:{{.QDRANT_PORT}} → host:port with both expanded
//   - auth_headers: {Authorization: "Bearer {{.ADAPTER_TOKEN}}"}
//
// Missing variables expand to empty string (unless the template is
// malformed). Validation catches required fields left empty.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		// Content without template syntax passes through unchanged; the YAML
		// parser reports a clearer error if the file is actually broken.
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		// Split only on the first = to handle values containing =
		if idx := strings.IndexByte(env, '='); idx > 0 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}

	return buf.Bytes()
}
