// Package normalize turns tool-specific payloads into canonical Documents:
// stable IDs, scrubbed content, canonical ACLs, and a content checksum that
// drives delta indexing downstream.
package normalize

import (
	"time"

	"github.com/corralproject/corral/pkg/models"
	"github.com/corralproject/corral/pkg/scrub"
)

// Normalizer is deterministic: the same payload always yields the same
// Document (modulo ts_ingested). Scrubbing runs before the checksum so
// identical inputs produce identical checksums regardless of when the
// scrubber configuration changed.
type Normalizer struct {
	scrubber *scrub.Service
	scrubCfg scrub.Config
	mapper   *ACLMapper
}

// New creates a Normalizer. A nil scrubber disables PII scrubbing entirely.
func New(scrubber *scrub.Service, scrubCfg scrub.Config, mapper *ACLMapper) *Normalizer {
	if mapper == nil {
		mapper = NewACLMapper(MapperConfig{})
	}
	return &Normalizer{scrubber: scrubber, scrubCfg: scrubCfg, mapper: mapper}
}

// Normalize builds the canonical Document for one payload.
//
// Field extraction:
//   - source_id: payload "id" or "source_id"; else the MD5 of the canonical
//     payload JSON so synthetic IDs are stable across retries.
//   - content: "content", "text", or "body"; else the whole payload JSON.
//   - ts_source: "ts_source", "timestamp", or "created_at"; else now.
func (n *Normalizer) Normalize(tenantID, sourceTool string, payload map[string]any) *models.Document {
	now := time.Now().UTC()

	sourceID := extractSourceID(payload)

	content := extractContent(payload)
	if n.scrubber != nil {
		content = n.scrubber.Apply(content, n.scrubCfg)
	}

	metadata, _ := payload["metadata"].(map[string]any)

	tsSource := now
	for _, key := range []string{"ts_source", "timestamp", "created_at"} {
		if v, ok := payload[key]; ok {
			if ts, ok := parseTimestamp(v); ok {
				tsSource = ts.UTC()
				break
			}
		}
	}

	acl := n.mapper.Map(tenantID, sourceTool, extractACL(payload))

	doc := &models.Document{
		ID:            models.DocumentID(tenantID, sourceTool, sourceID),
		TenantID:      tenantID,
		SourceTool:    sourceTool,
		SourceID:      sourceID,
		Content:       content,
		Metadata:      metadata,
		ACL:           acl,
		TsSource:      tsSource,
		TsIngested:    now,
		SchemaVersion: models.CurrentSchemaVersion,
	}
	doc.Checksum = Checksum(doc)
	return doc
}

// Checksum hashes the identity-bearing fields. Scrubbed content feeds the
// hash, never the raw input.
func Checksum(doc *models.Document) string {
	return models.MD5Hex(canonicalJSON(map[string]any{
		"source_id": doc.SourceID,
		"content":   doc.Content,
		"metadata":  doc.Metadata,
		"ts_source": doc.TsSource.UTC().Format(time.RFC3339Nano),
	}))
}

func extractSourceID(payload map[string]any) string {
	for _, key := range []string{"id", "source_id"} {
		if v, ok := payload[key]; ok {
			if s, ok := asString(v); ok {
				return s
			}
		}
	}
	return models.MD5Hex(canonicalJSON(payload))
}

func extractContent(payload map[string]any) string {
	for _, key := range []string{"content", "text", "body"} {
		if v, ok := payload[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return canonicalJSON(payload)
}

func extractACL(payload map[string]any) []string {
	raw, ok := payload["acl"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}
