// Package models contains the canonical domain types shared across the
// ingestion pipeline, the retrieval core, and the HTTP surface.
package models

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// CurrentSchemaVersion stamps documents produced by the current normalizer.
const CurrentSchemaVersion = 1

// Document is the canonical record produced by the normalizer. Once the
// checksum is computed the document is immutable; re-ingesting the same
// source_id with different content yields a new version that supersedes the
// prior chunk set.
type Document struct {
	ID            string         `json:"id"` // tenant:source_tool:source_id
	TenantID      string         `json:"tenant_id"`
	SourceTool    string         `json:"source_tool"`
	SourceID      string         `json:"source_id"`
	Content       string         `json:"content"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ACL           []string       `json:"acl"` // canonical ACL strings, first-seen order, no duplicates
	TsSource      time.Time      `json:"ts_source"`
	TsIngested    time.Time      `json:"ts_ingested"`
	Checksum      string         `json:"checksum"`
	SchemaVersion int            `json:"schema_version"`
}

// IdempotencyKey returns the queue key that collapses duplicate deliveries.
func (d *Document) IdempotencyKey() string {
	return d.TenantID + ":" + d.SourceID
}

// DocumentID builds the canonical document ID.
func DocumentID(tenantID, sourceTool, sourceID string) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, sourceTool, sourceID)
}

// MD5Hex returns the lowercase hex MD5 of s. Content addressing only, not
// security sensitive.
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
