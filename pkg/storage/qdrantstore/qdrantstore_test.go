package qdrantstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralproject/corral/pkg/models"
)

func TestPointIDParsesMD5Hex(t *testing.T) {
	// Chunk IDs are 32-char md5 hex, which parse as dashless UUIDs.
	id := PointID("0f343b0931126a20f133d67c2b018a3b")
	assert.Equal(t, "0f343b09-3112-6a20-f133-d67c2b018a3b", id)
}

func TestPointIDIsStableForArbitraryStrings(t *testing.T) {
	a := PointID("edge:works_for:acme:1700000000")
	b := PointID("edge:works_for:acme:1700000000")
	c := PointID("edge:works_for:acme:1700000001")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestBuildFilterTenantOnly(t *testing.T) {
	f := buildFilter(models.SearchFilters{TenantID: "acme"})
	require.Len(t, f.Must, 1)
}

func TestBuildFilterFullConstraints(t *testing.T) {
	f := buildFilter(models.SearchFilters{
		TenantID:   "acme",
		ACL:        []string{"tenant:acme", "group:eng"},
		TimeWindow: &models.TimeWindow{},
	})
	// tenant match + acl keywords + ts_source range
	require.Len(t, f.Must, 3)
}
