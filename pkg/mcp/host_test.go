package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralproject/corral/pkg/config"
	"github.com/corralproject/corral/pkg/faults"
	"github.com/corralproject/corral/pkg/models"
	"github.com/corralproject/corral/pkg/storage/memstore"
)

// fakeTransport serves canned replies keyed by method and records every
// call, so tests can assert what did (or did not) reach the adapter.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []string
	replies map[string]json.RawMessage
	errs    map[string]error
	closed  bool
}

func (f *fakeTransport) Invoke(_ context.Context, method string, _ any) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	f.mu.Unlock()
	if err, ok := f.errs[method]; ok {
		return nil, err
	}
	if raw, ok := f.replies[method]; ok {
		return raw, nil
	}
	return json.RawMessage(`{}`), nil
}

func (f *fakeTransport) Subscribe(context.Context, string, map[string]any) (<-chan Event, error) {
	ch := make(chan Event)
	close(ch)
	return ch, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

// githubListing advertises one tool with a required string parameter.
var githubListing = json.RawMessage(`{"tools":[{
	"name": "search_issues",
	"description": "Search issues",
	"schema": {
		"type": "object",
		"properties": {"query": {"type": "string"}},
		"required": ["query"],
		"additionalProperties": false
	}
}]}`)

func hostFixtures() (*config.MCPServerRegistry, *config.TenantRegistry) {
	registry := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
		"github": {Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "adapter"}},
	})
	tenants := config.NewTenantRegistry(map[string]*config.TenantConfig{
		"acme": {
			AllowedTools: []string{"github"},
			Users: map[string]config.UserConfig{
				"intern": {AllowedTools: []string{"github.list_repos"}},
			},
		},
	})
	return registry, tenants
}

// newTestHost wires a Host whose transports come from the given factory, so
// no subprocess or HTTP server is involved.
func newTestHost(t *testing.T, audit *memstore.AuditStore, factory transportFactory) *Host {
	t.Helper()
	registry, tenants := hostFixtures()
	h := NewHost(registry, tenants, audit, testLogger())
	h.newTransport = factory
	require.NoError(t, h.Initialize(context.Background()))
	require.Empty(t, h.FailedServers())
	return h
}

func singleTransportFactory(ft *fakeTransport) transportFactory {
	return func(context.Context, string, config.TransportConfig, *slog.Logger) (Transport, error) {
		return ft, nil
	}
}

func TestInvokeToolHappyPathWritesAudit(t *testing.T) {
	ft := &fakeTransport{replies: map[string]json.RawMessage{
		methodListTools: githubListing,
		"search_issues": json.RawMessage(`{"items":[1,2]}`),
	}}
	audit := memstore.NewAuditStore()
	h := newTestHost(t, audit, singleTransportFactory(ft))

	result, err := h.InvokeTool(context.Background(), "acme", "lead", "github.search_issues",
		map[string]any{"query": "orion"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[1,2]}`, string(result))
	assert.Equal(t, 1, ft.callCount("search_issues"))

	recs, err := audit.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2, "one started and one terminal record")
	byOutcome := map[string]*models.AuditRecord{}
	for _, r := range recs {
		byOutcome[r.Outcome] = r
	}
	started, ok := byOutcome[models.AuditStarted]
	require.True(t, ok)
	success, ok := byOutcome[models.AuditSuccess]
	require.True(t, ok)
	assert.Equal(t, started.InvocationID, success.InvocationID)
	assert.Equal(t, "github.search_issues", success.ToolID)
	assert.Equal(t, "acme", success.TenantID)
	assert.Equal(t, "lead", success.UserID)
	assert.Equal(t, map[string]any{"query": "orion"}, started.Params)
	assert.Equal(t, fmt.Sprintf("result_bytes=%d", len(result)), success.Detail)
}

func TestInvokeToolDeniedBeforeTransport(t *testing.T) {
	ft := &fakeTransport{replies: map[string]json.RawMessage{methodListTools: githubListing}}
	audit := memstore.NewAuditStore()
	h := newTestHost(t, audit, singleTransportFactory(ft))

	// Unknown tenant.
	_, err := h.InvokeTool(context.Background(), "globex", "", "github.search_issues",
		map[string]any{"query": "x"})
	require.Error(t, err)
	assert.Equal(t, faults.PermissionDenied, faults.KindOf(err))

	// Known tenant, capability outside its allow-list.
	_, err = h.InvokeTool(context.Background(), "acme", "", "jira.search",
		map[string]any{"query": "x"})
	require.Error(t, err)
	assert.Equal(t, faults.PermissionDenied, faults.KindOf(err))

	assert.Zero(t, ft.callCount("search_issues"), "denied calls never reach the adapter")
	recs, err := audit.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recs, "denied calls are rejected before the audit trail starts")
}

func TestInvokeToolPerUserNarrowing(t *testing.T) {
	ft := &fakeTransport{replies: map[string]json.RawMessage{
		methodListTools: githubListing,
		"search_issues": json.RawMessage(`{}`),
	}}
	h := newTestHost(t, memstore.NewAuditStore(), singleTransportFactory(ft))

	// The intern's narrowed list does not include search_issues.
	_, err := h.InvokeTool(context.Background(), "acme", "intern", "github.search_issues",
		map[string]any{"query": "x"})
	require.Error(t, err)
	assert.Equal(t, faults.PermissionDenied, faults.KindOf(err))

	// A user without a narrowing entry falls back to the tenant list.
	_, err = h.InvokeTool(context.Background(), "acme", "someone-else", "github.search_issues",
		map[string]any{"query": "x"})
	require.NoError(t, err)
}

func TestInvokeToolRejectsSchemaViolation(t *testing.T) {
	ft := &fakeTransport{replies: map[string]json.RawMessage{methodListTools: githubListing}}
	audit := memstore.NewAuditStore()
	h := newTestHost(t, audit, singleTransportFactory(ft))

	for name, params := range map[string]map[string]any{
		"wrong type":       {"query": 42},
		"missing required": {},
		"extra property":   {"query": "x", "page": 1},
	} {
		_, err := h.InvokeTool(context.Background(), "acme", "", "github.search_issues", params)
		require.Error(t, err, name)
		assert.Equal(t, faults.SchemaInvalid, faults.KindOf(err), name)
	}

	assert.Zero(t, ft.callCount("search_issues"), "invalid params never reach the adapter")
	recs, err := audit.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recs, "validation rejects before the audit trail starts")
}

func TestInvokeToolReconnectsAfterTransportLoss(t *testing.T) {
	lost := &fakeTransport{
		replies: map[string]json.RawMessage{methodListTools: githubListing},
		errs: map[string]error{
			"search_issues": faults.Errorf(faults.TransportClosed, "mcp.transport", "pipe broke"),
		},
	}
	fresh := &fakeTransport{replies: map[string]json.RawMessage{
		methodListTools: githubListing,
		"search_issues": json.RawMessage(`{"items":[]}`),
	}}

	var mu sync.Mutex
	var created int
	factory := func(context.Context, string, config.TransportConfig, *slog.Logger) (Transport, error) {
		mu.Lock()
		defer mu.Unlock()
		created++
		if created == 1 {
			return lost, nil
		}
		return fresh, nil
	}

	audit := memstore.NewAuditStore()
	h := newTestHost(t, audit, factory)

	result, err := h.InvokeTool(context.Background(), "acme", "", "github.search_issues",
		map[string]any{"query": "orion"})
	require.NoError(t, err, "one transport loss recovers transparently")
	assert.JSONEq(t, `{"items":[]}`, string(result))

	mu.Lock()
	assert.Equal(t, 2, created, "exactly one reconnect")
	mu.Unlock()
	assert.True(t, lost.closed, "the dead transport is torn down")
	assert.Equal(t, 1, fresh.callCount("search_issues"))

	recs, err := audit.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	outcomes := []string{recs[0].Outcome, recs[1].Outcome}
	assert.Contains(t, outcomes, models.AuditSuccess, "the invocation audits as one successful call")
}

func TestInvokeToolUnknownToolIsNotFound(t *testing.T) {
	ft := &fakeTransport{replies: map[string]json.RawMessage{methodListTools: githubListing}}
	h := newTestHost(t, memstore.NewAuditStore(), singleTransportFactory(ft))

	_, err := h.InvokeTool(context.Background(), "acme", "", "github.delete_repo",
		map[string]any{"query": "x"})
	require.Error(t, err)
	assert.Equal(t, faults.NotFound, faults.KindOf(err))
}

func TestInvokeToolErrorAuditsFailure(t *testing.T) {
	ft := &fakeTransport{
		replies: map[string]json.RawMessage{methodListTools: githubListing},
		errs: map[string]error{
			"search_issues": faults.Errorf(faults.DependencyUnavailable, "mcp.transport", "rate limited"),
		},
	}
	audit := memstore.NewAuditStore()
	h := newTestHost(t, audit, singleTransportFactory(ft))

	_, err := h.InvokeTool(context.Background(), "acme", "", "github.search_issues",
		map[string]any{"query": "x"})
	require.Error(t, err)

	recs, lerr := audit.ListRecent(context.Background(), 10)
	require.NoError(t, lerr)
	require.Len(t, recs, 2)
	var terminal *models.AuditRecord
	for _, r := range recs {
		if r.Outcome != models.AuditStarted {
			terminal = r
		}
	}
	require.NotNil(t, terminal)
	assert.Equal(t, models.AuditError, terminal.Outcome)
	assert.Contains(t, terminal.Detail, "rate limited")
}
