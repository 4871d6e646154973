package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/corralproject/corral/pkg/config"
	"github.com/corralproject/corral/pkg/faults"
	"github.com/corralproject/corral/pkg/models"
	"github.com/corralproject/corral/pkg/storage"
)

// Tool is a discovered tool capability, addressed by the qualified ID
// "server_id.name".
type Tool struct {
	ID          string          `json:"id"`
	ServerID    string          `json:"server_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// Resource is a discovered subscribable capability.
type Resource struct {
	ID          string          `json:"id"`
	ServerID    string          `json:"server_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// Prompt is a discovered prompt template.
type Prompt struct {
	ID          string `json:"id"`
	ServerID    string `json:"server_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Template    string `json:"template"`
}

// Wire shapes of the discovery replies.
type capabilityDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
	Template    string          `json:"template"`
}

type listToolsResult struct {
	Tools []capabilityDescriptor `json:"tools"`
}

type listResourcesResult struct {
	Resources []capabilityDescriptor `json:"resources"`
}

type listPromptsResult struct {
	Prompts []capabilityDescriptor `json:"prompts"`
}

// transportFactory builds an initialized transport. Swappable so tests can
// wire fakes without spawning processes or servers.
type transportFactory func(ctx context.Context, serverID string, cfg config.TransportConfig, logger *slog.Logger) (Transport, error)

// Host owns one transport per configured adapter server and fronts every
// invocation with discovery, schema validation, permission checks, and audit
// records.
// Thread-safe: calls may come from the API and ingestion workers at once.
type Host struct {
	registry *config.MCPServerRegistry
	tenants  *config.TenantRegistry
	audit    storage.AuditStore

	mu            sync.RWMutex
	transports    map[string]Transport
	failedServers map[string]string // serverID → error message

	// Capability cache, populated by discovery and keyed "server_id.name".
	// Lock ordering: never acquire mu while holding capMu.
	capMu     sync.RWMutex
	tools     map[string]*Tool
	resources map[string]*Resource
	prompts   map[string]*Prompt

	// Compiled param schemas by qualified ID. A nil entry marks a schema
	// that failed to compile so it is not recompiled on every call.
	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema

	// Per-server mutex serializing transport (re)creation.
	reinitMu sync.Map // serverID → *sync.Mutex

	newTransport transportFactory

	logger *slog.Logger
}

// NewHost creates a Host over the configured servers. Call Initialize to
// connect and discover capabilities. A nil audit store disables audit
// persistence (tests only; production always wires one).
func NewHost(registry *config.MCPServerRegistry, tenants *config.TenantRegistry, audit storage.AuditStore, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		registry:      registry,
		tenants:       tenants,
		audit:         audit,
		transports:    make(map[string]Transport),
		failedServers: make(map[string]string),
		tools:         make(map[string]*Tool),
		resources:     make(map[string]*Resource),
		prompts:       make(map[string]*Prompt),
		schemas:       make(map[string]*jsonschema.Schema),
		newTransport:  newTransport,
		logger:        logger,
	}
}

// Initialize connects to all configured servers. Servers that fail are
// recorded in FailedServers and retried lazily on first use; the caller
// decides whether a partial fleet is acceptable.
func (h *Host) Initialize(ctx context.Context) error {
	for _, serverID := range h.registry.ServerIDs() {
		if err := h.InitializeServer(ctx, serverID); err != nil {
			h.mu.Lock()
			h.failedServers[serverID] = err.Error()
			h.mu.Unlock()
			h.logger.Warn("adapter server failed to initialize",
				"server", serverID, "error", err)
		}
	}
	return nil
}

// InitializeServer connects a single server. Returns nil if already
// connected. Serialized per server so concurrent callers do not race to
// spawn duplicate transports.
func (h *Host) InitializeServer(ctx context.Context, serverID string) error {
	muI, _ := h.reinitMu.LoadOrStore(serverID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	return h.initializeServerLocked(ctx, serverID)
}

// initializeServerLocked performs the actual connection. Caller must hold
// the per-server reinitMu lock.
func (h *Host) initializeServerLocked(ctx context.Context, serverID string) error {
	h.mu.RLock()
	_, exists := h.transports[serverID]
	h.mu.RUnlock()
	if exists {
		return nil
	}

	serverCfg, err := h.registry.Get(serverID)
	if err != nil {
		return fmt.Errorf("server %q not found in registry: %w", serverID, err)
	}

	t, err := h.newTransport(ctx, serverID, serverCfg.Transport, h.logger)
	if err != nil {
		return fmt.Errorf("connect to %q: %w", serverID, err)
	}

	h.mu.Lock()
	h.transports[serverID] = t
	delete(h.failedServers, serverID)
	h.mu.Unlock()

	tools, resources, prompts := h.discoverServer(ctx, serverID, t)
	h.logger.Info("adapter server connected",
		"server", serverID, "tools", tools, "resources", resources, "prompts", prompts)
	return nil
}

// discoverServer refreshes the capability cache for one server. Failure of
// an individual listing is logged, not fatal: a server that cannot list
// resources simply contributes none.
func (h *Host) discoverServer(ctx context.Context, serverID string, t Transport) (int, int, int) {
	h.dropServerCaps(serverID)

	var nTools, nResources, nPrompts int

	var toolsRes listToolsResult
	if err := invokeInto(ctx, t, methodListTools, &toolsRes); err != nil {
		h.logger.Warn("tool discovery failed", "server", serverID, "error", err)
	} else {
		h.capMu.Lock()
		for _, d := range toolsRes.Tools {
			id := serverID + "." + d.Name
			h.tools[id] = &Tool{ID: id, ServerID: serverID, Name: d.Name, Description: d.Description, Schema: d.Schema}
			nTools++
		}
		h.capMu.Unlock()
	}

	var resourcesRes listResourcesResult
	if err := invokeInto(ctx, t, methodListResources, &resourcesRes); err != nil {
		h.logger.Warn("resource discovery failed", "server", serverID, "error", err)
	} else {
		h.capMu.Lock()
		for _, d := range resourcesRes.Resources {
			id := serverID + "." + d.Name
			h.resources[id] = &Resource{ID: id, ServerID: serverID, Name: d.Name, Description: d.Description, Schema: d.Schema}
			nResources++
		}
		h.capMu.Unlock()
	}

	var promptsRes listPromptsResult
	if err := invokeInto(ctx, t, methodListPrompts, &promptsRes); err != nil {
		h.logger.Warn("prompt discovery failed", "server", serverID, "error", err)
	} else {
		h.capMu.Lock()
		for _, d := range promptsRes.Prompts {
			id := serverID + "." + d.Name
			h.prompts[id] = &Prompt{ID: id, ServerID: serverID, Name: d.Name, Description: d.Description, Template: d.Template}
			nPrompts++
		}
		h.capMu.Unlock()
	}

	return nTools, nResources, nPrompts
}

// invokeInto unmarshals a call result into out. An empty result leaves out
// at its zero value.
func invokeInto(ctx context.Context, t Transport, method string, out any) error {
	raw, err := t.Invoke(ctx, method, map[string]any{})
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// dropServerCaps removes all cached capabilities and compiled schemas for a
// server ahead of re-discovery.
func (h *Host) dropServerCaps(serverID string) {
	prefix := serverID + "."

	h.capMu.Lock()
	for id := range h.tools {
		if strings.HasPrefix(id, prefix) {
			delete(h.tools, id)
		}
	}
	for id := range h.resources {
		if strings.HasPrefix(id, prefix) {
			delete(h.resources, id)
		}
	}
	for id := range h.prompts {
		if strings.HasPrefix(id, prefix) {
			delete(h.prompts, id)
		}
	}
	h.capMu.Unlock()

	h.schemaMu.Lock()
	for id := range h.schemas {
		if strings.HasPrefix(id, prefix) {
			delete(h.schemas, id)
		}
	}
	h.schemaMu.Unlock()
}

// RefreshCapabilities re-runs discovery against a connected server.
func (h *Host) RefreshCapabilities(ctx context.Context, serverID string) error {
	t, err := h.transport(serverID)
	if err != nil {
		return err
	}
	h.discoverServer(ctx, serverID, t)
	return nil
}

// InvokeTool runs one tool call end to end: permission check, discovery
// lookup, schema validation, audit, transport invoke. The adapter's raw
// result is returned untouched.
//
// A lost transport triggers one transparent reconnect and retry; every other
// failure surfaces to the caller, who owns the retry policy.
func (h *Host) InvokeTool(ctx context.Context, tenantID, userID, toolID string, params map[string]any) (json.RawMessage, error) {
	const op = "mcp.invoke_tool"

	if params == nil {
		params = map[string]any{}
	}
	if err := h.checkPermission(op, tenantID, userID, toolID); err != nil {
		return nil, err
	}
	tool, err := h.lookupTool(ctx, toolID)
	if err != nil {
		return nil, err
	}
	if err := validateParams(op, h.paramSchema(tool.ID, tool.Schema), params); err != nil {
		return nil, err
	}

	invocationID := uuid.NewString()
	h.auditStart(ctx, invocationID, toolID, tenantID, userID, params)

	result, err := h.invokeWithRecovery(ctx, tool, params)
	if err != nil {
		h.auditEnd(ctx, invocationID, toolID, tenantID, userID, models.AuditError, err.Error())
		return nil, err
	}
	h.auditEnd(ctx, invocationID, toolID, tenantID, userID, models.AuditSuccess,
		fmt.Sprintf("result_bytes=%d", len(result)))
	return result, nil
}

// SubscribeResource opens an event stream for a qualified resource ID. The
// stream ends when the server closes it or ctx is cancelled; restart with
// params["last_event_id"] to resume.
func (h *Host) SubscribeResource(ctx context.Context, tenantID, userID, resourceID string, params map[string]any) (<-chan Event, error) {
	const op = "mcp.subscribe_resource"

	if params == nil {
		params = map[string]any{}
	}
	if err := h.checkPermission(op, tenantID, userID, resourceID); err != nil {
		return nil, err
	}

	h.capMu.RLock()
	res, ok := h.resources[resourceID]
	h.capMu.RUnlock()
	if !ok {
		return nil, faults.Errorf(faults.NotFound, op, "resource %q not found", resourceID)
	}
	if err := validateParams(op, h.paramSchema(res.ID, res.Schema), params); err != nil {
		return nil, err
	}

	t, err := h.transport(res.ServerID)
	if err != nil {
		return nil, err
	}

	invocationID := uuid.NewString()
	h.auditStart(ctx, invocationID, resourceID, tenantID, userID, params)

	events, err := t.Subscribe(ctx, res.Name, params)
	if err != nil {
		h.auditEnd(ctx, invocationID, resourceID, tenantID, userID, models.AuditError, err.Error())
		return nil, err
	}
	return events, nil
}

// GetPrompt fills a discovered prompt template. Placeholders use {name}
// syntax; unknown placeholders are left in place.
func (h *Host) GetPrompt(promptID string, params map[string]any) (string, error) {
	h.capMu.RLock()
	p, ok := h.prompts[promptID]
	h.capMu.RUnlock()
	if !ok {
		return "", faults.Errorf(faults.NotFound, "mcp.get_prompt", "prompt %q not found", promptID)
	}

	out := p.Template
	for k, v := range params {
		out = strings.ReplaceAll(out, "{"+k+"}", fmt.Sprintf("%v", v))
	}
	return out, nil
}

// Tool resolves a qualified tool ID from the discovery cache.
func (h *Host) Tool(toolID string) (*Tool, error) {
	h.capMu.RLock()
	t, ok := h.tools[toolID]
	h.capMu.RUnlock()
	if !ok {
		return nil, faults.Errorf(faults.NotFound, "mcp.host", "tool %q not found", toolID)
	}
	cp := *t
	return &cp, nil
}

// ListTools returns every discovered tool sorted by qualified ID.
func (h *Host) ListTools() []*Tool {
	h.capMu.RLock()
	out := make([]*Tool, 0, len(h.tools))
	for _, t := range h.tools {
		cp := *t
		out = append(out, &cp)
	}
	h.capMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListResources returns every discovered resource sorted by qualified ID.
func (h *Host) ListResources() []*Resource {
	h.capMu.RLock()
	out := make([]*Resource, 0, len(h.resources))
	for _, r := range h.resources {
		cp := *r
		out = append(out, &cp)
	}
	h.capMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListPrompts returns every discovered prompt sorted by qualified ID.
func (h *Host) ListPrompts() []*Prompt {
	h.capMu.RLock()
	out := make([]*Prompt, 0, len(h.prompts))
	for _, p := range h.prompts {
		cp := *p
		out = append(out, &cp)
	}
	h.capMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ServerToolCount reports how many tools the cache holds for one server.
func (h *Host) ServerToolCount(serverID string) int {
	prefix := serverID + "."
	h.capMu.RLock()
	defer h.capMu.RUnlock()

	n := 0
	for id := range h.tools {
		if strings.HasPrefix(id, prefix) {
			n++
		}
	}
	return n
}

// Ping round-trips mcp.ping against one server.
func (h *Host) Ping(ctx context.Context, serverID string) error {
	t, err := h.transport(serverID)
	if err != nil {
		return err
	}
	_, err = t.Invoke(ctx, methodPing, map[string]any{})
	return err
}

// Health pings every configured server once and reports per-server outcome.
func (h *Host) Health(ctx context.Context) map[string]error {
	out := make(map[string]error)
	for _, serverID := range h.registry.ServerIDs() {
		pingCtx, cancel := context.WithTimeout(ctx, HealthPingTimeout)
		out[serverID] = h.Ping(pingCtx, serverID)
		cancel()
	}
	return out
}

// FailedServers returns the servers that failed to initialize, with the last
// error message for each.
func (h *Host) FailedServers() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]string, len(h.failedServers))
	for k, v := range h.failedServers {
		out[k] = v
	}
	return out
}

// ConnectedServers returns the IDs of servers with a live transport, sorted.
func (h *Host) ConnectedServers() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.transports))
	for id := range h.transports {
		out = append(out, id)
	}
	h.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Close shuts down every transport and clears all cached state.
func (h *Host) Close() error {
	h.mu.Lock()
	var firstErr error
	for id, t := range h.transports {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close transport %q: %w", id, err)
		}
	}
	h.transports = make(map[string]Transport)
	h.failedServers = make(map[string]string)
	h.mu.Unlock()

	h.capMu.Lock()
	h.tools = make(map[string]*Tool)
	h.resources = make(map[string]*Resource)
	h.prompts = make(map[string]*Prompt)
	h.capMu.Unlock()

	h.schemaMu.Lock()
	h.schemas = make(map[string]*jsonschema.Schema)
	h.schemaMu.Unlock()

	return firstErr
}

// lookupTool resolves toolID, lazily connecting the owning server when it is
// configured but not yet up.
func (h *Host) lookupTool(ctx context.Context, toolID string) (*Tool, error) {
	tool, err := h.Tool(toolID)
	if err == nil {
		return tool, nil
	}

	serverID, _, ok := strings.Cut(toolID, ".")
	if !ok || !h.registry.Has(serverID) {
		return nil, err
	}
	h.mu.RLock()
	_, connected := h.transports[serverID]
	h.mu.RUnlock()
	if connected {
		return nil, err
	}

	if initErr := h.InitializeServer(ctx, serverID); initErr != nil {
		h.mu.Lock()
		h.failedServers[serverID] = initErr.Error()
		h.mu.Unlock()
		return nil, err
	}
	return h.Tool(toolID)
}

// invokeWithRecovery performs the transport call. When the transport turns
// out to be gone it reconnects once after a jittered backoff and retries; a
// second failure is the caller's problem.
func (h *Host) invokeWithRecovery(ctx context.Context, tool *Tool, params map[string]any) (json.RawMessage, error) {
	t, err := h.transport(tool.ServerID)
	if err != nil {
		return nil, err
	}

	result, err := t.Invoke(ctx, tool.Name, params)
	if err == nil || faults.KindOf(err) != faults.TransportClosed {
		return result, err
	}

	h.logger.Info("tool call lost its transport, reconnecting",
		"server", tool.ServerID, "tool", tool.Name, "error", err)

	backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, faults.E(faults.Cancelled, "mcp.invoke_tool", ctx.Err())
	}

	if err := h.recreateTransport(ctx, tool.ServerID); err != nil {
		return nil, fmt.Errorf("transport recreation failed for %q: %w", tool.ServerID, err)
	}
	t, err = h.transport(tool.ServerID)
	if err != nil {
		return nil, err
	}
	return t.Invoke(ctx, tool.Name, params)
}

// recreateTransport tears down a server's transport and builds a fresh one,
// re-running discovery. Concurrent callers serialize on the per-server
// mutex; the loser pays one redundant teardown of an already-fresh
// transport, which is accepted over tracking generations.
func (h *Host) recreateTransport(ctx context.Context, serverID string) error {
	muI, _ := h.reinitMu.LoadOrStore(serverID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	h.mu.Lock()
	if t, ok := h.transports[serverID]; ok {
		_ = t.Close()
		delete(h.transports, serverID)
	}
	h.mu.Unlock()

	reinitCtx, cancel := context.WithTimeout(ctx, ReinitTimeout)
	defer cancel()
	return h.initializeServerLocked(reinitCtx, serverID)
}

func (h *Host) transport(serverID string) (Transport, error) {
	h.mu.RLock()
	t, ok := h.transports[serverID]
	h.mu.RUnlock()
	if !ok {
		return nil, faults.Errorf(faults.TransportClosed, "mcp.host", "no transport for server %q", serverID)
	}
	return t, nil
}

// checkPermission enforces the tenant allow-list and the optional per-user
// narrowing. An entry is either a qualified ID ("github.search_issues") or a
// bare server ID granting every capability on that server. A tenant absent
// from configuration, or one with an empty list, is denied everything.
func (h *Host) checkPermission(op, tenantID, userID, capID string) error {
	tenant, err := h.tenants.Get(tenantID)
	if err != nil {
		return faults.Errorf(faults.PermissionDenied, op, "unknown tenant %q", tenantID)
	}
	if !allowListed(tenant.AllowedTools, capID) {
		return faults.Errorf(faults.PermissionDenied, op, "tenant %q is not allowed %q", tenantID, capID)
	}
	if userID != "" {
		if user, ok := tenant.Users[userID]; ok && len(user.AllowedTools) > 0 {
			if !allowListed(user.AllowedTools, capID) {
				return faults.Errorf(faults.PermissionDenied, op, "user %q is not allowed %q", userID, capID)
			}
		}
	}
	return nil
}

// allowListed reports whether capID ("server.name") matches any entry.
func allowListed(entries []string, capID string) bool {
	serverID, _, _ := strings.Cut(capID, ".")
	for _, e := range entries {
		if e == capID || e == serverID {
			return true
		}
	}
	return false
}

// paramSchema returns the compiled schema for a capability, compiling once.
// Capabilities without a schema validate nothing; a schema that does not
// compile is the adapter's bug and is logged rather than turned into caller
// failures.
func (h *Host) paramSchema(capID string, raw json.RawMessage) *jsonschema.Schema {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	h.schemaMu.Lock()
	defer h.schemaMu.Unlock()
	if s, ok := h.schemas[capID]; ok {
		return s
	}
	s, err := compileSchema(raw)
	if err != nil {
		h.logger.Warn("advertised schema does not compile, skipping validation",
			"capability", capID, "error", err)
		s = nil
	}
	h.schemas[capID] = s
	return s
}

// auditStart emits the append-only "started" record for an invocation.
func (h *Host) auditStart(ctx context.Context, invocationID, toolID, tenantID, userID string, params map[string]any) {
	h.auditAppend(ctx, &models.AuditRecord{
		InvocationID: invocationID,
		ToolID:       toolID,
		TenantID:     tenantID,
		UserID:       userID,
		Params:       params,
		Ts:           time.Now().UTC(),
		Outcome:      models.AuditStarted,
	})
	h.logger.Info("tool invocation",
		"invocation_id", invocationID, "tool", toolID, "tenant", tenantID, "user", userID)
}

// auditEnd emits the terminal record: success carries the result size,
// error carries the message.
func (h *Host) auditEnd(ctx context.Context, invocationID, toolID, tenantID, userID, outcome, detail string) {
	h.auditAppend(ctx, &models.AuditRecord{
		InvocationID: invocationID,
		ToolID:       toolID,
		TenantID:     tenantID,
		UserID:       userID,
		Ts:           time.Now().UTC(),
		Outcome:      outcome,
		Detail:       detail,
	})
}

// auditAppend writes one record. The write survives caller cancellation so
// terminal records land even for cancelled calls; storage failures are
// logged and swallowed because an audit outage must not take tool calls
// down with it.
func (h *Host) auditAppend(ctx context.Context, rec *models.AuditRecord) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Append(context.WithoutCancel(ctx), rec); err != nil {
		h.logger.Warn("audit append failed", "invocation_id", rec.InvocationID, "error", err)
	}
}
