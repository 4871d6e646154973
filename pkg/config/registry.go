package config

import (
	"fmt"
	"sort"
	"sync"
)

// MCPServerRegistry stores tool adapter server configurations in memory with
// thread-safe access.
type MCPServerRegistry struct {
	servers map[string]*MCPServerConfig
	mu      sync.RWMutex
}

// NewMCPServerRegistry creates a new server registry.
func NewMCPServerRegistry(servers map[string]*MCPServerConfig) *MCPServerRegistry {
	if servers == nil {
		servers = make(map[string]*MCPServerConfig)
	}
	return &MCPServerRegistry{
		servers: servers,
	}
}

// Get retrieves a server configuration by ID (thread-safe).
func (r *MCPServerRegistry) Get(serverID string) (*MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	server, exists := r.servers[serverID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMCPServerNotFound, serverID)
	}
	return server, nil
}

// GetAll returns all server configurations (thread-safe, returns copy).
func (r *MCPServerRegistry) GetAll() map[string]*MCPServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*MCPServerConfig, len(r.servers))
	for k, v := range r.servers {
		result[k] = v
	}
	return result
}

// Has checks if a server exists in the registry (thread-safe).
func (r *MCPServerRegistry) Has(serverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.servers[serverID]
	return exists
}

// ServerIDs returns a sorted list of all configured server IDs.
func (r *MCPServerRegistry) ServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.servers))
	for id := range r.servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of configured servers.
func (r *MCPServerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}

// TenantRegistry stores tenant permission policies in memory with
// thread-safe access.
type TenantRegistry struct {
	tenants map[string]*TenantConfig
	mu      sync.RWMutex
}

// NewTenantRegistry creates a new tenant registry.
func NewTenantRegistry(tenants map[string]*TenantConfig) *TenantRegistry {
	if tenants == nil {
		tenants = make(map[string]*TenantConfig)
	}
	return &TenantRegistry{
		tenants: tenants,
	}
}

// Get retrieves a tenant policy by ID (thread-safe). A tenant absent from
// configuration has no tool permissions.
func (r *TenantRegistry) Get(tenantID string) (*TenantConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenant, exists := r.tenants[tenantID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	return tenant, nil
}

// GetAll returns all tenant policies (thread-safe, returns copy).
func (r *TenantRegistry) GetAll() map[string]*TenantConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*TenantConfig, len(r.tenants))
	for k, v := range r.tenants {
		result[k] = v
	}
	return result
}

// Has checks if a tenant exists in the registry (thread-safe).
func (r *TenantRegistry) Has(tenantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tenants[tenantID]
	return exists
}

// Len returns the number of configured tenants.
func (r *TenantRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tenants)
}
