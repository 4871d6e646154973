package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// HealthStatus captures the health check result for one adapter server.
type HealthStatus struct {
	ServerID  string    `json:"server_id"`
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	Error     string    `json:"error,omitempty"`
	ToolCount int       `json:"tool_count"`
}

// HealthMonitor pings every adapter server on an interval and recreates
// transports that stop answering.
type HealthMonitor struct {
	host *Host

	checkInterval time.Duration
	pingTimeout   time.Duration

	statusesMu sync.RWMutex
	statuses   map[string]*HealthStatus

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewHealthMonitor creates a monitor over the host's server fleet.
func NewHealthMonitor(host *Host, logger *slog.Logger) *HealthMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthMonitor{
		host:          host,
		checkInterval: HealthInterval,
		pingTimeout:   HealthPingTimeout,
		statuses:      make(map[string]*HealthStatus),
		logger:        logger,
	}
}

// Start launches the background check loop.
// Calling Start on an already-running monitor is a no-op.
func (m *HealthMonitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return // already started
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go m.loop(ctx)
}

// Stop shuts the loop down and clears stale statuses so a subsequent Start
// begins with a clean slate.
func (m *HealthMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}

	m.statusesMu.Lock()
	m.statuses = make(map[string]*HealthStatus)
	m.statusesMu.Unlock()

	// Reset so Start can be called again.
	m.cancel = nil
	m.done = nil
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)

	// Run the first check immediately.
	m.checkAll(ctx)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *HealthMonitor) checkAll(ctx context.Context) {
	for _, serverID := range m.host.registry.ServerIDs() {
		m.checkServer(ctx, serverID)
	}
}

// checkServer pings once; on failure it recreates the transport and pings
// again before declaring the server unhealthy.
func (m *HealthMonitor) checkServer(ctx context.Context, serverID string) {
	pingCtx, cancel := context.WithTimeout(ctx, m.pingTimeout)
	err := m.host.Ping(pingCtx, serverID)
	cancel()

	if err != nil {
		m.logger.Debug("health ping failed, recreating transport",
			"server", serverID, "error", err)

		reconCtx, reconCancel := context.WithTimeout(ctx, ReinitTimeout)
		reinitErr := m.host.recreateTransport(reconCtx, serverID)
		reconCancel()
		if reinitErr != nil {
			m.setStatus(serverID, false, fmt.Sprintf("health check failed: %s", err.Error()), 0)
			return
		}

		retryCtx, retryCancel := context.WithTimeout(ctx, m.pingTimeout)
		err = m.host.Ping(retryCtx, serverID)
		retryCancel()
		if err != nil {
			m.setStatus(serverID, false, fmt.Sprintf("health check failed after reconnect: %s", err.Error()), 0)
			return
		}
	}

	m.setStatus(serverID, true, "", m.host.ServerToolCount(serverID))
}

func (m *HealthMonitor) setStatus(serverID string, healthy bool, errMsg string, toolCount int) {
	m.statusesMu.Lock()
	defer m.statusesMu.Unlock()
	m.statuses[serverID] = &HealthStatus{
		ServerID:  serverID,
		Healthy:   healthy,
		LastCheck: time.Now(),
		Error:     errMsg,
		ToolCount: toolCount,
	}
}

// GetStatuses returns a copy of the current per-server statuses.
func (m *HealthMonitor) GetStatuses() map[string]*HealthStatus {
	m.statusesMu.RLock()
	defer m.statusesMu.RUnlock()

	out := make(map[string]*HealthStatus, len(m.statuses))
	for k, v := range m.statuses {
		cp := *v
		out[k] = &cp
	}
	return out
}

// IsHealthy reports whether every monitored server is healthy.
// Returns false before the first check completes.
func (m *HealthMonitor) IsHealthy() bool {
	m.statusesMu.RLock()
	defer m.statusesMu.RUnlock()

	if len(m.statuses) == 0 {
		return false
	}
	for _, s := range m.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
