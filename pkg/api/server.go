// Package api is the HTTP surface: ingestion endpoints, the query endpoint
// with optional SSE streaming, run inspection, and operational endpoints.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/corralproject/corral/pkg/events"
	"github.com/corralproject/corral/pkg/ingest"
	"github.com/corralproject/corral/pkg/mcp"
	"github.com/corralproject/corral/pkg/models"
	"github.com/corralproject/corral/pkg/obs"
	"github.com/corralproject/corral/pkg/storage"
)

// Pipeline is the orchestrator surface the handlers call. Satisfied by
// *pipeline.Pipeline.
type Pipeline interface {
	IngestEvent(ctx context.Context, tenantID string, ev models.SourceEvent) (string, error)
	IngestFile(ctx context.Context, tenantID, name string, data []byte) (string, error)
	IngestURLs(ctx context.Context, tenantID string, urls []string) ([]ingest.WebResult, error)
	IngestSource(ctx context.Context, tenantID, userID, toolID string, params map[string]any) (*models.PipelineRun, error)
	Query(ctx context.Context, q models.HybridQuery) (*models.Answer, error)
	QueryStream(ctx context.Context, q models.HybridQuery) (<-chan models.Frame, error)
	GetRun(ctx context.Context, id string) (*models.PipelineRun, error)
	ListRuns(ctx context.Context, f models.RunFilters) (*models.RunListResponse, error)
	Health(ctx context.Context) map[string]string
}

// ToolHost is the capability-listing slice of the tool host. Satisfied by
// *mcp.Host.
type ToolHost interface {
	ListTools() []*mcp.Tool
	ConnectedServers() []string
	FailedServers() map[string]string
}

// Server holds handler dependencies. broker, catchup, audit, metrics, and
// host may be nil; the corresponding endpoints degrade or 404.
type Server struct {
	pipeline Pipeline
	host     ToolHost
	broker   *events.Broker
	catchup  events.Catchup
	audit    storage.AuditStore
	metrics  *obs.Metrics
	logger   *slog.Logger
}

func NewServer(p Pipeline, host ToolHost, broker *events.Broker, catchup events.Catchup, audit storage.AuditStore, metrics *obs.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		pipeline: p,
		host:     host,
		broker:   broker,
		catchup:  catchup,
		audit:    audit,
		metrics:  metrics,
		logger:   logger,
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), securityHeaders())

	r.POST("/ingest/events", s.requireTenant(), s.ingestEvent)
	r.POST("/ingest/file", s.requireTenant(), s.ingestFile)
	r.POST("/ingest/web", s.requireTenant(), s.ingestWeb)
	r.POST("/ingest/sync", s.requireTenant(), s.ingestSync)

	r.POST("/query", s.requireTenant(), s.query)

	r.GET("/runs", s.listRuns)
	r.GET("/runs/:id", s.getRun)
	r.GET("/runs/:id/events", s.runEvents)
	r.GET("/events", s.globalEvents)

	r.GET("/tools", s.listTools)
	r.GET("/audit", s.listAudit)

	r.GET("/healthz", s.healthz)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
		r.GET("/metrics/snapshot", s.metricsSnapshot)
	}
	return r
}

// tenantID reads the validated tenant header set by requireTenant.
func tenantID(c *gin.Context) string { return c.GetString(ctxTenantKey) }

// userID reads the optional user header.
func userID(c *gin.Context) string { return c.GetHeader(headerUserID) }

var _ http.Handler = (*gin.Engine)(nil)
