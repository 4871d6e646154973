package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Request headers and context keys.
const (
	headerTenantID = "tenant-id"
	headerUserID   = "user-id"
	ctxTenantKey   = "tenant_id"
)

// requireTenant rejects requests without a tenant-id header. Tenancy is
// mandatory on every data-path endpoint; the allow-list check itself happens
// in the tool host and stores.
func (s *Server) requireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := c.GetHeader(headerTenantID)
		if tenant == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{
				Error: "tenant-id header is required",
				Kind:  "schema_invalid",
			})
			return
		}
		c.Set(ctxTenantKey, tenant)
		c.Next()
	}
}

// requestLogger logs one line per request with latency and status.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"tenant", c.GetString(ctxTenantKey),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
