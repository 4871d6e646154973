package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/corralproject/corral/pkg/models"
)

// query handles POST /query. The tenant header overrides any tenant in the
// body so a caller can never query across tenants. stream=true switches the
// response to SSE frames.
func (s *Server) query(c *gin.Context) {
	var q models.HybridQuery
	if err := c.ShouldBindJSON(&q); err != nil {
		s.badRequest(c, err)
		return
	}
	if q.Filters == nil {
		q.Filters = &models.SearchFilters{}
	}
	q.Filters.TenantID = tenantID(c)

	if !q.Stream {
		answer, err := s.pipeline.Query(c.Request.Context(), q)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, answer)
		return
	}

	frames, err := s.pipeline.QueryStream(c.Request.Context(), q)
	if err != nil {
		s.writeError(c, err)
		return
	}

	sseHeaders(c)
	c.Stream(func(w io.Writer) bool {
		frame, ok := <-frames
		if !ok {
			return false
		}
		data, err := json.Marshal(frame)
		if err != nil {
			s.logger.Error("frame marshal failed", "error", err)
			return false
		}
		c.SSEvent("message", string(data))
		return !frame.Done
	})
}

func sseHeaders(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}
