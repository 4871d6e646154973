package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/corralproject/corral/pkg/events"
	"github.com/corralproject/corral/pkg/models"
)

// listRuns handles GET /runs with tenant/tool/status/limit/offset query
// params.
func (s *Server) listRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	resp, err := s.pipeline.ListRuns(c.Request.Context(), models.RunFilters{
		TenantID: c.Query("tenant_id"),
		ToolID:   c.Query("tool_id"),
		Status:   models.RunStatus(c.Query("status")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// getRun handles GET /runs/:id.
func (s *Server) getRun(c *gin.Context) {
	run, err := s.pipeline.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// runEvents handles GET /runs/:id/events: the SSE feed for one run.
func (s *Server) runEvents(c *gin.Context) {
	s.streamChannel(c, events.RunChannel(c.Param("id")))
}

// globalEvents handles GET /events: the SSE feed of all run activity.
func (s *Server) globalEvents(c *gin.Context) {
	s.streamChannel(c, events.GlobalRunsChannel)
}

// streamChannel serves one broker channel as SSE. A Last-Event-ID header
// replays persisted events past that ID before following live deliveries;
// duplicates across the seam are possible and clients dedup by db_event_id.
func (s *Server) streamChannel(c *gin.Context, channel string) {
	if s.broker == nil {
		c.JSON(http.StatusNotFound, errorBody{Error: "event streaming disabled", Kind: "not_found"})
		return
	}

	ctx := c.Request.Context()
	live, cancel := s.broker.Subscribe(ctx, channel)
	defer cancel()

	sseHeaders(c)
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	if s.catchup != nil {
		if lastID, err := strconv.ParseInt(c.GetHeader("Last-Event-ID"), 10, 64); err == nil {
			missed, err := s.catchup.ListSince(ctx, channel, lastID, 0)
			if err != nil {
				s.logger.Warn("event catchup failed", "channel", channel, "error", err)
			}
			for _, payload := range missed {
				c.SSEvent("message", string(payload))
			}
			c.Writer.Flush()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-live:
			if !ok {
				return
			}
			c.SSEvent("message", string(payload))
			c.Writer.Flush()
		}
	}
}
