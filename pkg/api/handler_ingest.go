package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/corralproject/corral/pkg/models"
)

// maxUploadBytes caps file ingestion bodies.
const maxUploadBytes = 16 << 20

// ingestEvent handles POST /ingest/events: one pushed source payload.
func (s *Server) ingestEvent(c *gin.Context) {
	var ev models.SourceEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		s.badRequest(c, err)
		return
	}

	docID, err := s.pipeline.IngestEvent(c.Request.Context(), tenantID(c), ev)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "document_id": docID})
}

// ingestFile handles POST /ingest/file: multipart upload, field "file".
func (s *Server) ingestFile(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		s.badRequest(c, err)
		return
	}
	if header.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, errorBody{
			Error: "file exceeds upload limit",
			Kind:  "schema_invalid",
		})
		return
	}

	f, err := header.Open()
	if err != nil {
		s.badRequest(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		s.writeError(c, err)
		return
	}

	docID, err := s.pipeline.IngestFile(c.Request.Context(), tenantID(c), header.Filename, data)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "document_id": docID})
}

type ingestWebRequest struct {
	URLs []string `json:"urls" binding:"required,min=1"`
}

// ingestWeb handles POST /ingest/web: a bounded-concurrency URL batch.
func (s *Server) ingestWeb(c *gin.Context) {
	var req ingestWebRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	results, err := s.pipeline.IngestURLs(c.Request.Context(), tenantID(c), req.URLs)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type ingestSyncRequest struct {
	ToolID string         `json:"tool_id" binding:"required"`
	Params map[string]any `json:"params"`

	// Incremental resumes from the stored cursor; explicit false forces a
	// full sync. Defaults to true.
	Incremental *bool `json:"incremental"`
}

// ingestSync handles POST /ingest/sync: trigger one pull sync as a tracked
// run. The sync executes synchronously; clients wanting progress follow the
// run's event stream.
func (s *Server) ingestSync(c *gin.Context) {
	var req ingestSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if req.Incremental != nil && !*req.Incremental {
		if req.Params == nil {
			req.Params = map[string]any{}
		}
		// An explicit empty cursor suppresses checkpoint resume.
		req.Params["cursor"] = ""
	}

	run, err := s.pipeline.IngestSource(c.Request.Context(), tenantID(c), userID(c), req.ToolID, req.Params)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}
