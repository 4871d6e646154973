package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/corralproject/corral/pkg/faults"
)

// errorBody is the stable error contract: a message plus the fault kind
// string clients can branch on.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps a fault kind to its HTTP status.
func statusFor(kind faults.Kind) int {
	switch kind {
	case faults.SchemaInvalid:
		return http.StatusBadRequest
	case faults.PermissionDenied:
		return http.StatusForbidden
	case faults.NotFound:
		return http.StatusNotFound
	case faults.Timeout:
		return http.StatusGatewayTimeout
	case faults.Cancelled:
		return 499 // client closed request
	case faults.DependencyUnavailable, faults.TransportClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders one error response. Internal details are logged, not
// leaked, for unclassified failures.
func (s *Server) writeError(c *gin.Context, err error) {
	kind := faults.KindOf(err)
	status := statusFor(kind)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
		msg = "internal error"
	}
	c.JSON(status, errorBody{Error: msg, Kind: string(kind)})
}

// badRequest renders a schema_invalid error for malformed request bodies.
func (s *Server) badRequest(c *gin.Context, err error) {
	s.writeError(c, faults.E(faults.SchemaInvalid, "api", err))
}
