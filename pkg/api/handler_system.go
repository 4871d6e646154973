package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"

	"github.com/corralproject/corral/pkg/version"
)

const healthProbeTimeout = 5 * time.Second

// healthz handles GET /healthz: per-component status plus overall. Any
// failing backend flips the response to 503 so orchestrators restart or
// reroute.
func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()

	checks := s.pipeline.Health(ctx)
	healthy := true
	for _, status := range checks {
		if status != "ok" {
			healthy = false
		}
	}

	if s.host != nil {
		failed := s.host.FailedServers()
		checks["adapters_connected"] = strconv.Itoa(len(s.host.ConnectedServers()))
		for serverID, msg := range failed {
			checks["adapter:"+serverID] = msg
		}
		// Failed adapters degrade but do not fail the probe; the platform
		// still serves queries without them.
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":  overall,
		"version": version.Full(),
		"checks":  checks,
	})
}

// listTools handles GET /tools: every discovered adapter tool.
func (s *Server) listTools(c *gin.Context) {
	if s.host == nil {
		c.JSON(http.StatusNotFound, errorBody{Error: "tool host disabled", Kind: "not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": s.host.ListTools()})
}

// listAudit handles GET /audit: the most recent invocation records.
func (s *Server) listAudit(c *gin.Context) {
	if s.audit == nil {
		c.JSON(http.StatusNotFound, errorBody{Error: "audit disabled", Kind: "not_found"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	recs, err := s.audit.ListRecent(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

// metricsSnapshot handles GET /metrics/snapshot: a JSON rendering of the
// counter values and stage latency sums for dashboards that do not scrape.
func (s *Server) metricsSnapshot(c *gin.Context) {
	families, err := s.metrics.Registry().Gather()
	if err != nil {
		s.writeError(c, err)
		return
	}

	out := make(map[string]any, len(families))
	for _, mf := range families {
		series := make([]map[string]any, 0, len(mf.GetMetric()))
		for _, m := range mf.GetMetric() {
			point := make(map[string]any)
			for _, lp := range m.GetLabel() {
				point[lp.GetName()] = lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				point["value"] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				point["value"] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				point["count"] = h.GetSampleCount()
				point["sum"] = h.GetSampleSum()
				point["p50"] = bucketQuantile(0.50, h)
				point["p95"] = bucketQuantile(0.95, h)
				point["p99"] = bucketQuantile(0.99, h)
			default:
				continue
			}
			series = append(series, point)
		}
		if len(series) > 0 {
			out[mf.GetName()] = series
		}
	}
	c.JSON(http.StatusOK, out)
}

// bucketQuantile estimates a quantile from cumulative histogram buckets with
// linear interpolation, the same estimate histogram_quantile produces.
func bucketQuantile(q float64, h *dto.Histogram) float64 {
	buckets := h.GetBucket()
	total := h.GetSampleCount()
	if total == 0 || len(buckets) == 0 {
		return 0
	}
	rank := q * float64(total)
	var prevCount uint64
	var prevBound float64
	for _, b := range buckets {
		if float64(b.GetCumulativeCount()) >= rank {
			upper := b.GetUpperBound()
			if math.IsInf(upper, 1) {
				return prevBound
			}
			span := float64(b.GetCumulativeCount() - prevCount)
			if span == 0 {
				return upper
			}
			return prevBound + (upper-prevBound)*(rank-float64(prevCount))/span
		}
		prevCount = b.GetCumulativeCount()
		prevBound = b.GetUpperBound()
	}
	return prevBound
}
