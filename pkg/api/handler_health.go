package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/crawlwatch/pkg/models"
	"github.com/codeready-toolchain/crawlwatch/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Only the database makes the service unhealthy. A stale engine poll degrades
// it without failing the probe, so an orchestrator does not restart the
// monitor because the engine is down.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.db != nil {
		if _, err := s.db.Health(reqCtx); err != nil {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	conn := s.monitor.Snapshot().Connectivity
	if conn.Poll == models.PollHealthStale {
		if status == healthStatusHealthy {
			status = healthStatusDegraded
		}
		checks["engine_poll"] = HealthCheck{Status: healthStatusDegraded, Message: "status polling is failing"}
	} else {
		checks["engine_poll"] = HealthCheck{Status: healthStatusHealthy, Message: string(conn.Poll)}
	}
	checks["engine_push"] = HealthCheck{Status: healthStatusHealthy, Message: string(conn.Push)}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.Full(),
		Checks:  checks,
	})
}
