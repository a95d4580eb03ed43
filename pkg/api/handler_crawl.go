package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/crawlwatch/pkg/models"
)

// getCrawlHandler handles GET /api/v1/crawl.
func (s *Server) getCrawlHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.Snapshot())
}

// startCrawlHandler handles POST /api/v1/crawl.
func (s *Server) startCrawlHandler(c *gin.Context) {
	var req StartCrawlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	sessionID, err := s.monitor.Start(c.Request.Context(), req.URL, req.Options)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, StartCrawlResponse{
		SessionID: sessionID,
		Phase:     s.monitor.Snapshot().Phase,
	})
}

// stopCrawlHandler handles POST /api/v1/crawl/stop.
func (s *Server) stopCrawlHandler(c *gin.Context) {
	if err := s.monitor.Stop(c.Request.Context()); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, controlResponse(s.monitor.Snapshot()))
}

// acknowledgeHandler handles POST /api/v1/crawl/ack.
func (s *Server) acknowledgeHandler(c *gin.Context) {
	if err := s.monitor.Acknowledge(c.Request.Context()); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, controlResponse(s.monitor.Snapshot()))
}

// getConfigHandler handles GET /api/v1/crawl/config.
func (s *Server) getConfigHandler(c *gin.Context) {
	cfg, err := s.monitor.GetConfig(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// setConfigHandler handles POST /api/v1/crawl/config.
func (s *Server) setConfigHandler(c *gin.Context) {
	var cfg models.CrawlConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		abortBadRequest(c, "invalid config body: "+err.Error())
		return
	}
	updated, err := s.monitor.SetConfig(c.Request.Context(), cfg)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func controlResponse(cs *models.CrawlSession) ControlResponse {
	return ControlResponse{SessionID: cs.SessionID, Phase: cs.Phase}
}
