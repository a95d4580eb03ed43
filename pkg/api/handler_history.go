package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) historyEnabled(c *gin.Context) bool {
	if s.history == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Error: "crawl history is disabled"})
		return false
	}
	return true
}

// historyHandler handles GET /api/v1/crawl/history?limit=N.
func (s *Server) historyHandler(c *gin.Context) {
	if !s.historyEnabled(c) {
		return
	}

	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			abortBadRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.ListRecent(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{Entries: entries})
}

// historyEntryHandler handles GET /api/v1/crawl/history/:session_id.
func (s *Server) historyEntryHandler(c *gin.Context) {
	if !s.historyEnabled(c) {
		return
	}
	entry, err := s.history.Get(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}
