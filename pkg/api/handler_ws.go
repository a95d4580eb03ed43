package api

import (
	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// wsHandler upgrades to WebSocket and hands the connection to the feed.
// Cross-origin clients must match api.allowed_ws_origins; same-origin
// requests are always accepted.
func (s *Server) wsHandler(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedWSOrigins,
	})
	if err != nil {
		// Accept has already written the rejection.
		s.logger.Debug("WebSocket upgrade rejected", "error", err, "origin", c.GetHeader("Origin"))
		c.Abort()
		return
	}

	// Blocks until the client disconnects.
	s.feed.HandleConnection(c.Request.Context(), conn)
}
