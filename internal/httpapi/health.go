package httpapi

import "github.com/gin-gonic/gin"

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(200, gin.H{"ok": true, "version": Version})
}

func (s *Server) handleLiveFeed(c *gin.Context) {
	org := c.Query("organization_id")
	s.LiveFeed.ServeWS(c.Writer, c.Request, org)
}
