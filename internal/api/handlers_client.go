package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/iBekzod/next-gen-being-sub006/internal/model"
)

func (s *Server) listFormats(c *gin.Context) {
	writeData(c, http.StatusOK, gin.H{"items": model.Formats()})
}

func (s *Server) clientBootstrap(c *gin.Context) {
	user := userFromContext(c)
	writeData(c, http.StatusOK, gin.H{
		"user":    user,
		"formats": model.Formats(),
		"feature_flags": gin.H{
			"sse_request_events": true,
			"premium_voice":      user.Tier.Premium(),
			"branding":           user.Tier.Premium(),
		},
		"sse": gin.H{
			"heartbeat_sec": int(s.opts.Heartbeat.Seconds()),
			"retry_ms":      2000,
		},
	})
}
