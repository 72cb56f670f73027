package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iBekzod/next-gen-being-sub006/internal/compose"
)

func (s *Server) me(c *gin.Context) {
	user := userFromContext(c)
	active, err := s.repo.CountActiveRequests(c.Request.Context(), user.ID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load user", true, nil)
		return
	}
	writeData(c, http.StatusOK, gin.H{
		"user":            user,
		"active_requests": active,
	})
}

type brandingRequest struct {
	IntroVideoURL string `json:"intro_video_url"`
	OutroVideoURL string `json:"outro_video_url"`
}

// putBranding sets the intro/outro clips wrapped around every video of a
// premium user. Empty strings clear a clip.
func (s *Server) putBranding(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	user := userFromContext(c)
	if !user.Tier.Premium() {
		writeError(c, http.StatusForbidden, "TIER_REQUIRED", "Branding requires the premium plan", false, nil)
		return
	}
	var req brandingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid branding payload", false, nil)
		return
	}
	intro := strings.TrimSpace(req.IntroVideoURL)
	outro := strings.TrimSpace(req.OutroVideoURL)
	for field, ref := range map[string]string{"intro_video_url": intro, "outro_video_url": outro} {
		if ref == "" {
			continue
		}
		if err := compose.CheckBrandingURL(s.blob, ref); err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_BRANDING_URL", "Branding clips must be public http(s) URLs or uploaded media", false, gin.H{"field": field})
			return
		}
	}
	user.IntroVideoURL = intro
	user.OutroVideoURL = outro
	user.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpsertUser(c.Request.Context(), user); err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to save branding", true, nil)
		return
	}
	writeData(c, http.StatusOK, user)
}
