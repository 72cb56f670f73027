package api

import (
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/iBekzod/next-gen-being-sub006/internal/storage"
)

// serveMedia streams stored artifacts. Keys are unguessable uuids, so the
// route is public like the URLs handed out in request records.
func (s *Server) serveMedia(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	rc, err := s.blob.Get(c.Request.Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidKey):
			writeError(c, http.StatusBadRequest, "INVALID_KEY", "Invalid media key", false, nil)
		case errors.Is(err, fs.ErrNotExist):
			writeError(c, http.StatusNotFound, "MEDIA_NOT_FOUND", "Media not found", false, nil)
		default:
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read media", true, nil)
		}
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, -1, contentType, rc, map[string]string{
		"Cache-Control": "public, max-age=86400",
	})
}
