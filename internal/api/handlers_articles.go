package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iBekzod/next-gen-being-sub006/internal/model"
	"github.com/iBekzod/next-gen-being-sub006/internal/store"
)

type putArticleRequest struct {
	Title    string   `json:"title" binding:"required"`
	Body     string   `json:"body" binding:"required"`
	Excerpt  string   `json:"excerpt"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

// putArticle syncs an article from the publishing platform. Only its author
// may overwrite it.
func (s *Server) putArticle(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	ctx := c.Request.Context()
	articleID := c.Param("article_id")
	userID := userIDFromContext(c)
	var req putArticleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid article payload", false, nil)
		return
	}

	article := model.Article{
		ID:        articleID,
		AuthorID:  userID,
		Title:     strings.TrimSpace(req.Title),
		Body:      req.Body,
		Excerpt:   strings.TrimSpace(req.Excerpt),
		Category:  strings.TrimSpace(req.Category),
		Tags:      req.Tags,
		CreatedAt: time.Now().UTC(),
	}
	existing, err := s.repo.GetArticle(ctx, articleID)
	switch {
	case err == nil:
		if existing.AuthorID != userID {
			writeError(c, http.StatusForbidden, "FORBIDDEN", "No access to article", false, nil)
			return
		}
		article.CreatedAt = existing.CreatedAt
	case !errors.Is(err, store.ErrNotFound):
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load article", true, nil)
		return
	}
	if article.Tags == nil {
		article.Tags = []string{}
	}
	if err := s.repo.UpsertArticle(ctx, article); err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to save article", true, nil)
		return
	}
	writeData(c, http.StatusOK, article)
}

func (s *Server) getArticle(c *gin.Context) {
	article, err := s.repo.GetArticle(c.Request.Context(), c.Param("article_id"))
	if err != nil {
		writeServiceError(c, err, "ARTICLE_NOT_FOUND", "Article not found")
		return
	}
	writeData(c, http.StatusOK, article)
}
