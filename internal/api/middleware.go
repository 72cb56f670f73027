package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/iBekzod/next-gen-being-sub006/internal/auth"
	"github.com/iBekzod/next-gen-being-sub006/internal/model"
	"github.com/iBekzod/next-gen-being-sub006/internal/store"
)

const (
	ctxTraceID = "trace_id"
	ctxUserID  = "user_id"
	ctxEmail   = "email"
	ctxTier    = "tier"
	ctxUser    = "user"
)

func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := strings.TrimSpace(c.GetHeader("X-Trace-Id"))
		if traceID == "" {
			if v7, err := uuid.NewV7(); err == nil {
				traceID = v7.String()
			} else {
				traceID = uuid.NewString()
			}
		}
		c.Set(ctxTraceID, traceID)
		c.Writer.Header().Set("X-Trace-Id", traceID)
		c.Next()
	}
}

func RequestLogMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http_request",
			"trace_id", traceIDFromContext(c),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}

func AuthMiddleware(authSvc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		const prefix = "Bearer "
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, prefix) {
			writeUnauthorized(c)
			c.Abort()
			return
		}
		claims, err := authSvc.ParseAccess(strings.TrimSpace(strings.TrimPrefix(header, prefix)))
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				writeError(c, http.StatusUnauthorized, "TOKEN_EXPIRED", "Access token expired", false, nil)
			} else {
				writeUnauthorized(c)
			}
			c.Abort()
			return
		}
		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxEmail, claims.Email)
		c.Set(ctxTier, claims.Tier)
		c.Next()
	}
}

// UserSyncMiddleware makes sure the token's subject has a local user record
// and that its tier follows the token. The video count is never touched.
func (s *Server) UserSyncMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID := userIDFromContext(c)
		tier, _ := c.Get(ctxTier)
		claimTier, _ := tier.(model.Tier)
		if claimTier == "" {
			claimTier = model.TierFree
		}

		user, err := s.repo.GetUser(ctx, userID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			now := time.Now().UTC()
			user = model.User{
				ID:        userID,
				Email:     c.GetString(ctxEmail),
				Tier:      claimTier,
				CreatedAt: now,
				UpdatedAt: now,
			}
			err = s.repo.UpsertUser(ctx, user)
		case err == nil && user.Tier != claimTier:
			user.Tier = claimTier
			user.UpdatedAt = time.Now().UTC()
			err = s.repo.UpsertUser(ctx, user)
		}
		if err != nil {
			s.log.Error("user sync failed", "user_id", userID, "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load user", true, nil)
			c.Abort()
			return
		}
		c.Set(ctxUser, user)
		c.Next()
	}
}

func traceIDFromContext(c *gin.Context) string {
	return c.GetString(ctxTraceID)
}

func userIDFromContext(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

func userFromContext(c *gin.Context) model.User {
	if v, ok := c.Get(ctxUser); ok {
		if u, ok := v.(model.User); ok {
			return u
		}
	}
	return model.User{ID: userIDFromContext(c)}
}

func requireJSON(c *gin.Context) bool {
	if c.ContentType() == "" {
		return true
	}
	if strings.Contains(c.ContentType(), "application/json") {
		return true
	}
	writeError(c, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Content-Type must be application/json", false, nil)
	return false
}

func parseIntDefault(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
