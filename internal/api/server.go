package api

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/iBekzod/next-gen-being-sub006/internal/auth"
	"github.com/iBekzod/next-gen-being-sub006/internal/events"
	"github.com/iBekzod/next-gen-being-sub006/internal/job"
	"github.com/iBekzod/next-gen-being-sub006/internal/storage"
	"github.com/iBekzod/next-gen-being-sub006/internal/store"
)

type Options struct {
	CORSOrigins []string
	// EventPoll is how often an open event stream re-reads the repository
	// for events appended by other processes.
	EventPoll time.Duration
	Heartbeat time.Duration
}

type Server struct {
	auth *auth.Service
	repo store.Repository
	jobs *job.Service
	hub  *events.Hub
	blob storage.Blob
	opts Options
	log  *slog.Logger
}

func NewServer(authSvc *auth.Service, repo store.Repository, jobs *job.Service, hub *events.Hub, blob storage.Blob, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.EventPoll <= 0 {
		opts.EventPoll = 2 * time.Second
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	return &Server{
		auth: authSvc,
		repo: repo,
		jobs: jobs,
		hub:  hub,
		blob: blob,
		opts: opts,
		log:  logger,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(RequestLogMiddleware(s.log))
	r.Use(s.corsMiddleware())

	v1 := r.Group("/api/v1")
	v1.GET("/healthz", func(c *gin.Context) {
		writeData(c, 200, gin.H{"status": "ok"})
	})
	v1.GET("/formats", s.listFormats)
	v1.GET("/media/*key", s.serveMedia)

	authed := v1.Group("")
	authed.Use(AuthMiddleware(s.auth), s.UserSyncMiddleware())
	{
		authed.GET("/client/bootstrap", s.clientBootstrap)
		authed.GET("/me", s.me)
		authed.PUT("/me/branding", s.putBranding)

		authed.PUT("/articles/:article_id", s.putArticle)
		authed.GET("/articles/:article_id", s.getArticle)
		authed.POST("/articles/:article_id/videos", s.submitVideo)

		authed.GET("/videos", s.listVideos)
		authed.GET("/videos/:request_id", s.getVideo)
		authed.POST("/videos/:request_id/cancel", s.cancelVideo)
		authed.POST("/videos/:request_id/resubmit", s.resubmitVideo)
		authed.GET("/videos/:request_id/events", s.streamVideoEvents)
	}

	return r
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Trace-Id", "Last-Event-ID"},
		ExposeHeaders:    []string{"X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(s.opts.CORSOrigins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = s.opts.CORSOrigins
	}
	return cors.New(cfg)
}
