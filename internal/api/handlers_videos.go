package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iBekzod/next-gen-being-sub006/internal/model"
)

type submitVideoRequest struct {
	Format string `json:"format" binding:"required"`
}

func (s *Server) submitVideo(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var body submitVideoRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "format is required", false, nil)
		return
	}
	format, err := model.ParseVideoFormat(body.Format)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_FORMAT", err.Error(), false, nil)
		return
	}
	req, err := s.jobs.Submit(c.Request.Context(), userIDFromContext(c), c.Param("article_id"), format, traceIDFromContext(c))
	if err != nil {
		writeServiceError(c, err, "ARTICLE_NOT_FOUND", "Article not found")
		return
	}
	writeData(c, http.StatusAccepted, req)
}

func (s *Server) listVideos(c *gin.Context) {
	page := parseIntDefault(c.Query("page"), 1)
	pageSize := parseIntDefault(c.Query("page_size"), 20)
	items, total, err := s.jobs.ListByUser(c.Request.Context(), userIDFromContext(c), page, pageSize)
	if err != nil {
		writeServiceError(c, err, "REQUEST_NOT_FOUND", "Request not found")
		return
	}
	writeData(c, http.StatusOK, gin.H{
		"items":     items,
		"page":      page,
		"page_size": pageSize,
		"total":     total,
	})
}

func (s *Server) getVideo(c *gin.Context) {
	req, err := s.jobs.Get(c.Request.Context(), userIDFromContext(c), c.Param("request_id"))
	if err != nil {
		writeServiceError(c, err, "REQUEST_NOT_FOUND", "Request not found")
		return
	}
	writeData(c, http.StatusOK, req)
}

func (s *Server) cancelVideo(c *gin.Context) {
	req, err := s.jobs.Cancel(c.Request.Context(), userIDFromContext(c), c.Param("request_id"))
	if err != nil {
		writeServiceError(c, err, "REQUEST_NOT_FOUND", "Request not found")
		return
	}
	writeData(c, http.StatusOK, req)
}

func (s *Server) resubmitVideo(c *gin.Context) {
	req, err := s.jobs.Resubmit(c.Request.Context(), userIDFromContext(c), c.Param("request_id"), traceIDFromContext(c))
	if err != nil {
		writeServiceError(c, err, "REQUEST_NOT_FOUND", "Request not found")
		return
	}
	writeData(c, http.StatusAccepted, req)
}

// streamVideoEvents replays events after Last-Event-ID (or from_seq) and then
// follows live ones. Live delivery comes from the in-process hub; a periodic
// repository read picks up events written by a separate worker. The stream
// ends after the terminal event.
func (s *Server) streamVideoEvents(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := c.Param("request_id")
	req, err := s.jobs.Get(ctx, userIDFromContext(c), requestID)
	if err != nil {
		writeServiceError(c, err, "REQUEST_NOT_FOUND", "Request not found")
		return
	}

	lastSeq := parseLastEventSeq(c.GetHeader("Last-Event-ID"))
	if q := c.Query("from_seq"); q != "" {
		if v, err := strconv.ParseInt(q, 10, 64); err == nil && v > 0 {
			lastSeq = v
		}
	}

	_, sub, unsubscribe := s.hub.Subscribe(requestID, 128)
	defer unsubscribe()
	backlog, err := s.jobs.ListEventsFrom(ctx, requestID, lastSeq)
	if err != nil {
		writeServiceError(c, err, "REQUEST_NOT_FOUND", "Request not found")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, http.StatusInternalServerError, "SSE_UNSUPPORTED", "Streaming unsupported", false, nil)
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	// emit writes evt unless it was already sent and reports whether the
	// stream is finished.
	emit := func(evt model.RequestEvent) bool {
		if evt.Seq <= lastSeq {
			return false
		}
		writeSSE(c, evt)
		lastSeq = evt.Seq
		return terminalEvent(evt.Type)
	}

	for _, evt := range backlog {
		if emit(evt) {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()
	if req.Status.Terminal() {
		return
	}

	heartbeat := time.NewTicker(s.opts.Heartbeat)
	defer heartbeat.Stop()
	poll := time.NewTicker(s.opts.EventPoll)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			done := emit(evt)
			flusher.Flush()
			if done {
				return
			}
		case <-poll.C:
			missed, err := s.jobs.ListEventsFrom(ctx, requestID, lastSeq)
			if err != nil {
				s.log.Warn("event poll failed", "request_id", requestID, "error", err)
				continue
			}
			for _, evt := range missed {
				if emit(evt) {
					flusher.Flush()
					return
				}
			}
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(c.Writer, ": ping %d\n\n", time.Now().Unix())
			flusher.Flush()
		}
	}
}

func terminalEvent(t model.EventType) bool {
	return t == model.EventRequestCompleted || t == model.EventRequestFailed
}

func writeSSE(c *gin.Context, evt model.RequestEvent) {
	payload, _ := json.Marshal(evt)
	fmt.Fprintf(c.Writer, "id: %d\n", evt.Seq)
	fmt.Fprintf(c.Writer, "event: %s\n", evt.Type)
	fmt.Fprintf(c.Writer, "data: %s\n\n", string(payload))
}

func parseLastEventSeq(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
