package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iBekzod/next-gen-being-sub006/internal/captions"
	"github.com/iBekzod/next-gen-being-sub006/internal/compose"
	"github.com/iBekzod/next-gen-being-sub006/internal/events"
	"github.com/iBekzod/next-gen-being-sub006/internal/footage"
	"github.com/iBekzod/next-gen-being-sub006/internal/model"
	"github.com/iBekzod/next-gen-being-sub006/internal/queue"
	"github.com/iBekzod/next-gen-being-sub006/internal/script"
	"github.com/iBekzod/next-gen-being-sub006/internal/store"
	"github.com/iBekzod/next-gen-being-sub006/internal/voice"
)

var (
	ErrQuotaExceeded = errors.New("video generation quota exceeded")
	ErrInvalidState  = errors.New("invalid request state")
	ErrInvalidFormat = errors.New("invalid video format")
	ErrCanceled      = errors.New("canceled")
)

const requeueBatch = 500

const (
	StageScript   = "script"
	StageVoice    = "voice"
	StageFootage  = "footage"
	StageCaptions = "captions"
	StageCompose  = "compose"
)

type ScriptStage interface {
	Generate(ctx context.Context, article model.Article, format model.VideoFormat) (script.Result, error)
}

type VoiceStage interface {
	Synthesize(ctx context.Context, text string, user model.User, format model.VideoFormat) (voice.Result, error)
}

type FootageStage interface {
	Source(ctx context.Context, article model.Article, durationSec int) (footage.Result, error)
}

type CaptionStage interface {
	Build(ctx context.Context, segments []model.TimedSegment, totalSec float64) (string, error)
}

type ComposeStage interface {
	Compose(ctx context.Context, in compose.Input) (compose.Result, error)
}

type Stages struct {
	Script   ScriptStage
	Voice    VoiceStage
	Footage  FootageStage
	Captions CaptionStage
	Compose  ComposeStage
}

var (
	_ ScriptStage  = (*script.Generator)(nil)
	_ VoiceStage   = (*voice.Synthesizer)(nil)
	_ FootageStage = (*footage.Sourcer)(nil)
	_ CaptionStage = (*captions.Builder)(nil)
	_ ComposeStage = (*compose.Compositor)(nil)
)

type Config struct {
	MaxConcurrent       int
	RequeueAfter        time.Duration
	SpeechRatePerMinute float64
	StorageSurcharge    float64
	// Quotas maps a tier to its lifetime video limit; negative means unlimited.
	Quotas map[model.Tier]int
}

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s stage: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

type Service struct {
	repo     store.Repository
	hub      *events.Hub
	dispatch queue.Dispatcher
	stages   Stages
	cfg      Config
	log      *slog.Logger

	globalSem chan struct{}

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewService(repo store.Repository, hub *events.Hub, dispatch queue.Dispatcher, stages Stages, cfg Config, logger *slog.Logger) *Service {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		hub:       hub,
		dispatch:  dispatch,
		stages:    stages,
		cfg:       cfg,
		log:       logger,
		globalSem: make(chan struct{}, cfg.MaxConcurrent),
		running:   map[string]context.CancelFunc{},
	}
}

// GenerationCost is linear in duration and rounded to 4 decimals.
func GenerationCost(durationSec int, ratePerMinute, surcharge float64) float64 {
	cost := float64(durationSec)/60*ratePerMinute + surcharge
	return math.Round(cost*10000) / 10000
}

// AICredits charges one credit per started narration minute.
func AICredits(durationSec int) int {
	return int(math.Ceil(float64(durationSec) / 60))
}

func (s *Service) Submit(ctx context.Context, userID, articleID string, format model.VideoFormat, traceID string) (model.GenerationRequest, error) {
	req, err := s.create(ctx, userID, articleID, format, traceID)
	if err != nil {
		return model.GenerationRequest{}, err
	}
	msg := queue.Message{RequestID: req.ID, TraceID: traceID, EnqueuedAt: time.Now().UTC()}
	if err := s.dispatch.Enqueue(ctx, msg); err != nil {
		s.fail(ctx, req, model.StatusQueued, fmt.Errorf("enqueue: %w", err))
		return model.GenerationRequest{}, fmt.Errorf("enqueue request: %w", err)
	}
	return req, nil
}

func (s *Service) Generate(ctx context.Context, userID, articleID string, format model.VideoFormat, traceID string) (model.GenerationRequest, error) {
	req, err := s.create(ctx, userID, articleID, format, traceID)
	if err != nil {
		return model.GenerationRequest{}, err
	}
	return s.Process(ctx, req.ID)
}

func (s *Service) create(ctx context.Context, userID, articleID string, format model.VideoFormat, traceID string) (model.GenerationRequest, error) {
	if !format.Valid() {
		return model.GenerationRequest{}, fmt.Errorf("%w: %q", ErrInvalidFormat, string(format))
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return model.GenerationRequest{}, fmt.Errorf("load user: %w", err)
	}
	if _, err := s.repo.GetArticle(ctx, articleID); err != nil {
		return model.GenerationRequest{}, fmt.Errorf("load article: %w", err)
	}

	spec := format.Spec()
	now := time.Now().UTC()
	quota := s.quotaFor(user.Tier)
	req, err := s.repo.CreateRequestWithinQuota(ctx, model.GenerationRequest{
		ID:          uuid.NewString(),
		ArticleID:   articleID,
		UserID:      userID,
		Format:      format,
		DurationSec: spec.DurationSec,
		Resolution:  spec.Resolution,
		Status:      model.StatusQueued,
		TraceID:     traceID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, quota)
	if errors.Is(err, store.ErrOverQuota) {
		return model.GenerationRequest{}, fmt.Errorf("%w: tier %s allows %d videos", ErrQuotaExceeded, user.Tier, quota)
	}
	if err != nil {
		return model.GenerationRequest{}, err
	}
	s.publishEvent(ctx, req, model.EventRequestCreated, map[string]any{
		"status":       req.Status,
		"format":       req.Format,
		"duration_sec": req.DurationSec,
		"resolution":   req.Resolution.String(),
	})
	return req, nil
}

// quotaFor returns the video allowance of tier, counting completed videos
// plus requests still in flight. Negative is unlimited.
func (s *Service) quotaFor(tier model.Tier) int {
	quota, ok := s.cfg.Quotas[tier]
	if !ok {
		quota = s.cfg.Quotas[model.TierFree]
	}
	return quota
}

// Process runs one queued request to completion or failure. A request that
// is not queued is rejected with ErrInvalidState.
func (s *Service) Process(ctx context.Context, requestID string) (model.GenerationRequest, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	if _, ok := s.running[requestID]; ok {
		s.mu.Unlock()
		return model.GenerationRequest{}, ErrInvalidState
	}
	s.running[requestID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, requestID)
		s.mu.Unlock()
	}()

	now := time.Now().UTC()
	req, err := s.repo.TransitionRequest(ctx, requestID, model.StatusQueued, model.StatusProcessing, func(r *model.GenerationRequest) {
		r.StartedAt = now
		r.UpdatedAt = now
	})
	if errors.Is(err, store.ErrConflict) {
		return model.GenerationRequest{}, fmt.Errorf("%w: request %s is not queued", ErrInvalidState, requestID)
	}
	if err != nil {
		return model.GenerationRequest{}, err
	}
	s.publishEvent(ctx, req, model.EventRequestStarted, map[string]any{"status": req.Status})
	s.log.Info("request_started", "request_id", req.ID, "trace_id", req.TraceID, "format", req.Format)

	if err := s.runStages(runCtx, &req); err != nil {
		if s.cancelRequested(ctx, req.ID) && (errors.Is(err, context.Canceled) || errors.Is(err, ErrCanceled)) {
			err = ErrCanceled
		}
		failed := s.fail(ctx, req, model.StatusProcessing, err)
		return failed, err
	}
	return s.complete(ctx, req)
}

func (s *Service) runStages(ctx context.Context, req *model.GenerationRequest) error {
	user, err := s.repo.GetUser(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	article, err := s.repo.GetArticle(ctx, req.ArticleID)
	if err != nil {
		return fmt.Errorf("load article: %w", err)
	}

	if err := s.stage(ctx, req, StageScript, func(ctx context.Context) (map[string]any, error) {
		res, err := s.stages.Script.Generate(ctx, article, req.Format)
		if err != nil {
			return nil, err
		}
		req.Script = res.Text
		req.Segments = res.Segments
		return map[string]any{"segments": len(res.Segments)}, nil
	}); err != nil {
		return err
	}

	if err := s.stage(ctx, req, StageVoice, func(ctx context.Context) (map[string]any, error) {
		res, err := s.stages.Voice.Synthesize(ctx, req.Script, user, req.Format)
		if err != nil {
			return nil, err
		}
		req.AudioURL = res.URL
		return map[string]any{"backend": res.Backend, "voice": res.Voice}, nil
	}); err != nil {
		return err
	}

	if err := s.stage(ctx, req, StageFootage, func(ctx context.Context) (map[string]any, error) {
		res, err := s.stages.Footage.Source(ctx, article, req.DurationSec)
		if err != nil {
			return nil, err
		}
		req.Clips = res.Clips
		payload := map[string]any{"clips": len(res.Clips), "required_clips": res.Required}
		if res.Short() {
			payload["under_quota"] = true
			s.log.Warn("footage_under_quota", "request_id", req.ID, "clips", len(res.Clips), "required_clips", res.Required)
		}
		return payload, nil
	}); err != nil {
		return err
	}

	if err := s.stage(ctx, req, StageCaptions, func(ctx context.Context) (map[string]any, error) {
		url, err := s.stages.Captions.Build(ctx, req.Segments, float64(req.DurationSec))
		if err != nil {
			return nil, err
		}
		req.CaptionURL = url
		return map[string]any{"caption_url": url}, nil
	}); err != nil {
		return err
	}

	return s.stage(ctx, req, StageCompose, func(ctx context.Context) (map[string]any, error) {
		res, err := s.stages.Compose.Compose(ctx, compose.Input{
			RequestID:   req.ID,
			Article:     article,
			User:        user,
			Clips:       req.Clips,
			AudioURL:    req.AudioURL,
			CaptionURL:  req.CaptionURL,
			DurationSec: req.DurationSec,
			Resolution:  req.Resolution,
		})
		if err != nil {
			return nil, err
		}
		req.VideoURL = res.VideoURL
		req.ThumbnailURL = res.ThumbnailURL
		req.FileSizeBytes = res.FileSizeBytes
		return map[string]any{"video_url": res.VideoURL, "file_size_bytes": res.FileSizeBytes}, nil
	})
}

func (s *Service) stage(ctx context.Context, req *model.GenerationRequest, name string, fn func(context.Context) (map[string]any, error)) error {
	if s.cancelRequested(ctx, req.ID) {
		return ErrCanceled
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.publishEvent(ctx, *req, model.EventStageStarted, map[string]any{"stage": name})
	started := time.Now()

	payload, err := fn(ctx)
	if err != nil {
		return &StageError{Stage: name, Err: err}
	}
	req.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateRequest(ctx, *req); err != nil {
		return &StageError{Stage: name, Err: fmt.Errorf("persist artifacts: %w", err)}
	}
	payload["stage"] = name
	payload["duration_ms"] = time.Since(started).Milliseconds()
	s.publishEvent(ctx, *req, model.EventStageCompleted, payload)
	s.log.Info("stage_completed", "request_id", req.ID, "stage", name, "duration_ms", payload["duration_ms"])
	return nil
}

func (s *Service) complete(ctx context.Context, req model.GenerationRequest) (model.GenerationRequest, error) {
	pctx := context.WithoutCancel(ctx)
	now := time.Now().UTC()
	done, err := s.repo.TransitionRequest(pctx, req.ID, model.StatusProcessing, model.StatusCompleted, func(r *model.GenerationRequest) {
		*r = req.Clone()
		r.GenerationCost = GenerationCost(req.DurationSec, s.cfg.SpeechRatePerMinute, s.cfg.StorageSurcharge)
		r.AICredits = AICredits(req.DurationSec)
		r.CompletedAt = now
		r.UpdatedAt = now
	})
	if err != nil {
		return model.GenerationRequest{}, fmt.Errorf("complete request: %w", err)
	}
	if _, err := s.repo.IncrementVideoCount(pctx, done.UserID); err != nil {
		s.log.Error("video_count_increment_failed", "request_id", done.ID, "user_id", done.UserID, "error", err)
	}
	s.publishEvent(pctx, done, model.EventRequestCompleted, map[string]any{
		"status":          done.Status,
		"video_url":       done.VideoURL,
		"thumbnail_url":   done.ThumbnailURL,
		"generation_cost": done.GenerationCost,
		"ai_credits":      done.AICredits,
	})
	s.log.Info("request_completed", "request_id", done.ID, "trace_id", done.TraceID,
		"cost", done.GenerationCost, "file_size_bytes", done.FileSizeBytes)
	return done, nil
}

// fail records err on the request and marks it failed. Artifacts persisted
// by earlier stages are kept.
func (s *Service) fail(ctx context.Context, req model.GenerationRequest, from model.RequestStatus, cause error) model.GenerationRequest {
	pctx := context.WithoutCancel(ctx)
	now := time.Now().UTC()
	failed, err := s.repo.TransitionRequest(pctx, req.ID, from, model.StatusFailed, func(r *model.GenerationRequest) {
		r.ErrorMessage = cause.Error()
		r.CompletedAt = now
		r.UpdatedAt = now
	})
	if err != nil {
		s.log.Error("request_fail_persist_failed", "request_id", req.ID, "error", err)
		return req
	}
	payload := map[string]any{"status": failed.Status, "error": failed.ErrorMessage}
	var stageErr *StageError
	if errors.As(cause, &stageErr) {
		payload["stage"] = stageErr.Stage
	}
	s.publishEvent(pctx, failed, model.EventRequestFailed, payload)
	s.log.Warn("request_failed", "request_id", failed.ID, "trace_id", failed.TraceID, "error", failed.ErrorMessage)
	return failed
}

func (s *Service) cancelRequested(ctx context.Context, requestID string) bool {
	req, err := s.repo.GetRequest(context.WithoutCancel(ctx), requestID)
	return err == nil && req.CancelRequested
}

// Cancel fails a queued request immediately and flags a processing one so
// it stops before its next stage. Terminal requests are returned unchanged.
func (s *Service) Cancel(ctx context.Context, userID, requestID string) (model.GenerationRequest, error) {
	req, err := s.Get(ctx, userID, requestID)
	if err != nil {
		return model.GenerationRequest{}, err
	}
	if req.Status.Terminal() {
		return req, nil
	}
	if req.Status == model.StatusQueued {
		if _, err := s.repo.RequestCancel(ctx, requestID); err == nil {
			failed := s.fail(ctx, req, model.StatusQueued, ErrCanceled)
			if failed.Status == model.StatusFailed {
				return failed, nil
			}
		}
		// Picked up by a worker in the meantime.
		req, err = s.repo.GetRequest(ctx, requestID)
		if err != nil || req.Status.Terminal() {
			return req, err
		}
	}

	req, err = s.repo.RequestCancel(ctx, requestID)
	if errors.Is(err, store.ErrConflict) {
		return s.repo.GetRequest(ctx, requestID)
	}
	if err != nil {
		return model.GenerationRequest{}, err
	}
	s.mu.Lock()
	if cancel, ok := s.running[requestID]; ok {
		cancel()
	}
	s.mu.Unlock()
	s.log.Info("request_cancel_requested", "request_id", requestID)
	return req, nil
}

// Resubmit creates a fresh request for the article and format of a failed
// one. The failed request is never re-run.
func (s *Service) Resubmit(ctx context.Context, userID, requestID, traceID string) (model.GenerationRequest, error) {
	old, err := s.Get(ctx, userID, requestID)
	if err != nil {
		return model.GenerationRequest{}, err
	}
	if old.Status != model.StatusFailed {
		return model.GenerationRequest{}, fmt.Errorf("%w: only failed requests can be resubmitted", ErrInvalidState)
	}
	return s.Submit(ctx, userID, old.ArticleID, old.Format, traceID)
}

func (s *Service) Get(ctx context.Context, userID, requestID string) (model.GenerationRequest, error) {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return model.GenerationRequest{}, err
	}
	if req.UserID != userID {
		return model.GenerationRequest{}, store.ErrForbidden
	}
	return req, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]model.GenerationRequest, int, error) {
	return s.repo.ListRequestsByUser(ctx, userID, page, pageSize)
}

func (s *Service) ListEventsFrom(ctx context.Context, requestID string, fromSeq int64) ([]model.RequestEvent, error) {
	return s.repo.ListEventsFromSeq(ctx, requestID, fromSeq)
}

func (s *Service) Run(ctx context.Context, consumer queue.Consumer) error {
	if s.cfg.RequeueAfter > 0 {
		if _, err := s.RequeueStale(ctx, s.cfg.RequeueAfter); err != nil {
			s.log.Warn("requeue_stale_failed", "error", err)
		}
	}
	var wg sync.WaitGroup
	err := consumer.Consume(ctx, func(ctx context.Context, msg queue.Message) {
		select {
		case s.globalSem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-s.globalSem }()
			_, err := s.Process(context.WithoutCancel(ctx), msg.RequestID)
			switch {
			case err == nil:
			case errors.Is(err, ErrInvalidState):
				s.log.Info("request_skipped", "request_id", msg.RequestID, "reason", err.Error())
			default:
				s.log.Warn("request_process_failed", "request_id", msg.RequestID, "trace_id", msg.TraceID, "error", err)
			}
		}()
	})
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RequeueStale enqueues again every request still queued after olderThan.
// Duplicate messages are dropped by Process.
func (s *Service) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.repo.ListQueuedBefore(ctx, time.Now().UTC().Add(-olderThan), requeueBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale requests: %w", err)
	}
	n := 0
	for _, req := range stale {
		msg := queue.Message{RequestID: req.ID, TraceID: req.TraceID, EnqueuedAt: time.Now().UTC()}
		if err := s.dispatch.Enqueue(ctx, msg); err != nil {
			return n, fmt.Errorf("requeue %s: %w", req.ID, err)
		}
		n++
	}
	if n > 0 {
		s.log.Info("requests_requeued", "count", n, "older_than", olderThan.String())
	}
	return n, nil
}

func (s *Service) publishEvent(ctx context.Context, req model.GenerationRequest, eventType model.EventType, payload map[string]any) {
	evt, err := s.repo.AppendEvent(context.WithoutCancel(ctx), req.ID, model.RequestEvent{
		TraceID:   req.TraceID,
		RequestID: req.ID,
		ArticleID: req.ArticleID,
		Type:      eventType,
		TS:        time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		s.log.Error("append event failed", "request_id", req.ID, "type", eventType, "error", err)
		return
	}
	s.hub.Publish(req.ID, evt)
}
