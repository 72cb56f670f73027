package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/iBekzod/next-gen-being-sub006/internal/auth"
	"github.com/iBekzod/next-gen-being-sub006/internal/captions"
	"github.com/iBekzod/next-gen-being-sub006/internal/compose"
	"github.com/iBekzod/next-gen-being-sub006/internal/config"
	"github.com/iBekzod/next-gen-being-sub006/internal/events"
	"github.com/iBekzod/next-gen-being-sub006/internal/footage"
	"github.com/iBekzod/next-gen-being-sub006/internal/job"
	"github.com/iBekzod/next-gen-being-sub006/internal/model"
	"github.com/iBekzod/next-gen-being-sub006/internal/provider"
	"github.com/iBekzod/next-gen-being-sub006/internal/queue"
	"github.com/iBekzod/next-gen-being-sub006/internal/script"
	"github.com/iBekzod/next-gen-being-sub006/internal/storage"
	"github.com/iBekzod/next-gen-being-sub006/internal/store"
	"github.com/iBekzod/next-gen-being-sub006/internal/store/postgres"
	"github.com/iBekzod/next-gen-being-sub006/internal/voice"
)

const ProviderModeMock = "mock"

type App struct {
	Config   config.Config
	Log      *slog.Logger
	Blob     *storage.Local
	Repo     store.Repository
	Hub      *events.Hub
	Auth     *auth.Service
	Jobs     *job.Service
	Consumer queue.Consumer

	closers []func() error
}

// Build wires every component from cfg. External infrastructure is optional:
// without a Postgres DSN the repository is in memory, without a Redis
// address the footage cache is per-process and without Kafka brokers the
// queue is an in-process channel.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: logger, Hub: events.NewHub()}
	if err := a.build(ctx); err != nil {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("partial shutdown failed", "error", cerr)
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	blob, err := storage.NewLocal(cfg.Storage.Dir, cfg.Storage.BaseURL)
	if err != nil {
		return err
	}
	a.Blob = blob
	a.Auth = auth.NewService(cfg.JWTSecret, time.Hour)

	if a.Repo, err = a.buildRepository(ctx); err != nil {
		return err
	}
	cache, err := a.buildFootageCache(ctx)
	if err != nil {
		return err
	}
	dispatch, err := a.buildQueue()
	if err != nil {
		return err
	}

	a.Jobs = job.NewService(a.Repo, a.Hub, dispatch, a.buildStages(cache), job.Config{
		MaxConcurrent:       cfg.MaxConcurrentJobs,
		RequeueAfter:        cfg.RequeueAfter,
		SpeechRatePerMinute: cfg.Pricing.SpeechRatePerMinute,
		StorageSurcharge:    cfg.Pricing.StorageSurcharge,
		Quotas: map[model.Tier]int{
			model.TierFree:    cfg.Quotas.Free,
			model.TierPro:     cfg.Quotas.Pro,
			model.TierPremium: cfg.Quotas.Premium,
		},
	}, a.Log)
	return nil
}

func (a *App) buildRepository(ctx context.Context) (store.Repository, error) {
	dsn := strings.TrimSpace(a.Config.Postgres.DSN)
	if dsn == "" {
		a.Log.Warn("postgres dsn not set, using in-memory repository")
		return store.NewMemoryStore(), nil
	}
	db, err := postgres.Open(dsn)
	if err != nil {
		return nil, err
	}
	repo := postgres.NewRepository(db, a.Log)
	a.closers = append(a.closers, repo.Close)
	if err := repo.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return repo, nil
}

func (a *App) buildFootageCache(ctx context.Context) (footage.Cache, error) {
	rc := a.Config.Redis
	if rc.Addr == "" {
		return footage.NewMemoryCache(footage.DefaultCacheTTL, nil), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	a.closers = append(a.closers, client.Close)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return footage.NewRedisCache(client, footage.DefaultCacheTTL), nil
}

func (a *App) buildQueue() (queue.Dispatcher, error) {
	kc := a.Config.Kafka
	if len(kc.Brokers) == 0 {
		mem := queue.NewMemory(256)
		a.Consumer = mem
		return mem, nil
	}
	qcfg := queue.KafkaConfig{Brokers: kc.Brokers, Topic: kc.Topic, GroupID: kc.GroupID}
	producer, err := queue.NewKafkaProducer(qcfg, a.Log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		producer.Close(5 * time.Second)
		return nil
	})
	consumer, err := queue.NewKafkaConsumer(qcfg, a.Log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, consumer.Close)
	a.Consumer = consumer
	return producer, nil
}

func (a *App) buildStages(cache footage.Cache) job.Stages {
	cfg := a.Config
	p := cfg.Providers

	var (
		text     provider.TextGenerator
		baseline provider.SpeechSynthesizer
		premium  provider.SpeechSynthesizer
		search   provider.StockSearcher
		media    compose.MediaCompositor
		fetch    http.RoundTripper
	)
	if p.Mode == ProviderModeMock {
		mock := provider.NewMockAdapter()
		text, baseline, premium, search = mock, mock, mock, mock
		media = compose.Placeholder{}
		fetch = mock.Transport(nil)
		a.Log.Warn("provider mode is mock, no external services will be called")
	} else {
		openai := provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:   p.OpenAIAPIKey,
			BaseURL:  p.OpenAIBaseURL,
			Model:    p.OpenAIModel,
			TTSModel: p.OpenAITTSModel,
			Timeout:  p.VoiceTimeout,
		})
		text, baseline = openai, openai
		if p.TextBackend == "gemini" {
			text = provider.NewGemini(provider.GeminiConfig{APIKey: p.GeminiAPIKey, Model: p.GeminiModel})
		}
		premium = provider.NewElevenLabs(provider.ElevenLabsConfig{
			APIKey:  p.ElevenLabsAPIKey,
			BaseURL: p.ElevenLabsBaseURL,
			Model:   p.ElevenLabsModel,
			Timeout: p.VoiceTimeout,
		})
		search = provider.NewPexels(provider.PexelsConfig{
			APIKey:  p.PexelsAPIKey,
			BaseURL: p.PexelsBaseURL,
			Timeout: p.SearchTimeout,
		})
		media = compose.NewFFmpeg(cfg.Media.FFmpegPath, nil)
	}

	dialect, err := captions.ParseDialect(cfg.Captions.Dialect)
	if err != nil {
		a.Log.Warn("unknown caption dialect, using srt", "dialect", cfg.Captions.Dialect)
		dialect = captions.DialectSRT
	}
	style, err := captions.ParseStyle(cfg.Captions.Style)
	if err != nil {
		a.Log.Warn("unknown caption style, using plain", "style", cfg.Captions.Style)
		style = captions.StylePlain
	}

	return job.Stages{
		Script: script.New(text, script.Config{
			Temperature: p.Temperature,
			Timeout:     p.ScriptTimeout,
		}, a.Log),
		Voice: voice.New(baseline, premium, a.Blob, voice.Config{Timeout: p.VoiceTimeout}, a.Log),
		Footage: footage.New(search, cache, rand.New(rand.NewSource(time.Now().UnixNano())), footage.Config{
			SearchTimeout: p.SearchTimeout,
		}, a.Log),
		Captions: captions.NewBuilder(a.Blob, dialect, style),
		Compose: compose.New(media, a.Blob, compose.Config{
			ScratchDir: cfg.Media.ScratchDir,
			Transport:  fetch,
		}, a.Log),
	}
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// SeedDemo stores a demo user and article for local development and returns
// an access token for that user.
func (a *App) SeedDemo(ctx context.Context) (string, error) {
	now := time.Now().UTC()
	user := model.User{
		ID:        "demo-user",
		Email:     "demo@a2v.local",
		Tier:      model.TierPremium,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := a.Repo.GetUser(ctx, user.ID); errors.Is(err, store.ErrNotFound) {
		if err := a.Repo.UpsertUser(ctx, user); err != nil {
			return "", fmt.Errorf("seed demo user: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("load demo user: %w", err)
	}
	if err := a.Repo.UpsertArticle(ctx, model.Article{
		ID:       "demo-article",
		AuthorID: user.ID,
		Title:    "Why Small Interfaces Make Go Services Easier to Test",
		Body: "Go rewards small interfaces. When a component depends on a one-method interface " +
			"you can swap the real backend for a fake in tests and keep production wiring in one place.",
		Excerpt:   "How golang interfaces, docker and api design keep services testable.",
		Category:  "Programming",
		Tags:      []string{"go", "testing", "architecture"},
		CreatedAt: now,
	}); err != nil {
		return "", fmt.Errorf("seed demo article: %w", err)
	}
	return a.Auth.IssueAccess(user)
}
