package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iBekzod/next-gen-being-sub006/internal/model"
	"github.com/iBekzod/next-gen-being-sub006/internal/provider"
	"github.com/iBekzod/next-gen-being-sub006/internal/storage"
)

type Backend string

const (
	BackendBaseline Backend = "baseline"
	BackendPremium  Backend = "premium"
)

type Config struct {
	Timeout time.Duration
}

type Result struct {
	URL     string  `json:"url"`
	Backend Backend `json:"backend"`
	Voice   string  `json:"voice"`
	Bytes   int     `json:"bytes"`
}

type Synthesizer struct {
	baseline provider.SpeechSynthesizer
	premium  provider.SpeechSynthesizer
	blob     storage.Blob
	cfg      Config
	log      *slog.Logger
}

func New(baseline, premium provider.SpeechSynthesizer, blob storage.Blob, cfg Config, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{baseline: baseline, premium: premium, blob: blob, cfg: cfg, log: logger}
}

// SelectBackend picks premium only for premium-tier users when the premium
// credential is present.
func SelectBackend(tier model.Tier, premiumConfigured bool) Backend {
	if tier.Premium() && premiumConfigured {
		return BackendPremium
	}
	return BackendBaseline
}

func (s *Synthesizer) Backend(user model.User) Backend {
	return SelectBackend(user.Tier, s.premium != nil && s.premium.Configured())
}

// Synthesize writes exactly one audio blob per successful call.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, user model.User, format model.VideoFormat) (Result, error) {
	spec := format.Spec()
	backend := s.Backend(user)
	synth, voiceID := s.baseline, spec.BaselineVoice
	if backend == BackendPremium {
		synth, voiceID = s.premium, spec.PremiumVoice
	}
	if synth == nil {
		return Result{}, provider.MissingCredential(string(backend)+" speech", "backend")
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	audio, err := synth.Synthesize(ctx, text, voiceID)
	if err != nil {
		return Result{}, fmt.Errorf("synthesize speech: %w", err)
	}
	if len(audio) == 0 {
		return Result{}, errors.New("synthesize speech: backend returned empty audio")
	}

	key := fmt.Sprintf("audio/%s.mp3", uuid.NewString())
	url, err := s.blob.Put(ctx, key, bytes.NewReader(audio), "audio/mpeg")
	if err != nil {
		return Result{}, fmt.Errorf("store audio: %w", err)
	}
	s.log.Debug("voice_synthesized", "backend", backend, "voice", voiceID, "bytes", len(audio))
	return Result{URL: url, Backend: backend, Voice: voiceID, Bytes: len(audio)}, nil
}
