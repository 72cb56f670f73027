package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const serviceElevenLabs = "elevenlabs"

type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// ElevenLabs is the premium speech backend.
type ElevenLabs struct {
	cfg        ElevenLabsConfig
	httpClient *http.Client
}

func NewElevenLabs(cfg ElevenLabsConfig) *ElevenLabs {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "eleven_multilingual_v2"
	}
	return &ElevenLabs{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (e *ElevenLabs) Configured() bool {
	return strings.TrimSpace(e.cfg.APIKey) != ""
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if !e.Configured() {
		return nil, MissingCredential(serviceElevenLabs, "ELEVENLABS_API_KEY")
	}
	payload, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": e.cfg.Model,
		"voice_settings": map[string]float64{
			"stability":        0.5,
			"similarity_boost": 0.75,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode speech request: %w", err)
	}

	endpoint := strings.TrimRight(e.cfg.BaseURL, "/") + "/text-to-speech/" + url.PathEscape(voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create elevenlabs request: %w", err)
	}
	req.Header.Set("xi-api-key", e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	return do(e.httpClient, serviceElevenLabs, req)
}
