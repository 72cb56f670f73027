package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const serviceOpenAI = "openai"

type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	TTSModel string
	Timeout  time.Duration
}

// OpenAI implements TextGenerator over chat completions and SpeechSynthesizer
// over the audio speech endpoint. It is the baseline speech backend.
type OpenAI struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = "tts-1"
	}
	return &OpenAI{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (o *OpenAI) Configured() bool {
	return strings.TrimSpace(o.cfg.APIKey) != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) Generate(ctx context.Context, in TextRequest) (string, error) {
	if !o.Configured() {
		return "", MissingCredential(serviceOpenAI, "OPENAI_API_KEY")
	}
	payload, err := json.Marshal(chatRequest{
		Model: o.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: in.SystemPrompt},
			{Role: "user", Content: in.UserPrompt},
		},
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}
	req, err := o.newRequest(ctx, "/chat/completions", payload)
	if err != nil {
		return "", err
	}
	body, err := do(o.httpClient, serviceOpenAI, req)
	if err != nil {
		return "", err
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", BackendError(serviceOpenAI, http.StatusOK, "no choices returned")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (o *OpenAI) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if !o.Configured() {
		return nil, MissingCredential(serviceOpenAI, "OPENAI_API_KEY")
	}
	payload, err := json.Marshal(map[string]any{
		"model":           o.cfg.TTSModel,
		"input":           text,
		"voice":           voiceID,
		"response_format": "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("encode speech request: %w", err)
	}
	req, err := o.newRequest(ctx, "/audio/speech", payload)
	if err != nil {
		return nil, err
	}
	return do(o.httpClient, serviceOpenAI, req)
}

func (o *OpenAI) newRequest(ctx context.Context, path string, payload []byte) (*http.Request, error) {
	url := strings.TrimRight(o.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create openai request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
