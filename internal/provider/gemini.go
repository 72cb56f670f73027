package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const serviceGemini = "gemini"

type GeminiConfig struct {
	APIKey string
	Model  string
}

// Gemini is an alternative TextGenerator backed by the Gemini API.
type Gemini struct {
	cfg GeminiConfig
}

func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	return &Gemini{cfg: cfg}
}

func (g *Gemini) Generate(ctx context.Context, in TextRequest) (string, error) {
	if strings.TrimSpace(g.cfg.APIKey) == "" {
		return "", MissingCredential(serviceGemini, "GEMINI_API_KEY")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.cfg.APIKey))
	if err != nil {
		return "", NetworkError(serviceGemini, fmt.Errorf("create client: %w", err))
	}
	defer client.Close()

	model := client.GenerativeModel(g.cfg.Model)
	model.SystemInstruction = genai.NewUserContent(genai.Text(in.SystemPrompt))
	model.SetMaxOutputTokens(int32(in.MaxTokens))
	model.SetTemperature(float32(in.Temperature))

	resp, err := model.GenerateContent(ctx, genai.Text(in.UserPrompt))
	if err != nil {
		return "", &Error{
			Service:         serviceGemini,
			Category:        CategoryBackend,
			Code:            "UPSTREAM_ERROR",
			UserMessage:     "Upstream service rejected the request",
			InternalMessage: err.Error(),
			cause:           err,
		}
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		break
	}
	if sb.Len() == 0 {
		return "", &Error{
			Service:         serviceGemini,
			Category:        CategoryBackend,
			Code:            "EMPTY_RESPONSE",
			UserMessage:     "Upstream service returned no text",
			InternalMessage: "no candidates returned",
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
