package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var ErrMissingCredential = errors.New("credential is not configured")

const (
	CategoryConfig  = "config"
	CategoryBackend = "backend"
	CategoryNetwork = "network"
)

// Error is returned by every external backend. InternalMessage carries the
// backend's response body verbatim for backend failures.
type Error struct {
	Service         string
	Category        string
	Code            string
	StatusCode      int
	Retryable       bool
	UserMessage     string
	InternalMessage string
	cause           error
}

func (e *Error) Error() string {
	switch e.Category {
	case CategoryBackend:
		return fmt.Sprintf("%s error: status %d: %s", e.Service, e.StatusCode, e.InternalMessage)
	default:
		return fmt.Sprintf("%s error: %s", e.Service, e.InternalMessage)
	}
}

func (e *Error) Unwrap() error { return e.cause }

func MissingCredential(service, name string) *Error {
	return &Error{
		Service:         service,
		Category:        CategoryConfig,
		Code:            "MISSING_CREDENTIAL",
		UserMessage:     "Video generation is not configured",
		InternalMessage: fmt.Sprintf("%s %s", name, ErrMissingCredential),
		cause:           ErrMissingCredential,
	}
}

func NetworkError(service string, err error) *Error {
	return &Error{
		Service:         service,
		Category:        CategoryNetwork,
		Code:            "UPSTREAM_UNREACHABLE",
		Retryable:       true,
		UserMessage:     "Service temporarily unavailable",
		InternalMessage: err.Error(),
		cause:           err,
	}
}

func BackendError(service string, status int, body string) *Error {
	return &Error{
		Service:         service,
		Category:        CategoryBackend,
		Code:            fmt.Sprintf("UPSTREAM_%d", status),
		StatusCode:      status,
		Retryable:       status == http.StatusTooManyRequests || status >= http.StatusInternalServerError,
		UserMessage:     "Upstream service rejected the request",
		InternalMessage: strings.TrimSpace(body),
	}
}

type TextRequest struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

type TextGenerator interface {
	Generate(ctx context.Context, req TextRequest) (string, error)
}

type SpeechSynthesizer interface {
	// Configured reports whether the backend holds a credential.
	Configured() bool
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

const (
	OrientationPortrait  = "portrait"
	OrientationLandscape = "landscape"
	SizeMedium           = "medium"
)

type StockQuery struct {
	Query       string
	Count       int
	Orientation string
	Size        string
}

type StockVideo struct {
	URL         string  `json:"url"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Duration    float64 `json:"duration"`
	Attribution string  `json:"attribution"`
}

type StockSearcher interface {
	Search(ctx context.Context, q StockQuery) ([]StockVideo, error)
	Configured() bool
}

func do(client *http.Client, service string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, NetworkError(service, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NetworkError(service, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, BackendError(service, resp.StatusCode, string(body))
	}
	return body, nil
}
