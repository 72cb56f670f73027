package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const MockStockHost = "stock.local"

const mockScript = "Ever wondered why some code just works? Today we break down one idea that changes how you build software. " +
	"It starts with a simple question about structure. Small pieces that do one thing are easier to test! " +
	"They are also easier to replace when requirements change. Try it on your next feature and see the difference. " +
	"Follow for more tips like this?"

// MockAdapter stands in for every external backend during local development.
type MockAdapter struct {
	Latency time.Duration
}

func NewMockAdapter() *MockAdapter {
	return &MockAdapter{Latency: 200 * time.Millisecond}
}

func (m *MockAdapter) Configured() bool { return true }

func (m *MockAdapter) Generate(ctx context.Context, in TextRequest) (string, error) {
	if err := waitCancelable(ctx, m.Latency); err != nil {
		return "", NetworkError("mock", err)
	}
	return mockScript, nil
}

func (m *MockAdapter) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if err := waitCancelable(ctx, m.Latency); err != nil {
		return nil, NetworkError("mock", err)
	}
	return []byte(fmt.Sprintf("ID3 mock-audio voice=%s words=%d", voiceID, len(strings.Fields(text)))), nil
}

func (m *MockAdapter) Search(ctx context.Context, q StockQuery) ([]StockVideo, error) {
	if err := waitCancelable(ctx, m.Latency/4); err != nil {
		return nil, NetworkError("mock", err)
	}
	out := make([]StockVideo, 0, q.Count)
	for i := 0; i < q.Count; i++ {
		out = append(out, StockVideo{
			URL:         fmt.Sprintf("https://%s/%s/%d.mp4", MockStockHost, strings.ReplaceAll(q.Query, " ", "-"), i),
			Width:       1080,
			Height:      1920,
			Duration:    10,
			Attribution: "Video by Mock Creator on Pexels",
		})
	}
	return out, nil
}

func waitCancelable(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Transport serves placeholder bytes for MockStockHost and forwards every
// other request to base (http.DefaultTransport when nil).
func (m *MockAdapter) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return mockTransport{base: base}
}

type mockTransport struct {
	base http.RoundTripper
}

func (t mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Host != MockStockHost {
		return t.base.RoundTrip(req)
	}
	body := "mock-clip " + req.URL.Path
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"video/mp4"}},
		Body:          io.NopCloser(bytes.NewBufferString(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, nil
}
