package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iBekzod/next-gen-being-sub006/internal/auth"
	"github.com/iBekzod/next-gen-being-sub006/internal/captions"
	"github.com/iBekzod/next-gen-being-sub006/internal/compose"
	"github.com/iBekzod/next-gen-being-sub006/internal/events"
	"github.com/iBekzod/next-gen-being-sub006/internal/footage"
	"github.com/iBekzod/next-gen-being-sub006/internal/job"
	"github.com/iBekzod/next-gen-being-sub006/internal/model"
	"github.com/iBekzod/next-gen-being-sub006/internal/provider"
	"github.com/iBekzod/next-gen-being-sub006/internal/queue"
	"github.com/iBekzod/next-gen-being-sub006/internal/script"
	"github.com/iBekzod/next-gen-being-sub006/internal/storage"
	"github.com/iBekzod/next-gen-being-sub006/internal/store"
	"github.com/iBekzod/next-gen-being-sub006/internal/voice"
)

type testEnv struct {
	router http.Handler
	repo   *store.MemoryStore
	auth   *auth.Service
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	blob, err := storage.NewLocal(t.TempDir(), "http://localhost:8080/api/v1/media")
	if err != nil {
		t.Fatalf("new local storage: %v", err)
	}
	repo := store.NewMemoryStore()
	hub := events.NewHub()
	q := queue.NewMemory(16)
	mock := &provider.MockAdapter{}
	stages := job.Stages{
		Script:   script.New(mock, script.Config{Temperature: 0.7, Timeout: 5 * time.Second}, nil),
		Voice:    voice.New(mock, mock, blob, voice.Config{Timeout: 5 * time.Second}, nil),
		Footage:  footage.New(mock, footage.NewMemoryCache(time.Hour, nil), rand.New(rand.NewSource(1)), footage.Config{}, nil),
		Captions: captions.NewBuilder(blob, captions.DialectSRT, captions.StylePlain),
		Compose: compose.New(compose.Placeholder{}, blob, compose.Config{
			ScratchDir: t.TempDir(),
			Transport:  mock.Transport(nil),
		}, nil),
	}
	jobs := job.NewService(repo, hub, q, stages, job.Config{
		MaxConcurrent:       2,
		SpeechRatePerMinute: 0.015,
		StorageSurcharge:    0.01,
		Quotas:              map[model.Tier]int{model.TierFree: 3, model.TierPro: 30, model.TierPremium: -1},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = jobs.Run(ctx, q)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	authSvc := auth.NewService("test-secret", time.Hour)
	s := NewServer(authSvc, repo, jobs, hub, blob, Options{EventPoll: 50 * time.Millisecond}, nil)
	return &testEnv{router: s.Router(), repo: repo, auth: authSvc}
}

func (e *testEnv) token(t *testing.T, userID string, tier model.Tier) string {
	t.Helper()
	tok, err := e.auth.IssueAccess(model.User{ID: userID, Email: userID + "@example.com", Tier: tier})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v body=%s", err, rec.Body.String())
	}
	return resp.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v body=%s", err, rec.Body.String())
	}
	return resp.Error.Code
}

func (e *testEnv) putArticle(t *testing.T, token, id string) {
	t.Helper()
	rec := e.do(t, http.MethodPut, "/api/v1/articles/"+id, token, map[string]any{
		"title":    "Understanding Kubernetes operators",
		"body":     "Operators extend Kubernetes with custom controllers.",
		"excerpt":  "A tour of docker, kubernetes and golang tooling.",
		"category": "DevOps",
		"tags":     []string{"kubernetes", "operators", "controllers", "automation", "cloud-native", "reconciliation"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put article status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func (e *testEnv) waitForStatus(t *testing.T, token, requestID string, want model.RequestStatus) model.GenerationRequest {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec := e.do(t, http.MethodGet, "/api/v1/videos/"+requestID, token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("get video status=%d body=%s", rec.Code, rec.Body.String())
		}
		got := decodeData[model.GenerationRequest](t, rec)
		if got.Status == want {
			return got
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("request %s did not reach %s before timeout", requestID, want)
	return model.GenerationRequest{}
}

func TestHealthzAndFormatsArePublic(t *testing.T) {
	env := setupTestRouter(t)

	rec := env.do(t, http.MethodGet, "/api/v1/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rec.Code)
	}
	if rec.Header().Get("X-Trace-Id") == "" {
		t.Fatalf("missing trace id header")
	}

	rec = env.do(t, http.MethodGet, "/api/v1/formats", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("formats status=%d", rec.Code)
	}
	formats := decodeData[struct {
		Items []model.FormatSpec `json:"items"`
	}](t, rec)
	if len(formats.Items) != 4 || formats.Items[0].Format != model.FormatYouTube || formats.Items[0].DurationSec != 600 {
		t.Fatalf("unexpected formats %+v", formats.Items)
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	env := setupTestRouter(t)

	rec := env.do(t, http.MethodGet, "/api/v1/videos", "", nil)
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "UNAUTHORIZED" {
		t.Fatalf("expected 401, got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/api/v1/videos", "garbage", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
}

func TestSubmitVideoRunsPipeline(t *testing.T) {
	env := setupTestRouter(t)
	token := env.token(t, "u1", model.TierFree)
	env.putArticle(t, token, "a1")

	rec := env.do(t, http.MethodPost, "/api/v1/articles/a1/videos", token, map[string]any{"format": "short"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status=%d body=%s", rec.Code, rec.Body.String())
	}
	submitted := decodeData[model.GenerationRequest](t, rec)
	if submitted.DurationSec != 60 || submitted.Resolution.String() != "1080x1920" {
		t.Fatalf("format parameters not applied: %+v", submitted)
	}

	done := env.waitForStatus(t, token, submitted.ID, model.StatusCompleted)
	if len(done.Clips) != 12 || done.AudioURL == "" || done.CaptionURL == "" || done.VideoURL == "" || done.ThumbnailURL == "" {
		t.Fatalf("artifacts missing: %+v", done)
	}
	if !strings.Contains(done.VideoURL, "/videos/a1/"+done.ID+".mp4") {
		t.Fatalf("unexpected video url %s", done.VideoURL)
	}

	u, _ := url.Parse(done.VideoURL)
	media := env.do(t, http.MethodGet, u.Path, "", nil)
	if media.Code != http.StatusOK || !strings.Contains(media.Body.String(), "resolution=1080x1920") {
		t.Fatalf("media status=%d body=%s", media.Code, media.Body.String())
	}

	list := env.do(t, http.MethodGet, "/api/v1/videos?page=1&page_size=10", token, nil)
	page := decodeData[struct {
		Items []model.GenerationRequest `json:"items"`
		Total int                       `json:"total"`
	}](t, list)
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].ID != done.ID {
		t.Fatalf("unexpected list %+v", page)
	}

	me := decodeData[struct {
		User model.User `json:"user"`
	}](t, env.do(t, http.MethodGet, "/api/v1/me", token, nil))
	if me.User.VideoCount != 1 {
		t.Fatalf("expected video count 1, got %d", me.User.VideoCount)
	}
}

func TestEventStreamReplaysFromLastEventID(t *testing.T) {
	env := setupTestRouter(t)
	token := env.token(t, "u1", model.TierFree)
	env.putArticle(t, token, "a1")

	rec := env.do(t, http.MethodPost, "/api/v1/articles/a1/videos", token, map[string]any{"format": "tiktok"})
	submitted := decodeData[model.GenerationRequest](t, rec)
	env.waitForStatus(t, token, submitted.ID, model.StatusCompleted)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+submitted.ID+"/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Last-Event-ID", "10")
	stream := httptest.NewRecorder()
	env.router.ServeHTTP(stream, req)

	if ct := stream.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var ids, types []string
	scanner := bufio.NewScanner(stream.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "id: "):
			ids = append(ids, strings.TrimPrefix(line, "id: "))
		case strings.HasPrefix(line, "event: "):
			types = append(types, strings.TrimPrefix(line, "event: "))
		}
	}
	if len(ids) != 3 || ids[0] != "11" || ids[2] != "13" {
		t.Fatalf("unexpected replay ids %v", ids)
	}
	if types[2] != string(model.EventRequestCompleted) {
		t.Fatalf("expected stream to end with completion, got %v", types)
	}
}

func TestSubmitVideoErrors(t *testing.T) {
	env := setupTestRouter(t)
	token := env.token(t, "u1", model.TierFree)
	env.putArticle(t, token, "a1")

	cases := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown format", "/api/v1/articles/a1/videos", map[string]any{"format": "vine"}, http.StatusBadRequest, "INVALID_FORMAT"},
		{"missing format", "/api/v1/articles/a1/videos", map[string]any{}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing article", "/api/v1/articles/nope/videos", map[string]any{"format": "short"}, http.StatusNotFound, "ARTICLE_NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tc.path, token, tc.body)
			if rec.Code != tc.status || errorCode(t, rec) != tc.code {
				t.Fatalf("expected %d %s, got %d body=%s", tc.status, tc.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSubmitVideoQuotaExceeded(t *testing.T) {
	env := setupTestRouter(t)
	if err := env.repo.UpsertUser(context.Background(), model.User{ID: "u1", Tier: model.TierFree, VideoCount: 3}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	token := env.token(t, "u1", model.TierFree)
	env.putArticle(t, token, "a1")

	rec := env.do(t, http.MethodPost, "/api/v1/articles/a1/videos", token, map[string]any{"format": "short"})
	if rec.Code != http.StatusPaymentRequired || errorCode(t, rec) != "QUOTA_EXCEEDED" {
		t.Fatalf("expected 402 QUOTA_EXCEEDED, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestOtherUsersCannotReadRequests(t *testing.T) {
	env := setupTestRouter(t)
	owner := env.token(t, "u1", model.TierFree)
	other := env.token(t, "u2", model.TierFree)
	env.putArticle(t, owner, "a1")

	if rec := env.do(t, http.MethodPut, "/api/v1/articles/a1", other, map[string]any{"title": "x", "body": "y"}); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 overwriting foreign article, got %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/articles/a1/videos", owner, map[string]any{"format": "short"})
	submitted := decodeData[model.GenerationRequest](t, rec)

	for _, path := range []string{
		"/api/v1/videos/" + submitted.ID,
		"/api/v1/videos/" + submitted.ID + "/events",
	} {
		if rec := env.do(t, http.MethodGet, path, other, nil); rec.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", path, rec.Code)
		}
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/videos/"+submitted.ID+"/cancel", other, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("cancel: expected 403, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/videos/missing", owner, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown request, got %d", rec.Code)
	}
}

func TestResubmitRequiresFailedRequest(t *testing.T) {
	env := setupTestRouter(t)
	token := env.token(t, "u1", model.TierFree)
	env.putArticle(t, token, "a1")

	rec := env.do(t, http.MethodPost, "/api/v1/articles/a1/videos", token, map[string]any{"format": "short"})
	submitted := decodeData[model.GenerationRequest](t, rec)
	env.waitForStatus(t, token, submitted.ID, model.StatusCompleted)

	rec = env.do(t, http.MethodPost, "/api/v1/videos/"+submitted.ID+"/resubmit", token, nil)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "INVALID_STATE" {
		t.Fatalf("expected 409, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestBrandingRequiresPremium(t *testing.T) {
	env := setupTestRouter(t)
	body := map[string]any{"intro_video_url": "https://cdn.example.com/intro.mp4"}

	rec := env.do(t, http.MethodPut, "/api/v1/me/branding", env.token(t, "u1", model.TierPro), body)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "TIER_REQUIRED" {
		t.Fatalf("expected 403 TIER_REQUIRED, got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPut, "/api/v1/me/branding", env.token(t, "u2", model.TierPremium), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("premium branding status=%d body=%s", rec.Code, rec.Body.String())
	}
	user, err := env.repo.GetUser(context.Background(), "u2")
	if err != nil || !user.HasBranding() {
		t.Fatalf("branding not stored: %+v err=%v", user, err)
	}
}

func TestBrandingRejectsLocalAndInternalURLs(t *testing.T) {
	env := setupTestRouter(t)
	token := env.token(t, "u2", model.TierPremium)
	cases := []map[string]any{
		{"intro_video_url": "/etc/passwd"},
		{"intro_video_url": "file:///etc/passwd"},
		{"outro_video_url": "../../scratch/a2v-req/final.mp4"},
		{"outro_video_url": "http://169.254.169.254/latest/meta-data"},
		{"intro_video_url": "https://cdn.example.com/intro.mp4", "outro_video_url": "http://127.0.0.1:6379/"},
	}
	for _, body := range cases {
		rec := env.do(t, http.MethodPut, "/api/v1/me/branding", token, body)
		if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "INVALID_BRANDING_URL" {
			t.Fatalf("%v: expected 400 INVALID_BRANDING_URL, got %d body=%s", body, rec.Code, rec.Body.String())
		}
	}
	if user, err := env.repo.GetUser(context.Background(), "u2"); err != nil || user.HasBranding() {
		t.Fatalf("rejected branding was stored: %+v err=%v", user, err)
	}

	media := map[string]any{"intro_video_url": "http://localhost:8080/api/v1/media/branding/u2/intro.mp4"}
	if rec := env.do(t, http.MethodPut, "/api/v1/me/branding", token, media); rec.Code != http.StatusOK {
		t.Fatalf("stored media url rejected: %d body=%s", rec.Code, rec.Body.String())
	}
}
