package compose

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/iBekzod/next-gen-being-sub006/internal/model"
	"github.com/iBekzod/next-gen-being-sub006/internal/provider"
	"github.com/iBekzod/next-gen-being-sub006/internal/storage"
)

type recordingRunner struct {
	mu          sync.Mutex
	calls       [][]string
	audioChecks []string
	failOn      string
	withAudio   bool
}

// run writes a small file at the output path (the last argument).
func (r *recordingRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if filepath.Base(name) == "ffprobe" {
		r.audioChecks = append(r.audioChecks, args[len(args)-1])
		if r.withAudio {
			return []byte("1\n"), nil
		}
		return nil, nil
	}
	r.calls = append(r.calls, args)
	out := args[len(args)-1]
	if r.failOn != "" && strings.Contains(out, r.failOn) {
		return []byte("Invalid data found when processing input"), errors.New("exit status 1")
	}
	return nil, os.WriteFile(out, []byte("media"), 0o644)
}

func (r *recordingRunner) outputs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		out = append(out, filepath.Base(c[len(c)-1]))
	}
	return out
}

type fixture struct {
	blob    *storage.Local
	scratch string
	runner  *recordingRunner
	comp    *Compositor
	in      Input
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	blob, err := storage.NewLocal(t.TempDir(), "http://media.test")
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	ctx := context.Background()
	audioURL, err := blob.Put(ctx, "audio/a.mp3", strings.NewReader("ID3"), "audio/mpeg")
	if err != nil {
		t.Fatalf("put audio: %v", err)
	}
	captionURL, err := blob.Put(ctx, "captions/c.srt", strings.NewReader("1\n"), "application/x-subrip")
	if err != nil {
		t.Fatalf("put captions: %v", err)
	}

	stock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.mp4" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("mp4"))
	}))
	t.Cleanup(stock.Close)

	scratch := t.TempDir()
	runner := &recordingRunner{}
	comp := New(NewFFmpeg("", runner.run), blob, Config{ScratchDir: scratch}, nil)
	return &fixture{
		blob:    blob,
		scratch: scratch,
		runner:  runner,
		comp:    comp,
		in: Input{
			RequestID: "req-1",
			Article:   model.Article{ID: "art-1"},
			User:      model.User{ID: "u1", Tier: model.TierFree},
			Clips: []model.FootageClip{
				{URL: stock.URL + "/one.mp4", Duration: 5},
				{URL: stock.URL + "/two.mp4", Duration: 5, StartTime: 5},
			},
			AudioURL:    audioURL,
			CaptionURL:  captionURL,
			DurationSec: 10,
			Resolution:  model.Resolution{Width: 1080, Height: 1920},
		},
	}
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read scratch: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("scratch dir not cleaned: %d entries", len(entries))
	}
}

func TestComposeUploadsVideoAndThumbnail(t *testing.T) {
	f := newFixture(t)
	res, err := f.comp.Compose(context.Background(), f.in)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if res.VideoURL != "http://media.test/videos/art-1/req-1.mp4" {
		t.Fatalf("unexpected video url %s", res.VideoURL)
	}
	if res.ThumbnailURL != "http://media.test/videos/art-1/req-1.jpg" {
		t.Fatalf("unexpected thumbnail url %s", res.ThumbnailURL)
	}
	if res.FileSizeBytes != int64(len("media")) {
		t.Fatalf("unexpected file size %d", res.FileSizeBytes)
	}

	want := []string{"background.mp4", "muxed.mp4", "captioned.mp4", "thumbnail.jpg"}
	if got := f.runner.outputs(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected steps %v", got)
	}
	assertScratchEmpty(t, f.scratch)
}

func TestComposeArguments(t *testing.T) {
	f := newFixture(t)
	if _, err := f.comp.Compose(context.Background(), f.in); err != nil {
		t.Fatalf("compose: %v", err)
	}
	joined := make([]string, len(f.runner.calls))
	for i, c := range f.runner.calls {
		joined[i] = strings.Join(c, " ")
	}
	if !strings.Contains(joined[0], "scale=1080:1920:force_original_aspect_ratio=increase,crop=1080:1920") {
		t.Fatalf("concat does not fit resolution: %s", joined[0])
	}
	if !strings.Contains(joined[1], "-t 10") || !strings.Contains(joined[1], "-b:a 192k") {
		t.Fatalf("mux does not truncate or fix bitrate: %s", joined[1])
	}
	if !strings.Contains(joined[2], "Alignment=2") {
		t.Fatalf("captions not bottom-center: %s", joined[2])
	}
	if !strings.Contains(joined[3], "-ss 2") || !strings.Contains(joined[3], "crop=1280:720") {
		t.Fatalf("thumbnail not taken at 2s with 1280x720: %s", joined[3])
	}
}

func putIntro(t *testing.T, f *fixture) string {
	t.Helper()
	intro, err := f.blob.Put(context.Background(), "branding/u1/intro.mp4", strings.NewReader("mp4"), "video/mp4")
	if err != nil {
		t.Fatalf("put intro: %v", err)
	}
	return intro
}

func TestComposeBrandingOnlyForPremium(t *testing.T) {
	f := newFixture(t)
	f.in.User = model.User{ID: "u1", Tier: model.TierPro, IntroVideoURL: putIntro(t, f)}
	if _, err := f.comp.Compose(context.Background(), f.in); err != nil {
		t.Fatalf("compose: %v", err)
	}
	for _, out := range f.runner.outputs() {
		if out == "branded.mp4" {
			t.Fatalf("non-premium user must not get branding")
		}
	}

	f.runner.calls = nil
	f.in.User.Tier = model.TierPremium
	if _, err := f.comp.Compose(context.Background(), f.in); err != nil {
		t.Fatalf("compose premium: %v", err)
	}
	got := strings.Join(f.runner.outputs(), ",")
	if !strings.Contains(got, "intro_normalized.mp4,branded.mp4") || strings.Contains(got, "outro") {
		t.Fatalf("unexpected branding steps %s", got)
	}
}

func TestComposeBrandingKeepsIntroAudio(t *testing.T) {
	cases := []struct {
		name      string
		withAudio bool
		want      string
		reject    string
	}{
		{name: "intro with soundtrack", withAudio: true, want: "-map 0:a:0", reject: "anullsrc"},
		{name: "silent intro", withAudio: false, want: "-map 1:a:0", reject: "-map 0:a:0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.runner.withAudio = tc.withAudio
			f.in.User = model.User{ID: "u1", Tier: model.TierPremium, IntroVideoURL: putIntro(t, f)}
			if _, err := f.comp.Compose(context.Background(), f.in); err != nil {
				t.Fatalf("compose: %v", err)
			}
			if len(f.runner.audioChecks) != 1 || !strings.HasPrefix(filepath.Base(f.runner.audioChecks[0]), "intro") {
				t.Fatalf("expected one audio check on the intro, got %v", f.runner.audioChecks)
			}
			var normalize string
			for _, c := range f.runner.calls {
				if filepath.Base(c[len(c)-1]) == "intro_normalized.mp4" {
					normalize = strings.Join(c, " ")
				}
			}
			if !strings.Contains(normalize, tc.want) || strings.Contains(normalize, tc.reject) {
				t.Fatalf("unexpected intro normalization: %s", normalize)
			}
		})
	}
}

func TestComposeRejectsLocalBrandingPaths(t *testing.T) {
	local := filepath.Join(t.TempDir(), "intro.mp4")
	if err := os.WriteFile(local, []byte("mp4"), 0o644); err != nil {
		t.Fatalf("write intro: %v", err)
	}
	for _, ref := range []string{"/etc/passwd", local, "file:///etc/passwd", "http://127.0.0.1:8080/intro.mp4", "http://localhost/intro.mp4"} {
		f := newFixture(t)
		f.in.User = model.User{ID: "u1", Tier: model.TierPremium, OutroVideoURL: ref}
		_, err := f.comp.Compose(context.Background(), f.in)
		if !errors.Is(err, ErrBrandingURL) {
			t.Fatalf("outro %q: expected ErrBrandingURL, got %v", ref, err)
		}
		if len(f.runner.calls) != 0 {
			t.Fatalf("outro %q reached the media tool", ref)
		}
		assertScratchEmpty(t, f.scratch)
	}
}

func TestCheckBrandingURL(t *testing.T) {
	blob, err := storage.NewLocal(t.TempDir(), "http://localhost:8080/media")
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	ok := []string{"https://cdn.example.com/intro.mp4", "http://93.184.216.34/a.mp4", "http://localhost:8080/media/branding/intro.mp4"}
	for _, ref := range ok {
		if err := CheckBrandingURL(blob, ref); err != nil {
			t.Fatalf("%q rejected: %v", ref, err)
		}
	}
	bad := []string{"/etc/passwd", "file:///etc/passwd", "ftp://cdn.example.com/a.mp4", "https://", "http://10.0.0.5/a.mp4",
		"http://169.254.169.254/latest/meta-data", "http://user:pw@cdn.example.com/a.mp4", "http://localhost:9000/a.mp4"}
	for _, ref := range bad {
		if err := CheckBrandingURL(blob, ref); !errors.Is(err, ErrBrandingURL) {
			t.Fatalf("%q accepted: %v", ref, err)
		}
	}
}

func TestComposeWithoutClipsRendersBackground(t *testing.T) {
	f := newFixture(t)
	f.in.Clips = nil
	if _, err := f.comp.Compose(context.Background(), f.in); err != nil {
		t.Fatalf("compose: %v", err)
	}
	if first := strings.Join(f.runner.calls[0], " "); !strings.Contains(first, "color=c=black:s=1080x1920") {
		t.Fatalf("expected lavfi background, got %s", first)
	}
}

func TestComposeFailureCleansScratch(t *testing.T) {
	f := newFixture(t)
	f.runner.failOn = "captioned"

	_, err := f.comp.Compose(context.Background(), f.in)
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Step != "captions" {
		t.Fatalf("expected captions command error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid data") {
		t.Fatalf("tool output missing from error: %v", err)
	}
	assertScratchEmpty(t, f.scratch)
	if _, err := os.Stat(filepath.Join(f.blob.BasePath(), "videos")); !os.IsNotExist(err) {
		t.Fatalf("nothing should be uploaded on failure")
	}
}

func TestComposeDownloadFailure(t *testing.T) {
	f := newFixture(t)
	f.in.Clips[1].URL = strings.Replace(f.in.Clips[1].URL, "two", "missing", 1)

	if _, err := f.comp.Compose(context.Background(), f.in); err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Fatalf("expected download failure, got %v", err)
	}
	if len(f.runner.calls) != 0 {
		t.Fatalf("media tool must not run when localization fails")
	}
	assertScratchEmpty(t, f.scratch)
}

func TestPlaceholderComposeWithMockFootage(t *testing.T) {
	f := newFixture(t)
	mock := &provider.MockAdapter{}
	comp := New(Placeholder{}, f.blob, Config{ScratchDir: f.scratch, Transport: mock.Transport(nil)}, nil)

	videos, err := mock.Search(context.Background(), provider.StockQuery{Query: "golang", Count: 2})
	if err != nil {
		t.Fatalf("mock search: %v", err)
	}
	in := f.in
	in.Clips = nil
	for i, v := range videos {
		in.Clips = append(in.Clips, model.FootageClip{URL: v.URL, Duration: 5, StartTime: float64(i * 5)})
	}

	res, err := comp.Compose(context.Background(), in)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	rc, err := f.blob.Get(context.Background(), "videos/art-1/req-1.mp4")
	if err != nil {
		t.Fatalf("get video: %v", err)
	}
	defer rc.Close()
	manifest, _ := io.ReadAll(rc)
	if !strings.Contains(string(manifest), "clip clip_001.mp4 5.00") || !strings.Contains(string(manifest), "resolution=1080x1920") {
		t.Fatalf("unexpected manifest:\n%s", manifest)
	}
	if res.FileSizeBytes != int64(len(manifest)) {
		t.Fatalf("size %d does not match manifest %d", res.FileSizeBytes, len(manifest))
	}
	assertScratchEmpty(t, f.scratch)
}
