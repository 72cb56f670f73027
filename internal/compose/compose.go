package compose

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/iBekzod/next-gen-being-sub006/internal/model"
	"github.com/iBekzod/next-gen-being-sub006/internal/storage"
)

var ThumbnailSize = model.Resolution{Width: 1280, Height: 720}

const ThumbnailAtSec = 2.0

type PlanClip struct {
	Path     string
	Duration float64
}

// Plan is a declarative edit handed to a MediaCompositor. Intermediate and
// output files are written inside ScratchDir.
type Plan struct {
	ScratchDir     string
	Clips          []PlanClip
	AudioPath      string
	CaptionPath    string
	Resolution     model.Resolution
	DurationSec    int
	IntroPath      string
	OutroPath      string
	ThumbnailSize  model.Resolution
	ThumbnailAtSec float64
}

type Output struct {
	VideoPath     string
	ThumbnailPath string
}

type MediaCompositor interface {
	Compose(ctx context.Context, plan Plan) (Output, error)
}

type CommandError struct {
	Step   string
	Err    error
	Output string
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if len(out) > 500 {
		out = "..." + out[len(out)-500:]
	}
	if out == "" {
		return fmt.Sprintf("compose %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("compose %s: %v: %s", e.Step, e.Err, out)
}

func (e *CommandError) Unwrap() error { return e.Err }

type Config struct {
	ScratchDir      string
	DownloadTimeout time.Duration
	Transport http.RoundTripper
}

type Input struct {
	RequestID   string
	Article     model.Article
	User        model.User
	Clips       []model.FootageClip
	AudioURL    string
	CaptionURL  string
	DurationSec int
	Resolution  model.Resolution
}

type Result struct {
	VideoURL      string `json:"video_url"`
	ThumbnailURL  string `json:"thumbnail_url"`
	FileSizeBytes int64  `json:"file_size_bytes"`
}

type Compositor struct {
	media  MediaCompositor
	blob   storage.Blob
	client *http.Client
	cfg    Config
	log    *slog.Logger
}

func New(media MediaCompositor, blob storage.Blob, cfg Config, logger *slog.Logger) *Compositor {
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compositor{
		media:  media,
		blob:   blob,
		client: &http.Client{Timeout: cfg.DownloadTimeout, Transport: cfg.Transport},
		cfg:    cfg,
		log:    logger,
	}
}

// Compose runs the edit inside a per-request scratch directory that is
// removed on every path.
func (c *Compositor) Compose(ctx context.Context, in Input) (Result, error) {
	if err := os.MkdirAll(c.scratchRoot(), 0o755); err != nil {
		return Result{}, fmt.Errorf("create scratch root: %w", err)
	}
	scratch, err := os.MkdirTemp(c.scratchRoot(), "a2v-"+in.RequestID+"-")
	if err != nil {
		return Result{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			c.log.Warn("scratch_cleanup_failed", "request_id", in.RequestID, "dir", scratch, "error", err)
		}
	}()

	plan := Plan{
		ScratchDir:     scratch,
		Resolution:     in.Resolution,
		DurationSec:    in.DurationSec,
		ThumbnailSize:  ThumbnailSize,
		ThumbnailAtSec: ThumbnailAtSec,
	}
	for i, clip := range in.Clips {
		p, err := c.localize(ctx, clip.URL, scratch, fmt.Sprintf("clip_%03d", i), ".mp4", true)
		if err != nil {
			return Result{}, fmt.Errorf("fetch clip %d: %w", i, err)
		}
		plan.Clips = append(plan.Clips, PlanClip{Path: p, Duration: clip.Duration})
	}
	if plan.AudioPath, err = c.localize(ctx, in.AudioURL, scratch, "narration", ".mp3", true); err != nil {
		return Result{}, fmt.Errorf("fetch narration: %w", err)
	}
	if plan.CaptionPath, err = c.localize(ctx, in.CaptionURL, scratch, "captions", ".srt", true); err != nil {
		return Result{}, fmt.Errorf("fetch captions: %w", err)
	}
	if in.User.HasBranding() {
		if in.User.IntroVideoURL != "" {
			if plan.IntroPath, err = c.localize(ctx, in.User.IntroVideoURL, scratch, "intro", ".mp4", false); err != nil {
				return Result{}, fmt.Errorf("fetch intro: %w", err)
			}
		}
		if in.User.OutroVideoURL != "" {
			if plan.OutroPath, err = c.localize(ctx, in.User.OutroVideoURL, scratch, "outro", ".mp4", false); err != nil {
				return Result{}, fmt.Errorf("fetch outro: %w", err)
			}
		}
	}

	out, err := c.media.Compose(ctx, plan)
	if err != nil {
		return Result{}, err
	}

	base := fmt.Sprintf("videos/%s/%s", in.Article.ID, in.RequestID)
	videoURL, size, err := c.upload(ctx, out.VideoPath, base+".mp4", "video/mp4")
	if err != nil {
		return Result{}, fmt.Errorf("upload video: %w", err)
	}
	thumbURL, _, err := c.upload(ctx, out.ThumbnailPath, base+".jpg", "image/jpeg")
	if err != nil {
		return Result{}, fmt.Errorf("upload thumbnail: %w", err)
	}
	return Result{VideoURL: videoURL, ThumbnailURL: thumbURL, FileSizeBytes: size}, nil
}

func (c *Compositor) scratchRoot() string {
	if c.cfg.ScratchDir != "" {
		return c.cfg.ScratchDir
	}
	return os.TempDir()
}

// localize resolves ref to a file inside dir. Plain paths pass through only
// for pipeline artifacts; user supplied refs must pass CheckBrandingURL.
func (c *Compositor) localize(ctx context.Context, ref, dir, name, defaultExt string, trusted bool) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("empty reference for %s", name)
	}
	if !trusted {
		if err := CheckBrandingURL(c.blob, ref); err != nil {
			return "", err
		}
	}
	if key, ok := c.blob.KeyFromURL(ref); ok {
		rc, err := c.blob.Get(ctx, key)
		if err != nil {
			return "", err
		}
		defer rc.Close()
		return writeTo(rc, filepath.Join(dir, name+extOf(key, defaultExt)))
	}

	u, err := url.Parse(ref)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return "", err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("download %s: %w", ref, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			return "", fmt.Errorf("download %s: status %d", ref, resp.StatusCode)
		}
		return writeTo(resp.Body, filepath.Join(dir, name+extOf(u.Path, defaultExt)))
	}

	if !trusted {
		return "", ErrBrandingURL
	}
	if _, err := os.Stat(ref); err != nil {
		return "", fmt.Errorf("local media %s: %w", ref, err)
	}
	return ref, nil
}

func (c *Compositor) upload(ctx context.Context, src, key, contentType string) (string, int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	u, err := c.blob.Put(ctx, key, f, contentType)
	if err != nil {
		return "", 0, err
	}
	return u, info.Size(), nil
}

func writeTo(r io.Reader, dest string) (string, error) {
	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", filepath.Base(dest), err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return dest, nil
}

func extOf(p, fallback string) string {
	if ext := path.Ext(p); ext != "" && len(ext) <= 5 {
		return ext
	}
	return fallback
}
