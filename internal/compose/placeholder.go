package compose

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Placeholder is a MediaCompositor for local development without ffmpeg.
// It writes a text manifest of the plan in place of the video.
type Placeholder struct{}

func (Placeholder) Compose(ctx context.Context, plan Plan) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "resolution=%s duration=%d\n", plan.Resolution, plan.DurationSec)
	for _, clip := range plan.Clips {
		fmt.Fprintf(&b, "clip %s %.2f\n", filepath.Base(clip.Path), clip.Duration)
	}
	fmt.Fprintf(&b, "audio %s\ncaptions %s\n", filepath.Base(plan.AudioPath), filepath.Base(plan.CaptionPath))
	if plan.IntroPath != "" {
		fmt.Fprintf(&b, "intro %s\n", filepath.Base(plan.IntroPath))
	}
	if plan.OutroPath != "" {
		fmt.Fprintf(&b, "outro %s\n", filepath.Base(plan.OutroPath))
	}

	out := Output{
		VideoPath:     filepath.Join(plan.ScratchDir, "final.mp4"),
		ThumbnailPath: filepath.Join(plan.ScratchDir, "thumbnail.jpg"),
	}
	if err := os.WriteFile(out.VideoPath, []byte(b.String()), 0o644); err != nil {
		return Output{}, &CommandError{Step: "placeholder", Err: err}
	}
	thumb := fmt.Sprintf("thumbnail %s\n", plan.ThumbnailSize)
	if err := os.WriteFile(out.ThumbnailPath, []byte(thumb), 0o644); err != nil {
		return Output{}, &CommandError{Step: "placeholder", Err: err}
	}
	return out, nil
}
