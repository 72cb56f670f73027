package compose

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/iBekzod/next-gen-being-sub006/internal/model"
)

const (
	frameRate    = "30"
	audioBitrate = "192k"
	audioRate    = "44100"
)

type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

type FFmpeg struct {
	bin     string
	ffprobe string
	run     Runner
}

func NewFFmpeg(bin string, run Runner) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	if run == nil {
		run = execRunner
	}
	ffprobe := "ffprobe"
	if dir := filepath.Dir(bin); dir != "." {
		ffprobe = filepath.Join(dir, "ffprobe")
	}
	return &FFmpeg{bin: bin, ffprobe: ffprobe, run: run}
}

func (f *FFmpeg) Compose(ctx context.Context, plan Plan) (Output, error) {
	dir := plan.ScratchDir

	background, err := f.concatClips(ctx, plan)
	if err != nil {
		return Output{}, err
	}

	muxed := filepath.Join(dir, "muxed.mp4")
	if err := f.exec(ctx, "mux", "-y",
		"-stream_loop", "-1",
		"-i", background,
		"-i", plan.AudioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", audioBitrate,
		"-ar", audioRate,
		"-ac", "2",
		"-t", strconv.Itoa(plan.DurationSec),
		muxed,
	); err != nil {
		return Output{}, err
	}

	captioned := filepath.Join(dir, "captioned.mp4")
	if err := f.exec(ctx, "captions", "-y",
		"-i", muxed,
		"-vf", subtitleFilter(plan.CaptionPath, plan.Resolution),
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "22",
		"-pix_fmt", "yuv420p",
		"-c:a", "copy",
		captioned,
	); err != nil {
		return Output{}, err
	}

	final, err := f.brand(ctx, plan, captioned)
	if err != nil {
		return Output{}, err
	}

	thumb := filepath.Join(dir, "thumbnail.jpg")
	if err := f.exec(ctx, "thumbnail", "-y",
		"-ss", strconv.FormatFloat(plan.ThumbnailAtSec, 'f', -1, 64),
		"-i", final,
		"-vframes", "1",
		"-vf", scaleCrop(plan.ThumbnailSize),
		"-q:v", "2",
		thumb,
	); err != nil {
		return Output{}, err
	}
	return Output{VideoPath: final, ThumbnailPath: thumb}, nil
}

// concatClips joins the clips trimmed to their planned duration and fits
// every frame to the target resolution. Without clips a black background is
// rendered instead.
func (f *FFmpeg) concatClips(ctx context.Context, plan Plan) (string, error) {
	out := filepath.Join(plan.ScratchDir, "background.mp4")
	encode := []string{
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "22",
		"-r", frameRate,
		"-pix_fmt", "yuv420p",
		"-an",
		out,
	}

	if len(plan.Clips) == 0 {
		args := []string{"-y",
			"-f", "lavfi",
			"-i", fmt.Sprintf("color=c=black:s=%dx%d:r=%s", plan.Resolution.Width, plan.Resolution.Height, frameRate),
			"-t", strconv.Itoa(plan.DurationSec),
		}
		return out, f.exec(ctx, "background", append(args, encode...)...)
	}

	var lines []string
	for _, clip := range plan.Clips {
		lines = append(lines, fmt.Sprintf("file '%s'", escapeConcatPath(clip.Path)))
		if clip.Duration > 0 {
			lines = append(lines, "inpoint 0", "outpoint "+strconv.FormatFloat(clip.Duration, 'f', -1, 64))
		}
	}
	list := filepath.Join(plan.ScratchDir, "clips.txt")
	if err := os.WriteFile(list, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}
	args := []string{"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", list,
		"-vf", scaleCrop(plan.Resolution) + ",setsar=1",
	}
	return out, f.exec(ctx, "concat", append(args, encode...)...)
}

// brand wraps main with the intro and outro, normalized to the same
// resolution and audio layout so the concat demuxer can copy streams.
func (f *FFmpeg) brand(ctx context.Context, plan Plan, main string) (string, error) {
	if plan.IntroPath == "" && plan.OutroPath == "" {
		return main, nil
	}
	var parts []string
	for _, p := range []struct{ name, src string }{{"intro", plan.IntroPath}, {"main", main}, {"outro", plan.OutroPath}} {
		if p.src == "" {
			continue
		}
		if p.name == "main" {
			parts = append(parts, main)
			continue
		}
		normalized := filepath.Join(plan.ScratchDir, p.name+"_normalized.mp4")
		hasAudio, err := f.hasAudio(ctx, p.src)
		if err != nil {
			return "", err
		}
		args := []string{"-y", "-i", p.src}
		if hasAudio {
			args = append(args, "-map", "0:v:0", "-map", "0:a:0", "-ar", audioRate, "-ac", "2")
		} else {
			args = append(args,
				"-f", "lavfi",
				"-i", "anullsrc=channel_layout=stereo:sample_rate="+audioRate,
				"-map", "0:v:0",
				"-map", "1:a:0",
				"-shortest",
			)
		}
		args = append(args,
			"-vf", scaleCrop(plan.Resolution)+",setsar=1",
			"-r", frameRate,
			"-c:v", "libx264",
			"-preset", "fast",
			"-crf", "22",
			"-pix_fmt", "yuv420p",
			"-c:a", "aac",
			"-b:a", audioBitrate,
			normalized,
		)
		if err := f.exec(ctx, p.name, args...); err != nil {
			return "", err
		}
		parts = append(parts, normalized)
	}

	var lines []string
	for _, p := range parts {
		lines = append(lines, fmt.Sprintf("file '%s'", escapeConcatPath(p)))
	}
	list := filepath.Join(plan.ScratchDir, "branding.txt")
	if err := os.WriteFile(list, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write branding list: %w", err)
	}
	out := filepath.Join(plan.ScratchDir, "branded.mp4")
	if err := f.exec(ctx, "branding", "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", list,
		"-c", "copy",
		"-movflags", "+faststart",
		out,
	); err != nil {
		return "", err
	}
	return out, nil
}

func (f *FFmpeg) hasAudio(ctx context.Context, path string) (bool, error) {
	out, err := f.run(ctx, f.ffprobe,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		return false, &CommandError{Step: "audio_streams", Err: err, Output: string(out)}
	}
	return strings.TrimSpace(string(out)) != "", nil
}

func (f *FFmpeg) exec(ctx context.Context, step string, args ...string) error {
	out, err := f.run(ctx, f.bin, args...)
	if err != nil {
		return &CommandError{Step: step, Err: err, Output: string(out)}
	}
	return nil
}

func scaleCrop(r model.Resolution) string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d", r.Width, r.Height, r.Width, r.Height)
}

func subtitleFilter(captionPath string, r model.Resolution) string {
	fontSize := 16
	if r.Height > r.Width {
		fontSize = 12
	}
	return fmt.Sprintf(
		"subtitles=%s:force_style='FontName=Arial,FontSize=%d,Bold=1,PrimaryColour=&H00FFFFFF,OutlineColour=&H00000000,BorderStyle=1,Outline=2,Alignment=2,MarginV=40'",
		escapeFilterPath(captionPath), fontSize,
	)
}

func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.ReplaceAll(p, ":", "\\:")
	p = strings.ReplaceAll(p, "'", "\\'")
	return p
}

func escapeConcatPath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}
