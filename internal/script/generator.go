package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/iBekzod/next-gen-being-sub006/internal/model"
	"github.com/iBekzod/next-gen-being-sub006/internal/provider"
)

const (
	WordsPerSecond = 2.5
	// MaxSourceChars bounds how much of the article body reaches the prompt.
	MaxSourceChars = 3000
)

var ErrEmptyScript = errors.New("generated script contains no sentences")

var (
	sentencePattern  = regexp.MustCompile(`[^.!?]+[.!?]*`)
	directionPattern = regexp.MustCompile(`\[[^\]]*\]`)
	speakerPattern   = regexp.MustCompile(`(?m)^\s*(NARRATOR|HOST|VOICEOVER|VO)\s*:\s*`)
	spacePattern     = regexp.MustCompile(`\s+`)
)

type Config struct {
	Temperature float64
	Timeout     time.Duration
}

type Result struct {
	Text     string               `json:"text"`
	Segments []model.TimedSegment `json:"segments"`
}

type Generator struct {
	text provider.TextGenerator
	cfg  Config
	log  *slog.Logger
}

func New(text provider.TextGenerator, cfg Config, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{text: text, cfg: cfg, log: logger}
}

func (g *Generator) Generate(ctx context.Context, article model.Article, format model.VideoFormat) (Result, error) {
	spec := format.Spec()
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	raw, err := g.text.Generate(ctx, provider.TextRequest{
		SystemPrompt: spec.Persona,
		UserPrompt:   BuildPrompt(article, spec),
		MaxTokens:    spec.MaxTokens,
		Temperature:  g.cfg.Temperature,
	})
	if err != nil {
		return Result{}, fmt.Errorf("generate script: %w", err)
	}

	text := Clean(raw)
	segments, err := Segment(text, float64(spec.DurationSec))
	if err != nil {
		return Result{}, err
	}
	g.log.Debug("script_generated",
		"article_id", article.ID,
		"format", format,
		"words", len(strings.Fields(text)),
		"segments", len(segments),
	)
	return Result{Text: text, Segments: segments}, nil
}

func TargetWordCount(durationSec int) int {
	return int(math.Round(float64(durationSec) * WordsPerSecond))
}

func BuildPrompt(article model.Article, spec model.FormatSpec) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write a %d-second narration script for a %s video based on the article below.\n\n", spec.DurationSec, spec.Format)
	fmt.Fprintf(&sb, "Target length: about %d words.\n", TargetWordCount(spec.DurationSec))
	fmt.Fprintf(&sb, "Style: %s\n\n", spec.StyleGuide)
	sb.WriteString("Rules:\n")
	sb.WriteString("- Open with a hook that grabs attention in the first sentence.\n")
	sb.WriteString("- Close with a clear call-to-action.\n")
	sb.WriteString("- Write only the spoken narration. Do not include visual directions, scene descriptions, timestamps or speaker labels.\n\n")
	fmt.Fprintf(&sb, "ARTICLE TITLE: %s\n\n", strings.TrimSpace(article.Title))
	fmt.Fprintf(&sb, "ARTICLE CONTENT:\n%s\n", truncate(strings.TrimSpace(article.Body), MaxSourceChars))
	return sb.String()
}

// Clean strips markdown fences, bracketed directions and speaker labels and
// collapses whitespace.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```text")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = speakerPattern.ReplaceAllString(s, "")
	s = directionPattern.ReplaceAllString(s, " ")
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.Trim(strings.TrimSpace(s), `"`)
}

func SplitSentences(text string) []string {
	var out []string
	for _, m := range sentencePattern.FindAllString(text, -1) {
		m = strings.TrimSpace(m)
		if strings.IndexFunc(m, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) < 0 {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Segment times each sentence at WordsPerSecond and rescales the timeline so
// the segments span exactly targetSec.
func Segment(text string, targetSec float64) ([]model.TimedSegment, error) {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil, ErrEmptyScript
	}

	durations := make([]float64, len(sentences))
	var total float64
	for i, s := range sentences {
		durations[i] = float64(len(strings.Fields(s))) / WordsPerSecond
		total += durations[i]
	}
	scale := targetSec / total

	segments := make([]model.TimedSegment, 0, len(sentences))
	var clock float64
	for i, s := range sentences {
		start := clock * scale
		clock += durations[i]
		end := clock * scale
		segments = append(segments, model.TimedSegment{
			Start: roundMillis(start),
			End:   roundMillis(end),
			Text:  s,
		})
	}
	segments[len(segments)-1].End = targetSec
	return segments, nil
}

func roundMillis(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
