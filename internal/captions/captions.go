package captions

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/iBekzod/next-gen-being-sub006/internal/model"
	"github.com/iBekzod/next-gen-being-sub006/internal/storage"
)

const (
	MaxLineChars = 42
	vttHeader    = "WEBVTT\n\n"
)

type Dialect string

const (
	DialectSRT Dialect = "srt"
	DialectVTT Dialect = "vtt"
)

func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(s))); d {
	case DialectSRT, DialectVTT:
		return d, nil
	default:
		return "", fmt.Errorf("unknown caption dialect %q", s)
	}
}

func (d Dialect) Extension() string { return string(d) }

func (d Dialect) ContentType() string {
	if d == DialectVTT {
		return "text/vtt"
	}
	return "application/x-subrip"
}

type Style string

const (
	StylePlain  Style = "plain"
	StyleSocial Style = "social"
)

func ParseStyle(s string) (Style, error) {
	switch st := Style(strings.ToLower(strings.TrimSpace(s))); st {
	case StylePlain, StyleSocial:
		return st, nil
	default:
		return "", fmt.Errorf("unknown caption style %q", s)
	}
}

// emphasized terms are upper-cased by StyleSocial.
var emphasized = map[string]bool{
	"ai": true, "api": true, "apis": true, "aws": true, "css": true, "html": true,
	"json": true, "llm": true, "ml": true, "saas": true, "seo": true, "sql": true,
	"ui": true, "ux": true,
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Render is deterministic: equal inputs always produce identical bytes.
func Render(segments []model.TimedSegment, totalSec float64, dialect Dialect, style Style) string {
	var buf bytes.Buffer
	if dialect == DialectVTT {
		buf.WriteString(vttHeader)
	}
	index := 0
	for _, seg := range segments {
		if totalSec > 0 && seg.Start >= totalSec {
			break
		}
		end := seg.End
		if totalSec > 0 && end > totalSec {
			end = totalSec
		}
		text := Wrap(applyStyle(Normalize(seg.Text), style), MaxLineChars)
		if text == "" {
			continue
		}
		index++
		fmt.Fprintf(&buf, "%d\n%s --> %s\n%s\n\n",
			index,
			Timestamp(seg.Start, dialect),
			Timestamp(end, dialect),
			text,
		)
	}
	return buf.String()
}

func Timestamp(sec float64, dialect Dialect) string {
	if sec < 0 {
		sec = 0
	}
	ms := int64(math.Round(sec * 1000))
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	sep := ","
	if dialect == DialectVTT {
		sep = "."
	}
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, sep, ms%1000)
}

func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Wrap greedily packs words onto the first line up to limit runes and puts
// the remainder on a second line. The second line is never wrapped again.
func Wrap(text string, limit int) string {
	text = Normalize(text)
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	words := strings.Fields(text)
	if len(words) == 1 {
		return text
	}

	first := words[0]
	if utf8.RuneCountInString(first) > limit {
		runes := []rune(text)
		return string(runes[:limit]) + "\n" + strings.TrimSpace(string(runes[limit:]))
	}
	n := 1
	for ; n < len(words); n++ {
		if utf8.RuneCountInString(first)+1+utf8.RuneCountInString(words[n]) > limit {
			break
		}
		first += " " + words[n]
	}
	return first + "\n" + strings.Join(words[n:], " ")
}

func applyStyle(text string, style Style) string {
	if style != StyleSocial || text == "" {
		return text
	}
	text = wordPattern.ReplaceAllStringFunc(text, func(w string) string {
		if emphasized[strings.ToLower(w)] {
			return strings.ToUpper(w)
		}
		return w
	})
	r, size := utf8.DecodeRuneInString(text)
	return string(unicode.ToUpper(r)) + text[size:]
}

type Builder struct {
	blob    storage.Blob
	dialect Dialect
	style   Style
}

func NewBuilder(blob storage.Blob, dialect Dialect, style Style) *Builder {
	if dialect == "" {
		dialect = DialectSRT
	}
	if style == "" {
		style = StylePlain
	}
	return &Builder{blob: blob, dialect: dialect, style: style}
}

func (b *Builder) Dialect() Dialect { return b.dialect }

func (b *Builder) Build(ctx context.Context, segments []model.TimedSegment, totalSec float64) (string, error) {
	body := Render(segments, totalSec, b.dialect, b.style)
	key := fmt.Sprintf("captions/%s.%s", uuid.NewString(), b.dialect.Extension())
	url, err := b.blob.Put(ctx, key, strings.NewReader(body), b.dialect.ContentType())
	if err != nil {
		return "", fmt.Errorf("store captions: %w", err)
	}
	return url, nil
}
