package model

import (
	"fmt"
	"strings"
	"time"
)

type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierPremium Tier = "premium"
)

func (t Tier) Premium() bool { return t == TierPremium }

type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Tier          Tier      `json:"tier"`
	VideoCount    int       `json:"video_count"`
	IntroVideoURL string    `json:"intro_video_url,omitempty"`
	OutroVideoURL string    `json:"outro_video_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasBranding reports whether the user may and did configure intro/outro clips.
func (u User) HasBranding() bool {
	return u.Tier.Premium() && (u.IntroVideoURL != "" || u.OutroVideoURL != "")
}

type Article struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Excerpt   string    `json:"excerpt"`
	Category  string    `json:"category"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string { return fmt.Sprintf("%dx%d", r.Width, r.Height) }

// VideoFormat is closed: the zero value is invalid and only the package-level
// formats below carry parameters.
type VideoFormat string

const (
	FormatYouTube VideoFormat = "youtube"
	FormatTikTok  VideoFormat = "tiktok"
	FormatReel    VideoFormat = "reel"
	FormatShort   VideoFormat = "short"
)

type FormatSpec struct {
	Format        VideoFormat `json:"format"`
	DurationSec   int         `json:"duration_sec"`
	Resolution    Resolution  `json:"resolution"`
	MaxTokens     int         `json:"max_tokens"`
	BaselineVoice string      `json:"baseline_voice"`
	PremiumVoice  string      `json:"premium_voice"`
	Persona       string      `json:"-"`
	StyleGuide    string      `json:"-"`
}

var formatSpecs = map[VideoFormat]FormatSpec{
	FormatYouTube: {
		Format:        FormatYouTube,
		DurationSec:   600,
		Resolution:    Resolution{Width: 1920, Height: 1080},
		MaxTokens:     1500,
		BaselineVoice: "onyx",
		PremiumVoice:  "pNInz6obpgDQGcFmaJgB",
		Persona:       "You are an experienced YouTube educator who turns technical articles into engaging long-form narration.",
		StyleGuide:    "Conversational and thorough. Open with a strong hook, walk through the key ideas in order, use concrete examples, and close with a clear call-to-action to like and subscribe.",
	},
	FormatTikTok: {
		Format:        FormatTikTok,
		DurationSec:   60,
		Resolution:    Resolution{Width: 1080, Height: 1920},
		MaxTokens:     300,
		BaselineVoice: "nova",
		PremiumVoice:  "EXAVITQu4vr4xnAyzdVK",
		Persona:       "You are a viral TikTok creator who explains tech topics fast and with energy.",
		StyleGuide:    "Punchy, high energy, short sentences. Hook in the first three seconds, one key insight, end with a call-to-action to follow for more.",
	},
	FormatReel: {
		Format:        FormatReel,
		DurationSec:   90,
		Resolution:    Resolution{Width: 1080, Height: 1920},
		MaxTokens:     400,
		BaselineVoice: "shimmer",
		PremiumVoice:  "21m00Tcm4TlvDq8ikWAM",
		Persona:       "You are an Instagram creator who makes polished, friendly explainer reels.",
		StyleGuide:    "Friendly and visual. Quick hook, two or three takeaways, close with a call-to-action to save and share.",
	},
	FormatShort: {
		Format:        FormatShort,
		DurationSec:   60,
		Resolution:    Resolution{Width: 1080, Height: 1920},
		MaxTokens:     300,
		BaselineVoice: "alloy",
		PremiumVoice:  "ErXwobaYiN019PkySvjV",
		Persona:       "You are a YouTube Shorts creator who distills articles into one memorable minute.",
		StyleGuide:    "Direct and curious. Hook with a question, deliver the single most useful idea, end with a call-to-action to watch the full article.",
	},
}

func ParseVideoFormat(s string) (VideoFormat, error) {
	f := VideoFormat(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := formatSpecs[f]; !ok {
		return "", fmt.Errorf("unknown video format %q", s)
	}
	return f, nil
}

func (f VideoFormat) Valid() bool {
	_, ok := formatSpecs[f]
	return ok
}

// Spec returns the fixed parameters for f. It panics on an invalid format;
// callers obtain formats through ParseVideoFormat.
func (f VideoFormat) Spec() FormatSpec {
	spec, ok := formatSpecs[f]
	if !ok {
		panic(fmt.Sprintf("model: invalid video format %q", string(f)))
	}
	return spec
}

func Formats() []FormatSpec {
	return []FormatSpec{
		formatSpecs[FormatYouTube],
		formatSpecs[FormatTikTok],
		formatSpecs[FormatReel],
		formatSpecs[FormatShort],
	}
}

type RequestStatus string

const (
	StatusQueued     RequestStatus = "queued"
	StatusProcessing RequestStatus = "processing"
	StatusCompleted  RequestStatus = "completed"
	StatusFailed     RequestStatus = "failed"
)

func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition encodes the linear lifecycle queued -> processing -> {completed|failed}.
func (s RequestStatus) CanTransition(to RequestStatus) bool {
	switch s {
	case StatusQueued:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

type TimedSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type FootageClip struct {
	URL         string  `json:"url"`
	Duration    float64 `json:"duration"`
	StartTime   float64 `json:"start_time"`
	Keyword     string  `json:"keyword"`
	Attribution string  `json:"attribution"`
}

type GenerationRequest struct {
	ID        string      `json:"id"`
	ArticleID string      `json:"article_id"`
	UserID    string      `json:"user_id"`
	Format    VideoFormat `json:"format"`

	DurationSec int        `json:"duration_sec"`
	Resolution  Resolution `json:"resolution"`

	Status          RequestStatus `json:"status"`
	CancelRequested bool          `json:"cancel_requested"`

	Script         string         `json:"script,omitempty"`
	Segments       []TimedSegment `json:"segments,omitempty"`
	AudioURL       string         `json:"audio_url,omitempty"`
	Clips          []FootageClip  `json:"clips,omitempty"`
	CaptionURL     string         `json:"caption_url,omitempty"`
	VideoURL       string         `json:"video_url,omitempty"`
	ThumbnailURL   string         `json:"thumbnail_url,omitempty"`
	FileSizeBytes  int64          `json:"file_size_bytes"`
	GenerationCost float64        `json:"generation_cost"`
	AICredits      int            `json:"ai_credits"`

	ErrorMessage string `json:"error_message,omitempty"`
	TraceID      string `json:"trace_id"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (r GenerationRequest) Clone() GenerationRequest {
	out := r
	out.Segments = append([]TimedSegment(nil), r.Segments...)
	out.Clips = append([]FootageClip(nil), r.Clips...)
	return out
}

type EventType string

const (
	EventRequestCreated   EventType = "request_created"
	EventRequestStarted   EventType = "request_started"
	EventStageStarted     EventType = "stage_started"
	EventStageCompleted   EventType = "stage_completed"
	EventRequestCompleted EventType = "request_completed"
	EventRequestFailed    EventType = "request_failed"
)

type RequestEvent struct {
	EventID   string         `json:"event_id"`
	Seq       int64          `json:"seq"`
	TraceID   string         `json:"trace_id"`
	RequestID string         `json:"request_id"`
	ArticleID string         `json:"article_id"`
	Type      EventType      `json:"type"`
	TS        time.Time      `json:"ts"`
	Payload   map[string]any `json:"payload"`
}
