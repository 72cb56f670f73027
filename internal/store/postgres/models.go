package postgres

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"

	"github.com/iBekzod/next-gen-being-sub006/internal/model"
)

type userRow struct {
	ID            string    `gorm:"column:id;primaryKey"`
	Email         string    `gorm:"column:email;index"`
	Tier          string    `gorm:"column:tier"`
	VideoCount    int       `gorm:"column:video_count"`
	IntroVideoURL string    `gorm:"column:intro_video_url"`
	OutroVideoURL string    `gorm:"column:outro_video_url"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (userRow) TableName() string { return "a2v_users" }

func userRowFromModel(u model.User) userRow {
	return userRow{
		ID:            u.ID,
		Email:         u.Email,
		Tier:          string(u.Tier),
		VideoCount:    u.VideoCount,
		IntroVideoURL: u.IntroVideoURL,
		OutroVideoURL: u.OutroVideoURL,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

func (r userRow) toModel() model.User {
	return model.User{
		ID:            r.ID,
		Email:         r.Email,
		Tier:          model.Tier(r.Tier),
		VideoCount:    r.VideoCount,
		IntroVideoURL: r.IntroVideoURL,
		OutroVideoURL: r.OutroVideoURL,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type articleRow struct {
	ID        string         `gorm:"column:id;primaryKey"`
	AuthorID  string         `gorm:"column:author_id;index"`
	Title     string         `gorm:"column:title"`
	Body      string         `gorm:"column:body"`
	Excerpt   string         `gorm:"column:excerpt"`
	Category  string         `gorm:"column:category"`
	Tags      pq.StringArray `gorm:"column:tags;type:text[]"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (articleRow) TableName() string { return "a2v_articles" }

func articleRowFromModel(a model.Article) articleRow {
	return articleRow{
		ID:        a.ID,
		AuthorID:  a.AuthorID,
		Title:     a.Title,
		Body:      a.Body,
		Excerpt:   a.Excerpt,
		Category:  a.Category,
		Tags:      pq.StringArray(a.Tags),
		CreatedAt: a.CreatedAt,
	}
}

func (r articleRow) toModel() model.Article {
	return model.Article{
		ID:        r.ID,
		AuthorID:  r.AuthorID,
		Title:     r.Title,
		Body:      r.Body,
		Excerpt:   r.Excerpt,
		Category:  r.Category,
		Tags:      append([]string(nil), r.Tags...),
		CreatedAt: r.CreatedAt,
	}
}

type requestRow struct {
	ID              string         `gorm:"column:id;primaryKey"`
	ArticleID       string         `gorm:"column:article_id;index"`
	UserID          string         `gorm:"column:user_id;index"`
	Format          string         `gorm:"column:format"`
	DurationSec     int            `gorm:"column:duration_sec"`
	Width           int            `gorm:"column:width"`
	Height          int            `gorm:"column:height"`
	Status          string         `gorm:"column:status;index"`
	CancelRequested bool           `gorm:"column:cancel_requested"`
	Script          string         `gorm:"column:script"`
	Segments        datatypes.JSON `gorm:"column:segments;type:jsonb"`
	AudioURL        string         `gorm:"column:audio_url"`
	Clips           datatypes.JSON `gorm:"column:clips;type:jsonb"`
	CaptionURL      string         `gorm:"column:caption_url"`
	VideoURL        string         `gorm:"column:video_url"`
	ThumbnailURL    string         `gorm:"column:thumbnail_url"`
	FileSizeBytes   int64          `gorm:"column:file_size_bytes"`
	GenerationCost  float64        `gorm:"column:generation_cost"`
	AICredits       int            `gorm:"column:ai_credits"`
	ErrorMessage    string         `gorm:"column:error_message"`
	TraceID         string         `gorm:"column:trace_id"`
	CreatedAt       time.Time      `gorm:"column:created_at"`
	StartedAt       *time.Time     `gorm:"column:started_at"`
	CompletedAt     *time.Time     `gorm:"column:completed_at"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
}

func (requestRow) TableName() string { return "video_generation_requests" }

func requestRowFromModel(r model.GenerationRequest) (requestRow, error) {
	segments, err := json.Marshal(nonNil(r.Segments))
	if err != nil {
		return requestRow{}, err
	}
	clips, err := json.Marshal(nonNil(r.Clips))
	if err != nil {
		return requestRow{}, err
	}
	return requestRow{
		ID:              r.ID,
		ArticleID:       r.ArticleID,
		UserID:          r.UserID,
		Format:          string(r.Format),
		DurationSec:     r.DurationSec,
		Width:           r.Resolution.Width,
		Height:          r.Resolution.Height,
		Status:          string(r.Status),
		CancelRequested: r.CancelRequested,
		Script:          r.Script,
		Segments:        datatypes.JSON(segments),
		AudioURL:        r.AudioURL,
		Clips:           datatypes.JSON(clips),
		CaptionURL:      r.CaptionURL,
		VideoURL:        r.VideoURL,
		ThumbnailURL:    r.ThumbnailURL,
		FileSizeBytes:   r.FileSizeBytes,
		GenerationCost:  r.GenerationCost,
		AICredits:       r.AICredits,
		ErrorMessage:    r.ErrorMessage,
		TraceID:         r.TraceID,
		CreatedAt:       r.CreatedAt,
		StartedAt:       timePtr(r.StartedAt),
		CompletedAt:     timePtr(r.CompletedAt),
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

// updates lists every mutable column except cancel_requested.
func (r requestRow) updates() map[string]any {
	return map[string]any{
		"status":          r.Status,
		"script":          r.Script,
		"segments":        r.Segments,
		"audio_url":       r.AudioURL,
		"clips":           r.Clips,
		"caption_url":     r.CaptionURL,
		"video_url":       r.VideoURL,
		"thumbnail_url":   r.ThumbnailURL,
		"file_size_bytes": r.FileSizeBytes,
		"generation_cost": r.GenerationCost,
		"ai_credits":      r.AICredits,
		"error_message":   r.ErrorMessage,
		"started_at":      r.StartedAt,
		"completed_at":    r.CompletedAt,
		"updated_at":      r.UpdatedAt,
	}
}

func (r requestRow) toModel() (model.GenerationRequest, error) {
	out := model.GenerationRequest{
		ID:              r.ID,
		ArticleID:       r.ArticleID,
		UserID:          r.UserID,
		Format:          model.VideoFormat(r.Format),
		DurationSec:     r.DurationSec,
		Resolution:      model.Resolution{Width: r.Width, Height: r.Height},
		Status:          model.RequestStatus(r.Status),
		CancelRequested: r.CancelRequested,
		Script:          r.Script,
		AudioURL:        r.AudioURL,
		CaptionURL:      r.CaptionURL,
		VideoURL:        r.VideoURL,
		ThumbnailURL:    r.ThumbnailURL,
		FileSizeBytes:   r.FileSizeBytes,
		GenerationCost:  r.GenerationCost,
		AICredits:       r.AICredits,
		ErrorMessage:    r.ErrorMessage,
		TraceID:         r.TraceID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.StartedAt != nil {
		out.StartedAt = *r.StartedAt
	}
	if r.CompletedAt != nil {
		out.CompletedAt = *r.CompletedAt
	}
	if len(r.Segments) > 0 {
		if err := json.Unmarshal(r.Segments, &out.Segments); err != nil {
			return model.GenerationRequest{}, err
		}
	}
	if len(r.Clips) > 0 {
		if err := json.Unmarshal(r.Clips, &out.Clips); err != nil {
			return model.GenerationRequest{}, err
		}
	}
	return out, nil
}

type eventRow struct {
	EventID   string         `gorm:"column:event_id;primaryKey"`
	RequestID string         `gorm:"column:request_id;uniqueIndex:idx_request_event_seq"`
	Seq       int64          `gorm:"column:seq;uniqueIndex:idx_request_event_seq"`
	TraceID   string         `gorm:"column:trace_id"`
	ArticleID string         `gorm:"column:article_id"`
	Type      string         `gorm:"column:type"`
	TS        time.Time      `gorm:"column:ts"`
	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb"`
}

func (eventRow) TableName() string { return "video_generation_events" }

func eventRowFromModel(e model.RequestEvent) (eventRow, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return eventRow{}, err
	}
	return eventRow{
		EventID:   e.EventID,
		RequestID: e.RequestID,
		Seq:       e.Seq,
		TraceID:   e.TraceID,
		ArticleID: e.ArticleID,
		Type:      string(e.Type),
		TS:        e.TS,
		Payload:   datatypes.JSON(payload),
	}, nil
}

func (r eventRow) toModel() (model.RequestEvent, error) {
	out := model.RequestEvent{
		EventID:   r.EventID,
		Seq:       r.Seq,
		TraceID:   r.TraceID,
		RequestID: r.RequestID,
		ArticleID: r.ArticleID,
		Type:      model.EventType(r.Type),
		TS:        r.TS,
	}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &out.Payload); err != nil {
			return model.RequestEvent{}, err
		}
	}
	return out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
