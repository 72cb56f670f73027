package postgres

import (
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/iBekzod/next-gen-being-sub006/internal/model"
)

func TestRequestRowRoundTripKeepsArtifacts(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	req := model.GenerationRequest{
		ID:          "r1",
		ArticleID:   "a1",
		UserID:      "u1",
		Format:      model.FormatReel,
		DurationSec: 90,
		Resolution:  model.Resolution{Width: 1080, Height: 1920},
		Status:      model.StatusProcessing,
		Script:      "Hello.",
		Segments:    []model.TimedSegment{{Start: 0, End: 90, Text: "Hello."}},
		Clips:       []model.FootageClip{{URL: "u", Duration: 5, Keyword: "go"}},
		StartedAt:   started,
	}
	row, err := requestRowFromModel(req)
	if err != nil {
		t.Fatalf("to row: %v", err)
	}
	if row.CompletedAt != nil {
		t.Fatalf("zero completion time should map to NULL")
	}
	got, err := row.toModel()
	if err != nil {
		t.Fatalf("to model: %v", err)
	}
	if got.Resolution != req.Resolution || !got.StartedAt.Equal(started) || len(got.Segments) != 1 || got.Clips[0].Keyword != "go" {
		t.Fatalf("unexpected model %+v", got)
	}
}

func TestRequestUpdatesNeverTouchCancelFlag(t *testing.T) {
	row, err := requestRowFromModel(model.GenerationRequest{ID: "r1", CancelRequested: true})
	if err != nil {
		t.Fatalf("to row: %v", err)
	}
	updates := row.updates()
	if _, ok := updates["cancel_requested"]; ok {
		t.Fatalf("updates must not include cancel_requested")
	}
	if string(updates["segments"].(datatypes.JSON)) != "[]" {
		t.Fatalf("nil segments should encode as an empty array, got %s", updates["segments"])
	}
}

func TestArticleRowTags(t *testing.T) {
	row := articleRowFromModel(model.Article{ID: "a1", Tags: []string{"go", "kafka"}})
	got := row.toModel()
	if len(got.Tags) != 2 || got.Tags[1] != "kafka" {
		t.Fatalf("unexpected tags %v", got.Tags)
	}
}
