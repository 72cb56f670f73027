package model

import "testing"

func TestFormatTable(t *testing.T) {
	cases := []struct {
		format     VideoFormat
		duration   int
		resolution string
		maxTokens  int
		baseline   string
		premium    string
	}{
		{FormatYouTube, 600, "1920x1080", 1500, "onyx", "pNInz6obpgDQGcFmaJgB"},
		{FormatTikTok, 60, "1080x1920", 300, "nova", "EXAVITQu4vr4xnAyzdVK"},
		{FormatReel, 90, "1080x1920", 400, "shimmer", "21m00Tcm4TlvDq8ikWAM"},
		{FormatShort, 60, "1080x1920", 300, "alloy", "ErXwobaYiN019PkySvjV"},
	}
	for _, tc := range cases {
		spec := tc.format.Spec()
		if spec.Format != tc.format || spec.DurationSec != tc.duration || spec.Resolution.String() != tc.resolution || spec.MaxTokens != tc.maxTokens {
			t.Fatalf("%s: got %+v", tc.format, spec)
		}
		if spec.BaselineVoice != tc.baseline || spec.PremiumVoice != tc.premium {
			t.Fatalf("%s: voices %s/%s", tc.format, spec.BaselineVoice, spec.PremiumVoice)
		}
		if spec.Persona == "" || spec.StyleGuide == "" {
			t.Fatalf("%s: missing prompt guidance", tc.format)
		}
	}

	listed := Formats()
	if len(listed) != len(cases) {
		t.Fatalf("Formats() returned %d entries", len(listed))
	}
	for i, spec := range listed {
		if spec.Format != cases[i].format {
			t.Fatalf("Formats()[%d] = %s, want %s", i, spec.Format, cases[i].format)
		}
	}
}

func TestParseVideoFormat(t *testing.T) {
	if f, err := ParseVideoFormat(" Short "); err != nil || f != FormatShort {
		t.Fatalf("ParseVideoFormat(Short) = %q, %v", f, err)
	}
	for _, raw := range []string{"", "vine", "youtube-long"} {
		if _, err := ParseVideoFormat(raw); err == nil {
			t.Fatalf("ParseVideoFormat(%q) accepted", raw)
		}
		if VideoFormat(raw).Valid() {
			t.Fatalf("%q reported valid", raw)
		}
	}
}

func TestInvalidFormatSpecPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	VideoFormat("vine").Spec()
}

func TestStatusTransitions(t *testing.T) {
	allowed := map[[2]RequestStatus]bool{
		{StatusQueued, StatusProcessing}:    true,
		{StatusQueued, StatusFailed}:        true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusFailed}:    true,
	}
	all := []RequestStatus{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed}
	for _, from := range all {
		for _, to := range all {
			if got := from.CanTransition(to); got != allowed[[2]RequestStatus{from, to}] {
				t.Fatalf("%s -> %s: got %v", from, to, got)
			}
		}
	}
	if StatusQueued.Terminal() || StatusProcessing.Terminal() || !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Fatalf("unexpected terminal statuses")
	}
}

func TestHasBrandingRequiresPremium(t *testing.T) {
	u := User{Tier: TierPro, IntroVideoURL: "https://cdn.example.com/intro.mp4"}
	if u.HasBranding() {
		t.Fatalf("pro user must not get branding")
	}
	u.Tier = TierPremium
	if !u.HasBranding() {
		t.Fatalf("premium user with intro should get branding")
	}
}
