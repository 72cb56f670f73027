package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const servicePexels = "pexels"

type PexelsConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

type Pexels struct {
	cfg        PexelsConfig
	httpClient *http.Client
}

func NewPexels(cfg PexelsConfig) *Pexels {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.pexels.com"
	}
	return &Pexels{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type pexelsResponse struct {
	Videos []struct {
		ID       int     `json:"id"`
		Width    int     `json:"width"`
		Height   int     `json:"height"`
		Duration float64 `json:"duration"`
		User     struct {
			Name string `json:"name"`
		} `json:"user"`
		VideoFiles []struct {
			Quality  string `json:"quality"`
			FileType string `json:"file_type"`
			Width    int    `json:"width"`
			Height   int    `json:"height"`
			Link     string `json:"link"`
		} `json:"video_files"`
	} `json:"videos"`
}

func (p *Pexels) Configured() bool {
	return strings.TrimSpace(p.cfg.APIKey) != ""
}

func (p *Pexels) Search(ctx context.Context, q StockQuery) ([]StockVideo, error) {
	if !p.Configured() {
		return nil, MissingCredential(servicePexels, "PEXELS_API_KEY")
	}
	params := url.Values{}
	params.Set("query", q.Query)
	params.Set("per_page", strconv.Itoa(q.Count))
	if q.Orientation != "" {
		params.Set("orientation", q.Orientation)
	}
	if q.Size != "" {
		params.Set("size", q.Size)
	}
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/videos/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create pexels request: %w", err)
	}
	req.Header.Set("Authorization", p.cfg.APIKey)

	body, err := do(p.httpClient, servicePexels, req)
	if err != nil {
		return nil, err
	}
	var out pexelsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode pexels response: %w", err)
	}

	videos := make([]StockVideo, 0, len(out.Videos))
	for _, v := range out.Videos {
		link := ""
		for _, f := range v.VideoFiles {
			if link == "" || f.Quality == "hd" {
				link = f.Link
			}
			if f.Quality == "hd" {
				break
			}
		}
		if link == "" {
			continue
		}
		videos = append(videos, StockVideo{
			URL:         link,
			Width:       v.Width,
			Height:      v.Height,
			Duration:    v.Duration,
			Attribution: fmt.Sprintf("Video by %s on Pexels", v.User.Name),
		})
	}
	return videos, nil
}
