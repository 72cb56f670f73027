package footage

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/iBekzod/next-gen-being-sub006/internal/model"
	"github.com/iBekzod/next-gen-being-sub006/internal/provider"
)

const ClipDurationSec = 5

var FallbackKeywords = []string{"technology", "coding", "computer", "workspace", "digital"}

var techTerms = []string{
	"javascript", "python", "golang", "react", "laravel", "php", "database",
	"api", "cloud", "docker", "kubernetes", "security", "devops", "machine learning", "ai",
}

var titleWordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

type Config struct {
	SearchTimeout time.Duration
}

type Result struct {
	Clips    []model.FootageClip
	Required int
}

func (r Result) Short() bool { return len(r.Clips) < r.Required }

type Sourcer struct {
	search provider.StockSearcher
	cache  Cache
	cfg    Config
	log    *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(search provider.StockSearcher, cache Cache, rng *rand.Rand, cfg Config, logger *slog.Logger) *Sourcer {
	if cache == nil {
		cache = NewMemoryCache(DefaultCacheTTL, nil)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sourcer{search: search, cache: cache, rng: rng, cfg: cfg, log: logger}
}

func RequiredClips(durationSec int) int {
	if durationSec <= 0 {
		return 0
	}
	return int(math.Ceil(float64(durationSec) / ClipDurationSec))
}

// Keywords returns category, tags, long title words and matched technical
// terms in that order, deduplicated case-insensitively.
func Keywords(article model.Article) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	add(article.Category)
	for _, tag := range article.Tags {
		add(tag)
	}
	for _, w := range titleWordPattern.FindAllString(article.Title, -1) {
		if len([]rune(w)) >= 5 {
			add(w)
		}
	}
	excerpt := " " + strings.ToLower(strings.Join(titleWordPattern.FindAllString(article.Excerpt, -1), " ")) + " "
	for _, term := range techTerms {
		if strings.Contains(excerpt, " "+term+" ") {
			add(term)
		}
	}
	return out
}

// Source collects up to RequiredClips(durationSec) clips. Running out of
// keywords is not an error; search failures are.
func (s *Sourcer) Source(ctx context.Context, article model.Article, durationSec int) (Result, error) {
	if !s.search.Configured() {
		return Result{}, provider.MissingCredential("pexels", "PEXELS_API_KEY")
	}
	res := Result{Required: RequiredClips(durationSec)}
	used := map[string]bool{}

	accept := func(keyword string) error {
		used[keyword] = true
		videos, err := s.lookup(ctx, keyword)
		if err != nil {
			return err
		}
		if len(videos) == 0 {
			return nil
		}
		v := videos[0]
		res.Clips = append(res.Clips, model.FootageClip{
			URL:         v.URL,
			Duration:    ClipDurationSec,
			StartTime:   float64(len(res.Clips) * ClipDurationSec),
			Keyword:     keyword,
			Attribution: v.Attribution,
		})
		return nil
	}

	for _, kw := range Keywords(article) {
		if len(res.Clips) >= res.Required {
			break
		}
		if err := accept(kw); err != nil {
			return res, err
		}
	}

	pool := make([]string, 0, len(FallbackKeywords))
	for _, kw := range FallbackKeywords {
		if !used[kw] {
			pool = append(pool, kw)
		}
	}
	for len(res.Clips) < res.Required && len(pool) > 0 {
		i := s.intn(len(pool))
		kw := pool[i]
		pool = append(pool[:i], pool[i+1:]...)
		if err := accept(kw); err != nil {
			return res, err
		}
	}

	if res.Short() {
		s.log.Warn("footage_under_quota",
			"article_id", article.ID,
			"clips", len(res.Clips),
			"required_clips", res.Required,
		)
	}
	return res, nil
}

func (s *Sourcer) lookup(ctx context.Context, keyword string) ([]provider.StockVideo, error) {
	key := CacheKey{Query: keyword, Count: 1}
	videos, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("footage_cache_get_failed", "keyword", keyword, "error", err)
	}
	if ok {
		return videos, nil
	}

	searchCtx := ctx
	if s.cfg.SearchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, s.cfg.SearchTimeout)
		defer cancel()
	}
	videos, err = s.search.Search(searchCtx, provider.StockQuery{
		Query:       keyword,
		Count:       key.Count,
		Orientation: provider.OrientationPortrait,
		Size:        provider.SizeMedium,
	})
	if err != nil {
		return nil, fmt.Errorf("search footage %q: %w", keyword, err)
	}
	if err := s.cache.Set(ctx, key, videos); err != nil {
		s.log.Warn("footage_cache_set_failed", "keyword", keyword, "error", err)
	}
	return videos, nil
}

func (s *Sourcer) intn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}
