package footage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/iBekzod/next-gen-being-sub006/internal/model"
	"github.com/iBekzod/next-gen-being-sub006/internal/provider"
)

type fakeSearch struct {
	mu           sync.Mutex
	queries      []string
	empty        map[string]bool
	err          error
	unconfigured bool
}

func (f *fakeSearch) Configured() bool { return !f.unconfigured }

func (f *fakeSearch) Search(ctx context.Context, q provider.StockQuery) ([]provider.StockVideo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q.Query)
	if f.err != nil {
		return nil, f.err
	}
	if q.Count != 1 || q.Orientation != provider.OrientationPortrait || q.Size != provider.SizeMedium {
		return nil, fmt.Errorf("unexpected query %+v", q)
	}
	if f.empty[q.Query] {
		return nil, nil
	}
	return []provider.StockVideo{{URL: "https://stock.test/" + q.Query + ".mp4", Duration: 12, Attribution: "Video by Tester on Pexels"}}, nil
}

func TestRequiredClips(t *testing.T) {
	cases := map[int]int{60: 12, 600: 120, 90: 18, 61: 13, 0: 0}
	for dur, want := range cases {
		if got := RequiredClips(dur); got != want {
			t.Fatalf("RequiredClips(%d) = %d, want %d", dur, got, want)
		}
	}
}

func TestKeywords(t *testing.T) {
	article := model.Article{
		Title:    "Scaling Go Services with Kubernetes",
		Excerpt:  "A practical look at Docker, cloud costs and machine learning workloads.",
		Category: "DevOps",
		Tags:     []string{"kubernetes", "Cloud", " "},
	}
	want := []string{"devops", "kubernetes", "cloud", "scaling", "services", "docker", "machine learning"}
	if got := Keywords(article); !reflect.DeepEqual(got, want) {
		t.Fatalf("Keywords() = %v, want %v", got, want)
	}
}

func TestSourceStopsAtRequiredCount(t *testing.T) {
	search := &fakeSearch{}
	s := New(search, nil, rand.New(rand.NewSource(1)), Config{}, nil)
	article := model.Article{Category: "go", Tags: []string{"a", "b", "c", "d", "e"}}

	res, err := s.Source(context.Background(), article, 10)
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	if res.Required != 2 || len(res.Clips) != 2 || len(search.queries) != 2 {
		t.Fatalf("expected 2 clips from 2 searches, got %d clips %d searches", len(res.Clips), len(search.queries))
	}
	for i, clip := range res.Clips {
		if clip.StartTime != float64(i*ClipDurationSec) || clip.Duration != ClipDurationSec {
			t.Fatalf("clip %d has wrong timing: %+v", i, clip)
		}
	}
}

func TestSourceFallsBackAndToleratesShortfall(t *testing.T) {
	search := &fakeSearch{empty: map[string]bool{"coding": true}}
	s := New(search, nil, rand.New(rand.NewSource(7)), Config{}, nil)

	res, err := s.Source(context.Background(), model.Article{Category: "technology"}, 60)
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	if res.Required != 12 {
		t.Fatalf("expected 12 required clips, got %d", res.Required)
	}
	// technology from the category, then computer/workspace/digital from the pool.
	if len(res.Clips) != 4 || !res.Short() {
		t.Fatalf("expected 4 clips under quota, got %d", len(res.Clips))
	}
	seen := map[string]int{}
	for _, q := range search.queries {
		seen[q]++
	}
	if seen["technology"] != 1 || len(search.queries) != 5 {
		t.Fatalf("fallback pool should skip used keywords: %v", search.queries)
	}
	for i := 1; i < len(res.Clips); i++ {
		if res.Clips[i].StartTime <= res.Clips[i-1].StartTime {
			t.Fatalf("start times must increase")
		}
	}
}

func TestSourceSearchErrorIsFatal(t *testing.T) {
	search := &fakeSearch{err: provider.MissingCredential("pexels", "PEXELS_API_KEY")}
	s := New(search, nil, nil, Config{}, nil)
	_, err := s.Source(context.Background(), model.Article{Category: "go"}, 60)
	if !errors.Is(err, provider.ErrMissingCredential) {
		t.Fatalf("expected missing credential, got %v", err)
	}
}

func TestSourceRequiresCredentialEvenWhenCached(t *testing.T) {
	search := &fakeSearch{}
	cache := NewMemoryCache(time.Hour, nil)
	article := model.Article{Category: "golang"}
	if _, err := New(search, cache, nil, Config{}, nil).Source(context.Background(), article, 5); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	unconfigured := &fakeSearch{unconfigured: true}
	_, err := New(unconfigured, cache, nil, Config{}, nil).Source(context.Background(), article, 5)
	if !errors.Is(err, provider.ErrMissingCredential) {
		t.Fatalf("expected missing credential with a warm cache, got %v", err)
	}
	if len(unconfigured.queries) != 0 {
		t.Fatalf("unconfigured searcher was queried: %v", unconfigured.queries)
	}
}

func TestSourceUsesSharedCache(t *testing.T) {
	search := &fakeSearch{}
	cache := NewMemoryCache(time.Hour, nil)
	s := New(search, cache, nil, Config{}, nil)
	article := model.Article{Category: "golang"}

	for i := 0; i < 2; i++ {
		if _, err := s.Source(context.Background(), article, 5); err != nil {
			t.Fatalf("source: %v", err)
		}
	}
	if len(search.queries) != 1 {
		t.Fatalf("expected cached second lookup, got %d searches", len(search.queries))
	}
}

func TestMemoryCacheExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	cache := NewMemoryCache(time.Hour, clock)
	key := CacheKey{Query: "Go", Count: 1}
	ctx := context.Background()

	if err := cache.Set(ctx, key, []provider.StockVideo{{URL: "u"}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, CacheKey{Query: "go", Count: 1}); !ok {
		t.Fatalf("expected case-insensitive hit")
	}
	if _, ok, _ := cache.Get(ctx, CacheKey{Query: "go", Count: 2}); ok {
		t.Fatalf("count is part of the key")
	}

	now = now.Add(59 * time.Minute)
	if _, ok, _ := cache.Get(ctx, key); !ok {
		t.Fatalf("entry should still be fresh")
	}
	now = now.Add(time.Minute)
	if _, ok, _ := cache.Get(ctx, key); ok {
		t.Fatalf("entry should have expired after one hour")
	}
}
