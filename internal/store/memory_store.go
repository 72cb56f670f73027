package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iBekzod/next-gen-being-sub006/internal/model"
)

type MemoryStore struct {
	mu sync.RWMutex

	users    map[string]model.User
	articles map[string]model.Article

	requests          map[string]model.GenerationRequest
	eventsByRequest   map[string][]model.RequestEvent
	eventSeqByRequest map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:             map[string]model.User{},
		articles:          map[string]model.Article{},
		requests:          map[string]model.GenerationRequest{},
		eventsByRequest:   map[string][]model.RequestEvent{},
		eventSeqByRequest: map[string]int64{},
	}
}

func (s *MemoryStore) UpsertUser(_ context.Context, user model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.users[user.ID]; ok {
		user.VideoCount = cur.VideoCount
		user.CreatedAt = cur.CreatedAt
	}
	s.users[user.ID] = user
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) IncrementVideoCount(_ context.Context, userID string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return model.User{}, ErrNotFound
	}
	user.VideoCount++
	user.UpdatedAt = time.Now().UTC()
	s.users[userID] = user
	return user, nil
}

func (s *MemoryStore) UpsertArticle(_ context.Context, article model.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	article.Tags = append([]string(nil), article.Tags...)
	s.articles[article.ID] = article
	return nil
}

func (s *MemoryStore) GetArticle(_ context.Context, id string) (model.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.articles[id]
	if !ok {
		return model.Article{}, ErrNotFound
	}
	a.Tags = append([]string(nil), a.Tags...)
	return a, nil
}

func (s *MemoryStore) CreateRequest(_ context.Context, req model.GenerationRequest) (model.GenerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertRequest(req)
}

func (s *MemoryStore) CreateRequestWithinQuota(_ context.Context, req model.GenerationRequest, quota int) (model.GenerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[req.UserID]
	if !ok {
		return model.GenerationRequest{}, ErrNotFound
	}
	if quota >= 0 && user.VideoCount+s.activeLocked(req.UserID) >= quota {
		return model.GenerationRequest{}, ErrOverQuota
	}
	return s.insertRequest(req)
}

func (s *MemoryStore) insertRequest(req model.GenerationRequest) (model.GenerationRequest, error) {
	if _, ok := s.requests[req.ID]; ok {
		return model.GenerationRequest{}, ErrConflict
	}
	s.requests[req.ID] = req.Clone()
	s.eventsByRequest[req.ID] = []model.RequestEvent{}
	s.eventSeqByRequest[req.ID] = 0
	return req.Clone(), nil
}

func (s *MemoryStore) GetRequest(_ context.Context, id string) (model.GenerationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return model.GenerationRequest{}, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) UpdateRequest(_ context.Context, req model.GenerationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.requests[req.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status.Terminal() {
		return ErrConflict
	}
	req = req.Clone()
	req.CancelRequested = cur.CancelRequested
	s.requests[req.ID] = req
	return nil
}

func (s *MemoryStore) TransitionRequest(_ context.Context, id string, from, to model.RequestStatus, mutate func(*model.GenerationRequest)) (model.GenerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.requests[id]
	if !ok {
		return model.GenerationRequest{}, ErrNotFound
	}
	if cur.Status != from || !from.CanTransition(to) {
		return model.GenerationRequest{}, ErrConflict
	}
	next := cur.Clone()
	if mutate != nil {
		mutate(&next)
	}
	next.ID = cur.ID
	next.Status = to
	next.CancelRequested = cur.CancelRequested
	s.requests[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) RequestCancel(_ context.Context, id string) (model.GenerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.requests[id]
	if !ok {
		return model.GenerationRequest{}, ErrNotFound
	}
	if cur.Status.Terminal() {
		return model.GenerationRequest{}, ErrConflict
	}
	cur.CancelRequested = true
	cur.UpdatedAt = time.Now().UTC()
	s.requests[id] = cur
	return cur.Clone(), nil
}

func (s *MemoryStore) ListRequestsByUser(_ context.Context, userID string, page, pageSize int) ([]model.GenerationRequest, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, pageSize = normalizePage(page, pageSize)
	var items []model.GenerationRequest
	for _, r := range s.requests {
		if r.UserID == userID {
			items = append(items, r)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	total := len(items)
	start := (page - 1) * pageSize
	if start > total {
		return []model.GenerationRequest{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	out := make([]model.GenerationRequest, 0, end-start)
	for _, r := range items[start:end] {
		out = append(out, r.Clone())
	}
	return out, total, nil
}

func (s *MemoryStore) ListQueuedBefore(_ context.Context, cutoff time.Time, limit int) ([]model.GenerationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []model.GenerationRequest
	for _, r := range s.requests {
		if r.Status == model.StatusQueued && r.CreatedAt.Before(cutoff) {
			items = append(items, r.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) CountActiveRequests(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked(userID), nil
}

func (s *MemoryStore) activeLocked(userID string) int {
	n := 0
	for _, r := range s.requests {
		if r.UserID == userID && !r.Status.Terminal() {
			n++
		}
	}
	return n
}

func (s *MemoryStore) AppendEvent(_ context.Context, requestID string, event model.RequestEvent) (model.RequestEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[requestID]; !ok {
		return model.RequestEvent{}, ErrNotFound
	}
	seq := s.eventSeqByRequest[requestID] + 1
	s.eventSeqByRequest[requestID] = seq
	event.Seq = seq
	event.EventID = uuid.NewString()
	event.RequestID = requestID
	s.eventsByRequest[requestID] = append(s.eventsByRequest[requestID], event)
	return event, nil
}

func (s *MemoryStore) ListEventsFromSeq(_ context.Context, requestID string, fromSeq int64) ([]model.RequestEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events, ok := s.eventsByRequest[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]model.RequestEvent, 0, len(events))
	for _, e := range events {
		if e.Seq > fromSeq {
			out = append(out, e)
		}
	}
	return out, nil
}
