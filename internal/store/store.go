package store

import (
	"context"
	"errors"
	"time"

	"github.com/iBekzod/next-gen-being-sub006/internal/model"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrForbidden = errors.New("forbidden")
	ErrOverQuota = errors.New("over quota")
)

// Repository persists users, articles, generation requests and their events.
//
// UpdateRequest writes every field except CancelRequested, which only
// RequestCancel sets, and refuses to modify a request already in a terminal
// status.
type Repository interface {
	// UpsertUser creates user or updates its profile. The video count of an
	// existing user is kept; only IncrementVideoCount changes it.
	UpsertUser(ctx context.Context, user model.User) error
	GetUser(ctx context.Context, id string) (model.User, error)
	IncrementVideoCount(ctx context.Context, userID string) (model.User, error)

	UpsertArticle(ctx context.Context, article model.Article) error
	GetArticle(ctx context.Context, id string) (model.Article, error)

	CreateRequest(ctx context.Context, req model.GenerationRequest) (model.GenerationRequest, error)
	// CreateRequestWithinQuota inserts req only while the owner's video count
	// plus active requests stays below quota, returning ErrOverQuota otherwise.
	// A negative quota is unlimited.
	CreateRequestWithinQuota(ctx context.Context, req model.GenerationRequest, quota int) (model.GenerationRequest, error)
	GetRequest(ctx context.Context, id string) (model.GenerationRequest, error)
	UpdateRequest(ctx context.Context, req model.GenerationRequest) error
	// TransitionRequest moves a request from one status to another atomically
	// and returns ErrConflict when the stored status is not from.
	TransitionRequest(ctx context.Context, id string, from, to model.RequestStatus, mutate func(*model.GenerationRequest)) (model.GenerationRequest, error)
	RequestCancel(ctx context.Context, id string) (model.GenerationRequest, error)
	ListRequestsByUser(ctx context.Context, userID string, page, pageSize int) ([]model.GenerationRequest, int, error)
	CountActiveRequests(ctx context.Context, userID string) (int, error)
	// ListQueuedBefore returns up to limit queued requests created before
	// cutoff, oldest first.
	ListQueuedBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.GenerationRequest, error)

	AppendEvent(ctx context.Context, requestID string, event model.RequestEvent) (model.RequestEvent, error)
	ListEventsFromSeq(ctx context.Context, requestID string, fromSeq int64) ([]model.RequestEvent, error)
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
