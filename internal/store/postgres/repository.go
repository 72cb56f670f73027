// Package postgres implements store.Repository on PostgreSQL through gorm.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iBekzod/next-gen-being-sub006/internal/model"
	"github.com/iBekzod/next-gen-being-sub006/internal/store"
)

// Open connects and verifies the database is reachable.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, logger: logger}
}

func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&userRow{}, &articleRow{}, &requestRow{}, &eventRow{})
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *Repository) UpsertUser(ctx context.Context, user model.User) error {
	row := userRowFromModel(user)
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "tier", "intro_video_url", "outro_video_url", "updated_at"}),
	}).Create(&row).Error; err != nil {
		return r.logError("user_upsert_failed", err, "user_id", user.ID)
	}
	return nil
}

func (r *Repository) GetUser(ctx context.Context, id string) (model.User, error) {
	var row userRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.User{}, store.ErrNotFound
		}
		return model.User{}, r.logError("user_get_failed", err, "user_id", id)
	}
	return row.toModel(), nil
}

func (r *Repository) IncrementVideoCount(ctx context.Context, userID string) (model.User, error) {
	result := r.db.WithContext(ctx).
		Model(&userRow{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"video_count": gorm.Expr("video_count + 1"),
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return model.User{}, r.logError("user_increment_video_count_failed", result.Error, "user_id", userID)
	}
	if result.RowsAffected == 0 {
		return model.User{}, store.ErrNotFound
	}
	return r.GetUser(ctx, userID)
}

func (r *Repository) UpsertArticle(ctx context.Context, article model.Article) error {
	row := articleRowFromModel(article)
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error; err != nil {
		return r.logError("article_upsert_failed", err, "article_id", article.ID)
	}
	return nil
}

func (r *Repository) GetArticle(ctx context.Context, id string) (model.Article, error) {
	var row articleRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Article{}, store.ErrNotFound
		}
		return model.Article{}, r.logError("article_get_failed", err, "article_id", id)
	}
	return row.toModel(), nil
}

func (r *Repository) CreateRequest(ctx context.Context, req model.GenerationRequest) (model.GenerationRequest, error) {
	row, err := requestRowFromModel(req)
	if err != nil {
		return model.GenerationRequest{}, err
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return model.GenerationRequest{}, store.ErrConflict
		}
		return model.GenerationRequest{}, r.logError("request_create_failed", err, "request_id", req.ID)
	}
	return req.Clone(), nil
}

// CreateRequestWithinQuota holds the owner's user row lock while counting
// and inserting, so concurrent submissions are serialized per user.
func (r *Repository) CreateRequestWithinQuota(ctx context.Context, req model.GenerationRequest, quota int) (model.GenerationRequest, error) {
	row, err := requestRowFromModel(req)
	if err != nil {
		return model.GenerationRequest{}, err
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner userRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", req.UserID).
			First(&owner).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		if quota >= 0 {
			var active int64
			if err := tx.Model(&requestRow{}).
				Where("user_id = ?", req.UserID).
				Where("status IN ?", []string{string(model.StatusQueued), string(model.StatusProcessing)}).
				Count(&active).Error; err != nil {
				return err
			}
			if owner.VideoCount+int(active) >= quota {
				return store.ErrOverQuota
			}
		}
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return store.ErrConflict
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrOverQuota) || errors.Is(err, store.ErrConflict) {
			return model.GenerationRequest{}, err
		}
		return model.GenerationRequest{}, r.logError("request_create_failed", err, "request_id", req.ID, "user_id", req.UserID)
	}
	return req.Clone(), nil
}

func (r *Repository) GetRequest(ctx context.Context, id string) (model.GenerationRequest, error) {
	return r.getRequest(r.db.WithContext(ctx), id)
}

func (r *Repository) getRequest(tx *gorm.DB, id string) (model.GenerationRequest, error) {
	var row requestRow
	if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.GenerationRequest{}, store.ErrNotFound
		}
		return model.GenerationRequest{}, r.logError("request_get_failed", err, "request_id", id)
	}
	return row.toModel()
}

func (r *Repository) UpdateRequest(ctx context.Context, req model.GenerationRequest) error {
	row, err := requestRowFromModel(req)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Model(&requestRow{}).
		Where("id = ?", req.ID).
		Where("status NOT IN ?", []string{string(model.StatusCompleted), string(model.StatusFailed)}).
		Updates(row.updates())
	if result.Error != nil {
		return r.logError("request_update_failed", result.Error, "request_id", req.ID)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetRequest(ctx, req.ID); err != nil {
			return err
		}
		return store.ErrConflict
	}
	return nil
}

func (r *Repository) TransitionRequest(ctx context.Context, id string, from, to model.RequestStatus, mutate func(*model.GenerationRequest)) (model.GenerationRequest, error) {
	var out model.GenerationRequest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := r.getRequest(tx.Clauses(clause.Locking{Strength: "UPDATE"}), id)
		if err != nil {
			return err
		}
		if cur.Status != from || !from.CanTransition(to) {
			return store.ErrConflict
		}
		next := cur.Clone()
		if mutate != nil {
			mutate(&next)
		}
		next.ID = cur.ID
		next.Status = to
		next.CancelRequested = cur.CancelRequested

		row, err := requestRowFromModel(next)
		if err != nil {
			return err
		}
		if err := tx.Model(&requestRow{}).Where("id = ?", id).Updates(row.updates()).Error; err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
			return model.GenerationRequest{}, err
		}
		return model.GenerationRequest{}, r.logError("request_transition_failed", err,
			"request_id", id, "from", from, "to", to)
	}
	return out, nil
}

func (r *Repository) RequestCancel(ctx context.Context, id string) (model.GenerationRequest, error) {
	result := r.db.WithContext(ctx).
		Model(&requestRow{}).
		Where("id = ?", id).
		Where("status NOT IN ?", []string{string(model.StatusCompleted), string(model.StatusFailed)}).
		Updates(map[string]any{"cancel_requested": true, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return model.GenerationRequest{}, r.logError("request_cancel_failed", result.Error, "request_id", id)
	}
	req, err := r.GetRequest(ctx, id)
	if err != nil {
		return model.GenerationRequest{}, err
	}
	if result.RowsAffected == 0 {
		return model.GenerationRequest{}, store.ErrConflict
	}
	return req, nil
}

func (r *Repository) ListRequestsByUser(ctx context.Context, userID string, page, pageSize int) ([]model.GenerationRequest, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	byUser := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&requestRow{}).Where("user_id = ?", userID)
	}
	var total int64
	if err := byUser().Count(&total).Error; err != nil {
		return nil, 0, r.logError("request_count_failed", err, "user_id", userID)
	}
	var rows []requestRow
	if err := byUser().Order("created_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&rows).Error; err != nil {
		return nil, 0, r.logError("request_list_failed", err, "user_id", userID)
	}
	out := make([]model.GenerationRequest, 0, len(rows))
	for _, row := range rows {
		req, err := row.toModel()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, req)
	}
	return out, int(total), nil
}

func (r *Repository) ListQueuedBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.GenerationRequest, error) {
	var rows []requestRow
	err := r.db.WithContext(ctx).
		Where("status = ?", string(model.StatusQueued)).
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, r.logError("request_list_queued_failed", err)
	}
	out := make([]model.GenerationRequest, 0, len(rows))
	for _, row := range rows {
		req, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func (r *Repository) CountActiveRequests(ctx context.Context, userID string) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&requestRow{}).
		Where("user_id = ?", userID).
		Where("status IN ?", []string{string(model.StatusQueued), string(model.StatusProcessing)}).
		Count(&n).Error
	if err != nil {
		return 0, r.logError("request_count_active_failed", err, "user_id", userID)
	}
	return int(n), nil
}

// AppendEvent assigns the next sequence number under a row lock on the
// owning request.
func (r *Repository) AppendEvent(ctx context.Context, requestID string, event model.RequestEvent) (model.RequestEvent, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner requestRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", requestID).
			First(&owner).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		var maxSeq int64
		if err := tx.Model(&eventRow{}).
			Where("request_id = ?", requestID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		event.Seq = maxSeq + 1
		event.EventID = uuid.NewString()
		event.RequestID = requestID

		row, err := eventRowFromModel(event)
		if err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return model.RequestEvent{}, err
		case isUniqueViolation(err):
			return model.RequestEvent{}, store.ErrConflict
		}
		return model.RequestEvent{}, r.logError("event_append_failed", err, "request_id", requestID)
	}
	return event, nil
}

func (r *Repository) ListEventsFromSeq(ctx context.Context, requestID string, fromSeq int64) ([]model.RequestEvent, error) {
	if _, err := r.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	var rows []eventRow
	if err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Where("seq > ?", fromSeq).
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("event_list_failed", err, "request_id", requestID)
	}
	out := make([]model.RequestEvent, 0, len(rows))
	for _, row := range rows {
		e, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+4)
	fields = append(fields, "event", event, "error", err.Error())
	fields = append(fields, attrs...)
	r.logger.Error("postgres repository operation failed", fields...)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ store.Repository = (*Repository)(nil)
