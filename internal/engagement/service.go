package engagement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pinprompt/backend/internal/content"
	"github.com/pinprompt/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrEmptyComment indicates a blank comment body.
	ErrEmptyComment = errors.New("engagement: empty comment body")
)

// Counter update seams. The atomic single-statement form is the primary
// path; tests force it to fail to exercise the manual fallback.
var (
	execIncrementLikeCount = func(db *gorm.DB, itemID string) error {
		return db.Model(&content.ContentItem{}).
			Where("item_id = ?", itemID).
			UpdateColumn("like_count", gorm.Expr("like_count + 1")).Error
	}
	execDecrementLikeCount = func(db *gorm.DB, itemID string) error {
		return db.Model(&content.ContentItem{}).
			Where("item_id = ?", itemID).
			UpdateColumn("like_count", gorm.Expr("CASE WHEN like_count > 0 THEN like_count - 1 ELSE 0 END")).Error
	}
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "engagement.service.new"
	opLike        = "engagement.like"
	opUnlike      = "engagement.unlike"
	opLikedItems  = "engagement.liked_items"
	opAddComment  = "engagement.add_comment"
	opListComment = "engagement.list_comments"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies for like and comment handling.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service owns like rows, the cached like counter, and persisted comments.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewService constructs the engagement service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Like inserts the (viewer, item) row, then reconciles the cached counter.
// The row insert is the primary mutation: its failure is returned. Counter
// reconciliation errors fall back to a manual clamped read-modify-write
// and are logged, never returned.
func (s *Service) Like(ctx context.Context, viewerID, itemID string) error {
	likeID, err := s.idProvider.NewID()
	if err != nil {
		return newServiceError(opLike, "id_generation_failed", err)
	}
	row := Like{
		LikeID:           likeID,
		ViewerID:         viewerID,
		ItemID:           itemID,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logError(opLike, "insert_failed", err, zap.String("item_id", itemID))
		return newServiceError(opLike, "insert_failed", err)
	}

	s.applyCounter(ctx, opLike, itemID, +1)
	return nil
}

// Unlike removes the (viewer, item) row, then reconciles the cached
// counter, symmetric to Like.
func (s *Service) Unlike(ctx context.Context, viewerID, itemID string) error {
	result := s.db.WithContext(ctx).
		Where("viewer_id = ? AND item_id = ?", viewerID, itemID).
		Delete(&Like{})
	if result.Error != nil {
		s.logError(opUnlike, "delete_failed", result.Error, zap.String("item_id", itemID))
		return newServiceError(opUnlike, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil
	}

	s.applyCounter(ctx, opUnlike, itemID, -1)
	return nil
}

func (s *Service) applyCounter(ctx context.Context, operation, itemID string, delta int) {
	db := s.db.WithContext(ctx)
	var primaryErr error
	if delta > 0 {
		primaryErr = execIncrementLikeCount(db, itemID)
	} else {
		primaryErr = execDecrementLikeCount(db, itemID)
	}
	if primaryErr == nil {
		return
	}
	s.logError(operation, "counter_update_failed", primaryErr, zap.String("item_id", itemID))

	// Fallback: read the current count and write it back clamped at zero.
	// Not retried if it fails.
	var item content.ContentItem
	if err := db.Where("item_id = ?", itemID).Take(&item).Error; err != nil {
		s.logError(operation, "counter_fallback_read_failed", err, zap.String("item_id", itemID))
		return
	}
	next := item.LikeCount + int64(delta)
	if next < 0 {
		next = 0
	}
	if err := db.Model(&content.ContentItem{}).
		Where("item_id = ?", itemID).
		UpdateColumn("like_count", next).Error; err != nil {
		s.logError(operation, "counter_fallback_write_failed", err, zap.String("item_id", itemID))
	}
}

// LikedItemIDs returns the subset of itemIDs the viewer has liked. The
// feed issues this as its second round trip per page.
func (s *Service) LikedItemIDs(ctx context.Context, viewerID string, itemIDs []string) (map[string]bool, error) {
	liked := make(map[string]bool, len(itemIDs))
	if len(itemIDs) == 0 {
		return liked, nil
	}
	var rows []Like
	if err := s.db.WithContext(ctx).
		Where("viewer_id = ? AND item_id IN ?", viewerID, itemIDs).
		Find(&rows).Error; err != nil {
		s.logError(opLikedItems, "query_failed", err, zap.String("viewer_id", viewerID))
		return nil, newServiceError(opLikedItems, "query_failed", err)
	}
	for _, row := range rows {
		liked[row.ItemID] = true
	}
	return liked, nil
}

// AddComment persists a comment row and returns it.
func (s *Service) AddComment(ctx context.Context, authorID, itemID, body string) (Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Comment{}, newServiceError(opAddComment, "empty_body", ErrEmptyComment)
	}
	commentID, err := s.idProvider.NewID()
	if err != nil {
		return Comment{}, newServiceError(opAddComment, "id_generation_failed", err)
	}
	comment := Comment{
		CommentID:        commentID,
		ItemID:           itemID,
		AuthorID:         authorID,
		Body:             body,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		s.logError(opAddComment, "insert_failed", err, zap.String("item_id", itemID))
		return Comment{}, newServiceError(opAddComment, "insert_failed", err)
	}
	return comment, nil
}

// ListComments returns an item's comments oldest first.
func (s *Service) ListComments(ctx context.Context, itemID string) ([]Comment, error) {
	var comments []Comment
	if err := s.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("created_at_s ASC").
		Find(&comments).Error; err != nil {
		s.logError(opListComment, "query_failed", err, zap.String("item_id", itemID))
		return nil, newServiceError(opListComment, "query_failed", err)
	}
	return comments, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("engagement service error", attrs...)
}
