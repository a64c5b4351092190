package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pinprompt/backend/internal/ids"
	"github.com/pinprompt/backend/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Kind enumerates the notification categories produced as mutation side
// effects.
type Kind string

const (
	KindLike    Kind = "like"
	KindFollow  Kind = "follow"
	KindMessage Kind = "message"
	KindComment Kind = "comment"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrInvalidKind indicates a kind outside the supported set.
	ErrInvalidKind = errors.New("notifications: invalid kind")
)

// Notification is an append-only row gaining only a read-flag mutation.
type Notification struct {
	NotificationID   string `gorm:"column:notification_id;primaryKey;size:190;not null"`
	RecipientID      string `gorm:"column:recipient_id;size:190;not null;index"`
	Kind             string `gorm:"column:kind;size:16;not null"`
	Title            string `gorm:"column:title;size:190;not null"`
	Body             string `gorm:"column:body;type:text"`
	RelatedID        string `gorm:"column:related_id;size:190"`
	IsRead           bool   `gorm:"column:is_read;not null;default:false;index"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}

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
	opServiceNew  = "notifications.service.new"
	opCreate      = "notifications.create"
	opList        = "notifications.list"
	opMarkRead    = "notifications.mark_read"
	opUnreadCount = "notifications.unread_count"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the notification service dependencies. The
// dispatcher is optional; when present every insert/update publishes a
// change-feed event to the recipient.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Dispatcher *realtime.Dispatcher
	Logger     *zap.Logger
}

// Service owns notification rows.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	dispatcher *realtime.Dispatcher
	logger     *zap.Logger
}

// NewService constructs the notification service.
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
		dispatcher: cfg.Dispatcher,
		logger:     logger,
	}, nil
}

// CreateInput carries a notification payload.
type CreateInput struct {
	RecipientID string
	Kind        Kind
	Title       string
	Body        string
	RelatedID   string
}

// Create appends a notification row. Callers invoking this as a mutation
// side effect treat failures as best effort: log, never block the primary
// mutation.
func (s *Service) Create(ctx context.Context, input CreateInput) (Notification, error) {
	switch input.Kind {
	case KindLike, KindFollow, KindMessage, KindComment:
	default:
		return Notification{}, newServiceError(opCreate, "invalid_kind", fmt.Errorf("%w: %q", ErrInvalidKind, input.Kind))
	}

	notificationID, err := s.idProvider.NewID()
	if err != nil {
		return Notification{}, newServiceError(opCreate, "id_generation_failed", err)
	}
	row := Notification{
		NotificationID:   notificationID,
		RecipientID:      input.RecipientID,
		Kind:             string(input.Kind),
		Title:            input.Title,
		Body:             input.Body,
		RelatedID:        input.RelatedID,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("recipient_id", input.RecipientID))
		return Notification{}, newServiceError(opCreate, "insert_failed", err)
	}

	s.publish(input.RecipientID, realtime.ActionInsert, notificationID)
	return row, nil
}

// List returns a recipient's notifications newest first.
func (s *Service) List(ctx context.Context, recipientID string) ([]Notification, error) {
	var rows []Notification
	if err := s.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at_s DESC").
		Find(&rows).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("recipient_id", recipientID))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return rows, nil
}

// MarkRead flips the read flag on the recipient's listed notifications.
func (s *Service) MarkRead(ctx context.Context, recipientID string, notificationIDs []string) error {
	if len(notificationIDs) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("recipient_id = ? AND notification_id IN ?", recipientID, notificationIDs).
		Update("is_read", true).Error; err != nil {
		s.logError(opMarkRead, "update_failed", err, zap.String("recipient_id", recipientID))
		return newServiceError(opMarkRead, "update_failed", err)
	}

	s.publish(recipientID, realtime.ActionUpdate, "")
	return nil
}

// UnreadCount re-derives the unread badge from the row set.
func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&count).Error; err != nil {
		s.logError(opUnreadCount, "count_failed", err, zap.String("recipient_id", recipientID))
		return 0, newServiceError(opUnreadCount, "count_failed", err)
	}
	return count, nil
}

func (s *Service) publish(recipientID string, action realtime.Action, rowID string) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Publish(realtime.Event{
		UserID:    recipientID,
		Table:     "notifications",
		Action:    action,
		RowID:     rowID,
		Timestamp: s.clock().UTC(),
	})
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
	s.logger.Error("notifications service error", attrs...)
}
