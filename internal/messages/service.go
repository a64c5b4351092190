package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pinprompt/backend/internal/ids"
	"github.com/pinprompt/backend/internal/notifications"
	"github.com/pinprompt/backend/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrEmptyBody indicates a blank message body.
	ErrEmptyBody = errors.New("messages: empty body")
	// ErrSelfMessage indicates sender and receiver are the same profile.
	ErrSelfMessage = errors.New("messages: cannot message self")
)

// Message is an append-only direct message; only the read flag mutates.
// Conversations are not first-class, they are derived by grouping on the
// non-self participant.
type Message struct {
	MessageID        string `gorm:"column:message_id;primaryKey;size:190;not null"`
	SenderID         string `gorm:"column:sender_id;size:190;not null;index"`
	ReceiverID       string `gorm:"column:receiver_id;size:190;not null;index"`
	Body             string `gorm:"column:body;type:text;not null"`
	IsRead           bool   `gorm:"column:is_read;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "messages"
}

// ConversationSummary is one row of the inbox list: the partner, the most
// recent message either way, and how many of their messages are unread.
type ConversationSummary struct {
	PartnerID   string
	LastMessage Message
	UnreadCount int64
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
	opServiceNew     = "messages.service.new"
	opSend           = "messages.send"
	opListConv       = "messages.list_conversation"
	opListSummaries  = "messages.list_summaries"
	opMarkConvRead   = "messages.mark_conversation_read"
	opUnreadMessages = "messages.unread_count"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the messaging dependencies. Dispatcher and
// Notifications are optional side-effect channels.
type ServiceConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	IDProvider    ids.Provider
	Dispatcher    *realtime.Dispatcher
	Notifications *notifications.Service
	Logger        *zap.Logger
}

// Service owns direct messages and derived conversation state.
type Service struct {
	db            *gorm.DB
	clock         func() time.Time
	idProvider    ids.Provider
	dispatcher    *realtime.Dispatcher
	notifications *notifications.Service
	logger        *zap.Logger
}

// NewService constructs the message service.
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
		db:            cfg.Database,
		clock:         clock,
		idProvider:    cfg.IDProvider,
		dispatcher:    cfg.Dispatcher,
		notifications: cfg.Notifications,
		logger:        logger,
	}, nil
}

// Send appends a message row. The message notification and realtime event
// are best effort; their failure never blocks the send.
func (s *Service) Send(ctx context.Context, senderID, receiverID, body string) (Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Message{}, newServiceError(opSend, "empty_body", ErrEmptyBody)
	}
	if senderID == receiverID {
		return Message{}, newServiceError(opSend, "self_message", ErrSelfMessage)
	}

	messageID, err := s.idProvider.NewID()
	if err != nil {
		return Message{}, newServiceError(opSend, "id_generation_failed", err)
	}
	message := Message{
		MessageID:        messageID,
		SenderID:         senderID,
		ReceiverID:       receiverID,
		Body:             body,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		s.logError(opSend, "insert_failed", err, zap.String("receiver_id", receiverID))
		return Message{}, newServiceError(opSend, "insert_failed", err)
	}

	if s.dispatcher != nil {
		s.dispatcher.Publish(realtime.Event{
			UserID:    receiverID,
			Table:     "messages",
			Action:    realtime.ActionInsert,
			RowID:     messageID,
			Timestamp: s.clock().UTC(),
		})
	}
	if s.notifications != nil {
		_, err := s.notifications.Create(ctx, notifications.CreateInput{
			RecipientID: receiverID,
			Kind:        notifications.KindMessage,
			Title:       "New message",
			Body:        body,
			RelatedID:   senderID,
		})
		if err != nil {
			s.logger.Warn("message notification failed",
				zap.String("receiver_id", receiverID),
				zap.Error(err))
		}
	}
	return message, nil
}

// ListConversation returns both directions of a conversation, oldest first.
func (s *Service) ListConversation(ctx context.Context, viewerID, otherID string) ([]Message, error) {
	var rows []Message
	if err := s.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			viewerID, otherID, otherID, viewerID).
		Order("created_at_s ASC").
		Find(&rows).Error; err != nil {
		s.logError(opListConv, "query_failed", err, zap.String("viewer_id", viewerID))
		return nil, newServiceError(opListConv, "query_failed", err)
	}
	return rows, nil
}

// ListConversationSummaries derives the inbox list by grouping the
// viewer's messages on the non-self participant, newest conversation
// first.
func (s *Service) ListConversationSummaries(ctx context.Context, viewerID string) ([]ConversationSummary, error) {
	var rows []Message
	if err := s.db.WithContext(ctx).
		Where("sender_id = ? OR receiver_id = ?", viewerID, viewerID).
		Order("created_at_s DESC").
		Find(&rows).Error; err != nil {
		s.logError(opListSummaries, "query_failed", err, zap.String("viewer_id", viewerID))
		return nil, newServiceError(opListSummaries, "query_failed", err)
	}

	order := make([]string, 0)
	byPartner := make(map[string]*ConversationSummary)
	for _, message := range rows {
		partnerID := message.SenderID
		if partnerID == viewerID {
			partnerID = message.ReceiverID
		}
		summary, ok := byPartner[partnerID]
		if !ok {
			summary = &ConversationSummary{PartnerID: partnerID, LastMessage: message}
			byPartner[partnerID] = summary
			order = append(order, partnerID)
		}
		if message.ReceiverID == viewerID && !message.IsRead {
			summary.UnreadCount++
		}
	}

	summaries := make([]ConversationSummary, 0, len(order))
	for _, partnerID := range order {
		summaries = append(summaries, *byPartner[partnerID])
	}
	return summaries, nil
}

// MarkConversationRead bulk-flips the read flag on every unread message
// from sender to viewer. Completion is what triggers a summary refresh on
// the caller's side, so it publishes an update event.
func (s *Service) MarkConversationRead(ctx context.Context, viewerID, senderID string) error {
	if err := s.db.WithContext(ctx).Model(&Message{}).
		Where("receiver_id = ? AND sender_id = ? AND is_read = ?", viewerID, senderID, false).
		Update("is_read", true).Error; err != nil {
		s.logError(opMarkConvRead, "update_failed", err, zap.String("viewer_id", viewerID))
		return newServiceError(opMarkConvRead, "update_failed", err)
	}
	if s.dispatcher != nil {
		s.dispatcher.Publish(realtime.Event{
			UserID:    viewerID,
			Table:     "messages",
			Action:    realtime.ActionUpdate,
			Timestamp: s.clock().UTC(),
		})
	}
	return nil
}

// UnreadCount re-derives the unread badge from the row set.
func (s *Service) UnreadCount(ctx context.Context, viewerID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Message{}).
		Where("receiver_id = ? AND is_read = ?", viewerID, false).
		Count(&count).Error; err != nil {
		s.logError(opUnreadMessages, "count_failed", err, zap.String("viewer_id", viewerID))
		return 0, newServiceError(opUnreadMessages, "count_failed", err)
	}
	return count, nil
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
	s.logger.Error("messages service error", attrs...)
}
