package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pinprompt/backend/internal/content"
	"github.com/pinprompt/backend/internal/engagement"
	"github.com/pinprompt/backend/internal/ids"
	"github.com/pinprompt/backend/internal/notifications"
	"github.com/pinprompt/backend/internal/profiles"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PageSize is the fixed feed page length. HasMore is heuristic: a page is
// assumed to have a successor iff it came back exactly full.
const PageSize = 10

// SortMode selects the feed ordering.
type SortMode string

const (
	// SortRecent orders by creation time, newest first.
	SortRecent SortMode = "recent"
	// SortTrending orders by cached like count, highest first.
	SortTrending SortMode = "trending"
	// SortFollowing is accepted but degrades to recent ordering; no join
	// against follow edges is performed. Kept for behavioral parity with
	// the shipped client.
	SortFollowing SortMode = "following"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingEngagement = errors.New("engagement service is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrNotOwner indicates a mutation on an item the actor does not own.
	ErrNotOwner = errors.New("feed: not the item owner")
	// ErrItemNotFound indicates an unknown content item.
	ErrItemNotFound = errors.New("feed: item not found")
	// ErrEmptyGeneration indicates an item without a generation prompt.
	ErrEmptyGeneration = errors.New("feed: generation prompt is required")
)

// Filters narrows a feed page load.
type Filters struct {
	Search        string
	ModelContains string
	Sort          SortMode
}

// Item is a content row enriched with the viewer's like state and the
// item's comments.
type Item struct {
	content.ContentItem
	LikedByViewer bool
	Comments      []engagement.Comment
}

// Page is one feed page plus the has-more heuristic.
type Page struct {
	Items   []Item
	HasMore bool
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
	opServiceNew = "feed.service.new"
	opLoadPage   = "feed.load_page"
	opCreateItem = "feed.create_item"
	opUpdateItem = "feed.update_item"
	opDeleteItem = "feed.delete_item"
	opGetItem    = "feed.get_item"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the feed dependencies. Profiles and
// Notifications feed the best-effort notification side effects and may be
// nil in tests.
type ServiceConfig struct {
	Database      *gorm.DB
	Engagement    *engagement.Service
	Notifications *notifications.Service
	Profiles      *profiles.Service
	Clock         func() time.Time
	IDProvider    ids.Provider
	Logger        *zap.Logger
}

// Service composes paginated, filtered, sorted reads over content items
// and owns item lifecycle mutations.
type Service struct {
	db            *gorm.DB
	engagement    *engagement.Service
	notifications *notifications.Service
	profiles      *profiles.Service
	clock         func() time.Time
	idProvider    ids.Provider
	logger        *zap.Logger
}

// NewService constructs the feed service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Engagement == nil {
		return nil, newServiceError(opServiceNew, "missing_engagement", errMissingEngagement)
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
		engagement:    cfg.Engagement,
		notifications: cfg.Notifications,
		profiles:      cfg.Profiles,
		clock:         clock,
		idProvider:    cfg.IDProvider,
		logger:        logger,
	}, nil
}

// likePattern builds a lowercase substring pattern, escaping LIKE
// metacharacters so user text matches literally.
func likePattern(text string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(text))
	return "%" + escaped + "%"
}

// LoadPage fetches one feed page at the given offset, then issues a second
// query annotating each item with the viewer's like state. Search matches
// case-insensitively as a substring of the body or the category label.
func (s *Service) LoadPage(ctx context.Context, viewerID string, offset int, filters Filters) (Page, error) {
	query := s.db.WithContext(ctx).Model(&content.ContentItem{})

	if search := strings.TrimSpace(filters.Search); search != "" {
		pattern := likePattern(search)
		query = query.Where("LOWER(body) LIKE ? ESCAPE '\\' OR LOWER(category) LIKE ? ESCAPE '\\'", pattern, pattern)
	}
	if model := strings.TrimSpace(filters.ModelContains); model != "" {
		query = query.Where("LOWER(model_label) LIKE ? ESCAPE '\\'", likePattern(model))
	}

	switch filters.Sort {
	case SortTrending:
		query = query.Order("like_count DESC, created_at_s DESC")
	default:
		// recent, and following's silent degrade to recent
		query = query.Order("created_at_s DESC")
	}

	var rows []content.ContentItem
	if err := query.Offset(offset).Limit(PageSize).Find(&rows).Error; err != nil {
		s.logError(opLoadPage, "query_failed", err, zap.Int("offset", offset))
		return Page{}, newServiceError(opLoadPage, "query_failed", err)
	}

	itemIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		itemIDs = append(itemIDs, row.ItemID)
	}
	liked, err := s.engagement.LikedItemIDs(ctx, viewerID, itemIDs)
	if err != nil {
		s.logError(opLoadPage, "like_state_failed", err, zap.Int("offset", offset))
		return Page{}, newServiceError(opLoadPage, "like_state_failed", err)
	}

	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, Item{
			ContentItem:   row,
			LikedByViewer: liked[row.ItemID],
		})
	}
	return Page{Items: items, HasMore: len(items) == PageSize}, nil
}

// CreateItemInput carries the upload-flow payload.
type CreateItemInput struct {
	OwnerID    string
	Reflection string
	Generation string
	OutputRef  string
	OutputKind string
	ModelLabel string
	Category   string
}

// CreateItem validates and persists a new content item.
func (s *Service) CreateItem(ctx context.Context, input CreateItemInput) (content.ContentItem, error) {
	if strings.TrimSpace(input.Generation) == "" {
		return content.ContentItem{}, newServiceError(opCreateItem, "empty_generation", ErrEmptyGeneration)
	}
	kind, err := content.ParseOutputKind(input.OutputKind)
	if err != nil {
		return content.ContentItem{}, newServiceError(opCreateItem, "invalid_output_kind", err)
	}
	if err := content.ValidateCategory(input.Category); err != nil {
		return content.ContentItem{}, newServiceError(opCreateItem, "invalid_category", err)
	}

	itemID, err := s.idProvider.NewID()
	if err != nil {
		return content.ContentItem{}, newServiceError(opCreateItem, "id_generation_failed", err)
	}
	item := content.ContentItem{
		ItemID:           itemID,
		OwnerID:          input.OwnerID,
		Body:             content.CombineBody(input.Reflection, input.Generation),
		OutputRef:        strings.TrimSpace(input.OutputRef),
		OutputKind:       string(kind),
		ModelLabel:       strings.TrimSpace(input.ModelLabel),
		Category:         input.Category,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
		s.logError(opCreateItem, "insert_failed", err, zap.String("owner_id", input.OwnerID))
		return content.ContentItem{}, newServiceError(opCreateItem, "insert_failed", err)
	}
	return item, nil
}

// GetItem loads a single content item.
func (s *Service) GetItem(ctx context.Context, itemID string) (content.ContentItem, error) {
	var item content.ContentItem
	err := s.db.WithContext(ctx).Where("item_id = ?", itemID).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return content.ContentItem{}, newServiceError(opGetItem, "not_found", ErrItemNotFound)
	}
	if err != nil {
		s.logError(opGetItem, "query_failed", err, zap.String("item_id", itemID))
		return content.ContentItem{}, newServiceError(opGetItem, "query_failed", err)
	}
	return item, nil
}

// UpdateItem persists an edited body and category for an owned item. The
// empty category stores as absence.
func (s *Service) UpdateItem(ctx context.Context, ownerID, itemID, body, category string) error {
	if err := content.ValidateCategory(category); err != nil {
		return newServiceError(opUpdateItem, "invalid_category", err)
	}
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.OwnerID != ownerID {
		return newServiceError(opUpdateItem, "not_owner", ErrNotOwner)
	}
	if err := s.db.WithContext(ctx).Model(&content.ContentItem{}).
		Where("item_id = ?", itemID).
		Updates(map[string]interface{}{"body": body, "category": category}).Error; err != nil {
		s.logError(opUpdateItem, "update_failed", err, zap.String("item_id", itemID))
		return newServiceError(opUpdateItem, "update_failed", err)
	}
	return nil
}

// DeleteItem removes an owned item together with its likes and comments.
func (s *Service) DeleteItem(ctx context.Context, ownerID, itemID string) error {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.OwnerID != ownerID {
		return newServiceError(opDeleteItem, "not_owner", ErrNotOwner)
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("item_id = ?", itemID).Delete(&engagement.Like{}).Error; err != nil {
			return err
		}
		if err := tx.Where("item_id = ?", itemID).Delete(&engagement.Comment{}).Error; err != nil {
			return err
		}
		return tx.Where("item_id = ?", itemID).Delete(&content.ContentItem{}).Error
	})
	if txErr != nil {
		s.logError(opDeleteItem, "transaction_failed", txErr, zap.String("item_id", itemID))
		return newServiceError(opDeleteItem, "transaction_failed", txErr)
	}
	return nil
}

// Like inserts the viewer's like row and reconciles the counter.
func (s *Service) Like(ctx context.Context, viewerID, itemID string) error {
	return s.engagement.Like(ctx, viewerID, itemID)
}

// Unlike removes the viewer's like row and reconciles the counter.
func (s *Service) Unlike(ctx context.Context, viewerID, itemID string) error {
	return s.engagement.Unlike(ctx, viewerID, itemID)
}

// AddComment persists a comment on an item.
func (s *Service) AddComment(ctx context.Context, authorID, itemID, body string) (engagement.Comment, error) {
	return s.engagement.AddComment(ctx, authorID, itemID, body)
}

// ListComments returns an item's comments oldest first.
func (s *Service) ListComments(ctx context.Context, itemID string) ([]engagement.Comment, error) {
	return s.engagement.ListComments(ctx, itemID)
}

// NotifyLike records a like notification for the item owner. Callers treat
// it as best effort.
func (s *Service) NotifyLike(ctx context.Context, recipientID, actorID, itemID string) error {
	return s.notify(ctx, notifications.KindLike, "New like", "liked your post", recipientID, actorID, itemID)
}

// NotifyComment records a comment notification for the item owner.
func (s *Service) NotifyComment(ctx context.Context, recipientID, actorID, itemID string) error {
	return s.notify(ctx, notifications.KindComment, "New comment", "commented on your post", recipientID, actorID, itemID)
}

func (s *Service) notify(ctx context.Context, kind notifications.Kind, title, verb, recipientID, actorID, itemID string) error {
	if s.notifications == nil {
		return nil
	}
	body := "Someone " + verb
	if s.profiles != nil {
		if actor, err := s.profiles.Get(ctx, actorID); err == nil {
			body = "@" + actor.Handle + " " + verb
		}
	}
	_, err := s.notifications.Create(ctx, notifications.CreateInput{
		RecipientID: recipientID,
		Kind:        kind,
		Title:       title,
		Body:        body,
		RelatedID:   itemID,
	})
	return err
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
	s.logger.Error("feed service error", attrs...)
}
