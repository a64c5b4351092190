package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pinprompt/backend/internal/content"
	"github.com/pinprompt/backend/internal/engagement"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period required after the last text-driven
// filter change before a reload fires.
const DefaultDebounce = 300 * time.Millisecond

var (
	errMissingBackend  = errors.New("backend is required")
	errMissingViewerID = errors.New("viewer id is required")

	// ErrEditInProgress indicates another item already holds the shared
	// edit buffer.
	ErrEditInProgress = errors.New("feed: another edit is in progress")
	// ErrNoActiveEdit indicates a save or cancel without an open buffer.
	ErrNoActiveEdit = errors.New("feed: no active edit")
	// ErrUnknownItem indicates the item is not in the merged list.
	ErrUnknownItem = errors.New("feed: item not loaded")
)

// Backend is the remote surface the engine mutates through. *Service
// implements it; tests substitute fakes.
type Backend interface {
	LoadPage(ctx context.Context, viewerID string, offset int, filters Filters) (Page, error)
	Like(ctx context.Context, viewerID, itemID string) error
	Unlike(ctx context.Context, viewerID, itemID string) error
	UpdateItem(ctx context.Context, ownerID, itemID, body, category string) error
	AddComment(ctx context.Context, authorID, itemID, body string) (engagement.Comment, error)
	NotifyLike(ctx context.Context, recipientID, actorID, itemID string) error
	NotifyComment(ctx context.Context, recipientID, actorID, itemID string) error
}

// EditPhase tracks the shared edit buffer's position in the
// Viewing → Editing → Saving → Viewing cycle.
type EditPhase int

const (
	EditPhaseViewing EditPhase = iota
	EditPhaseEditing
	EditPhaseSaving
)

// EditBuffer is the single shared edit state; at most one item is in
// Editing per engine.
type EditBuffer struct {
	ItemID     string
	Reflection string
	Generation string
	Category   string
}

// EngineConfig describes an engine instance for one viewer session.
type EngineConfig struct {
	Backend  Backend
	ViewerID string
	Debounce time.Duration
	Logger   *zap.Logger
}

// Engine merges feed pages into a growing in-memory list and applies
// optimistic mutations against it. All exported methods are safe for
// concurrent use; per-item like toggles are serialized by an in-flight
// guard, and superseded reloads are discarded by a monotonically
// increasing epoch.
type Engine struct {
	backend  Backend
	viewerID string
	debounce time.Duration
	logger   *zap.Logger

	mu           sync.Mutex
	items        []Item
	offset       int
	hasMore      bool
	loadingMore  bool
	epoch        uint64
	filters      Filters
	pendingTimer *time.Timer
	likeInFlight map[string]bool
	editPhase    EditPhase
	edit         *EditBuffer
}

// NewEngine constructs an engine for one viewer session.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Backend == nil {
		return nil, errMissingBackend
	}
	if cfg.ViewerID == "" {
		return nil, errMissingViewerID
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Engine{
		backend:      cfg.Backend,
		viewerID:     cfg.ViewerID,
		debounce:     debounce,
		logger:       logger,
		filters:      Filters{Sort: SortRecent},
		likeInFlight: make(map[string]bool),
	}, nil
}

// Items returns a snapshot of the merged list.
func (e *Engine) Items() []Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := make([]Item, len(e.items))
	copy(snapshot, e.items)
	return snapshot
}

// HasMore reports whether a further page is assumed to exist.
func (e *Engine) HasMore() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasMore
}

// Filters returns the active filter set.
func (e *Engine) Filters() Filters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filters
}

// Reload performs an immediate first-page load, replacing the merged list.
// Any pending debounced reload is cancelled; a reload superseded before
// its response arrives is discarded by the epoch guard.
func (e *Engine) Reload(ctx context.Context) error {
	e.mu.Lock()
	if e.pendingTimer != nil {
		e.pendingTimer.Stop()
		e.pendingTimer = nil
	}
	e.epoch++
	epoch := e.epoch
	filters := e.filters
	e.mu.Unlock()

	page, err := e.backend.LoadPage(ctx, e.viewerID, 0, filters)
	if err != nil {
		e.logger.Error("feed reload failed", zap.Error(err))
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch {
		// a newer reload superseded this response
		return nil
	}
	e.items = page.Items
	e.offset = len(page.Items)
	e.hasMore = page.HasMore
	e.loadingMore = false
	return nil
}

// SetSort switches the sort mode and reloads immediately; programmatic
// triggers are not debounced.
func (e *Engine) SetSort(ctx context.Context, mode SortMode) error {
	e.mu.Lock()
	e.filters.Sort = mode
	e.mu.Unlock()
	return e.Reload(ctx)
}

// SetSearch updates the free-text filter and schedules a debounced reload.
// The most recent pending timer wins; earlier ones are cancelled.
func (e *Engine) SetSearch(text string) {
	e.mu.Lock()
	e.filters.Search = text
	e.scheduleReloadLocked()
	e.mu.Unlock()
}

// SetModelFilter updates the model-name filter with the same debounce
// semantics as SetSearch.
func (e *Engine) SetModelFilter(text string) {
	e.mu.Lock()
	e.filters.ModelContains = text
	e.scheduleReloadLocked()
	e.mu.Unlock()
}

func (e *Engine) scheduleReloadLocked() {
	if e.pendingTimer != nil {
		e.pendingTimer.Stop()
	}
	e.pendingTimer = time.AfterFunc(e.debounce, func() {
		if err := e.Reload(context.Background()); err != nil {
			e.logger.Error("debounced reload failed", zap.Error(err))
		}
	})
}

// LoadMore requests the next page when one is assumed to exist and no
// load-more is already running; both gates make scroll-driven calls cheap
// to repeat.
func (e *Engine) LoadMore(ctx context.Context) error {
	e.mu.Lock()
	if !e.hasMore || e.loadingMore {
		e.mu.Unlock()
		return nil
	}
	e.loadingMore = true
	epoch := e.epoch
	offset := e.offset
	filters := e.filters
	e.mu.Unlock()

	page, err := e.backend.LoadPage(ctx, e.viewerID, offset, filters)

	e.mu.Lock()
	defer e.mu.Unlock()
	// clear the gate unconditionally so a superseding reload that failed
	// cannot leave pagination stuck
	e.loadingMore = false
	if epoch != e.epoch {
		// a reload replaced the list while this page was in flight
		return nil
	}
	if err != nil {
		e.logger.Error("feed load more failed", zap.Error(err))
		return err
	}
	e.items = append(e.items, page.Items...)
	e.offset += len(page.Items)
	e.hasMore = page.HasMore
	return nil
}

// ToggleLike flips the viewer's like on a loaded item. A toggle already in
// flight for the same item makes the call a no-op. The local like state
// and cached count are adjusted only after the primary row mutation
// succeeds; counter reconciliation and the like notification are handled
// downstream and never roll the flip back.
func (e *Engine) ToggleLike(ctx context.Context, itemID string) error {
	e.mu.Lock()
	if e.likeInFlight[itemID] {
		e.mu.Unlock()
		return nil
	}
	item := e.findItemLocked(itemID)
	if item == nil {
		e.mu.Unlock()
		return ErrUnknownItem
	}
	currentlyLiked := item.LikedByViewer
	ownerID := item.OwnerID
	e.likeInFlight[itemID] = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.likeInFlight, itemID)
		e.mu.Unlock()
	}()

	var err error
	if currentlyLiked {
		err = e.backend.Unlike(ctx, e.viewerID, itemID)
	} else {
		err = e.backend.Like(ctx, e.viewerID, itemID)
	}
	if err != nil {
		e.logger.Error("like toggle failed",
			zap.String("item_id", itemID),
			zap.Bool("was_liked", currentlyLiked),
			zap.Error(err))
		return err
	}

	if !currentlyLiked && ownerID != e.viewerID {
		if notifyErr := e.backend.NotifyLike(ctx, ownerID, e.viewerID, itemID); notifyErr != nil {
			// best effort; never blocks the like
			e.logger.Warn("like notification failed",
				zap.String("item_id", itemID),
				zap.Error(notifyErr))
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if item := e.findItemLocked(itemID); item != nil {
		item.LikedByViewer = !currentlyLiked
		if currentlyLiked {
			if item.LikeCount > 0 {
				item.LikeCount--
			}
		} else {
			item.LikeCount++
		}
	}
	return nil
}

// BeginEdit opens the shared edit buffer for one loaded item, parsing its
// stored body into the two logical fields.
func (e *Engine) BeginEdit(itemID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.editPhase != EditPhaseViewing {
		return ErrEditInProgress
	}
	item := e.findItemLocked(itemID)
	if item == nil {
		return ErrUnknownItem
	}
	reflection, generation := content.SplitBody(item.Body)
	e.edit = &EditBuffer{
		ItemID:     itemID,
		Reflection: reflection,
		Generation: generation,
		Category:   item.Category,
	}
	e.editPhase = EditPhaseEditing
	return nil
}

// UpdateEditBuffer applies new field values to the open buffer. A value
// over the word cap is not applied: the buffer keeps its previous content,
// silently refusing the extra input.
func (e *Engine) UpdateEditBuffer(reflection, generation string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.editPhase != EditPhaseEditing {
		return ErrNoActiveEdit
	}
	if content.WithinWordLimit(reflection) {
		e.edit.Reflection = reflection
	}
	if content.WithinWordLimit(generation) {
		e.edit.Generation = generation
	}
	return nil
}

// SetEditCategory updates the buffered category label.
func (e *Engine) SetEditCategory(category string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.editPhase != EditPhaseEditing {
		return ErrNoActiveEdit
	}
	e.edit.Category = category
	return nil
}

// EditState returns the current phase and a copy of the open buffer, if
// any.
func (e *Engine) EditState() (EditPhase, *EditBuffer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.edit == nil {
		return e.editPhase, nil
	}
	buffer := *e.edit
	return e.editPhase, &buffer
}

// SaveEdit recombines the buffered fields into the stored body form and
// persists it. The local item is updated only on success; on failure the
// buffer stays open in Editing and the error surfaces to the caller.
func (e *Engine) SaveEdit(ctx context.Context) error {
	e.mu.Lock()
	if e.editPhase != EditPhaseEditing {
		e.mu.Unlock()
		return ErrNoActiveEdit
	}
	buffer := *e.edit
	e.editPhase = EditPhaseSaving
	e.mu.Unlock()

	body := content.CombineBody(buffer.Reflection, buffer.Generation)
	err := e.backend.UpdateItem(ctx, e.viewerID, buffer.ItemID, body, buffer.Category)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.editPhase = EditPhaseEditing
		e.logger.Error("edit save failed",
			zap.String("item_id", buffer.ItemID),
			zap.Error(err))
		return err
	}
	if item := e.findItemLocked(buffer.ItemID); item != nil {
		item.Body = body
		item.Category = buffer.Category
	}
	e.edit = nil
	e.editPhase = EditPhaseViewing
	return nil
}

// CancelEdit discards the open buffer and returns to Viewing.
func (e *Engine) CancelEdit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.editPhase != EditPhaseEditing {
		return ErrNoActiveEdit
	}
	e.edit = nil
	e.editPhase = EditPhaseViewing
	return nil
}

// AddComment persists a comment and appends it to the loaded item. The
// comment notification is best effort.
func (e *Engine) AddComment(ctx context.Context, itemID, body string) (engagement.Comment, error) {
	e.mu.Lock()
	item := e.findItemLocked(itemID)
	if item == nil {
		e.mu.Unlock()
		return engagement.Comment{}, ErrUnknownItem
	}
	ownerID := item.OwnerID
	e.mu.Unlock()

	comment, err := e.backend.AddComment(ctx, e.viewerID, itemID, body)
	if err != nil {
		e.logger.Error("comment failed", zap.String("item_id", itemID), zap.Error(err))
		return engagement.Comment{}, err
	}

	if ownerID != e.viewerID {
		if notifyErr := e.backend.NotifyComment(ctx, ownerID, e.viewerID, itemID); notifyErr != nil {
			e.logger.Warn("comment notification failed",
				zap.String("item_id", itemID),
				zap.Error(notifyErr))
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if item := e.findItemLocked(itemID); item != nil {
		item.Comments = append(item.Comments, comment)
	}
	return comment, nil
}

func (e *Engine) findItemLocked(itemID string) *Item {
	for i := range e.items {
		if e.items[i].ItemID == itemID {
			return &e.items[i]
		}
	}
	return nil
}
