package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultRecountDebounce = 200 * time.Millisecond

// Counts carries the badge numbers re-derived from the source-of-truth
// tables on every change-feed event.
type Counts struct {
	UnreadMessages      int64
	UnreadNotifications int64
}

// Recounter re-derives unread counts from storage. No incremental counter
// arithmetic is performed; every recount starts from the row sets.
type Recounter interface {
	Recount(ctx context.Context, userID string) (Counts, error)
}

// RecountWatcherConfig describes the watcher dependencies.
type RecountWatcherConfig struct {
	Dispatcher *Dispatcher
	Recounter  Recounter
	OnCounts   func(userID string, counts Counts)
	Debounce   time.Duration
	Logger     *zap.Logger
}

// RecountWatcher subscribes to a user's change feed and re-derives unread
// counts after each event burst. Bursts are debounced so a flurry of
// inserts triggers a single round trip.
type RecountWatcher struct {
	dispatcher *Dispatcher
	recounter  Recounter
	onCounts   func(userID string, counts Counts)
	debounce   time.Duration
	logger     *zap.Logger
}

// NewRecountWatcher constructs a watcher; nil logger falls back to a nop.
func NewRecountWatcher(cfg RecountWatcherConfig) *RecountWatcher {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultRecountDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecountWatcher{
		dispatcher: cfg.Dispatcher,
		recounter:  cfg.Recounter,
		onCounts:   cfg.OnCounts,
		debounce:   debounce,
		logger:     logger,
	}
}

// Watch blocks until ctx is cancelled, recounting after each debounced
// burst of message/notification events. Recount failures are logged only;
// they never surface to the user.
func (w *RecountWatcher) Watch(ctx context.Context, userID string) {
	events, cancel := w.dispatcher.Subscribe(ctx, userID)
	defer cancel()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Table != "messages" && event.Table != "notifications" {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			counts, err := w.recounter.Recount(ctx, userID)
			if err != nil {
				w.logger.Warn("unread recount failed",
					zap.String("user_id", userID),
					zap.Error(err))
				continue
			}
			if w.onCounts != nil {
				w.onCounts(userID, counts)
			}
		}
	}
}
