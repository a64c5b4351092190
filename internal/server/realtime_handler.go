package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pinprompt/backend/internal/messages"
	"github.com/pinprompt/backend/internal/notifications"
	"github.com/pinprompt/backend/internal/realtime"
)

const realtimeHeartbeatInterval = 25 * time.Second

type realtimeEventPayload struct {
	Table     string `json:"table"`
	Action    string `json:"action"`
	RowID     string `json:"row_id"`
	Timestamp int64  `json:"timestamp_s"`
}

// badgeRecounter re-derives the unread counters from the message and
// notification stores for the recount watcher.
type badgeRecounter struct {
	messages      *messages.Service
	notifications *notifications.Service
}

func (r badgeRecounter) Recount(ctx context.Context, userID string) (realtime.Counts, error) {
	var counts realtime.Counts
	if r.messages != nil {
		count, err := r.messages.UnreadCount(ctx, userID)
		if err != nil {
			return realtime.Counts{}, err
		}
		counts.UnreadMessages = count
	}
	if r.notifications != nil {
		count, err := r.notifications.UnreadCount(ctx, userID)
		if err != nil {
			return realtime.Counts{}, err
		}
		counts.UnreadNotifications = count
	}
	return counts, nil
}

// handleRealtime streams the viewer's change feed as server-sent events.
// A recount watcher rides the same feed and pushes refreshed badge counts
// after each debounced burst of message or notification changes. Delivery
// is best effort; a slow client misses events rather than blocking the
// publishers.
func (h *httpHandler) handleRealtime(c *gin.Context) {
	if h.dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable"})
		return
	}

	ctx := c.Request.Context()
	viewerID := h.viewerID(c)
	events, cancel := h.dispatcher.Subscribe(ctx, viewerID)
	defer cancel()

	badgeUpdates := make(chan realtime.Counts, 1)
	if h.messages != nil || h.notifications != nil {
		watcher := realtime.NewRecountWatcher(realtime.RecountWatcherConfig{
			Dispatcher: h.dispatcher,
			Recounter:  badgeRecounter{messages: h.messages, notifications: h.notifications},
			OnCounts: func(_ string, counts realtime.Counts) {
				// keep only the newest counts when the stream lags
				select {
				case <-badgeUpdates:
				default:
				}
				select {
				case badgeUpdates <- counts:
				default:
				}
			},
			Logger: h.logger,
		})
		go watcher.Watch(ctx, viewerID)
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	heartbeat := time.NewTicker(realtimeHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"timestamp_s": time.Now().Unix()})
			c.Writer.Flush()
		case counts := <-badgeUpdates:
			c.SSEvent("badges", gin.H{
				"unread_messages":      counts.UnreadMessages,
				"unread_notifications": counts.UnreadNotifications,
			})
			c.Writer.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent("change", realtimeEventPayload{
				Table:     event.Table,
				Action:    string(event.Action),
				RowID:     event.RowID,
				Timestamp: event.Timestamp.Unix(),
			})
			c.Writer.Flush()
		}
	}
}
