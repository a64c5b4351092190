package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pinprompt/backend/internal/messages"
	"github.com/pinprompt/backend/internal/social"
	"go.uber.org/zap"
)

type messagePayload struct {
	MessageID        string `json:"message_id"`
	SenderID         string `json:"sender_id"`
	ReceiverID       string `json:"receiver_id"`
	Body             string `json:"body"`
	IsRead           bool   `json:"is_read"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func toMessagePayload(message messages.Message) messagePayload {
	return messagePayload{
		MessageID:        message.MessageID,
		SenderID:         message.SenderID,
		ReceiverID:       message.ReceiverID,
		Body:             message.Body,
		IsRead:           message.IsRead,
		CreatedAtSeconds: message.CreatedAtSeconds,
	}
}

func (h *httpHandler) handleFollow(c *gin.Context) {
	if h.social == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable"})
		return
	}
	err := h.social.Follow(c.Request.Context(), h.viewerID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, social.ErrSelfFollow) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "self_follow"})
			return
		}
		h.logger.Error("follow failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "follow_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUnfollow(c *gin.Context) {
	if h.social == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable"})
		return
	}
	if err := h.social.Unfollow(c.Request.Context(), h.viewerID(c), c.Param("id")); err != nil {
		h.logger.Error("unfollow failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unfollow_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// handleListMessages serves either one conversation (?with=<profile>) or
// the viewer's conversation summaries.
func (h *httpHandler) handleListMessages(c *gin.Context) {
	if h.messages == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable"})
		return
	}
	viewerID := h.viewerID(c)

	if otherID := c.Query("with"); otherID != "" {
		conversation, err := h.messages.ListConversation(c.Request.Context(), viewerID, otherID)
		if err != nil {
			h.logger.Error("conversation load failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "messages_failed"})
			return
		}
		payload := make([]messagePayload, 0, len(conversation))
		for _, message := range conversation {
			payload = append(payload, toMessagePayload(message))
		}
		c.JSON(http.StatusOK, gin.H{"messages": payload})
		return
	}

	summaries, err := h.messages.ListConversationSummaries(c.Request.Context(), viewerID)
	if err != nil {
		h.logger.Error("conversation summary load failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "messages_failed"})
		return
	}
	payload := make([]gin.H, 0, len(summaries))
	for _, summary := range summaries {
		payload = append(payload, gin.H{
			"partner_id":   summary.PartnerID,
			"last_message": toMessagePayload(summary.LastMessage),
			"unread_count": summary.UnreadCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"conversations": payload})
}

type sendMessagePayload struct {
	ReceiverID string `json:"receiver_id"`
	Body       string `json:"body"`
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	if h.messages == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable"})
		return
	}
	var request sendMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	message, err := h.messages.Send(c.Request.Context(), h.viewerID(c), request.ReceiverID, request.Body)
	if err != nil {
		if errors.Is(err, messages.ErrEmptyBody) || errors.Is(err, messages.ErrSelfMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		h.logger.Error("message send failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "send_failed"})
		return
	}
	c.JSON(http.StatusCreated, toMessagePayload(message))
}

func (h *httpHandler) handleMarkConversationRead(c *gin.Context) {
	if h.messages == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable"})
		return
	}
	err := h.messages.MarkConversationRead(c.Request.Context(), h.viewerID(c), c.Param("sender"))
	if err != nil {
		h.logger.Error("conversation mark-read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mark_read_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type notificationPayload struct {
	NotificationID   string `json:"notification_id"`
	Kind             string `json:"kind"`
	Title            string `json:"title"`
	Body             string `json:"body,omitempty"`
	RelatedID        string `json:"related_id,omitempty"`
	IsRead           bool   `json:"is_read"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	if h.notifications == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable"})
		return
	}
	rows, err := h.notifications.List(c.Request.Context(), h.viewerID(c))
	if err != nil {
		h.logger.Error("notification listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "notifications_failed"})
		return
	}
	payload := make([]notificationPayload, 0, len(rows))
	for _, row := range rows {
		payload = append(payload, notificationPayload{
			NotificationID:   row.NotificationID,
			Kind:             row.Kind,
			Title:            row.Title,
			Body:             row.Body,
			RelatedID:        row.RelatedID,
			IsRead:           row.IsRead,
			CreatedAtSeconds: row.CreatedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"notifications": payload})
}

type markNotificationsPayload struct {
	NotificationIDs []string `json:"notification_ids"`
}

func (h *httpHandler) handleMarkNotificationsRead(c *gin.Context) {
	if h.notifications == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable"})
		return
	}
	var request markNotificationsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.notifications.MarkRead(c.Request.Context(), h.viewerID(c), request.NotificationIDs)
	if err != nil {
		h.logger.Error("notification mark-read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mark_read_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// handleBadges re-derives the unread counters from storage. The counts are
// never maintained incrementally.
func (h *httpHandler) handleBadges(c *gin.Context) {
	viewerID := h.viewerID(c)
	response := gin.H{"unread_messages": 0, "unread_notifications": 0}
	if h.messages != nil {
		count, err := h.messages.UnreadCount(c.Request.Context(), viewerID)
		if err != nil {
			h.logger.Error("unread message recount failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "badges_failed"})
			return
		}
		response["unread_messages"] = count
	}
	if h.notifications != nil {
		count, err := h.notifications.UnreadCount(c.Request.Context(), viewerID)
		if err != nil {
			h.logger.Error("unread notification recount failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "badges_failed"})
			return
		}
		response["unread_notifications"] = count
	}
	c.JSON(http.StatusOK, response)
}
