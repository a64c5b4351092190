package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pinprompt/backend/internal/content"
	"github.com/pinprompt/backend/internal/engagement"
	"github.com/pinprompt/backend/internal/feed"
	"go.uber.org/zap"
)

type feedItemPayload struct {
	ItemID           string           `json:"item_id"`
	OwnerID          string           `json:"owner_id"`
	Reflection       string           `json:"reflection"`
	Generation       string           `json:"generation"`
	OutputRef        string           `json:"output_ref,omitempty"`
	OutputKind       string           `json:"output_kind"`
	ModelLabel       string           `json:"model_label,omitempty"`
	Category         string           `json:"category,omitempty"`
	LikeCount        int64            `json:"like_count"`
	LikedByViewer    bool             `json:"liked_by_viewer"`
	CreatedAtSeconds int64            `json:"created_at_s"`
	Comments         []commentPayload `json:"comments,omitempty"`
}

type commentPayload struct {
	CommentID        string `json:"comment_id"`
	AuthorID         string `json:"author_id"`
	Body             string `json:"body"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func toCommentPayload(comment engagement.Comment) commentPayload {
	return commentPayload{
		CommentID:        comment.CommentID,
		AuthorID:         comment.AuthorID,
		Body:             comment.Body,
		CreatedAtSeconds: comment.CreatedAtSeconds,
	}
}

func toFeedItemPayload(item feed.Item) feedItemPayload {
	reflection, generation := content.SplitBody(item.Body)
	payload := feedItemPayload{
		ItemID:           item.ItemID,
		OwnerID:          item.OwnerID,
		Reflection:       reflection,
		Generation:       generation,
		OutputRef:        item.OutputRef,
		OutputKind:       item.OutputKind,
		ModelLabel:       item.ModelLabel,
		Category:         item.Category,
		LikeCount:        item.LikeCount,
		LikedByViewer:    item.LikedByViewer,
		CreatedAtSeconds: item.CreatedAtSeconds,
	}
	for _, comment := range item.Comments {
		payload.Comments = append(payload.Comments, toCommentPayload(comment))
	}
	return payload
}

func (h *httpHandler) handleFeed(c *gin.Context) {
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_offset"})
		return
	}

	filters := feed.Filters{
		Search:        c.Query("search"),
		ModelContains: c.Query("model"),
		Sort:          feed.SortMode(c.DefaultQuery("sort", string(feed.SortRecent))),
	}
	switch filters.Sort {
	case feed.SortRecent, feed.SortTrending, feed.SortFollowing:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_sort"})
		return
	}

	page, err := h.feed.LoadPage(c.Request.Context(), h.viewerID(c), offset, filters)
	if err != nil {
		h.logger.Error("feed page load failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "feed_failed"})
		return
	}

	items := make([]feedItemPayload, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, toFeedItemPayload(item))
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "has_more": page.HasMore})
}

type createItemPayload struct {
	Reflection string `json:"reflection"`
	Generation string `json:"generation"`
	OutputRef  string `json:"output_ref"`
	OutputKind string `json:"output_kind"`
	ModelLabel string `json:"model_label"`
	Category   string `json:"category"`
}

func (h *httpHandler) handleCreateItem(c *gin.Context) {
	var request createItemPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	item, err := h.feed.CreateItem(c.Request.Context(), feed.CreateItemInput{
		OwnerID:    h.viewerID(c),
		Reflection: request.Reflection,
		Generation: request.Generation,
		OutputRef:  request.OutputRef,
		OutputKind: request.OutputKind,
		ModelLabel: request.ModelLabel,
		Category:   request.Category,
	})
	if err != nil {
		switch {
		case errors.Is(err, feed.ErrEmptyGeneration),
			errors.Is(err, content.ErrInvalidOutputKind),
			errors.Is(err, content.ErrInvalidCategory):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		default:
			h.logger.Error("item creation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, toFeedItemPayload(feed.Item{ContentItem: item}))
}

type editItemPayload struct {
	Reflection string `json:"reflection"`
	Generation string `json:"generation"`
	Category   string `json:"category"`
}

func (h *httpHandler) handleEditItem(c *gin.Context) {
	var request editItemPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.Generation == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := content.ValidateCategory(request.Category); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	body := content.CombineBody(request.Reflection, request.Generation)
	err := h.feed.UpdateItem(c.Request.Context(), h.viewerID(c), c.Param("id"), body, request.Category)
	if err != nil {
		h.respondItemMutationError(c, err, "edit_failed")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteItem(c *gin.Context) {
	err := h.feed.DeleteItem(c.Request.Context(), h.viewerID(c), c.Param("id"))
	if err != nil {
		h.respondItemMutationError(c, err, "delete_failed")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) respondItemMutationError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, feed.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, feed.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_owner"})
	default:
		h.logger.Error("item mutation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func (h *httpHandler) handleLike(c *gin.Context) {
	viewerID := h.viewerID(c)
	itemID := c.Param("id")

	item, err := h.feed.GetItem(c.Request.Context(), itemID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	if err := h.feed.Like(c.Request.Context(), viewerID, itemID); err != nil {
		h.logger.Error("like failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "like_failed"})
		return
	}

	// Notification failures never surface; the like already stuck.
	if item.OwnerID != viewerID {
		if err := h.feed.NotifyLike(c.Request.Context(), item.OwnerID, viewerID, itemID); err != nil {
			h.logger.Warn("like notification failed", zap.Error(err))
		}
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUnlike(c *gin.Context) {
	if err := h.feed.Unlike(c.Request.Context(), h.viewerID(c), c.Param("id")); err != nil {
		h.logger.Error("unlike failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unlike_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	comments, err := h.feed.ListComments(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("comment listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "comments_failed"})
		return
	}
	payload := make([]commentPayload, 0, len(comments))
	for _, comment := range comments {
		payload = append(payload, toCommentPayload(comment))
	}
	c.JSON(http.StatusOK, gin.H{"comments": payload})
}

type addCommentPayload struct {
	Body string `json:"body"`
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	var request addCommentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	viewerID := h.viewerID(c)
	itemID := c.Param("id")

	item, err := h.feed.GetItem(c.Request.Context(), itemID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	comment, err := h.feed.AddComment(c.Request.Context(), viewerID, itemID, request.Body)
	if err != nil {
		if errors.Is(err, engagement.ErrEmptyComment) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		h.logger.Error("comment creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "comment_failed"})
		return
	}

	if item.OwnerID != viewerID {
		if err := h.feed.NotifyComment(c.Request.Context(), item.OwnerID, viewerID, itemID); err != nil {
			h.logger.Warn("comment notification failed", zap.Error(err))
		}
	}
	c.JSON(http.StatusCreated, toCommentPayload(comment))
}
