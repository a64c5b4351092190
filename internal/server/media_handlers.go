package server

import (
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pinprompt/backend/internal/storage"
	"go.uber.org/zap"
)

const maxUploadBytes = 32 << 20

// handleUpload stores one multipart media file and returns the object key
// plus its public URL. Uploads only cover image/video/audio payloads; text
// output lives in the item body.
func (h *httpHandler) handleUpload(c *gin.Context) {
	if h.media == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads_disabled"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if !allowedUploadType(contentType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_media_type"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	defer file.Close()

	key := storage.NewObjectKey(h.viewerID(c))
	if extension := path.Ext(fileHeader.Filename); extension != "" {
		key += strings.ToLower(extension)
	}

	storedKey, err := h.media.Upload(c.Request.Context(), key, file, contentType)
	if err != nil {
		h.logger.Error("media upload failed", zap.Error(err), zap.String("key", key))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"key": storedKey, "url": h.media.PublicURL(storedKey)})
}

func allowedUploadType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/") ||
		strings.HasPrefix(contentType, "video/") ||
		strings.HasPrefix(contentType, "audio/")
}
