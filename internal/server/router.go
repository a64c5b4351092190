package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pinprompt/backend/internal/feed"
	"github.com/pinprompt/backend/internal/messages"
	"github.com/pinprompt/backend/internal/notifications"
	"github.com/pinprompt/backend/internal/profiles"
	"github.com/pinprompt/backend/internal/realtime"
	"github.com/pinprompt/backend/internal/social"
	"go.uber.org/zap"
)

const viewerIDContextKey = "pinprompt_viewer_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingProfiles      = errors.New("profiles service dependency required")
	errMissingFeed          = errors.New("feed service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// SessionTokenManager issues and validates session tokens.
type SessionTokenManager interface {
	IssueSessionToken(ctx context.Context, profileID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// MediaStore uploads media objects and issues public URLs.
type MediaStore interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	PublicURL(key string) string
}

// Dependencies wires the HTTP surface. Media may be nil; uploads are then
// unavailable.
type Dependencies struct {
	TokenManager  SessionTokenManager
	Profiles      *profiles.Service
	Feed          *feed.Service
	Social        *social.Service
	Messages      *messages.Service
	Notifications *notifications.Service
	Dispatcher    *realtime.Dispatcher
	Media         MediaStore
	Logger        *zap.Logger
}

// NewHTTPHandler builds the gin router for the PinPrompt API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Profiles == nil {
		return nil, errMissingProfiles
	}
	if deps.Feed == nil {
		return nil, errMissingFeed
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:        deps.TokenManager,
		profiles:      deps.Profiles,
		feed:          deps.Feed,
		social:        deps.Social,
		messages:      deps.Messages,
		notifications: deps.Notifications,
		dispatcher:    deps.Dispatcher,
		media:         deps.Media,
		logger:        logger,
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/session", handler.handleSession)
	protected.GET("/feed", handler.handleFeed)
	protected.POST("/items", handler.handleCreateItem)
	protected.PATCH("/items/:id", handler.handleEditItem)
	protected.DELETE("/items/:id", handler.handleDeleteItem)
	protected.POST("/items/:id/like", handler.handleLike)
	protected.DELETE("/items/:id/like", handler.handleUnlike)
	protected.GET("/items/:id/comments", handler.handleListComments)
	protected.POST("/items/:id/comments", handler.handleAddComment)
	protected.GET("/profiles/:id", handler.handleGetProfile)
	protected.POST("/profiles/:id/follow", handler.handleFollow)
	protected.DELETE("/profiles/:id/follow", handler.handleUnfollow)
	protected.PATCH("/profile", handler.handleUpdateProfile)
	protected.GET("/messages", handler.handleListMessages)
	protected.POST("/messages", handler.handleSendMessage)
	protected.POST("/messages/:sender/read", handler.handleMarkConversationRead)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.POST("/notifications/read", handler.handleMarkNotificationsRead)
	protected.GET("/badges", handler.handleBadges)
	protected.POST("/uploads", handler.handleUpload)
	protected.GET("/realtime", handler.handleRealtime)

	return router, nil
}

type httpHandler struct {
	tokens        SessionTokenManager
	profiles      *profiles.Service
	feed          *feed.Service
	social        *social.Service
	messages      *messages.Service
	notifications *notifications.Service
	dispatcher    *realtime.Dispatcher
	media         MediaStore
	logger        *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(viewerIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) viewerID(c *gin.Context) string {
	return c.GetString(viewerIDContextKey)
}

type authRequestPayload struct {
	Handle   string `json:"handle"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponsePayload struct {
	AccessToken string         `json:"access_token"`
	ExpiresIn   int64          `json:"expires_in"`
	TokenType   string         `json:"token_type"`
	Profile     profilePayload `json:"profile"`
}

type profilePayload struct {
	ProfileID        string `json:"profile_id"`
	Handle           string `json:"handle"`
	AvatarPath       string `json:"avatar_path,omitempty"`
	Bio              string `json:"bio,omitempty"`
	FollowerCount    int64  `json:"follower_count"`
	FollowingCount   int64  `json:"following_count"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func toProfilePayload(profile profiles.Profile) profilePayload {
	return profilePayload{
		ProfileID:        profile.ProfileID,
		Handle:           profile.Handle,
		AvatarPath:       profile.AvatarPath,
		Bio:              profile.Bio,
		FollowerCount:    profile.FollowerCount,
		FollowingCount:   profile.FollowingCount,
		CreatedAtSeconds: profile.CreatedAtSeconds,
	}
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	profile, err := h.profiles.Register(c.Request.Context(), profiles.RegisterInput{
		Handle:   request.Handle,
		Email:    request.Email,
		Password: request.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, profiles.ErrHandleTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "handle_taken"})
		case errors.Is(err, profiles.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		case errors.Is(err, profiles.ErrInvalidHandle), errors.Is(err, profiles.ErrInvalidCredentials):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		default:
			h.logger.Error("registration failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		}
		return
	}

	h.respondWithToken(c, profile)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	profile, err := h.profiles.Login(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		if errors.Is(err, profiles.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	h.respondWithToken(c, profile)
}

func (h *httpHandler) respondWithToken(c *gin.Context, profile profiles.Profile) {
	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), profile.ProfileID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		Profile:     toProfilePayload(profile),
	})
}

func (h *httpHandler) handleSession(c *gin.Context) {
	profile, err := h.profiles.ResolveSession(c.Request.Context(), h.viewerID(c))
	if err != nil {
		if errors.Is(err, profiles.ErrUnauthenticated) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("session resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_failed"})
		return
	}
	c.JSON(http.StatusOK, toProfilePayload(profile))
}

type profileUpdatePayload struct {
	Bio        *string `json:"bio"`
	AvatarPath *string `json:"avatar_path"`
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	var request profileUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	profile, err := h.profiles.UpdateProfile(c.Request.Context(), h.viewerID(c), profiles.ProfileUpdate{
		Bio:        request.Bio,
		AvatarPath: request.AvatarPath,
	})
	if err != nil {
		h.logger.Error("profile update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_update_failed"})
		return
	}
	c.JSON(http.StatusOK, toProfilePayload(profile))
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	profile, err := h.profiles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	response := gin.H{"profile": toProfilePayload(profile)}
	if h.social != nil {
		following, err := h.social.IsFollowing(c.Request.Context(), h.viewerID(c), profile.ProfileID)
		if err == nil {
			response["is_following"] = following
		}
	}
	c.JSON(http.StatusOK, response)
}
