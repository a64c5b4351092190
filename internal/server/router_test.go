package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/pinprompt/backend/internal/auth"
	"github.com/pinprompt/backend/internal/content"
	"github.com/pinprompt/backend/internal/engagement"
	"github.com/pinprompt/backend/internal/feed"
	"github.com/pinprompt/backend/internal/messages"
	"github.com/pinprompt/backend/internal/notifications"
	"github.com/pinprompt/backend/internal/profiles"
	"github.com/pinprompt/backend/internal/realtime"
	"github.com/pinprompt/backend/internal/social"
	"gorm.io/gorm"
)

type sequenceIDGenerator struct {
	next int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("id-%d", g.next), nil
}

type fakeMediaStore struct {
	uploadedKeys []string
}

func (f *fakeMediaStore) Upload(_ context.Context, key string, _ io.Reader, _ string) (string, error) {
	f.uploadedKeys = append(f.uploadedKeys, key)
	return key, nil
}

func (f *fakeMediaStore) PublicURL(key string) string {
	return "https://cdn.example.com/media/" + key
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	return newTestHandlerWithMedia(t, nil)
}

func newTestHandlerWithMedia(t *testing.T, media MediaStore) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&profiles.Profile{},
		&content.ContentItem{},
		&engagement.Like{},
		&engagement.Comment{},
		&social.FollowEdge{},
		&messages.Message{},
		&notifications.Notification{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	idProvider := &sequenceIDGenerator{}
	dispatcher := realtime.NewDispatcher()

	profileService, err := profiles.NewService(profiles.ServiceConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		t.Fatalf("failed to construct profiles service: %v", err)
	}
	notificationService, err := notifications.NewService(notifications.ServiceConfig{Database: db, IDProvider: idProvider, Dispatcher: dispatcher})
	if err != nil {
		t.Fatalf("failed to construct notifications service: %v", err)
	}
	engagementService, err := engagement.NewService(engagement.ServiceConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		t.Fatalf("failed to construct engagement service: %v", err)
	}
	feedService, err := feed.NewService(feed.ServiceConfig{
		Database:      db,
		Engagement:    engagementService,
		Notifications: notificationService,
		Profiles:      profileService,
		IDProvider:    idProvider,
	})
	if err != nil {
		t.Fatalf("failed to construct feed service: %v", err)
	}
	socialService, err := social.NewService(social.ServiceConfig{
		Database:      db,
		Profiles:      profileService,
		Notifications: notificationService,
	})
	if err != nil {
		t.Fatalf("failed to construct social service: %v", err)
	}
	messageService, err := messages.NewService(messages.ServiceConfig{
		Database:      db,
		IDProvider:    idProvider,
		Dispatcher:    dispatcher,
		Notifications: notificationService,
	})
	if err != nil {
		t.Fatalf("failed to construct message service: %v", err)
	}

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "pinprompt-auth",
		Audience:      "pinprompt-api",
		TokenTTL:      time.Hour,
	})

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:  tokenManager,
		Profiles:      profileService,
		Feed:          feedService,
		Social:        socialService,
		Messages:      messageService,
		Notifications: notificationService,
		Dispatcher:    dispatcher,
		Media:         media,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return handler
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
		body = bytes.NewBuffer(encoded)
	} else {
		body = bytes.NewBuffer(nil)
	}
	request := httptest.NewRequest(method, path, body)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func registerUser(t *testing.T, handler http.Handler, handle string) (string, string) {
	t.Helper()
	recorder := doJSON(t, handler, http.MethodPost, "/auth/register", "", map[string]string{
		"handle":   handle,
		"email":    handle + "@example.com",
		"password": "hunter2hunter2",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("registration failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	var response struct {
		AccessToken string `json:"access_token"`
		Profile     struct {
			ProfileID string `json:"profile_id"`
		} `json:"profile"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode auth response: %v", err)
	}
	if response.AccessToken == "" {
		t.Fatalf("expected access token in response")
	}
	return response.AccessToken, response.Profile.ProfileID
}

func TestProtectedRoutesRejectMissingOrInvalidToken(t *testing.T) {
	handler := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodGet, "/feed", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/feed", "not-a-jwt", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", recorder.Code)
	}
}

func TestRegisterLoginAndSessionFlow(t *testing.T) {
	handler := newTestHandler(t)
	token, profileID := registerUser(t, handler, "alice")

	recorder := doJSON(t, handler, http.MethodGet, "/session", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("session lookup failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	var session profilePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &session); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	if session.ProfileID != profileID || session.Handle != "alice" {
		t.Fatalf("unexpected session payload %#v", session)
	}

	recorder = doJSON(t, handler, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter2hunter2",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("login failed with %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(t, handler, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", recorder.Code)
	}
}

func TestRegisterRejectsDuplicateHandleWithConflict(t *testing.T) {
	handler := newTestHandler(t)
	registerUser(t, handler, "alice")

	recorder := doJSON(t, handler, http.MethodPost, "/auth/register", "", map[string]string{
		"handle":   "alice",
		"email":    "second@example.com",
		"password": "hunter2hunter2",
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate handle, got %d", recorder.Code)
	}
}

func TestItemLifecycleOverHTTP(t *testing.T) {
	handler := newTestHandler(t)
	token, _ := registerUser(t, handler, "alice")

	recorder := doJSON(t, handler, http.MethodPost, "/items", token, map[string]string{
		"reflection":  "what I was going for",
		"generation":  "paint a quiet harbor at dawn",
		"output_kind": "image",
		"model_label": "DreamForge XL",
		"category":    "Art",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("item creation failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	var created feedItemPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode item: %v", err)
	}
	if created.Reflection != "what I was going for" || created.Generation != "paint a quiet harbor at dawn" {
		t.Fatalf("expected split fields in response, got %#v", created)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/feed", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("feed load failed with %d", recorder.Code)
	}
	var page struct {
		Items   []feedItemPayload `json:"items"`
		HasMore bool              `json:"has_more"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to decode feed: %v", err)
	}
	if len(page.Items) != 1 || page.HasMore {
		t.Fatalf("unexpected feed page %#v", page)
	}

	recorder = doJSON(t, handler, http.MethodPatch, "/items/"+created.ItemID, token, map[string]string{
		"reflection": "second thoughts",
		"generation": "paint a stormy harbor",
		"category":   "Art",
	})
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("item edit failed with %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(t, handler, http.MethodDelete, "/items/"+created.ItemID, token, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("item delete failed with %d", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodDelete, "/items/"+created.ItemID, token, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for deleted item, got %d", recorder.Code)
	}
}

func TestEditingAnotherUsersItemIsForbidden(t *testing.T) {
	handler := newTestHandler(t)
	ownerToken, _ := registerUser(t, handler, "alice")
	intruderToken, _ := registerUser(t, handler, "mallory")

	recorder := doJSON(t, handler, http.MethodPost, "/items", ownerToken, map[string]string{
		"generation":  "a haiku about rain",
		"output_kind": "text",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("item creation failed with %d", recorder.Code)
	}
	var created feedItemPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode item: %v", err)
	}

	recorder = doJSON(t, handler, http.MethodPatch, "/items/"+created.ItemID, intruderToken, map[string]string{
		"generation": "defaced",
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign edit, got %d", recorder.Code)
	}
}

func TestLikeFlowUpdatesCountAndNotifiesOwner(t *testing.T) {
	handler := newTestHandler(t)
	ownerToken, _ := registerUser(t, handler, "alice")
	viewerToken, _ := registerUser(t, handler, "bob")

	recorder := doJSON(t, handler, http.MethodPost, "/items", ownerToken, map[string]string{
		"generation":  "a haiku about rain",
		"output_kind": "text",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("item creation failed with %d", recorder.Code)
	}
	var created feedItemPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode item: %v", err)
	}

	recorder = doJSON(t, handler, http.MethodPost, "/items/"+created.ItemID+"/like", viewerToken, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("like failed with %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(t, handler, http.MethodGet, "/feed", viewerToken, nil)
	var page struct {
		Items []feedItemPayload `json:"items"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to decode feed: %v", err)
	}
	if page.Items[0].LikeCount != 1 || !page.Items[0].LikedByViewer {
		t.Fatalf("expected liked item with count 1, got %#v", page.Items[0])
	}

	recorder = doJSON(t, handler, http.MethodGet, "/notifications", ownerToken, nil)
	var notificationsResponse struct {
		Notifications []notificationPayload `json:"notifications"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &notificationsResponse); err != nil {
		t.Fatalf("failed to decode notifications: %v", err)
	}
	if len(notificationsResponse.Notifications) != 1 {
		t.Fatalf("expected one like notification, got %d", len(notificationsResponse.Notifications))
	}
	if notificationsResponse.Notifications[0].Body != "@bob liked your post" {
		t.Fatalf("unexpected notification body %q", notificationsResponse.Notifications[0].Body)
	}

	recorder = doJSON(t, handler, http.MethodDelete, "/items/"+created.ItemID+"/like", viewerToken, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("unlike failed with %d", recorder.Code)
	}
}

func TestCommentFlowOverHTTP(t *testing.T) {
	handler := newTestHandler(t)
	ownerToken, _ := registerUser(t, handler, "alice")
	viewerToken, _ := registerUser(t, handler, "bob")

	recorder := doJSON(t, handler, http.MethodPost, "/items", ownerToken, map[string]string{
		"generation":  "a haiku about rain",
		"output_kind": "text",
	})
	var created feedItemPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode item: %v", err)
	}

	recorder = doJSON(t, handler, http.MethodPost, "/items/"+created.ItemID+"/comments", viewerToken, map[string]string{
		"body": "lovely cadence",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("comment failed with %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(t, handler, http.MethodGet, "/items/"+created.ItemID+"/comments", ownerToken, nil)
	var commentsResponse struct {
		Comments []commentPayload `json:"comments"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &commentsResponse); err != nil {
		t.Fatalf("failed to decode comments: %v", err)
	}
	if len(commentsResponse.Comments) != 1 || commentsResponse.Comments[0].Body != "lovely cadence" {
		t.Fatalf("unexpected comments %#v", commentsResponse.Comments)
	}

	recorder = doJSON(t, handler, http.MethodPost, "/items/"+created.ItemID+"/comments", viewerToken, map[string]string{
		"body": "   ",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank comment, got %d", recorder.Code)
	}
}

func TestFollowFlowOverHTTP(t *testing.T) {
	handler := newTestHandler(t)
	aliceToken, aliceID := registerUser(t, handler, "alice")
	_, bobID := registerUser(t, handler, "bob")

	recorder := doJSON(t, handler, http.MethodPost, "/profiles/"+bobID+"/follow", aliceToken, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("follow failed with %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(t, handler, http.MethodPost, "/profiles/"+aliceID+"/follow", aliceToken, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for self-follow, got %d", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/profiles/"+bobID, aliceToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("profile lookup failed with %d", recorder.Code)
	}
	var profileResponse struct {
		Profile     profilePayload `json:"profile"`
		IsFollowing bool           `json:"is_following"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &profileResponse); err != nil {
		t.Fatalf("failed to decode profile: %v", err)
	}
	if !profileResponse.IsFollowing {
		t.Fatalf("expected is_following true")
	}
	if profileResponse.Profile.FollowerCount != 1 {
		t.Fatalf("expected follower count 1, got %d", profileResponse.Profile.FollowerCount)
	}

	recorder = doJSON(t, handler, http.MethodDelete, "/profiles/"+bobID+"/follow", aliceToken, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("unfollow failed with %d", recorder.Code)
	}
}

func TestMessageFlowOverHTTP(t *testing.T) {
	handler := newTestHandler(t)
	aliceToken, aliceID := registerUser(t, handler, "alice")
	bobToken, bobID := registerUser(t, handler, "bob")

	recorder := doJSON(t, handler, http.MethodPost, "/messages", aliceToken, map[string]string{
		"receiver_id": bobID,
		"body":        "hi bob",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("send failed with %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(t, handler, http.MethodGet, "/messages", bobToken, nil)
	var summaries struct {
		Conversations []struct {
			PartnerID   string `json:"partner_id"`
			UnreadCount int64  `json:"unread_count"`
		} `json:"conversations"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("failed to decode summaries: %v", err)
	}
	if len(summaries.Conversations) != 1 || summaries.Conversations[0].PartnerID != aliceID {
		t.Fatalf("unexpected summaries %#v", summaries.Conversations)
	}
	if summaries.Conversations[0].UnreadCount != 1 {
		t.Fatalf("expected one unread, got %d", summaries.Conversations[0].UnreadCount)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/messages?with="+aliceID, bobToken, nil)
	var conversation struct {
		Messages []messagePayload `json:"messages"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &conversation); err != nil {
		t.Fatalf("failed to decode conversation: %v", err)
	}
	if len(conversation.Messages) != 1 || conversation.Messages[0].Body != "hi bob" {
		t.Fatalf("unexpected conversation %#v", conversation.Messages)
	}

	recorder = doJSON(t, handler, http.MethodPost, "/messages/"+aliceID+"/read", bobToken, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("mark-read failed with %d", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/badges", bobToken, nil)
	var badges struct {
		UnreadMessages      int64 `json:"unread_messages"`
		UnreadNotifications int64 `json:"unread_notifications"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &badges); err != nil {
		t.Fatalf("failed to decode badges: %v", err)
	}
	if badges.UnreadMessages != 0 {
		t.Fatalf("expected zero unread messages after mark-read, got %d", badges.UnreadMessages)
	}
	// The send also recorded a message notification for bob.
	if badges.UnreadNotifications != 1 {
		t.Fatalf("expected one unread notification, got %d", badges.UnreadNotifications)
	}
}

func TestUploadsUnavailableWithoutMediaStore(t *testing.T) {
	handler := newTestHandler(t)
	token, _ := registerUser(t, handler, "alice")

	recorder := doJSON(t, handler, http.MethodPost, "/uploads", token, nil)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without media store, got %d", recorder.Code)
	}
}

func TestUploadReturnsPublicURLForStoredKey(t *testing.T) {
	store := &fakeMediaStore{}
	handler := newTestHandlerWithMedia(t, store)
	token, _ := registerUser(t, handler, "alice")

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	partHeader := textproto.MIMEHeader{}
	partHeader.Set("Content-Disposition", `form-data; name="file"; filename="harbor.PNG"`)
	partHeader.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		t.Fatalf("failed to build multipart body: %v", err)
	}
	if _, err := part.Write([]byte("png bytes")); err != nil {
		t.Fatalf("failed to write file part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	request := httptest.NewRequest(http.MethodPost, "/uploads", body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusCreated {
		t.Fatalf("upload failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	var response struct {
		Key string `json:"key"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode upload response: %v", err)
	}
	if !strings.HasSuffix(response.Key, ".png") {
		t.Fatalf("expected lowercased extension on key, got %q", response.Key)
	}
	if response.URL != store.PublicURL(response.Key) {
		t.Fatalf("expected public URL for the key, got %q", response.URL)
	}
	if response.URL == response.Key {
		t.Fatalf("expected url distinct from the raw key")
	}
	if len(store.uploadedKeys) != 1 || store.uploadedKeys[0] != response.Key {
		t.Fatalf("expected one stored object under the returned key, got %v", store.uploadedKeys)
	}
}

func TestRealtimeStreamPushesRecountedBadges(t *testing.T) {
	handler := newTestHandler(t)
	aliceToken, _ := registerUser(t, handler, "alice")
	bobToken, bobID := registerUser(t, handler, "bob")

	streamCtx, stopStream := context.WithCancel(context.Background())
	request := httptest.NewRequest(http.MethodGet, "/realtime", nil).WithContext(streamCtx)
	request.Header.Set("Authorization", "Bearer "+bobToken)
	recorder := httptest.NewRecorder()
	streamDone := make(chan struct{})
	go func() {
		handler.ServeHTTP(recorder, request)
		close(streamDone)
	}()

	// Let the stream's subscriptions attach before publishing.
	time.Sleep(100 * time.Millisecond)

	sendRecorder := doJSON(t, handler, http.MethodPost, "/messages", aliceToken, map[string]string{
		"receiver_id": bobID,
		"body":        "hi bob",
	})
	if sendRecorder.Code != http.StatusCreated {
		t.Fatalf("send failed with %d: %s", sendRecorder.Code, sendRecorder.Body.String())
	}

	// The recount watcher debounces the burst before re-deriving counts.
	time.Sleep(800 * time.Millisecond)
	stopStream()
	<-streamDone

	streamed := recorder.Body.String()
	if !strings.Contains(streamed, "event:change") {
		t.Fatalf("expected change event in stream, got %q", streamed)
	}
	if !strings.Contains(streamed, "event:badges") {
		t.Fatalf("expected badges event in stream, got %q", streamed)
	}
	if !strings.Contains(streamed, `"unread_messages":1`) {
		t.Fatalf("expected recounted unread messages in stream, got %q", streamed)
	}
}
