package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"concierge/internal/apperrors"
	"concierge/internal/auth"
	"concierge/internal/cache"
	"concierge/internal/chat"
	"concierge/internal/config"
	"concierge/internal/credentials"
	"concierge/internal/docs"
	"concierge/internal/hub"
	"concierge/internal/models"
	"concierge/internal/storage"
	"concierge/internal/store"
	"concierge/internal/users"
)

func TestHandlersEndToEndFlow(t *testing.T) {
	router, db, env := newTestServer(t)
	defer db.Close()

	userID, authHeader := registerAndLogin(t, router)

	// Create a conversation.
	convResp := doJSONRequest(t, router, http.MethodPost, "/api/conversations", nil, authHeader)
	assertStatus(t, convResp, http.StatusCreated)
	var conv struct {
		ID string `json:"id"`
	}
	decodeJSON(t, convResp.Body.Bytes(), &conv)
	if conv.ID == "" {
		t.Fatalf("expected conversation id")
	}

	// Submit a chat turn; the handler must hand it to the coordinator and
	// answer 202 before any generation happens.
	submitResp := doJSONRequest(t, router, http.MethodPost, "/api/chat", map[string]string{
		"conversationId": conv.ID,
		"content":        "hello there",
		"channelId":      "chan-1",
	}, authHeader)
	assertStatus(t, submitResp, http.StatusAccepted)
	var submitBody struct {
		Status         string `json:"status"`
		ConversationID string `json:"conversationId"`
	}
	decodeJSON(t, submitResp.Body.Bytes(), &submitBody)
	if submitBody.Status != "accepted" || submitBody.ConversationID != conv.ID {
		t.Fatalf("unexpected submit response: %+v", submitBody)
	}
	got := env.coordinator.lastSubmission()
	if got.UserID != userID || got.ConversationID != conv.ID || got.Content != "hello there" || got.ChannelRef != "chan-1" {
		t.Fatalf("coordinator received wrong request: %+v", got)
	}

	// Ask the active turn to stop.
	stopResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/stop", conv.ID), nil, authHeader)
	assertStatus(t, stopResp, http.StatusAccepted)
	if stops := env.coordinator.stops(); len(stops) != 1 || stops[0] != conv.ID {
		t.Fatalf("expected stop for %s, got %v", conv.ID, stops)
	}

	// List conversations.
	listResp := doJSONRequest(t, router, http.MethodGet, "/api/conversations", nil, authHeader)
	assertStatus(t, listResp, http.StatusOK)
	var listBody struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &listBody)
	if len(listBody.Conversations) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(listBody.Conversations))
	}

	// Delete the conversation.
	delConvResp := doJSONRequest(t, router, http.MethodDelete, "/api/conversations/"+conv.ID, nil, authHeader)
	assertStatus(t, delConvResp, http.StatusNoContent)

	// Logout, then delete the account with a fresh login.
	logoutResp := doJSONRequest(t, router, http.MethodPost, "/api/users/logout", nil, authHeader)
	assertStatus(t, logoutResp, http.StatusNoContent)
	afterLogout := doJSONRequest(t, router, http.MethodGet, "/api/conversations", nil, authHeader)
	assertStatus(t, afterLogout, http.StatusUnauthorized)
}

func TestSubmitChatValidation(t *testing.T) {
	router, db, env := newTestServer(t)
	defer db.Close()

	_, authHeader := registerAndLogin(t, router)

	// Missing conversation id.
	resp := doJSONRequest(t, router, http.MethodPost, "/api/chat", map[string]string{
		"content": "hi",
	}, authHeader)
	assertStatus(t, resp, http.StatusBadRequest)

	// Coordinator rejections keep their status.
	env.coordinator.submitErr = apperrors.Conflict("a response is already being generated for this conversation")
	resp = doJSONRequest(t, router, http.MethodPost, "/api/chat", map[string]string{
		"conversationId": "conv-busy",
		"content":        "hi",
	}, authHeader)
	assertStatus(t, resp, http.StatusConflict)
	env.coordinator.submitErr = nil

	// Unauthenticated requests never reach the coordinator.
	resp = doJSONRequest(t, router, http.MethodPost, "/api/chat", map[string]string{
		"conversationId": "conv-1",
		"content":        "hi",
	}, nil)
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestStopRequiresOwnership(t *testing.T) {
	router, db, env := newTestServer(t)
	defer db.Close()

	_, aliceHeader := registerAndLogin(t, router)
	convResp := doJSONRequest(t, router, http.MethodPost, "/api/conversations", nil, aliceHeader)
	assertStatus(t, convResp, http.StatusCreated)
	var conv struct {
		ID string `json:"id"`
	}
	decodeJSON(t, convResp.Body.Bytes(), &conv)

	_, bobHeader := registerAndLogin(t, router)
	resp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/stop", conv.ID), nil, bobHeader)
	assertStatus(t, resp, http.StatusForbidden)
	if len(env.coordinator.stops()) != 0 {
		t.Fatalf("stop must not reach the coordinator for a foreign conversation")
	}

	resp = doJSONRequest(t, router, http.MethodPost, "/api/conversations/missing/stop", nil, aliceHeader)
	assertStatus(t, resp, http.StatusNotFound)
}

func TestListMessagesPagination(t *testing.T) {
	router, db, env := newTestServer(t)
	defer db.Close()

	userID, authHeader := registerAndLogin(t, router)
	convResp := doJSONRequest(t, router, http.MethodPost, "/api/conversations", nil, authHeader)
	assertStatus(t, convResp, http.StatusCreated)
	var conv struct {
		ID string `json:"id"`
	}
	decodeJSON(t, convResp.Body.Bytes(), &conv)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		msg := &models.Message{
			ConversationID: conv.ID,
			Role:           models.RoleUser,
			Content:        fmt.Sprintf("message %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := env.gateway.SaveMessage(context.Background(), userID, msg); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	resp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/conversations/%s/messages?limit=2", conv.ID), nil, authHeader)
	assertStatus(t, resp, http.StatusOK)
	var page struct {
		Messages   []models.Message `json:"messages"`
		NextCursor string           `json:"next_cursor"`
	}
	decodeJSON(t, resp.Body.Bytes(), &page)
	if len(page.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(page.Messages))
	}
	if page.Messages[0].Content != "message 3" || page.Messages[1].Content != "message 4" {
		t.Fatalf("expected the newest page in chronological order, got %+v", page.Messages)
	}
	if page.NextCursor == "" {
		t.Fatalf("expected a cursor for the next page")
	}

	resp = doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/conversations/%s/messages?limit=2&cursor=%s", conv.ID, page.NextCursor), nil, authHeader)
	assertStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp.Body.Bytes(), &page)
	if len(page.Messages) != 2 || page.Messages[0].Content != "message 1" {
		t.Fatalf("unexpected second page: %+v", page.Messages)
	}

	resp = doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/conversations/%s/messages?limit=0", conv.ID), nil, authHeader)
	assertStatus(t, resp, http.StatusBadRequest)

	// Another user cannot read the thread.
	_, otherHeader := registerAndLogin(t, router)
	resp = doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/conversations/%s/messages", conv.ID), nil, otherHeader)
	assertStatus(t, resp, http.StatusForbidden)
}

func TestMemoriesEndpoints(t *testing.T) {
	router, db, env := newTestServer(t)
	defer db.Close()

	userID, authHeader := registerAndLogin(t, router)
	mem := &models.Memory{UserID: userID, Key: "favorite color", Content: "likes teal"}
	if err := env.gateway.SaveMemory(context.Background(), mem); err != nil {
		t.Fatalf("seed memory: %v", err)
	}

	resp := doJSONRequest(t, router, http.MethodGet, "/api/memories", nil, authHeader)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Memories []models.Memory `json:"memories"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if len(body.Memories) != 1 || body.Memories[0].Content != "likes teal" {
		t.Fatalf("unexpected memories: %+v", body.Memories)
	}

	resp = doJSONRequest(t, router, http.MethodDelete, "/api/memories/"+body.Memories[0].ID, nil, authHeader)
	assertStatus(t, resp, http.StatusNoContent)

	resp = doJSONRequest(t, router, http.MethodGet, "/api/memories", nil, authHeader)
	assertStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp.Body.Bytes(), &body)
	if len(body.Memories) != 0 {
		t.Fatalf("expected no memories after delete, got %+v", body.Memories)
	}
}

func TestGoogleCredentialEndpoints(t *testing.T) {
	router, db, env := newTestServer(t)
	defer db.Close()

	userID, authHeader := registerAndLogin(t, router)

	resp := doJSONRequest(t, router, http.MethodPut, "/api/credentials/google", map[string]string{
		"access_token": "ya29.token",
	}, authHeader)
	assertStatus(t, resp, http.StatusNoContent)

	token, err := env.creds.Resolve(context.Background(), userID, credentials.ProviderGoogle)
	if err != nil || token != "ya29.token" {
		t.Fatalf("resolve after connect: token=%q err=%v", token, err)
	}

	resp = doJSONRequest(t, router, http.MethodPut, "/api/credentials/google", map[string]string{
		"access_token": "",
	}, authHeader)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, router, http.MethodDelete, "/api/credentials/google", nil, authHeader)
	assertStatus(t, resp, http.StatusNoContent)
	token, err = env.creds.Resolve(context.Background(), userID, credentials.ProviderGoogle)
	if err != nil || token != "" {
		t.Fatalf("expected no token after disconnect, got %q err=%v", token, err)
	}
}

func TestUploadDocument(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	_, authHeader := registerAndLogin(t, router)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(strings.Repeat("travel plans for spring. ", 120))); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range authHeader {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusCreated)

	var body struct {
		FileName string `json:"file_name"`
		Chunks   int    `json:"chunks"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.FileName != "notes.txt" || body.Chunks < 1 {
		t.Fatalf("unexpected upload response: %+v", body)
	}
}

func TestSocketAnnouncesChannel(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	_, authHeader := registerAndLogin(t, router)

	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws"
	header := http.Header{}
	for k, v := range authHeader {
		header.Set(k, v)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	if resp != nil {
		defer resp.Body.Close()
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type string `json:"type"`
		Data struct {
			ChannelID string `json:"channelId"`
		} `json:"data"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read ready frame: %v", err)
	}
	if frame.Type != "ready" || frame.Data.ChannelID == "" {
		t.Fatalf("unexpected ready frame: %+v", frame)
	}
}

type testEnv struct {
	gateway     *store.Gateway
	creds       *credentials.Resolver
	coordinator *mockCoordinator
}

func newTestServer(t *testing.T) (*gin.Engine, *sql.DB, *testEnv) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	gw := store.New(db, cache.New(nil, time.Minute))
	userSvc := users.NewService(db)
	authSvc := auth.NewService(db, nil, time.Hour)
	creds := credentials.NewResolver(db)
	coordinator := &mockCoordinator{}
	ingestor, err := docs.NewIngestor(gw, nil)
	if err != nil {
		t.Fatalf("new ingestor: %v", err)
	}

	handler := NewHandler(userSvc, authSvc, gw, coordinator, creds, hub.New(), ingestor, t.TempDir(), "")
	router := gin.New()
	handler.RegisterRoutes(router)
	return router, db, &testEnv{gateway: gw, creds: creds, coordinator: coordinator}
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v (body: %s)", err, data)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d (want %d), body: %s", rec.Code, want, rec.Body.String())
	}
}

var userSeq int64

func registerAndLogin(t *testing.T, router *gin.Engine) (int64, map[string]string) {
	t.Helper()
	userSeq++
	username := fmt.Sprintf("tester_%d_%d", time.Now().UnixNano(), userSeq)
	password := "pass123"
	regResp := doJSONRequest(t, router, http.MethodPost, "/api/users/register", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	assertStatus(t, regResp, http.StatusCreated)
	var regBody struct {
		ID int64 `json:"id"`
	}
	decodeJSON(t, regResp.Body.Bytes(), &regBody)

	loginResp := doJSONRequest(t, router, http.MethodPost, "/api/users/login", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	var loginBody struct {
		AuthToken string `json:"auth_token"`
	}
	decodeJSON(t, loginResp.Body.Bytes(), &loginBody)
	if loginBody.AuthToken == "" {
		t.Fatalf("expected auth token after login")
	}
	return regBody.ID, map[string]string{"Authorization": "Bearer " + loginBody.AuthToken}
}

type mockCoordinator struct {
	mu        sync.Mutex
	submitted []chat.SubmitRequest
	stopList  []string
	submitErr error
}

func (m *mockCoordinator) SubmitMessage(_ context.Context, req chat.SubmitRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return m.submitErr
	}
	m.submitted = append(m.submitted, req)
	return nil
}

func (m *mockCoordinator) RequestStop(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopList = append(m.stopList, conversationID)
}

func (m *mockCoordinator) lastSubmission() chat.SubmitRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.submitted) == 0 {
		return chat.SubmitRequest{}
	}
	return m.submitted[len(m.submitted)-1]
}

func (m *mockCoordinator) stops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.stopList...)
}
