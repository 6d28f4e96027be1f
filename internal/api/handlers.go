package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"concierge/internal/apperrors"
	"concierge/internal/auth"
	"concierge/internal/chat"
	"concierge/internal/credentials"
	"concierge/internal/hub"
	"concierge/internal/logging"
	"concierge/internal/models"
	"concierge/internal/store"
	"concierge/internal/users"
)

// Submitter accepts chat turns and stop requests.
type Submitter interface {
	SubmitMessage(ctx context.Context, req chat.SubmitRequest) error
	RequestStop(conversationID string)
}

// DocIngestor turns an uploaded file into searchable chunks.
type DocIngestor interface {
	Ingest(ctx context.Context, userID int64, path, sourceName string) (int, error)
}

// Handler wires HTTP routes to the chat coordinator and supporting services.
type Handler struct {
	users       *users.Service
	auth        *auth.Service
	store       *store.Gateway
	coordinator Submitter
	creds       *credentials.Resolver
	sockets     *hub.Hub
	ingestor    DocIngestor
	fileBase    string
	upgrader    websocket.Upgrader
	log         zerolog.Logger
}

// NewHandler constructs a Handler instance. allowedOrigin restricts websocket
// upgrades; empty allows same-host requests only.
func NewHandler(
	userSvc *users.Service,
	authSvc *auth.Service,
	gw *store.Gateway,
	coordinator Submitter,
	creds *credentials.Resolver,
	sockets *hub.Hub,
	ingestor DocIngestor,
	fileBase string,
	allowedOrigin string,
) *Handler {
	return &Handler{
		users:       userSvc,
		auth:        authSvc,
		store:       gw,
		coordinator: coordinator,
		creds:       creds,
		sockets:     sockets,
		ingestor:    ingestor,
		fileBase:    fileBase,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigin),
		},
		log: logging.With("api"),
	}
}

func originChecker(allowed string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return allowed != "" && strings.EqualFold(origin, allowed)
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)

	authMW := h.auth.Middleware()
	api.GET("/ws", authMW, h.socket)

	private := api.Group("")
	private.Use(authMW, h.auth.CSRFMiddleware())
	private.POST("/users/logout", h.logoutUser)
	private.DELETE("/users", h.deleteUser)
	private.POST("/conversations", h.createConversation)
	private.GET("/conversations", h.listConversations)
	private.DELETE("/conversations/:id", h.deleteConversation)
	private.GET("/conversations/:id/messages", h.listMessages)
	private.POST("/chat", h.submitChat)
	private.POST("/conversations/:id/stop", h.stopChat)
	private.GET("/memories", h.listMemories)
	private.DELETE("/memories/:id", h.deleteMemory)
	private.PUT("/credentials/google", h.connectGoogle)
	private.DELETE("/credentials/google", h.disconnectGoogle)
	private.POST("/documents", h.uploadDocument)
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return 0, false
	}
	return userID, true
}

func respondError(c *gin.Context, err error) {
	c.JSON(apperrors.StatusFor(err), gin.H{"error": err.Error()})
}

// User create&login interface
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.users.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
		"auth_token": authToken,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	if _, ok := h.authorizedUserID(c); !ok {
		return
	}
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		_ = h.auth.RevokeToken(c.Request.Context(), authToken)
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteUser(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.auth.RevokeUserTokens(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.users.Delete(c.Request.Context(), userID); err != nil {
		respondError(c, err)
		return
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) createConversation(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	conv, err := h.store.CreateConversation(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) listConversations(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	list, err := h.store.ListConversations(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []models.ConversationSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

func (h *Handler) deleteConversation(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.store.DeleteConversation(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func (h *Handler) listMessages(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	conv, err := h.store.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		respondError(c, err)
		return
	}
	if conv.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "conversation belongs to another user"})
		return
	}

	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if parsed > maxPageSize {
			parsed = maxPageSize
		}
		limit = parsed
	}

	page, err := h.store.ListMessages(c.Request.Context(), conversationID, limit, c.Query("cursor"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Chat submit interface
type chatRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	DocURL         string `json:"docUrl"`
	ChannelID      string `json:"channelId"`
}

func (h *Handler) submitChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ConversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
		return
	}
	err := h.coordinator.SubmitMessage(c.Request.Context(), chat.SubmitRequest{
		UserID:         userID,
		ConversationID: req.ConversationID,
		Content:        req.Content,
		DocURL:         req.DocURL,
		ChannelRef:     req.ChannelID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":         "accepted",
		"conversationId": req.ConversationID,
	})
}

func (h *Handler) stopChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	conv, err := h.store.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		respondError(c, err)
		return
	}
	if conv.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "conversation belongs to another user"})
		return
	}
	h.coordinator.RequestStop(conversationID)
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}

func (h *Handler) listMemories(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	memories, err := h.store.ListMemories(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": memories})
}

func (h *Handler) deleteMemory(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.store.DeleteMemory(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Google token interface
type googleTokenRequest struct {
	AccessToken string `json:"access_token"`
}

func (h *Handler) connectGoogle(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req googleTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.creds.Set(c.Request.Context(), userID, credentials.ProviderGoogle, req.AccessToken); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) disconnectGoogle(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.creds.Delete(c.Request.Context(), userID, credentials.ProviderGoogle); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

const maxUploadBytes = 10 << 20 // 10 MB

var allowedContentTypes = []string{
	"text/plain",
	"text/markdown",
	"application/pdf",
	"application/json",
	"text/html",
}

func isAllowedContentType(ct string) bool {
	for _, allowed := range allowedContentTypes {
		if strings.HasPrefix(ct, allowed) {
			return true
		}
	}
	return false
}

func (h *Handler) uploadDocument(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if h.ingestor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document ingestion unavailable"})
		return
	}
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	_ = f.Close()
	contentType := http.DetectContentType(buf[:n])
	if !isAllowedContentType(contentType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}

	filename := filepath.Base(file.Filename)
	destDir := filepath.Join(h.fileBase, strconv.FormatInt(userID, 10))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create directory failed"})
		return
	}
	destPath := filepath.Join(destDir, fmt.Sprintf("%d-%s", time.Now().UnixNano(), filename))
	if err := c.SaveUploadedFile(file, destPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}
	defer os.Remove(destPath)

	chunks, err := h.ingestor.Ingest(c.Request.Context(), userID, destPath, filename)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"file_name": filename,
		"size":      file.Size,
		"mime":      contentType,
		"chunks":    chunks,
	})
}

// socket upgrades the connection and registers it with the hub. The first
// frame announces the channel id the client passes back on chat submissions.
func (h *Handler) socket(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Int64("user_id", userID).Msg("websocket upgrade failed")
		return
	}
	client := h.sockets.Register(userID, conn)
	go client.WritePump()
	go client.ReadPump()
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
