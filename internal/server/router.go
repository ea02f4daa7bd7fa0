package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/scribe/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/scribe/backend/internal/collab"
	"github.com/MarcoPoloResearchLab/scribe/backend/internal/document"
	"github.com/MarcoPoloResearchLab/scribe/backend/internal/storage"
	"github.com/MarcoPoloResearchLab/scribe/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "scribe_user_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingStore         = errors.New("document store dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates the bearer tokens the API accepts.
type TokenManager interface {
	IssueToken(ctx context.Context, claims auth.Claims) (string, int64, error)
	ValidateToken(token string) (auth.Claims, error)
}

// Dependencies wires the HTTP layer to its collaborators.
type Dependencies struct {
	TokenManager TokenManager
	Store        *storage.Store
	Users        *users.Service
	Hub          *collab.Hub
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router for the document API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens: deps.TokenManager,
		store:  deps.Store,
		users:  deps.Users,
		hub:    deps.Hub,
		logger: logger,
	}

	router.POST("/auth/token", handler.handleIssueToken)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/documents", handler.handleListDocuments)
	protected.POST("/documents", handler.handleCreateDocument)
	protected.GET("/documents/:id", handler.handleFetchDocument)
	protected.PUT("/documents/:id", handler.handleUpdateDocument)
	protected.POST("/documents/:id/share", handler.handleShareDocument)
	protected.GET("/documents/:id/comments", handler.handleListComments)
	protected.POST("/documents/:id/comments", handler.handleAddComment)
	protected.POST("/documents/:id/comments/:commentID/resolve", handler.handleResolveComment)
	protected.GET("/documents/:id/presence", handler.handlePresence)

	return router, nil
}

type httpHandler struct {
	tokens TokenManager
	store  *storage.Store
	users  *users.Service
	hub    *collab.Hub
	logger *zap.Logger
}

type tokenRequestPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims := auth.Claims{
		Subject:     strings.TrimSpace(request.UserID),
		DisplayName: request.DisplayName,
		Email:       request.Email,
	}
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	if h.users != nil {
		if err := h.users.Touch(claims.Subject, claims.DisplayName, claims.Email); err != nil {
			h.logger.Warn("profile update failed", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type documentPayload struct {
	ID        string                   `json:"id"`
	Title     string                   `json:"title"`
	Content   []document.Block         `json:"content"`
	Role      string                   `json:"role"`
	Roles     map[string]document.Role `json:"roles,omitempty"`
	UpdatedAt string                   `json:"updated_at"`
}

func (h *httpHandler) handleFetchDocument(c *gin.Context) {
	doc, role, ok := h.authorizedDocument(c, document.RoleViewer)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, encodeDocumentPayload(doc, role))
}

type createDocumentPayload struct {
	Title string `json:"title"`
}

func (h *httpHandler) handleCreateDocument(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	var request createDocumentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	doc, err := h.store.CreateDocument(c.Request.Context(), userID, strings.TrimSpace(request.Title))
	if err != nil {
		h.logger.Error("failed to create document", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, encodeDocumentPayload(doc, document.RoleAdmin))
}

func (h *httpHandler) handleListDocuments(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	docs, err := h.store.ListDocuments(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list documents", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	payloads := make([]documentPayload, 0, len(docs))
	for _, doc := range docs {
		payloads = append(payloads, encodeDocumentPayload(doc, doc.RoleFor(userID)))
	}
	c.JSON(http.StatusOK, gin.H{"documents": payloads})
}

type updateDocumentPayload struct {
	Title   string           `json:"title"`
	Content []document.Block `json:"content"`
}

type updateDocumentResponse struct {
	UpdatedAt string `json:"updated_at"`
}

func (h *httpHandler) handleUpdateDocument(c *gin.Context) {
	doc, _, ok := h.authorizedDocument(c, document.RoleEditor)
	if !ok {
		return
	}

	var request updateDocumentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updatedAt, err := h.store.UpdateDocument(c.Request.Context(), doc.ID, request.Title, request.Content)
	if errors.Is(err, storage.ErrDocumentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to update document", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save_failed"})
		return
	}

	if h.hub != nil {
		userID, _ := h.currentUser(c)
		h.hub.NotifySaved(doc.ID, userID)
	}
	c.JSON(http.StatusOK, updateDocumentResponse{UpdatedAt: updatedAt.Format(time.RFC3339)})
}

type shareDocumentPayload struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (h *httpHandler) handleShareDocument(c *gin.Context) {
	doc, role, ok := h.authorizedDocument(c, document.RoleViewer)
	if !ok {
		return
	}
	if !role.CanShare() {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	var request shareDocumentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	target, err := document.NewUserID(request.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}
	grantedRole, err := document.ParseRole(request.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role"})
		return
	}

	if err := h.store.ShareDocument(c.Request.Context(), doc.ID, target, grantedRole); err != nil {
		h.logger.Error("failed to share document", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "share_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"shared": true})
}

type commentPayload struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
	Resolved  bool   `json:"resolved"`
	Anchor    int    `json:"anchor"`
}

type addCommentPayload struct {
	Text   string `json:"text"`
	Anchor *int   `json:"anchor"`
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	doc, _, ok := h.authorizedDocument(c, document.RoleViewer)
	if !ok {
		return
	}

	listed, err := h.store.ListComments(c.Request.Context(), doc.ID)
	if err != nil {
		h.logger.Error("failed to list comments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	payloads := make([]commentPayload, 0, len(listed))
	for _, comment := range listed {
		payloads = append(payloads, commentPayload{
			ID:        comment.ID,
			Author:    h.displayName(comment.Author),
			Text:      comment.Text,
			CreatedAt: comment.CreatedAt.Format(time.RFC3339),
			Resolved:  comment.Resolved,
			Anchor:    comment.Anchor,
		})
	}
	c.JSON(http.StatusOK, gin.H{"comments": payloads})
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	doc, _, ok := h.authorizedDocument(c, document.RoleViewer)
	if !ok {
		return
	}
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	var request addCommentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	anchor := -1
	if request.Anchor != nil {
		anchor = *request.Anchor
	}

	comment, err := h.store.AddComment(c.Request.Context(), doc.ID, userID, request.Text, anchor)
	if errors.Is(err, storage.ErrEmptyCommentBody) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_comment"})
		return
	}
	if err != nil {
		h.logger.Error("failed to add comment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "comment_failed"})
		return
	}

	c.JSON(http.StatusCreated, commentPayload{
		ID:        comment.ID,
		Author:    h.displayName(comment.Author),
		Text:      comment.Text,
		CreatedAt: comment.CreatedAt.Format(time.RFC3339),
		Resolved:  comment.Resolved,
		Anchor:    comment.Anchor,
	})
}

func (h *httpHandler) handleResolveComment(c *gin.Context) {
	doc, _, ok := h.authorizedDocument(c, document.RoleViewer)
	if !ok {
		return
	}

	changed, err := h.store.ResolveComment(c.Request.Context(), doc.ID, c.Param("commentID"))
	if errors.Is(err, storage.ErrCommentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to resolve comment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true, "changed": changed})
}

// authorizedDocument loads the document from the path parameter and enforces
// the minimum role. Permission is checked before any mutating work happens.
func (h *httpHandler) authorizedDocument(c *gin.Context, minimum document.Role) (document.Document, document.Role, bool) {
	userID, ok := h.currentUser(c)
	if !ok {
		return document.Document{}, document.RoleNone, false
	}

	id, err := document.NewDocumentID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_id"})
		return document.Document{}, document.RoleNone, false
	}

	doc, err := h.store.FetchDocument(c.Request.Context(), id)
	if errors.Is(err, storage.ErrDocumentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return document.Document{}, document.RoleNone, false
	}
	if err != nil {
		h.logger.Error("failed to fetch document", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch_failed"})
		return document.Document{}, document.RoleNone, false
	}

	role := doc.RoleFor(userID)
	if role == document.RoleNone {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return document.Document{}, document.RoleNone, false
	}
	if minimum == document.RoleEditor && !role.CanEdit() {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return document.Document{}, document.RoleNone, false
	}
	return doc, role, true
}

func (h *httpHandler) currentUser(c *gin.Context) (document.UserID, bool) {
	raw := c.GetString(userIDContextKey)
	userID, err := document.NewUserID(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

func (h *httpHandler) displayName(userID string) string {
	if h.users == nil {
		return userID
	}
	return h.users.DisplayName(userID)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.Subject)
	c.Next()
}

// bearerToken extracts the access token from the Authorization header, with a
// query fallback for websocket upgrades where browsers cannot set headers.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(c.Query("access_token"))
}

func encodeDocumentPayload(doc document.Document, role document.Role) documentPayload {
	payload := documentPayload{
		ID:        doc.ID.String(),
		Title:     doc.Title,
		Content:   doc.Content,
		Role:      string(role),
		UpdatedAt: doc.UpdatedAt.Format(time.RFC3339),
	}
	if role.CanShare() {
		payload.Roles = doc.Roles
	}
	return payload
}
