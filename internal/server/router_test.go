package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/scribe/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/scribe/backend/internal/document"
	"github.com/MarcoPoloResearchLab/scribe/backend/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("doc-%d", p.next), nil
}

type testServer struct {
	handler http.Handler
	issuer  *auth.TokenIssuer
	store   *storage.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&storage.DocumentRecord{}, &storage.CommentRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	store, err := storage.NewStore(storage.StoreConfig{
		Database:   db,
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("router-test-secret"),
		Issuer:        "scribe-auth",
		Audience:      "scribe-api",
	})

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: issuer,
		Store:        store,
	})
	if err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	return &testServer{handler: handler, issuer: issuer, store: store}
}

func (s *testServer) tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := s.issuer.IssueToken(context.Background(), auth.Claims{Subject: userID})
	if err != nil {
		t.Fatalf("unexpected token error: %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func (s *testServer) createDocument(t *testing.T, owner, title string) string {
	t.Helper()
	recorder := s.do(t, http.MethodPost, "/documents", s.tokenFor(t, owner), map[string]string{"title": title})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		ID string `json:"id"`
	}
	decodeBody(t, recorder, &payload)
	if payload.ID == "" {
		t.Fatalf("expected a document id in the response")
	}
	return payload.ID
}

func (s *testServer) share(t *testing.T, owner, docID, target, role string) {
	t.Helper()
	recorder := s.do(t, http.MethodPost, "/documents/"+docID+"/share", s.tokenFor(t, owner),
		map[string]string{"user_id": target, "role": role})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on share, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestProtectedRoutesRejectMissingOrInvalidToken(t *testing.T) {
	server := newTestServer(t)

	recorder := server.do(t, http.MethodGet, "/documents", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}

	recorder = server.do(t, http.MethodGet, "/documents", "not-a-jwt", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a malformed token, got %d", recorder.Code)
	}
}

func TestIssueTokenValidation(t *testing.T) {
	server := newTestServer(t)

	recorder := server.do(t, http.MethodPost, "/auth/token", "", map[string]string{"user_id": "  "})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a blank user id, got %d", recorder.Code)
	}

	recorder = server.do(t, http.MethodPost, "/auth/token", "", map[string]string{"user_id": "user-1"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	decodeBody(t, recorder, &payload)
	if payload.AccessToken == "" || payload.TokenType != "Bearer" {
		t.Fatalf("unexpected token payload %+v", payload)
	}
}

func TestCreateDocumentGrantsOwnerAdmin(t *testing.T) {
	server := newTestServer(t)

	recorder := server.do(t, http.MethodPost, "/documents", server.tokenFor(t, "owner-1"), map[string]string{"title": "Launch Notes"})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		Title string            `json:"title"`
		Role  string            `json:"role"`
		Roles map[string]string `json:"roles"`
	}
	decodeBody(t, recorder, &payload)
	if payload.Title != "Launch Notes" {
		t.Fatalf("unexpected title %q", payload.Title)
	}
	if payload.Role != string(document.RoleAdmin) {
		t.Fatalf("expected admin role, got %q", payload.Role)
	}
	if payload.Roles["owner-1"] != string(document.RoleAdmin) {
		t.Fatalf("admins must see the role map, got %v", payload.Roles)
	}
}

func TestFetchDocumentEnforcesRole(t *testing.T) {
	server := newTestServer(t)
	docID := server.createDocument(t, "owner-1", "Private")

	recorder := server.do(t, http.MethodGet, "/documents/"+docID, server.tokenFor(t, "stranger-1"), nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a user without a role, got %d", recorder.Code)
	}

	recorder = server.do(t, http.MethodGet, "/documents/missing", server.tokenFor(t, "owner-1"), nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown document, got %d", recorder.Code)
	}

	server.share(t, "owner-1", docID, "reader-1", "viewer")
	recorder = server.do(t, http.MethodGet, "/documents/"+docID, server.tokenFor(t, "reader-1"), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for a viewer, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		Role  string            `json:"role"`
		Roles map[string]string `json:"roles"`
	}
	decodeBody(t, recorder, &payload)
	if payload.Role != string(document.RoleViewer) {
		t.Fatalf("expected viewer role, got %q", payload.Role)
	}
	if payload.Roles != nil {
		t.Fatalf("viewers must not see the role map, got %v", payload.Roles)
	}
}

func TestUpdateDocumentEnforcesEditPermission(t *testing.T) {
	server := newTestServer(t)
	docID := server.createDocument(t, "owner-1", "Guarded")
	server.share(t, "owner-1", docID, "reader-1", "viewer")
	server.share(t, "owner-1", docID, "writer-1", "editor")

	update := map[string]interface{}{
		"title":   "Guarded v2",
		"content": []map[string]string{{"type": "paragraph", "text": "hello"}},
	}

	recorder := server.do(t, http.MethodPut, "/documents/"+docID, server.tokenFor(t, "reader-1"), update)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("viewer updates must be refused with 403, got %d", recorder.Code)
	}

	recorder = server.do(t, http.MethodPut, "/documents/"+docID, server.tokenFor(t, "writer-1"), update)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for an editor, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		UpdatedAt string `json:"updated_at"`
	}
	decodeBody(t, recorder, &payload)
	if _, err := time.Parse(time.RFC3339, payload.UpdatedAt); err != nil {
		t.Fatalf("expected an RFC3339 timestamp, got %q", payload.UpdatedAt)
	}

	recorder = server.do(t, http.MethodGet, "/documents/"+docID, server.tokenFor(t, "owner-1"), nil)
	var fetched struct {
		Title string `json:"title"`
	}
	decodeBody(t, recorder, &fetched)
	if fetched.Title != "Guarded v2" {
		t.Fatalf("the editor update must persist, got title %q", fetched.Title)
	}
}

func TestShareRequiresAdmin(t *testing.T) {
	server := newTestServer(t)
	docID := server.createDocument(t, "owner-1", "Shared")
	server.share(t, "owner-1", docID, "writer-1", "editor")

	recorder := server.do(t, http.MethodPost, "/documents/"+docID+"/share", server.tokenFor(t, "writer-1"),
		map[string]string{"user_id": "friend-1", "role": "viewer"})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("editors must not share, got %d", recorder.Code)
	}

	recorder = server.do(t, http.MethodPost, "/documents/"+docID+"/share", server.tokenFor(t, "owner-1"),
		map[string]string{"user_id": "friend-1", "role": "sultan"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unknown roles must be refused with 400, got %d", recorder.Code)
	}
}

func TestCommentLifecycle(t *testing.T) {
	server := newTestServer(t)
	docID := server.createDocument(t, "owner-1", "Discussed")
	server.share(t, "owner-1", docID, "reader-1", "viewer")

	recorder := server.do(t, http.MethodPost, "/documents/"+docID+"/comments", server.tokenFor(t, "reader-1"),
		map[string]string{"text": "   "})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("empty comments must be refused with 400, got %d", recorder.Code)
	}

	recorder = server.do(t, http.MethodPost, "/documents/"+docID+"/comments", server.tokenFor(t, "reader-1"),
		map[string]string{"text": "viewers may comment"})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var created struct {
		ID       string `json:"id"`
		Author   string `json:"author"`
		Resolved bool   `json:"resolved"`
	}
	decodeBody(t, recorder, &created)
	if created.Author != "reader-1" || created.Resolved {
		t.Fatalf("unexpected comment payload %+v", created)
	}

	recorder = server.do(t, http.MethodPost, "/documents/"+docID+"/comments/"+created.ID+"/resolve", server.tokenFor(t, "owner-1"), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on resolve, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var resolved struct {
		Resolved bool `json:"resolved"`
		Changed  bool `json:"changed"`
	}
	decodeBody(t, recorder, &resolved)
	if !resolved.Resolved || !resolved.Changed {
		t.Fatalf("first resolve must flip, got %+v", resolved)
	}

	recorder = server.do(t, http.MethodPost, "/documents/"+docID+"/comments/"+created.ID+"/resolve", server.tokenFor(t, "owner-1"), nil)
	decodeBody(t, recorder, &resolved)
	if !resolved.Resolved || resolved.Changed {
		t.Fatalf("second resolve must be an idempotent no-op, got %+v", resolved)
	}

	recorder = server.do(t, http.MethodPost, "/documents/"+docID+"/comments/missing/resolve", server.tokenFor(t, "owner-1"), nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown comment, got %d", recorder.Code)
	}

	recorder = server.do(t, http.MethodGet, "/documents/"+docID+"/comments", server.tokenFor(t, "owner-1"), nil)
	var listing struct {
		Comments []struct {
			Text     string `json:"text"`
			Resolved bool   `json:"resolved"`
		} `json:"comments"`
	}
	decodeBody(t, recorder, &listing)
	if len(listing.Comments) != 1 || !listing.Comments[0].Resolved {
		t.Fatalf("unexpected comment listing %+v", listing)
	}
}

func TestListDocumentsShowsOnlyAccessible(t *testing.T) {
	server := newTestServer(t)
	server.createDocument(t, "owner-1", "Mine")
	otherID := server.createDocument(t, "owner-2", "Theirs")
	server.share(t, "owner-2", otherID, "owner-1", "viewer")
	server.createDocument(t, "owner-2", "Hidden")

	recorder := server.do(t, http.MethodGet, "/documents", server.tokenFor(t, "owner-1"), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var listing struct {
		Documents []struct {
			Title string `json:"title"`
		} `json:"documents"`
	}
	decodeBody(t, recorder, &listing)
	if len(listing.Documents) != 2 {
		t.Fatalf("expected two visible documents, got %+v", listing.Documents)
	}
	for _, doc := range listing.Documents {
		if doc.Title == "Hidden" {
			t.Fatalf("inaccessible documents must not be listed")
		}
	}
}
