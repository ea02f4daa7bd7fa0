package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/scribe/backend/internal/document"
	"go.uber.org/zap"
)

var (
	// ErrNotFound indicates the document does not exist on the backend.
	ErrNotFound = errors.New("client: document not found")
	// ErrPermissionDenied indicates the backend rejected the caller's credentials or role.
	ErrPermissionDenied = errors.New("client: permission denied")
	// ErrConflict indicates the backend refused the write because of a concurrent change.
	ErrConflict = errors.New("client: conflict")
	// ErrUnavailable indicates a transport failure or unexpected backend response.
	ErrUnavailable = errors.New("client: backend unavailable")

	errMissingBaseURL = errors.New("client: base url is required")
)

const requestTimeout = 15 * time.Second

// Config describes an HTTP document API client.
type Config struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// HTTPClient implements the persistence contract a document session consumes
// over the Scribe document API.
type HTTPClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *zap.Logger
}

// New constructs an HTTPClient.
func New(cfg Config) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:     baseURL,
		accessToken: cfg.AccessToken,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

type documentPayload struct {
	ID        string                   `json:"id"`
	Title     string                   `json:"title"`
	Content   []document.Block         `json:"content"`
	Role      string                   `json:"role"`
	Roles     map[string]document.Role `json:"roles"`
	UpdatedAt string                   `json:"updated_at"`
}

// FetchDocument loads a document from the backend.
func (c *HTTPClient) FetchDocument(ctx context.Context, id document.DocumentID) (document.Document, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/documents/"+id.String(), nil)
	if err != nil {
		return document.Document{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.decorate(request)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return document.Document{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer response.Body.Close() //nolint:errcheck

	if err := statusError(response.StatusCode); err != nil {
		return document.Document{}, err
	}

	var payload documentPayload
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return document.Document{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	updatedAt, err := time.Parse(time.RFC3339, payload.UpdatedAt)
	if err != nil {
		updatedAt = time.Time{}
	}
	roles := document.RoleMap{}
	for user, role := range payload.Roles {
		roles[user] = role
	}
	return document.Document{
		ID:        document.DocumentID(payload.ID),
		Title:     payload.Title,
		Content:   document.Normalize(payload.Content),
		Roles:     roles,
		UpdatedAt: updatedAt,
	}, nil
}

type updateDocumentPayload struct {
	Title   string           `json:"title"`
	Content []document.Block `json:"content"`
}

type updateDocumentResponse struct {
	UpdatedAt string `json:"updated_at"`
}

// UpdateDocument persists the title and content pair and returns the
// server-assigned update timestamp.
func (c *HTTPClient) UpdateDocument(ctx context.Context, id document.DocumentID, title string, content []document.Block) (time.Time, error) {
	body, err := json.Marshal(updateDocumentPayload{Title: title, Content: content})
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/documents/"+id.String(), bytes.NewReader(body))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	request.Header.Set("Content-Type", "application/json")
	c.decorate(request)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer response.Body.Close() //nolint:errcheck

	if err := statusError(response.StatusCode); err != nil {
		return time.Time{}, err
	}

	var payload updateDocumentResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	updatedAt, err := time.Parse(time.RFC3339, payload.UpdatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return updatedAt, nil
}

func (c *HTTPClient) decorate(request *http.Request) {
	if c.accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
}

// statusError maps backend status codes to the client error taxonomy. The
// session treats every save failure uniformly; the taxonomy exists for
// callers that surface errors to users.
func statusError(statusCode int) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusNotFound:
		return ErrNotFound
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrPermissionDenied
	case statusCode == http.StatusConflict:
		return ErrConflict
	default:
		return fmt.Errorf("%w: status %d", ErrUnavailable, statusCode)
	}
}
