package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/scribe/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/scribe/backend/internal/document"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrDocumentNotFound indicates that no document exists for the identifier.
	ErrDocumentNotFound = errors.New("storage: document not found")
	// ErrCommentNotFound indicates that no comment exists for the identifier.
	ErrCommentNotFound = errors.New("storage: comment not found")
	// ErrEmptyCommentBody indicates that a comment body was empty or whitespace only.
	ErrEmptyCommentBody = errors.New("storage: empty comment body")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")

	noOpLogger = zap.NewNop()
)

const (
	opStoreNew        = "storage.store.new"
	opFetchDocument   = "storage.fetch_document"
	opCreateDocument  = "storage.create_document"
	opUpdateDocument  = "storage.update_document"
	opShareDocument   = "storage.share_document"
	opAddComment      = "storage.add_comment"
	opResolveComment  = "storage.resolve_comment"
	opListComments    = "storage.list_comments"
	opListByUser      = "storage.list_documents"
	reasonQueryFailed = "query_failed"
)

// StoreError wraps storage failures with an operation code.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the operation code describing where the failure occurred.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// StoreConfig describes the dependencies required by the document store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider document.IDProvider
	Logger     *zap.Logger
}

// Store implements the persistence contract consumed by document sessions:
// fetch and update, plus the document lifecycle operations the editor's
// surrounding application needs.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider document.IDProvider
	logger     *zap.Logger
}

// NewStore constructs the document store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// FetchDocument loads a document by identifier.
func (s *Store) FetchDocument(ctx context.Context, id document.DocumentID) (document.Document, error) {
	var record DocumentRecord
	err := s.db.WithContext(ctx).
		Where("document_id = ?", id.String()).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return document.Document{}, ErrDocumentNotFound
	}
	if err != nil {
		s.logError(opFetchDocument, reasonQueryFailed, err, zap.String("document_id", id.String()))
		return document.Document{}, newStoreError(opFetchDocument, reasonQueryFailed, err)
	}
	return decodeDocument(record)
}

// CreateDocument creates a fresh document owned by the given user. The owner
// is granted the admin role and content starts at the canonical default block.
func (s *Store) CreateDocument(ctx context.Context, ownerID document.UserID, title string) (document.Document, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateDocument, "id_generation_failed", err)
		return document.Document{}, newStoreError(opCreateDocument, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	content := document.DefaultContent()
	roles := document.RoleMap{ownerID.String(): document.RoleAdmin}

	record, err := encodeDocument(document.Document{
		ID:        document.DocumentID(id),
		Title:     title,
		Content:   content,
		Roles:     roles,
		UpdatedAt: now,
	}, ownerID.String(), now)
	if err != nil {
		return document.Document{}, newStoreError(opCreateDocument, "encode_failed", err)
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreateDocument, "insert_failed", err)
		return document.Document{}, newStoreError(opCreateDocument, "insert_failed", err)
	}
	return decodeDocument(record)
}

// UpdateDocument persists the title and content pair and returns the
// server-assigned update timestamp. The pair is written atomically; a missing
// document yields ErrDocumentNotFound.
func (s *Store) UpdateDocument(ctx context.Context, id document.DocumentID, title string, content []document.Block) (time.Time, error) {
	normalized := document.Normalize(content)
	contentJSON, err := json.Marshal(normalized)
	if err != nil {
		return time.Time{}, newStoreError(opUpdateDocument, "encode_failed", err)
	}

	updatedAt := s.clock().UTC()
	result := s.db.WithContext(ctx).
		Model(&DocumentRecord{}).
		Where("document_id = ?", id.String()).
		Updates(map[string]interface{}{
			"title":        title,
			"content_json": string(contentJSON),
			"updated_at_s": updatedAt.Unix(),
		})
	if result.Error != nil {
		s.logError(opUpdateDocument, "update_failed", result.Error, zap.String("document_id", id.String()))
		return time.Time{}, newStoreError(opUpdateDocument, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return time.Time{}, ErrDocumentNotFound
	}
	return time.Unix(updatedAt.Unix(), 0).UTC(), nil
}

// ShareDocument grants the target user a role on the document.
func (s *Store) ShareDocument(ctx context.Context, id document.DocumentID, target document.UserID, role document.Role) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record DocumentRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("document_id = ?", id.String()).
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDocumentNotFound
		}
		if err != nil {
			s.logError(opShareDocument, reasonQueryFailed, err, zap.String("document_id", id.String()))
			return newStoreError(opShareDocument, reasonQueryFailed, err)
		}

		roles, err := decodeRoles(record.RolesJSON)
		if err != nil {
			return newStoreError(opShareDocument, "roles_decode_failed", err)
		}
		roles[target.String()] = role
		rolesJSON, err := json.Marshal(roles)
		if err != nil {
			return newStoreError(opShareDocument, "roles_encode_failed", err)
		}

		if err := tx.Model(&DocumentRecord{}).
			Where("document_id = ?", id.String()).
			Update("roles_json", string(rolesJSON)).Error; err != nil {
			s.logError(opShareDocument, "update_failed", err, zap.String("document_id", id.String()))
			return newStoreError(opShareDocument, "update_failed", err)
		}
		return nil
	})
}

// ListDocuments returns every document the user holds a role on, most
// recently updated first.
func (s *Store) ListDocuments(ctx context.Context, userID document.UserID) ([]document.Document, error) {
	var records []DocumentRecord
	if err := s.db.WithContext(ctx).
		Order("updated_at_s DESC").
		Find(&records).Error; err != nil {
		s.logError(opListByUser, reasonQueryFailed, err, zap.String("user_id", userID.String()))
		return nil, newStoreError(opListByUser, reasonQueryFailed, err)
	}

	docs := make([]document.Document, 0, len(records))
	for _, record := range records {
		doc, err := decodeDocument(record)
		if err != nil {
			return nil, err
		}
		if doc.RoleFor(userID) == document.RoleNone {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// AddComment appends a comment to the document's persisted sequence.
func (s *Store) AddComment(ctx context.Context, id document.DocumentID, author document.UserID, body string, anchor int) (comments.Comment, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return comments.Comment{}, ErrEmptyCommentBody
	}

	if _, err := s.FetchDocument(ctx, id); err != nil {
		return comments.Comment{}, err
	}

	commentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAddComment, "id_generation_failed", err)
		return comments.Comment{}, newStoreError(opAddComment, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	record := CommentRecord{
		CommentID:        commentID,
		DocumentID:       id.String(),
		AuthorID:         author.String(),
		Body:             trimmed,
		Anchor:           anchor,
		CreatedAtSeconds: now.Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opAddComment, "insert_failed", err, zap.String("document_id", id.String()))
		return comments.Comment{}, newStoreError(opAddComment, "insert_failed", err)
	}
	return decodeComment(record), nil
}

// ResolveComment flips the resolved flag to true. The flip is idempotent:
// resolving twice reports false the second time with no state change, and an
// unknown comment yields ErrCommentNotFound.
func (s *Store) ResolveComment(ctx context.Context, id document.DocumentID, commentID string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&CommentRecord{}).
		Where("document_id = ? AND comment_id = ? AND resolved = ?", id.String(), commentID, false).
		Update("resolved", true)
	if result.Error != nil {
		s.logError(opResolveComment, "update_failed", result.Error, zap.String("comment_id", commentID))
		return false, newStoreError(opResolveComment, "update_failed", result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&CommentRecord{}).
		Where("document_id = ? AND comment_id = ?", id.String(), commentID).
		Count(&count).Error; err != nil {
		return false, newStoreError(opResolveComment, reasonQueryFailed, err)
	}
	if count == 0 {
		return false, ErrCommentNotFound
	}
	return false, nil
}

// ListComments returns the document's comment sequence in creation order.
func (s *Store) ListComments(ctx context.Context, id document.DocumentID) ([]comments.Comment, error) {
	var records []CommentRecord
	if err := s.db.WithContext(ctx).
		Where("document_id = ?", id.String()).
		Order("created_at_s ASC, comment_id ASC").
		Find(&records).Error; err != nil {
		s.logError(opListComments, reasonQueryFailed, err, zap.String("document_id", id.String()))
		return nil, newStoreError(opListComments, reasonQueryFailed, err)
	}
	listed := make([]comments.Comment, 0, len(records))
	for _, record := range records {
		listed = append(listed, decodeComment(record))
	}
	return listed, nil
}

func encodeDocument(doc document.Document, ownerID string, createdAt time.Time) (DocumentRecord, error) {
	contentJSON, err := json.Marshal(document.Normalize(doc.Content))
	if err != nil {
		return DocumentRecord{}, err
	}
	rolesJSON, err := json.Marshal(doc.Roles)
	if err != nil {
		return DocumentRecord{}, err
	}
	return DocumentRecord{
		DocumentID:       doc.ID.String(),
		Title:            doc.Title,
		ContentJSON:      string(contentJSON),
		RolesJSON:        string(rolesJSON),
		OwnerID:          ownerID,
		CreatedAtSeconds: createdAt.Unix(),
		UpdatedAtSeconds: doc.UpdatedAt.Unix(),
	}, nil
}

func decodeDocument(record DocumentRecord) (document.Document, error) {
	var content []document.Block
	if record.ContentJSON != "" {
		if err := json.Unmarshal([]byte(record.ContentJSON), &content); err != nil {
			return document.Document{}, newStoreError(opFetchDocument, "content_decode_failed", err)
		}
	}
	roles, err := decodeRoles(record.RolesJSON)
	if err != nil {
		return document.Document{}, newStoreError(opFetchDocument, "roles_decode_failed", err)
	}
	return document.Document{
		ID:        document.DocumentID(record.DocumentID),
		Title:     record.Title,
		Content:   document.Normalize(content),
		Roles:     roles,
		UpdatedAt: time.Unix(record.UpdatedAtSeconds, 0).UTC(),
	}, nil
}

func decodeRoles(rolesJSON string) (document.RoleMap, error) {
	roles := document.RoleMap{}
	if rolesJSON == "" {
		return roles, nil
	}
	if err := json.Unmarshal([]byte(rolesJSON), &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func decodeComment(record CommentRecord) comments.Comment {
	return comments.Comment{
		ID:        record.CommentID,
		Author:    record.AuthorID,
		Text:      record.Body,
		CreatedAt: time.Unix(record.CreatedAtSeconds, 0).UTC(),
		Resolved:  record.Resolved,
		Anchor:    record.Anchor,
	}
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("document store error", attrs...)
}
