package comments

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrEmptyComment indicates that a comment body was empty or whitespace only.
	ErrEmptyComment = errors.New("comments: empty comment text")
	// ErrMissingAuthor indicates that a comment author identifier was missing.
	ErrMissingAuthor = errors.New("comments: author is required")

	errMissingIDProvider = errors.New("comments: id provider is required")

	noOpLogger = zap.NewNop()
)

const (
	opServiceNew = "comments.service.new"
	opAdd        = "comments.add"
)

// IDProvider issues identifiers for newly created comments.
type IDProvider interface {
	NewID() (string, error)
}

// Comment is one entry in a document's ordered comment sequence. Comments are
// append-only; the only mutation is the irreversible resolution flip.
type Comment struct {
	ID        string
	Author    string
	Text      string
	CreatedAt time.Time
	Resolved  bool
	// Anchor optionally ties a comment to a content position. Negative means
	// unanchored.
	Anchor int
}

// ServiceConfig describes the dependencies for a comment surface.
type ServiceConfig struct {
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service owns the ordered comment sequence attached to one document.
type Service struct {
	mu         sync.Mutex
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
	comments   []Comment
}

// NewService constructs the comment surface.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("%s: %w", opServiceNew, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Add appends a comment with the given text and author. Empty or
// whitespace-only text is rejected before any state changes.
func (s *Service) Add(author, text string) (Comment, error) {
	return s.AddAnchored(author, text, -1)
}

// AddAnchored appends a comment tied to a content position.
func (s *Service) AddAnchored(author, text string, anchor int) (Comment, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Comment{}, ErrEmptyComment
	}
	if strings.TrimSpace(author) == "" {
		return Comment{}, ErrMissingAuthor
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logger.Error("comment id generation failed",
			zap.String("operation", opAdd),
			zap.Error(err))
		return Comment{}, fmt.Errorf("%s: %w", opAdd, err)
	}

	comment := Comment{
		ID:        id,
		Author:    strings.TrimSpace(author),
		Text:      trimmed,
		CreatedAt: s.clock().UTC(),
		Anchor:    anchor,
	}

	s.mu.Lock()
	s.comments = append(s.comments, comment)
	s.mu.Unlock()
	return comment, nil
}

// Resolve flips the resolved flag of the identified comment to true. The flip
// is irreversible and idempotent; resolving an already resolved or unknown
// comment changes nothing.
func (s *Service) Resolve(commentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.comments {
		if s.comments[i].ID != commentID {
			continue
		}
		if s.comments[i].Resolved {
			return false
		}
		s.comments[i].Resolved = true
		return true
	}
	return false
}

// List returns the comment sequence in insertion order.
func (s *Service) List() []Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]Comment, len(s.comments))
	copy(copied, s.comments)
	return copied
}

// Count returns the number of comments in the sequence.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.comments)
}
