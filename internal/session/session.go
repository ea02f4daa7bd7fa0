package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/scribe/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/scribe/backend/internal/document"
	"github.com/MarcoPoloResearchLab/scribe/backend/internal/suggestions"
	"go.uber.org/zap"
)

const (
	// DefaultDebounceDelay is the quiet period applied to title and content
	// edits before a save evaluation runs.
	DefaultDebounceDelay = 1500 * time.Millisecond
	// DefaultSavedDisplayInterval is how long the saved state is shown before
	// decaying back to idle.
	DefaultSavedDisplayInterval = 2000 * time.Millisecond
)

var (
	errMissingAPI    = errors.New("document api is required")
	errMissingUserID = errors.New("user identifier is required")

	noOpLogger = zap.NewNop()
)

const (
	opSessionNew = "session.new"
	opLoad       = "session.load"
	opSave       = "session.save"
)

// SessionError wraps failures raised by the document session with an
// operation code.
type SessionError struct {
	code string
	err  error
}

func (e *SessionError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *SessionError) Unwrap() error {
	return e.err
}

// Code returns the operation code describing where the failure occurred.
func (e *SessionError) Code() string {
	return e.code
}

func newSessionError(operation, reason string, cause error) error {
	return &SessionError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// DocumentAPI is the persistence contract the session consumes. Any failure
// from UpdateDocument is treated uniformly as "save failed, retain dirty
// state"; the session never inspects the cause beyond logging it.
type DocumentAPI interface {
	FetchDocument(ctx context.Context, id document.DocumentID) (document.Document, error)
	UpdateDocument(ctx context.Context, id document.DocumentID, title string, content []document.Block) (time.Time, error)
}

// PresenceProvider supplies active-user data for a document. Failures must
// never block editing or saving, so the session swallows them.
type PresenceProvider interface {
	ActiveUsers(id document.DocumentID) ([]string, error)
}

// snapshot is the last known persisted (title, content) pair. It is replaced
// atomically as a whole, only on load and on confirmed save success.
type snapshot struct {
	title   string
	content []document.Block
}

// Config describes the dependencies and tunables for a document session.
type Config struct {
	API                  DocumentAPI
	UserID               document.UserID
	Clock                func() time.Time
	Logger               *zap.Logger
	DebounceDelay        time.Duration
	SavedDisplayInterval time.Duration
	Comments             *comments.Service
	Suggestions          *suggestions.Service
	Presence             PresenceProvider
}

// Session owns one loaded document: its role-derived permission, the
// persisted-state snapshot, and the autosave coordination across the
// document's lifetime. All work is event driven; edits, timer expirations and
// network completions interleave under a single mutex.
type Session struct {
	mu sync.Mutex

	api         DocumentAPI
	userID      document.UserID
	clock       func() time.Time
	logger      *zap.Logger
	comments    *comments.Service
	suggestions *suggestions.Service
	presence    PresenceProvider

	savedInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	titleDebounce   *Debouncer
	contentDebounce *Debouncer

	// generation increments on every Load and on Close. Completions carrying
	// a stale generation are discarded, so a response for a document the
	// session has navigated away from can never corrupt the snapshot.
	generation uint64
	closed     bool
	loaded     bool

	doc      document.Document
	role     document.Role
	editable bool

	title   string
	content []document.Block

	baseline  snapshot
	status    SaveStatus
	saveErr   error
	lastSaved time.Time

	savedTimer *time.Timer
}

// NewSession constructs a session bound to one user identity. The session is
// inert until Load succeeds.
func NewSession(cfg Config) (*Session, error) {
	if cfg.API == nil {
		return nil, newSessionError(opSessionNew, "missing_api", errMissingAPI)
	}
	if cfg.UserID == "" {
		return nil, newSessionError(opSessionNew, "missing_user_id", errMissingUserID)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	delay := cfg.DebounceDelay
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	savedInterval := cfg.SavedDisplayInterval
	if savedInterval <= 0 {
		savedInterval = DefaultSavedDisplayInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		api:           cfg.API,
		userID:        cfg.UserID,
		clock:         clock,
		logger:        logger,
		comments:      cfg.Comments,
		suggestions:   cfg.Suggestions,
		presence:      cfg.Presence,
		savedInterval: savedInterval,
		ctx:           ctx,
		cancel:        cancel,
		status:        StatusIdle,
	}

	titleDebounce, err := NewDebouncer(delay, s.evaluate)
	if err != nil {
		cancel()
		return nil, newSessionError(opSessionNew, "title_debounce", err)
	}
	contentDebounce, err := NewDebouncer(delay, s.evaluate)
	if err != nil {
		cancel()
		return nil, newSessionError(opSessionNew, "content_debounce", err)
	}
	s.titleDebounce = titleDebounce
	s.contentDebounce = contentDebounce
	return s, nil
}

// Load fetches the document, recomputes the viewer's permission, normalizes
// empty content to the canonical default block, and initializes the snapshot
// and live buffer. A fresh Load supersedes any in-flight one.
func (s *Session) Load(ctx context.Context, id document.DocumentID) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return newSessionError(opLoad, "session_closed", nil)
	}
	s.generation++
	gen := s.generation
	s.loaded = false
	s.editable = false
	s.status = StatusIdle
	s.saveErr = nil
	s.stopSavedTimerLocked()
	s.mu.Unlock()

	doc, err := s.api.FetchDocument(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.generation {
		// A newer load or teardown superseded this fetch; discard it.
		return nil
	}
	if err != nil {
		s.logger.Error("document load failed",
			zap.String("operation", opLoad),
			zap.String("document_id", id.String()),
			zap.Error(err))
		return newSessionError(opLoad, "fetch_failed", err)
	}

	normalized := document.Normalize(doc.Content)
	doc.Content = normalized

	s.doc = doc
	s.role = doc.RoleFor(s.userID)
	s.editable = s.role.CanEdit()
	s.title = doc.Title
	s.content = document.Clone(normalized)
	s.baseline = snapshot{title: doc.Title, content: document.Clone(normalized)}
	s.lastSaved = doc.UpdatedAt
	s.loaded = true

	s.logger.Info("document loaded",
		zap.String("document_id", id.String()),
		zap.String("role", string(s.role)),
		zap.Bool("editable", s.editable))
	return nil
}

// SetTitle records a live title edit and restarts the title debounce window.
// Non-editable sessions ignore edits entirely.
func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	if !s.loaded || s.closed || !s.editable {
		s.mu.Unlock()
		return
	}
	s.title = title
	s.mu.Unlock()
	s.titleDebounce.Trigger()
}

// SetContent records a live content edit and restarts the content debounce
// window. The provided tree is treated as a read-only input owned by the
// editor; it is deep copied before it can enter the snapshot.
func (s *Session) SetContent(content []document.Block) {
	s.mu.Lock()
	if !s.loaded || s.closed || !s.editable {
		s.mu.Unlock()
		return
	}
	s.content = content
	s.mu.Unlock()
	s.contentDebounce.Trigger()
}

// evaluate runs on every debounce settlement: diff the live buffer against
// the snapshot and drive the save coordinator when something changed.
func (s *Session) evaluate() {
	s.mu.Lock()
	if s.closed || !s.loaded || !s.editable || s.status == StatusSaving {
		// A save already in flight suppresses this evaluation; the next
		// settlement after it completes re-evaluates against the updated
		// snapshot.
		s.mu.Unlock()
		return
	}

	titleChanged := s.title != s.baseline.title
	contentChanged := !document.Equal(s.content, s.baseline.content)
	if !titleChanged && !contentChanged {
		s.mu.Unlock()
		return
	}

	s.status = StatusSaving
	s.stopSavedTimerLocked()
	gen := s.generation
	docID := s.doc.ID
	payloadTitle := s.title
	payloadContent := document.Clone(s.content)
	s.mu.Unlock()

	updatedAt, err := s.api.UpdateDocument(s.ctx, docID, payloadTitle, payloadContent)
	s.completeSave(gen, docID, payloadTitle, payloadContent, updatedAt, err)
}

// completeSave applies the outcome of a persist attempt. Stale completions
// for a superseded load or a torn-down session are discarded before they can
// touch the snapshot.
func (s *Session) completeSave(gen uint64, docID document.DocumentID, title string, content []document.Block, updatedAt time.Time, saveErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.generation || s.doc.ID != docID {
		return
	}

	if saveErr != nil {
		// Snapshot stays put so the next debounce tick detects the same diff
		// and retries. The failure is surfaced, never fatal.
		s.status = StatusError
		s.saveErr = saveErr
		s.logger.Warn("document save failed",
			zap.String("operation", opSave),
			zap.String("document_id", docID.String()),
			zap.Error(saveErr))
		return
	}

	s.baseline = snapshot{title: title, content: document.Clone(content)}
	s.saveErr = nil
	if updatedAt.IsZero() {
		updatedAt = s.clock().UTC()
	}
	s.lastSaved = updatedAt
	s.status = StatusSaved

	s.savedTimer = time.AfterFunc(s.savedInterval, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || gen != s.generation {
			return
		}
		if s.status == StatusSaved {
			s.status = StatusIdle
		}
	})
}

// Editable reports whether the current user may mutate the document.
func (s *Session) Editable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editable
}

// Role returns the capability tier resolved at load time.
func (s *Session) Role() document.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Status returns the current save coordinator state.
func (s *Session) Status() SaveStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Document returns a copy of the loaded document with the snapshot title and
// content, reflecting the last confirmed persisted state.
func (s *Session) Document() document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.doc
	doc.Title = s.baseline.title
	doc.Content = document.Clone(s.baseline.content)
	doc.Roles = s.doc.Roles.Clone()
	return doc
}

// Surface builds the read-only status projection for the display layer.
func (s *Session) Surface() StatusSurface {
	s.mu.Lock()
	surface := StatusSurface{
		Status:      s.status,
		Editable:    s.editable,
		LastSavedAt: s.lastSaved,
	}
	if s.saveErr != nil {
		surface.SaveError = s.saveErr.Error()
	}
	docID := s.doc.ID
	loaded := s.loaded
	s.mu.Unlock()

	if s.comments != nil {
		surface.CommentCount = s.comments.Count()
	}
	if s.suggestions != nil {
		surface.SuggestionCount = s.suggestions.Count()
	}
	if s.presence != nil && loaded {
		users, err := s.presence.ActiveUsers(docID)
		if err != nil {
			s.logger.Debug("presence lookup failed", zap.Error(err))
		} else {
			surface.ActiveUsers = users
		}
	}
	return surface
}

// Close tears the session down: pending debounce timers are cancelled and any
// in-flight save or load response is discarded when it eventually arrives.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	s.stopSavedTimerLocked()
	s.mu.Unlock()

	s.titleDebounce.Stop()
	s.contentDebounce.Stop()
	s.cancel()
}

func (s *Session) stopSavedTimerLocked() {
	if s.savedTimer != nil {
		s.savedTimer.Stop()
		s.savedTimer = nil
	}
}
