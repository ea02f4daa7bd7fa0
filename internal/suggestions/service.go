package suggestions

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Priority orders suggestions by urgency.
type Priority string

const (
	// PriorityHigh marks suggestions that should be surfaced first.
	PriorityHigh Priority = "high"
	// PriorityMedium marks mid-urgency suggestions.
	PriorityMedium Priority = "medium"
	// PriorityLow marks nice-to-have suggestions.
	PriorityLow Priority = "low"
)

var errMissingSuggestionID = errors.New("suggestions: suggestion id is required")

// Suggestion is one recommendation produced by an external source. Suggestions
// are never mutated in place; they only enter or leave the active set.
type Suggestion struct {
	ID          string
	Type        string
	Priority    Priority
	Title       string
	Description string
	Details     string
	Impact      string
}

// Mutator receives the applied suggestion and performs the content mutation it
// implies against the owning document session.
type Mutator func(Suggestion)

// ServiceConfig describes the dependencies for a suggestion surface.
type ServiceConfig struct {
	// Mutator is invoked on Apply. Optional; without it Apply only removes
	// the suggestion from the active set.
	Mutator Mutator
	Logger  *zap.Logger
}

// Service owns the active suggestion set attached to one document.
type Service struct {
	mu      sync.Mutex
	mutator Mutator
	logger  *zap.Logger
	active  []Suggestion
}

// NewService constructs the suggestion surface.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		mutator: cfg.Mutator,
		logger:  logger,
	}
}

// Ingest adds suggestions from the external source to the active set.
// Entries whose id is already present or empty are dropped.
func (s *Service) Ingest(incoming []Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, suggestion := range incoming {
		if suggestion.ID == "" {
			return errMissingSuggestionID
		}
		if s.indexOf(suggestion.ID) >= 0 {
			continue
		}
		s.active = append(s.active, suggestion)
	}
	return nil
}

// Apply removes the identified suggestion from the active set and signals the
// content mutation it implies. Applying an absent id is a no-op.
func (s *Service) Apply(suggestionID string) bool {
	s.mu.Lock()
	index := s.indexOf(suggestionID)
	if index < 0 {
		s.mu.Unlock()
		return false
	}
	applied := s.active[index]
	s.active = append(s.active[:index], s.active[index+1:]...)
	mutator := s.mutator
	s.mu.Unlock()

	if mutator != nil {
		mutator(applied)
	}
	s.logger.Debug("suggestion applied", zap.String("suggestion_id", suggestionID))
	return true
}

// Dismiss removes the identified suggestion without mutating content.
// Dismissing an absent id is a no-op.
func (s *Service) Dismiss(suggestionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.indexOf(suggestionID)
	if index < 0 {
		return false
	}
	s.active = append(s.active[:index], s.active[index+1:]...)
	return true
}

// Active returns the current active set in ingestion order.
func (s *Service) Active() []Suggestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]Suggestion, len(s.active))
	copy(copied, s.active)
	return copied
}

// Count returns the size of the active set.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Service) indexOf(suggestionID string) int {
	for i := range s.active {
		if s.active[i].ID == suggestionID {
			return i
		}
	}
	return -1
}
