package document

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidDocumentID indicates that a document identifier is empty or exceeds storage bounds.
	ErrInvalidDocumentID = errors.New("document: invalid document id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("document: invalid user id")
	// ErrInvalidRole indicates that a role value is not one of the supported tiers.
	ErrInvalidRole = errors.New("document: invalid role")
)

// DocumentID represents a validated document identifier.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID.
func NewDocumentID(rawInput string) (DocumentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDocumentID, maxIdentifierLength)
	}
	return DocumentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DocumentID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Role enumerates the capability tiers a user can hold on a document.
type Role string

const (
	// RoleAdmin grants full edit and sharing rights.
	RoleAdmin Role = "admin"
	// RoleEditor grants edit rights without sharing rights.
	RoleEditor Role = "editor"
	// RoleViewer grants read-only access.
	RoleViewer Role = "viewer"
	// RoleNone marks a user absent from the role map.
	RoleNone Role = ""
)

// ParseRole validates a raw role value.
func ParseRole(rawInput string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(rawInput))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleEditor:
		return RoleEditor, nil
	case RoleViewer:
		return RoleViewer, nil
	default:
		return RoleNone, fmt.Errorf("%w: %q", ErrInvalidRole, rawInput)
	}
}

// CanEdit reports whether the role permits mutating the document.
func (r Role) CanEdit() bool {
	return r == RoleAdmin || r == RoleEditor
}

// CanShare reports whether the role permits changing the role map.
func (r Role) CanShare() bool {
	return r == RoleAdmin
}

// RoleMap associates user identifiers with their capability tier.
// Users without a role are absent from the map.
type RoleMap map[string]Role

// RoleFor returns the role held by the given user, RoleNone when absent.
func (m RoleMap) RoleFor(userID UserID) Role {
	if m == nil {
		return RoleNone
	}
	role, ok := m[userID.String()]
	if !ok {
		return RoleNone
	}
	return role
}

// Clone returns an independent copy of the role map.
func (m RoleMap) Clone() RoleMap {
	if m == nil {
		return nil
	}
	copied := make(RoleMap, len(m))
	for user, role := range m {
		copied[user] = role
	}
	return copied
}

// Document models a loaded document with its role map and persistence metadata.
type Document struct {
	ID        DocumentID
	Title     string
	Content   []Block
	Roles     RoleMap
	UpdatedAt time.Time
}

// RoleFor resolves the capability tier the given user holds on the document.
func (d Document) RoleFor(userID UserID) Role {
	return d.Roles.RoleFor(userID)
}
