package users

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// ErrInvalidProfile indicates the supplied identity lacked a usable identifier.
var ErrInvalidProfile = errors.New("users: invalid profile")

// ServiceConfig describes the dependencies required for profile tracking.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service records known users and resolves their display names.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// Touch records that the user was seen, creating the profile when the user
// identifier has not been observed before. Display name and email are
// refreshed when non-empty values are supplied.
func (s *Service) Touch(userID, displayName, email string) error {
	id := normalize(userID)
	if id == "" {
		return ErrInvalidProfile
	}

	var profile Profile
	err := s.db.Where("user_id = ?", id).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = Profile{
			UserID:      id,
			DisplayName: normalize(displayName),
			Email:       normalize(email),
			LastSeenAt:  s.now(),
		}
		if err := s.db.Create(&profile).Error; err != nil {
			return err
		}
	} else if err != nil {
		return err
	} else {
		updates := map[string]interface{}{"last_seen_at": s.now()}
		if name := normalize(displayName); name != "" && name != profile.DisplayName {
			updates["display_name"] = name
			profile.DisplayName = name
		}
		if address := normalize(email); address != "" && address != profile.Email {
			updates["email"] = address
		}
		if err := s.db.Model(&Profile{}).
			Where("user_id = ?", id).
			Updates(updates).Error; err != nil {
			return err
		}
	}

	if profile.DisplayName != "" {
		s.cache.Store(id, profile.DisplayName)
	}
	return nil
}

// DisplayName resolves a user's display name, falling back to the raw
// identifier when no profile or name is known.
func (s *Service) DisplayName(userID string) string {
	id := normalize(userID)
	if id == "" {
		return ""
	}
	if cached, ok := s.cache.Load(id); ok {
		if name, ok := cached.(string); ok && name != "" {
			return name
		}
	}

	var profile Profile
	err := s.db.Where("user_id = ?", id).First(&profile).Error
	if err != nil || normalize(profile.DisplayName) == "" {
		return id
	}
	s.cache.Store(id, profile.DisplayName)
	return profile.DisplayName
}
