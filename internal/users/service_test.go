package users

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openProfileDatabase(t *testing.T) *gorm.DB {
	t.Helper()
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
	if err := db.AutoMigrate(&Profile{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newProfileService(t *testing.T) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database: openProfileDatabase(t),
		Clock:    func() time.Time { return time.Unix(1750000000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return service
}

func TestTouchRejectsBlankIdentifier(t *testing.T) {
	service := newProfileService(t)
	if err := service.Touch("   ", "Someone", ""); !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}
}

func TestTouchCreatesAndUpdatesProfile(t *testing.T) {
	service := newProfileService(t)

	if err := service.Touch("user-1", "Alex Writer", "alex@example.com"); err != nil {
		t.Fatalf("unexpected touch error: %v", err)
	}
	if got := service.DisplayName("user-1"); got != "Alex Writer" {
		t.Fatalf("expected the stored display name, got %q", got)
	}

	if err := service.Touch("user-1", "Alexandra Writer", ""); err != nil {
		t.Fatalf("unexpected touch error: %v", err)
	}
	if got := service.DisplayName("user-1"); got != "Alexandra Writer" {
		t.Fatalf("expected the refreshed display name, got %q", got)
	}
}

func TestTouchKeepsNameWhenBlankProvided(t *testing.T) {
	service := newProfileService(t)

	if err := service.Touch("user-1", "Alex Writer", ""); err != nil {
		t.Fatalf("unexpected touch error: %v", err)
	}
	if err := service.Touch("user-1", "  ", ""); err != nil {
		t.Fatalf("unexpected touch error: %v", err)
	}
	if got := service.DisplayName("user-1"); got != "Alex Writer" {
		t.Fatalf("a blank name must not erase the stored one, got %q", got)
	}
}

func TestDisplayNameFallsBackToIdentifier(t *testing.T) {
	service := newProfileService(t)

	if got := service.DisplayName("ghost-1"); got != "ghost-1" {
		t.Fatalf("unknown users must render as their identifier, got %q", got)
	}

	if err := service.Touch("user-2", "", ""); err != nil {
		t.Fatalf("unexpected touch error: %v", err)
	}
	if got := service.DisplayName("user-2"); got != "user-2" {
		t.Fatalf("nameless profiles must render as the identifier, got %q", got)
	}
}
