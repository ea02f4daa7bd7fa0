package database

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/scribe/backend/internal/document"
	"github.com/MarcoPoloResearchLab/scribe/backend/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillOwnerRoles = "2026-06-18_backfill_owner_roles"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillOwnerRoles, apply: backfillOwnerRoles},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillOwnerRoles repairs documents created before role maps were
// mandatory: any document with an empty role map gets its owner granted the
// admin role.
func backfillOwnerRoles(db *gorm.DB) error {
	var records []storage.DocumentRecord
	if err := db.Where("roles_json = '' OR roles_json = '{}' OR roles_json = 'null'").Find(&records).Error; err != nil {
		return err
	}
	for _, record := range records {
		if record.OwnerID == "" {
			continue
		}
		rolesJSON, err := json.Marshal(document.RoleMap{record.OwnerID: document.RoleAdmin})
		if err != nil {
			return err
		}
		if err := db.Model(&storage.DocumentRecord{}).
			Where("document_id = ?", record.DocumentID).
			Update("roles_json", string(rolesJSON)).Error; err != nil {
			return err
		}
	}
	return nil
}
