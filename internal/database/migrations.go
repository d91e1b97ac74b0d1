package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/squares/internal/notifications"
	"github.com/MarcoPoloResearchLab/squares/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeNotificationKinds = "2026-06-01_normalize_notification_kinds"
	migrationStripIdentityProviderIDs   = "2026-06-15_strip_identity_provider_ids"
)

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
		{name: migrationNormalizeNotificationKinds, apply: normalizeNotificationKinds},
		{name: migrationStripIdentityProviderIDs, apply: stripIdentityProviderIDs},
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
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Older writers stored free-form kinds; clients only style the four known ones.
func normalizeNotificationKinds(db *gorm.DB) error {
	known := []notifications.Kind{
		notifications.KindInfo,
		notifications.KindSuccess,
		notifications.KindLive,
		notifications.KindWarn,
	}
	return db.Model(&notifications.Event{}).
		Where("kind NOT IN ?", known).
		Update("kind", notifications.KindInfo).Error
}

// Identities created before canonicalization kept the "provider:" prefix in user_id.
func stripIdentityProviderIDs(db *gorm.DB) error {
	var identities []users.Identity
	if err := db.Where("user_id = provider || ':' || subject").Find(&identities).Error; err != nil {
		return err
	}
	for _, identity := range identities {
		if err := db.Model(&users.Identity{}).
			Where("provider = ? AND subject = ?", identity.Provider, identity.Subject).
			Update("user_id", identity.Subject).Error; err != nil {
			return err
		}
	}
	return nil
}
