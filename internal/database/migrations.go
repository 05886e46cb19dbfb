package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/clipshare/internal/users"
)

const (
	migrationSyncFeaturedMarkers = "2024-07-01_sync_featured_markers"
	migrationSyncUserBans        = "2024-07-01_sync_user_bans"
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
		{name: migrationSyncFeaturedMarkers, apply: syncFeaturedMarkers},
		{name: migrationSyncUserBans, apply: syncUserBans},
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
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
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

// syncFeaturedMarkers makes featured_clips hold exactly the clips flagged as featured.
func syncFeaturedMarkers(db *gorm.DB) error {
	insert := `INSERT INTO featured_clips (clip_id, created_at)
		SELECT id, upload_date FROM clips
		WHERE featured = ? AND id NOT IN (SELECT clip_id FROM featured_clips)`
	if err := db.Exec(insert, true).Error; err != nil {
		return err
	}
	return db.Exec(`DELETE FROM featured_clips
		WHERE clip_id NOT IN (SELECT id FROM clips WHERE featured = ?)`, true).Error
}

// syncUserBans gives every banned account a ban record and drops records of unbanned ones.
func syncUserBans(db *gorm.DB) error {
	now := time.Now().UTC()
	insert := `INSERT INTO user_bans (user_id, reason, admin_id, created_at, updated_at)
		SELECT id, ?, '', ?, ? FROM users
		WHERE banned = ? AND id NOT IN (SELECT user_id FROM user_bans)`
	if err := db.Exec(insert, users.DefaultBanReason, now, now, true).Error; err != nil {
		return err
	}
	return db.Exec(`DELETE FROM user_bans
		WHERE user_id NOT IN (SELECT id FROM users WHERE banned = ?)`, true).Error
}
