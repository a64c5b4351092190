package database

import (
	"errors"
	"time"

	"github.com/pinprompt/backend/internal/content"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillLikeCounts = "2026-07-18_backfill_like_counts"

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
		{name: migrationBackfillLikeCounts, apply: backfillLikeCounts},
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

// backfillLikeCounts repairs cached like counters that drifted from the
// likes table before counter updates became atomic.
func backfillLikeCounts(db *gorm.DB) error {
	return db.Model(&content.ContentItem{}).
		Where("1 = 1").
		Update("like_count", gorm.Expr(
			"(SELECT COUNT(*) FROM likes WHERE likes.item_id = content_items.item_id)")).Error
}
