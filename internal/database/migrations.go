package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationLowercaseBlockedEmails = "2025-11-01_lowercase_blocked_emails"
	migrationMessageSearchIndex     = "2025-11-08_message_search_index"
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
		{name: migrationLowercaseBlockedEmails, apply: lowercaseBlockedEmails},
		{name: migrationMessageSearchIndex, apply: createMessageSearchIndex},
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

// lowercaseBlockedEmails folds addresses stored before lookups became
// case-insensitive. Rows that would collide with an existing lowercase row
// are dropped.
func lowercaseBlockedEmails(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM blocked_emails WHERE email <> LOWER(email)
			AND LOWER(email) IN (SELECT lowered FROM (SELECT LOWER(email) AS lowered FROM blocked_emails WHERE email = LOWER(email)) AS existing)`).Error; err != nil {
			return err
		}
		return tx.Exec("UPDATE blocked_emails SET email = LOWER(email) WHERE email <> LOWER(email)").Error
	})
}

// createMessageSearchIndex backs the postgres full-text message search.
// Other dialects fall back to LIKE and need no index.
func createMessageSearchIndex(db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	return db.Exec("CREATE INDEX IF NOT EXISTS idx_messages_content_fts ON messages USING GIN (to_tsvector('english', content))").Error
}
