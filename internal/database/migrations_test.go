package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/users"
	"go.uber.org/zap"
)

func TestMigrateCreatesSchemaAndIsRepeatable(testContext *testing.T) {
	database, err := Open(Config{Driver: DriverSQLite, DSN: filepath.Join(testContext.TempDir(), "alias.db")}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		if err := Migrate(database, zap.NewNop()); err != nil {
			testContext.Fatalf("migration attempt %d failed: %v", attempt+1, err)
		}
	}

	for _, table := range []string{"accounts", "profiles", "servers", "messages", "reactions", "job_postings", "job_applications", "worker_job_history"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}

	var applied int64
	if err := database.Model(&migrationRecord{}).Count(&applied).Error; err != nil {
		testContext.Fatalf("failed to count migrations: %v", err)
	}
	if applied != 2 {
		testContext.Fatalf("expected 2 recorded migrations, got %d", applied)
	}
}

func TestApplyMigrationsLowercasesBlockedEmails(testContext *testing.T) {
	database, err := Open(Config{Driver: DriverSQLite, DSN: filepath.Join(testContext.TempDir(), "migration.db")}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&users.BlockedEmail{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	birthdate := time.Date(2010, 5, 1, 0, 0, 0, 0, time.UTC)
	for _, email := range []string{"Kid@Example.com", "kid@example.com", "Teen@Example.com"} {
		row := users.BlockedEmail{Email: email, Birthdate: birthdate, CanRegisterAt: birthdate.AddDate(18, 0, 0)}
		if err := database.Create(&row).Error; err != nil {
			testContext.Fatalf("failed to insert %s: %v", email, err)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var emails []string
	if err := database.Model(&users.BlockedEmail{}).Order("email").Pluck("email", &emails).Error; err != nil {
		testContext.Fatalf("failed to reload emails: %v", err)
	}
	if len(emails) != 2 || emails[0] != "kid@example.com" || emails[1] != "teen@example.com" {
		testContext.Fatalf("unexpected emails after migration: %v", emails)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationLowercaseBlockedEmails).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open(Config{Driver: "oracle", DSN: "x"}, nil); err == nil {
		testContext.Fatalf("expected unsupported driver error")
	}
	if _, err := Open(Config{Driver: DriverSQLite}, nil); err == nil {
		testContext.Fatalf("expected missing dsn error")
	}
}
