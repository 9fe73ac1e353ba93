package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/jobs"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Config selects the relational store.
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// Open connects to the configured database. Schema changes are left to Migrate.
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))

	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		dialector = sqlite.Open(cfg.DSN)
	case DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	switch {
	case driver == DriverSQLite:
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if logger != nil {
		logger.Info("database opened", zap.String("driver", driver))
	}
	return db, nil
}

// Models lists every persisted type in creation order.
func Models() []interface{} {
	models := []interface{}{&auth.Account{}, &users.Profile{}, &users.BlockedEmail{}}
	models = append(models, chat.Models()...)
	models = append(models, jobs.Models()...)
	return append(models, &migrationRecord{})
}

// Migrate creates or updates the schema and applies named migrations once.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
