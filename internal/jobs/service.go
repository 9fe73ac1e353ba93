// Package jobs implements the job board: postings, applications with a
// capacity limit, worker job history and the standalone worker directory.
package jobs

import (
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opServiceNew = "jobs.service.new"

var errMissingDatabase = errors.New("database handle is required")

// ServiceConfig wires the job board service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	NewID    func() (string, error)
	Logger   *zap.Logger
}

// Service owns the job board tables.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	newID  func() (string, error)
	logger *zap.Logger
}

// NewService validates dependencies and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(opServiceNew, "missing_database", apperr.KindInternal, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() (string, error) {
			value, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return value.String(), nil
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, newID: newID, logger: logger}, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) generateID(operation string) (string, error) {
	id, err := s.newID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return "", apperr.New(operation, "id_generation_failed", apperr.KindInternal, err)
	}
	return id, nil
}

// requireText trims value and rejects it when empty.
func requireText(operation, field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", apperr.Invalid(operation, field, errors.New("empty"))
	}
	return trimmed, nil
}

func optionalText(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("jobs service error", attrs...)
}
