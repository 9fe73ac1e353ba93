package users

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	registrationAge = 18
	dateLayout      = "2006-01-02"

	opCheckEmailBlocked = "users.check_email_blocked"
	opBlockEmail        = "users.block_email"
)

// BlockStatus reports whether an address is currently barred from registering.
type BlockStatus struct {
	IsBlocked     bool       `json:"isBlocked"`
	CanRegisterAt *time.Time `json:"canRegisterAt,omitempty"`
}

// ParseBirthdate parses a YYYY-MM-DD date.
func ParseBirthdate(raw string) (time.Time, error) {
	return time.Parse(dateLayout, strings.TrimSpace(raw))
}

// CheckEmailBlocked reports whether email is blocked as of today. A block ends
// once its CanRegisterAt day has passed.
func (s *Service) CheckEmailBlocked(ctx context.Context, email string) (BlockStatus, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return BlockStatus{}, apperr.Invalid(opCheckEmailBlocked, "email", err)
	}
	today := startOfDay(s.now())

	var blocked BlockedEmail
	err = s.db.WithContext(ctx).
		Where("email = ? AND can_register_at >= ?", normalized, today).
		Take(&blocked).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BlockStatus{IsBlocked: false}, nil
	}
	if err != nil {
		s.logError(opCheckEmailBlocked, "query_failed", err)
		return BlockStatus{}, apperr.New(opCheckEmailBlocked, "query_failed", apperr.KindInternal, err)
	}
	canRegisterAt := blocked.CanRegisterAt
	return BlockStatus{IsBlocked: true, CanRegisterAt: &canRegisterAt}, nil
}

// IsEmailBlocked satisfies auth.EmailGate.
func (s *Service) IsEmailBlocked(ctx context.Context, email string) (bool, error) {
	status, err := s.CheckEmailBlocked(ctx, email)
	if err != nil {
		return false, err
	}
	return status.IsBlocked, nil
}

// BlockEmail blocks email until the owner turns eighteen. It reports true when
// the address was already on the list, in which case nothing changes.
func (s *Service) BlockEmail(ctx context.Context, email string, birthdate time.Time) (bool, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return false, apperr.Invalid(opBlockEmail, "email", err)
	}
	if birthdate.IsZero() {
		return false, apperr.Invalid(opBlockEmail, "birthdate", errors.New("empty"))
	}
	birthdate = startOfDay(birthdate)

	var existing int64
	if err := s.db.WithContext(ctx).Model(&BlockedEmail{}).Where("email = ?", normalized).Count(&existing).Error; err != nil {
		s.logError(opBlockEmail, "query_failed", err)
		return false, apperr.New(opBlockEmail, "query_failed", apperr.KindInternal, err)
	}
	if existing > 0 {
		return true, nil
	}

	record := BlockedEmail{
		Email:         normalized,
		Birthdate:     birthdate,
		CanRegisterAt: birthdate.AddDate(registrationAge, 0, 0),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opBlockEmail, "insert_failed", err, zap.String("email", normalized))
		return false, apperr.New(opBlockEmail, "insert_failed", apperr.KindInternal, err)
	}
	return false, nil
}

func normalizeEmail(raw string) (string, error) {
	trimmed := strings.ToLower(normalize(raw))
	if trimmed == "" {
		return "", errors.New("empty")
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", err
	}
	return parsed.Address, nil
}

func startOfDay(t time.Time) time.Time {
	utc := t.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}
