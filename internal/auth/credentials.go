package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	minPasswordLength = 8
	minimumAge        = 18

	opSignUp = "auth.sign_up"
	opSignIn = "auth.sign_in"
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingEmailGate = errors.New("email gate is required")
	errMissingProfiles  = errors.New("profile registrar is required")
	noOpLogger          = zap.NewNop()
)

// Account stores the local credentials for a user.
type Account struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:100;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing local accounts.
func (Account) TableName() string {
	return "accounts"
}

// EmailGate decides whether an address may register.
type EmailGate interface {
	IsEmailBlocked(ctx context.Context, email string) (bool, error)
	BlockEmail(ctx context.Context, email string, birthdate time.Time) (bool, error)
}

// RegisteredAccount is passed to the ProfileRegistrar after an account is created.
type RegisteredAccount struct {
	UserID      string
	Email       string
	DisplayName string
	Username    string
	AccountType string
}

// ProfileRegistrar creates the public profile for a new account.
type ProfileRegistrar interface {
	RegisterProfile(ctx context.Context, account RegisteredAccount) error
}

// SignUpRequest carries the sign-up form.
type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
	Username    string
	AccountType string
	Birthdate   time.Time
}

// CredentialServiceConfig wires the credential service.
type CredentialServiceConfig struct {
	Database   *gorm.DB
	EmailGate  EmailGate
	Profiles   ProfileRegistrar
	Clock      func() time.Time
	BcryptCost int
	Logger     *zap.Logger
}

// CredentialService signs users up and in with e-mail and password.
type CredentialService struct {
	db       *gorm.DB
	gate     EmailGate
	profiles ProfileRegistrar
	clock    func() time.Time
	cost     int
	logger   *zap.Logger
}

// NewCredentialService validates dependencies and returns a CredentialService.
func NewCredentialService(cfg CredentialServiceConfig) (*CredentialService, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.EmailGate == nil {
		return nil, errMissingEmailGate
	}
	if cfg.Profiles == nil {
		return nil, errMissingProfiles
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &CredentialService{
		db:       cfg.Database,
		gate:     cfg.EmailGate,
		profiles: cfg.Profiles,
		clock:    clock,
		cost:     cost,
		logger:   logger,
	}, nil
}

// SignUp creates an account and its profile. Addresses that are blocked, or
// whose owner is under age, are rejected; under-age addresses are blocked
// until the owner turns eighteen.
func (s *CredentialService) SignUp(ctx context.Context, request SignUpRequest) (Account, error) {
	email, err := normalizeEmail(request.Email)
	if err != nil {
		return Account{}, apperr.Invalid(opSignUp, "email", err)
	}
	if len(request.Password) < minPasswordLength {
		return Account{}, apperr.Invalid(opSignUp, "password", errors.New("password too short"))
	}
	if strings.TrimSpace(request.DisplayName) == "" {
		return Account{}, apperr.Invalid(opSignUp, "display_name", errors.New("display name required"))
	}
	if strings.TrimSpace(request.Username) == "" {
		return Account{}, apperr.Invalid(opSignUp, "username", errors.New("username required"))
	}
	accountType := strings.ToLower(strings.TrimSpace(request.AccountType))
	if accountType == "" {
		accountType = AccountTypeWorker
	}
	if accountType != AccountTypeWorker && accountType != AccountTypeEmployer {
		return Account{}, apperr.Invalid(opSignUp, "account_type", errors.New("unknown account type"))
	}
	if request.Birthdate.IsZero() {
		return Account{}, apperr.Invalid(opSignUp, "birthdate", errors.New("birthdate required"))
	}

	blocked, err := s.gate.IsEmailBlocked(ctx, email)
	if err != nil {
		s.logError(opSignUp, "gate_check_failed", err)
		return Account{}, apperr.New(opSignUp, "gate_check_failed", apperr.KindInternal, err)
	}
	if blocked {
		return Account{}, apperr.New(opSignUp, "email_blocked", apperr.KindForbidden, nil)
	}

	if !IsAdult(request.Birthdate, s.clock()) {
		if _, err := s.gate.BlockEmail(ctx, email, request.Birthdate); err != nil {
			s.logError(opSignUp, "block_email_failed", err)
		}
		return Account{}, apperr.New(opSignUp, "underage", apperr.KindForbidden, nil)
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&Account{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		s.logError(opSignUp, "account_lookup_failed", err)
		return Account{}, apperr.New(opSignUp, "account_lookup_failed", apperr.KindInternal, err)
	}
	if existing > 0 {
		return Account{}, apperr.New(opSignUp, "email_taken", apperr.KindConflict, nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(request.Password), s.cost)
	if err != nil {
		s.logError(opSignUp, "hash_failed", err)
		return Account{}, apperr.New(opSignUp, "hash_failed", apperr.KindInternal, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Account{}, apperr.New(opSignUp, "id_generation_failed", apperr.KindInternal, err)
	}
	account := Account{ID: id.String(), Email: email, PasswordHash: string(hash)}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		s.logError(opSignUp, "account_insert_failed", err)
		return Account{}, apperr.New(opSignUp, "account_insert_failed", apperr.KindInternal, err)
	}

	registerErr := s.profiles.RegisterProfile(ctx, RegisteredAccount{
		UserID:      account.ID,
		Email:       email,
		DisplayName: strings.TrimSpace(request.DisplayName),
		Username:    strings.TrimSpace(request.Username),
		AccountType: accountType,
	})
	if registerErr != nil {
		if err := s.db.WithContext(ctx).Delete(&Account{}, "id = ?", account.ID).Error; err != nil {
			s.logError(opSignUp, "account_rollback_failed", err, zap.String("user_id", account.ID))
		}
		return Account{}, registerErr
	}

	return account, nil
}

// SignIn checks the password for the account registered under email.
func (s *CredentialService) SignIn(ctx context.Context, email, password string) (Account, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return Account{}, apperr.Invalid(opSignIn, "email", err)
	}
	var account Account
	err = s.db.WithContext(ctx).Where("email = ?", normalized).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, apperr.New(opSignIn, "invalid_credentials", apperr.KindUnauthorized, nil)
	}
	if err != nil {
		s.logError(opSignIn, "account_lookup_failed", err)
		return Account{}, apperr.New(opSignIn, "account_lookup_failed", apperr.KindInternal, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Account{}, apperr.New(opSignIn, "invalid_credentials", apperr.KindUnauthorized, nil)
	}
	return account, nil
}

// IsAdult reports whether someone born on birthdate has turned eighteen by now.
func IsAdult(birthdate, now time.Time) bool {
	return !birthdate.AddDate(minimumAge, 0, 0).After(now)
}

func normalizeEmail(raw string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return "", errors.New("email required")
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", err
	}
	return parsed.Address, nil
}

func (s *CredentialService) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("credential service error", attrs...)
}
