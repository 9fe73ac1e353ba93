package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxDisplayNameLength = 64
	maxUsernameLength    = 32

	opRegisterProfile   = "users.register_profile"
	opCreateProfile     = "users.create_profile"
	opEnsureProfile     = "users.ensure_profile"
	opGetProfile        = "users.get_profile"
	opListProfiles      = "users.list_profiles"
	opChangeDisplayName = "users.change_display_name"
	opChangeAvatar      = "users.change_avatar"
)

var noOpLogger = zap.NewNop()

// ServiceConfig describes the dependencies required for profile management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages profiles and the blocked e-mail list.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
		cache:  sync.Map{},
	}, nil
}

// NewProfile is the input of CreateProfile.
type NewProfile struct {
	DisplayName string
	Username    string
	AccountType AccountType
}

// RegisterProfile creates the profile for a freshly created account.
func (s *Service) RegisterProfile(ctx context.Context, account auth.RegisteredAccount) error {
	accountType, ok := ParseAccountType(account.AccountType)
	if !ok {
		return apperr.Invalid(opRegisterProfile, "account_type", errors.New("unknown account type"))
	}
	_, err := s.createProfile(ctx, opRegisterProfile, account.UserID, NewProfile{
		DisplayName: account.DisplayName,
		Username:    account.Username,
		AccountType: accountType,
	})
	return err
}

// CreateProfile inserts the profile for userID.
func (s *Service) CreateProfile(ctx context.Context, userID string, input NewProfile) (Profile, error) {
	return s.createProfile(ctx, opCreateProfile, userID, input)
}

func (s *Service) createProfile(ctx context.Context, operation, userID string, input NewProfile) (Profile, error) {
	userID = normalize(userID)
	if userID == "" {
		return Profile{}, apperr.Invalid(operation, "user_id", errors.New("empty"))
	}
	displayName, err := validateDisplayName(input.DisplayName)
	if err != nil {
		return Profile{}, apperr.Invalid(operation, "display_name", err)
	}
	username, err := validateUsername(input.Username)
	if err != nil {
		return Profile{}, apperr.Invalid(operation, "username", err)
	}
	accountType := input.AccountType
	if accountType == "" {
		accountType = AccountTypeWorker
	}

	var taken int64
	if err := s.db.WithContext(ctx).Model(&Profile{}).Where("username = ?", username).Count(&taken).Error; err != nil {
		s.logError(operation, "username_lookup_failed", err)
		return Profile{}, apperr.New(operation, "username_lookup_failed", apperr.KindInternal, err)
	}
	if taken > 0 {
		return Profile{}, apperr.New(operation, "username_taken", apperr.KindConflict, nil)
	}

	profile := Profile{
		ID:          userID,
		DisplayName: displayName,
		Username:    username,
		AccountType: accountType,
	}
	if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Profile{}, apperr.New(operation, "profile_exists", apperr.KindConflict, err)
		}
		s.logError(operation, "insert_failed", err, zap.String("user_id", userID))
		return Profile{}, apperr.New(operation, "insert_failed", apperr.KindInternal, err)
	}
	s.cache.Store(userID, profile)
	return profile, nil
}

// EnsureProfile returns the profile behind the session, creating one from the
// claims when the user has none yet.
func (s *Service) EnsureProfile(ctx context.Context, claims auth.SessionClaims) (Profile, error) {
	userID := normalize(claims.UserID)
	if userID == "" {
		userID = normalize(claims.Subject)
	}
	if userID == "" {
		return Profile{}, apperr.New(opEnsureProfile, "missing_subject", apperr.KindUnauthorized, nil)
	}
	if cached, ok := s.cache.Load(userID); ok {
		if profile, ok := cached.(Profile); ok {
			return profile, nil
		}
	}

	var profile Profile
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&profile).Error
	if err == nil {
		s.cache.Store(userID, profile)
		return profile, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opEnsureProfile, "query_failed", err, zap.String("user_id", userID))
		return Profile{}, apperr.New(opEnsureProfile, "query_failed", apperr.KindInternal, err)
	}

	accountType, _ := ParseAccountType(claims.AccountType)
	displayName := normalize(claims.UserDisplayName)
	if displayName == "" {
		displayName = usernameFromEmail(claims.UserEmail, userID)
	}
	return s.createProfile(ctx, opEnsureProfile, userID, NewProfile{
		DisplayName: displayName,
		Username:    usernameFromEmail(claims.UserEmail, userID),
		AccountType: accountType,
	})
}

// GetProfile loads the profile for userID.
func (s *Service) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where("id = ?", normalize(userID)).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, apperr.New(opGetProfile, "not_found", apperr.KindNotFound, err)
	}
	if err != nil {
		s.logError(opGetProfile, "query_failed", err, zap.String("user_id", userID))
		return Profile{}, apperr.New(opGetProfile, "query_failed", apperr.KindInternal, err)
	}
	return profile, nil
}

// ListProfiles loads the profiles for the given ids, ordered by display name.
func (s *Service) ListProfiles(ctx context.Context, userIDs []string) ([]Profile, error) {
	if len(userIDs) == 0 {
		return []Profile{}, nil
	}
	var profiles []Profile
	if err := s.db.WithContext(ctx).Where("id IN ?", userIDs).Order("display_name").Find(&profiles).Error; err != nil {
		s.logError(opListProfiles, "query_failed", err)
		return nil, apperr.New(opListProfiles, "query_failed", apperr.KindInternal, err)
	}
	return profiles, nil
}

// ChangeDisplayName updates the display name of userID.
func (s *Service) ChangeDisplayName(ctx context.Context, userID, displayName string) (Profile, error) {
	name, err := validateDisplayName(displayName)
	if err != nil {
		return Profile{}, apperr.Invalid(opChangeDisplayName, "display_name", err)
	}
	return s.updateProfile(ctx, opChangeDisplayName, userID, map[string]interface{}{"display_name": name})
}

// ChangeAvatar points the avatar of userID at avatarURL.
func (s *Service) ChangeAvatar(ctx context.Context, userID, avatarURL string) (Profile, error) {
	url := normalize(avatarURL)
	if url == "" {
		return Profile{}, apperr.Invalid(opChangeAvatar, "avatar_url", errors.New("empty"))
	}
	return s.updateProfile(ctx, opChangeAvatar, userID, map[string]interface{}{"avatar_url": url})
}

func (s *Service) updateProfile(ctx context.Context, operation, userID string, updates map[string]interface{}) (Profile, error) {
	userID = normalize(userID)
	result := s.db.WithContext(ctx).Model(&Profile{}).Where("id = ?", userID).Updates(updates)
	if result.Error != nil {
		s.logError(operation, "update_failed", result.Error, zap.String("user_id", userID))
		return Profile{}, apperr.New(operation, "update_failed", apperr.KindInternal, result.Error)
	}
	if result.RowsAffected == 0 {
		return Profile{}, apperr.New(operation, "not_found", apperr.KindNotFound, nil)
	}
	s.cache.Delete(userID)
	return s.GetProfile(ctx, userID)
}

func validateDisplayName(raw string) (string, error) {
	name := normalize(raw)
	if name == "" {
		return "", errors.New("empty")
	}
	if len([]rune(name)) > maxDisplayNameLength {
		return "", fmt.Errorf("exceeds %d characters", maxDisplayNameLength)
	}
	return name, nil
}

func validateUsername(raw string) (string, error) {
	username := strings.ToLower(normalize(raw))
	if username == "" {
		return "", errors.New("empty")
	}
	if len(username) > maxUsernameLength {
		return "", fmt.Errorf("exceeds %d characters", maxUsernameLength)
	}
	if strings.ContainsAny(username, " \t\n@") {
		return "", errors.New("contains whitespace or @")
	}
	return username, nil
}

func usernameFromEmail(email, userID string) string {
	local := strings.ToLower(normalize(email))
	if at := strings.Index(local, "@"); at > 0 {
		local = local[:at]
	}
	local = strings.Map(func(r rune) rune {
		if r == ' ' || r == '@' || r == '\t' || r == '\n' {
			return -1
		}
		return r
	}, local)
	suffix := userID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	if local == "" {
		local = "user"
	}
	if len(local) > maxUsernameLength-len(suffix)-1 {
		local = local[:maxUsernameLength-len(suffix)-1]
	}
	return local + "-" + suffix
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
	s.logger.Error("users service error", attrs...)
}
