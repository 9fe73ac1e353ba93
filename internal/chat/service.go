package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxNameLength         = 100
	defaultSummaryWindow  = 28 * 24 * time.Hour
	defaultGeneralChannel = "general"
	opServiceNew          = "chat.service.new"
	opRequireMember       = "chat.require_member"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// Summarizer streams a model reply. *llm.Client satisfies it.
type Summarizer interface {
	Stream(ctx context.Context, system, prompt string, emit func(delta string) error) error
}

// ServiceConfig wires the chat service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Summarizer Summarizer
	// SummaryWindow bounds how far back channel summaries look.
	SummaryWindow time.Duration
	Logger        *zap.Logger
}

// Service implements servers, channels, messages and reactions. Every
// operation takes the acting user id and checks server membership first.
type Service struct {
	db            *gorm.DB
	clock         func() time.Time
	idProvider    IDProvider
	summarizer    Summarizer
	summaryWindow time.Duration
	logger        *zap.Logger
}

// NewService validates dependencies and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(opServiceNew, "missing_database", apperr.KindInternal, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.New(opServiceNew, "missing_id_provider", apperr.KindInternal, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	window := cfg.SummaryWindow
	if window <= 0 {
		window = defaultSummaryWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:            cfg.Database,
		clock:         clock,
		idProvider:    cfg.IDProvider,
		summarizer:    cfg.Summarizer,
		summaryWindow: window,
		logger:        logger,
	}, nil
}

// RequireChannelMember loads channelID and checks that userID belongs to its server.
func (s *Service) RequireChannelMember(ctx context.Context, userID, channelID string) (Channel, error) {
	return s.channelForMember(ctx, opRequireMember, userID, channelID)
}

// IsMember reports whether userID belongs to serverID.
func (s *Service) IsMember(ctx context.Context, userID, serverID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&ServerMembership{}).
		Where("server_id = ? AND profile_id = ?", serverID, userID).
		Count(&count).Error
	return count > 0, err
}

func (s *Service) requireMembership(ctx context.Context, operation, userID, serverID string) error {
	member, err := s.IsMember(ctx, userID, serverID)
	if err != nil {
		s.logError(operation, "membership_query_failed", err, zap.String("server_id", serverID))
		return apperr.New(operation, "membership_query_failed", apperr.KindInternal, err)
	}
	if !member {
		return apperr.New(operation, "not_member", apperr.KindForbidden, nil)
	}
	return nil
}

func (s *Service) channelForMember(ctx context.Context, operation, userID, channelID string) (Channel, error) {
	var channel Channel
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(channelID)).Take(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Channel{}, apperr.New(operation, "channel_not_found", apperr.KindNotFound, err)
	}
	if err != nil {
		s.logError(operation, "channel_query_failed", err, zap.String("channel_id", channelID))
		return Channel{}, apperr.New(operation, "channel_query_failed", apperr.KindInternal, err)
	}
	if err := s.requireMembership(ctx, operation, userID, channel.ServerID); err != nil {
		return Channel{}, err
	}
	return channel, nil
}

func (s *Service) newID(operation string) (string, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return "", apperr.New(operation, "id_generation_failed", apperr.KindInternal, err)
	}
	return id, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func validateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", errors.New("empty")
	}
	if len([]rune(name)) > maxNameLength {
		return "", errors.New("too long")
	}
	return name, nil
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
	s.logger.Error("chat service error", attrs...)
}
