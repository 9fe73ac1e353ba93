package chat

import (
	"context"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opListChannels  = "chat.list_channels"
	opGetChannel    = "chat.get_channel"
	opCreateChannel = "chat.create_channel"
	opEditChannel   = "chat.edit_channel"
	opDeleteChannel = "chat.delete_channel"
)

// ListChannels returns the channels of serverID ordered by name.
func (s *Service) ListChannels(ctx context.Context, userID, serverID string) ([]Channel, error) {
	if err := s.requireMembership(ctx, opListChannels, userID, serverID); err != nil {
		return nil, err
	}
	var channels []Channel
	err := s.db.WithContext(ctx).Where("server_id = ?", serverID).Order("name ASC").Find(&channels).Error
	if err != nil {
		s.logError(opListChannels, "query_failed", err, zap.String("server_id", serverID))
		return nil, apperr.New(opListChannels, "query_failed", apperr.KindInternal, err)
	}
	return channels, nil
}

// GetChannel loads channelID for a member of its server.
func (s *Service) GetChannel(ctx context.Context, userID, channelID string) (Channel, error) {
	return s.channelForMember(ctx, opGetChannel, userID, channelID)
}

// CreateChannel adds a channel to serverID.
func (s *Service) CreateChannel(ctx context.Context, userID, serverID, name string) (Channel, error) {
	channelName, err := validateName(name)
	if err != nil {
		return Channel{}, apperr.Invalid(opCreateChannel, "name", err)
	}
	if _, err := s.loadServer(ctx, opCreateChannel, serverID); err != nil {
		return Channel{}, err
	}
	if err := s.requireMembership(ctx, opCreateChannel, userID, serverID); err != nil {
		return Channel{}, err
	}
	channelID, err := s.newID(opCreateChannel)
	if err != nil {
		return Channel{}, err
	}
	channel := Channel{ID: channelID, Name: channelName, ServerID: serverID, CreatedAt: s.now()}
	if err := s.db.WithContext(ctx).Create(&channel).Error; err != nil {
		s.logError(opCreateChannel, "insert_failed", err, zap.String("server_id", serverID))
		return Channel{}, apperr.New(opCreateChannel, "insert_failed", apperr.KindInternal, err)
	}
	return channel, nil
}

// EditChannel renames channelID.
func (s *Service) EditChannel(ctx context.Context, userID, channelID, name string) (Channel, error) {
	channelName, err := validateName(name)
	if err != nil {
		return Channel{}, apperr.Invalid(opEditChannel, "name", err)
	}
	channel, err := s.channelForMember(ctx, opEditChannel, userID, channelID)
	if err != nil {
		return Channel{}, err
	}
	if err := s.db.WithContext(ctx).Model(&Channel{}).Where("id = ?", channel.ID).Update("name", channelName).Error; err != nil {
		s.logError(opEditChannel, "update_failed", err, zap.String("channel_id", channel.ID))
		return Channel{}, apperr.New(opEditChannel, "update_failed", apperr.KindInternal, err)
	}
	channel.Name = channelName
	return channel, nil
}

// DeleteChannel removes channelID with its messages and reactions.
func (s *Service) DeleteChannel(ctx context.Context, userID, channelID string) error {
	channel, err := s.channelForMember(ctx, opDeleteChannel, userID, channelID)
	if err != nil {
		return err
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("channel_id = ?", channel.ID).Delete(&Reaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("channel_id = ?", channel.ID).Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", channel.ID).Delete(&Channel{}).Error
	})
	if txErr != nil {
		s.logError(opDeleteChannel, "delete_failed", txErr, zap.String("channel_id", channel.ID))
		return apperr.New(opDeleteChannel, "delete_failed", apperr.KindInternal, txErr)
	}
	return nil
}
