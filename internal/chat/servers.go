package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opListServers       = "chat.list_servers"
	opGetServer         = "chat.get_server"
	opGetServerMembers  = "chat.get_server_members"
	opCreateServer      = "chat.create_server"
	opEditServer        = "chat.edit_server"
	opChangeServerImage = "chat.change_server_image"
	opDeleteServer      = "chat.delete_server"
	opJoinServer        = "chat.join_server"
	opLeaveServer       = "chat.leave_server"
)

func orderChannels(db *gorm.DB) *gorm.DB {
	return db.Order("channels.name ASC")
}

// ListServers returns the servers userID belongs to, with their channels.
func (s *Service) ListServers(ctx context.Context, userID string) ([]Server, error) {
	var servers []Server
	err := s.db.WithContext(ctx).
		Where("id IN (?)", s.db.Model(&ServerMembership{}).Select("server_id").Where("profile_id = ?", userID)).
		Preload("Channels", orderChannels).
		Order("name ASC").
		Find(&servers).Error
	if err != nil {
		s.logError(opListServers, "query_failed", err, zap.String("user_id", userID))
		return nil, apperr.New(opListServers, "query_failed", apperr.KindInternal, err)
	}
	return servers, nil
}

// GetServer loads serverID. Channels are only included for members, so a
// prospective member can preview a server before joining.
func (s *Service) GetServer(ctx context.Context, userID, serverID string) (Server, error) {
	server, err := s.loadServer(ctx, opGetServer, serverID)
	if err != nil {
		return Server{}, err
	}
	member, err := s.IsMember(ctx, userID, serverID)
	if err != nil {
		s.logError(opGetServer, "membership_query_failed", err)
		return Server{}, apperr.New(opGetServer, "membership_query_failed", apperr.KindInternal, err)
	}
	if !member {
		server.Channels = []Channel{}
		return server, nil
	}
	return s.loadServerWithChannels(ctx, opGetServer, serverID)
}

// GetServerMembers lists the profiles that belong to serverID.
func (s *Service) GetServerMembers(ctx context.Context, userID, serverID string) ([]users.Profile, error) {
	if err := s.requireMembership(ctx, opGetServerMembers, userID, serverID); err != nil {
		return nil, err
	}
	var members []users.Profile
	err := s.db.WithContext(ctx).
		Joins("JOIN server_memberships ON server_memberships.profile_id = profiles.id").
		Where("server_memberships.server_id = ?", serverID).
		Order("profiles.display_name ASC").
		Find(&members).Error
	if err != nil {
		s.logError(opGetServerMembers, "query_failed", err, zap.String("server_id", serverID))
		return nil, apperr.New(opGetServerMembers, "query_failed", apperr.KindInternal, err)
	}
	return members, nil
}

// CreateServer creates a server owned by userID with a "general" channel and
// the creator's membership.
func (s *Service) CreateServer(ctx context.Context, userID, name string) (Server, error) {
	serverName, err := validateName(name)
	if err != nil {
		return Server{}, apperr.Invalid(opCreateServer, "name", err)
	}
	serverID, err := s.newID(opCreateServer)
	if err != nil {
		return Server{}, err
	}
	channelID, err := s.newID(opCreateServer)
	if err != nil {
		return Server{}, err
	}
	now := s.now()

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		server := Server{ID: serverID, Name: serverName, ServerCreatorID: userID, CreatedAt: now}
		if err := tx.Omit("Channels").Create(&server).Error; err != nil {
			return err
		}
		channel := Channel{ID: channelID, Name: defaultGeneralChannel, ServerID: serverID, CreatedAt: now}
		if err := tx.Create(&channel).Error; err != nil {
			return err
		}
		return tx.Create(&ServerMembership{ServerID: serverID, ProfileID: userID, CreatedAt: now}).Error
	})
	if txErr != nil {
		s.logError(opCreateServer, "insert_failed", txErr, zap.String("user_id", userID))
		return Server{}, apperr.New(opCreateServer, "insert_failed", apperr.KindInternal, txErr)
	}
	return s.loadServerWithChannels(ctx, opCreateServer, serverID)
}

// EditServer renames serverID.
func (s *Service) EditServer(ctx context.Context, userID, serverID, name string) (Server, error) {
	serverName, err := validateName(name)
	if err != nil {
		return Server{}, apperr.Invalid(opEditServer, "name", err)
	}
	return s.updateServer(ctx, opEditServer, userID, serverID, map[string]interface{}{"name": serverName})
}

// ChangeServerImage points the server image at imageURL.
func (s *Service) ChangeServerImage(ctx context.Context, userID, serverID, imageURL string) (Server, error) {
	url := strings.TrimSpace(imageURL)
	if url == "" {
		return Server{}, apperr.Invalid(opChangeServerImage, "image_url", errors.New("empty"))
	}
	return s.updateServer(ctx, opChangeServerImage, userID, serverID, map[string]interface{}{"server_image_url": url})
}

func (s *Service) updateServer(ctx context.Context, operation, userID, serverID string, updates map[string]interface{}) (Server, error) {
	if _, err := s.loadServer(ctx, operation, serverID); err != nil {
		return Server{}, err
	}
	if err := s.requireMembership(ctx, operation, userID, serverID); err != nil {
		return Server{}, err
	}
	if err := s.db.WithContext(ctx).Model(&Server{}).Where("id = ?", serverID).Updates(updates).Error; err != nil {
		s.logError(operation, "update_failed", err, zap.String("server_id", serverID))
		return Server{}, apperr.New(operation, "update_failed", apperr.KindInternal, err)
	}
	return s.loadServerWithChannels(ctx, operation, serverID)
}

// DeleteServer removes serverID with its channels, messages, reactions and
// memberships. Only the creator may delete a server.
func (s *Service) DeleteServer(ctx context.Context, userID, serverID string) error {
	server, err := s.loadServer(ctx, opDeleteServer, serverID)
	if err != nil {
		return err
	}
	if err := s.requireMembership(ctx, opDeleteServer, userID, serverID); err != nil {
		return err
	}
	if server.ServerCreatorID != userID {
		return apperr.New(opDeleteServer, "not_creator", apperr.KindForbidden, nil)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		channelIDs := tx.Model(&Channel{}).Select("id").Where("server_id = ?", serverID)
		if err := tx.Where("channel_id IN (?)", channelIDs).Delete(&Reaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("channel_id IN (?)", channelIDs).Delete(&Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("server_id = ?", serverID).Delete(&Channel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("server_id = ?", serverID).Delete(&ServerMembership{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", serverID).Delete(&Server{}).Error
	})
	if txErr != nil {
		s.logError(opDeleteServer, "delete_failed", txErr, zap.String("server_id", serverID))
		return apperr.New(opDeleteServer, "delete_failed", apperr.KindInternal, txErr)
	}
	return nil
}

// JoinServer adds userID to serverID. Joining twice is a no-op.
func (s *Service) JoinServer(ctx context.Context, userID, serverID string) (Server, error) {
	if _, err := s.loadServer(ctx, opJoinServer, serverID); err != nil {
		return Server{}, err
	}
	member, err := s.IsMember(ctx, userID, serverID)
	if err != nil {
		s.logError(opJoinServer, "membership_query_failed", err)
		return Server{}, apperr.New(opJoinServer, "membership_query_failed", apperr.KindInternal, err)
	}
	if !member {
		membership := ServerMembership{ServerID: serverID, ProfileID: userID, CreatedAt: s.now()}
		if err := s.db.WithContext(ctx).Create(&membership).Error; err != nil {
			s.logError(opJoinServer, "insert_failed", err, zap.String("server_id", serverID))
			return Server{}, apperr.New(opJoinServer, "insert_failed", apperr.KindInternal, err)
		}
	}
	return s.loadServerWithChannels(ctx, opJoinServer, serverID)
}

// LeaveServer removes userID from serverID.
func (s *Service) LeaveServer(ctx context.Context, userID, serverID string) error {
	if err := s.requireMembership(ctx, opLeaveServer, userID, serverID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).
		Where("server_id = ? AND profile_id = ?", serverID, userID).
		Delete(&ServerMembership{}).Error
	if err != nil {
		s.logError(opLeaveServer, "delete_failed", err, zap.String("server_id", serverID))
		return apperr.New(opLeaveServer, "delete_failed", apperr.KindInternal, err)
	}
	return nil
}

func (s *Service) loadServer(ctx context.Context, operation, serverID string) (Server, error) {
	var server Server
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(serverID)).Take(&server).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Server{}, apperr.New(operation, "server_not_found", apperr.KindNotFound, err)
	}
	if err != nil {
		s.logError(operation, "server_query_failed", err, zap.String("server_id", serverID))
		return Server{}, apperr.New(operation, "server_query_failed", apperr.KindInternal, err)
	}
	return server, nil
}

func (s *Service) loadServerWithChannels(ctx context.Context, operation, serverID string) (Server, error) {
	var server Server
	err := s.db.WithContext(ctx).Preload("Channels", orderChannels).Where("id = ?", serverID).Take(&server).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Server{}, apperr.New(operation, "server_not_found", apperr.KindNotFound, err)
	}
	if err != nil {
		s.logError(operation, "server_query_failed", err, zap.String("server_id", serverID))
		return Server{}, apperr.New(operation, "server_query_failed", apperr.KindInternal, err)
	}
	return server, nil
}
