package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opListMessages   = "chat.list_messages"
	opSendMessage    = "chat.send_message"
	opEditMessage    = "chat.edit_message"
	opDeleteMessage  = "chat.delete_message"
	opAddReaction    = "chat.add_reaction"
	opRemoveReaction = "chat.remove_reaction"

	maxMessageLength = 4000
	maxEmojiLength   = 64
)

// ListMessages returns one page of channel history, newest first. Cursor is
// the offset of the page; NextCursor is nil on the last page.
func (s *Service) ListMessages(ctx context.Context, userID string, request MessagePageRequest) (MessagePage, error) {
	if request.Cursor < 0 {
		return MessagePage{}, apperr.Invalid(opListMessages, "cursor", errors.New("negative"))
	}
	channel, err := s.channelForMember(ctx, opListMessages, userID, request.ChannelID)
	if err != nil {
		return MessagePage{}, err
	}

	query := s.db.WithContext(ctx).
		Where("channel_id = ?", channel.ID).
		Preload("Author").
		Preload("Reactions", func(db *gorm.DB) *gorm.DB { return db.Order("reactions.created_at ASC") })
	if search := strings.TrimSpace(request.TextSearch); search != "" {
		if s.db.Dialector.Name() == "postgres" {
			query = query.Where("to_tsvector('english', content) @@ plainto_tsquery('english', ?)", search)
		} else {
			query = query.Where("LOWER(content) LIKE ?", "%"+strings.ToLower(search)+"%")
		}
	}

	var messages []Message
	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Offset(request.Cursor).
		Limit(MessagePageSize + 1).
		Find(&messages).Error
	if err != nil {
		s.logError(opListMessages, "query_failed", err, zap.String("channel_id", channel.ID))
		return MessagePage{}, apperr.New(opListMessages, "query_failed", apperr.KindInternal, err)
	}

	page := MessagePage{Messages: messages}
	if len(messages) > MessagePageSize {
		page.Messages = messages[:MessagePageSize]
		next := request.Cursor + MessagePageSize
		page.NextCursor = &next
	}
	for index := range page.Messages {
		if page.Messages[index].Reactions == nil {
			page.Messages[index].Reactions = []Reaction{}
		}
	}
	return page, nil
}

// SendMessage stores a message under the id chosen by the client. Resending
// an id the same author already stored in the same channel returns the
// stored row, so retries after a lost response are safe.
func (s *Service) SendMessage(ctx context.Context, userID string, draft DraftMessage) (Message, error) {
	messageID := strings.TrimSpace(draft.ID)
	if !validClientID(messageID) {
		return Message{}, apperr.Invalid(opSendMessage, "id", errors.New("must be a uuid"))
	}
	content := strings.TrimSpace(draft.Content)
	attachment := trimOptional(draft.AttachmentURL)
	if content == "" && attachment == nil {
		return Message{}, apperr.Invalid(opSendMessage, "content", errors.New("empty"))
	}
	if len([]rune(content)) > maxMessageLength {
		return Message{}, apperr.Invalid(opSendMessage, "content", errors.New("too long"))
	}
	channel, err := s.channelForMember(ctx, opSendMessage, userID, draft.ChannelID)
	if err != nil {
		return Message{}, err
	}

	existing, found, err := s.findMessage(ctx, opSendMessage, messageID)
	if err != nil {
		return Message{}, err
	}
	if found {
		if existing.AuthorID != userID || existing.ChannelID != channel.ID {
			return Message{}, apperr.New(opSendMessage, "id_conflict", apperr.KindConflict, nil)
		}
		return s.loadMessage(ctx, opSendMessage, messageID)
	}

	message := Message{
		ID:            messageID,
		Content:       content,
		AuthorID:      userID,
		ChannelID:     channel.ID,
		CreatedAt:     s.now(),
		AttachmentURL: attachment,
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Message{}, apperr.New(opSendMessage, "id_conflict", apperr.KindConflict, err)
		}
		s.logError(opSendMessage, "insert_failed", err, zap.String("channel_id", channel.ID))
		return Message{}, apperr.New(opSendMessage, "insert_failed", apperr.KindInternal, err)
	}
	metrics.MessagesSentTotal.Inc()
	return s.loadMessage(ctx, opSendMessage, messageID)
}

// EditMessage changes the content or attachment of the caller's own message.
func (s *Service) EditMessage(ctx context.Context, userID, messageID string, edit MessageEdit) (Message, error) {
	if edit.Content == nil && edit.AttachmentURL == nil {
		return Message{}, apperr.Invalid(opEditMessage, "content", errors.New("nothing to change"))
	}
	message, err := s.messageForMember(ctx, opEditMessage, userID, messageID)
	if err != nil {
		return Message{}, err
	}
	if message.AuthorID != userID {
		return Message{}, apperr.New(opEditMessage, "not_author", apperr.KindForbidden, nil)
	}

	updates := map[string]interface{}{}
	content := message.Content
	if edit.Content != nil {
		content = strings.TrimSpace(*edit.Content)
		if len([]rune(content)) > maxMessageLength {
			return Message{}, apperr.Invalid(opEditMessage, "content", errors.New("too long"))
		}
		updates["content"] = content
	}
	attachment := message.AttachmentURL
	if edit.AttachmentURL != nil {
		attachment = trimOptional(edit.AttachmentURL)
		updates["attachment_url"] = attachment
	}
	if content == "" && attachment == nil {
		return Message{}, apperr.Invalid(opEditMessage, "content", errors.New("empty"))
	}

	if err := s.db.WithContext(ctx).Model(&Message{}).Where("id = ?", message.ID).Updates(updates).Error; err != nil {
		s.logError(opEditMessage, "update_failed", err, zap.String("message_id", message.ID))
		return Message{}, apperr.New(opEditMessage, "update_failed", apperr.KindInternal, err)
	}
	return s.loadMessage(ctx, opEditMessage, message.ID)
}

// DeleteMessage removes a message and its reactions. The author or the
// server creator may delete. The removed row is returned.
func (s *Service) DeleteMessage(ctx context.Context, userID, messageID string) (Message, error) {
	message, err := s.messageForMember(ctx, opDeleteMessage, userID, messageID)
	if err != nil {
		return Message{}, err
	}
	if message.AuthorID != userID {
		creator, err := s.serverCreatorForChannel(ctx, opDeleteMessage, message.ChannelID)
		if err != nil {
			return Message{}, err
		}
		if creator != userID {
			return Message{}, apperr.New(opDeleteMessage, "not_author", apperr.KindForbidden, nil)
		}
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", message.ID).Delete(&Reaction{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", message.ID).Delete(&Message{}).Error
	})
	if txErr != nil {
		s.logError(opDeleteMessage, "delete_failed", txErr, zap.String("message_id", message.ID))
		return Message{}, apperr.New(opDeleteMessage, "delete_failed", apperr.KindInternal, txErr)
	}
	return message, nil
}

// AddReaction records emoji on a message in channelID. Adding the same emoji
// twice returns the existing reaction.
func (s *Service) AddReaction(ctx context.Context, userID string, request NewReaction) (Reaction, error) {
	emoji := strings.TrimSpace(request.Emoji)
	if emoji == "" || len(emoji) > maxEmojiLength {
		return Reaction{}, apperr.Invalid(opAddReaction, "emoji", errors.New("invalid"))
	}
	reactionID := strings.TrimSpace(request.ID)
	if reactionID != "" && !validClientID(reactionID) {
		return Reaction{}, apperr.Invalid(opAddReaction, "id", errors.New("must be a uuid"))
	}
	channel, err := s.channelForMember(ctx, opAddReaction, userID, request.ChannelID)
	if err != nil {
		return Reaction{}, err
	}
	if err := s.requireMessageInChannel(ctx, opAddReaction, request.MessageID, channel.ID); err != nil {
		return Reaction{}, err
	}

	var existing Reaction
	err = s.db.WithContext(ctx).
		Where("message_id = ? AND profile_id = ? AND reaction = ?", request.MessageID, userID, emoji).
		Take(&existing).Error
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opAddReaction, "query_failed", err, zap.String("message_id", request.MessageID))
		return Reaction{}, apperr.New(opAddReaction, "query_failed", apperr.KindInternal, err)
	}

	if reactionID == "" {
		reactionID, err = s.newID(opAddReaction)
		if err != nil {
			return Reaction{}, err
		}
	}
	reaction := Reaction{
		ID:        reactionID,
		Reaction:  emoji,
		MessageID: request.MessageID,
		ProfileID: userID,
		ChannelID: channel.ID,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&reaction).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Reaction{}, apperr.New(opAddReaction, "id_conflict", apperr.KindConflict, err)
		}
		s.logError(opAddReaction, "insert_failed", err, zap.String("message_id", request.MessageID))
		return Reaction{}, apperr.New(opAddReaction, "insert_failed", apperr.KindInternal, err)
	}
	return reaction, nil
}

// RemoveReaction deletes the caller's emoji from a message and returns the
// rows that were removed.
func (s *Service) RemoveReaction(ctx context.Context, userID string, key ReactionKey) ([]Reaction, error) {
	emoji := strings.TrimSpace(key.Emoji)
	if emoji == "" {
		return nil, apperr.Invalid(opRemoveReaction, "emoji", errors.New("empty"))
	}
	channel, err := s.channelForMember(ctx, opRemoveReaction, userID, key.ChannelID)
	if err != nil {
		return nil, err
	}

	var removed []Reaction
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope := tx.Where("channel_id = ? AND message_id = ? AND profile_id = ? AND reaction = ?",
			channel.ID, key.MessageID, userID, emoji)
		if err := scope.Find(&removed).Error; err != nil {
			return err
		}
		if len(removed) == 0 {
			return nil
		}
		ids := make([]string, 0, len(removed))
		for _, reaction := range removed {
			ids = append(ids, reaction.ID)
		}
		return tx.Where("id IN ?", ids).Delete(&Reaction{}).Error
	})
	if txErr != nil {
		s.logError(opRemoveReaction, "delete_failed", txErr, zap.String("message_id", key.MessageID))
		return nil, apperr.New(opRemoveReaction, "delete_failed", apperr.KindInternal, txErr)
	}
	if removed == nil {
		removed = []Reaction{}
	}
	return removed, nil
}

func (s *Service) messageForMember(ctx context.Context, operation, userID, messageID string) (Message, error) {
	message, found, err := s.findMessage(ctx, operation, strings.TrimSpace(messageID))
	if err != nil {
		return Message{}, err
	}
	if !found {
		return Message{}, apperr.New(operation, "message_not_found", apperr.KindNotFound, nil)
	}
	if _, err := s.channelForMember(ctx, operation, userID, message.ChannelID); err != nil {
		return Message{}, err
	}
	return message, nil
}

func (s *Service) findMessage(ctx context.Context, operation, messageID string) (Message, bool, error) {
	var message Message
	err := s.db.WithContext(ctx).Where("id = ?", messageID).Take(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Message{}, false, nil
	}
	if err != nil {
		s.logError(operation, "message_query_failed", err, zap.String("message_id", messageID))
		return Message{}, false, apperr.New(operation, "message_query_failed", apperr.KindInternal, err)
	}
	return message, true, nil
}

func (s *Service) loadMessage(ctx context.Context, operation, messageID string) (Message, error) {
	var message Message
	err := s.db.WithContext(ctx).
		Preload("Author").
		Preload("Reactions").
		Where("id = ?", messageID).
		Take(&message).Error
	if err != nil {
		s.logError(operation, "message_query_failed", err, zap.String("message_id", messageID))
		return Message{}, apperr.New(operation, "message_query_failed", apperr.KindInternal, err)
	}
	if message.Reactions == nil {
		message.Reactions = []Reaction{}
	}
	return message, nil
}

func (s *Service) requireMessageInChannel(ctx context.Context, operation, messageID, channelID string) error {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Message{}).
		Where("id = ? AND channel_id = ?", messageID, channelID).
		Count(&count).Error
	if err != nil {
		s.logError(operation, "message_query_failed", err, zap.String("message_id", messageID))
		return apperr.New(operation, "message_query_failed", apperr.KindInternal, err)
	}
	if count == 0 {
		return apperr.New(operation, "message_not_found", apperr.KindNotFound, nil)
	}
	return nil
}

func (s *Service) serverCreatorForChannel(ctx context.Context, operation, channelID string) (string, error) {
	var server Server
	err := s.db.WithContext(ctx).
		Joins("JOIN channels ON channels.server_id = servers.id").
		Where("channels.id = ?", channelID).
		Take(&server).Error
	if err != nil {
		s.logError(operation, "server_query_failed", err, zap.String("channel_id", channelID))
		return "", apperr.New(operation, "server_query_failed", apperr.KindInternal, err)
	}
	return server.ServerCreatorID, nil
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
