package chatcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/realtime"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notices shown to the user when an optimistic action is undone.
const (
	NoticeSendFailed           = "Message failed to send. Please try again."
	NoticeAddReactionFailed    = "Failed to add reaction. Please try again."
	NoticeRemoveReactionFailed = "Failed to remove reaction. Please try again."
)

var (
	// ErrEmptyMessage is returned when neither content nor attachment is given.
	ErrEmptyMessage = errors.New("chatcache: message has no content")
	// ErrMessageNotLoaded is returned when reacting to a message outside the cache.
	ErrMessageNotLoaded = errors.New("chatcache: message not loaded")
	// ErrReactionPending is returned when the same emoji on the same message
	// is still waiting for the server.
	ErrReactionPending = errors.New("chatcache: reaction change still pending")
)

// MessageAPI is the server side of message and reaction writes.
type MessageAPI interface {
	SendMessage(ctx context.Context, draft DraftMessage) (Message, error)
	AddReaction(ctx context.Context, channelID, messageID, reactionID, emoji string) (Reaction, error)
	RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error
	ListMessages(ctx context.Context, channelID string, cursor int) (Page, error)
}

// AttachmentUploader stores an attachment and returns its public URL.
type AttachmentUploader interface {
	UploadAttachment(ctx context.Context, objectPath string, attachment Attachment) (string, error)
}

// Notifier surfaces a short notice to the user.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

// Notify implements Notifier.
func (f NotifierFunc) Notify(message string) {
	f(message)
}

// Draft is what the composer gets back after a failed send.
type Draft struct {
	Content    string
	Attachment *Attachment
}

// SendResult reports the confirmed message, or the draft to restore.
type SendResult struct {
	Message  Message
	Restored *Draft
}

// SynchronizerConfig wires a Synchronizer to one channel and one user.
type SynchronizerConfig struct {
	ChannelID string
	UserID    string
	Cache     *Cache
	API       MessageAPI
	Uploader  AttachmentUploader
	Notifier  Notifier
	Members   *MemberDirectory
	NewID     func() string
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Synchronizer applies local actions optimistically, reconciles them with
// server answers and folds in changes made by other users.
type Synchronizer struct {
	channelID string
	userID    string
	cache     *Cache
	pending   *PendingLog
	api       MessageAPI
	uploader  AttachmentUploader
	notifier  Notifier
	members   *MemberDirectory
	newID     func() string
	clock     func() time.Time
	logger    *zap.Logger

	reactionMu sync.Mutex
	inFlight   map[string]struct{}

	pageMu     sync.Mutex
	loaded     bool
	nextCursor *int
}

// NewSynchronizer validates cfg and fills defaults.
func NewSynchronizer(cfg SynchronizerConfig) (*Synchronizer, error) {
	if strings.TrimSpace(cfg.ChannelID) == "" {
		return nil, fmt.Errorf("channel id is required")
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if cfg.API == nil {
		return nil, fmt.Errorf("message api is required")
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewCache()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NotifierFunc(func(string) {})
	}
	members := cfg.Members
	if members == nil {
		members = NewMemberDirectory()
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		channelID: cfg.ChannelID,
		userID:    cfg.UserID,
		cache:     cache,
		pending:   NewPendingLog(cache),
		api:       cfg.API,
		uploader:  cfg.Uploader,
		notifier:  notifier,
		members:   members,
		newID:     newID,
		clock:     clock,
		logger:    logger,
		inFlight:  make(map[string]struct{}),
	}, nil
}

// Cache exposes the projection this synchronizer maintains.
func (s *Synchronizer) Cache() *Cache {
	return s.cache
}

// Pending counts optimistic actions still waiting for the server.
func (s *Synchronizer) Pending() int {
	return s.pending.Pending()
}

// SendMessage inserts the message optimistically under a fresh id, uploads
// the attachment, writes the message and then reconciles the cache with
// the stored row. On failure the optimistic row is removed, the user is
// notified and the draft is handed back.
func (s *Synchronizer) SendMessage(ctx context.Context, content string, attachment *Attachment) (SendResult, error) {
	if strings.TrimSpace(content) == "" && attachment == nil {
		return SendResult{}, ErrEmptyMessage
	}
	messageID := s.newID()
	createdAt := s.clock().UTC()
	key := s.pending.Begin("message:"+messageID, &InsertMessageCommand{Message: Message{
		ID:        messageID,
		Content:   content,
		CreatedAt: &createdAt,
		Author:    s.members.Resolve(s.userID),
		Reactions: []Reaction{},
	}})

	fail := func(reason string, err error) (SendResult, error) {
		s.pending.Rollback(key)
		s.notifier.Notify(NoticeSendFailed)
		s.logger.Warn("send message failed",
			zap.String("reason", reason),
			zap.String("message_id", messageID),
			zap.String("channel_id", s.channelID),
			zap.Error(err))
		return SendResult{Restored: &Draft{Content: content, Attachment: attachment}}, err
	}

	draft := DraftMessage{
		ID:        messageID,
		Content:   content,
		AuthorID:  s.userID,
		ChannelID: s.channelID,
		CreatedAt: &createdAt,
	}
	if attachment != nil {
		if s.uploader == nil {
			return fail("upload_unavailable", fmt.Errorf("attachment uploader is not configured"))
		}
		objectPath := path.Join(s.userID, messageID, path.Base(attachment.Name))
		url, err := s.uploader.UploadAttachment(ctx, objectPath, *attachment)
		if err != nil {
			return fail("upload_failed", err)
		}
		draft.AttachmentURL = stringPointer(url)
	}

	stored, err := s.api.SendMessage(ctx, draft)
	if err != nil {
		return fail("write_failed", err)
	}
	s.pending.Confirm(key)
	reconciled := s.completeMessage(stored)
	s.cache.UpdateMessage(reconciled)
	return SendResult{Message: reconciled}, nil
}

// ToggleReaction removes the user's emoji reaction on messageID when present
// and adds it otherwise. A toggle of the same emoji while the previous one is
// unanswered fails with ErrReactionPending and leaves the cache untouched.
func (s *Synchronizer) ToggleReaction(ctx context.Context, messageID, emoji string) error {
	if _, ok := s.cache.FindMessage(messageID); !ok {
		return ErrMessageNotLoaded
	}
	slot := messageID + "|" + emoji
	s.reactionMu.Lock()
	if _, busy := s.inFlight[slot]; busy {
		s.reactionMu.Unlock()
		return ErrReactionPending
	}
	s.inFlight[slot] = struct{}{}
	s.reactionMu.Unlock()
	defer func() {
		s.reactionMu.Lock()
		delete(s.inFlight, slot)
		s.reactionMu.Unlock()
	}()

	if existing, ok := s.cache.FindUserReaction(messageID, s.userID, emoji); ok {
		return s.removeReaction(ctx, messageID, existing)
	}
	return s.addReaction(ctx, messageID, emoji)
}

func (s *Synchronizer) addReaction(ctx context.Context, messageID, emoji string) error {
	reaction := Reaction{ID: s.newID(), Reaction: emoji, ProfileID: s.userID}
	key := s.pending.Begin("reaction:"+reaction.ID, &AddReactionCommand{MessageID: messageID, Reaction: reaction})

	stored, err := s.api.AddReaction(ctx, s.channelID, messageID, reaction.ID, emoji)
	if err != nil {
		s.pending.Rollback(key)
		s.notifier.Notify(NoticeAddReactionFailed)
		s.logger.Warn("add reaction failed",
			zap.String("message_id", messageID),
			zap.String("reaction_id", reaction.ID),
			zap.Error(err))
		return err
	}
	s.pending.Confirm(key)
	if stored.ID != "" && stored.ID != reaction.ID {
		s.cache.atomically(func() {
			s.cache.removeReactionLocked(reaction.ID)
			s.cache.addReactionLocked(messageID, stored, -1)
		})
	}
	return nil
}

func (s *Synchronizer) removeReaction(ctx context.Context, messageID string, reaction Reaction) error {
	key := s.pending.Begin("reaction:"+reaction.ID, &RemoveReactionCommand{ReactionID: reaction.ID})

	if err := s.api.RemoveReaction(ctx, s.channelID, messageID, reaction.Reaction); err != nil {
		s.pending.Rollback(key)
		s.notifier.Notify(NoticeRemoveReactionFailed)
		s.logger.Warn("remove reaction failed",
			zap.String("message_id", messageID),
			zap.String("reaction_id", reaction.ID),
			zap.Error(err))
		return err
	}
	s.pending.Confirm(key)
	return nil
}

type messageRow struct {
	ID            string     `json:"id"`
	Content       string     `json:"content"`
	AuthorID      string     `json:"authorId"`
	ChannelID     string     `json:"channelId"`
	CreatedAt     *time.Time `json:"createdAt"`
	AttachmentURL *string    `json:"attachmentUrl"`
	Author        *Profile   `json:"author"`
	Reactions     []Reaction `json:"reactions"`
}

type reactionRow struct {
	ID        string `json:"id"`
	Reaction  string `json:"reaction"`
	MessageID string `json:"messageId"`
	ProfileID string `json:"profileId"`
	ChannelID string `json:"channelId"`
}

// ApplyPeerEvent folds a row change into the cache. Changes made by the
// signed-in user are ignored because they were already applied locally, as
// are changes for other channels. It reports whether the cache was touched.
func (s *Synchronizer) ApplyPeerEvent(event realtime.Event) (bool, error) {
	if event.Kind != realtime.KindChange {
		return false, nil
	}
	if event.ActorID != "" && event.ActorID == s.userID {
		return false, nil
	}
	if event.ChannelID != "" && event.ChannelID != s.channelID {
		return false, nil
	}

	switch event.Table {
	case realtime.TableMessages:
		return s.applyMessageChange(event)
	case realtime.TableReactions:
		return s.applyReactionChange(event)
	default:
		return false, nil
	}
}

func (s *Synchronizer) applyMessageChange(event realtime.Event) (bool, error) {
	switch event.Type {
	case realtime.ChangeInsert:
		var row messageRow
		if err := json.Unmarshal(event.New, &row); err != nil {
			return false, fmt.Errorf("decode message row: %w", err)
		}
		if row.ChannelID != "" && row.ChannelID != s.channelID {
			return false, nil
		}
		s.cache.InsertMessage(s.messageFromRow(row, nil))
		return true, nil
	case realtime.ChangeUpdate:
		var row messageRow
		if err := json.Unmarshal(event.New, &row); err != nil {
			return false, fmt.Errorf("decode message row: %w", err)
		}
		current, ok := s.cache.FindMessage(row.ID)
		if !ok {
			return false, nil
		}
		return s.cache.UpdateMessage(s.messageFromRow(row, &current)), nil
	case realtime.ChangeDelete:
		var row messageRow
		if err := json.Unmarshal(event.Old, &row); err != nil {
			return false, fmt.Errorf("decode message row: %w", err)
		}
		return s.cache.DeleteMessage(row.ID), nil
	default:
		return false, nil
	}
}

func (s *Synchronizer) applyReactionChange(event realtime.Event) (bool, error) {
	switch event.Type {
	case realtime.ChangeInsert:
		var row reactionRow
		if err := json.Unmarshal(event.New, &row); err != nil {
			return false, fmt.Errorf("decode reaction row: %w", err)
		}
		return s.cache.AddReaction(row.MessageID, Reaction{ID: row.ID, Reaction: row.Reaction, ProfileID: row.ProfileID}), nil
	case realtime.ChangeDelete:
		var row reactionRow
		if err := json.Unmarshal(event.Old, &row); err != nil {
			return false, fmt.Errorf("decode reaction row: %w", err)
		}
		return s.cache.RemoveReaction(row.ID), nil
	default:
		return false, nil
	}
}

// messageFromRow resolves the author and keeps what the row leaves out from
// the cached copy, if there is one.
func (s *Synchronizer) messageFromRow(row messageRow, current *Message) Message {
	message := Message{
		ID:            row.ID,
		Content:       row.Content,
		CreatedAt:     row.CreatedAt,
		AttachmentURL: row.AttachmentURL,
		Reactions:     row.Reactions,
	}
	switch {
	case row.Author != nil:
		message.Author = *row.Author
	case current != nil:
		message.Author = current.Author
	default:
		message.Author = s.members.Resolve(row.AuthorID)
	}
	if message.Reactions == nil {
		if current != nil {
			message.Reactions = current.Reactions
		} else {
			message.Reactions = []Reaction{}
		}
	}
	return message
}

// completeMessage fills the author and reactions of a server answer that
// omitted them.
func (s *Synchronizer) completeMessage(message Message) Message {
	if message.Author.ID == "" {
		message.Author = s.members.Resolve(s.userID)
	}
	if message.Reactions == nil {
		message.Reactions = []Reaction{}
	}
	return message
}

// LoadMore fetches the next older page and appends it. It reports whether
// older messages remain.
func (s *Synchronizer) LoadMore(ctx context.Context) (bool, error) {
	s.pageMu.Lock()
	defer s.pageMu.Unlock()

	cursor := 0
	if s.loaded {
		if s.nextCursor == nil {
			return false, nil
		}
		cursor = *s.nextCursor
	}
	page, err := s.api.ListMessages(ctx, s.channelID, cursor)
	if err != nil {
		return s.loaded && s.nextCursor != nil, err
	}
	messages := make([]Message, 0, len(page.Messages))
	for _, message := range page.Messages {
		if message.Reactions == nil {
			message.Reactions = []Reaction{}
		}
		messages = append(messages, message)
	}
	s.cache.AppendPage(messages)
	s.loaded = true
	s.nextCursor = page.NextCursor
	return page.NextCursor != nil, nil
}
