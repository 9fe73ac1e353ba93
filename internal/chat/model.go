package chat

import (
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/users"
)

// MessagePageSize is the number of messages returned per page.
const MessagePageSize = 50

// Server is a community with channels and members.
type Server struct {
	ID              string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Name            string    `gorm:"column:name;size:100;not null" json:"name"`
	ServerImageURL  *string   `gorm:"column:server_image_url;size:1024" json:"serverImageUrl"`
	ServerCreatorID string    `gorm:"column:server_creator_id;size:190;not null;index" json:"serverCreatorId"`
	CreatedAt       time.Time `gorm:"column:created_at;not null" json:"-"`
	Channels        []Channel `gorm:"foreignKey:ServerID;references:ID" json:"channels"`
}

// TableName provides the explicit table binding for GORM.
func (Server) TableName() string {
	return "servers"
}

// ServerMembership links a profile to a server.
type ServerMembership struct {
	ServerID  string    `gorm:"column:server_id;primaryKey;size:190;not null"`
	ProfileID string    `gorm:"column:profile_id;primaryKey;size:190;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ServerMembership) TableName() string {
	return "server_memberships"
}

// Channel is a named message stream inside a server.
type Channel struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Name      string    `gorm:"column:name;size:100;not null" json:"name"`
	ServerID  string    `gorm:"column:server_id;size:190;not null;index" json:"serverId"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Channel) TableName() string {
	return "channels"
}

// Message is a chat message. Its id is chosen by the sending client.
type Message struct {
	ID            string         `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Content       string         `gorm:"column:content;type:text;not null" json:"content"`
	AuthorID      string         `gorm:"column:author_id;size:190;not null;index" json:"authorId"`
	ChannelID     string         `gorm:"column:channel_id;size:190;not null;index:idx_messages_channel_created,priority:1" json:"channelId"`
	CreatedAt     time.Time      `gorm:"column:created_at;not null;index:idx_messages_channel_created,priority:2" json:"createdAt"`
	AttachmentURL *string        `gorm:"column:attachment_url;size:1024" json:"attachmentUrl"`
	Author        *users.Profile `gorm:"foreignKey:AuthorID;references:ID" json:"author,omitempty"`
	Reactions     []Reaction     `gorm:"foreignKey:MessageID;references:ID" json:"reactions"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "messages"
}

// Reaction is one emoji left on a message by one profile.
type Reaction struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Reaction  string    `gorm:"column:reaction;size:64;not null;uniqueIndex:idx_reactions_unique,priority:3" json:"reaction"`
	MessageID string    `gorm:"column:message_id;size:190;not null;uniqueIndex:idx_reactions_unique,priority:1" json:"messageId"`
	ProfileID string    `gorm:"column:profile_id;size:190;not null;uniqueIndex:idx_reactions_unique,priority:2" json:"profileId"`
	ChannelID string    `gorm:"column:channel_id;size:190;not null;index" json:"channelId"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Reaction) TableName() string {
	return "reactions"
}

// Models lists the persisted chat types in migration order.
func Models() []interface{} {
	return []interface{}{&Server{}, &ServerMembership{}, &Channel{}, &Message{}, &Reaction{}}
}

// DraftMessage is the client's request to send a message.
type DraftMessage struct {
	ID            string  `json:"id"`
	Content       string  `json:"content"`
	ChannelID     string  `json:"channelId"`
	AttachmentURL *string `json:"attachmentUrl"`
}

// MessageEdit changes the content or attachment of an existing message.
type MessageEdit struct {
	Content       *string `json:"content"`
	AttachmentURL *string `json:"attachmentUrl"`
}

// MessagePageRequest selects one page of a channel's history.
type MessagePageRequest struct {
	ChannelID  string
	Cursor     int
	TextSearch string
}

// MessagePage is one page of messages, newest first.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextCursor *int      `json:"nextCursor"`
}

// NewReaction adds an emoji to a message. ID is optional; clients that apply
// the reaction optimistically send the id they used.
type NewReaction struct {
	ID        string `json:"id"`
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// ReactionKey identifies the caller's reactions to remove.
type ReactionKey struct {
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}
