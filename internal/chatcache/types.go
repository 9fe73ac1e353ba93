// Package chatcache keeps a client-side projection of a channel's messages
// and reactions in step with local optimistic actions, server confirmations
// and peer change notifications.
package chatcache

import "time"

// Profile is the author shown next to a message.
type Profile struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"displayName"`
	Username    string  `json:"username"`
	AvatarURL   *string `json:"avatarUrl"`
}

// Reaction is one emoji left by one profile.
type Reaction struct {
	ID        string `json:"id"`
	Reaction  string `json:"reaction"`
	ProfileID string `json:"profileId"`
}

// Message is a cached message with its author and reactions.
type Message struct {
	ID            string     `json:"id"`
	Content       string     `json:"content"`
	CreatedAt     *time.Time `json:"createdAt"`
	AttachmentURL *string    `json:"attachmentUrl"`
	Author        Profile    `json:"author"`
	Reactions     []Reaction `json:"reactions"`
}

// DraftMessage is a message as written, before the author is resolved.
type DraftMessage struct {
	ID            string     `json:"id"`
	Content       string     `json:"content"`
	AuthorID      string     `json:"authorId"`
	ChannelID     string     `json:"channelId"`
	AttachmentURL *string    `json:"attachmentUrl"`
	CreatedAt     *time.Time `json:"createdAt"`
}

// Page is one page of history returned by the server, newest first.
type Page struct {
	Messages   []Message `json:"messages"`
	NextCursor *int      `json:"nextCursor"`
}

// Attachment is a file picked for upload alongside a message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

func (m Message) clone() Message {
	copied := m
	if m.Reactions != nil {
		copied.Reactions = make([]Reaction, len(m.Reactions))
		copy(copied.Reactions, m.Reactions)
	}
	return copied
}

func stringPointer(value string) *string {
	return &value
}
