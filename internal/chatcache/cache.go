package chatcache

import "sync"

// Cache holds loaded pages of one channel, most recent page first and each
// page newest first. Every method is a no-op when its target is not loaded.
type Cache struct {
	mu    sync.Mutex
	pages [][]Message
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// InsertMessage puts message at the front of the first page. A message whose
// id is already loaded is replaced where it is.
func (c *Cache) InsertMessage(message Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(message)
}

// UpdateMessage replaces the loaded message with the same id.
func (c *Cache) UpdateMessage(message Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, found := c.updateLocked(message)
	return found
}

// DeleteMessage removes the loaded message with id.
func (c *Cache) DeleteMessage(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _, _, found := c.deleteLocked(id)
	return found
}

// AddReaction appends reaction to the loaded message messageID.
func (c *Cache) AddReaction(messageID string, reaction Reaction) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addReactionLocked(messageID, reaction, -1)
}

// RemoveReaction removes the reaction with reactionID from whichever loaded
// message carries it.
func (c *Cache) RemoveReaction(reactionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _, _, found := c.removeReactionLocked(reactionID)
	return found
}

// AppendPage adds an older page after the loaded ones, skipping messages
// already loaded. Offset cursors shift as newer messages arrive, so a page
// may repeat rows the cache holds.
func (c *Cache) AppendPage(messages []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	page := make([]Message, 0, len(messages))
	for _, message := range messages {
		if _, _, loaded := c.locate(message.ID); loaded {
			continue
		}
		page = append(page, message.clone())
	}
	c.pages = append(c.pages, page)
}

// Pages returns a deep copy of the loaded pages.
func (c *Cache) Pages() [][]Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	pages := make([][]Message, len(c.pages))
	for pageIndex, page := range c.pages {
		copied := make([]Message, len(page))
		for index, message := range page {
			copied[index] = message.clone()
		}
		pages[pageIndex] = copied
	}
	return pages
}

// Flatten returns every loaded message, newest first.
func (c *Cache) Flatten() []Message {
	var messages []Message
	for _, page := range c.Pages() {
		messages = append(messages, page...)
	}
	return messages
}

// FindMessage returns a copy of the loaded message with id.
func (c *Cache) FindMessage(id string) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pageIndex, index, found := c.locate(id)
	if !found {
		return Message{}, false
	}
	return c.pages[pageIndex][index].clone(), true
}

// FindUserReaction returns userID's emoji reaction on messageID, if loaded.
func (c *Cache) FindUserReaction(messageID, userID, emoji string) (Reaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pageIndex, index, found := c.locate(messageID)
	if !found {
		return Reaction{}, false
	}
	for _, reaction := range c.pages[pageIndex][index].Reactions {
		if reaction.ProfileID == userID && reaction.Reaction == emoji {
			return reaction, true
		}
	}
	return Reaction{}, false
}

// Len counts loaded messages.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, page := range c.pages {
		total += len(page)
	}
	return total
}

// Reset drops every loaded page.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages = nil
}

// atomically runs fn with the cache locked so a command can capture state
// and mutate it in one step.
func (c *Cache) atomically(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

func (c *Cache) locate(id string) (int, int, bool) {
	for pageIndex, page := range c.pages {
		for index, message := range page {
			if message.ID == id {
				return pageIndex, index, true
			}
		}
	}
	return 0, 0, false
}

// insertLocked reports the message it replaced, if any.
func (c *Cache) insertLocked(message Message) (Message, bool) {
	if previous, found := c.updateLocked(message); found {
		return previous, true
	}
	c.insertAtLocked(0, 0, message)
	return Message{}, false
}

func (c *Cache) insertAtLocked(pageIndex, index int, message Message) {
	for len(c.pages) <= pageIndex {
		c.pages = append(c.pages, []Message{})
	}
	page := c.pages[pageIndex]
	if index > len(page) {
		index = len(page)
	}
	page = append(page, Message{})
	copy(page[index+1:], page[index:])
	page[index] = message.clone()
	c.pages[pageIndex] = page
}

func (c *Cache) updateLocked(message Message) (Message, bool) {
	pageIndex, index, found := c.locate(message.ID)
	if !found {
		return Message{}, false
	}
	previous := c.pages[pageIndex][index]
	c.pages[pageIndex][index] = message.clone()
	return previous, true
}

func (c *Cache) deleteLocked(id string) (Message, int, int, bool) {
	pageIndex, index, found := c.locate(id)
	if !found {
		return Message{}, 0, 0, false
	}
	page := c.pages[pageIndex]
	removed := page[index]
	c.pages[pageIndex] = append(page[:index:index], page[index+1:]...)
	return removed, pageIndex, index, true
}

// addReactionLocked inserts reaction at position, or appends when position
// is negative or out of range. A reaction id already on the message is left alone.
func (c *Cache) addReactionLocked(messageID string, reaction Reaction, position int) bool {
	pageIndex, index, found := c.locate(messageID)
	if !found {
		return false
	}
	message := &c.pages[pageIndex][index]
	for _, existing := range message.Reactions {
		if existing.ID == reaction.ID {
			return false
		}
	}
	reactions := append([]Reaction(nil), message.Reactions...)
	if position < 0 || position >= len(reactions) {
		reactions = append(reactions, reaction)
	} else {
		reactions = append(reactions, Reaction{})
		copy(reactions[position+1:], reactions[position:])
		reactions[position] = reaction
	}
	message.Reactions = reactions
	return true
}

func (c *Cache) removeReactionLocked(reactionID string) (Reaction, string, int, bool) {
	for pageIndex, page := range c.pages {
		for index := range page {
			message := &c.pages[pageIndex][index]
			for position, reaction := range message.Reactions {
				if reaction.ID != reactionID {
					continue
				}
				remaining := make([]Reaction, 0, len(message.Reactions)-1)
				remaining = append(remaining, message.Reactions[:position]...)
				remaining = append(remaining, message.Reactions[position+1:]...)
				message.Reactions = remaining
				return reaction, message.ID, position, true
			}
		}
	}
	return Reaction{}, "", 0, false
}
