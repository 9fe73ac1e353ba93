package chatcache

// Command is one reversible cache mutation. Apply records whatever Invert
// needs to put the cache back exactly as it was before Apply.
type Command interface {
	Apply(cache *Cache)
	Invert(cache *Cache)
}

// InsertMessageCommand adds a message to the front of the first page.
type InsertMessageCommand struct {
	Message Message

	replaced    Message
	existed     bool
	createdPage bool
	applied     bool
}

func (c *InsertMessageCommand) Apply(cache *Cache) {
	cache.atomically(func() {
		c.createdPage = len(cache.pages) == 0
		c.replaced, c.existed = cache.insertLocked(c.Message)
		c.applied = true
	})
}

func (c *InsertMessageCommand) Invert(cache *Cache) {
	if !c.applied {
		return
	}
	cache.atomically(func() {
		if c.existed {
			cache.updateLocked(c.replaced)
			return
		}
		cache.deleteLocked(c.Message.ID)
		if c.createdPage && len(cache.pages) == 1 && len(cache.pages[0]) == 0 {
			cache.pages = nil
		}
	})
	c.applied = false
}

// UpdateMessageCommand replaces a loaded message.
type UpdateMessageCommand struct {
	Message Message

	previous Message
	applied  bool
}

func (c *UpdateMessageCommand) Apply(cache *Cache) {
	cache.atomically(func() {
		c.previous, c.applied = cache.updateLocked(c.Message)
	})
}

func (c *UpdateMessageCommand) Invert(cache *Cache) {
	if !c.applied {
		return
	}
	cache.atomically(func() {
		cache.updateLocked(c.previous)
	})
	c.applied = false
}

// DeleteMessageCommand removes a loaded message.
type DeleteMessageCommand struct {
	MessageID string

	removed   Message
	pageIndex int
	index     int
	applied   bool
}

func (c *DeleteMessageCommand) Apply(cache *Cache) {
	cache.atomically(func() {
		c.removed, c.pageIndex, c.index, c.applied = cache.deleteLocked(c.MessageID)
	})
}

func (c *DeleteMessageCommand) Invert(cache *Cache) {
	if !c.applied {
		return
	}
	cache.atomically(func() {
		cache.insertAtLocked(c.pageIndex, c.index, c.removed)
	})
	c.applied = false
}

// AddReactionCommand appends a reaction to a loaded message.
type AddReactionCommand struct {
	MessageID string
	Reaction  Reaction

	applied bool
}

func (c *AddReactionCommand) Apply(cache *Cache) {
	cache.atomically(func() {
		c.applied = cache.addReactionLocked(c.MessageID, c.Reaction, -1)
	})
}

func (c *AddReactionCommand) Invert(cache *Cache) {
	if !c.applied {
		return
	}
	cache.atomically(func() {
		cache.removeReactionLocked(c.Reaction.ID)
	})
	c.applied = false
}

// RemoveReactionCommand removes a reaction by id from whichever message carries it.
type RemoveReactionCommand struct {
	ReactionID string

	removed   Reaction
	messageID string
	position  int
	applied   bool
}

func (c *RemoveReactionCommand) Apply(cache *Cache) {
	cache.atomically(func() {
		c.removed, c.messageID, c.position, c.applied = cache.removeReactionLocked(c.ReactionID)
	})
}

func (c *RemoveReactionCommand) Invert(cache *Cache) {
	if !c.applied {
		return
	}
	cache.atomically(func() {
		cache.addReactionLocked(c.messageID, c.removed, c.position)
	})
	c.applied = false
}
