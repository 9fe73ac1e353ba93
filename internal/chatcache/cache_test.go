package chatcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(id, content string) Message {
	createdAt := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	return Message{
		ID:        id,
		Content:   content,
		CreatedAt: &createdAt,
		Author:    Profile{ID: "author-1", DisplayName: "Ana"},
		Reactions: []Reaction{},
	}
}

func twoPageCache() *Cache {
	cache := NewCache()
	cache.AppendPage([]Message{testMessage("m3", "third"), testMessage("m2", "second")})
	cache.AppendPage([]Message{testMessage("m1", "first")})
	return cache
}

func TestInsertMessageOnlyTouchesFirstPage(t *testing.T) {
	cache := twoPageCache()
	before := cache.Pages()

	cache.InsertMessage(testMessage("m4", "fourth"))

	after := cache.Pages()
	require.Len(t, after, 2)
	assert.Equal(t, before[1], after[1])
	require.Len(t, after[0], len(before[0])+1)
	assert.Equal(t, "m4", after[0][0].ID)
	assert.Equal(t, before[0], after[0][1:])
}

func TestAppendPageSkipsLoadedMessages(t *testing.T) {
	cache := NewCache()
	cache.InsertMessage(testMessage("peer-1", "arrived before the first page"))
	cache.AppendPage([]Message{testMessage("peer-1", "arrived before the first page"), testMessage("m1", "older")})

	pages := cache.Pages()
	require.Len(t, pages, 2)
	assert.Equal(t, []string{"peer-1"}, messageIDs(pages[0]))
	assert.Equal(t, []string{"m1"}, messageIDs(pages[1]))
	assert.Equal(t, 2, cache.Len())
}

func messageIDs(messages []Message) []string {
	ids := make([]string, 0, len(messages))
	for _, message := range messages {
		ids = append(ids, message.ID)
	}
	return ids
}

func TestInsertMessageCreatesFirstPage(t *testing.T) {
	cache := NewCache()
	cache.InsertMessage(testMessage("m1", "hello"))

	pages := cache.Pages()
	require.Len(t, pages, 1)
	require.Len(t, pages[0], 1)
	assert.Equal(t, "hello", pages[0][0].Content)
}

func TestInsertThenUpdateKeepsOneEntry(t *testing.T) {
	cache := twoPageCache()
	cache.InsertMessage(testMessage("m4", "draft"))

	updated := testMessage("m4", "final")
	attachment := "https://files.example.com/a.png"
	updated.AttachmentURL = &attachment
	require.True(t, cache.UpdateMessage(updated))
	cache.InsertMessage(updated)

	count := 0
	for _, message := range cache.Flatten() {
		if message.ID == "m4" {
			count++
			assert.Equal(t, "final", message.Content)
			require.NotNil(t, message.AttachmentURL)
			assert.Equal(t, attachment, *message.AttachmentURL)
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 4, cache.Len())
}

func TestMutationsIgnoreUnloadedTargets(t *testing.T) {
	cache := twoPageCache()
	before := cache.Pages()

	assert.False(t, cache.UpdateMessage(testMessage("missing", "x")))
	assert.False(t, cache.DeleteMessage("missing"))
	assert.False(t, cache.AddReaction("missing", Reaction{ID: "r1", Reaction: "👍", ProfileID: "u1"}))
	assert.False(t, cache.RemoveReaction("missing"))

	assert.Equal(t, before, cache.Pages())
}

func TestAddReactionIsIdempotentByID(t *testing.T) {
	cache := twoPageCache()
	reaction := Reaction{ID: "r1", Reaction: "👍", ProfileID: "u1"}

	assert.True(t, cache.AddReaction("m2", reaction))
	assert.False(t, cache.AddReaction("m2", reaction))

	message, ok := cache.FindMessage("m2")
	require.True(t, ok)
	assert.Equal(t, []Reaction{reaction}, message.Reactions)

	found, ok := cache.FindUserReaction("m2", "u1", "👍")
	require.True(t, ok)
	assert.Equal(t, "r1", found.ID)
	_, ok = cache.FindUserReaction("m2", "u2", "👍")
	assert.False(t, ok)
}

func TestPagesReturnsIndependentCopy(t *testing.T) {
	cache := twoPageCache()
	cache.AddReaction("m1", Reaction{ID: "r1", Reaction: "🔥", ProfileID: "u1"})

	pages := cache.Pages()
	pages[1][0].Content = "mutated"
	pages[1][0].Reactions[0].Reaction = "mutated"

	message, ok := cache.FindMessage("m1")
	require.True(t, ok)
	assert.Equal(t, "first", message.Content)
	assert.Equal(t, "🔥", message.Reactions[0].Reaction)
}

func TestCommandsInvertToPriorState(t *testing.T) {
	reaction := Reaction{ID: "r1", Reaction: "👍", ProfileID: "u1"}
	testCases := []struct {
		name    string
		command func() Command
	}{
		{name: "insert", command: func() Command { return &InsertMessageCommand{Message: testMessage("m9", "new")} }},
		{name: "insert existing", command: func() Command { return &InsertMessageCommand{Message: testMessage("m2", "replaced")} }},
		{name: "update", command: func() Command { return &UpdateMessageCommand{Message: testMessage("m1", "edited")} }},
		{name: "delete middle", command: func() Command { return &DeleteMessageCommand{MessageID: "m2"} }},
		{name: "delete last page", command: func() Command { return &DeleteMessageCommand{MessageID: "m1"} }},
		{name: "add reaction", command: func() Command { return &AddReactionCommand{MessageID: "m3", Reaction: Reaction{ID: "r9", Reaction: "🎉", ProfileID: "u2"}} }},
		{name: "remove reaction", command: func() Command { return &RemoveReactionCommand{ReactionID: reaction.ID} }},
		{name: "missing target", command: func() Command { return &DeleteMessageCommand{MessageID: "missing"} }},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			cache := twoPageCache()
			cache.AddReaction("m3", Reaction{ID: "r0", Reaction: "❤️", ProfileID: "u3"})
			cache.AddReaction("m3", reaction)
			cache.AddReaction("m3", Reaction{ID: "r2", Reaction: "😂", ProfileID: "u4"})
			before := cache.Pages()

			command := testCase.command()
			command.Apply(cache)
			command.Invert(cache)

			assert.Equal(t, before, cache.Pages())
		})
	}
}

func TestPendingLogRollbackInvertsOnlyItsCommand(t *testing.T) {
	cache := twoPageCache()
	log := NewPendingLog(cache)
	before := cache.Pages()

	messageTicket := log.Begin("message:m9", &InsertMessageCommand{Message: testMessage("m9", "optimistic")})
	reactionTicket := log.Begin("reaction:r1", &AddReactionCommand{MessageID: "m2", Reaction: Reaction{ID: "r1", Reaction: "👍", ProfileID: "u1"}})
	assert.Equal(t, 2, log.Pending())

	assert.True(t, log.Rollback(messageTicket))
	assert.False(t, log.Rollback(messageTicket))
	log.Confirm(reactionTicket)
	assert.Equal(t, 0, log.Pending())

	_, ok := cache.FindMessage("m9")
	assert.False(t, ok)
	message, ok := cache.FindMessage("m2")
	require.True(t, ok)
	require.Len(t, message.Reactions, 1)
	assert.Len(t, cache.Pages()[0], len(before[0]))
}

func TestPendingLogKeepsCommandsSharingALabel(t *testing.T) {
	cache := twoPageCache()
	log := NewPendingLog(cache)
	before := cache.Pages()
	reaction := Reaction{ID: "r1", Reaction: "👍", ProfileID: "u1"}

	addTicket := log.Begin("reaction:r1", &AddReactionCommand{MessageID: "m2", Reaction: reaction})
	removeTicket := log.Begin("reaction:r1", &RemoveReactionCommand{ReactionID: "r1"})
	assert.NotEqual(t, addTicket, removeTicket)
	assert.Equal(t, 2, log.Pending())

	assert.True(t, log.Rollback(removeTicket))
	assert.True(t, log.Rollback(addTicket))
	assert.Equal(t, 0, log.Pending())
	assert.Equal(t, before, cache.Pages())
}

func TestMemberDirectoryPlaceholder(t *testing.T) {
	directory := NewMemberDirectory(Profile{ID: "u1", DisplayName: "Ana"})

	assert.Equal(t, "Ana", directory.Resolve("u1").DisplayName)
	unknown := directory.Resolve("u2")
	assert.Equal(t, "u2", unknown.ID)
	assert.Equal(t, unknownMemberName, unknown.DisplayName)

	directory.Set(Profile{ID: "u2", DisplayName: "Ben"})
	assert.Equal(t, "Ben", directory.Resolve("u2").DisplayName)
}
