package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/chatcache"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/realtime"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := New(Config{BaseURL: server.URL, Token: "token-1"})
	require.NoError(t, err)
	return c
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, errMissingBaseURL)
}

func TestSendMessagePostsDraft(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "m1", body["id"])
		assert.Equal(t, "channel-1", body["channelId"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"m1","content":"hello","authorId":"u1","channelId":"channel-1",
			"createdAt":"2025-11-03T12:00:00Z","attachmentUrl":null,
			"author":{"id":"u1","displayName":"Ana","username":"ana","accountType":"worker"},"reactions":[]}`)
	})
	c := newTestClient(t, mux)

	message, err := c.SendMessage(context.Background(), chatcache.DraftMessage{ID: "m1", Content: "hello", ChannelID: "channel-1"})
	require.NoError(t, err)
	assert.Equal(t, "Ana", message.Author.DisplayName)
	require.NotNil(t, message.CreatedAt)
	assert.Equal(t, time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC), message.CreatedAt.UTC())
	assert.Equal(t, []chatcache.Reaction{}, message.Reactions)
}

func TestAPIErrorsAreDecoded(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages/m1/reactions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "👍", r.URL.Query().Get("emoji"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":"forbidden","code":"chat.remove_reaction.not_member"}`)
	})
	c := newTestClient(t, mux)

	err := c.RemoveReaction(context.Background(), "channel-1", "m1", "👍")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "chat.remove_reaction.not_member", apiErr.Code)
}

func TestListMessagesSendsCursor(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/channels/channel-1/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "50", r.URL.Query().Get("cursor"))
		_, _ = io.WriteString(w, `{"messages":[{"id":"m1","content":"a","reactions":[]}],"nextCursor":null}`)
	})
	c := newTestClient(t, mux)

	page, err := c.ListMessages(context.Background(), "channel-1", 50)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Nil(t, page.NextCursor)
}

func TestUploadAttachmentStreamsBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/storage/attachments", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u1/m1/photo.png", r.URL.Query().Get("path"))
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "png-bytes", string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"url":"https://files.example.com/files/attachments/u1/m1/photo.png"}`)
	})
	c := newTestClient(t, mux)

	url, err := c.UploadAttachment(context.Background(), "u1/m1/photo.png",
		chatcache.Attachment{Name: "photo.png", ContentType: "image/png", Data: []byte("png-bytes")})
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/files/attachments/u1/m1/photo.png", url)
}

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := backoff{min: 100 * time.Millisecond, max: 500 * time.Millisecond}
	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, b.next())
	}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond,
		500 * time.Millisecond, 500 * time.Millisecond,
	}, got)
	b.reset()
	assert.Equal(t, 100*time.Millisecond, b.next())
}

func TestWebsocketURL(t *testing.T) {
	got, err := websocketURL("https://alias.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "wss://alias.example.com/realtime/ws", got)

	got, err = websocketURL("http://127.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8080/realtime/ws", got)
}

func TestRealtimeSubscribesAndDeliversEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	frames := make(chan realtime.ClientFrame, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var frame realtime.ClientFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			frames <- frame
			if frame.Type == realtime.FrameSubscribe {
				event := realtime.Event{Kind: realtime.KindChange, Topic: frame.Topics[0], Table: realtime.TableMessages}
				_ = conn.WriteJSON(realtime.ServerFrame{Type: realtime.FrameEvent, Event: &event})
			}
		}
	}))
	t.Cleanup(server.Close)

	events := make(chan realtime.Event, 1)
	rt, err := DialRealtime(context.Background(), RealtimeConfig{
		BaseURL:           server.URL,
		Token:             "token-1",
		Topics:            []string{realtime.MessagesTopic("channel-1")},
		Handler:           func(event realtime.Event) { events <- event },
		HeartbeatInterval: time.Hour,
	})
	require.NoError(t, err)

	select {
	case frame := <-frames:
		assert.Equal(t, realtime.FrameSubscribe, frame.Type)
		assert.Equal(t, []string{"messages:channel-1"}, frame.Topics)
	case <-time.After(5 * time.Second):
		t.Fatal("subscribe frame not received")
	}
	select {
	case event := <-events:
		assert.Equal(t, "messages:channel-1", event.Topic)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}

	require.NoError(t, rt.Close())
	assert.ErrorIs(t, rt.Broadcast("channel-channel-1", realtime.EventTypingStart, realtime.TypingPayload{Message: "Ana is typing"}), errRealtimeClosed)
}
