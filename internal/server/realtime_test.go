package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/realtime"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func TestConnectionCounterReportsLastClose(t *testing.T) {
	counter := newConnectionCounter()
	counter.open("user-1")
	counter.open("user-1")
	counter.open("user-2")

	if counter.close("user-1") {
		t.Fatalf("expected user-1 to keep one connection")
	}
	if !counter.close("user-1") {
		t.Fatalf("expected user-1 last connection to close")
	}
	if !counter.close("user-2") {
		t.Fatalf("expected user-2 last connection to close")
	}
}

func TestRealtimeStreamDeliversMessageChanges(t *testing.T) {
	env := newTestEnvironment(t)
	owner := env.signUp(t, "fabio", "worker")
	_, channelID := env.createServer(t, owner.Token, "Packing line")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	streamURL := env.server.URL + "/realtime/stream?topics=" + realtime.MessagesTopic(channelID) + "&access_token=" + owner.Token
	streamRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResponse, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	defer streamResponse.Body.Close()
	if streamResponse.StatusCode != http.StatusOK {
		t.Fatalf("expected stream status %d, got %d", http.StatusOK, streamResponse.StatusCode)
	}
	if contentType := streamResponse.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("unexpected content type %q", contentType)
	}

	messageID := uuid.NewString()
	env.call(t, http.MethodPost, "/api/messages", owner.Token, map[string]any{
		"id":        messageID,
		"content":   "boxes are ready",
		"channelId": channelID,
	}, http.StatusCreated, nil)

	events := make(chan realtime.Event, 1)
	go func() {
		streamReader := bufio.NewReader(streamResponse.Body)
		for {
			line, err := streamReader.ReadString('\n')
			if err != nil {
				return
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var event realtime.Event
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &event); err != nil {
				continue
			}
			events <- event
			return
		}
	}()

	select {
	case event := <-events:
		if event.Type != realtime.ChangeInsert || event.Topic != realtime.MessagesTopic(channelID) || event.ActorID != owner.Profile.ID {
			t.Fatalf("unexpected streamed event: %#v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for streamed event")
	}
}

func TestRealtimeStreamRejectsForeignChannel(t *testing.T) {
	env := newTestEnvironment(t)
	owner := env.signUp(t, "gala", "worker")
	outsider := env.signUp(t, "hugo", "worker")
	_, channelID := env.createServer(t, owner.Token, "Cold storage")

	var body map[string]string
	env.call(t, http.MethodGet, "/realtime/stream?topics="+realtime.MessagesTopic(channelID), outsider.Token, nil, http.StatusForbidden, &body)
	if body["code"] != "chat.require_member.not_member" {
		t.Fatalf("unexpected error code: %v", body)
	}
	env.call(t, http.MethodGet, "/realtime/stream?topics=bogus", outsider.Token, nil, http.StatusBadRequest, nil)
}

func (env *testEnvironment) dialSocket(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	socketURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/realtime/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, response, err := websocket.DefaultDialer.Dial(socketURL, header)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	_ = response.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) realtime.ServerFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame realtime.ServerFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	return frame
}

func TestRealtimeSocketSubscribeAndTyping(t *testing.T) {
	env := newTestEnvironment(t)
	owner := env.signUp(t, "ines", "worker")
	member := env.signUp(t, "jorge", "worker")
	outsider := env.signUp(t, "karla", "worker")
	server, channelID := env.createServer(t, owner.Token, "Loading dock")
	env.call(t, http.MethodPost, "/api/servers/"+server.ID+"/join", member.Token, nil, http.StatusOK, nil)

	foreign := env.dialSocket(t, outsider.Token)
	if err := foreign.WriteJSON(realtime.ClientFrame{Type: realtime.FrameSubscribe, Topics: []string{realtime.ChannelTopic(channelID)}}); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}
	if frame := readFrame(t, foreign); frame.Type != realtime.FrameError || frame.Code != "chat.require_member.not_member" {
		t.Fatalf("expected membership error frame, got %#v", frame)
	}

	conn := env.dialSocket(t, member.Token)
	topics := []string{realtime.MessagesTopic(channelID), realtime.ChannelTopic(channelID)}
	if err := conn.WriteJSON(realtime.ClientFrame{Type: realtime.FrameSubscribe, Topics: topics}); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}
	ack := readFrame(t, conn)
	if ack.Type != realtime.FrameAck || len(ack.Topics) != 2 || ack.Topics[0] != realtime.ChannelTopic(channelID) {
		t.Fatalf("unexpected ack: %#v", ack)
	}
	if !env.presence.IsOnline(member.Profile.ID) {
		t.Fatalf("expected open socket to mark the user online")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ownerView := env.hub.Subscribe(ctx, realtime.ChannelTopic(channelID))

	payload, _ := json.Marshal(realtime.TypingPayload{Message: "jorge is typing"})
	if err := conn.WriteJSON(realtime.ClientFrame{
		Type:    realtime.FrameBroadcast,
		Topic:   realtime.ChannelTopic(channelID),
		Event:   realtime.EventTypingStart,
		Payload: payload,
	}); err != nil {
		t.Fatalf("failed to send broadcast: %v", err)
	}
	typing := expectEvent(t, ownerView)
	if typing.Broadcast == nil || typing.Broadcast.Event != realtime.EventTypingStart || typing.ActorID != member.Profile.ID {
		t.Fatalf("unexpected typing event: %#v", typing)
	}

	if err := conn.WriteJSON(realtime.ClientFrame{
		Type:  realtime.FrameBroadcast,
		Topic: realtime.ChannelTopic(channelID),
		Event: realtime.EventUserStatusChange,
	}); err != nil {
		t.Fatalf("failed to send broadcast: %v", err)
	}
	for {
		frame := readFrame(t, conn)
		if frame.Type == realtime.FrameEvent {
			continue
		}
		if frame.Type != realtime.FrameError || frame.Code != "realtime.broadcast.invalid_event" {
			t.Fatalf("expected rejected broadcast, got %#v", frame)
		}
		break
	}

	var presence map[string][]string
	env.call(t, http.MethodGet, "/api/presence", owner.Token, nil, http.StatusOK, &presence)
	if !containsTopic(presence["online"], member.Profile.ID) {
		t.Fatalf("expected %s online, got %v", member.Profile.ID, presence["online"])
	}

	_ = conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for env.presence.IsOnline(member.Profile.ID) {
		if time.Now().After(deadline) {
			t.Fatal("expected closed socket to leave presence")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
