package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestHubPublishesToSubscriber(t *testing.T) {
	hub := NewHub(HubConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subscription := hub.Subscribe(ctx, MessagesTopic("channel-1"))
	defer subscription.Close()

	row := map[string]string{"id": "m1", "content": "hello"}
	if err := hub.PublishChange(TableMessages, ChangeInsert, "channel-1", "user-1", row, nil); err != nil {
		t.Fatalf("publish change: %v", err)
	}

	select {
	case received := <-subscription.C():
		if received.Kind != KindChange || received.Type != ChangeInsert {
			t.Fatalf("unexpected event %+v", received)
		}
		if received.ActorID != "user-1" || received.ChannelID != "channel-1" {
			t.Fatalf("unexpected actor/channel %s/%s", received.ActorID, received.ChannelID)
		}
		var decoded map[string]string
		if err := json.Unmarshal(received.New, &decoded); err != nil {
			t.Fatalf("decode new row: %v", err)
		}
		if decoded["content"] != "hello" {
			t.Fatalf("unexpected row %v", decoded)
		}
		if received.Timestamp.IsZero() {
			t.Fatalf("expected publish to stamp the event")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime event within deadline")
	}
}

func TestHubIsolatesTopics(t *testing.T) {
	hub := NewHub(HubConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := hub.Subscribe(ctx, MessagesTopic("channel-2"))
	defer first.Close()
	second := hub.Subscribe(ctx, MessagesTopic("channel-3"))
	defer second.Close()

	if err := hub.PublishChange(TableMessages, ChangeDelete, "channel-3", "user-9", nil, map[string]string{"id": "m9"}); err != nil {
		t.Fatalf("publish change: %v", err)
	}

	select {
	case <-first.C():
		t.Fatal("did not expect event for an unrelated channel")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case event := <-second.C():
		if event.Topic != MessagesTopic("channel-3") {
			t.Fatalf("unexpected topic %s", event.Topic)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event for subscribed channel")
	}
}

func TestSubscriptionCloseUnregistersEverywhere(t *testing.T) {
	hub := NewHub(HubConfig{})
	ctx, cancel := context.WithCancel(context.Background())

	subscription := hub.Subscribe(ctx, UserChangeTopic, ChannelTopic("c1"))
	subscription.Add(ReactionsTopic("c1"))
	if hub.SubscriberCount(ReactionsTopic("c1")) != 1 {
		t.Fatalf("expected dynamic topic registration")
	}
	subscription.Remove(UserChangeTopic)
	if hub.SubscriberCount(UserChangeTopic) != 0 {
		t.Fatalf("expected topic removal")
	}

	cancel()
	select {
	case <-subscription.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected context cancellation to close the subscription")
	}
	subscription.Close()

	for _, topic := range []string{ChannelTopic("c1"), ReactionsTopic("c1")} {
		if hub.SubscriberCount(topic) != 0 {
			t.Fatalf("expected %s to have no subscribers after close", topic)
		}
	}
	subscription.Add(UserChangeTopic)
	if hub.SubscriberCount(UserChangeTopic) != 0 {
		t.Fatalf("expected closed subscription to ignore new topics")
	}
}

func TestHubDropsEventsForFullBuffers(t *testing.T) {
	hub := NewHub(HubConfig{BufferSize: 1})
	subscription := hub.Subscribe(context.Background(), ChannelTopic("c1"))
	defer subscription.Close()

	for i := 0; i < 3; i++ {
		if err := hub.Broadcast(ChannelTopic("c1"), EventTypingStart, "u1", TypingPayload{Message: "u1"}); err != nil {
			t.Fatalf("broadcast: %v", err)
		}
	}
	if len(subscription.C()) != 1 {
		t.Fatalf("expected exactly one buffered event, got %d", len(subscription.C()))
	}
	event := <-subscription.C()
	if event.Broadcast == nil || event.Broadcast.Event != EventTypingStart || event.ChannelID != "c1" {
		t.Fatalf("unexpected broadcast %+v", event)
	}
}

func TestTopicHelpers(t *testing.T) {
	if ChannelOf(MessagesTopic("abc")) != "abc" || ChannelOf(ChannelTopic("xyz")) != "xyz" {
		t.Fatalf("expected channel ids to round trip through topic names")
	}
	if ChannelOf(PresenceTopic) != "" {
		t.Fatalf("expected global topic to have no channel")
	}
	if !IsKnownTopic(UserChangeTopic) || IsKnownTopic("jobs:1") {
		t.Fatalf("unexpected topic recognition")
	}
}
