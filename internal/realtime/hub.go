package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/metrics"
)

const defaultBufferSize = 64

// HubConfig configures a Hub.
type HubConfig struct {
	BufferSize int
	Clock      func() time.Time
}

// Hub routes events to the subscriptions of their topic. Publishing never
// blocks; a subscriber whose buffer is full misses the event.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*Subscription
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

// NewHub constructs an empty hub.
func NewHub(cfg HubConfig) *Hub {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Hub{
		subscribers: make(map[string]map[int64]*Subscription),
		bufferSize:  bufferSize,
		clock:       clock,
	}
}

// Subscription receives the events of a changing set of topics.
type Subscription struct {
	hub       *Hub
	id        int64
	stream    chan Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	topics    map[string]struct{}
}

// Subscribe registers a subscription for topics. It is closed when ctx ends
// or Close is called.
func (h *Hub) Subscribe(ctx context.Context, topics ...string) *Subscription {
	subscription := &Subscription{
		hub:    h,
		id:     h.nextSequence(),
		stream: make(chan Event, h.bufferSize),
		done:   make(chan struct{}),
		topics: make(map[string]struct{}),
	}
	subscription.Add(topics...)
	metrics.RealtimeSubscribers.Inc()
	go func() {
		select {
		case <-ctx.Done():
			subscription.Close()
		case <-subscription.done:
		}
	}()
	return subscription
}

// C delivers the subscribed events.
func (s *Subscription) C() <-chan Event {
	return s.stream
}

// Done is closed once the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Topics lists the topics currently subscribed, sorted.
func (s *Subscription) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Add subscribes to more topics.
func (s *Subscription) Add(topics ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		if _, ok := s.topics[topic]; ok {
			continue
		}
		s.topics[topic] = struct{}{}
		s.hub.register(topic, s)
	}
}

// Remove unsubscribes from topics.
func (s *Subscription) Remove(topics ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, topic := range topics {
		if _, ok := s.topics[topic]; !ok {
			continue
		}
		delete(s.topics, topic)
		s.hub.unregister(topic, s.id)
	}
}

// Close tears the subscription down. It is safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for topic := range s.topics {
			s.hub.unregister(topic, s.id)
		}
		s.topics = map[string]struct{}{}
		s.mu.Unlock()
		close(s.done)
		metrics.RealtimeSubscribers.Dec()
	})
}

// Publish delivers event to every subscriber of its topic.
func (h *Hub) Publish(event Event) {
	if event.Topic == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = h.clock().UTC()
	}
	h.mu.RLock()
	subscribers := h.subscribers[event.Topic]
	if len(subscribers) == 0 {
		h.mu.RUnlock()
		return
	}
	copies := make([]*Subscription, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	h.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
			metrics.RealtimeDroppedEvents.Inc()
		}
	}
}

// PublishChange announces a row change of table scoped to channelID.
func (h *Hub) PublishChange(table string, change ChangeType, channelID, actorID string, newRow, oldRow any) error {
	event := Event{
		Kind:      KindChange,
		Topic:     TableTopic(table, channelID),
		Table:     table,
		Type:      change,
		ChannelID: channelID,
		ActorID:   actorID,
	}
	var err error
	if newRow != nil {
		if event.New, err = json.Marshal(newRow); err != nil {
			return err
		}
	}
	if oldRow != nil {
		if event.Old, err = json.Marshal(oldRow); err != nil {
			return err
		}
	}
	h.Publish(event)
	return nil
}

// Broadcast sends an ephemeral event to the subscribers of topic.
func (h *Hub) Broadcast(topic, name, actorID string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = encoded
	}
	h.Publish(Event{
		Kind:      KindBroadcast,
		Topic:     topic,
		ChannelID: ChannelOf(topic),
		ActorID:   actorID,
		Broadcast: &Broadcast{Event: name, Payload: raw},
	})
	return nil
}

// SubscriberCount reports how many subscriptions listen on topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[topic])
}

func (h *Hub) nextSequence() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return h.nextID
}

func (h *Hub) register(topic string, subscription *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[topic]; !ok {
		h.subscribers[topic] = make(map[int64]*Subscription)
	}
	h.subscribers[topic][subscription.id] = subscription
}

func (h *Hub) unregister(topic string, subscriptionID int64) {
	h.mu.Lock()
	subscribers := h.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, subscriptionID)
		if len(subscribers) == 0 {
			delete(h.subscribers, topic)
		}
	}
	h.mu.Unlock()
}
