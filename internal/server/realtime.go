package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/realtime"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	opSubscribe = "realtime.subscribe"
	opBroadcast = "realtime.broadcast"

	streamHeartbeatInterval = 15 * time.Second

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxFrameSize   = 16 << 10
	sendBufferSize = 64
)

var (
	errUnknownTopic     = errors.New("unknown topic")
	errUnsupportedEvent = errors.New("unsupported broadcast event")
	errUnknownFrame     = errors.New("unknown frame type")
)

var broadcastEvents = map[string]struct{}{
	realtime.EventTypingStart: {},
	realtime.EventTypingEnd:   {},
}

// connectionCounter tracks open realtime connections per user so presence
// is only left when the last one closes.
type connectionCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newConnectionCounter() *connectionCounter {
	return &connectionCounter{counts: make(map[string]int)}
}

func (c *connectionCounter) open(userID string) {
	c.mu.Lock()
	c.counts[userID]++
	c.mu.Unlock()
}

// close reports whether userID has no connections left.
func (c *connectionCounter) close(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[userID]--
	if c.counts[userID] > 0 {
		return false
	}
	delete(c.counts, userID)
	return true
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// authorizeTopics rejects unknown topics and channel topics of channels the
// user is not a member of.
func (h *httpHandler) authorizeTopics(ctx context.Context, operation, userID string, topics []string) error {
	if len(topics) == 0 {
		return apperr.Invalid(operation, "topics", errors.New("empty"))
	}
	for _, topic := range topics {
		if !realtime.IsKnownTopic(topic) {
			return apperr.Invalid(operation, "topics", errUnknownTopic)
		}
		if channelID := realtime.ChannelOf(topic); channelID != "" {
			if _, err := h.chat.RequireChannelMember(ctx, userID, channelID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *httpHandler) connect(userID string) {
	h.connections.open(userID)
	h.presence.Heartbeat(userID)
}

func (h *httpHandler) disconnect(userID string) {
	if h.connections.close(userID) {
		h.presence.Leave(userID)
	}
}

func (h *httpHandler) presenceSnapshot() realtime.Event {
	return realtime.Event{
		Kind:      realtime.KindPresence,
		Topic:     realtime.PresenceTopic,
		Presence:  &realtime.PresenceDiff{Event: realtime.PresenceSync, Online: h.presence.Online()},
		Timestamp: time.Now().UTC(),
	}
}

func containsTopic(topics []string, topic string) bool {
	for _, candidate := range topics {
		if candidate == topic {
			return true
		}
	}
	return false
}

// handleRealtimeStream serves the topics named in ?topics as server-sent
// events. An open stream keeps the user present.
func (h *httpHandler) handleRealtimeStream(c *gin.Context) {
	ctx := c.Request.Context()
	userID := currentUserID(c)
	topics := splitList(c.Query("topics"))
	if err := h.authorizeTopics(ctx, opSubscribe, userID, topics); err != nil {
		h.respondError(c, err)
		return
	}

	subscription := h.hub.Subscribe(ctx, topics...)
	defer subscription.Close()
	h.connect(userID)
	defer h.disconnect(userID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	if containsTopic(topics, realtime.PresenceTopic) {
		c.SSEvent("message", h.presenceSnapshot())
		c.Writer.Flush()
	}

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-subscription.Done():
			return false
		case event := <-subscription.C():
			c.SSEvent("message", event)
			return true
		case <-heartbeat.C:
			h.presence.Heartbeat(userID)
			if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
				return false
			}
			return true
		}
	})
}

// socketSession is one websocket connection. Only the write pump writes to
// the connection.
type socketSession struct {
	handler      *httpHandler
	conn         *websocket.Conn
	userID       string
	subscription *realtime.Subscription
	send         chan realtime.ServerFrame
	logger       *zap.Logger
}

func (h *httpHandler) handleRealtimeSocket(c *gin.Context) {
	userID := currentUserID(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session := &socketSession{
		handler:      h,
		conn:         conn,
		userID:       userID,
		subscription: h.hub.Subscribe(ctx),
		send:         make(chan realtime.ServerFrame, sendBufferSize),
		logger:       h.logger.With(zap.String("user_id", userID)),
	}
	h.connect(userID)
	defer h.disconnect(userID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		session.write(ctx)
	}()
	session.read(ctx)
	cancel()
	session.subscription.Close()
	<-done
}

func (s *socketSession) read(ctx context.Context) {
	defer s.conn.Close()

	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var frame realtime.ClientFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handleFrame(ctx, frame)
	}
}

func (s *socketSession) handleFrame(ctx context.Context, frame realtime.ClientFrame) {
	h := s.handler
	switch frame.Type {
	case realtime.FrameSubscribe:
		if err := h.authorizeTopics(ctx, opSubscribe, s.userID, frame.Topics); err != nil {
			s.reject(err)
			return
		}
		s.subscription.Add(frame.Topics...)
		s.queue(realtime.ServerFrame{Type: realtime.FrameAck, Topics: s.subscription.Topics()})
		if containsTopic(frame.Topics, realtime.PresenceTopic) {
			snapshot := h.presenceSnapshot()
			s.queue(realtime.ServerFrame{Type: realtime.FrameEvent, Event: &snapshot})
		}
	case realtime.FrameUnsubscribe:
		s.subscription.Remove(frame.Topics...)
		s.queue(realtime.ServerFrame{Type: realtime.FrameAck, Topics: s.subscription.Topics()})
	case realtime.FrameBroadcast:
		if err := s.broadcast(ctx, frame); err != nil {
			s.reject(err)
		}
	case realtime.FrameHeartbeat:
		h.presence.Heartbeat(s.userID)
	default:
		s.reject(apperr.Invalid("realtime.frame", "type", errUnknownFrame))
	}
}

// broadcast relays a typing indicator to the other members of a channel.
func (s *socketSession) broadcast(ctx context.Context, frame realtime.ClientFrame) error {
	if _, ok := broadcastEvents[frame.Event]; !ok {
		return apperr.Invalid(opBroadcast, "event", errUnsupportedEvent)
	}
	channelID := realtime.ChannelOf(frame.Topic)
	if channelID == "" || frame.Topic != realtime.ChannelTopic(channelID) {
		return apperr.Invalid(opBroadcast, "topic", errUnknownTopic)
	}
	if _, err := s.handler.chat.RequireChannelMember(ctx, s.userID, channelID); err != nil {
		return err
	}
	var payload any
	if len(frame.Payload) > 0 {
		payload = json.RawMessage(frame.Payload)
	}
	return s.handler.hub.Broadcast(frame.Topic, frame.Event, s.userID, payload)
}

func (s *socketSession) reject(err error) {
	code := apperr.CodeOf(err)
	if code == "" {
		code = string(apperr.KindInternal)
	}
	s.logger.Debug("realtime frame rejected", zap.String("code", code), zap.Error(err))
	s.queue(realtime.ServerFrame{Type: realtime.FrameError, Code: code})
}

func (s *socketSession) queue(frame realtime.ServerFrame) {
	select {
	case s.send <- frame:
	default:
		s.logger.Warn("websocket send buffer full, dropping frame", zap.String("type", frame.Type))
	}
}

func (s *socketSession) write(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case frame := <-s.send:
			if !s.writeFrame(frame) {
				return
			}
		case event, ok := <-s.subscription.C():
			if !ok {
				return
			}
			if !s.writeFrame(realtime.ServerFrame{Type: realtime.FrameEvent, Event: &event}) {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *socketSession) writeFrame(frame realtime.ServerFrame) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(frame); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			s.logger.Warn("websocket write failed", zap.Error(err))
		}
		return false
	}
	return true
}

func (h *httpHandler) handlePresence(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online": h.presence.Online()})
}
