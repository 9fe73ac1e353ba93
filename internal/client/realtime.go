package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/realtime"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultHeartbeatInterval = 20 * time.Second
	defaultMinBackoff        = 500 * time.Millisecond
	defaultMaxBackoff        = 30 * time.Second
	writeWait                = 10 * time.Second
	outboundBuffer           = 32
)

var errRealtimeClosed = errors.New("client: realtime connection closed")

// RealtimeConfig configures a websocket subscription.
type RealtimeConfig struct {
	BaseURL string
	Token   string
	Topics  []string
	// Handler receives every event in arrival order.
	Handler           func(realtime.Event)
	HeartbeatInterval time.Duration
	MinBackoff        time.Duration
	MaxBackoff        time.Duration
	Dialer            *websocket.Dialer
	Logger            *zap.Logger
}

// Realtime keeps a websocket subscription open, reconnecting with
// exponential backoff until Close is called.
type Realtime struct {
	endpoint  string
	header    http.Header
	handler   func(realtime.Event)
	heartbeat time.Duration
	backoff   backoff
	dialer    *websocket.Dialer
	logger    *zap.Logger

	mu       sync.Mutex
	topics   map[string]struct{}
	outbound chan realtime.ClientFrame

	cancel context.CancelFunc
	done   chan struct{}
}

// DialRealtime starts the subscription loop in the background.
func DialRealtime(ctx context.Context, cfg RealtimeConfig) (*Realtime, error) {
	endpoint, err := websocketURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("client: realtime handler is required")
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	minBackoff := cfg.MinBackoff
	if minBackoff <= 0 {
		minBackoff = defaultMinBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff < minBackoff {
		maxBackoff = defaultMaxBackoff
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r := &Realtime{
		endpoint:  endpoint,
		header:    header,
		handler:   cfg.Handler,
		heartbeat: heartbeat,
		backoff:   backoff{min: minBackoff, max: maxBackoff},
		dialer:    dialer,
		logger:    logger,
		topics:    make(map[string]struct{}),
		outbound:  make(chan realtime.ClientFrame, outboundBuffer),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, topic := range cfg.Topics {
		r.topics[topic] = struct{}{}
	}
	go r.run(loopCtx)
	return r, nil
}

// Subscribe adds topics to this and every later connection.
func (r *Realtime) Subscribe(topics ...string) error {
	r.mu.Lock()
	for _, topic := range topics {
		r.topics[topic] = struct{}{}
	}
	r.mu.Unlock()
	return r.enqueue(realtime.ClientFrame{Type: realtime.FrameSubscribe, Topics: topics})
}

// Unsubscribe drops topics.
func (r *Realtime) Unsubscribe(topics ...string) error {
	r.mu.Lock()
	for _, topic := range topics {
		delete(r.topics, topic)
	}
	r.mu.Unlock()
	return r.enqueue(realtime.ClientFrame{Type: realtime.FrameUnsubscribe, Topics: topics})
}

// Broadcast sends an ephemeral event such as a typing indicator to topic.
func (r *Realtime) Broadcast(topic, event string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("client: encode broadcast: %w", err)
	}
	return r.enqueue(realtime.ClientFrame{Type: realtime.FrameBroadcast, Topic: topic, Event: event, Payload: encoded})
}

// Close tears the subscription down and waits for the loop to exit.
func (r *Realtime) Close() error {
	r.cancel()
	<-r.done
	return nil
}

func (r *Realtime) enqueue(frame realtime.ClientFrame) error {
	select {
	case <-r.done:
		return errRealtimeClosed
	default:
	}
	select {
	case r.outbound <- frame:
		return nil
	default:
		return fmt.Errorf("client: realtime outbound queue is full")
	}
}

func (r *Realtime) currentTopics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	topics := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		topics = append(topics, topic)
	}
	return topics
}

func (r *Realtime) run(ctx context.Context) {
	defer close(r.done)
	for {
		connected, err := r.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			r.backoff.reset()
		}
		delay := r.backoff.next()
		r.logger.Warn("realtime connection lost",
			zap.Error(err),
			zap.Duration("retry_in", delay))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session runs one connection until it fails or ctx ends. It reports whether
// the connection was established.
func (r *Realtime) session(ctx context.Context) (bool, error) {
	conn, _, err := r.dialer.DialContext(ctx, r.endpoint, r.header)
	if err != nil {
		return false, fmt.Errorf("dial realtime: %w", err)
	}
	defer conn.Close()

	if topics := r.currentTopics(); len(topics) > 0 {
		if err := writeFrame(conn, realtime.ClientFrame{Type: realtime.FrameSubscribe, Topics: topics}); err != nil {
			return true, err
		}
	}
	if err := writeFrame(conn, realtime.ClientFrame{Type: realtime.FrameHeartbeat}); err != nil {
		return true, err
	}

	readErr := make(chan error, 1)
	go func() {
		readErr <- r.readLoop(conn)
	}()

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
			<-readErr
			return true, ctx.Err()
		case err := <-readErr:
			return true, err
		case frame := <-r.outbound:
			if err := writeFrame(conn, frame); err != nil {
				return true, err
			}
		case <-ticker.C:
			if err := writeFrame(conn, realtime.ClientFrame{Type: realtime.FrameHeartbeat}); err != nil {
				return true, err
			}
		}
	}
}

func (r *Realtime) readLoop(conn *websocket.Conn) error {
	for {
		var frame realtime.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		switch frame.Type {
		case realtime.FrameEvent:
			if frame.Event != nil {
				r.handler(*frame.Event)
			}
		case realtime.FrameError:
			r.logger.Warn("realtime frame rejected", zap.String("code", frame.Code))
		}
	}
}

func writeFrame(conn *websocket.Conn, frame realtime.ClientFrame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}

func websocketURL(base string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", errMissingBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("client: parse base url: %w", err)
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http", "":
		parsed.Scheme = "ws"
	}
	return parsed.JoinPath("/realtime/ws").String(), nil
}

// backoff doubles the delay after every failed attempt up to max.
type backoff struct {
	min     time.Duration
	max     time.Duration
	current time.Duration
}

func (b *backoff) next() time.Duration {
	if b.current == 0 {
		b.current = b.min
		return b.current
	}
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return b.current
}

func (b *backoff) reset() {
	b.current = 0
}
