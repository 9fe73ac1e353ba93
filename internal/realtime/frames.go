package realtime

import "encoding/json"

// Frame types exchanged over the websocket transport.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameBroadcast   = "broadcast"
	FrameHeartbeat   = "heartbeat"

	FrameEvent = "event"
	FrameAck   = "ack"
	FrameError = "error"
)

// ClientFrame is sent by a websocket client.
type ClientFrame struct {
	Type    string          `json:"type"`
	Topics  []string        `json:"topics,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerFrame is sent to a websocket client.
type ServerFrame struct {
	Type   string   `json:"type"`
	Event  *Event   `json:"event,omitempty"`
	Topics []string `json:"topics,omitempty"`
	Code   string   `json:"code,omitempty"`
}
