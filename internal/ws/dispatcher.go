package ws

import (
	"log"

	"github.com/whisper/relay/internal/metrics"
	"github.com/whisper/relay/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client
// message. The msg parameter is the concrete struct returned by
// protocol.ParseClientMessage (e.g. protocol.ChatMsg); raw holds the
// original frame bytes for handlers that relay the payload verbatim.
type MessageHandler func(conn *Connection, msg interface{}, raw []byte)

// MessageDispatcher routes incoming WebSocket messages to registered
// handlers based on the message type. Malformed payloads are dropped without
// affecting the connection, and unknown types are ignored so that newer
// clients can talk to older servers.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
	}
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw bytes
// into a typed message and routes it to the registered handler. A payload
// that fails to decode is dropped with a log line only, and the connection
// stays active. Unknown or unregistered types are a no-op.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: dropping malformed message conn=%s: %v", conn.ID, err)
		metrics.EventsTotal.WithLabelValues("dropped").Inc()
		return
	}

	if _, unknown := msg.(protocol.UnknownMsg); unknown {
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		return
	}

	handler(conn, msg, data)
}
