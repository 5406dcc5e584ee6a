// Package protocol defines the WebSocket message types and structures
// exchanged between the relay and its clients. All messages are serialized
// as JSON and carry a "type" discriminator field.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types. Chat and typing events are relayed back
// out to clients, so these types also appear server -> client.
const (
	TypeChat       = "chat"
	TypeTyping     = "typing"
	TypeStopTyping = "stop_typing"
	TypeProfile    = "profile"
)

// Server -> Client message types.
const (
	TypeHistory       = "history"
	TypeProfiles      = "profiles"
	TypeProfileUpdate = "profile_update"
	TypeError         = "error"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// ChatMsg is a chat message submitted by a client. Sender, message, and
// timestamp are all required; the relay drops the event if any is missing.
type ChatMsg struct {
	Type      string `json:"type"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// TypingMsg signals that a client started or stopped typing. The payload is
// relayed verbatim to every open connection except the originating one.
type TypingMsg struct {
	Type   string `json:"type"`
	Sender string `json:"sender,omitempty"`
}

// ProfileMsg is a full profile submitted by a client. The id is the upsert
// key and is required; the remaining fields replace any previously stored
// values wholesale.
type ProfileMsg struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Pseudo string `json:"pseudo"`
}

// UnknownMsg is the decode result for a message whose type the relay does
// not recognise. Unknown types are a deliberate no-op so that an older
// server tolerates newer clients.
type UnknownMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// HistoryEntry is one persisted chat message as replayed during onboarding.
type HistoryEntry struct {
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// HistoryMsg carries the full message log, oldest first. It is the first
// payload a newly connected client receives.
type HistoryMsg struct {
	Type     string         `json:"type"`
	Messages []HistoryEntry `json:"messages"`
}

// ProfileEntry is one stored profile, replayed during onboarding and
// broadcast on update.
type ProfileEntry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Pseudo string `json:"pseudo"`
}

// ProfilesMsg carries the full profile directory keyed by profile id. It is
// the second payload a newly connected client receives.
type ProfilesMsg struct {
	Type     string                  `json:"type"`
	Profiles map[string]ProfileEntry `json:"profiles"`
}

// ProfileUpdateMsg is broadcast to all connections when a profile is created
// or replaced.
type ProfileUpdateMsg struct {
	Type    string       `json:"type"`
	Profile ProfileEntry `json:"profile"`
}

// ErrorMsg is sent to a single client to report a failure affecting one of
// its own events, such as a persistence error.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string and the decoded struct. A message with
// an unrecognised type decodes to UnknownMsg with a nil error; the caller is
// expected to ignore it. An error is returned only when the payload is not
// valid JSON, lacks a type field, or fails to decode into its struct.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeChat:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping, TypeStopTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeProfile:
		var m ProfileMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, UnknownMsg{Type: env.Type}, nil
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the *Msg structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
