package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid chat message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Chat(t *testing.T) {
	input := []byte(`{"type":"chat","sender":"alice","message":"hi","timestamp":"t1"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeChat {
		t.Fatalf("expected type %q, got %q", TypeChat, msgType)
	}

	cm, ok := msg.(ChatMsg)
	if !ok {
		t.Fatalf("expected ChatMsg, got %T", msg)
	}
	if cm.Sender != "alice" {
		t.Errorf("expected sender %q, got %q", "alice", cm.Sender)
	}
	if cm.Message != "hi" {
		t.Errorf("expected message %q, got %q", "hi", cm.Message)
	}
	if cm.Timestamp != "t1" {
		t.Errorf("expected timestamp %q, got %q", "t1", cm.Timestamp)
	}
}

// ---------------------------------------------------------------------------
// Test: typing and stop_typing both decode to TypingMsg
// ---------------------------------------------------------------------------

func TestParseClientMessage_Typing(t *testing.T) {
	for _, typ := range []string{TypeTyping, TypeStopTyping} {
		input := []byte(`{"type":"` + typ + `","sender":"bob"}`)

		msgType, msg, err := ParseClientMessage(input)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", typ, err)
		}
		if msgType != typ {
			t.Fatalf("expected type %q, got %q", typ, msgType)
		}

		tm, ok := msg.(TypingMsg)
		if !ok {
			t.Fatalf("%s: expected TypingMsg, got %T", typ, msg)
		}
		if tm.Sender != "bob" {
			t.Errorf("%s: expected sender %q, got %q", typ, "bob", tm.Sender)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid profile message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Profile(t *testing.T) {
	input := []byte(`{"type":"profile","id":"u1","name":"Bob","avatar":"a.png","pseudo":"bobby"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeProfile {
		t.Fatalf("expected type %q, got %q", TypeProfile, msgType)
	}

	pm, ok := msg.(ProfileMsg)
	if !ok {
		t.Fatalf("expected ProfileMsg, got %T", msg)
	}
	if pm.ID != "u1" || pm.Name != "Bob" || pm.Avatar != "a.png" || pm.Pseudo != "bobby" {
		t.Errorf("unexpected profile fields: %+v", pm)
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown types decode to UnknownMsg with no error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownTypeIsNoOp(t *testing.T) {
	input := []byte(`{"type":"reaction","emoji":"+1"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unknown type must not error, got: %v", err)
	}
	if msgType != "reaction" {
		t.Fatalf("expected type %q, got %q", "reaction", msgType)
	}
	if _, ok := msg.(UnknownMsg); !ok {
		t.Fatalf("expected UnknownMsg, got %T", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Malformed payloads error
// ---------------------------------------------------------------------------

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"sender":"alice"}`)); err == nil {
		t.Fatal("expected error for missing type field")
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a profile_update server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_ProfileUpdate(t *testing.T) {
	data, err := NewServerMessage(TypeProfileUpdate, ProfileUpdateMsg{
		Profile: ProfileEntry{ID: "u1", Name: "Bob", Avatar: "a.png", Pseudo: "bobby"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeProfileUpdate {
		t.Errorf("expected type %q, got %v", TypeProfileUpdate, result["type"])
	}

	profile, ok := result["profile"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected profile object, got %T", result["profile"])
	}
	if profile["id"] != "u1" || profile["name"] != "Bob" || profile["avatar"] != "a.png" || profile["pseudo"] != "bobby" {
		t.Errorf("unexpected profile payload: %v", profile)
	}
}

// ---------------------------------------------------------------------------
// Test: An empty history encodes as an empty array, not null
// ---------------------------------------------------------------------------

func TestNewServerMessage_EmptyHistory(t *testing.T) {
	data, err := NewServerMessage(TypeHistory, HistoryMsg{Messages: []HistoryEntry{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	msgs, ok := result["messages"].([]interface{})
	if !ok {
		t.Fatalf("expected messages array, got %T", result["messages"])
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty messages, got %d entries", len(msgs))
	}
}
