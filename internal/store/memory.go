package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store used by tests and as a fallback when no
// database is configured. It honours the same contract as Postgres but
// loses everything on restart.
type Memory struct {
	mu       sync.RWMutex
	messages []Message
	profiles map[string]Profile
	nextID   int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		profiles: make(map[string]Profile),
		nextID:   1,
	}
}

// AppendMessage appends a chat message and returns its id.
func (m *Memory) AppendMessage(ctx context.Context, sender, text, timestamp string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.messages = append(m.messages, Message{
		ID:        id,
		Sender:    sender,
		Text:      text,
		Timestamp: timestamp,
	})
	return id, nil
}

// ListMessages returns a copy of the full message log in ascending id order.
func (m *Memory) ListMessages(ctx context.Context) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out, nil
}

// UpsertProfile inserts or fully replaces a profile by id.
func (m *Memory) UpsertProfile(ctx context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profiles[p.ID] = p
	return nil
}

// ListProfiles returns a copy of all stored profiles keyed by id.
func (m *Memory) ListProfiles(ctx context.Context) (map[string]Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Profile, len(m.profiles))
	for id, p := range m.profiles {
		out[id] = p
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error {
	return nil
}
