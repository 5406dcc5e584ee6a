// Package store provides durable storage for the relay's chat log and
// profile directory. The chat log is append-only with store-assigned,
// strictly increasing ids; profiles are keyed by id and replaced wholesale
// on upsert.
package store

import "context"

// Message is one persisted chat message. The id is assigned by the store on
// append and retrieval order always matches id order.
type Message struct {
	ID        int64
	Sender    string
	Text      string
	Timestamp string
}

// Profile is a client-supplied identity record keyed by ID. An upsert with
// an existing ID replaces every field; there is no partial merge.
type Profile struct {
	ID     string
	Name   string
	Avatar string
	Pseudo string
}

// Store is the persistence contract the relay depends on. Implementations
// must be safe for concurrent use and must commit writes before returning,
// so that a successful append or upsert can be broadcast immediately.
type Store interface {
	// AppendMessage durably appends a chat message and returns its id.
	AppendMessage(ctx context.Context, sender, text, timestamp string) (int64, error)

	// ListMessages returns the full message log in ascending id order.
	ListMessages(ctx context.Context) ([]Message, error)

	// UpsertProfile inserts a profile or fully replaces the existing one
	// with the same id. Applying the same profile twice is a no-op.
	UpsertProfile(ctx context.Context, p Profile) error

	// ListProfiles returns all stored profiles keyed by id.
	ListProfiles(ctx context.Context) (map[string]Profile, error)

	// Close releases the underlying storage resources.
	Close() error
}
