package relay

import (
	"context"
	"fmt"

	"github.com/whisper/relay/internal/protocol"
)

// Onboard replays persisted state to a newly joined connection: exactly one
// history payload (the full message log, oldest first) followed by exactly
// one profiles payload. The caller must run it before the connection starts
// receiving live events so the replay is a consistent prefix of what the
// client sees. Any failure (store read, encode, or send) is returned so the
// caller can tear the connection down; nothing here mutates store state.
func (r *Router) Onboard(connID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	msgs, err := r.store.ListMessages(ctx)
	if err != nil {
		return fmt.Errorf("relay: onboarding history read: %w", err)
	}

	entries := make([]protocol.HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, protocol.HistoryEntry{
			Sender:    m.Sender,
			Message:   m.Text,
			Timestamp: m.Timestamp,
		})
	}

	history, err := protocol.NewServerMessage(protocol.TypeHistory, protocol.HistoryMsg{
		Messages: entries,
	})
	if err != nil {
		return fmt.Errorf("relay: onboarding history encode: %w", err)
	}
	if err := r.hub.Send(connID, history); err != nil {
		return fmt.Errorf("relay: onboarding history send: %w", err)
	}

	stored, err := r.store.ListProfiles(ctx)
	if err != nil {
		return fmt.Errorf("relay: onboarding profiles read: %w", err)
	}

	dir := make(map[string]protocol.ProfileEntry, len(stored))
	for id, p := range stored {
		dir[id] = protocol.ProfileEntry{
			ID:     p.ID,
			Name:   p.Name,
			Avatar: p.Avatar,
			Pseudo: p.Pseudo,
		}
	}

	profiles, err := protocol.NewServerMessage(protocol.TypeProfiles, protocol.ProfilesMsg{
		Profiles: dir,
	})
	if err != nil {
		return fmt.Errorf("relay: onboarding profiles encode: %w", err)
	}
	if err := r.hub.Send(connID, profiles); err != nil {
		return fmt.Errorf("relay: onboarding profiles send: %w", err)
	}

	return nil
}
