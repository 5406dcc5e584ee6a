// Package relay implements the event router and session handler at the core
// of the chat relay: it validates inbound events, applies their persistence
// side effects, and decides which live connections each event fans out to.
package relay

import (
	"context"
	"log"
	"time"

	"github.com/whisper/relay/internal/metrics"
	"github.com/whisper/relay/internal/protocol"
	"github.com/whisper/relay/internal/store"
)

// storeTimeout bounds every store call made on behalf of a single event.
const storeTimeout = 5 * time.Second

// Hub is the fan-out surface the router drives. It is implemented by
// ws.Server; tests substitute a recording fake.
type Hub interface {
	// Broadcast delivers payload to every open connection matching pred
	// (nil pred matches all). Individual delivery failures are handled by
	// the hub and never propagate back.
	Broadcast(payload []byte, pred func(connID string) bool)

	// Send delivers payload to a single connection.
	Send(connID string, payload []byte) error
}

// Router routes validated inbound events to the store and the hub. It keeps
// no per-event state: everything it needs arrives with the event and the
// originating connection ID.
type Router struct {
	store store.Store
	hub   Hub
}

// NewRouter creates a Router over the given store and hub.
func NewRouter(st store.Store, hub Hub) *Router {
	return &Router{store: st, hub: hub}
}

// HandleChat persists a chat message and, on success, broadcasts the inbound
// payload verbatim to every open connection, the sender included. Missing
// required fields drop the event; a persistence failure is reported to the
// sender only and nothing is broadcast.
func (r *Router) HandleChat(connID string, msg protocol.ChatMsg, raw []byte) {
	if msg.Sender == "" || msg.Message == "" || msg.Timestamp == "" {
		log.Printf("relay: dropping chat with missing fields conn=%s", connID)
		metrics.EventsTotal.WithLabelValues("dropped").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	start := time.Now()
	id, err := r.store.AppendMessage(ctx, msg.Sender, msg.Message, msg.Timestamp)
	metrics.PersistSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Printf("relay: chat persist failed conn=%s: %v", connID, err)
		r.sendError(connID, "store_error", "message could not be saved")
		return
	}

	metrics.EventsTotal.WithLabelValues(protocol.TypeChat).Inc()
	log.Printf("relay: chat persisted id=%d sender=%s", id, msg.Sender)
	r.hub.Broadcast(raw, nil)
}

// HandleTyping relays a typing or stop_typing payload verbatim to every open
// connection except the sender. Unlike chat and profile events, typing
// indicators never echo back to their origin. Nothing is persisted.
func (r *Router) HandleTyping(connID string, msgType string, raw []byte) {
	metrics.EventsTotal.WithLabelValues(msgType).Inc()
	r.hub.Broadcast(raw, func(id string) bool { return id != connID })
}

// HandleProfile upserts a profile and, on success, broadcasts a
// profile_update to every open connection including the sender. A missing id
// drops the event; a persistence failure is reported to the sender only.
func (r *Router) HandleProfile(connID string, msg protocol.ProfileMsg) {
	if msg.ID == "" {
		log.Printf("relay: dropping profile with missing id conn=%s", connID)
		metrics.EventsTotal.WithLabelValues("dropped").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	start := time.Now()
	err := r.store.UpsertProfile(ctx, store.Profile{
		ID:     msg.ID,
		Name:   msg.Name,
		Avatar: msg.Avatar,
		Pseudo: msg.Pseudo,
	})
	metrics.PersistSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Printf("relay: profile persist failed conn=%s id=%s: %v", connID, msg.ID, err)
		r.sendError(connID, "store_error", "profile could not be saved")
		return
	}

	payload, err := protocol.NewServerMessage(protocol.TypeProfileUpdate, protocol.ProfileUpdateMsg{
		Profile: protocol.ProfileEntry{
			ID:     msg.ID,
			Name:   msg.Name,
			Avatar: msg.Avatar,
			Pseudo: msg.Pseudo,
		},
	})
	if err != nil {
		log.Printf("relay: failed to build profile_update id=%s: %v", msg.ID, err)
		return
	}

	metrics.EventsTotal.WithLabelValues(protocol.TypeProfile).Inc()
	r.hub.Broadcast(payload, nil)
}

// sendError notifies the originating connection that one of its events
// failed server-side. Delivery problems are logged and swallowed.
func (r *Router) sendError(connID, code, message string) {
	payload, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("relay: failed to build error message conn=%s: %v", connID, err)
		return
	}

	if err := r.hub.Send(connID, payload); err != nil {
		log.Printf("relay: failed to send error message conn=%s: %v", connID, err)
	}
}
