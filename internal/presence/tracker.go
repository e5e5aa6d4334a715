// Package presence derives online/offline state from connection registry
// occupancy and announces changes to every other connected user. Presence
// is best-effort: store writes are logged but never block the broadcast,
// and only users with at least one live connection receive the event.
package presence

import (
	"context"
	"log"

	"github.com/parley/messenger/internal/messaging"
	"github.com/parley/messenger/internal/protocol"
	"github.com/parley/messenger/internal/registry"
	"github.com/parley/messenger/internal/store"
)

// Tracker persists presence changes through the store and fans the
// userStatus event out through the registry.
type Tracker struct {
	registry *registry.Registry
	store    store.Store
	events   *messaging.Publisher // optional; nil disables the NATS feed
}

// NewTracker creates a Tracker. events may be nil.
func NewTracker(reg *registry.Registry, st store.Store, events *messaging.Publisher) *Tracker {
	return &Tracker{registry: reg, store: st, events: events}
}

// MarkOnline records the user as online and broadcasts the change. Invoked
// when a user's connection count transitions 0→1. Safe to call redundantly;
// the store write and broadcast are both idempotent at the data level.
func (t *Tracker) MarkOnline(ctx context.Context, userID string) {
	t.mark(ctx, userID, true)
}

// MarkOffline records the user as offline and broadcasts the change.
// Invoked only when a user's connection count transitions 1→0; a user with
// two connections who closes one stays online.
func (t *Tracker) MarkOffline(ctx context.Context, userID string) {
	t.mark(ctx, userID, false)
}

func (t *Tracker) mark(ctx context.Context, userID string, online bool) {
	// Presence is not transactional with persistence: a failed store write
	// is logged and the broadcast proceeds from in-memory state.
	if err := t.store.SetUserOnlineStatus(ctx, userID, online); err != nil {
		log.Printf("presence: store write user=%s online=%v: %v", userID, online, err)
	}

	frame, err := protocol.NewServerFrame(protocol.TypeUserStatus, protocol.UserStatusEvent{
		UserID:   userID,
		IsOnline: online,
	})
	if err != nil {
		log.Printf("presence: build userStatus user=%s: %v", userID, err)
		return
	}

	for _, other := range t.registry.Users() {
		if other == userID {
			continue
		}
		for _, conn := range t.registry.ConnectionsFor(other) {
			if err := conn.Send(frame); err != nil {
				log.Printf("presence: send userStatus to user=%s conn=%s: %v", other, conn.ID(), err)
			}
		}
	}

	if t.events != nil {
		if err := t.events.PublishPresence(userID, online); err != nil {
			log.Printf("presence: publish event user=%s: %v", userID, err)
		}
	}
}
