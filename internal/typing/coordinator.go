// Package typing relays ephemeral typing indicators. Nothing is persisted
// and the coordinator holds no timers or state: the client debounces
// repeated start events and emits a stop on send or after inactivity, the
// coordinator just validates the conversation and re-broadcasts.
package typing

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/parley/messenger/internal/metrics"
	"github.com/parley/messenger/internal/protocol"
	"github.com/parley/messenger/internal/registry"
	"github.com/parley/messenger/internal/store"
)

// Coordinator broadcasts typing state to every participant of a
// conversation except the sender.
type Coordinator struct {
	store    store.Store
	registry *registry.Registry
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(st store.Store, reg *registry.Registry) *Coordinator {
	return &Coordinator{store: st, registry: reg}
}

// SetTyping relays the sender's typing state to the other participants'
// live connections. Redundant calls (repeated true, or false with no prior
// true) are no-ops at the data level and simply re-broadcast.
func (c *Coordinator) SetTyping(ctx context.Context, conversationID, userID string, isTyping bool) error {
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("conversation %s: %w", conversationID, store.ErrNotFound)
		}
		return fmt.Errorf("typing: load conversation: %w", err)
	}

	frame, err := protocol.NewServerFrame(protocol.TypeTyping, protocol.TypingEvent{
		ConversationID: conversationID,
		SenderID:       userID,
		IsTyping:       isTyping,
	})
	if err != nil {
		return fmt.Errorf("typing: build frame: %w", err)
	}

	for _, participant := range conv.Participants {
		if participant == userID {
			continue
		}
		for _, conn := range c.registry.ConnectionsFor(participant) {
			if err := conn.Send(frame); err != nil {
				log.Printf("typing: send to user=%s conn=%s: %v", participant, conn.ID(), err)
			}
		}
	}

	metrics.TypingEventsTotal.Inc()
	return nil
}
