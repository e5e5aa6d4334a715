// Package router is the message fan-out core: it validates an inbound send,
// persists it through the store, and pushes the resulting message to every
// participant's live connections. Persistence is the durability guarantee;
// the live push is a best-effort liveness optimization.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/parley/messenger/internal/messaging"
	"github.com/parley/messenger/internal/metrics"
	"github.com/parley/messenger/internal/protocol"
	"github.com/parley/messenger/internal/registry"
	"github.com/parley/messenger/internal/store"
)

var (
	// ErrForbidden is returned when the sender is not a participant of the
	// conversation.
	ErrForbidden = errors.New("router: sender is not a participant")

	// ErrInvalidPayload is returned when the message content or metadata
	// does not match the declared message type.
	ErrInvalidPayload = errors.New("router: invalid message payload")
)

// Submission is a validated-shape send request as decoded at the gateway.
type Submission struct {
	ConversationID string
	SenderID       string
	Content        string
	MessageType    string // defaults to text when empty
	Metadata       *protocol.LocationMetadata
}

// Router validates, persists, and fans out messages.
type Router struct {
	store    store.Store
	registry *registry.Registry
	events   *messaging.Publisher // optional; nil disables the NATS feed
}

// New creates a Router. events may be nil.
func New(st store.Store, reg *registry.Registry, events *messaging.Publisher) *Router {
	return &Router{store: st, registry: reg, events: events}
}

// Submit runs the full send pipeline. The message is durably persisted,
// with its store-assigned id and timestamp, before any participant sees it;
// a failure at any step before persistence produces zero broadcast events.
// Participants with no live connection simply miss the live push and catch
// up from conversation history.
func (r *Router) Submit(ctx context.Context, sub Submission) (*store.Message, error) {
	conv, err := r.store.GetConversation(ctx, sub.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("conversation %s: %w", sub.ConversationID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("router: load conversation: %w", err)
	}

	if !conv.HasParticipant(sub.SenderID) {
		return nil, ErrForbidden
	}

	msg, err := buildMessage(sub)
	if err != nil {
		return nil, err
	}

	persisted, err := r.store.CreateMessage(ctx, msg)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("persist_error").Inc()
		return nil, fmt.Errorf("router: persist message: %w", err)
	}

	sender, err := r.store.GetUser(ctx, sub.SenderID)
	if err != nil {
		// The message is already durable; fall back to a bare profile so
		// the broadcast still carries the sender id.
		log.Printf("router: resolve sender %s: %v", sub.SenderID, err)
		sender = &store.User{ID: sub.SenderID}
	}

	r.broadcast(conv, persisted, sender)

	if r.events != nil {
		if err := r.events.PublishMessage(messaging.MessageEvent{
			MessageID:      persisted.ID,
			ConversationID: persisted.ConversationID,
			SenderID:       persisted.SenderID,
			MessageType:    persisted.MessageType,
			Ts:             persisted.CreatedAt.UnixMilli(),
		}); err != nil {
			log.Printf("router: publish message event %s: %v", persisted.ID, err)
		}
	}

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	return persisted, nil
}

// broadcast pushes the message frame to every live connection of every
// participant, the sender included so multi-device sessions stay in sync.
// Individual write failures are logged; dead connections are reaped by the
// transport's heartbeat.
func (r *Router) broadcast(conv *store.Conversation, msg *store.Message, sender *store.User) {
	start := time.Now()

	var meta *protocol.LocationMetadata
	if msg.Location != nil {
		meta = &protocol.LocationMetadata{
			Latitude:  &msg.Location.Latitude,
			Longitude: &msg.Location.Longitude,
			Address:   msg.Location.Address,
		}
	}

	frame, err := protocol.NewServerFrame(protocol.TypeMessage, protocol.MessageEvent{
		Data: protocol.MessageData{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			Sender: protocol.SenderProfile{
				ID:          sender.ID,
				Username:    sender.Username,
				DisplayName: sender.DisplayName,
			},
			Content:     msg.Content,
			MessageType: msg.MessageType,
			Metadata:    meta,
			CreatedAt:   msg.CreatedAt.UnixMilli(),
		},
	})
	if err != nil {
		log.Printf("router: build message frame %s: %v", msg.ID, err)
		return
	}

	for _, participant := range conv.Participants {
		for _, conn := range r.registry.ConnectionsFor(participant) {
			if err := conn.Send(frame); err != nil {
				log.Printf("router: send message %s to user=%s conn=%s: %v",
					msg.ID, participant, conn.ID(), err)
			}
		}
	}

	metrics.FanoutLatency.Observe(time.Since(start).Seconds())
}

// buildMessage validates the payload shape for the declared type and
// returns the unpersisted record. It runs before any store write.
func buildMessage(sub Submission) (*store.Message, error) {
	msgType := sub.MessageType
	if msgType == "" {
		msgType = store.MessageTypeText
	}

	msg := &store.Message{
		ConversationID: sub.ConversationID,
		SenderID:       sub.SenderID,
		Content:        sub.Content,
		MessageType:    msgType,
	}

	switch msgType {
	case store.MessageTypeText:
		if err := ValidateText(sub.Content); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	case store.MessageTypeLocation:
		m := sub.Metadata
		if m == nil {
			return nil, fmt.Errorf("%w: location message requires metadata", ErrInvalidPayload)
		}
		if m.Latitude == nil {
			return nil, fmt.Errorf("%w: location metadata missing latitude", ErrInvalidPayload)
		}
		if m.Longitude == nil {
			return nil, fmt.Errorf("%w: location metadata missing longitude", ErrInvalidPayload)
		}
		if m.Address == "" {
			return nil, fmt.Errorf("%w: location metadata missing address", ErrInvalidPayload)
		}
		msg.Location = &store.Location{
			Latitude:  *m.Latitude,
			Longitude: *m.Longitude,
			Address:   m.Address,
		}
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidPayload, msgType)
	}

	return msg, nil
}
