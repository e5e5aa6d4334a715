// Package messaging publishes messenger events to NATS for external
// consumers (moderation review, analytics). The feed is strictly outbound
// and best-effort: live delivery to clients never depends on the broker,
// which keeps the realtime fan-out single-process.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns for the messenger event feed.
const (
	SubjectMessage  = "messenger.message" // + .<conversation_id>
	SubjectPresence = "messenger.presence"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "messenger",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// MessageEvent is the payload published for every persisted message.
type MessageEvent struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	MessageType    string `json:"message_type"`
	Ts             int64  `json:"ts"`
}

// PresenceEvent is the payload published for every presence change.
type PresenceEvent struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
	Ts       int64  `json:"ts"`
}

// Publisher wraps a NATS connection for publishing messenger events.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS with the given config and returns a ready
// publisher. It returns an error if the initial connection fails.
func NewPublisher(config Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())
	return &Publisher{conn: nc}, nil
}

// PublishMessage publishes a persisted-message event on
// messenger.message.<conversationID>.
func (p *Publisher) PublishMessage(event MessageEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("nats marshal message event: %w", err)
	}
	return p.conn.Publish(SubjectMessage+"."+event.ConversationID, data)
}

// PublishPresence publishes a presence-change event on messenger.presence.
func (p *Publisher) PublishPresence(userID string, online bool) error {
	data, err := json.Marshal(PresenceEvent{
		UserID:   userID,
		IsOnline: online,
		Ts:       time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("nats marshal presence event: %w", err)
	}
	return p.conn.Publish(SubjectPresence, data)
}

// Close drains the NATS connection so buffered events flush before exit.
func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
	log.Printf("[nats] publisher closed")
}
