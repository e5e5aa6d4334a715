// Package store owns the persisted side of the messenger: users,
// conversations, and messages. The realtime core consumes it through the
// Store interface; production wiring uses the PostgreSQL implementation and
// tests use the in-memory one.
package store

import (
	"context"
	"errors"
	"time"
)

// Message types.
const (
	MessageTypeText     = "text"
	MessageTypeLocation = "location"
)

var (
	// ErrNotFound is returned when a user, conversation, or message does
	// not exist.
	ErrNotFound = errors.New("store: not found")
)

// User is a registered account. Online and LastSeen are owned by the
// presence tracker; everything else is owned by the login/profile layer.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Conversation is a direct or group thread. A direct conversation has
// exactly two participants and is unique per unordered pair (enforced by
// FindOrCreateDirect, not by a constraint after the fact).
type Conversation struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	IsGroup      bool      `json:"isGroup"`
	Name         string    `json:"name,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasParticipant reports whether userID is a member of the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Location is the structured metadata attached to location messages.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

// Message is one persisted message. ID and CreatedAt are assigned by the
// store at persist time.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	MessageType    string    `json:"messageType"`
	Location       *Location `json:"location,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store is the persistence contract the realtime core depends on.
type Store interface {
	// GetUser returns the user with the given ID, or ErrNotFound.
	GetUser(ctx context.Context, id string) (*User, error)

	// GetConversation returns the conversation with its participant set,
	// or ErrNotFound.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// FindOrCreateDirect returns the direct conversation between the two
	// users, creating it if none exists. Calling it twice with the same
	// unordered pair returns the same conversation.
	FindOrCreateDirect(ctx context.Context, userA, userB string) (*Conversation, error)

	// CreateConversation creates a group conversation with the given
	// participants.
	CreateConversation(ctx context.Context, name string, participants []string) (*Conversation, error)

	// CreateMessage persists msg, assigning its ID and CreatedAt and
	// bumping the conversation's UpdatedAt in the same transaction. The
	// returned message is the persisted record.
	CreateMessage(ctx context.Context, msg *Message) (*Message, error)

	// ListMessages returns the conversation's messages in CreatedAt order
	// (oldest first), up to limit (0 = no limit).
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// SetUserOnlineStatus records the user's online flag and refreshes
	// their last-seen timestamp.
	SetUserOnlineStatus(ctx context.Context, id string, online bool) error
}
