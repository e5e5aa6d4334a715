// Package protocol defines the wire frames exchanged between the messenger
// client and server. All frames are serialized as JSON and carry a "type"
// discriminator; inbound frames are decoded once, at the gateway boundary,
// into a closed set of concrete structs.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Frame type constants
// ---------------------------------------------------------------------------

// Client -> Server frame types.
const (
	TypeAuth    = "auth"
	TypeMessage = "message"
	TypeTyping  = "typing"
	TypePing    = "ping"
)

// Server -> Client frame types. TypeMessage and TypeTyping are shared with
// the inbound direction; the payload shapes differ.
const (
	TypeUserStatus = "userStatus"
	TypeError      = "error"
	TypePong       = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the frame type and the raw JSON payload for deferred
// decoding into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server frame structs
// ---------------------------------------------------------------------------

// AuthFrame binds the connection to a logical user. The token must match a
// session record established by the login layer before the transport was
// opened; the gateway verifies it against the session store.
type AuthFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

// LocationMetadata is the structured payload required for location messages.
type LocationMetadata struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Address   string   `json:"address"`
}

// MessageFrame submits a message to a conversation. MessageType defaults to
// "text" when empty; Metadata is required when MessageType is "location".
type MessageFrame struct {
	Type           string            `json:"type"`
	ConversationID string            `json:"conversationId"`
	SenderID       string            `json:"senderId"`
	Content        string            `json:"content"`
	MessageType    string            `json:"messageType,omitempty"`
	Metadata       *LocationMetadata `json:"metadata,omitempty"`
}

// TypingFrame signals the sender's typing state in a conversation.
type TypingFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	IsTyping       bool   `json:"isTyping"`
}

// PingFrame is a client-initiated keepalive.
type PingFrame struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client frame structs
// ---------------------------------------------------------------------------

// SenderProfile is the resolved public profile of a message sender, embedded
// in outbound message events so clients can render without a second fetch.
type SenderProfile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// MessageData is the persisted message plus its resolved sender, as pushed
// to every participant of the conversation.
type MessageData struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversationId"`
	Sender         SenderProfile     `json:"sender"`
	Content        string            `json:"content"`
	MessageType    string            `json:"messageType"`
	Metadata       *LocationMetadata `json:"metadata,omitempty"`
	CreatedAt      int64             `json:"createdAt"` // unix millis
}

// MessageEvent wraps MessageData for the outbound "message" frame.
type MessageEvent struct {
	Type string      `json:"type"`
	Data MessageData `json:"data"`
}

// TypingEvent relays a participant's typing state to the other participants.
type TypingEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	IsTyping       bool   `json:"isTyping"`
}

// UserStatusEvent announces a presence change to all other connected users.
type UserStatusEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// ErrorFrame reports a failure to the originating connection only.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongFrame is the server's response to a client ping.
type PongFrame struct {
	Type string `json:"type"`
}

// Error codes carried by ErrorFrame.
const (
	CodeParseError       = "parse_error"
	CodeUnsupportedType  = "unsupported_type"
	CodeUnauthenticated  = "unauthenticated"
	CodeAuthFailed       = "auth_failed"
	CodeNotFound         = "not_found"
	CodeForbidden        = "forbidden"
	CodeInvalidPayload   = "invalid_payload"
	CodePersistenceError = "persistence_error"
	CodeRateLimited      = "rate_limited"
)

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientFrame parses raw websocket bytes into a typed client frame.
// It returns the frame type string, the decoded struct, and any error
// encountered. An error is returned for unknown or server-only frame types.
func ParseClientFrame(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse frame: %w", err)
	}

	var (
		frame interface{}
		err   error
	)

	switch env.Type {
	case TypeAuth:
		var f AuthFrame
		err = json.Unmarshal(env.Raw, &f)
		frame = f
	case TypeMessage:
		var f MessageFrame
		err = json.Unmarshal(env.Raw, &f)
		frame = f
	case TypeTyping:
		var f TypingFrame
		err = json.Unmarshal(env.Raw, &f)
		frame = f
	case TypePing:
		var f PingFrame
		err = json.Unmarshal(env.Raw, &f)
		frame = f
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client frame type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, frame, nil
}

// NewServerFrame creates a JSON-encoded byte slice for a server frame. The
// frameType is injected into the payload under the "type" key so callers
// never have to remember to set the struct's Type field.
func NewServerFrame(frameType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = frameType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server frame: %w", err)
	}
	return out, nil
}
