// Package gateway is the protocol-facing edge of the realtime core. It
// decodes inbound frames, drives the per-connection state machine
// (unauthenticated → authenticated → closed), and dispatches to the message
// router, typing coordinator, and presence tracker. Failures on a frame are
// reported back only to the originating connection; malformed frames are
// logged and dropped and never terminate the connection.
package gateway

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/parley/messenger/internal/metrics"
	"github.com/parley/messenger/internal/presence"
	"github.com/parley/messenger/internal/protocol"
	"github.com/parley/messenger/internal/ratelimit"
	"github.com/parley/messenger/internal/registry"
	"github.com/parley/messenger/internal/router"
	"github.com/parley/messenger/internal/store"
	"github.com/parley/messenger/internal/typing"
)

// opTimeout bounds the store-touching part of a single frame.
const opTimeout = 5 * time.Second

// Authenticator verifies that a session token belongs to the asserted user.
// The session store satisfies it. The gateway never checks credentials
// itself; it only cross-checks the client-asserted id against the session
// record the login layer established.
type Authenticator interface {
	Verify(ctx context.Context, token, userID string) error
}

// Gateway wires the transport to the realtime core. A connection's
// authentication state is exactly its registry membership: a connection not
// filed under any user is unauthenticated.
type Gateway struct {
	registry *registry.Registry
	presence *presence.Tracker
	router   *router.Router
	typing   *typing.Coordinator
	auth     Authenticator      // optional; nil trusts the asserted id (dev mode)
	limiter  *ratelimit.Limiter // optional; nil disables frame throttling
}

// New creates a Gateway. auth and limiter may be nil.
func New(reg *registry.Registry, pres *presence.Tracker, rt *router.Router,
	tc *typing.Coordinator, auth Authenticator, limiter *ratelimit.Limiter) *Gateway {
	return &Gateway{
		registry: reg,
		presence: pres,
		router:   rt,
		typing:   tc,
		auth:     auth,
		limiter:  limiter,
	}
}

// HandleFrame is the transport's onMessage callback. It decodes one inbound
// frame and dispatches it according to the connection's state.
func (g *Gateway) HandleFrame(conn registry.Conn, data []byte) {
	frameType, frame, err := protocol.ParseClientFrame(data)
	if err != nil {
		log.Printf("gateway: parse error conn=%s: %v", conn.ID(), err)
		if frameType != "" && frame == nil && !knownClientType(frameType) {
			g.sendError(conn, protocol.CodeUnsupportedType, "unsupported frame type")
		} else {
			g.sendError(conn, protocol.CodeParseError, "invalid frame format")
		}
		return
	}

	metrics.FramesTotal.WithLabelValues(frameType).Inc()

	switch f := frame.(type) {
	case protocol.PingFrame:
		g.sendPong(conn)
	case protocol.AuthFrame:
		g.handleAuth(conn, f)
	case protocol.MessageFrame:
		g.handleMessage(conn, f)
	case protocol.TypingFrame:
		g.handleTyping(conn, f)
	}
}

// HandleDisconnect is the transport's onDisconnect callback. It removes the
// connection from the registry and, if it was the user's last connection,
// drives the offline presence transition. Closing a connection that never
// authenticated is a no-op.
func (g *Gateway) HandleDisconnect(connID string) {
	userID, last := g.registry.Unregister(connID)
	if userID == "" {
		return
	}
	metrics.OnlineUsers.Set(float64(len(g.registry.Users())))
	if last {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		g.presence.MarkOffline(ctx, userID)
	}
}

// handleAuth binds the connection to the asserted user after verifying the
// session token. A connection that re-authenticates is simply re-filed.
func (g *Gateway) handleAuth(conn registry.Conn, f protocol.AuthFrame) {
	if f.UserID == "" {
		g.sendError(conn, protocol.CodeInvalidPayload, "auth requires userId")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if g.auth != nil {
		if err := g.auth.Verify(ctx, f.Token, f.UserID); err != nil {
			log.Printf("gateway: auth failed conn=%s user=%s: %v", conn.ID(), f.UserID, err)
			g.sendError(conn, protocol.CodeAuthFailed, "session verification failed")
			return
		}
	}

	first, displaced := g.registry.Register(f.UserID, conn)
	metrics.OnlineUsers.Set(float64(len(g.registry.Users())))
	log.Printf("gateway: authenticated conn=%s user=%s (first=%v)", conn.ID(), f.UserID, first)

	// Re-filing the connection may have taken the previous user's last
	// connection with it; that is an offline transition like any other.
	if displaced != "" {
		g.presence.MarkOffline(ctx, displaced)
	}
	if first {
		g.presence.MarkOnline(ctx, f.UserID)
	}
}

// handleMessage runs a send through the router. The submitting client
// learns of its own message via the same fan-out as everyone else, so a
// successful submit is silently absorbed.
func (g *Gateway) handleMessage(conn registry.Conn, f protocol.MessageFrame) {
	userID := g.registry.UserFor(conn.ID())
	if userID == "" {
		g.sendError(conn, protocol.CodeUnauthenticated, "authenticate before sending")
		return
	}
	// The bound identity wins over whatever the frame asserts.
	if f.SenderID != "" && f.SenderID != userID {
		g.sendError(conn, protocol.CodeForbidden, "senderId does not match authenticated user")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if g.limiter != nil {
		if allowed, _ := g.limiter.Allow(ctx, userID, ratelimit.RuleMessage); !allowed {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			g.sendError(conn, protocol.CodeRateLimited, "message rate limit exceeded")
			return
		}
	}

	_, err := g.router.Submit(ctx, router.Submission{
		ConversationID: f.ConversationID,
		SenderID:       userID,
		Content:        f.Content,
		MessageType:    f.MessageType,
		Metadata:       f.Metadata,
	})
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		code, msg := classify(err)
		log.Printf("gateway: submit failed conn=%s user=%s conv=%s: %v",
			conn.ID(), userID, f.ConversationID, err)
		g.sendError(conn, code, msg)
	}
}

// handleTyping relays a typing indicator through the coordinator.
func (g *Gateway) handleTyping(conn registry.Conn, f protocol.TypingFrame) {
	userID := g.registry.UserFor(conn.ID())
	if userID == "" {
		g.sendError(conn, protocol.CodeUnauthenticated, "authenticate before typing")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if g.limiter != nil {
		if allowed, _ := g.limiter.Allow(ctx, userID, ratelimit.RuleTyping); !allowed {
			// Typing is ephemeral; a throttled indicator is silently dropped.
			return
		}
	}

	if err := g.typing.SetTyping(ctx, f.ConversationID, userID, f.IsTyping); err != nil {
		code, msg := classify(err)
		log.Printf("gateway: typing failed conn=%s user=%s conv=%s: %v",
			conn.ID(), userID, f.ConversationID, err)
		g.sendError(conn, code, msg)
	}
}

// classify maps a core error to the wire error code reported to the
// originating connection.
func classify(err error) (code, msg string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return protocol.CodeNotFound, "conversation not found"
	case errors.Is(err, router.ErrForbidden):
		return protocol.CodeForbidden, "sender is not a participant"
	case errors.Is(err, router.ErrInvalidPayload):
		return protocol.CodeInvalidPayload, "invalid message payload"
	default:
		return protocol.CodePersistenceError, "message could not be persisted"
	}
}

func (g *Gateway) sendError(conn registry.Conn, code, message string) {
	data, err := protocol.NewServerFrame(protocol.TypeError, protocol.ErrorFrame{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("gateway: build error frame conn=%s: %v", conn.ID(), err)
		return
	}
	if err := conn.Send(data); err != nil {
		log.Printf("gateway: send error frame conn=%s: %v", conn.ID(), err)
	}
}

func (g *Gateway) sendPong(conn registry.Conn) {
	data, err := protocol.NewServerFrame(protocol.TypePong, protocol.PongFrame{})
	if err != nil {
		log.Printf("gateway: build pong conn=%s: %v", conn.ID(), err)
		return
	}
	if err := conn.Send(data); err != nil {
		log.Printf("gateway: send pong conn=%s: %v", conn.ID(), err)
	}
}

func knownClientType(t string) bool {
	switch t {
	case protocol.TypeAuth, protocol.TypeMessage, protocol.TypeTyping, protocol.TypePing:
		return true
	}
	return false
}
