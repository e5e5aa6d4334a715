package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/parley/messenger/internal/protocol"
	"github.com/parley/messenger/internal/registry"
	"github.com/parley/messenger/internal/store"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, data)
	return nil
}

func (c *fakeConn) messageEvents(t *testing.T) []protocol.MessageData {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var events []protocol.MessageData
	for _, f := range c.frames {
		var m struct {
			Type string               `json:"type"`
			Data protocol.MessageData `json:"data"`
		}
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		if m.Type == protocol.TypeMessage {
			events = append(events, m.Data)
		}
	}
	return events
}

// countingStore wraps the memory store and counts CreateMessage calls so
// tests can assert that validation failures happen before any write.
type countingStore struct {
	*store.Memory
	mu     sync.Mutex
	writes int
}

func (s *countingStore) CreateMessage(ctx context.Context, msg *store.Message) (*store.Message, error) {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	return s.Memory.CreateMessage(ctx, msg)
}

func (s *countingStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// brokenStore fails every CreateMessage.
type brokenStore struct {
	*store.Memory
}

func (s *brokenStore) CreateMessage(ctx context.Context, msg *store.Message) (*store.Message, error) {
	return nil, errors.New("disk full")
}

type fixture struct {
	router *Router
	reg    *registry.Registry
	store  *countingStore
	conv   *store.Conversation
	conns  map[string]*fakeConn
}

// newGroupFixture builds a group conversation between alice, bob, and
// carol, with dave as a connected outsider. Every user has one connection;
// alice has a second one to model a multi-device session.
func newGroupFixture(t *testing.T) *fixture {
	t.Helper()

	mem := store.NewMemory()
	for _, name := range []string{"alice", "bob", "carol", "dave"} {
		mem.AddUser(&store.User{ID: name, Username: name, DisplayName: name})
	}
	cs := &countingStore{Memory: mem}

	conv, err := mem.CreateConversation(context.Background(), "trio", []string{"alice", "bob", "carol"})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	reg := registry.New()
	conns := map[string]*fakeConn{
		"alice":  {id: "a1"},
		"alice2": {id: "a2"},
		"bob":    {id: "b1"},
		"carol":  {id: "c1"},
		"dave":   {id: "d1"},
	}
	reg.Register("alice", conns["alice"])
	reg.Register("alice", conns["alice2"])
	reg.Register("bob", conns["bob"])
	reg.Register("carol", conns["carol"])
	reg.Register("dave", conns["dave"])

	return &fixture{
		router: New(cs, reg, nil),
		reg:    reg,
		store:  cs,
		conv:   conv,
		conns:  conns,
	}
}

func TestSubmit_FanOutIncludesSenderExcludesOutsiders(t *testing.T) {
	fx := newGroupFixture(t)

	persisted, err := fx.router.Submit(context.Background(), Submission{
		ConversationID: fx.conv.ID,
		SenderID:       "alice",
		Content:        "hello",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if persisted.ID == "" || persisted.CreatedAt.IsZero() {
		t.Fatal("expected persisted id and timestamp")
	}

	// Every participant connection gets exactly one frame, including both
	// of the sender's devices.
	for _, name := range []string{"alice", "alice2", "bob", "carol"} {
		events := fx.conns[name].messageEvents(t)
		if len(events) != 1 {
			t.Fatalf("expected 1 message frame on %s, got %d", name, len(events))
		}
		ev := events[0]
		if ev.ID != persisted.ID {
			t.Errorf("%s: expected persisted id %q, got %q", name, persisted.ID, ev.ID)
		}
		if ev.Sender.ID != "alice" || ev.Sender.Username != "alice" {
			t.Errorf("%s: expected resolved sender profile, got %+v", name, ev.Sender)
		}
		if ev.CreatedAt == 0 {
			t.Errorf("%s: expected persisted timestamp", name)
		}
	}

	// dave is connected but not a participant.
	if events := fx.conns["dave"].messageEvents(t); len(events) != 0 {
		t.Fatalf("expected no frames for non-participant, got %d", len(events))
	}
}

func TestSubmit_UnknownConversation(t *testing.T) {
	fx := newGroupFixture(t)

	_, err := fx.router.Submit(context.Background(), Submission{
		ConversationID: "missing",
		SenderID:       "alice",
		Content:        "hello",
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if fx.store.writeCount() != 0 {
		t.Fatal("expected no store write")
	}
}

func TestSubmit_NonParticipantForbidden(t *testing.T) {
	fx := newGroupFixture(t)

	_, err := fx.router.Submit(context.Background(), Submission{
		ConversationID: fx.conv.ID,
		SenderID:       "dave",
		Content:        "let me in",
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if fx.store.writeCount() != 0 {
		t.Fatal("expected no store write")
	}
	// Zero broadcast events on a contained failure.
	for name, conn := range fx.conns {
		if events := conn.messageEvents(t); len(events) != 0 {
			t.Fatalf("expected no frames for %s, got %d", name, len(events))
		}
	}
}

func TestSubmit_InvalidPayloads(t *testing.T) {
	lat := 51.5
	lng := -0.12

	cases := []struct {
		name string
		sub  Submission
	}{
		{"empty text", Submission{Content: ""}},
		{"unknown type", Submission{MessageType: "sticker", Content: "x"}},
		{"location without metadata", Submission{MessageType: "location"}},
		{"location missing latitude", Submission{
			MessageType: "location",
			Metadata:    &protocol.LocationMetadata{Longitude: &lng, Address: "London"},
		}},
		{"location missing longitude", Submission{
			MessageType: "location",
			Metadata:    &protocol.LocationMetadata{Latitude: &lat, Address: "London"},
		}},
		{"location missing address", Submission{
			MessageType: "location",
			Metadata:    &protocol.LocationMetadata{Latitude: &lat, Longitude: &lng},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newGroupFixture(t)
			sub := tc.sub
			sub.ConversationID = fx.conv.ID
			sub.SenderID = "alice"

			_, err := fx.router.Submit(context.Background(), sub)
			if !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
			// The payload check runs before any store write.
			if fx.store.writeCount() != 0 {
				t.Fatal("expected no store write")
			}
		})
	}
}

func TestSubmit_LocationMessage(t *testing.T) {
	fx := newGroupFixture(t)
	lat := 40.7128
	lng := -74.006

	persisted, err := fx.router.Submit(context.Background(), Submission{
		ConversationID: fx.conv.ID,
		SenderID:       "bob",
		MessageType:    store.MessageTypeLocation,
		Metadata: &protocol.LocationMetadata{
			Latitude:  &lat,
			Longitude: &lng,
			Address:   "New York",
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if persisted.Location == nil || persisted.Location.Address != "New York" {
		t.Fatalf("expected persisted location, got %+v", persisted.Location)
	}

	events := fx.conns["carol"].messageEvents(t)
	if len(events) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(events))
	}
	meta := events[0].Metadata
	if meta == nil || meta.Latitude == nil || *meta.Latitude != lat || meta.Address != "New York" {
		t.Errorf("unexpected metadata on the wire: %+v", meta)
	}
}

func TestSubmit_PersistenceErrorAbortsBroadcast(t *testing.T) {
	mem := store.NewMemory()
	mem.AddUser(&store.User{ID: "alice", Username: "alice"})
	mem.AddUser(&store.User{ID: "bob", Username: "bob"})
	conv, _ := mem.FindOrCreateDirect(context.Background(), "alice", "bob")

	reg := registry.New()
	bobConn := &fakeConn{id: "b1"}
	reg.Register("bob", bobConn)

	r := New(&brokenStore{mem}, reg, nil)
	_, err := r.Submit(context.Background(), Submission{
		ConversationID: conv.ID,
		SenderID:       "alice",
		Content:        "hello",
	})
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if events := bobConn.messageEvents(t); len(events) != 0 {
		t.Fatal("no broadcast without durable persistence")
	}
}

// TestSubmit_ConcurrentSends verifies that two concurrent sends to the same
// conversation each get a distinct id and both show up in a history read.
func TestSubmit_ConcurrentSends(t *testing.T) {
	fx := newGroupFixture(t)
	const n = 10

	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := fx.router.Submit(context.Background(), Submission{
				ConversationID: fx.conv.ID,
				SenderID:       "alice",
				Content:        "concurrent",
			})
			if err != nil {
				t.Errorf("submit: %v", err)
				return
			}
			ids <- msg.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}

	history, err := fx.store.ListMessages(context.Background(), fx.conv.ID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != n {
		t.Fatalf("expected %d messages in history, got %d", n, len(history))
	}
	// Every broadcast id is visible in history: persisted before broadcast.
	inHistory := make(map[string]bool, len(history))
	for _, m := range history {
		inHistory[m.ID] = true
	}
	for _, ev := range fx.conns["bob"].messageEvents(t) {
		if !inHistory[ev.ID] {
			t.Fatalf("broadcast id %q not found in history", ev.ID)
		}
	}
}

func TestSubmit_OfflineParticipantsMissLiveEvent(t *testing.T) {
	fx := newGroupFixture(t)

	// carol goes fully offline.
	fx.reg.Unregister("c1")

	if _, err := fx.router.Submit(context.Background(), Submission{
		ConversationID: fx.conv.ID,
		SenderID:       "alice",
		Content:        "hello",
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// carol missed the live push but the message is in history.
	if events := fx.conns["carol"].messageEvents(t); len(events) != 0 {
		t.Fatal("offline participant must not receive live frames")
	}
	history, _ := fx.store.ListMessages(context.Background(), fx.conv.ID, 0)
	if len(history) != 1 {
		t.Fatalf("expected the message in history, got %d", len(history))
	}
}
