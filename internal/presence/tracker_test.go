package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

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

func (c *fakeConn) statusEvents(t *testing.T) []map[string]interface{} {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var events []map[string]interface{}
	for _, f := range c.frames {
		var m map[string]interface{}
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		if m["type"] == "userStatus" {
			events = append(events, m)
		}
	}
	return events
}

// failingStore wraps the memory store and fails every presence write.
type failingStore struct {
	*store.Memory
}

func (s *failingStore) SetUserOnlineStatus(ctx context.Context, id string, online bool) error {
	return errors.New("store down")
}

func newSeededStore() *store.Memory {
	m := store.NewMemory()
	m.AddUser(&store.User{ID: "alice", Username: "alice"})
	m.AddUser(&store.User{ID: "bob", Username: "bob"})
	m.AddUser(&store.User{ID: "carol", Username: "carol"})
	return m
}

func TestMarkOnline_BroadcastsToOthersOnly(t *testing.T) {
	reg := registry.New()
	mem := newSeededStore()
	tracker := NewTracker(reg, mem, nil)

	aliceConn := &fakeConn{id: "a1"}
	bobConn := &fakeConn{id: "b1"}
	reg.Register("alice", aliceConn)
	reg.Register("bob", bobConn)

	tracker.MarkOnline(context.Background(), "alice")

	// The user coming online must not receive their own status event.
	if got := aliceConn.statusEvents(t); len(got) != 0 {
		t.Fatalf("expected no userStatus frames for alice, got %d", len(got))
	}

	events := bobConn.statusEvents(t)
	if len(events) != 1 {
		t.Fatalf("expected 1 userStatus frame for bob, got %d", len(events))
	}
	if events[0]["userId"] != "alice" || events[0]["isOnline"] != true {
		t.Errorf("unexpected event payload: %v", events[0])
	}

	// The store reflects the change.
	u, err := mem.GetUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !u.Online {
		t.Error("expected alice online in store")
	}
}

func TestMarkOffline_UpdatesStore(t *testing.T) {
	reg := registry.New()
	mem := newSeededStore()
	tracker := NewTracker(reg, mem, nil)

	bobConn := &fakeConn{id: "b1"}
	reg.Register("bob", bobConn)

	tracker.MarkOnline(context.Background(), "alice")
	tracker.MarkOffline(context.Background(), "alice")

	events := bobConn.statusEvents(t)
	if len(events) != 2 {
		t.Fatalf("expected 2 userStatus frames, got %d", len(events))
	}
	if events[1]["isOnline"] != false {
		t.Errorf("expected offline event, got %v", events[1])
	}

	u, _ := mem.GetUser(context.Background(), "alice")
	if u.Online {
		t.Error("expected alice offline in store")
	}
	if u.LastSeen.IsZero() {
		t.Error("expected last-seen refresh")
	}
}

// A failed store write must not block the broadcast: presence is
// best-effort, not transactional with persistence.
func TestMarkOnline_StoreFailureStillBroadcasts(t *testing.T) {
	reg := registry.New()
	tracker := NewTracker(reg, &failingStore{newSeededStore()}, nil)

	bobConn := &fakeConn{id: "b1"}
	reg.Register("bob", bobConn)

	tracker.MarkOnline(context.Background(), "alice")

	if events := bobConn.statusEvents(t); len(events) != 1 {
		t.Fatalf("expected broadcast despite store failure, got %d frames", len(events))
	}
}

func TestMarkOnline_OnlyLiveUsersReceive(t *testing.T) {
	reg := registry.New()
	tracker := NewTracker(reg, newSeededStore(), nil)

	// carol has no live connection; only bob should see the event.
	bobConn := &fakeConn{id: "b1"}
	bobConn2 := &fakeConn{id: "b2"}
	reg.Register("bob", bobConn)
	reg.Register("bob", bobConn2)

	tracker.MarkOnline(context.Background(), "alice")

	// Every live connection of an online user gets the event.
	if len(bobConn.statusEvents(t)) != 1 || len(bobConn2.statusEvents(t)) != 1 {
		t.Error("expected both of bob's connections to receive the event")
	}
}
