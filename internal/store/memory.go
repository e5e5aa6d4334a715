package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a mutex-guarded in-memory Store. It backs the component tests
// and the standalone dev mode (no database required). Two concurrent
// CreateMessage calls on the same conversation serialize on the store lock,
// so updated-at never interleaves partial writes.
type Memory struct {
	mu            sync.Mutex
	users         map[string]*User
	conversations map[string]*Conversation
	messages      map[string][]*Message // conversationID -> ordered messages
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:         make(map[string]*User),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
	}
}

// AddUser inserts a user record. Intended for test setup and dev seeding.
func (m *Memory) AddUser(u *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	cp := *u
	m.users[u.ID] = &cp
}

func (m *Memory) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(c), nil
}

func (m *Memory) FindOrCreateDirect(ctx context.Context, userA, userB string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.conversations {
		if c.IsGroup || len(c.Participants) != 2 {
			continue
		}
		if (c.Participants[0] == userA && c.Participants[1] == userB) ||
			(c.Participants[0] == userB && c.Participants[1] == userA) {
			return copyConversation(c), nil
		}
	}

	now := time.Now()
	c := &Conversation{
		ID:           uuid.New().String(),
		Participants: []string{userA, userB},
		IsGroup:      false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.conversations[c.ID] = c
	return copyConversation(c), nil
}

func (m *Memory) CreateConversation(ctx context.Context, name string, participants []string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	c := &Conversation{
		ID:           uuid.New().String(),
		Participants: append([]string(nil), participants...),
		IsGroup:      true,
		Name:         name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.conversations[c.ID] = c
	return copyConversation(c), nil
}

func (m *Memory) CreateMessage(ctx context.Context, msg *Message) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return nil, ErrNotFound
	}

	now := time.Now()
	persisted := *msg
	persisted.ID = uuid.New().String()
	persisted.CreatedAt = now
	if persisted.Location != nil {
		loc := *persisted.Location
		persisted.Location = &loc
	}

	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &persisted)
	c.UpdatedAt = now

	cp := persisted
	return &cp, nil
}

func (m *Memory) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}

	msgs := m.messages[conversationID]
	out := make([]*Message, len(msgs))
	for i, msg := range msgs {
		cp := *msg
		out[i] = &cp
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	// Oldest first, truncated from the front, matching the SQL implementation.
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SetUserOnlineStatus(ctx context.Context, id string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Online = online
	u.LastSeen = time.Now()
	return nil
}

func copyConversation(c *Conversation) *Conversation {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	return &cp
}
