package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Postgres implements Store on a database/sql handle (lib/pq driver). The
// schema lives in migrations/ and is applied at boot.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Store backed by the given database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) GetUser(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT id, username, display_name, online, last_seen
		FROM users
		WHERE id = $1`

	var u User
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.Online, &u.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return &u, nil
}

func (s *Postgres) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	const query = `
		SELECT id, is_group, COALESCE(name, ''), created_at, updated_at
		FROM conversations
		WHERE id = $1`

	var c Conversation
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&c.ID, &c.IsGroup, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get conversation: %w", err)
	}

	participants, err := s.participants(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Participants = participants
	return &c, nil
}

func (s *Postgres) participants(ctx context.Context, conversationID string) ([]string, error) {
	const query = `
		SELECT user_id
		FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY joined_at, user_id`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: list participants: %w", err)
	}
	defer rows.Close()

	var participants []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("store: scan participant: %w", err)
		}
		participants = append(participants, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate participants: %w", err)
	}
	return participants, nil
}

func (s *Postgres) FindOrCreateDirect(ctx context.Context, userA, userB string) (*Conversation, error) {
	const find = `
		SELECT c.id
		FROM conversations c
		JOIN conversation_participants p1 ON p1.conversation_id = c.id
		JOIN conversation_participants p2 ON p2.conversation_id = c.id
		WHERE c.is_group = FALSE
		  AND p1.user_id = $1
		  AND p2.user_id = $2
		LIMIT 1`

	var id string
	err := s.db.QueryRowContext(ctx, find, userA, userB).Scan(&id)
	if err == nil {
		return s.GetConversation(ctx, id)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: find direct conversation: %w", err)
	}

	return s.createConversation(ctx, "", false, []string{userA, userB})
}

func (s *Postgres) CreateConversation(ctx context.Context, name string, participants []string) (*Conversation, error) {
	return s.createConversation(ctx, name, true, participants)
}

func (s *Postgres) createConversation(ctx context.Context, name string, isGroup bool, participants []string) (*Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c := Conversation{
		IsGroup:      isGroup,
		Name:         name,
		Participants: append([]string(nil), participants...),
	}

	const insert = `
		INSERT INTO conversations (is_group, name)
		VALUES ($1, NULLIF($2, ''))
		RETURNING id, created_at, updated_at`

	if err := tx.QueryRowContext(ctx, insert, isGroup, name).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("store: insert conversation: %w", err)
	}

	const member = `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES ($1, $2)`

	for _, userID := range participants {
		if _, err := tx.ExecContext(ctx, member, c.ID, userID); err != nil {
			return nil, fmt.Errorf("store: insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit conversation: %w", err)
	}
	return &c, nil
}

func (s *Postgres) CreateMessage(ctx context.Context, msg *Message) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	persisted := *msg
	if persisted.Location != nil {
		loc := *persisted.Location
		persisted.Location = &loc
	}

	var lat, lng sql.NullFloat64
	var addr sql.NullString
	if msg.Location != nil {
		lat = sql.NullFloat64{Float64: msg.Location.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: msg.Location.Longitude, Valid: true}
		addr = sql.NullString{String: msg.Location.Address, Valid: true}
	}

	const insert = `
		INSERT INTO messages (conversation_id, sender_id, content, message_type, latitude, longitude, address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	if err := tx.QueryRowContext(ctx, insert,
		msg.ConversationID, msg.SenderID, msg.Content, msg.MessageType, lat, lng, addr).
		Scan(&persisted.ID, &persisted.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: insert message: %w", err)
	}

	const bump = `
		UPDATE conversations SET updated_at = $2 WHERE id = $1`

	if _, err := tx.ExecContext(ctx, bump, msg.ConversationID, persisted.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: bump conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit message: %w", err)
	}
	return &persisted, nil
}

func (s *Postgres) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, message_type, latitude, longitude, address, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at, id`
	args := []interface{}{conversationID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		var lat, lng sql.NullFloat64
		var addr sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content,
			&m.MessageType, &lat, &lng, &addr, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		if lat.Valid && lng.Valid {
			m.Location = &Location{
				Latitude:  lat.Float64,
				Longitude: lng.Float64,
				Address:   addr.String,
			}
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate messages: %w", err)
	}
	return messages, nil
}

func (s *Postgres) SetUserOnlineStatus(ctx context.Context, id string, online bool) error {
	const query = `
		UPDATE users SET online = $2, last_seen = NOW() WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, online)
	if err != nil {
		return fmt.Errorf("store: set online status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
