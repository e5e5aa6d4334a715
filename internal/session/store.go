// Package session reads and writes the Redis-backed session records that
// bind a bearer token to an authenticated user. The login layer creates a
// record at sign-in; the realtime gateway only verifies that the user id
// asserted on an auth frame matches the record for the presented token, so
// a forged auth frame cannot impersonate another user.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Prefix is the Redis key prefix for all session hashes.
	Prefix = "session:"

	// TTL is the time-to-live for session keys in Redis.
	TTL = 24 * time.Hour
)

var (
	// ErrSessionNotFound is returned when no session exists for a token.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrSessionMismatch is returned when the asserted user id does not
	// match the session record.
	ErrSessionMismatch = errors.New("session: user mismatch")
)

// Session is a session record stored in Redis.
type Session struct {
	UserID     string `redis:"user_id"`
	CreatedAt  int64  `redis:"created_at"`  // unix timestamp
	LastActive int64  `redis:"last_active"` // unix timestamp
}

// Store manages session records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a session store on the given Redis address and verifies
// the connection.
func NewStore(redisAddr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client}, nil
}

// NewStoreWithClient wraps an existing Redis client. Used by tests and by
// callers that share one client across stores.
func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Create stores a session binding token to userID with the standard TTL.
// Called by the login layer after credentials are verified.
func (s *Store) Create(ctx context.Context, token, userID string) error {
	key := Prefix + token
	now := time.Now().Unix()

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":     userID,
		"created_at":  now,
		"last_active": now,
	})
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Verify checks that the token maps to userID. It refreshes the session's
// last-active timestamp and TTL on success.
func (s *Store) Verify(ctx context.Context, token, userID string) error {
	key := Prefix + token

	var sess Session
	if err := s.client.HGetAll(ctx, key).Scan(&sess); err != nil {
		return fmt.Errorf("session: read: %w", err)
	}
	if sess.UserID == "" {
		return ErrSessionNotFound
	}
	if sess.UserID != userID {
		return ErrSessionMismatch
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		// The session is valid; a failed refresh only shortens its life.
		return nil
	}
	return nil
}

// Delete removes a session. Called by the login layer on sign-out.
func (s *Store) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, Prefix+token).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
