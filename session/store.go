// Package session implements the redis-backed server-side session store.
//
// A session binds a browser to its current access/refresh token pair via an
// opaque id. Records expire on a sliding TTL and are indexed by user id so
// the engine can invalidate every session of a user in one call.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no live session exists for an id.
var ErrNotFound = errors.New("session not found")

// Record is one server-side session.
type Record struct {
	ID           string    `json:"-"`
	UserID       string    `json:"user_id,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Authenticated reports whether the record carries a complete token pair.
// A session is authenticated if and only if both tokens are present.
func (r *Record) Authenticated() bool {
	return r != nil && r.AccessToken != "" && r.RefreshToken != ""
}

// NewID returns an opaque, unguessable session id.
func NewID() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Store persists sessions in redis under sess:<id> with a per-user index
// set under sess:user:<userId>.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewStore creates a Store with the given sliding TTL.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Store{
		client: client,
		ttl:    ttl,
		prefix: "sess:",
	}
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) userKey(userID string) string {
	return s.prefix + "user:" + userID
}

// Get loads a record and refreshes its sliding TTL.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec := &Record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, err
	}
	rec.ID = id

	pipe := s.client.TxPipeline()
	pipe.Expire(ctx, s.key(id), s.ttl)
	if rec.UserID != "" {
		pipe.Expire(ctx, s.userKey(rec.UserID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	return rec, nil
}

// Set writes a record and registers it in its user's index. The caller owns
// id assignment; Set never reuses or rewrites ids.
func (s *Store) Set(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return errors.New("session record requires an id")
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(rec.ID), raw, s.ttl)
	if rec.UserID != "" {
		pipe.SAdd(ctx, s.userKey(rec.UserID), rec.ID)
		pipe.Expire(ctx, s.userKey(rec.UserID), s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Destroy removes a single session and its index entry.
func (s *Store) Destroy(ctx context.Context, id string) error {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	rec := &Record{}
	userID := ""
	if err := json.Unmarshal(raw, rec); err == nil {
		userID = rec.UserID
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(id))
	if userID != "" {
		pipe.SRem(ctx, s.userKey(userID), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// DestroyAllForUser removes every session of a user except the given ids.
// Index members whose session already expired are cleaned up as a side
// effect.
func (s *Store) DestroyAllForUser(ctx context.Context, userID string, except ...string) error {
	if userID == "" {
		return nil
	}

	ids, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	keep := make(map[string]bool, len(except))
	for _, id := range except {
		keep[id] = true
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		if keep[id] {
			continue
		}
		pipe.Del(ctx, s.key(id))
		pipe.SRem(ctx, s.userKey(userID), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}
