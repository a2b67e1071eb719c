package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps every transport-level Redis failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrSessionNotFound is returned when a session is missing or expired.
	ErrSessionNotFound = errors.New("session not found")

	errEmptyID = errors.New("session id empty")
	errBadTTL  = errors.New("session ttl must be positive")
)

// Idle renewal never shortens a key below this.
const minIdleTTL = time.Second

// KEYS[1] session key, KEYS[2] user index; ARGV[1] session id.
// Returns 1 when the session key existed.
var revokeOne = redis.NewScript(`
local n = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if redis.call("SCARD", KEYS[2]) == 0 then
  redis.call("DEL", KEYS[2])
end
return n
`)

// KEYS[1] user index; ARGV[1] session key prefix including the separator.
// Returns how many session keys were removed.
var revokeAll = redis.NewScript(`
local n = 0
for _, id in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  n = n + redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
return n
`)

// Store keeps sessions in Redis. Each session is one key with a TTL and a
// per-user set indexes a user's session IDs for sign-out-all.
type Store struct {
	redis   redis.UniversalClient
	prefix  string
	idleTTL time.Duration
	now     func() time.Time
}

// NewStore creates a session [Store]. prefix namespaces every key. When
// idleTTL is positive, each successful [Store.Get] moves the key's expiry
// to min(idleTTL, remaining absolute lifetime).
func NewStore(client redis.UniversalClient, prefix string, idleTTL time.Duration) *Store {
	if prefix == "" {
		prefix = "lg:s"
	}
	return &Store{redis: client, prefix: prefix, idleTTL: idleTTL, now: time.Now}
}

// WithClock overrides the store's time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) sessionKey(id string) string { return s.prefix + ":" + id }
func (s *Store) indexKey(userID string) string { return s.prefix + ":u:" + userID }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

// Save writes sess with ttl and adds it to its user's index. The index
// expiry follows the newest session.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	switch {
	case sess == nil || sess.ID == "":
		return errEmptyID
	case ttl <= 0:
		return errBadTTL
	}

	blob, err := Encode(sess)
	if err != nil {
		return err
	}

	idx := s.indexKey(sess.UserID)
	if _, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.sessionKey(sess.ID), blob, ttl)
		p.SAdd(ctx, idx, sess.ID)
		p.Expire(ctx, idx, ttl)
		return nil
	}); err != nil {
		return unavailable(err)
	}
	return nil
}

// load reads and decodes a session. A missing key is (nil, nil).
func (s *Store) load(ctx context.Context, id string) (*Session, error) {
	blob, err := s.redis.Get(ctx, s.sessionKey(id)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, unavailable(err)
	}
	sess, err := Decode(blob)
	if err != nil {
		return nil, err
	}
	sess.ID = id
	return sess, nil
}

// Get loads a session by ID. Missing or expired sessions return
// [ErrSessionNotFound]; expired ones are removed first.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}

	now := s.now()
	if sess.Expired(now) {
		if err := s.revoke(ctx, sess.UserID, id); err != nil {
			return nil, err
		}
		return nil, ErrSessionNotFound
	}

	if s.idleTTL > 0 {
		ttl := max(min(s.idleTTL, sess.Remaining(now)), minIdleTTL)
		if err := s.redis.Expire(ctx, s.sessionKey(id), ttl).Err(); err != nil {
			return nil, unavailable(err)
		}
	}
	return sess, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	sess, err := s.load(ctx, id)
	if err != nil || sess == nil {
		return err
	}
	return s.revoke(ctx, sess.UserID, id)
}

// DeleteAllForUser removes every indexed session of userID in one script
// call and returns how many session keys existed.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	n, err := revokeAll.Run(ctx, s.redis, []string{s.indexKey(userID)}, s.prefix+":").Int()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// ActiveSessionIDs returns the indexed session IDs of userID. Entries may
// outlive their session key until the next revoke touches the index.
func (s *Store) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.indexKey(userID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return ids, nil
}

// Ping measures one Redis round-trip.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := s.redis.Ping(ctx).Err()
	took := time.Since(start)
	if err != nil {
		return took, unavailable(err)
	}
	return took, nil
}

func (s *Store) revoke(ctx context.Context, userID, id string) error {
	keys := []string{s.sessionKey(id), s.indexKey(userID)}
	if err := revokeOne.Run(ctx, s.redis, keys, id).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
