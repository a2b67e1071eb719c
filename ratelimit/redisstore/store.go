package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/lexguard/ratelimit"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// One sorted set per identifier: score is the request time in unix
// milliseconds, members are unique per request. The key expires one window
// after its newest entry, so idle identifiers cost nothing.
const admitScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
local admitted = 0
if count < limit then
  redis.call("ZADD", key, now, ARGV[4])
  count = count + 1
  admitted = 1
end

local oldest = -1
if count > 0 then
  redis.call("PEXPIRE", key, window)
  local first = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
  if first[2] then
    oldest = tonumber(first[2])
  end
end

return {admitted, count, oldest}
`

var admitLua = redis.NewScript(admitScript)

// Store is a Redis-backed [ratelimit.Store].
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

var _ ratelimit.Store = (*Store)(nil)

// New creates a store. Keys are "<prefix>:<identifier>".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "lg:rl"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) key(identifier string) string {
	return s.prefix + ":" + identifier
}

func (s *Store) Admit(ctx context.Context, identifier string, now time.Time, limit int, window time.Duration) (ratelimit.Window, error) {
	windowMs := window.Milliseconds()
	if limit <= 0 || windowMs <= 0 {
		return ratelimit.Window{}, ratelimit.ErrInvalidPolicy
	}

	nowMs := now.UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	res, err := admitLua.Run(ctx, s.redis, []string{s.key(identifier)}, nowMs, windowMs, limit, member).Int64Slice()
	if err != nil {
		return ratelimit.Window{}, fmt.Errorf("%w: %v", ratelimit.ErrStoreUnavailable, err)
	}
	if len(res) != 3 {
		return ratelimit.Window{}, fmt.Errorf("%w: unexpected script reply %v", ratelimit.ErrStoreUnavailable, res)
	}

	w := ratelimit.Window{Admitted: res[0] == 1, Count: int(res[1])}
	if res[2] >= 0 {
		w.Oldest = time.UnixMilli(res[2])
	}
	return w, nil
}

func (s *Store) Peek(ctx context.Context, identifier string, now time.Time, window time.Duration) (ratelimit.Window, error) {
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		return ratelimit.Window{}, ratelimit.ErrInvalidPolicy
	}

	key := s.key(identifier)
	lower := "(" + strconv.FormatInt(now.UnixMilli()-windowMs, 10)

	pipe := s.redis.Pipeline()
	countCmd := pipe.ZCount(ctx, key, lower, "+inf")
	firstCmd := pipe.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: lower, Max: "+inf", Count: 1})
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return ratelimit.Window{}, fmt.Errorf("%w: %v", ratelimit.ErrStoreUnavailable, err)
	}

	w := ratelimit.Window{Count: int(countCmd.Val())}
	if first := firstCmd.Val(); len(first) > 0 {
		w.Oldest = time.UnixMilli(int64(first[0].Score))
	}
	return w, nil
}

func (s *Store) Reset(ctx context.Context, identifier string) error {
	if err := s.redis.Del(ctx, s.key(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ratelimit.ErrStoreUnavailable, err)
	}
	return nil
}

// Entries returns the raw request timestamps currently stored for
// identifier, oldest first. Stale entries not yet pruned are included.
func (s *Store) Entries(ctx context.Context, identifier string) ([]time.Time, error) {
	zs, err := s.redis.ZRangeWithScores(ctx, s.key(identifier), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ratelimit.ErrStoreUnavailable, err)
	}
	out := make([]time.Time, 0, len(zs))
	for _, z := range zs {
		out = append(out, time.UnixMilli(int64(z.Score)))
	}
	return out, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ratelimit.ErrStoreUnavailable, err)
	}
	return nil
}
