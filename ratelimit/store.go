package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStoreUnavailable wraps backend failures reported by a [Store].
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	// ErrInvalidPolicy is reported for a non-positive limit or window.
	ErrInvalidPolicy = errors.New("rate limit policy must have positive limit and window")
)

// Window is a snapshot of one identifier's sliding window after a store
// operation.
type Window struct {
	// Admitted is true when the request was recorded.
	Admitted bool
	// Count is the number of timestamps retained in the window, including
	// the one just recorded.
	Count int
	// Oldest is the earliest retained timestamp; zero when Count is 0.
	Oldest time.Time
}

// Store holds per-identifier timestamp logs.
//
// Admit must run the whole read, prune, check and append sequence
// atomically for a given key: timestamps at or before now-window are
// dropped, the request is rejected without being recorded when the
// remaining count is >= limit, and otherwise now is appended.
type Store interface {
	Admit(ctx context.Context, key string, now time.Time, limit int, window time.Duration) (Window, error)
	// Peek reports the window without recording anything.
	Peek(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error)
	// Reset forgets every timestamp of key.
	Reset(ctx context.Context, key string) error
}

// Clock is the limiter's time source.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to [Clock].
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)
