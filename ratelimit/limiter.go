package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is how long until the oldest retained request leaves the
	// window. Zero when Allowed.
	RetryAfter time.Duration
	// ResetAt is when the oldest retained request leaves the window and
	// frees a slot.
	ResetAt time.Time
}

// Limiter applies sliding-window log limits on top of a [Store].
type Limiter struct {
	store    Store
	clock    Clock
	logger   *slog.Logger
	prefix   string
	failOpen bool
}

// Option configures a [Limiter].
type Option func(*Limiter)

// WithClock injects the time source.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLogger sets the logger used for store failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithKeyPrefix namespaces every identifier before it reaches the store.
func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) { l.prefix = prefix }
}

// WithFailOpen makes IsAllowed admit requests when the store fails.
// The default rejects them.
func WithFailOpen(open bool) Option {
	return func(l *Limiter) { l.failOpen = open }
}

// New builds a limiter over store.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		clock:  SystemClock,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// IsAllowed reports whether identifier may make one more request under
// limit requests per windowMs milliseconds, recording it if so.
//
// It never fails: a store error is logged and resolved by the fail-open
// setting. A non-positive limit or window always rejects.
func (l *Limiter) IsAllowed(identifier string, limit int, windowMs int64) bool {
	d, err := l.Allow(context.Background(), identifier, limit, MillisWindow(windowMs))
	if err != nil {
		if errors.Is(err, ErrInvalidPolicy) {
			return false
		}
		return l.failOpen
	}
	return d.Allowed
}

// MillisWindow converts a millisecond window to a duration. Values that are
// not positive or do not fit in a time.Duration return 0, which every
// limiter call rejects as [ErrInvalidPolicy].
func MillisWindow(ms int64) time.Duration {
	if ms <= 0 || ms > math.MaxInt64/int64(time.Millisecond) {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// Allow is the context-aware form of [Limiter.IsAllowed] that also reports
// quota details.
func (l *Limiter) Allow(ctx context.Context, identifier string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 || window <= 0 {
		return Decision{Limit: max(limit, 0)}, ErrInvalidPolicy
	}

	now := l.clock.Now()
	w, err := l.store.Admit(ctx, l.prefix+identifier, now, limit, window)
	if errors.Is(err, ErrInvalidPolicy) {
		return Decision{Limit: limit}, err
	}
	if err != nil {
		l.logger.Warn("ratelimit.store.fail",
			slog.String("identifier", identifier),
			slog.String("error", err.Error()),
		)
		if !errors.Is(err, ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return Decision{Allowed: l.failOpen, Limit: limit}, err
	}

	return decide(w, now, limit, window), nil
}

// Status reports the current window for identifier without recording a request.
func (l *Limiter) Status(ctx context.Context, identifier string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 || window <= 0 {
		return Decision{Limit: max(limit, 0)}, ErrInvalidPolicy
	}

	now := l.clock.Now()
	w, err := l.store.Peek(ctx, l.prefix+identifier, now, window)
	if errors.Is(err, ErrInvalidPolicy) {
		return Decision{Limit: limit}, err
	}
	if err != nil {
		if !errors.Is(err, ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return Decision{Limit: limit}, err
	}

	w.Admitted = w.Count < limit
	return decide(w, now, limit, window), nil
}

// Reset clears identifier's history.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	if err := l.store.Reset(ctx, l.prefix+identifier); err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func decide(w Window, now time.Time, limit int, window time.Duration) Decision {
	d := Decision{
		Allowed:   w.Admitted,
		Limit:     limit,
		Remaining: max(limit-w.Count, 0),
		ResetAt:   now,
	}
	if w.Count > 0 && !w.Oldest.IsZero() {
		d.ResetAt = w.Oldest.Add(window)
	}
	if !d.Allowed {
		d.RetryAfter = d.ResetAt.Sub(now)
		if d.RetryAfter <= 0 {
			d.RetryAfter = time.Millisecond
		}
	}
	return d
}
