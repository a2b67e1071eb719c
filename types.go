package lexguard

import (
	"context"
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/lexguard/internal/audit"
	"github.com/MrEthical07/lexguard/permission"
	"github.com/MrEthical07/lexguard/session"
)

// UserRecord is what SignIn needs to know about an account.
type UserRecord struct {
	ID           string
	Email        string
	PasswordHash string
	Role         permission.Role
}

// UserProvider looks accounts up by normalized (trimmed, lower-case) email.
// It returns ErrUserNotFound when no account matches.
type UserProvider interface {
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
}

// PasswordHashUpdater is an optional UserProvider extension. When the
// provider implements it, SignIn replaces hashes made with weaker Argon2id
// parameters than the engine's after a successful password check.
type PasswordHashUpdater interface {
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
}

// SignInResult is returned by Engine.SignIn.
type SignInResult struct {
	// Token is the signed session token for the Authorization header or cookie.
	Token     string
	Session   *session.Session
	ExpiresAt time.Time
}

// AuditEvent is an audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink discards audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards audit events into a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per audit event.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink logs audit events through slog.
type SlogSink = internalaudit.SlogSink

// MultiSink fans each audit event out to several sinks.
type MultiSink = internalaudit.MultiSink

// AuditStats counts delivered, dropped and panicked audit events.
type AuditStats = internalaudit.Stats

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
