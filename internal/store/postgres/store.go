// Package postgres is the Postgres-backed account store used by the server
// to look users up at sign-in.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/lexguard"
	"github.com/MrEthical07/lexguard/permission"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the accounts table. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS portal_users (
	user_id       UUID PRIMARY KEY,
	email         TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL CHECK (role IN ('CLIENT', 'LAWYER', 'ADMIN')),
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS portal_users_email_idx ON portal_users (lower(email));
`

// ErrEmailTaken is returned by CreateUser for a duplicate email.
var ErrEmailTaken = errors.New("email already registered")

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store implements lexguard.UserProvider.
type Store struct {
	db querier
}

var (
	_ lexguard.UserProvider        = (*Store)(nil)
	_ lexguard.PasswordHashUpdater = (*Store)(nil)
)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// GetUserByEmail returns the active account for email. Missing or inactive
// accounts return lexguard.ErrUserNotFound. A stored role the portal does
// not know is returned as permission.RoleUnknown so sign-in can refuse it.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (lexguard.UserRecord, error) {
	var (
		rec  lexguard.UserRecord
		role string
	)
	row := s.db.QueryRow(ctx, `
		SELECT user_id::text, email, password_hash, role
		FROM portal_users
		WHERE lower(email) = lower($1) AND active = TRUE
	`, strings.TrimSpace(email))
	if err := row.Scan(&rec.ID, &rec.Email, &rec.PasswordHash, &role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lexguard.UserRecord{}, lexguard.ErrUserNotFound
		}
		return lexguard.UserRecord{}, err
	}

	parsed, err := permission.ParseRole(role)
	if err != nil {
		parsed = permission.RoleUnknown
	}
	rec.Role = parsed
	return rec, nil
}

// CreateUser inserts an account and returns its ID. passwordHash must come
// from Engine.HashPassword.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string, role permission.Role) (string, error) {
	if !role.Valid() {
		return "", permission.ErrUnknownRole
	}
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `
		INSERT INTO portal_users (user_id, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
	`, id, strings.ToLower(strings.TrimSpace(email)), passwordHash, role.String())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", ErrEmailTaken
		}
		return "", err
	}
	return id, nil
}

// Deactivate disables an account. Existing sessions are not touched; the
// caller revokes them with Engine.SignOutAll.
func (s *Store) Deactivate(ctx context.Context, userID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE portal_users SET active = FALSE WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return lexguard.ErrUserNotFound
	}
	return nil
}

// UpdatePasswordHash replaces userID's stored hash. SignIn calls it when the
// configured Argon2id parameters have been raised.
func (s *Store) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	tag, err := s.db.Exec(ctx, `UPDATE portal_users SET password_hash = $2 WHERE user_id = $1`, userID, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return lexguard.ErrUserNotFound
	}
	return nil
}
