package middleware_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"strings"
	"testing"

	"github.com/MrEthical07/lexguard"
	"github.com/MrEthical07/lexguard/permission"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct-password-123"

type staticUsers map[string]lexguard.UserRecord

func (u staticUsers) GetUserByEmail(_ context.Context, email string) (lexguard.UserRecord, error) {
	rec, ok := u[email]
	if !ok {
		return lexguard.UserRecord{}, lexguard.ErrUserNotFound
	}
	return rec, nil
}

func newTestEngine(t *testing.T, opts ...func(*lexguard.Builder)) (*lexguard.Engine, staticUsers) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	cfg := lexguard.DefaultConfig()
	cfg.Token.PrivateKey = priv
	cfg.Token.PublicKey = pub
	cfg.Password = lexguard.PasswordConfig{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Audit.Enabled = false

	users := staticUsers{}
	b := lexguard.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(users)
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, users
}

// tokenFor seeds a user with role and signs them in.
func tokenFor(t *testing.T, engine *lexguard.Engine, users staticUsers, role permission.Role) string {
	t.Helper()
	email := strings.ToLower(role.String()) + "@example.com"
	hash, err := engine.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users[email] = lexguard.UserRecord{ID: "u-" + role.String(), Email: email, PasswordHash: hash, Role: role}

	res, err := engine.SignIn(context.Background(), email, testPassword)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	return res.Token
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})
