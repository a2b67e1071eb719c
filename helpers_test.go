package lexguard

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/lexguard/permission"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct-password-123"

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Now().Truncate(time.Second)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type mapUserProvider struct {
	mu    sync.Mutex
	users map[string]UserRecord
	err   error
	calls int
}

func (m *mapUserProvider) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return UserRecord{}, m.err
	}
	u, ok := m.users[email]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (m *mapUserProvider) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for email, u := range m.users {
		if u.ID == userID {
			u.PasswordHash = hash
			m.users[email] = u
			return nil
		}
	}
	return ErrUserNotFound
}

func (m *mapUserProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testConfig(t testing.TB) Config {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Token.PrivateKey = priv
	cfg.Token.PublicKey = pub
	cfg.Password = PasswordConfig{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.Audit.Enabled = false
	return cfg
}

type testEngine struct {
	*Engine
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	clock *manualClock
	users *mapUserProvider
}

type engineOption func(*Builder)

func buildTestEngine(t testing.TB, cfg Config, opts ...engineOption) *testEngine {
	t.Helper()

	mr, rdb := newTestRedis(t)
	clock := newManualClock()
	users := &mapUserProvider{users: map[string]UserRecord{}}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(users).
		WithClock(clock)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, mr: mr, rdb: rdb, clock: clock, users: users}
}

func (te *testEngine) addUser(t testing.TB, id, email string, role permission.Role) {
	t.Helper()
	hash, err := te.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	te.users.mu.Lock()
	te.users.users[email] = UserRecord{ID: id, Email: email, PasswordHash: hash, Role: role}
	te.users.mu.Unlock()
}

func (te *testEngine) signIn(t testing.TB, email string) SignInResult {
	t.Helper()
	res, err := te.SignIn(context.Background(), email, testPassword)
	if err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}
	return res
}

func bearerRequest(path, token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}
