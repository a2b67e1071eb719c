package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/lexguard/permission"
	"github.com/MrEthical07/lexguard/session"
	gjwt "github.com/golang-jwt/jwt/v5"
)

var hmacSecret = []byte("0123456789abcdef0123456789abcdef")

func edKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func mustManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

// forge signs arbitrary claims, bypassing Manager.Issue.
func forge(t *testing.T, method gjwt.SigningMethod, key any, kid string, claims SessionClaims) string {
	t.Helper()
	tok := gjwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func claimsFor(role string, exp time.Time) SessionClaims {
	return SessionClaims{UID: "user-7", SID: "sess-1", Role: role, RegisteredClaims: gjwt.RegisteredClaims{
		ExpiresAt: gjwt.NewNumericDate(exp),
	}}
}

func TestIssueParseRoundTrip(t *testing.T) {
	pub, priv := edKeys(t)
	m := mustManager(t, Config{SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub, Issuer: "lexguard", Audience: "portal"})

	sess := session.New("user-7", permission.RoleLawyer, time.Now(), time.Hour)
	token, err := m.Issue(sess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	got, err := m.ParseSession(token)
	if err != nil {
		t.Fatalf("ParseSession: %v", err)
	}
	if got.ID != sess.ID || got.UserID != "user-7" || got.Role != permission.RoleLawyer || got.ExpiresAt != sess.ExpiresAt {
		t.Fatalf("parsed %+v, issued %+v", got, sess)
	}
	if got.CreatedAt == 0 {
		t.Fatal("iat not carried into CreatedAt")
	}
}

func TestPEMKeys(t *testing.T) {
	pub, priv := edKeys(t)
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	m := mustManager(t, Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}),
		PublicKey:     pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}),
	})

	token, err := m.Issue(session.New("u", permission.RoleClient, time.Now(), time.Minute))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := m.ParseSession(token); err != nil {
		t.Fatalf("ParseSession: %v", err)
	}
}

func TestIssueRejects(t *testing.T) {
	m := mustManager(t, Config{SigningMethod: MethodHS256, PrivateKey: hmacSecret})
	bad := []*session.Session{
		nil,
		{ID: "s", UserID: "u", Role: permission.RoleUnknown},
		{ID: "", UserID: "u", Role: permission.RoleClient},
		{ID: "s", UserID: "", Role: permission.RoleClient},
	}
	for i, s := range bad {
		if _, err := m.Issue(s); !errors.Is(err, ErrInvalidClaims) {
			t.Fatalf("case %d: err = %v", i, err)
		}
	}

	pub, _ := edKeys(t)
	verifyOnly := mustManager(t, Config{SigningMethod: MethodEd25519, PublicKey: pub})
	if _, err := verifyOnly.Issue(session.New("u", permission.RoleClient, time.Now(), time.Minute)); !errors.Is(err, ErrNoSigningKey) {
		t.Fatalf("verify-only Issue err = %v", err)
	}
}

func TestParseRejectsForgedTokens(t *testing.T) {
	pub, priv := edKeys(t)
	_, otherPriv := edKeys(t)
	m := mustManager(t, Config{SigningMethod: MethodEd25519, PublicKey: pub})
	soon := time.Now().Add(time.Minute)

	tests := []struct {
		name   string
		token  string
		target error
	}{
		{"hs256 downgrade", forge(t, gjwt.SigningMethodHS256, hmacSecret, "", claimsFor("ADMIN", soon)), nil},
		{"wrong key", forge(t, gjwt.SigningMethodEdDSA, otherPriv, "", claimsFor("ADMIN", soon)), nil},
		{"unknown role", forge(t, gjwt.SigningMethodEdDSA, priv, "", claimsFor("JUDGE", soon)), ErrInvalidClaims},
		{"no exp", forge(t, gjwt.SigningMethodEdDSA, priv, "", SessionClaims{UID: "u", SID: "s", Role: "ADMIN"}), nil},
		{"no sid", forge(t, gjwt.SigningMethodEdDSA, priv, "", SessionClaims{UID: "u", Role: "ADMIN", RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(soon)}}), ErrInvalidClaims},
		{"garbage", "not.a.token", nil},
	}
	for _, tc := range tests {
		_, err := m.ParseSession(tc.token)
		if err == nil {
			t.Fatalf("%s: accepted", tc.name)
		}
		if tc.target != nil && !errors.Is(err, tc.target) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.target)
		}
	}

	if _, err := m.ParseSession(forge(t, gjwt.SigningMethodEdDSA, priv, "", claimsFor("CLIENT", soon))); err != nil {
		t.Fatalf("valid forged-by-owner token rejected: %v", err)
	}
}

func TestParseIssuerAudienceLeeway(t *testing.T) {
	pub, priv := edKeys(t)
	m := mustManager(t, Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "lexguard",
		Audience:      "portal",
		Leeway:        30 * time.Second,
	})

	sign := func(issuer, audience string, exp time.Time) string {
		c := claimsFor("CLIENT", exp)
		c.Issuer = issuer
		c.Audience = gjwt.ClaimStrings{audience}
		return forge(t, gjwt.SigningMethodEdDSA, priv, "", c)
	}

	now := time.Now()
	tests := []struct {
		name  string
		token string
		ok    bool
	}{
		{"valid", sign("lexguard", "portal", now.Add(time.Minute)), true},
		{"wrong issuer", sign("other", "portal", now.Add(time.Minute)), false},
		{"wrong audience", sign("lexguard", "billing", now.Add(time.Minute)), false},
		{"expired within leeway", sign("lexguard", "portal", now.Add(-15*time.Second)), true},
		{"expired past leeway", sign("lexguard", "portal", now.Add(-2*time.Minute)), false},
	}
	for _, tc := range tests {
		_, err := m.ParseSession(tc.token)
		if (err == nil) != tc.ok {
			t.Fatalf("%s: err = %v", tc.name, err)
		}
	}
}

func TestKeyIDSelection(t *testing.T) {
	pub1, priv1 := edKeys(t)
	pub2, priv2 := edKeys(t)
	soon := time.Now().Add(time.Minute)

	rotating := mustManager(t, Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv2,
		KeyID:         "2026-10",
		VerifyKeys:    map[string][]byte{"2026-09": pub1, "2026-10": pub2},
	})

	issued, err := rotating.Issue(session.New("u", permission.RoleAdmin, time.Now(), time.Minute))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := rotating.ParseSession(issued); err != nil {
		t.Fatalf("current key rejected: %v", err)
	}
	if _, err := rotating.ParseSession(forge(t, gjwt.SigningMethodEdDSA, priv1, "2026-09", claimsFor("ADMIN", soon))); err != nil {
		t.Fatalf("previous key rejected: %v", err)
	}
	if _, err := rotating.ParseSession(forge(t, gjwt.SigningMethodEdDSA, priv1, "2026-10", claimsFor("ADMIN", soon))); err == nil {
		t.Fatal("token signed with the wrong key for its kid accepted")
	}
	for _, kid := range []string{"", "2026-08"} {
		_, err := rotating.ParseSession(forge(t, gjwt.SigningMethodEdDSA, priv1, kid, claimsFor("ADMIN", soon)))
		if !errors.Is(err, ErrUnknownKey) {
			t.Fatalf("kid %q: err = %v", kid, err)
		}
	}

	pinned := mustManager(t, Config{SigningMethod: MethodEd25519, PublicKey: pub1, KeyID: "k1"})
	if _, err := pinned.ParseSession(forge(t, gjwt.SigningMethodEdDSA, priv1, "k2", claimsFor("ADMIN", soon))); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("pinned kid mismatch err = %v", err)
	}
	if _, err := pinned.ParseSession(forge(t, gjwt.SigningMethodEdDSA, priv1, "k1", claimsFor("ADMIN", soon))); err != nil {
		t.Fatalf("pinned kid match: %v", err)
	}
}

func TestClockAndFutureIAT(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	m := mustManager(t, Config{SigningMethod: MethodHS256, PrivateKey: hmacSecret, RequireIAT: true, Now: func() time.Time { return now }})

	token, err := m.Issue(session.New("u", permission.RoleClient, now, time.Minute))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := m.ParseSession(token); err != nil {
		t.Fatalf("parse at issue time: %v", err)
	}

	future := claimsFor("CLIENT", now.Add(24*time.Hour))
	future.IssuedAt = gjwt.NewNumericDate(now.Add(time.Hour))
	if _, err := m.ParseSession(forge(t, gjwt.SigningMethodHS256, hmacSecret, "", future)); err == nil {
		t.Fatal("iat an hour ahead accepted")
	}

	noIAT := forge(t, gjwt.SigningMethodHS256, hmacSecret, "", claimsFor("CLIENT", now.Add(time.Minute)))
	if _, err := m.ParseSession(noIAT); err != nil {
		t.Fatalf("token without iat: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := m.ParseSession(token); err == nil {
		t.Fatal("token accepted after expiry")
	}
}

func TestNewManagerValidation(t *testing.T) {
	pub, _ := edKeys(t)
	tests := map[string]Config{
		"short hs256 secret":  {SigningMethod: MethodHS256, PrivateKey: []byte("short")},
		"unsupported method":  {SigningMethod: "rs256"},
		"no ed25519 keys":     {SigningMethod: MethodEd25519},
		"bad public key":      {SigningMethod: MethodEd25519, PublicKey: []byte("nope")},
		"bad private key":     {SigningMethod: MethodEd25519, PublicKey: pub, PrivateKey: []byte("nope")},
		"leeway too large":    {SigningMethod: MethodHS256, PrivateKey: hmacSecret, Leeway: time.Hour},
		"negative future iat": {SigningMethod: MethodHS256, PrivateKey: hmacSecret, MaxFutureIAT: -time.Second},
		"empty kid":           {SigningMethod: MethodEd25519, VerifyKeys: map[string][]byte{" ": pub}},
		"kid not in set":      {SigningMethod: MethodEd25519, KeyID: "k9", VerifyKeys: map[string][]byte{"k1": pub}},
	}
	for name, cfg := range tests {
		if _, err := NewManager(cfg); !errors.Is(err, ErrKeyConfig) {
			t.Fatalf("%s: err = %v", name, err)
		}
	}
}
