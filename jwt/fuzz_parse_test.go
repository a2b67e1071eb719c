package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/MrEthical07/lexguard/permission"
	"github.com/MrEthical07/lexguard/session"
)

// FuzzParseSession checks that whatever the parser accepts is a complete
// session with a portal role.
func FuzzParseSession(f *testing.F) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		f.Fatal(err)
	}
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		KeyID:         "current",
		VerifyKeys:    map[string][]byte{"current": pub},
		Issuer:        "lexguard",
		RequireIAT:    true,
	})
	if err != nil {
		f.Fatal(err)
	}

	for _, role := range permission.Roles() {
		tok, err := m.Issue(session.New("user-"+role.String(), role, time.Now(), time.Hour))
		if err != nil {
			f.Fatal(err)
		}
		f.Add(tok)
	}
	f.Add("")
	f.Add("a.b.c")
	f.Add("eyJhbGciOiJub25lIn0.eyJ1aWQiOiJ4In0.")
	f.Add("eyJhbGciOiJFZERTQSIsImtpZCI6Im90aGVyIn0.e30.AAAA")

	f.Fuzz(func(t *testing.T, token string) {
		sess, err := m.ParseSession(token)
		if err != nil {
			return
		}
		if sess == nil || sess.ID == "" || sess.UserID == "" || !sess.Role.Valid() {
			t.Fatalf("accepted %q as %+v", token, sess)
		}
	})
}
