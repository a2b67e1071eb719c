package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultCookieName is the cookie consulted when no bearer token is sent.
const DefaultCookieName = "lexguard_session"

// Provider resolves the session attached to a request. It returns (nil, nil)
// when the request carries no valid credentials; a non-nil error means the
// provider itself failed and no decision can be made.
type Provider interface {
	Resolve(r *http.Request) (*Session, error)
}

// ProviderFunc adapts a function to [Provider].
type ProviderFunc func(r *http.Request) (*Session, error)

func (f ProviderFunc) Resolve(r *http.Request) (*Session, error) { return f(r) }

// TokenParser turns a signed session token into a session.
type TokenParser interface {
	ParseSession(token string) (*Session, error)
}

// Getter loads a stored session by ID.
type Getter interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
}

// TokenProvider reads a session token from the Authorization header or the
// session cookie. In strict mode the token's session ID must also exist in
// the store, which makes sign-out effective before the token expires.
type TokenProvider struct {
	parser     TokenParser
	store      Getter
	cookieName string
	now        func() time.Time
}

// NewTokenProvider builds a provider. store may be nil, in which case tokens
// are trusted until they expire.
func NewTokenProvider(parser TokenParser, store Getter, cookieName string) *TokenProvider {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &TokenProvider{
		parser:     parser,
		store:      store,
		cookieName: cookieName,
		now:        time.Now,
	}
}

// WithClock overrides the provider's time source.
func (p *TokenProvider) WithClock(now func() time.Time) *TokenProvider {
	p.now = now
	return p
}

// CookieName returns the session cookie name.
func (p *TokenProvider) CookieName() string {
	return p.cookieName
}

func (p *TokenProvider) Resolve(r *http.Request) (*Session, error) {
	token := p.token(r)
	if token == "" {
		return nil, nil
	}

	claimed, err := p.parser.ParseSession(token)
	if err != nil || claimed == nil {
		return nil, nil
	}
	if claimed.Expired(p.now()) {
		return nil, nil
	}

	if p.store == nil {
		return claimed, nil
	}

	stored, err := p.store.Get(r.Context(), claimed.ID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if stored.UserID != claimed.UserID {
		return nil, nil
	}
	return stored, nil
}

func (p *TokenProvider) token(r *http.Request) string {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	if c, err := r.Cookie(p.cookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
