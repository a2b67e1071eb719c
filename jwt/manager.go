package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/lexguard/permission"
	"github.com/MrEthical07/lexguard/session"
	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

const (
	maxLeeway           = 2 * time.Minute
	defaultMaxFutureIAT = 10 * time.Minute
	minHMACKeyBytes     = 32
)

var (
	// ErrInvalidClaims is returned when a token cannot describe a session.
	ErrInvalidClaims = errors.New("invalid session claims")
	// ErrKeyConfig is returned by NewManager for unusable key material.
	ErrKeyConfig = errors.New("invalid token key configuration")
	// ErrUnknownKey is returned when a token's kid selects no verification key.
	ErrUnknownKey = errors.New("unknown token key")
	// ErrNoSigningKey is returned by Issue on a verify-only manager.
	ErrNoSigningKey = errors.New("manager has no signing key")
	// ErrIssuedInFuture is returned for iat beyond MaxFutureIAT.
	ErrIssuedInFuture = errors.New("token issued in the future")
)

// Config configures a [Manager].
type Config struct {
	SigningMethod SigningMethod
	// PrivateKey signs tokens: a raw or PEM ed25519 key, or the HMAC secret.
	PrivateKey []byte
	// PublicKey verifies tokens without a kid. Ignored for hs256.
	PublicKey []byte
	Issuer    string
	Audience  string
	Leeway    time.Duration
	// RequireIAT rejects tokens whose iat lies ahead of the clock.
	RequireIAT   bool
	MaxFutureIAT time.Duration
	// KeyID is stamped into issued tokens. Without VerifyKeys it is also the
	// only kid accepted on parse.
	KeyID string
	// VerifyKeys, when set, is the complete set of accepted keys by kid and
	// tokens must carry one of them.
	VerifyKeys map[string][]byte

	// Now overrides the clock used for iat and expiry checks.
	Now func() time.Time
}

// Manager signs and verifies session tokens. Keys are decoded once by
// NewManager.
type Manager struct {
	method  jwt.SigningMethod
	signKey any
	signKID string

	defaultKey any
	kidKeys    map[string]any

	issuer       string
	audience     string
	maxFutureIAT time.Duration
	now          func() time.Time
	parser       *jwt.Parser
}

// SessionClaims is the token payload: the session ID, its user and role.
// Expiry mirrors the session's ExpiresAt.
type SessionClaims struct {
	UID  string `json:"uid"`
	SID  string `json:"sid"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, fmt.Errorf("%w: leeway must be within [0, %s]", ErrKeyConfig, maxLeeway)
	}
	switch {
	case cfg.MaxFutureIAT == 0:
		cfg.MaxFutureIAT = defaultMaxFutureIAT
	case cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour:
		return nil, fmt.Errorf("%w: MaxFutureIAT out of range", ErrKeyConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &Manager{
		signKID:      strings.TrimSpace(cfg.KeyID),
		issuer:       cfg.Issuer,
		audience:     cfg.Audience,
		maxFutureIAT: cfg.MaxFutureIAT,
		now:          cfg.Now,
	}

	var decodeVerify func([]byte) (any, error)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHMACKeyBytes {
			return nil, fmt.Errorf("%w: hs256 secret shorter than %d bytes", ErrKeyConfig, minHMACKeyBytes)
		}
		m.method = jwt.SigningMethodHS256
		secret := append([]byte(nil), cfg.PrivateKey...)
		m.signKey, m.defaultKey = secret, secret
		decodeVerify = func(b []byte) (any, error) {
			if len(b) < minHMACKeyBytes {
				return nil, errors.New("hs256 secret too short")
			}
			return append([]byte(nil), b...), nil
		}
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := decodeEdPrivate(cfg.PrivateKey)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrKeyConfig, err)
			}
			m.signKey = priv
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := decodeEdPublic(cfg.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrKeyConfig, err)
			}
			m.defaultKey = pub
		}
		decodeVerify = func(b []byte) (any, error) { return decodeEdPublic(b) }
		if m.defaultKey == nil && len(cfg.VerifyKeys) == 0 {
			return nil, fmt.Errorf("%w: ed25519 needs PublicKey or VerifyKeys", ErrKeyConfig)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported signing method %q", ErrKeyConfig, cfg.SigningMethod)
	}

	if len(cfg.VerifyKeys) > 0 {
		m.kidKeys = make(map[string]any, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, fmt.Errorf("%w: empty kid in VerifyKeys", ErrKeyConfig)
			}
			key, err := decodeVerify(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: kid %q: %v", ErrKeyConfig, kid, err)
			}
			m.kidKeys[kid] = key
		}
		if _, ok := m.kidKeys[m.signKID]; m.signKID != "" && !ok {
			return nil, fmt.Errorf("%w: KeyID %q missing from VerifyKeys", ErrKeyConfig, m.signKID)
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.RequireIAT {
		opts = append(opts, jwt.WithIssuedAt())
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	m.parser = jwt.NewParser(opts...)

	return m, nil
}

// Issue signs a token for sess. The token expires with the session.
func (m *Manager) Issue(sess *session.Session) (string, error) {
	if sess == nil || sess.ID == "" || sess.UserID == "" || !sess.Role.Valid() {
		return "", ErrInvalidClaims
	}
	if m.signKey == nil {
		return "", ErrNoSigningKey
	}

	claims := SessionClaims{
		UID:  sess.UserID,
		SID:  sess.ID,
		Role: sess.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.UserID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(m.now()),
			ExpiresAt: jwt.NewNumericDate(time.Unix(sess.ExpiresAt, 0)),
		},
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}

	token := jwt.NewWithClaims(m.method, claims)
	if m.signKID != "" {
		token.Header["kid"] = m.signKID
	}
	return token.SignedString(m.signKey)
}

// ParseSession verifies tokenStr and rebuilds the session it names.
// It satisfies session.TokenParser.
func (m *Manager) ParseSession(tokenStr string) (*session.Session, error) {
	claims, err := m.ParseClaims(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.UID == "" || claims.SID == "" || claims.ExpiresAt == nil {
		return nil, ErrInvalidClaims
	}
	role, err := permission.ParseRole(claims.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	}

	sess := &session.Session{
		ID:        claims.SID,
		UserID:    claims.UID,
		Role:      role,
		ExpiresAt: claims.ExpiresAt.Unix(),
	}
	if claims.IssuedAt != nil {
		sess.CreatedAt = claims.IssuedAt.Unix()
	}
	return sess, nil
}

// ParseClaims verifies signature, algorithm, issuer, audience and time claims.
func (m *Manager) ParseClaims(tokenStr string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := m.parser.ParseWithClaims(tokenStr, claims, m.verifyKey)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(m.now().Add(m.maxFutureIAT)) {
		return nil, ErrIssuedInFuture
	}
	return claims, nil
}

// verifyKey picks the key for t. With a kid key set the token's kid must be
// in it; otherwise the default key is used and a pinned KeyID must match.
func (m *Manager) verifyKey(t *jwt.Token) (any, error) {
	if t.Method.Alg() != m.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm %s", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)

	if m.kidKeys != nil {
		key, ok := m.kidKeys[kid]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
		}
		return key, nil
	}
	if m.signKID != "" && kid != m.signKID {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
	}
	if m.defaultKey == nil {
		return nil, ErrUnknownKey
	}
	return m.defaultKey, nil
}

func decodeEdPrivate(raw []byte) (ed25519.PrivateKey, error) {
	if len(raw) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(append([]byte(nil), raw...)), nil
	}
	key, err := jwt.ParseEdPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, errors.New("ed25519 private key is neither raw nor PEM")
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("PEM does not hold an ed25519 private key")
	}
	return priv, nil
}

func decodeEdPublic(raw []byte) (ed25519.PublicKey, error) {
	if len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(append([]byte(nil), raw...)), nil
	}
	key, err := jwt.ParseEdPublicKeyFromPEM(raw)
	if err != nil {
		return nil, errors.New("ed25519 public key is neither raw nor PEM")
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("PEM does not hold an ed25519 public key")
	}
	return pub, nil
}
