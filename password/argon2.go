package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	// MinPasswordBytes is the shortest password Hash accepts.
	MinPasswordBytes = 10
	// DefaultMaxPasswordBytes caps input length when Config.MaxPasswordBytes is zero.
	DefaultMaxPasswordBytes = 1024

	minMemoryKB   uint32 = 8 * 1024
	minSaltLength uint32 = 16
	minKeyLength  uint32 = 16
)

var (
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d bytes", MinPasswordBytes)
	// ErrPasswordTooLong is returned when the input exceeds MaxPasswordBytes.
	ErrPasswordTooLong = errors.New("password exceeds maximum length")
	// ErrMalformedHash wraps every reason a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
	// ErrWeakConfig is returned by NewArgon2 for parameters below the floor.
	ErrWeakConfig = errors.New("argon2 parameters below minimum")
)

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	// VerifyDummy spends the same work as a real verification and always
	// fails. Sign-in calls it for unknown accounts.
	VerifyDummy(password string)
	// NeedsRehash reports whether encodedHash should be replaced by a hash
	// made with the current parameters.
	NeedsRehash(encodedHash string) bool
}

// Config holds the Argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
}

// DefaultConfig returns the interactive-login parameter set.
func DefaultConfig() Config {
	return Config{
		Memory:           64 * 1024,
		Time:             3,
		Parallelism:      2,
		SaltLength:       16,
		KeyLength:        32,
		MaxPasswordBytes: DefaultMaxPasswordBytes,
	}
}

func (c Config) validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("%w: memory %d KiB < %d", ErrWeakConfig, c.Memory, minMemoryKB)
	case c.Time < 1:
		return fmt.Errorf("%w: time must be >= 1", ErrWeakConfig)
	case c.Parallelism < 1:
		return fmt.Errorf("%w: parallelism must be >= 1", ErrWeakConfig)
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("%w: salt length %d < %d", ErrWeakConfig, c.SaltLength, minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("%w: key length %d < %d", ErrWeakConfig, c.KeyLength, minKeyLength)
	case c.MaxPasswordBytes < MinPasswordBytes:
		return fmt.Errorf("%w: max password bytes %d < %d", ErrWeakConfig, c.MaxPasswordBytes, MinPasswordBytes)
	}
	return nil
}

// phc is one decoded hash string.
type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (p phc) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version,
		p.memory, p.time, p.parallelism,
		base64.RawStdEncoding.EncodeToString(p.salt),
		base64.RawStdEncoding.EncodeToString(p.key),
	)
}

func (p phc) derive(password string) []byte {
	return argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
}

// Argon2 is the Argon2id [Hasher].
type Argon2 struct {
	config Config
	dummy  phc
}

var _ Hasher = (*Argon2)(nil)

func NewArgon2(cfg Config) (*Argon2, error) {
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	salt, err := randomBytes(cfg.SaltLength)
	if err != nil {
		return nil, err
	}
	return &Argon2{
		config: cfg,
		dummy: phc{
			memory:      cfg.Memory,
			time:        cfg.Time,
			parallelism: cfg.Parallelism,
			salt:        salt,
			key:         make([]byte, cfg.KeyLength),
		},
	}, nil
}

// Hash returns a PHC-encoded Argon2id hash. Input bytes are used as given,
// without Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	switch {
	case len(password) < MinPasswordBytes:
		return "", ErrPasswordTooShort
	case len(password) > a.config.MaxPasswordBytes:
		return "", ErrPasswordTooLong
	}

	salt, err := randomBytes(a.config.SaltLength)
	if err != nil {
		return "", err
	}
	p := phc{
		memory:      a.config.Memory,
		time:        a.config.Time,
		parallelism: a.config.Parallelism,
		salt:        salt,
		key:         make([]byte, a.config.KeyLength),
	}
	p.key = p.derive(password)
	return p.String(), nil
}

// Verify checks password against encodedHash in constant time. A false
// result with a nil error is a wrong password.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	if len(password) > a.config.MaxPasswordBytes {
		return false, ErrPasswordTooLong
	}
	p, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(p.derive(password), p.key) == 1, nil
}

func (a *Argon2) VerifyDummy(password string) {
	if len(password) > a.config.MaxPasswordBytes {
		password = password[:a.config.MaxPasswordBytes]
	}
	_ = subtle.ConstantTimeCompare(a.dummy.derive(password), a.dummy.key)
}

// NeedsRehash is true when any cost parameter of encodedHash is below the
// current configuration or its key length differs. Unparseable hashes
// also need replacing.
func (a *Argon2) NeedsRehash(encodedHash string) bool {
	p, err := parsePHC(encodedHash)
	if err != nil {
		return true
	}
	return p.memory < a.config.Memory ||
		p.time < a.config.Time ||
		p.parallelism < a.config.Parallelism ||
		uint32(len(p.key)) != a.config.KeyLength
}

func parsePHC(encoded string) (phc, error) {
	// "", algorithm, version, params, salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return phc{}, fmt.Errorf("%w: expected 5 fields", ErrMalformedHash)
	}
	if parts[1] != algorithmID {
		return phc{}, fmt.Errorf("%w: algorithm %q", ErrMalformedHash, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return phc{}, fmt.Errorf("%w: version %q", ErrMalformedHash, parts[2])
	}

	var p phc
	if n, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.parallelism); err != nil || n != 3 ||
		fmt.Sprintf("m=%d,t=%d,p=%d", p.memory, p.time, p.parallelism) != parts[3] {
		return phc{}, fmt.Errorf("%w: parameters %q", ErrMalformedHash, parts[3])
	}
	if p.memory < minMemoryKB || p.time < 1 || p.parallelism < 1 {
		return phc{}, fmt.Errorf("%w: parameters below minimum", ErrMalformedHash)
	}

	var err error
	if p.salt, err = decodeB64(parts[4]); err != nil || len(p.salt) < int(minSaltLength) {
		return phc{}, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if p.key, err = decodeB64(parts[5]); err != nil || len(p.key) == 0 {
		return phc{}, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	return p, nil
}

// decodeB64 accepts padded and unpadded standard base64; the PHC format
// omits padding but older hashes carry it.
func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func randomBytes(n uint32) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
