package permission

import (
	"errors"
	"strings"
	"sync"
)

// Wildcard is the capability that satisfies every check.
const Wildcard = "*"

var (
	errRegistryFrozen  = errors.New("registry frozen")
	errEmptyCapability = errors.New("capability name cannot be empty")
	errCapabilityLimit = errors.New("capability limit exceeded (wildcard bit reserved)")
	errInvalidWidth    = errors.New("capability width must be 64 or 128")
)

// Registry assigns capability names to bit positions of a [CapSet] in
// registration order. The top bit of the width belongs to [Wildcard].
type Registry struct {
	width int

	mu     sync.RWMutex
	names  []string // names[bit]
	bits   map[string]int
	frozen bool
}

// NewRegistry creates a registry with width usable bits (64 or 128).
func NewRegistry(width int) (*Registry, error) {
	if width != 64 && width != MaxWidth {
		return nil, errInvalidWidth
	}
	return &Registry{width: width, bits: make(map[string]int)}, nil
}

// Register returns name's bit, assigning the next free one on first use.
// A frozen registry still answers for names it already knows.
func (r *Registry) Register(name string) (int, error) {
	name = strings.TrimSpace(name)
	switch name {
	case "":
		return -1, errEmptyCapability
	case Wildcard:
		return r.WildcardBit(), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if bit, ok := r.bits[name]; ok {
		return bit, nil
	}
	if r.frozen {
		return -1, errRegistryFrozen
	}
	bit := len(r.names)
	if bit >= r.WildcardBit() {
		return -1, errCapabilityLimit
	}
	r.names = append(r.names, name)
	r.bits[name] = bit
	return bit, nil
}

// Bit looks up a registered name.
func (r *Registry) Bit(name string) (int, bool) {
	if name == Wildcard {
		return r.WildcardBit(), true
	}
	r.mu.RLock()
	bit, ok := r.bits[name]
	r.mu.RUnlock()
	return bit, ok
}

// Name is the inverse of Bit.
func (r *Registry) Name(bit int) (string, bool) {
	if bit == r.WildcardBit() {
		return Wildcard, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if bit < 0 || bit >= len(r.names) {
		return "", false
	}
	return r.names[bit], true
}

// Freeze stops new registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Count excludes the wildcard.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

func (r *Registry) Width() int { return r.width }

func (r *Registry) WildcardBit() int { return r.width - 1 }
