package permission

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownRole is returned when a role name is not one of the closed set.
var ErrUnknownRole = errors.New("unknown role")

// Role is the closed set of principals the portal knows about.
// The zero value is RoleUnknown and never satisfies a check.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleClient
	RoleLawyer
	RoleAdmin
)

var roleNames = [...]string{
	RoleUnknown: "UNKNOWN",
	RoleClient:  "CLIENT",
	RoleLawyer:  "LAWYER",
	RoleAdmin:   "ADMIN",
}

// Roles returns every valid role in declaration order.
func Roles() []Role {
	return []Role{RoleClient, RoleLawyer, RoleAdmin}
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return roleNames[RoleUnknown]
}

// Valid reports whether r is one of CLIENT, LAWYER or ADMIN.
func (r Role) Valid() bool {
	return r >= RoleClient && r <= RoleAdmin
}

// ParseRole maps a wire name (case-insensitive) to a Role.
func ParseRole(name string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "CLIENT":
		return RoleClient, nil
	case "LAWYER":
		return RoleLawyer, nil
	case "ADMIN":
		return RoleAdmin, nil
	default:
		return RoleUnknown, ErrUnknownRole
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, ErrUnknownRole
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// RoleSet is a small set of roles. The empty set means "no role restriction".
type RoleSet uint8

// NewRoleSet builds a set from roles, ignoring invalid entries.
func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		if r.Valid() {
			s |= 1 << r
		}
	}
	return s
}

// ParseRoleSet parses role names into a set. Any unknown name fails the whole set.
func ParseRoleSet(names []string) (RoleSet, error) {
	var s RoleSet
	for _, n := range names {
		r, err := ParseRole(n)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrUnknownRole, n)
		}
		s |= 1 << r
	}
	return s, nil
}

func (s RoleSet) Contains(r Role) bool {
	return r.Valid() && s&(1<<r) != 0
}

func (s RoleSet) Empty() bool {
	return s == 0
}

// Roles returns the members in declaration order.
func (s RoleSet) Roles() []Role {
	out := make([]Role, 0, 3)
	for _, r := range Roles() {
		if s.Contains(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s RoleSet) String() string {
	if s.Empty() {
		return "*authenticated*"
	}
	names := make([]string, 0, 3)
	for _, r := range s.Roles() {
		names = append(names, r.String())
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
