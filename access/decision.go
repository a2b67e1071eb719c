package access

import (
	"errors"

	"github.com/MrEthical07/lexguard/permission"
	"github.com/MrEthical07/lexguard/session"
)

var (
	// ErrUnauthenticated means the request carries no valid session.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the session's role is not allowed.
	ErrForbidden = errors.New("forbidden")
)

// Outcome is the result of a session requirement check.
type Outcome uint8

const (
	Allowed Outcome = iota + 1
	Unauthenticated
	Forbidden
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Err maps the outcome to its sentinel error; Allowed maps to nil.
func (o Outcome) Err() error {
	switch o {
	case Allowed:
		return nil
	case Forbidden:
		return ErrForbidden
	default:
		return ErrUnauthenticated
	}
}

// Decision carries the outcome and, when Allowed, the unchanged session.
type Decision struct {
	Outcome Outcome
	Session *session.Session
}

// Decide checks sess against allowed. An empty allowed set only requires
// authentication. Decide has no side effects; redirects and status codes
// are the caller's concern.
func Decide(sess *session.Session, allowed permission.RoleSet) Decision {
	if sess == nil {
		return Decision{Outcome: Unauthenticated}
	}
	if !allowed.Empty() && !allowed.Contains(sess.Role) {
		return Decision{Outcome: Forbidden}
	}
	return Decision{Outcome: Allowed, Session: sess}
}

// RequireSession is the error-returning form of [Decide].
func RequireSession(sess *session.Session, allowed ...permission.Role) (*session.Session, error) {
	d := Decide(sess, permission.NewRoleSet(allowed...))
	if err := d.Outcome.Err(); err != nil {
		return nil, err
	}
	return d.Session, nil
}
