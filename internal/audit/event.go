package audit

import "time"

// Kind names what happened.
type Kind string

const (
	KindAccessDenied      Kind = "access_denied"
	KindRateLimited       Kind = "rate_limit_triggered"
	KindSignInSuccess     Kind = "signin_success"
	KindSignInFailure     Kind = "signin_failure"
	KindSignInRateLimited Kind = "signin_rate_limited"
	KindSignOut           Kind = "signout"
	KindSignOutAll        Kind = "signout_all"
)

// Event is one security-relevant occurrence. Error carries a stable label,
// never a raw error message.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Kind      Kind              `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Role      string            `json:"role,omitempty"`
	Path      string            `json:"path,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
