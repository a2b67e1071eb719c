package lexguard

import (
	"errors"

	"github.com/MrEthical07/lexguard/access"
)

var (
	// ErrUnauthenticated is returned when a request carries no valid session.
	ErrUnauthenticated = access.ErrUnauthenticated
	// ErrForbidden is returned when the session's role may not reach the resource.
	ErrForbidden = access.ErrForbidden
	// ErrInvalidCredentials is returned by SignIn for any unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned by a UserProvider when no account matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrSignInRateLimited is returned when an identifier exhausted its sign-in attempts.
	ErrSignInRateLimited = errors.New("sign-in rate limited")
	// ErrUserProviderUnavailable wraps user lookup failures.
	ErrUserProviderUnavailable = errors.New("user provider unavailable")
	// ErrSessionUnavailable wraps session resolution and storage failures.
	ErrSessionUnavailable = errors.New("session backend unavailable")
	// ErrSessionCreationFailed is returned when a signed-in session cannot be persisted or signed.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrRateLimitUnavailable wraps rate-limit store failures.
	ErrRateLimitUnavailable = errors.New("rate limit backend unavailable")
	// ErrAccountRoleInvalid is returned when a stored account carries an unknown role.
	ErrAccountRoleInvalid = errors.New("invalid account role")
	// ErrEngineNotReady is returned by operations whose collaborator was not configured.
	ErrEngineNotReady = errors.New("engine not initialized")
)
