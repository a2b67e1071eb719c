package lexguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/lexguard/session"
)

const signInKeyPrefix = "signin:"

// SignIn checks email and password and, on success, stores a new session
// and returns its signed token.
//
// Unknown emails and wrong passwords both return ErrInvalidCredentials
// after the same hashing work. Each email may attempt SignIn.MaxAttempts
// times per SignIn.Window; further attempts return ErrSignInRateLimited
// without touching the user provider.
func (e *Engine) SignIn(ctx context.Context, email, password string) (SignInResult, error) {
	if e == nil || e.userProvider == nil || e.hasher == nil {
		return SignInResult{}, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if email == "" || password == "" {
		e.metricInc(MetricSignInFailure)
		return SignInResult{}, ErrInvalidCredentials
	}

	throttleKey := signInKeyPrefix + email
	d, err := e.limiter.Allow(ctx, throttleKey, e.config.SignIn.MaxAttempts, e.config.SignIn.Window)
	if err != nil && !d.Allowed {
		e.metricInc(MetricRateLimitStoreError)
		e.emitAudit(ctx, AuditSignInFailure, false, auditFields{}, ErrRateLimitUnavailable, nil)
		return SignInResult{}, fmt.Errorf("%w: %v", ErrRateLimitUnavailable, err)
	}
	if !d.Allowed {
		e.metricInc(MetricSignInRateLimited)
		e.logger.Warn("signin.throttled", slog.Duration("retry_after", d.RetryAfter))
		e.emitAudit(ctx, AuditSignInRateLimited, false, auditFields{}, ErrSignInRateLimited, func() map[string]string {
			return map[string]string{"retry_after": d.RetryAfter.String()}
		})
		return SignInResult{}, ErrSignInRateLimited
	}

	user, err := e.userProvider.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.hasher.VerifyDummy(password)
			return SignInResult{}, e.signInFailed(ctx, "", ErrInvalidCredentials)
		}
		e.logger.Error("signin.user_provider.fail", slog.String("error", err.Error()))
		return SignInResult{}, e.signInFailed(ctx, "", fmt.Errorf("%w: %v", ErrUserProviderUnavailable, err))
	}

	ok, err := e.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		e.logger.Error("signin.hash.invalid", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		return SignInResult{}, e.signInFailed(ctx, user.ID, ErrInvalidCredentials)
	}
	if !ok {
		return SignInResult{}, e.signInFailed(ctx, user.ID, ErrInvalidCredentials)
	}
	if !user.Role.Valid() {
		return SignInResult{}, e.signInFailed(ctx, user.ID, ErrAccountRoleInvalid)
	}
	e.upgradeHash(ctx, user, password)

	now := e.clock.Now()
	sess := session.New(user.ID, user.Role, now, e.config.Session.TTL)
	if err := e.sessions.Save(ctx, sess, e.config.Session.TTL); err != nil {
		e.logger.Error("signin.session.save.fail", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		return SignInResult{}, e.signInFailed(ctx, user.ID, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err))
	}

	token, err := e.tokens.Issue(sess)
	if err != nil {
		// The stored session is unreachable without a token; drop it.
		_ = e.sessions.Delete(ctx, sess.ID)
		return SignInResult{}, e.signInFailed(ctx, user.ID, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err))
	}

	if err := e.limiter.Reset(ctx, throttleKey); err != nil {
		e.logger.Warn("signin.throttle.reset.fail", slog.String("error", err.Error()))
	}

	e.metricInc(MetricSignInSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, AuditSignInSuccess, true, auditFields{
		userID:    user.ID,
		sessionID: sess.ID,
		role:      user.Role.String(),
	}, nil, nil)

	return SignInResult{
		Token:     token,
		Session:   sess,
		ExpiresAt: time.Unix(sess.ExpiresAt, 0),
	}, nil
}

// upgradeHash rehashes password when user's stored hash is weaker than the
// configured parameters. Failures are logged and never fail the sign-in.
func (e *Engine) upgradeHash(ctx context.Context, user UserRecord, password string) {
	updater, ok := e.userProvider.(PasswordHashUpdater)
	if !ok || !e.hasher.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := e.hasher.Hash(password)
	if err == nil {
		err = updater.UpdatePasswordHash(ctx, user.ID, hash)
	}
	if err != nil {
		e.logger.Warn("signin.hash.upgrade.fail", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		return
	}
	e.metricInc(MetricPasswordRehashed)
	e.logger.Info("signin.hash.upgraded", slog.String("user_id", user.ID))
}

func (e *Engine) signInFailed(ctx context.Context, userID string, err error) error {
	e.metricInc(MetricSignInFailure)
	e.emitAudit(ctx, AuditSignInFailure, false, auditFields{userID: userID}, err, nil)
	return err
}

// SignOut deletes one session. Unknown sessions are not an error.
func (e *Engine) SignOut(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if sessionID == "" {
		return nil
	}
	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, AuditSignOut, true, auditFields{sessionID: sessionID}, nil, nil)
	return nil
}

// SignOutAll deletes every session of userID and returns how many existed.
func (e *Engine) SignOutAll(ctx context.Context, userID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	e.metricInc(MetricSignOutAll)
	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, AuditSignOutAll, true, auditFields{userID: userID}, nil, func() map[string]string {
		return map[string]string{"sessions": fmt.Sprint(n)}
	})
	return n, nil
}

// HashPassword hashes a password with the engine's Argon2id parameters,
// for seeding accounts.
func (e *Engine) HashPassword(password string) (string, error) {
	if e == nil || e.hasher == nil {
		return "", ErrEngineNotReady
	}
	return e.hasher.Hash(password)
}

// SessionCookie builds the cookie carrying res.Token.
func (e *Engine) SessionCookie(res SignInResult) *http.Cookie {
	return &http.Cookie{
		Name:     e.config.Session.CookieName,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.ExpiresAt,
		HttpOnly: true,
		Secure:   e.config.Session.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearSessionCookie expires the session cookie.
func (e *Engine) ClearSessionCookie() *http.Cookie {
	return &http.Cookie{
		Name:     e.config.Session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   e.config.Session.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
