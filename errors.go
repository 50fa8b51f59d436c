package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/kynesys/authcore/token"
)

var (
	// ErrInvalidCredentials is returned for a wrong password and for an
	// unknown identifier alike; callers must not be able to tell the two
	// apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout marker is active. The
	// wrapping [AuthError] carries the retry-after duration.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountInactive is returned for deactivated identities.
	ErrAccountInactive = errors.New("account inactive")
	// ErrOAuthOnlyAccount is returned when password authentication is
	// attempted against an identity that has no password hash.
	ErrOAuthOnlyAccount = errors.New("account uses oauth sign-in")
	// ErrInvalidOrExpiredToken covers bad signatures, past expiry, kind
	// mismatches, and revoked tokens.
	ErrInvalidOrExpiredToken = token.ErrInvalidOrExpired
	// ErrInvalidOrExpiredSession is returned when a pending two-factor
	// session token resolves to nothing.
	ErrInvalidOrExpiredSession = errors.New("invalid or expired session")
	// ErrInvalidCode is returned for a wrong one-time code. The wrapping
	// [AuthError] carries the remaining-attempts count.
	ErrInvalidCode = errors.New("invalid code")
	// ErrTooManyAttempts is returned once the two-factor attempt counter
	// reaches its maximum. The wrapping [AuthError] carries retry-after.
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrTwoFactorDeliveryFailed is returned when the notifier cannot
	// deliver a two-factor code; the flow cannot proceed without it.
	ErrTwoFactorDeliveryFailed = errors.New("two-factor code delivery failed")
	// ErrAccountLinkConflict is returned when OAuth linking would attach a
	// provider identity to an account it must not claim.
	ErrAccountLinkConflict = errors.New("account link conflict")
	// ErrSessionNotFound is returned when a session record is absent or
	// not owned by the given identity.
	ErrSessionNotFound = errors.New("session not found")
	// ErrIdentityNotFound is the store-level miss; it never escapes
	// authentication paths (see ErrInvalidCredentials).
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrIdentityExists is returned by stores on unique-constraint
	// violations (username or email).
	ErrIdentityExists = errors.New("identity already exists")
	// ErrEmailNotVerified is returned when enabling email two-factor on an
	// identity whose address has not been confirmed.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrTOTPAlreadyEnabled is returned by SetupTOTP when the identity has
	// an authenticator configured.
	ErrTOTPAlreadyEnabled = errors.New("totp already enabled")
	// ErrTOTPNotEnabled is returned by DisableTOTP when there is nothing
	// to disable.
	ErrTOTPNotEnabled = errors.New("totp not enabled")
	// ErrTOTPSetupNotStarted is returned when confirming a setup that was
	// never staged or whose staging window expired.
	ErrTOTPSetupNotStarted = errors.New("no totp setup in progress")
	// ErrEngineNotReady guards Engine methods called on a zero value or
	// with a missing collaborator.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrCacheUnavailable wraps Redis transport failures.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrStoreUnavailable wraps identity-store transport failures.
	ErrStoreUnavailable = errors.New("identity store unavailable")
)

// AuthError decorates a sentinel error with structured metadata: the
// remaining-attempts hint on ErrInvalidCredentials/ErrInvalidCode and the
// retry-after duration on ErrAccountLocked/ErrTooManyAttempts.
// errors.Is against the sentinel still matches.
type AuthError struct {
	Err               error
	RemainingAttempts int
	RetryAfter        time.Duration
}

func (e *AuthError) Error() string {
	switch {
	case e.RetryAfter > 0:
		return fmt.Sprintf("%v (retry after %s)", e.Err, e.RetryAfter)
	case e.RemainingAttempts > 0:
		return fmt.Sprintf("%v (%d attempts remaining)", e.Err, e.RemainingAttempts)
	default:
		return e.Err.Error()
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// RemainingAttempts extracts the remaining-attempts hint from err, if any.
func RemainingAttempts(err error) (int, bool) {
	var ae *AuthError
	if errors.As(err, &ae) && ae.RemainingAttempts > 0 {
		return ae.RemainingAttempts, true
	}
	return 0, false
}

// RetryAfter extracts the retry-after duration from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var ae *AuthError
	if errors.As(err, &ae) && ae.RetryAfter > 0 {
		return ae.RetryAfter, true
	}
	return 0, false
}

func withRemaining(sentinel error, n int) error {
	return &AuthError{Err: sentinel, RemainingAttempts: n}
}

func withRetryAfter(sentinel error, d time.Duration) error {
	return &AuthError{Err: sentinel, RetryAfter: d}
}
