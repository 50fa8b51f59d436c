package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kynesys/authcore/internal"
)

const (
	twoFactorCodeKeyPrefix     = "2fa"
	twoFactorAttemptsKeyPrefix = "2fa_attempts"
	totpSetupKeyPrefix         = "totp_setup"
	totpFailKeyPrefix          = "totp_fail"

	// Pending-session namespaces. Each namespace is its own key space so
	// an email-OTP session handle can never be replayed against the TOTP
	// verify step or vice versa.
	nsEmailSession = "2fa_session"
	nsTOTPSession  = "totp_login"
)

// twoFactorStore holds all transient step-up state: emailed codes, their
// attempt counters, opaque pending-login sessions, staged TOTP secrets
// and the TOTP failure counter. Everything expires by TTL; nothing here
// survives the step-up window it belongs to.
type twoFactorStore struct {
	redis  *redis.Client
	config TwoFactorConfig
}

func newTwoFactorStore(redisClient *redis.Client, cfg TwoFactorConfig) *twoFactorStore {
	return &twoFactorStore{
		redis:  redisClient,
		config: cfg,
	}
}

func twoFactorCodeKey(identityID int64) string {
	return twoFactorCodeKeyPrefix + ":" + strconv.FormatInt(identityID, 10)
}

func twoFactorAttemptsKey(identityID int64) string {
	return twoFactorAttemptsKeyPrefix + ":" + strconv.FormatInt(identityID, 10)
}

func totpSetupKey(identityID int64) string {
	return totpSetupKeyPrefix + ":" + strconv.FormatInt(identityID, 10)
}

func totpFailKey(identityID int64) string {
	return totpFailKeyPrefix + ":" + strconv.FormatInt(identityID, 10)
}

func pendingSessionKey(namespace, handle string) string {
	return namespace + ":" + handle
}

/*
====================================
EMAILED CODES
====================================
*/

func (s *twoFactorStore) SaveCode(ctx context.Context, identityID int64, code string) error {
	if err := s.redis.Set(ctx, twoFactorCodeKey(identityID), code, s.config.CodeTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// GetCode returns the outstanding code for the identity, or "" when none
// is outstanding.
func (s *twoFactorStore) GetCode(ctx context.Context, identityID int64) (string, error) {
	code, err := s.redis.Get(ctx, twoFactorCodeKey(identityID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return code, nil
}

func (s *twoFactorStore) DeleteCode(ctx context.Context, identityID int64) error {
	if err := s.redis.Del(ctx, twoFactorCodeKey(identityID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

/*
====================================
CODE ATTEMPT COUNTER
====================================
*/

func (s *twoFactorStore) AttemptsExceeded(ctx context.Context, identityID int64) (bool, time.Duration, error) {
	key := twoFactorAttemptsKey(identityID)

	raw, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	count, err := strconv.Atoi(raw)
	if err != nil || count < s.config.MaxAttempts {
		return false, 0, nil
	}

	ttl, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if ttl < 0 {
		ttl = s.config.AttemptWindow
	}
	return true, ttl, nil
}

// RecordFailure increments the code attempt counter and reports whether
// the identity just exhausted its attempts, along with the attempts
// remaining when it did not.
func (s *twoFactorStore) RecordFailure(ctx context.Context, identityID int64) (exceeded bool, remaining int, err error) {
	key := twoFactorAttemptsKey(identityID)

	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if count == 1 {
		if err := s.redis.Expire(ctx, key, s.config.AttemptWindow).Err(); err != nil {
			return false, 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}

	if count >= int64(s.config.MaxAttempts) {
		return true, 0, nil
	}
	return false, s.config.MaxAttempts - int(count), nil
}

func (s *twoFactorStore) ResetAttempts(ctx context.Context, identityID int64) error {
	if err := s.redis.Del(ctx, twoFactorAttemptsKey(identityID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

/*
====================================
PENDING LOGIN SESSIONS
====================================
*/

// CreatePendingSession mints an opaque handle mapping to identityID in
// the given namespace for ttl.
func (s *twoFactorStore) CreatePendingSession(ctx context.Context, namespace string, identityID int64, ttl time.Duration) (string, error) {
	handle, err := internal.NewOpaqueToken()
	if err != nil {
		return "", err
	}

	key := pendingSessionKey(namespace, handle)
	if err := s.redis.Set(ctx, key, strconv.FormatInt(identityID, 10), ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return handle, nil
}

// LookupPendingSession resolves a handle to the identity it was minted
// for. A miss returns ErrInvalidOrExpiredSession.
func (s *twoFactorStore) LookupPendingSession(ctx context.Context, namespace, handle string) (int64, error) {
	raw, err := s.redis.Get(ctx, pendingSessionKey(namespace, handle)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrInvalidOrExpiredSession
		}
		return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	identityID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrInvalidOrExpiredSession
	}
	return identityID, nil
}

func (s *twoFactorStore) DeletePendingSession(ctx context.Context, namespace, handle string) error {
	if err := s.redis.Del(ctx, pendingSessionKey(namespace, handle)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

/*
====================================
STAGED TOTP SETUP
====================================
*/

func (s *twoFactorStore) StageTOTPSecret(ctx context.Context, identityID int64, secret string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, totpSetupKey(identityID), secret, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// StagedTOTPSecret returns the staged secret, or "" when no setup is in
// progress.
func (s *twoFactorStore) StagedTOTPSecret(ctx context.Context, identityID int64) (string, error) {
	secret, err := s.redis.Get(ctx, totpSetupKey(identityID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return secret, nil
}

func (s *twoFactorStore) DeleteStagedTOTPSecret(ctx context.Context, identityID int64) error {
	if err := s.redis.Del(ctx, totpSetupKey(identityID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

/*
====================================
TOTP FAILURE COUNTER
====================================
*/

// RecordTOTPFailure increments the authenticator failure counter kept
// under its own window, separate from the emailed-code counter.
func (s *twoFactorStore) RecordTOTPFailure(ctx context.Context, identityID int64, maxAttempts int, window time.Duration) (exceeded bool, remaining int, err error) {
	key := totpFailKey(identityID)

	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if count == 1 {
		if err := s.redis.Expire(ctx, key, window).Err(); err != nil {
			return false, 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}

	if count >= int64(maxAttempts) {
		return true, 0, nil
	}
	return false, maxAttempts - int(count), nil
}

func (s *twoFactorStore) ResetTOTPFailures(ctx context.Context, identityID int64) error {
	if err := s.redis.Del(ctx, totpFailKey(identityID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}
