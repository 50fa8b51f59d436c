package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	loginAttemptsKeyPrefix = "login_attempts"
	loginLockoutKeyPrefix  = "login_lockout"
)

// loginLimiter tracks consecutive password failures per identity and
// escalates to a lockout marker once the configured maximum is reached.
// The failure counter and the lockout marker live under separate keys so
// an expired lockout starts from a clean counter.
type loginLimiter struct {
	redis  *redis.Client
	config LoginConfig
}

func newLoginLimiter(redisClient *redis.Client, cfg LoginConfig) *loginLimiter {
	return &loginLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

func loginAttemptsKey(identityID int64) string {
	return loginAttemptsKeyPrefix + ":" + strconv.FormatInt(identityID, 10)
}

func loginLockoutKey(identityID int64) string {
	return loginLockoutKeyPrefix + ":" + strconv.FormatInt(identityID, 10)
}

// LockedOut reports whether a lockout marker is active and, if so, how
// long until it expires.
func (l *loginLimiter) LockedOut(ctx context.Context, identityID int64) (bool, time.Duration, error) {
	key := loginLockoutKey(identityID)

	_, err := l.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	ttl, err := l.redis.PTTL(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if ttl < 0 {
		ttl = l.config.LockoutWindow
	}
	return true, ttl, nil
}

// RecordFailure increments the failure counter and reports whether the
// identity just crossed into lockout, along with the attempts remaining
// when it did not.
func (l *loginLimiter) RecordFailure(ctx context.Context, identityID int64) (locked bool, remaining int, err error) {
	key := loginAttemptsKey(identityID)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.LockoutWindow).Err(); err != nil {
			return false, 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}

	if count >= int64(l.config.MaxAttempts) {
		if err := l.redis.Set(ctx, loginLockoutKey(identityID), "1", l.config.LockoutWindow).Err(); err != nil {
			return false, 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
		if err := l.redis.Del(ctx, key).Err(); err != nil {
			return false, 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
		return true, 0, nil
	}

	return false, l.config.MaxAttempts - int(count), nil
}

// Reset clears both the counter and any lockout marker.
func (l *loginLimiter) Reset(ctx context.Context, identityID int64) error {
	err := l.redis.Del(ctx, loginAttemptsKey(identityID), loginLockoutKey(identityID)).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}
