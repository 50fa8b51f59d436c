package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kynesys/authcore/token"
)

const revocationKeyPrefix = "blacklist"

// revocationRegistry marks individual tokens revoked until their natural
// expiry. Entries are keyed by the full token string and carry a TTL
// equal to the token's remaining lifetime, so the registry stays bounded
// without a sweeper.
type revocationRegistry struct {
	redis  *redis.Client
	tokens *token.Manager
}

func newRevocationRegistry(redisClient *redis.Client, tokens *token.Manager) *revocationRegistry {
	return &revocationRegistry{
		redis:  redisClient,
		tokens: tokens,
	}
}

func revocationKey(tokenStr string) string {
	return revocationKeyPrefix + ":" + tokenStr
}

// Revoke blacklists tokenStr for its remaining lifetime. An already
// expired token is a no-op; a token that fails signature verification is
// rejected.
func (r *revocationRegistry) Revoke(ctx context.Context, tokenStr string) error {
	expiresAt, err := r.tokens.DecodeExpiry(tokenStr)
	if err != nil {
		return err
	}

	remaining := time.Until(expiresAt)
	if remaining <= 0 {
		return nil
	}

	if err := r.redis.Set(ctx, revocationKey(tokenStr), "1", remaining).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether tokenStr has an active blacklist entry.
func (r *revocationRegistry) IsRevoked(ctx context.Context, tokenStr string) (bool, error) {
	_, err := r.redis.Get(ctx, revocationKey(tokenStr)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return true, nil
}
