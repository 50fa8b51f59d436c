package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a session record does not exist or is not
// owned by the given identity.
var ErrNotFound = errors.New("session not found")

// ErrRedisUnavailable wraps Redis transport failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	recordKeyPrefix = "session"
	indexKeyPrefix  = "user_sessions"
)

// Record describes one active login session.
type Record struct {
	ID         string    `json:"id"`
	IdentityID int64     `json:"identity_id"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Device     string    `json:"device"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Registry stores session records in Redis with a per-identity index
// set. Records expire with the refresh-token lifetime; the index is
// pruned lazily on List.
type Registry struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRegistry returns a Registry whose records live for ttl.
func NewRegistry(redisClient *redis.Client, ttl time.Duration) *Registry {
	return &Registry{
		redis: redisClient,
		ttl:   ttl,
	}
}

// ID derives the session identifier from an access token. The token
// itself never reaches Redis.
func ID(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return hex.EncodeToString(sum[:])[:32]
}

func recordKey(id string) string {
	return recordKeyPrefix + ":" + id
}

func indexKey(identityID int64) string {
	return indexKeyPrefix + ":" + strconv.FormatInt(identityID, 10)
}

// Register stores a record for accessToken. Registering the same token
// twice overwrites the previous record under the same ID.
func (r *Registry) Register(ctx context.Context, identityID int64, accessToken, ip, userAgent string) (*Record, error) {
	now := time.Now().UTC()
	record := &Record{
		ID:         ID(accessToken),
		IdentityID: identityID,
		IP:         ip,
		UserAgent:  userAgent,
		Device:     deviceClass(userAgent),
		CreatedAt:  now,
		LastSeenAt: now,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, recordKey(record.ID), data, r.ttl)
	pipe.SAdd(ctx, indexKey(identityID), record.ID)
	pipe.Expire(ctx, indexKey(identityID), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return record, nil
}

// Get returns the record for id, enforcing ownership by identityID.
func (r *Registry) Get(ctx context.Context, identityID int64, id string) (*Record, error) {
	data, err := r.redis.Get(ctx, recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, ErrNotFound
	}
	if record.IdentityID != identityID {
		return nil, ErrNotFound
	}
	return &record, nil
}

// Touch refreshes LastSeenAt and extends the record TTL.
func (r *Registry) Touch(ctx context.Context, identityID int64, id string) error {
	record, err := r.Get(ctx, identityID, id)
	if err != nil {
		return err
	}

	record.LastSeenAt = time.Now().UTC()
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := r.redis.Set(ctx, recordKey(id), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// List returns the identity's live records, most recently used first,
// and prunes index entries whose records have expired.
func (r *Registry) List(ctx context.Context, identityID int64) ([]*Record, error) {
	ids, err := r.redis.SMembers(ctx, indexKey(identityID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	records := make([]*Record, 0, len(ids))
	var stale []interface{}
	for _, id := range ids {
		record, err := r.Get(ctx, identityID, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				stale = append(stale, id)
				continue
			}
			return nil, err
		}
		records = append(records, record)
	}

	if len(stale) > 0 {
		_ = r.redis.SRem(ctx, indexKey(identityID), stale...).Err()
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].LastSeenAt.After(records[j].LastSeenAt)
	})
	return records, nil
}

// Revoke deletes a single record. Revoking an absent or foreign record
// returns ErrNotFound.
func (r *Registry) Revoke(ctx context.Context, identityID int64, id string) error {
	if _, err := r.Get(ctx, identityID, id); err != nil {
		return err
	}

	pipe := r.redis.TxPipeline()
	pipe.Del(ctx, recordKey(id))
	pipe.SRem(ctx, indexKey(identityID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RevokeAll deletes every record of the identity except the one named by
// keepID ("" keeps nothing). It returns the number of records removed.
func (r *Registry) RevokeAll(ctx context.Context, identityID int64, keepID string) (int, error) {
	ids, err := r.redis.SMembers(ctx, indexKey(identityID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	removed := 0
	touched := 0
	pipe := r.redis.TxPipeline()
	for _, id := range ids {
		if id == keepID {
			continue
		}
		// Stale index ids (record already expired) are dropped but not
		// counted as revoked sessions.
		if _, err := r.Get(ctx, identityID, id); err == nil {
			pipe.Del(ctx, recordKey(id))
			removed++
		} else if !errors.Is(err, ErrNotFound) {
			return 0, err
		}
		pipe.SRem(ctx, indexKey(identityID), id)
		touched++
	}
	if touched == 0 {
		return 0, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return removed, nil
}

// deviceClass buckets a User-Agent into mobile, tablet, desktop, other
// or unknown. It is a coarse hint for session listings, not a parser.
func deviceClass(userAgent string) string {
	if userAgent == "" {
		return "unknown"
	}

	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		return "mobile"
	case strings.Contains(ua, "windows") || strings.Contains(ua, "macintosh") ||
		strings.Contains(ua, "x11") || strings.Contains(ua, "linux"):
		return "desktop"
	default:
		return "other"
	}
}
