package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kynesys/authcore/session"
)

func loginN(t *testing.T, engine *Engine, n int) []*LoginResult {
	t.Helper()

	results := make([]*LoginResult, 0, n)
	for i := 0; i < n; i++ {
		result, err := engine.Login(context.Background(), "alice", "correct-password-123")
		if err != nil {
			t.Fatalf("login %d failed: %v", i+1, err)
		}
		results = append(results, result)
	}
	return results
}

func TestSessionRecordOutlivesAccessToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := newMockStore()
	identity := seedPasswordIdentity(store, t, "alice", "alice@example.com", "correct-password-123")
	engine := newTestEngine(t, rdb, store, nil)
	ctx := context.Background()

	result, err := engine.Login(ctx, "alice", "correct-password-123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	cfg := testConfig()
	key := "session:" + session.ID(result.AccessToken)
	if ttl := mr.TTL(key); ttl != cfg.Token.RefreshTTL {
		t.Fatalf("session record TTL = %s, want the refresh lifetime %s", ttl, cfg.Token.RefreshTTL)
	}

	// The record must still be listable once the access token itself has
	// expired; the login stays live until the refresh token does.
	mr.FastForward(cfg.Token.AccessTTL + time.Minute)
	sessions, err := engine.Sessions(ctx, identity.ID, "")
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected the session to survive access expiry, got %d records", len(sessions))
	}
}

func TestSessionsListAndRevokeOne(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := newMockStore()
	identity := seedPasswordIdentity(store, t, "alice", "alice@example.com", "correct-password-123")
	engine := newTestEngine(t, rdb, store, nil)
	ctx := context.Background()

	results := loginN(t, engine, 3)

	sessions, err := engine.Sessions(ctx, identity.ID, results[2].AccessToken)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}

	if err := engine.RevokeSession(ctx, identity.ID, session.ID(results[0].AccessToken)); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}

	sessions, err = engine.Sessions(ctx, identity.ID, results[2].AccessToken)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions after revoke, got %d", len(sessions))
	}
}

func TestRevokeSessionOwnershipEnforced(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := newMockStore()
	identity := seedPasswordIdentity(store, t, "alice", "alice@example.com", "correct-password-123")
	other := seedPasswordIdentity(store, t, "mallory", "mallory@example.com", "another-password-456")
	engine := newTestEngine(t, rdb, store, nil)
	ctx := context.Background()

	result, err := engine.Login(ctx, "alice", "correct-password-123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	err = engine.RevokeSession(ctx, other.ID, session.ID(result.AccessToken))
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for a foreign session, got %v", err)
	}

	sessions, err := engine.Sessions(ctx, identity.ID, "")
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatal("the session must survive a foreign revoke attempt")
	}
}

func TestRevokeOtherSessionsKeepsCurrent(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := newMockStore()
	identity := seedPasswordIdentity(store, t, "alice", "alice@example.com", "correct-password-123")
	engine := newTestEngine(t, rdb, store, nil)
	ctx := context.Background()

	results := loginN(t, engine, 3)
	current := results[1].AccessToken

	removed, err := engine.RevokeOtherSessions(ctx, identity.ID, current)
	if err != nil {
		t.Fatalf("RevokeOtherSessions failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	sessions, err := engine.Sessions(ctx, identity.ID, current)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 1 || !sessions[0].IsCurrent {
		t.Fatalf("expected only the current session, got %+v", sessions)
	}
}

func TestRegisterSameTokenIsIdempotent(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := newMockStore()
	identity := seedPasswordIdentity(store, t, "alice", "alice@example.com", "correct-password-123")
	engine := newTestEngine(t, rdb, store, nil)
	ctx := context.Background()

	const tokenStr = "static-token-material"
	first, err := engine.sessions.Register(ctx, identity.ID, tokenStr, "1.2.3.4", "ua")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	second, err := engine.sessions.Register(ctx, identity.ID, tokenStr, "1.2.3.4", "ua")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("same token must derive the same id: %s vs %s", first.ID, second.ID)
	}

	records, err := engine.sessions.List(ctx, identity.ID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
}

func TestSessionListPrunesExpired(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := newMockStore()
	identity := seedPasswordIdentity(store, t, "alice", "alice@example.com", "correct-password-123")
	engine := newTestEngine(t, rdb, store, nil)
	ctx := context.Background()

	loginN(t, engine, 2)

	// Hold the index set open while the records expire.
	mr.FastForward(engine.config.Token.RefreshTTL / 2)
	loginN(t, engine, 1)
	mr.FastForward(engine.config.Token.RefreshTTL/2 + time.Second)

	sessions, err := engine.Sessions(ctx, identity.ID, "")
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected the two oldest sessions pruned, got %d", len(sessions))
	}
}

func TestTouchSession(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := newMockStore()
	identity := seedPasswordIdentity(store, t, "alice", "alice@example.com", "correct-password-123")
	engine := newTestEngine(t, rdb, store, nil)
	ctx := context.Background()

	result, err := engine.Login(ctx, "alice", "correct-password-123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := engine.TouchSession(ctx, result.AccessToken); err != nil {
		t.Fatalf("TouchSession failed: %v", err)
	}

	sessions, err := engine.Sessions(ctx, identity.ID, result.AccessToken)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(sessions))
	}
	if sessions[0].LastSeenAt.Before(sessions[0].CreatedAt) {
		t.Fatal("last seen must not precede creation")
	}
}
