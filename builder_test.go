package authcore

import (
	"testing"
)

func TestBuildRequiresRedisAndStore(t *testing.T) {
	_, rdb := newTestRedis(t)

	if _, err := New().WithConfig(testConfig()).WithIdentityStore(newMockStore()).Build(); err == nil {
		t.Fatal("expected an error without redis")
	}
	if _, err := New().WithConfig(testConfig()).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected an error without an identity store")
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	_, rdb := newTestRedis(t)

	cfg := testConfig()
	cfg.Token.SigningKey = []byte("short")

	_, err := New().WithConfig(cfg).WithRedis(rdb).WithIdentityStore(newMockStore()).Build()
	if err == nil {
		t.Fatal("expected a validation error")
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	_, rdb := newTestRedis(t)

	builder := New().WithConfig(testConfig()).WithRedis(rdb).WithIdentityStore(newMockStore())
	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	if _, err := builder.Build(); err == nil {
		t.Fatal("expected an error on a second Build")
	}
}

func TestBuildDetachesFromCallerConfig(t *testing.T) {
	_, rdb := newTestRedis(t)

	cfg := testConfig()
	engine, err := New().WithConfig(cfg).WithRedis(rdb).WithIdentityStore(newMockStore()).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	cfg.Token.SigningKey[0] = 'x'
	if engine.config.Token.SigningKey[0] != 'k' {
		t.Fatal("engine must hold its own copy of the signing key")
	}
}
