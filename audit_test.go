package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestAuditDispatcherDeliversToSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	dispatcher := newAuditDispatcher(AuditConfig{Enabled: true, Buffer: 8}, sink)

	dispatcher.Emit(AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: auditEventLoginSuccess,
		Success:   true,
	})
	dispatcher.Close()

	var event AuditEvent
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("unmarshal emitted event failed: %v", err)
	}
	if event.EventType != auditEventLoginSuccess || !event.Success {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestAuditDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := blockingSink{release: block}
	dispatcher := newAuditDispatcher(AuditConfig{Enabled: true, Buffer: 1}, sink)

	for i := 0; i < 10; i++ {
		dispatcher.Emit(AuditEvent{EventType: auditEventLoginFailure})
	}
	close(block)
	dispatcher.Close()

	if dispatcher.Dropped() == 0 {
		t.Fatal("expected dropped events with a full buffer")
	}
}

type blockingSink struct {
	release <-chan struct{}
}

func (s blockingSink) Emit(ctx context.Context, event AuditEvent) {
	<-s.release
}

func TestAuditDisabledIsNil(t *testing.T) {
	if dispatcher := newAuditDispatcher(AuditConfig{Enabled: false}, NoOpSink{}); dispatcher != nil {
		t.Fatal("disabled audit should produce a nil dispatcher")
	}

	// Nil receivers are safe everywhere.
	var dispatcher *auditDispatcher
	dispatcher.Emit(AuditEvent{})
	dispatcher.Close()
	if dispatcher.Dropped() != 0 {
		t.Fatal("nil dispatcher has no drops")
	}
}

func TestEngineEmitsAuditEvents(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := newMockStore()
	seedPasswordIdentity(store, t, "alice", "alice@example.com", "correct-password-123")

	var buf bytes.Buffer
	engine, err := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithIdentityStore(store).
		WithAuditSink(NewJSONWriterSink(&buf)).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if _, err := engine.Login(context.Background(), "alice", "correct-password-123"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	engine.Close()

	if !strings.Contains(buf.String(), auditEventLoginSuccess) {
		t.Fatalf("expected a %s event, got %q", auditEventLoginSuccess, buf.String())
	}
}
