package authcore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kynesys/authcore/password"
	"github.com/kynesys/authcore/session"
	"github.com/kynesys/authcore/token"
)

// Engine is the authentication core. Construct it through [Builder]; a
// built Engine is immutable and safe for concurrent use.
type Engine struct {
	config Config
	logger *zap.Logger

	store    IdentityStore
	notifier Notifier

	tokens       *token.Manager
	passwordHash *password.Hasher
	totp         *totpManager
	revocations  *revocationRegistry
	loginLimiter *loginLimiter
	twoFactor    *twoFactorStore
	sessions     *session.Registry
	audit        *auditDispatcher
}

// Close flushes the audit dispatcher. The Redis client and identity
// store are caller-owned and stay open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events lost to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.tokens == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) requireNotifier() error {
	if e.notifier == nil {
		return ErrEngineNotReady
	}
	return nil
}

// lookupIdentity resolves id against the store, translating transport
// failures to ErrStoreUnavailable.
func (e *Engine) lookupIdentity(ctx context.Context, id int64) (*Identity, error) {
	identity, err := e.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, err
		}
		return nil, wrapStoreErr(err)
	}
	return identity, nil
}

func wrapStoreErr(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return &storeErr{err: err}
}

type storeErr struct {
	err error
}

func (e *storeErr) Error() string { return ErrStoreUnavailable.Error() + ": " + e.err.Error() }

func (e *storeErr) Unwrap() error { return ErrStoreUnavailable }

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, identityID int64, sessionID string, auditErr error, metadata map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		IdentityID: identityID,
		SessionID:  sessionID,
		IP:         clientIPFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if auditErr != nil {
		event.Error = auditErr.Error()
	}

	e.audit.Emit(event)
}

// securityNotice delivers a fire-and-forget notice. Failures are logged,
// never surfaced.
func (e *Engine) securityNotice(ctx context.Context, identity *Identity, event string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.SendSecurityNotice(ctx, identity.Email, identity.Username, event); err != nil {
		e.logger.Warn("security notice delivery failed",
			zap.Int64("identity_id", identity.ID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}
