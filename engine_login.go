package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kynesys/authcore/internal"
	"github.com/kynesys/authcore/token"
)

// Login authenticates identifier (username or email) with a password.
// Identities with a second factor enabled get a pending result carrying
// an opaque handle for [Engine.VerifyTwoFactor] or
// [Engine.VerifyTOTPLogin]; all others get a token pair directly.
//
// Unknown identifiers and wrong passwords are indistinguishable to the
// caller, and the unknown-identifier path burns a bcrypt comparison so
// the two cost about the same.
func (e *Engine) Login(ctx context.Context, identifier, plainPassword string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	identity, err := e.resolveIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			e.passwordHash.CompareDummy(plainPassword)
			e.emitAudit(ctx, auditEventLoginFailure, false, 0, "", ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	locked, retryAfter, err := e.loginLimiter.LockedOut(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	if locked {
		e.emitAudit(ctx, auditEventLoginLocked, false, identity.ID, "", ErrAccountLocked, nil)
		return nil, withRetryAfter(ErrAccountLocked, retryAfter)
	}

	if !identity.Active {
		e.emitAudit(ctx, auditEventLoginFailure, false, identity.ID, "", ErrAccountInactive, nil)
		return nil, ErrAccountInactive
	}
	if identity.PasswordHash == nil {
		e.emitAudit(ctx, auditEventLoginFailure, false, identity.ID, "", ErrOAuthOnlyAccount, nil)
		return nil, ErrOAuthOnlyAccount
	}

	if !e.passwordHash.Verify(plainPassword, *identity.PasswordHash) {
		nowLocked, remaining, limiterErr := e.loginLimiter.RecordFailure(ctx, identity.ID)
		if limiterErr != nil {
			return nil, limiterErr
		}
		if nowLocked {
			e.emitAudit(ctx, auditEventLoginLocked, false, identity.ID, "", ErrAccountLocked, nil)
			return nil, withRetryAfter(ErrAccountLocked, e.config.Login.LockoutWindow)
		}
		e.emitAudit(ctx, auditEventLoginFailure, false, identity.ID, "", ErrInvalidCredentials, nil)
		return nil, withRemaining(ErrInvalidCredentials, remaining)
	}

	if err := e.loginLimiter.Reset(ctx, identity.ID); err != nil {
		return nil, err
	}

	switch {
	case identity.TOTPEnabled:
		return e.beginTOTPStepUp(ctx, identity)
	case identity.TwoFAEnabled:
		return e.beginEmailStepUp(ctx, identity)
	default:
		return e.completeLogin(ctx, identity)
	}
}

func (e *Engine) resolveIdentifier(ctx context.Context, identifier string) (*Identity, error) {
	identity, err := e.store.GetByUsername(ctx, identifier)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, ErrIdentityNotFound) {
		return nil, wrapStoreErr(err)
	}

	if !strings.Contains(identifier, "@") {
		return nil, ErrIdentityNotFound
	}
	identity, err = e.store.GetByEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, err
		}
		return nil, wrapStoreErr(err)
	}
	return identity, nil
}

func (e *Engine) beginTOTPStepUp(ctx context.Context, identity *Identity) (*LoginResult, error) {
	handle, err := e.twoFactor.CreatePendingSession(ctx, nsTOTPSession, identity.ID, e.config.TOTP.LoginTTL)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventTwoFactorRequired, true, identity.ID, "", nil, map[string]string{
		"method": string(TwoFactorTOTP),
	})

	return &LoginResult{
		TwoFactorRequired: true,
		TwoFactorMethod:   TwoFactorTOTP,
		PendingToken:      handle,
	}, nil
}

func (e *Engine) beginEmailStepUp(ctx context.Context, identity *Identity) (*LoginResult, error) {
	if err := e.requireNotifier(); err != nil {
		return nil, err
	}

	code, err := internal.NewOTP(e.config.TwoFactor.CodeDigits)
	if err != nil {
		return nil, err
	}
	if err := e.twoFactor.SaveCode(ctx, identity.ID, code); err != nil {
		return nil, err
	}

	if err := e.notifier.SendTwoFactorCode(ctx, identity.Email, identity.Username, code); err != nil {
		_ = e.twoFactor.DeleteCode(ctx, identity.ID)
		e.logger.Error("two-factor code delivery failed",
			zap.Int64("identity_id", identity.ID),
			zap.Error(err),
		)
		return nil, ErrTwoFactorDeliveryFailed
	}

	handle, err := e.twoFactor.CreatePendingSession(ctx, nsEmailSession, identity.ID, e.config.TwoFactor.CodeTTL)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventTwoFactorRequired, true, identity.ID, "", nil, map[string]string{
		"method": string(TwoFactorEmail),
	})

	return &LoginResult{
		TwoFactorRequired: true,
		TwoFactorMethod:   TwoFactorEmail,
		PendingToken:      handle,
	}, nil
}

// completeLogin issues the token pair, registers the session and stamps
// last_login. Session registration and the last_login update are
// best-effort; a Redis or store hiccup there does not fail a login that
// already passed every check.
func (e *Engine) completeLogin(ctx context.Context, identity *Identity) (*LoginResult, error) {
	extra := token.Extra{Username: identity.Username, Role: string(identity.Role)}

	accessToken, err := e.tokens.Issue(token.Access, identity.ID, extra)
	if err != nil {
		return nil, err
	}
	refreshToken, err := e.tokens.Issue(token.Refresh, identity.ID, extra)
	if err != nil {
		return nil, err
	}

	if err := e.store.UpdateLastLogin(ctx, identity.ID, time.Now().UTC()); err != nil {
		e.logger.Warn("last login update failed",
			zap.Int64("identity_id", identity.ID),
			zap.Error(err),
		)
	}

	var sessionID string
	record, err := e.sessions.Register(ctx, identity.ID, accessToken,
		clientIPFromContext(ctx), userAgentFromContext(ctx))
	if err != nil {
		e.logger.Warn("session registration failed",
			zap.Int64("identity_id", identity.ID),
			zap.Error(err),
		)
	} else {
		sessionID = record.ID
	}

	e.emitAudit(ctx, auditEventLoginSuccess, true, identity.ID, sessionID, nil, nil)

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}
