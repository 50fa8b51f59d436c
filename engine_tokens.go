package authcore

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kynesys/authcore/session"
	"github.com/kynesys/authcore/token"
)

// ValidateAccess verifies an access token's signature, expiry, kind and
// revocation status and returns its claims.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*token.Claims, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	claims, err := e.tokens.Validate(accessToken, token.Access)
	if err != nil {
		return nil, err
	}

	revoked, err := e.revocations.IsRevoked(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrInvalidOrExpiredToken
	}
	return claims, nil
}

// Refresh exchanges a refresh token for a new pair. The old refresh
// token is revoked first so each one is good for exactly one exchange,
// and the identity is re-read from the store so a deactivation lands
// here at the latest.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	claims, err := e.tokens.Validate(refreshToken, token.Refresh)
	if err != nil {
		e.emitAudit(ctx, auditEventRefreshInvalid, false, 0, "", err, nil)
		return nil, err
	}

	revoked, err := e.revocations.IsRevoked(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if revoked {
		e.emitAudit(ctx, auditEventRefreshInvalid, false, claims.Subject, "", ErrInvalidOrExpiredToken, nil)
		return nil, ErrInvalidOrExpiredToken
	}

	identity, err := e.lookupIdentity(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}
	if !identity.Active {
		return nil, ErrAccountInactive
	}

	if err := e.revocations.Revoke(ctx, refreshToken); err != nil {
		return nil, err
	}

	extra := token.Extra{Username: identity.Username, Role: string(identity.Role)}
	accessToken, err := e.tokens.Issue(token.Access, identity.ID, extra)
	if err != nil {
		return nil, err
	}
	newRefresh, err := e.tokens.Issue(token.Refresh, identity.ID, extra)
	if err != nil {
		return nil, err
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

	e.emitAudit(ctx, auditEventRefreshSuccess, true, identity.ID, sessionID, nil, nil)

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
	}, nil
}

// Logout revokes the given tokens and drops the session record derived
// from the access token. Already-expired tokens are fine; revoking them
// is a no-op.
func (e *Engine) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if err := e.ready(); err != nil {
		return err
	}

	var identityID int64
	if claims, err := e.tokens.ValidateAny(accessToken); err == nil {
		identityID = claims.Subject
	}

	if accessToken != "" {
		if err := e.revocations.Revoke(ctx, accessToken); err != nil {
			return err
		}
	}
	if refreshToken != "" {
		if err := e.revocations.Revoke(ctx, refreshToken); err != nil {
			return err
		}
	}

	if identityID != 0 && accessToken != "" {
		if err := e.sessions.Revoke(ctx, identityID, session.ID(accessToken)); err != nil &&
			!errors.Is(err, session.ErrNotFound) {
			e.logger.Warn("session removal failed",
				zap.Int64("identity_id", identityID),
				zap.Error(err),
			)
		}
	}

	e.emitAudit(ctx, auditEventLogout, true, identityID, "", nil, nil)
	return nil
}

// RequestPasswordReset issues a reset token and mails it. The call is
// silent about unknown addresses: it succeeds without sending anything
// so the API cannot be used to probe registered emails.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireNotifier(); err != nil {
		return err
	}

	identity, err := e.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil
		}
		return wrapStoreErr(err)
	}
	if !identity.Active {
		return nil
	}

	resetToken, err := e.tokens.Issue(token.PasswordReset, identity.ID, token.Extra{})
	if err != nil {
		return err
	}
	if err := e.notifier.SendPasswordReset(ctx, identity.Email, identity.Username, resetToken); err != nil {
		e.logger.Error("password reset delivery failed",
			zap.Int64("identity_id", identity.ID),
			zap.Error(err),
		)
		return err
	}

	e.emitAudit(ctx, auditEventPasswordResetRequest, true, identity.ID, "", nil, nil)
	return nil
}

// ResetPassword consumes a reset token and sets a new password. The
// token is revoked so it works exactly once, every session is dropped,
// and the login failure counter is cleared.
func (e *Engine) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	claims, err := e.tokens.Validate(resetToken, token.PasswordReset)
	if err != nil {
		return err
	}

	revoked, err := e.revocations.IsRevoked(ctx, resetToken)
	if err != nil {
		return err
	}
	if revoked {
		return ErrInvalidOrExpiredToken
	}

	identity, err := e.lookupIdentity(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return err
	}

	hashed, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.store.UpdatePassword(ctx, identity.ID, hashed); err != nil {
		return wrapStoreErr(err)
	}

	if err := e.revocations.Revoke(ctx, resetToken); err != nil {
		return err
	}
	if _, err := e.sessions.RevokeAll(ctx, identity.ID, ""); err != nil {
		e.logger.Warn("session revocation after password reset failed",
			zap.Int64("identity_id", identity.ID),
			zap.Error(err),
		)
	}
	if err := e.loginLimiter.Reset(ctx, identity.ID); err != nil {
		e.logger.Warn("login counter reset failed",
			zap.Int64("identity_id", identity.ID),
			zap.Error(err),
		)
	}

	e.securityNotice(ctx, identity, "password_reset")
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, identity.ID, "", nil, nil)
	return nil
}

// RequestEmailVerification issues a verification token and mails it.
func (e *Engine) RequestEmailVerification(ctx context.Context, identityID int64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireNotifier(); err != nil {
		return err
	}

	identity, err := e.lookupIdentity(ctx, identityID)
	if err != nil {
		return err
	}

	verifyToken, err := e.tokens.Issue(token.EmailVerification, identity.ID, token.Extra{})
	if err != nil {
		return err
	}
	if err := e.notifier.SendEmailVerification(ctx, identity.Email, identity.Username, verifyToken); err != nil {
		e.logger.Error("email verification delivery failed",
			zap.Int64("identity_id", identity.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// ConfirmEmail consumes a verification token and marks the address
// verified. Re-confirming an already verified address is a no-op.
func (e *Engine) ConfirmEmail(ctx context.Context, verifyToken string) error {
	if err := e.ready(); err != nil {
		return err
	}

	claims, err := e.tokens.Validate(verifyToken, token.EmailVerification)
	if err != nil {
		return err
	}

	identity, err := e.lookupIdentity(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return err
	}
	if identity.EmailVerified {
		return nil
	}

	if err := e.store.SetEmailVerified(ctx, identity.ID, true); err != nil {
		return wrapStoreErr(err)
	}

	e.emitAudit(ctx, auditEventEmailVerified, true, identity.ID, "", nil, nil)
	return nil
}
