package authcore

import (
	"context"
	"crypto/subtle"

	"go.uber.org/zap"

	"github.com/kynesys/authcore/internal"
)

// VerifyTwoFactor completes an email-OTP step-up. pendingToken is the
// handle returned by [Engine.Login]; code is the emailed one-time code.
// A correct code consumes the code, the attempt counter and the pending
// session, then issues the token pair.
func (e *Engine) VerifyTwoFactor(ctx context.Context, pendingToken, code string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	identityID, err := e.twoFactor.LookupPendingSession(ctx, nsEmailSession, pendingToken)
	if err != nil {
		return nil, err
	}

	exceeded, retryAfter, err := e.twoFactor.AttemptsExceeded(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if exceeded {
		_ = e.twoFactor.DeletePendingSession(ctx, nsEmailSession, pendingToken)
		e.emitAudit(ctx, auditEventTwoFactorExceeded, false, identityID, "", ErrTooManyAttempts, nil)
		return nil, withRetryAfter(ErrTooManyAttempts, retryAfter)
	}

	stored, err := e.twoFactor.GetCode(ctx, identityID)
	if err != nil {
		return nil, err
	}

	if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		nowExceeded, remaining, limiterErr := e.twoFactor.RecordFailure(ctx, identityID)
		if limiterErr != nil {
			return nil, limiterErr
		}
		if nowExceeded {
			_ = e.twoFactor.DeletePendingSession(ctx, nsEmailSession, pendingToken)
			e.emitAudit(ctx, auditEventTwoFactorExceeded, false, identityID, "", ErrTooManyAttempts, nil)
			return nil, withRetryAfter(ErrTooManyAttempts, e.config.TwoFactor.AttemptWindow)
		}
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, identityID, "", ErrInvalidCode, nil)
		return nil, withRemaining(ErrInvalidCode, remaining)
	}

	if err := e.twoFactor.DeleteCode(ctx, identityID); err != nil {
		return nil, err
	}
	if err := e.twoFactor.ResetAttempts(ctx, identityID); err != nil {
		return nil, err
	}
	if err := e.twoFactor.DeletePendingSession(ctx, nsEmailSession, pendingToken); err != nil {
		return nil, err
	}

	identity, err := e.lookupIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if !identity.Active {
		return nil, ErrAccountInactive
	}

	e.emitAudit(ctx, auditEventTwoFactorSuccess, true, identityID, "", nil, map[string]string{
		"method": string(TwoFactorEmail),
	})

	return e.completeLogin(ctx, identity)
}

// EnableTwoFactor turns on the email-OTP step-up. The identity's email
// must be verified first.
func (e *Engine) EnableTwoFactor(ctx context.Context, identityID int64) error {
	if err := e.ready(); err != nil {
		return err
	}

	identity, err := e.lookupIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if !identity.EmailVerified {
		return ErrEmailNotVerified
	}

	if err := e.store.SetTwoFactor(ctx, identityID, true); err != nil {
		return wrapStoreErr(err)
	}

	e.securityNotice(ctx, identity, "two_factor_enabled")
	return nil
}

// DisableTwoFactor turns off the email-OTP step-up after verifying the
// account password. OAuth-only identities have no password and may
// disable directly. Any outstanding code and attempt counter are
// cleared.
func (e *Engine) DisableTwoFactor(ctx context.Context, identityID int64, plainPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	identity, err := e.lookupIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if identity.PasswordHash != nil && !e.passwordHash.Verify(plainPassword, *identity.PasswordHash) {
		return ErrInvalidCredentials
	}

	if err := e.store.SetTwoFactor(ctx, identityID, false); err != nil {
		return wrapStoreErr(err)
	}
	_ = e.twoFactor.DeleteCode(ctx, identityID)
	_ = e.twoFactor.ResetAttempts(ctx, identityID)

	e.securityNotice(ctx, identity, "two_factor_disabled")
	return nil
}

// SendTwoFactorTestCode delivers a fresh code outside a login flow so
// the user can verify the channel works. The code is stored like a real
// one and expires with the usual TTL.
func (e *Engine) SendTwoFactorTestCode(ctx context.Context, identityID int64) error {
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

	code, err := internal.NewOTP(e.config.TwoFactor.CodeDigits)
	if err != nil {
		return err
	}
	if err := e.twoFactor.SaveCode(ctx, identityID, code); err != nil {
		return err
	}

	if err := e.notifier.SendTwoFactorCode(ctx, identity.Email, identity.Username, code); err != nil {
		_ = e.twoFactor.DeleteCode(ctx, identityID)
		e.logger.Error("two-factor test code delivery failed",
			zap.Int64("identity_id", identityID),
			zap.Error(err),
		)
		return ErrTwoFactorDeliveryFailed
	}
	return nil
}
