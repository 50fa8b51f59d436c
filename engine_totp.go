package authcore

import (
	"context"
	"time"
)

// VerifyTOTPLogin completes an authenticator step-up. pendingToken is
// the handle returned by [Engine.Login] when the identity has TOTP
// enabled; code is the current authenticator output.
func (e *Engine) VerifyTOTPLogin(ctx context.Context, pendingToken, code string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	identityID, err := e.twoFactor.LookupPendingSession(ctx, nsTOTPSession, pendingToken)
	if err != nil {
		return nil, err
	}

	identity, err := e.lookupIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if !identity.TOTPEnabled || identity.TOTPSecret == nil {
		_ = e.twoFactor.DeletePendingSession(ctx, nsTOTPSession, pendingToken)
		return nil, ErrInvalidOrExpiredSession
	}

	ok, err := e.totp.VerifyCode(*identity.TOTPSecret, code, time.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		exceeded, remaining, limiterErr := e.twoFactor.RecordTOTPFailure(ctx, identityID,
			e.config.TOTP.MaxAttempts, e.config.TOTP.FailWindow)
		if limiterErr != nil {
			return nil, limiterErr
		}
		if exceeded {
			_ = e.twoFactor.DeletePendingSession(ctx, nsTOTPSession, pendingToken)
			e.emitAudit(ctx, auditEventTwoFactorExceeded, false, identityID, "", ErrTooManyAttempts, nil)
			return nil, withRetryAfter(ErrTooManyAttempts, e.config.TOTP.FailWindow)
		}
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, identityID, "", ErrInvalidCode, nil)
		return nil, withRemaining(ErrInvalidCode, remaining)
	}

	if err := e.twoFactor.ResetTOTPFailures(ctx, identityID); err != nil {
		return nil, err
	}
	if err := e.twoFactor.DeletePendingSession(ctx, nsTOTPSession, pendingToken); err != nil {
		return nil, err
	}

	if !identity.Active {
		return nil, ErrAccountInactive
	}

	e.emitAudit(ctx, auditEventTwoFactorSuccess, true, identityID, "", nil, map[string]string{
		"method": string(TwoFactorTOTP),
	})

	return e.completeLogin(ctx, identity)
}

// SetupTOTP begins authenticator enrollment. The fresh secret is staged
// in the cache only; the identity is untouched until
// [Engine.ConfirmTOTPSetup] proves the user captured it.
func (e *Engine) SetupTOTP(ctx context.Context, identityID int64) (*TOTPSetup, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	identity, err := e.lookupIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if identity.TOTPEnabled {
		return nil, ErrTOTPAlreadyEnabled
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := e.twoFactor.StageTOTPSecret(ctx, identityID, secret, e.config.TOTP.SetupTTL); err != nil {
		return nil, err
	}

	uri := e.totp.ProvisionURI(secret, identity.Email)
	e.emitAudit(ctx, auditEventTOTPSetupRequested, true, identityID, "", nil, nil)

	return &TOTPSetup{
		Secret:    secret,
		URI:       uri,
		QRPayload: uri,
	}, nil
}

// ConfirmTOTPSetup verifies code against the staged secret and, on
// success, persists the secret and enables the authenticator.
func (e *Engine) ConfirmTOTPSetup(ctx context.Context, identityID int64, code string) error {
	if err := e.ready(); err != nil {
		return err
	}

	identity, err := e.lookupIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if identity.TOTPEnabled {
		return ErrTOTPAlreadyEnabled
	}

	secret, err := e.twoFactor.StagedTOTPSecret(ctx, identityID)
	if err != nil {
		return err
	}
	if secret == "" {
		return ErrTOTPSetupNotStarted
	}

	ok, err := e.totp.VerifyCode(secret, code, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}

	if err := e.store.SetTOTP(ctx, identityID, secret); err != nil {
		return wrapStoreErr(err)
	}
	if err := e.twoFactor.DeleteStagedTOTPSecret(ctx, identityID); err != nil {
		return err
	}

	e.securityNotice(ctx, identity, "totp_enabled")
	e.emitAudit(ctx, auditEventTOTPEnabled, true, identityID, "", nil, nil)
	return nil
}

// DisableTOTP turns the authenticator off. The caller proves control
// with either the account password or a current code; OAuth-only
// identities have no password and must supply the code.
func (e *Engine) DisableTOTP(ctx context.Context, identityID int64, plainPassword, code string) error {
	if err := e.ready(); err != nil {
		return err
	}

	identity, err := e.lookupIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if !identity.TOTPEnabled || identity.TOTPSecret == nil {
		return ErrTOTPNotEnabled
	}

	authorized := false
	if code != "" {
		ok, err := e.totp.VerifyCode(*identity.TOTPSecret, code, time.Now())
		if err != nil {
			return err
		}
		authorized = ok
	}
	if !authorized && plainPassword != "" && identity.PasswordHash != nil {
		authorized = e.passwordHash.Verify(plainPassword, *identity.PasswordHash)
	}
	if !authorized {
		if identity.PasswordHash == nil {
			return ErrInvalidCode
		}
		return ErrInvalidCredentials
	}

	if err := e.store.ClearTOTP(ctx, identityID); err != nil {
		return wrapStoreErr(err)
	}
	_ = e.twoFactor.ResetTOTPFailures(ctx, identityID)

	e.securityNotice(ctx, identity, "totp_disabled")
	e.emitAudit(ctx, auditEventTOTPDisabled, true, identityID, "", nil, nil)
	return nil
}
