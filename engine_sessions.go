package authcore

import (
	"context"
	"errors"

	"github.com/kynesys/authcore/session"
)

// SessionInfo is one active session as presented to the account holder.
type SessionInfo struct {
	session.Record
	IsCurrent bool
}

// Sessions lists the identity's active sessions, most recently used
// first.
// currentAccessToken may be "" when the caller has no notion of a
// current session.
func (e *Engine) Sessions(ctx context.Context, identityID int64, currentAccessToken string) ([]SessionInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	records, err := e.sessions.List(ctx, identityID)
	if err != nil {
		return nil, err
	}

	currentID := ""
	if currentAccessToken != "" {
		currentID = session.ID(currentAccessToken)
	}

	infos := make([]SessionInfo, 0, len(records))
	for _, record := range records {
		infos = append(infos, SessionInfo{
			Record:    *record,
			IsCurrent: record.ID == currentID,
		})
	}
	return infos, nil
}

// RevokeSession removes one session record by id. The record must
// belong to identityID; anything else is [ErrSessionNotFound]. The
// session's token stays cryptographically valid until expiry unless
// separately revoked.
func (e *Engine) RevokeSession(ctx context.Context, identityID int64, sessionID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	if err := e.sessions.Revoke(ctx, identityID, sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	e.emitAudit(ctx, auditEventSessionRevoked, true, identityID, sessionID, nil, nil)
	return nil
}

// RevokeOtherSessions removes every session of the identity except the
// one derived from currentAccessToken and returns how many were
// removed.
func (e *Engine) RevokeOtherSessions(ctx context.Context, identityID int64, currentAccessToken string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}

	keep := ""
	if currentAccessToken != "" {
		keep = session.ID(currentAccessToken)
	}

	removed, err := e.sessions.RevokeAll(ctx, identityID, keep)
	if err != nil {
		return 0, err
	}

	e.emitAudit(ctx, auditEventSessionsRevokedAll, true, identityID, keep, nil, nil)
	return removed, nil
}

// TouchSession refreshes the last-seen timestamp of the session derived
// from accessToken. The token must still validate.
func (e *Engine) TouchSession(ctx context.Context, accessToken string) error {
	if err := e.ready(); err != nil {
		return err
	}

	claims, err := e.ValidateAccess(ctx, accessToken)
	if err != nil {
		return err
	}

	err = e.sessions.Touch(ctx, claims.Subject, session.ID(accessToken))
	if errors.Is(err, session.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}
