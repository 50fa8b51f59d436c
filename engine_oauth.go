package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

const maxUsernameLen = 42

// GetOrCreateOAuthIdentity resolves an externally asserted profile to a
// local identity, linking or creating as needed. It returns the identity
// and whether it was created by this call.
//
// Resolution order:
//  1. Exact (provider, provider id) match wins.
//  2. An email match links the provider onto the existing identity, but
//     only when the provider asserts the email as verified and the
//     identity has no other provider linked. Either violation is
//     [ErrAccountLinkConflict].
//  3. Otherwise a fresh identity is created with no password, the
//     default role and a username derived from the email local part.
func (e *Engine) GetOrCreateOAuthIdentity(ctx context.Context, profile OAuthProfile) (*Identity, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}

	identity, err := e.store.GetByOAuth(ctx, profile.Provider, profile.ProviderID)
	if err == nil {
		return identity, false, nil
	}
	if !errors.Is(err, ErrIdentityNotFound) {
		return nil, false, wrapStoreErr(err)
	}

	identity, err = e.store.GetByEmail(ctx, profile.Email)
	if err == nil {
		if !profile.EmailVerified {
			return nil, false, ErrAccountLinkConflict
		}
		if identity.OAuthProvider != nil && *identity.OAuthProvider != profile.Provider {
			return nil, false, ErrAccountLinkConflict
		}

		link := OAuthLink{
			Provider:     profile.Provider,
			ProviderID:   profile.ProviderID,
			MarkVerified: true,
		}
		if identity.AvatarURL == nil && profile.AvatarURL != "" {
			link.AvatarURL = profile.AvatarURL
		}
		if err := e.store.LinkOAuth(ctx, identity.ID, link); err != nil {
			return nil, false, wrapStoreErr(err)
		}

		linked, err := e.lookupIdentity(ctx, identity.ID)
		if err != nil {
			return nil, false, err
		}
		e.emitAudit(ctx, auditEventOAuthLinked, true, identity.ID, "", nil, map[string]string{
			"provider": profile.Provider,
		})
		return linked, false, nil
	}
	if !errors.Is(err, ErrIdentityNotFound) {
		return nil, false, wrapStoreErr(err)
	}

	username, err := e.availableUsername(ctx, profile.Email)
	if err != nil {
		return nil, false, err
	}

	created, err := e.store.CreateOAuth(ctx, CreateOAuthIdentity{
		Username:      username,
		Email:         profile.Email,
		Provider:      profile.Provider,
		ProviderID:    profile.ProviderID,
		AvatarURL:     profile.AvatarURL,
		EmailVerified: profile.EmailVerified,
	})
	if err != nil {
		return nil, false, wrapStoreErr(err)
	}

	e.emitAudit(ctx, auditEventOAuthLinked, true, created.ID, "", nil, map[string]string{
		"provider": profile.Provider,
		"created":  "true",
	})
	return created, true, nil
}

// availableUsername derives a username from the email local part and
// appends a random suffix while the candidate is taken.
func (e *Engine) availableUsername(ctx context.Context, email string) (string, error) {
	base := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		base = email[:at]
	}
	base = strings.ToLower(base)
	if len(base) > maxUsernameLen {
		base = base[:maxUsernameLen]
	}

	candidate := base
	for i := 0; i < 10; i++ {
		_, err := e.store.GetByUsername(ctx, candidate)
		if errors.Is(err, ErrIdentityNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", wrapStoreErr(err)
		}

		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		candidate = base + "_" + suffix
		if len(candidate) > maxUsernameLen {
			candidate = candidate[:maxUsernameLen]
		}
	}
	return "", ErrIdentityExists
}

// LoginWithOAuth resolves the profile and issues a token pair directly.
// Second factors do not apply: the external provider already performed
// the interactive authentication.
func (e *Engine) LoginWithOAuth(ctx context.Context, profile OAuthProfile) (*LoginResult, *Identity, error) {
	identity, created, err := e.GetOrCreateOAuthIdentity(ctx, profile)
	if err != nil {
		return nil, nil, err
	}
	if !identity.Active {
		return nil, nil, ErrAccountInactive
	}

	result, err := e.completeLogin(ctx, identity)
	if err != nil {
		return nil, nil, err
	}

	e.emitAudit(ctx, auditEventOAuthLogin, true, identity.ID, "", nil, map[string]string{
		"provider": profile.Provider,
		"created":  boolString(created),
	})
	return result, identity, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
