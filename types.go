package authcore

import (
	"context"
	"time"
)

// Role is the closed role enumeration. Roles are ordered; use
// [Role.AtLeast] for containment checks.
type Role string

const (
	// RoleUser is the default role for every new identity.
	RoleUser Role = "user"
	// RoleAdmin is an elevated role.
	RoleAdmin Role = "admin"
	// RoleSuperadmin is the highest role.
	RoleSuperadmin Role = "superadmin"
)

func (r Role) level() int {
	switch r {
	case RoleUser:
		return 1
	case RoleAdmin:
		return 2
	case RoleSuperadmin:
		return 3
	default:
		return 0
	}
}

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool { return r.level() > 0 }

// AtLeast reports whether r grants at least the privileges of other.
func (r Role) AtLeast(other Role) bool {
	return r.level() > 0 && r.level() >= other.level()
}

// Identity is the authenticated principal as the durable store holds it.
// A nil PasswordHash marks an OAuth-only identity.
type Identity struct {
	ID            int64
	Username      string
	Email         string
	PasswordHash  *string
	Role          Role
	Active        bool
	EmailVerified bool
	TwoFAEnabled  bool
	TOTPEnabled   bool
	TOTPSecret    *string
	OAuthProvider *string
	OAuthID       *string
	AvatarURL     *string
	LastLoginAt   *time.Time
}

// IsAdmin reports whether the identity holds admin or superadmin.
func (i *Identity) IsAdmin() bool { return i.Role.AtLeast(RoleAdmin) }

// IsSuperadmin reports whether the identity holds superadmin.
func (i *Identity) IsSuperadmin() bool { return i.Role.AtLeast(RoleSuperadmin) }

// OAuthOnly reports whether the identity cannot authenticate by password.
func (i *Identity) OAuthOnly() bool { return i.PasswordHash == nil }

// CreateOAuthIdentity is the input for [IdentityStore.CreateOAuth]. The
// identity is created with no password and the default role.
type CreateOAuthIdentity struct {
	Username      string
	Email         string
	Provider      string
	ProviderID    string
	AvatarURL     string
	EmailVerified bool
}

// OAuthLink attaches a provider identity to an existing local identity.
// AvatarURL backfills only when the identity has none; MarkVerified flips
// email_verified true and never false.
type OAuthLink struct {
	Provider     string
	ProviderID   string
	AvatarURL    string
	MarkVerified bool
}

// IdentityStore is the durable-store contract the caller must implement.
// Lookups return [ErrIdentityNotFound] on a miss; Create-style calls
// return [ErrIdentityExists] on unique-constraint violations. A pgx
// implementation ships in store/postgres.
type IdentityStore interface {
	GetByID(ctx context.Context, id int64) (*Identity, error)
	GetByUsername(ctx context.Context, username string) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	GetByOAuth(ctx context.Context, provider, providerID string) (*Identity, error)
	CreateOAuth(ctx context.Context, in CreateOAuthIdentity) (*Identity, error)
	LinkOAuth(ctx context.Context, id int64, link OAuthLink) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	SetTwoFactor(ctx context.Context, id int64, enabled bool) error
	SetTOTP(ctx context.Context, id int64, secret string) error
	ClearTOTP(ctx context.Context, id int64) error
	SetEmailVerified(ctx context.Context, id int64, verified bool) error
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
}

// Notifier delivers outbound mail. Security notices are fire-and-forget:
// the Engine logs delivery failures and proceeds. Two-factor codes and
// verification/reset links are load-bearing and their delivery errors
// surface to the caller.
type Notifier interface {
	SendTwoFactorCode(ctx context.Context, email, username, code string) error
	SendPasswordReset(ctx context.Context, email, username, resetToken string) error
	SendEmailVerification(ctx context.Context, email, username, verifyToken string) error
	SendSecurityNotice(ctx context.Context, email, username, event string) error
}

// TwoFactorMethod identifies the step-up channel of a pending login.
type TwoFactorMethod string

const (
	// TwoFactorEmail is the emailed one-time-code channel.
	TwoFactorEmail TwoFactorMethod = "email"
	// TwoFactorTOTP is the authenticator-app channel.
	TwoFactorTOTP TwoFactorMethod = "totp"
)

// LoginResult is returned by [Engine.Login] and the two-factor verify
// calls. Either both tokens are set, or TwoFactorRequired is true and
// PendingToken holds the opaque handle for the verify step.
type LoginResult struct {
	AccessToken  string
	RefreshToken string

	TwoFactorRequired bool
	TwoFactorMethod   TwoFactorMethod
	PendingToken      string
}

// TOTPSetup is returned by [Engine.SetupTOTP]. QRPayload is the string a
// client renders as a QR code (the otpauth:// URI); the secret is staged
// and the identity untouched until [Engine.ConfirmTOTPSetup].
type TOTPSetup struct {
	Secret    string
	URI       string
	QRPayload string
}

// OAuthProfile carries the identity claims asserted by an external OAuth
// provider after the transport layer has completed the code exchange.
type OAuthProfile struct {
	Provider      string
	ProviderID    string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
	AvatarURL     string
}
