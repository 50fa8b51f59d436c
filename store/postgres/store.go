// Package postgres implements the identity-store contract on top of
// pgx. It owns SQL and row mapping only; policy stays in the engine.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kynesys/authcore"
)

const uniqueViolationCode = "23505"

// DB is the subset of pgxpool.Pool the store needs. pgxmock satisfies
// it too, which is what the tests use.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a pgx-backed [authcore.IdentityStore].
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

const identityColumns = `id, username, email, password_hash, role, is_active,
	email_verified, two_fa_enabled, totp_enabled, totp_secret,
	oauth_provider, oauth_id, avatar_url, last_login_at`

func scanIdentity(row pgx.Row) (*authcore.Identity, error) {
	var identity authcore.Identity
	err := row.Scan(
		&identity.ID,
		&identity.Username,
		&identity.Email,
		&identity.PasswordHash,
		&identity.Role,
		&identity.Active,
		&identity.EmailVerified,
		&identity.TwoFAEnabled,
		&identity.TOTPEnabled,
		&identity.TOTPSecret,
		&identity.OAuthProvider,
		&identity.OAuthID,
		&identity.AvatarURL,
		&identity.LastLoginAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authcore.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	return &identity, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*authcore.Identity, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	return scanIdentity(row)
}

func (s *Store) GetByUsername(ctx context.Context, username string) (*authcore.Identity, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE username = $1`, username)
	return scanIdentity(row)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*authcore.Identity, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE email = $1`, email)
	return scanIdentity(row)
}

func (s *Store) GetByOAuth(ctx context.Context, provider, providerID string) (*authcore.Identity, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE oauth_provider = $1 AND oauth_id = $2`,
		provider, providerID)
	return scanIdentity(row)
}

func (s *Store) CreateOAuth(ctx context.Context, in authcore.CreateOAuthIdentity) (*authcore.Identity, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO identities (
			username, email, password_hash, role, is_active, email_verified,
			oauth_provider, oauth_id, avatar_url, created_at, updated_at
		) VALUES ($1, $2, NULL, $3, TRUE, $4, $5, $6, NULLIF($7, ''), now(), now())
		RETURNING `+identityColumns,
		in.Username, in.Email, string(authcore.RoleUser), in.EmailVerified,
		in.Provider, in.ProviderID, in.AvatarURL)

	identity, err := scanIdentity(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, authcore.ErrIdentityExists
		}
		return nil, err
	}
	return identity, nil
}

func (s *Store) LinkOAuth(ctx context.Context, id int64, link authcore.OAuthLink) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE identities SET
			oauth_provider = $2,
			oauth_id = $3,
			avatar_url = COALESCE(avatar_url, NULLIF($4, '')),
			email_verified = email_verified OR $5,
			updated_at = now()
		WHERE id = $1`,
		id, link.Provider, link.ProviderID, link.AvatarURL, link.MarkVerified)
	if err != nil {
		return fmt.Errorf("link oauth: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrIdentityNotFound
	}
	return nil
}

func (s *Store) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return s.exec(ctx,
		`UPDATE identities SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, passwordHash)
}

func (s *Store) SetTwoFactor(ctx context.Context, id int64, enabled bool) error {
	return s.exec(ctx,
		`UPDATE identities SET two_fa_enabled = $2, updated_at = now() WHERE id = $1`,
		id, enabled)
}

func (s *Store) SetTOTP(ctx context.Context, id int64, secret string) error {
	return s.exec(ctx,
		`UPDATE identities SET totp_enabled = TRUE, totp_secret = $2, updated_at = now() WHERE id = $1`,
		id, secret)
}

func (s *Store) ClearTOTP(ctx context.Context, id int64) error {
	return s.exec(ctx,
		`UPDATE identities SET totp_enabled = FALSE, totp_secret = NULL, updated_at = now() WHERE id = $1`,
		id)
}

func (s *Store) SetEmailVerified(ctx context.Context, id int64, verified bool) error {
	return s.exec(ctx,
		`UPDATE identities SET email_verified = $2, updated_at = now() WHERE id = $1`,
		id, verified)
}

func (s *Store) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	return s.exec(ctx,
		`UPDATE identities SET last_login_at = $2, updated_at = now() WHERE id = $1`,
		id, at)
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrIdentityNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
