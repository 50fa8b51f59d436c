package token

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind is the token type discriminator embedded in the "type" claim. A
// token must only be accepted by a validator expecting its exact kind.
type Kind string

const (
	// Access is the short-lived API credential.
	Access Kind = "access"
	// Refresh is the long-lived credential exchanged for new pairs.
	Refresh Kind = "refresh"
	// PasswordReset authorizes a single password reset.
	PasswordReset Kind = "password_reset"
	// EmailVerification authorizes confirming an email address.
	EmailVerification Kind = "email_verification"
)

// ErrInvalidOrExpired is returned for bad signatures, past expiry, a
// malformed subject, or a kind mismatch. Callers get no finer detail.
var ErrInvalidOrExpired = errors.New("invalid or expired token")

// Config holds the signing secret and the per-kind default TTLs.
type Config struct {
	SigningKey []byte
	Issuer     string

	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	PasswordResetTTL     time.Duration
	EmailVerificationTTL time.Duration
}

// Claims is the decoded, verified content of a token. Username and Role
// ride along for convenience and must never substitute for a fresh store
// lookup in authorization-sensitive paths.
type Claims struct {
	Subject   int64
	Kind      Kind
	Username  string
	Role      string
	ExpiresAt time.Time
}

// Extra carries the advisory claims embedded at issue time.
type Extra struct {
	Username string
	Role     string
}

// Manager signs and verifies tokens. It is immutable after construction
// and safe for concurrent use.
type Manager struct {
	config Config
}

type wireClaims struct {
	Kind     string `json:"type"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.SigningKey) < 32 {
		return nil, errors.New("signing key must be at least 32 bytes")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 ||
		cfg.PasswordResetTTL <= 0 || cfg.EmailVerificationTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	return &Manager{config: cfg}, nil
}

// TTL returns the configured default lifetime for kind.
func (m *Manager) TTL(kind Kind) time.Duration {
	switch kind {
	case Access:
		return m.config.AccessTTL
	case Refresh:
		return m.config.RefreshTTL
	case PasswordReset:
		return m.config.PasswordResetTTL
	case EmailVerification:
		return m.config.EmailVerificationTTL
	default:
		return 0
	}
}

// Issue signs a token of the given kind for subject with the kind's
// default TTL.
func (m *Manager) Issue(kind Kind, subject int64, extra Extra) (string, error) {
	return m.IssueWithTTL(kind, subject, extra, m.TTL(kind))
}

// IssueWithTTL signs a token with an explicit lifetime.
func (m *Manager) IssueWithTTL(kind Kind, subject int64, extra Extra, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("unknown token kind or non-positive ttl")
	}

	now := time.Now()
	claims := wireClaims{
		Kind:     string(kind),
		Username: extra.Username,
		Role:     extra.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			// Unique per token so two issues in the same second never
			// collide, which session ids depend on.
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(subject, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(m.config.SigningKey)
}

// Validate verifies signature and expiry and enforces the expected kind.
func (m *Manager) Validate(tokenStr string, expected Kind) (*Claims, error) {
	claims, err := m.parse(tokenStr, true)
	if err != nil {
		return nil, err
	}
	if claims.Kind != expected {
		return nil, ErrInvalidOrExpired
	}
	return claims, nil
}

// ValidateAny verifies signature and expiry without enforcing a kind.
func (m *Manager) ValidateAny(tokenStr string) (*Claims, error) {
	return m.parse(tokenStr, true)
}

// DecodeExpiry verifies the signature but not the expiry and returns the
// token's absolute expiry. The revocation registry uses it to size entry
// TTLs; an expired token decodes successfully here.
func (m *Manager) DecodeExpiry(tokenStr string) (time.Time, error) {
	claims, err := m.parse(tokenStr, false)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt, nil
}

func (m *Manager) parse(tokenStr string, validateClaims bool) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if !validateClaims {
		options = append(options, jwt.WithoutClaimsValidation())
	} else if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &wireClaims{}, func(t *jwt.Token) (interface{}, error) {
		return m.config.SigningKey, nil
	})
	if err != nil {
		return nil, ErrInvalidOrExpired
	}

	wire, ok := parsed.Claims.(*wireClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidOrExpired
	}
	if wire.ExpiresAt == nil {
		return nil, ErrInvalidOrExpired
	}

	subject, err := strconv.ParseInt(wire.Subject, 10, 64)
	if err != nil {
		return nil, ErrInvalidOrExpired
	}

	return &Claims{
		Subject:   subject,
		Kind:      Kind(wire.Kind),
		Username:  wire.Username,
		Role:      wire.Role,
		ExpiresAt: wire.ExpiresAt.Time,
	}, nil
}
