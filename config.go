package authcore

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries every tunable of the engine. Populate it directly, start
// from [DefaultConfig], or load the environment with [ConfigFromEnv];
// then pass it to [Builder.WithConfig]. Configs are treated as immutable
// after Build.
type Config struct {
	Token     TokenConfig
	Password  PasswordConfig
	Login     LoginConfig
	TwoFactor TwoFactorConfig
	TOTP      TOTPConfig
	Audit     AuditConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig holds the signing secret and per-kind token lifetimes.
type TokenConfig struct {
	SigningKey []byte
	Issuer     string

	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	PasswordResetTTL     time.Duration
	EmailVerificationTTL time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the bcrypt cost factor. Zero selects the bcrypt
// default.
type PasswordConfig struct {
	BcryptCost int
}

/*
====================================
LOGIN GUARD CONFIG
====================================
*/

// LoginConfig tunes the brute-force lockout state machine. A lockout
// marker set after MaxAttempts failures blocks authentication for
// LockoutWindow regardless of the submitted secret.
type LoginConfig struct {
	MaxAttempts   int
	LockoutWindow time.Duration
}

/*
====================================
TWO-FACTOR (EMAIL OTP) CONFIG
====================================
*/

// TwoFactorConfig tunes the emailed one-time-code channel.
type TwoFactorConfig struct {
	CodeDigits    int
	CodeTTL       time.Duration
	MaxAttempts   int
	AttemptWindow time.Duration
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig tunes the authenticator-app channel. Skew is the number of
// 30-second steps tolerated on either side of the current one.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Skew      int
	Algorithm string // "SHA1" (default), "SHA256", "SHA512"

	SetupTTL    time.Duration
	LoginTTL    time.Duration
	MaxAttempts int
	FailWindow  time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig tunes the async security-event dispatcher. Disabled by
// default; events are dropped, not blocked on, when the buffer is full.
type AuditConfig struct {
	Enabled bool
	Buffer  int
}

// DefaultConfig returns the defaults every section falls back to. The
// signing key has no default and must be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			Issuer:               "authcore",
			AccessTTL:            30 * time.Minute,
			RefreshTTL:           7 * 24 * time.Hour,
			PasswordResetTTL:     time.Hour,
			EmailVerificationTTL: 24 * time.Hour,
		},
		Password: PasswordConfig{},
		Login: LoginConfig{
			MaxAttempts:   5,
			LockoutWindow: 15 * time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			CodeDigits:    6,
			CodeTTL:       10 * time.Minute,
			MaxAttempts:   5,
			AttemptWindow: 15 * time.Minute,
		},
		TOTP: TOTPConfig{
			Issuer:      "authcore",
			Digits:      6,
			Period:      30,
			Skew:        1,
			Algorithm:   "SHA1",
			SetupTTL:    10 * time.Minute,
			LoginTTL:    5 * time.Minute,
			MaxAttempts: 5,
			FailWindow:  5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled: false,
			Buffer:  256,
		},
	}
}

type envConfig struct {
	SigningKey string        `env:"AUTHCORE_SIGNING_KEY,notEmpty"`
	Issuer     string        `env:"AUTHCORE_ISSUER" envDefault:"authcore"`
	AccessTTL  time.Duration `env:"AUTHCORE_ACCESS_TTL" envDefault:"30m"`
	RefreshTTL time.Duration `env:"AUTHCORE_REFRESH_TTL" envDefault:"168h"`

	BcryptCost int `env:"AUTHCORE_BCRYPT_COST" envDefault:"0"`

	LoginMaxAttempts   int           `env:"AUTHCORE_LOGIN_MAX_ATTEMPTS" envDefault:"5"`
	LoginLockoutWindow time.Duration `env:"AUTHCORE_LOGIN_LOCKOUT_WINDOW" envDefault:"15m"`

	TwoFactorCodeTTL     time.Duration `env:"AUTHCORE_2FA_CODE_TTL" envDefault:"10m"`
	TwoFactorMaxAttempts int           `env:"AUTHCORE_2FA_MAX_ATTEMPTS" envDefault:"5"`

	TOTPIssuer string `env:"AUTHCORE_TOTP_ISSUER"`

	AuditEnabled bool `env:"AUTHCORE_AUDIT_ENABLED" envDefault:"false"`
}

// ConfigFromEnv builds a Config from AUTHCORE_* environment variables on
// top of [DefaultConfig]. AUTHCORE_SIGNING_KEY is required.
func ConfigFromEnv() (Config, error) {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()
	cfg.Token.SigningKey = []byte(ec.SigningKey)
	cfg.Token.Issuer = ec.Issuer
	cfg.Token.AccessTTL = ec.AccessTTL
	cfg.Token.RefreshTTL = ec.RefreshTTL
	cfg.Password.BcryptCost = ec.BcryptCost
	cfg.Login.MaxAttempts = ec.LoginMaxAttempts
	cfg.Login.LockoutWindow = ec.LoginLockoutWindow
	cfg.TwoFactor.CodeTTL = ec.TwoFactorCodeTTL
	cfg.TwoFactor.MaxAttempts = ec.TwoFactorMaxAttempts
	if ec.TOTPIssuer != "" {
		cfg.TOTP.Issuer = ec.TOTPIssuer
	} else {
		cfg.TOTP.Issuer = ec.Issuer
	}
	cfg.Audit.Enabled = ec.AuditEnabled

	return cfg, cfg.Validate()
}

// Validate checks cross-field invariants. Build calls it; callers
// assembling configs by hand may call it early for better errors.
func (c Config) Validate() error {
	if len(c.Token.SigningKey) < 32 {
		return errors.New("Token.SigningKey must be at least 32 bytes")
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.Token.PasswordResetTTL <= 0 || c.Token.EmailVerificationTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.Token.AccessTTL >= c.Token.RefreshTTL {
		return errors.New("Token.AccessTTL must be shorter than Token.RefreshTTL")
	}
	if c.Login.MaxAttempts <= 0 || c.Login.LockoutWindow <= 0 {
		return errors.New("invalid Login configuration")
	}
	if c.TwoFactor.CodeDigits < 6 || c.TwoFactor.CodeDigits > 10 {
		return errors.New("TwoFactor.CodeDigits must be between 6 and 10")
	}
	if c.TwoFactor.CodeTTL <= 0 || c.TwoFactor.MaxAttempts <= 0 || c.TwoFactor.AttemptWindow <= 0 {
		return errors.New("invalid TwoFactor configuration")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 10 {
		return errors.New("TOTP.Digits must be between 6 and 10")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP.Period must be positive")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("TOTP.Skew must be between 0 and 2")
	}
	switch c.TOTP.Algorithm {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("unsupported TOTP.Algorithm")
	}
	if c.TOTP.SetupTTL <= 0 || c.TOTP.LoginTTL <= 0 || c.TOTP.MaxAttempts <= 0 || c.TOTP.FailWindow <= 0 {
		return errors.New("invalid TOTP configuration")
	}
	if c.Audit.Enabled && c.Audit.Buffer <= 0 {
		return errors.New("Audit.Buffer must be positive when audit is enabled")
	}
	return nil
}

func cloneConfig(c Config) Config {
	out := c
	out.Token.SigningKey = cloneBytes(c.Token.SigningKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
