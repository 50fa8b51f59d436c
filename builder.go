package authcore

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kynesys/authcore/password"
	"github.com/kynesys/authcore/session"
	"github.com/kynesys/authcore/token"
)

// Builder assembles an [Engine]. Configure it with the With* methods and
// call [Builder.Build] exactly once.
type Builder struct {
	config Config

	redis    *redis.Client
	store    IdentityStore
	notifier Notifier
	logger   *zap.Logger
	sink     AuditSink

	built bool
}

// New returns a Builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing all transient state. The
// client is caller-owned; [Engine.Close] does not close it.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore sets the durable identity store.
func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.store = store
	return b
}

// WithNotifier sets the outbound-mail delivery. Optional: without it the
// engine still works, but email two-factor, password reset and email
// verification issuing return [ErrEngineNotReady].
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithLogger sets the structured logger. Defaults to zap.NewNop.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit sink and implies Audit.Enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	b.config.Audit.Enabled = true
	return b
}

// Build validates the configuration, wires the collaborators and
// returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("identity store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tokens, err := token.NewManager(token.Config{
		SigningKey:           cfg.Token.SigningKey,
		Issuer:               cfg.Token.Issuer,
		AccessTTL:            cfg.Token.AccessTTL,
		RefreshTTL:           cfg.Token.RefreshTTL,
		PasswordResetTTL:     cfg.Token.PasswordResetTTL,
		EmailVerificationTTL: cfg.Token.EmailVerificationTTL,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{Cost: cfg.Password.BcryptCost})
	if err != nil {
		return nil, err
	}

	b.built = true

	return &Engine{
		config:       cfg,
		logger:       logger,
		store:        b.store,
		notifier:     b.notifier,
		tokens:       tokens,
		passwordHash: hasher,
		totp:         newTOTPManager(cfg.TOTP),
		revocations:  newRevocationRegistry(b.redis, tokens),
		loginLimiter: newLoginLimiter(b.redis, cfg.Login),
		twoFactor:    newTwoFactorStore(b.redis, cfg.TwoFactor),
		sessions:     session.NewRegistry(b.redis, cfg.Token.RefreshTTL),
		audit:        newAuditDispatcher(cfg.Audit, b.sink),
	}, nil
}
