package authcore

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

type mockIdentityStore struct {
	mu         sync.Mutex
	identities map[int64]*Identity
	nextID     int64

	getErr        error
	createErr     error
	updateErr     error
	lastLoginErr  error

	getByUsernameCalls   int
	getByEmailCalls      int
	createOAuthCalls     int
	linkOAuthCalls       int
	updatePasswordCalls  int
	updateLastLoginCalls int
}

func newMockStore() *mockIdentityStore {
	return &mockIdentityStore{
		identities: make(map[int64]*Identity),
		nextID:     1,
	}
}

func (m *mockIdentityStore) add(identity Identity) *Identity {
	m.mu.Lock()
	defer m.mu.Unlock()

	if identity.ID == 0 {
		identity.ID = m.nextID
	}
	if identity.ID >= m.nextID {
		m.nextID = identity.ID + 1
	}
	if identity.Role == "" {
		identity.Role = RoleUser
	}
	stored := identity
	m.identities[stored.ID] = &stored
	return &stored
}

func (m *mockIdentityStore) snapshot(id int64) (*Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.identities[id]
	if !ok {
		return nil, false
	}
	clone := *identity
	return &clone, true
}

func (m *mockIdentityStore) GetByID(ctx context.Context, id int64) (*Identity, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	identity, ok := m.snapshot(id)
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return identity, nil
}

func (m *mockIdentityStore) GetByUsername(ctx context.Context, username string) (*Identity, error) {
	m.mu.Lock()
	m.getByUsernameCalls++
	m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, identity := range m.identities {
		if identity.Username == username {
			clone := *identity
			return &clone, nil
		}
	}
	return nil, ErrIdentityNotFound
}

func (m *mockIdentityStore) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	m.mu.Lock()
	m.getByEmailCalls++
	m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, identity := range m.identities {
		if identity.Email == email {
			clone := *identity
			return &clone, nil
		}
	}
	return nil, ErrIdentityNotFound
}

func (m *mockIdentityStore) GetByOAuth(ctx context.Context, provider, providerID string) (*Identity, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, identity := range m.identities {
		if identity.OAuthProvider != nil && *identity.OAuthProvider == provider &&
			identity.OAuthID != nil && *identity.OAuthID == providerID {
			clone := *identity
			return &clone, nil
		}
	}
	return nil, ErrIdentityNotFound
}

func (m *mockIdentityStore) CreateOAuth(ctx context.Context, in CreateOAuthIdentity) (*Identity, error) {
	m.mu.Lock()
	m.createOAuthCalls++
	m.mu.Unlock()

	if m.createErr != nil {
		return nil, m.createErr
	}

	m.mu.Lock()
	for _, existing := range m.identities {
		if existing.Username == in.Username || existing.Email == in.Email {
			m.mu.Unlock()
			return nil, ErrIdentityExists
		}
	}
	m.mu.Unlock()

	provider := in.Provider
	providerID := in.ProviderID
	identity := Identity{
		Username:      in.Username,
		Email:         in.Email,
		Role:          RoleUser,
		Active:        true,
		EmailVerified: in.EmailVerified,
		OAuthProvider: &provider,
		OAuthID:       &providerID,
	}
	if in.AvatarURL != "" {
		avatar := in.AvatarURL
		identity.AvatarURL = &avatar
	}
	return m.add(identity), nil
}

func (m *mockIdentityStore) LinkOAuth(ctx context.Context, id int64, link OAuthLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linkOAuthCalls++

	identity, ok := m.identities[id]
	if !ok {
		return ErrIdentityNotFound
	}

	provider := link.Provider
	providerID := link.ProviderID
	identity.OAuthProvider = &provider
	identity.OAuthID = &providerID
	if link.AvatarURL != "" && identity.AvatarURL == nil {
		avatar := link.AvatarURL
		identity.AvatarURL = &avatar
	}
	if link.MarkVerified {
		identity.EmailVerified = true
	}
	return nil
}

func (m *mockIdentityStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatePasswordCalls++

	if m.updateErr != nil {
		return m.updateErr
	}
	identity, ok := m.identities[id]
	if !ok {
		return ErrIdentityNotFound
	}
	identity.PasswordHash = &passwordHash
	return nil
}

func (m *mockIdentityStore) SetTwoFactor(ctx context.Context, id int64, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return m.updateErr
	}
	identity, ok := m.identities[id]
	if !ok {
		return ErrIdentityNotFound
	}
	identity.TwoFAEnabled = enabled
	return nil
}

func (m *mockIdentityStore) SetTOTP(ctx context.Context, id int64, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return m.updateErr
	}
	identity, ok := m.identities[id]
	if !ok {
		return ErrIdentityNotFound
	}
	identity.TOTPEnabled = true
	identity.TOTPSecret = &secret
	return nil
}

func (m *mockIdentityStore) ClearTOTP(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.identities[id]
	if !ok {
		return ErrIdentityNotFound
	}
	identity.TOTPEnabled = false
	identity.TOTPSecret = nil
	return nil
}

func (m *mockIdentityStore) SetEmailVerified(ctx context.Context, id int64, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.identities[id]
	if !ok {
		return ErrIdentityNotFound
	}
	identity.EmailVerified = verified
	return nil
}

func (m *mockIdentityStore) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateLastLoginCalls++

	if m.lastLoginErr != nil {
		return m.lastLoginErr
	}
	identity, ok := m.identities[id]
	if !ok {
		return ErrIdentityNotFound
	}
	stamp := at
	identity.LastLoginAt = &stamp
	return nil
}

type mockNotifier struct {
	mu sync.Mutex

	codes        []string
	resetTokens  []string
	verifyTokens []string
	notices      []string

	codeErr   error
	resetErr  error
	verifyErr error
	noticeErr error
}

func (n *mockNotifier) SendTwoFactorCode(ctx context.Context, email, username, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.codeErr != nil {
		return n.codeErr
	}
	n.codes = append(n.codes, code)
	return nil
}

func (n *mockNotifier) SendPasswordReset(ctx context.Context, email, username, resetToken string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.resetErr != nil {
		return n.resetErr
	}
	n.resetTokens = append(n.resetTokens, resetToken)
	return nil
}

func (n *mockNotifier) SendEmailVerification(ctx context.Context, email, username, verifyToken string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.verifyErr != nil {
		return n.verifyErr
	}
	n.verifyTokens = append(n.verifyTokens, verifyToken)
	return nil
}

func (n *mockNotifier) SendSecurityNotice(ctx context.Context, email, username, event string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.noticeErr != nil {
		return n.noticeErr
	}
	n.notices = append(n.notices, event)
	return nil
}

func (n *mockNotifier) lastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.codes) == 0 {
		t.Fatal("no two-factor code delivered")
	}
	return n.codes[len(n.codes)-1]
}

func (n *mockNotifier) lastResetToken(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.resetTokens) == 0 {
		t.Fatal("no reset token delivered")
	}
	return n.resetTokens[len(n.resetTokens)-1]
}

func (n *mockNotifier) lastVerifyToken(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.verifyTokens) == 0 {
		t.Fatal("no verification token delivered")
	}
	return n.verifyTokens[len(n.verifyTokens)-1]
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.SigningKey = []byte(strings.Repeat("k", 32))
	cfg.Password.BcryptCost = bcrypt.MinCost
	return cfg
}

func newTestEngine(t *testing.T, rdb *redis.Client, store *mockIdentityStore, notifier Notifier) *Engine {
	t.Helper()

	builder := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithIdentityStore(store)
	if notifier != nil {
		builder = builder.WithNotifier(notifier)
	}

	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func hashFor(t *testing.T, plain string) string {
	t.Helper()

	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt hash failed: %v", err)
	}
	return string(hashed)
}

func seedPasswordIdentity(store *mockIdentityStore, t *testing.T, username, email, plain string) *Identity {
	t.Helper()

	hash := hashFor(t, plain)
	return store.add(Identity{
		Username:      username,
		Email:         email,
		PasswordHash:  &hash,
		Role:          RoleUser,
		Active:        true,
		EmailVerified: true,
	})
}
