package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Config holds the bcrypt cost factor.
type Config struct {
	Cost int
}

// Hasher hashes and verifies passwords. It is immutable after
// construction and safe for concurrent use.
type Hasher struct {
	cost int
}

// dummyHash is a valid bcrypt hash of random material not used by any
// account. CompareDummy verifies against it so unknown-identifier login
// failures cost roughly the same as wrong-password failures.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// NewHasher validates cfg and returns a Hasher. A zero cost selects the
// bcrypt default.
func NewHasher(cfg Config) (*Hasher, error) {
	cost := cfg.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, errors.New("bcrypt cost out of range")
	}
	return &Hasher{cost: cost}, nil
}

// Hash returns the bcrypt hash of plain.
func (h *Hasher) Hash(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether plain matches hash.
func (h *Hasher) Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// CompareDummy performs a verification against a fixed hash and discards
// the result.
func (h *Hasher) CompareDummy(plain string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(plain))
}
