package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher turns secrets into salted one-way hashes.
type Hasher interface {
	Hash(secret string) (string, error)
	// Verify never errors: an unknown or corrupt hash simply fails.
	Verify(secret, hash string) bool
}

// BcryptHasher implements Hasher with bcrypt.
type BcryptHasher struct {
	cost int
}

var _ Hasher = (*BcryptHasher)(nil)

// NewBcryptHasher clamps cost into bcrypt's accepted range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(secret string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hash secret: %w", err)
	}
	return string(out), nil
}

func (h *BcryptHasher) Verify(secret, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// tokenDigest reduces an arbitrary-length token to 64 hex chars. bcrypt only
// reads the first 72 bytes, and signed tokens share a long common prefix.
func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func hashToken(h Hasher, token string) (string, error) {
	return h.Hash(tokenDigest(token))
}

func verifyToken(h Hasher, token, hash string) bool {
	return h.Verify(tokenDigest(token), hash)
}
