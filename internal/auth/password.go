// Package auth provides the credential verifier and token issuer used by the
// account service.
package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// CredentialVerifier hashes plaintext passwords one way and checks them later.
type CredentialVerifier interface {
	Hash(plain string) (string, error)
	Verify(plain, stored string) bool
}

// BcryptVerifier implements CredentialVerifier with bcrypt.
type BcryptVerifier struct {
	cost int
}

// NewBcryptVerifier returns a verifier using cost, or bcrypt.DefaultCost when
// cost is outside bcrypt's accepted range.
func NewBcryptVerifier(cost int) *BcryptVerifier {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptVerifier{cost: cost}
}

func (v *BcryptVerifier) Hash(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), v.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (v *BcryptVerifier) Verify(plain, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(plain)) == nil
}
