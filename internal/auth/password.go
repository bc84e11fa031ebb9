package auth

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptMaxInputLength is the maximum input length for bcrypt (72 bytes).
	BcryptMaxInputLength = 72
)

// HashPassword hashes a password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	return HashPasswordWithCost(password, bcrypt.DefaultCost)
}

// HashPasswordWithCost hashes a password with bcrypt at the given cost.
func HashPasswordWithCost(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword(passwordBytes(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(storedHash, password string) bool {
	if storedHash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), passwordBytes(password)) == nil
}

// passwordBytes pre-hashes inputs longer than bcrypt accepts.
func passwordBytes(password string) []byte {
	b := []byte(password)
	if len(b) > BcryptMaxInputLength {
		sum := sha256.Sum256(b)
		b = sum[:]
	}
	return b
}
