package security

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// CredentialVerifier checks an administrator username/password pair
type CredentialVerifier interface {
	VerifyCredentials(username, password string) bool
}

// StaticCredentials is the single configured administrator identity.
// When PasswordHash (bcrypt) is set it takes precedence over Password.
type StaticCredentials struct {
	Username     string
	Password     string
	PasswordHash string
}

// VerifyCredentials implements CredentialVerifier
func (c StaticCredentials) VerifyCredentials(username, password string) bool {
	if c.Username == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.Username)) == 1

	var passOK bool
	switch {
	case c.PasswordHash != "":
		passOK = bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(password)) == nil
	case c.Password != "":
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(c.Password)) == 1
	}

	return userOK && passOK
}

// HashPassword returns a bcrypt hash suitable for StaticCredentials.PasswordHash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
