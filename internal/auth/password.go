package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// PasswordAuthenticator implements password-based authentication using bcrypt hashes
// supplied by configuration.
type PasswordAuthenticator struct {
	hashes map[string]string
}

var _ Authenticator = (*PasswordAuthenticator)(nil)

// NewPasswordAuthenticator creates an authenticator for the given username -> bcrypt hash
// accounts.
func NewPasswordAuthenticator(accounts map[string]string) *PasswordAuthenticator {
	hashes := make(map[string]string, len(accounts))
	for user, hash := range accounts {
		hashes[user] = hash
	}
	return &PasswordAuthenticator{hashes: hashes}
}

// ValidateCredential checks if the password meets minimum requirements.
func (a *PasswordAuthenticator) ValidateCredential(credential string) error {
	if len(credential) < 8 {
		return ErrWeakPassword
	}
	return nil
}

// Authenticate verifies the username and password, returning the operator if valid.
func (a *PasswordAuthenticator) Authenticate(_ context.Context, username, credential string) (*Operator, error) {
	hash, ok := a.hashes[username]
	if !ok {
		return nil, ErrInvalidCredentials
	}

	// Compare password hash
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(credential)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &Operator{Username: username}, nil
}

// HashPassword returns the bcrypt hash to put into the operators config.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", ErrWeakPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}
