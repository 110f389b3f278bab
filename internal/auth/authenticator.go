package auth

import "context"

// Operator is an account allowed to use the admin API.
type Operator struct {
	Username string
}

// Authenticator defines the interface for authentication implementations.
// This abstraction allows swapping between different auth methods (password, OAuth, etc.)
// without changing the service layer code.
type Authenticator interface {
	// Authenticate verifies the operator's credentials and returns the operator if successful.
	Authenticate(ctx context.Context, username, credential string) (*Operator, error)

	// ValidateCredential checks if the credential meets the implementation's requirements.
	ValidateCredential(credential string) error
}
