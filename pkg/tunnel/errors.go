package tunnel

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenMissing is returned when tunnel mode is on without a token.
	ErrTokenMissing = errors.New("tunnel: auth token not set (use NGROK_AUTH_TOKEN or tunnel.auth_token)")

	// ErrTokenTooShort is returned for tokens below the minimum length.
	ErrTokenTooShort = errors.New("tunnel: auth token too short")
)

// ProvisioningError reports that every attempt failed.
type ProvisioningError struct {
	Attempts int
	Err      error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("tunnel provisioning failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}
