package auth

import "errors"

var (
	// ErrInvalidToken is returned when a token fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig is returned for invalid key material or issuer settings.
	ErrConfig = errors.New("invalid config")
)
