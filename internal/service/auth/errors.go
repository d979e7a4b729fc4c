package auth

import "errors"

// Common authentication service errors
var (
	// ErrInvalidToken indicates the token format is invalid or signature doesn't match
	ErrInvalidToken = errors.New("invalid authentication token")

	// ErrExpiredToken indicates the token has expired
	ErrExpiredToken = errors.New("authentication token has expired")

	// ErrTokenNotYetValid indicates the token is not yet valid (nbf claim in the future)
	ErrTokenNotYetValid = errors.New("authentication token not yet valid")

	// ErrMissingToken indicates a token was expected but not provided
	ErrMissingToken = errors.New("authentication token is missing")

	// ErrInsufficientScope indicates the token does not grant the requested access
	ErrInsufficientScope = errors.New("authentication token scope is insufficient")

	// ErrWeakSecret indicates the signing secret is too short
	ErrWeakSecret = errors.New("jwt secret must be at least 32 characters")

	// ErrInvalidScope indicates a token was requested for an unknown scope
	ErrInvalidScope = errors.New("unknown token scope")
)
