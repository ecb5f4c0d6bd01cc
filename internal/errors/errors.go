package errors

import (
	"errors"
	"fmt"
)

// Common error types for the auth gateway
var (
	// Tenant errors
	ErrMissingHost    = errors.New("missing host header")
	ErrTenantNotFound = errors.New("tenant not found")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")

	// User / membership errors
	ErrUserNotFound    = errors.New("user not found")
	ErrMemberNotFound  = errors.New("member not found")
	ErrAccountNotFound = errors.New("account not found")

	// Signed token errors
	ErrTokenMalformed    = errors.New("malformed token")
	ErrTokenBadSignature = errors.New("bad token signature")
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenKindMismatch = errors.New("token kind mismatch")

	// Discovery errors
	ErrDiscoveryFailed     = errors.New("discovery failed")
	ErrDiscoveryIncomplete = errors.New("discovery document incomplete")

	// General errors
	ErrNotFound    = errors.New("not found")
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
