package auth

import "fmt"

// The error taxonomy mirrors how failures map to transport responses:
// validation 422 with field detail, authentication 401 with deliberately
// generic messages, forbidden 403, configuration fatal.

// FieldError carries field-level validation detail.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is malformed or missing input, invalid one-time codes,
// invalid email or reset tokens.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(message string, fields ...FieldError) *ValidationError {
	return &ValidationError{Message: message, Fields: fields}
}

// AuthenticationError is bad credentials or an invalid, expired or
// compromised refresh token. Messages stay generic to prevent enumeration.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	return e.Message
}

func NewAuthenticationError(message string) *AuthenticationError {
	return &AuthenticationError{Message: message}
}

// ForbiddenError is a blocked account or a failed authorization predicate.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	return e.Message
}

func NewForbiddenError(message string) *ForbiddenError {
	return &ForbiddenError{Message: message}
}

// ConfigurationError is a startup-class misconfiguration, like a missing
// seed role. Not user-recoverable.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}
