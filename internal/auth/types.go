package auth

import "time"

// Roles an operator token may carry
const (
	RoleViewer = "viewer"
	RoleAdmin  = "admin"
)

// OperatorClaims identify who is driving the admin API
type OperatorClaims struct {
	Operator string `json:"operator"`
	Role     string `json:"role"`
}

// IsAdmin reports whether the operator may change bot state
func (c OperatorClaims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// Config holds admin API authentication settings
type Config struct {
	Enabled       bool          `json:"enabled" mapstructure:"enabled"`
	JWTSecret     string        `json:"jwt_secret" mapstructure:"jwt_secret"`
	TokenDuration time.Duration `json:"token_duration" mapstructure:"token_duration"`
}

// DefaultConfig returns auth defaults
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		TokenDuration: 12 * time.Hour,
	}
}

// Error types for authentication
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors
var (
	ErrInvalidToken = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrForbidden    = AuthError{Code: "FORBIDDEN", Message: "access forbidden"}
)
