package auth

import (
	"time"
)

// Roles an operator token can carry
const (
	RoleOperator = "operator" // May read status and issue commands
	RoleViewer   = "viewer"   // Read-only
)

// OperatorClaims represents the JWT claims for an operator
type OperatorClaims struct {
	Subject string `json:"sub_name"`
	Role    string `json:"role"`
}

// CanCommand reports whether the holder may change agent state
func (c OperatorClaims) CanCommand() bool {
	return c.Role == RoleOperator
}

// LoginRequest represents an operator login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse represents a successful login response
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"` // Access token expiry in seconds
	TokenType   string `json:"token_type"` // Always "Bearer"
}

// Config holds authentication configuration
type Config struct {
	JWTSecret            string
	AccessTokenDuration  time.Duration
	OperatorUsername     string
	OperatorPasswordHash string // bcrypt
}

// DefaultConfig returns default authentication configuration
func DefaultConfig() Config {
	return Config{
		AccessTokenDuration: 60 * time.Minute,
		OperatorUsername:    "operator",
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
	ErrInvalidCredentials = AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid username or password"}
	ErrInvalidToken       = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired       = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized       = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrForbidden          = AuthError{Code: "FORBIDDEN", Message: "access forbidden"}
	ErrLoginDisabled      = AuthError{Code: "LOGIN_DISABLED", Message: "no operator password configured"}
)
