package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Service authenticates the single operator account
type Service struct {
	config    Config
	jwt       *JWTManager
	passwords *PasswordManager
	logger    zerolog.Logger
}

// NewService creates an auth service
func NewService(cfg Config, logger zerolog.Logger) *Service {
	if cfg.OperatorUsername == "" {
		cfg.OperatorUsername = DefaultConfig().OperatorUsername
	}
	return &Service{
		config:    cfg,
		jwt:       NewJWTManager(cfg.JWTSecret, cfg.AccessTokenDuration),
		passwords: NewPasswordManager(DefaultBcryptCost),
		logger:    logger.With().Str("component", "Auth").Logger(),
	}
}

// JWT exposes the token manager for middleware
func (s *Service) JWT() *JWTManager {
	return s.jwt
}

// Login checks the operator credentials and issues a token
func (s *Service) Login(username, password string) (*TokenResponse, error) {
	if s.config.OperatorPasswordHash == "" {
		return nil, ErrLoginDisabled
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.config.OperatorUsername)) == 1
	// Always run bcrypt so a wrong username costs the same as a wrong password
	passOK := s.passwords.VerifyPassword(password, s.config.OperatorPasswordHash)
	if !userOK || !passOK {
		s.logger.Warn().Str("username", username).Msg("Failed operator login")
		return nil, ErrInvalidCredentials
	}

	s.logger.Info().Str("username", username).Msg("Operator logged in")
	return s.jwt.IssueToken(OperatorClaims{Subject: username, Role: RoleOperator})
}

// HandleLogin is the gin handler for POST /api/auth/login
func (s *Service) HandleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	token, err := s.Login(req.Username, req.Password)
	if err != nil {
		status := http.StatusUnauthorized
		authErr, ok := err.(AuthError)
		if !ok {
			authErr = ErrUnauthorized
			status = http.StatusInternalServerError
		}
		if authErr == ErrLoginDisabled {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": authErr.Code, "message": authErr.Message})
		return
	}
	c.JSON(http.StatusOK, token)
}
