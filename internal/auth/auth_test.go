package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"futures-agent/internal/logging"
)

func testService(t *testing.T) *Service {
	t.Helper()
	hash, err := NewPasswordManager(bcrypt.MinCost).HashPassword("s3cret-pass")
	if err != nil {
		t.Fatal(err)
	}
	return NewService(Config{
		JWTSecret:            "test-secret",
		AccessTokenDuration:  time.Minute,
		OperatorUsername:     "operator",
		OperatorPasswordHash: hash,
	}, logging.Nop())
}

func TestPasswordHashing(t *testing.T) {
	pm := NewPasswordManager(bcrypt.MinCost)
	if _, err := pm.HashPassword("short"); err == nil {
		t.Error("Expected short password rejected")
	}
	hash, err := pm.HashPassword("long-enough")
	if err != nil {
		t.Fatal(err)
	}
	if !pm.VerifyPassword("long-enough", hash) {
		t.Error("Expected password to verify")
	}
	if pm.VerifyPassword("wrong-password", hash) {
		t.Error("Expected wrong password rejected")
	}
	if pm.VerifyPassword("anything", "") {
		t.Error("Expected empty hash rejected")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Minute)
	token, err := m.GenerateAccessToken(OperatorClaims{Subject: "ops", Role: RoleOperator})
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("Expected valid token, got %v", err)
	}
	if claims.Subject != "ops" || !claims.CanCommand() {
		t.Errorf("Unexpected claims %+v", claims)
	}

	if _, err := NewJWTManager("other", time.Minute).ValidateAccessToken(token); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	m := &JWTManager{secret: []byte("secret"), accessTokenDuration: -time.Minute}
	token, err := m.GenerateAccessToken(OperatorClaims{Subject: "ops", Role: RoleOperator})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.ValidateAccessToken(token); err != ErrTokenExpired {
		t.Errorf("Expected ErrTokenExpired, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	s := testService(t)

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"valid", "operator", "s3cret-pass", nil},
		{"wrong password", "operator", "nope-nope", ErrInvalidCredentials},
		{"wrong user", "admin", "s3cret-pass", ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := s.Login(tt.username, tt.password)
			if err != tt.wantErr {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
			if err == nil && tok.TokenType != "Bearer" {
				t.Errorf("Expected Bearer token, got %s", tok.TokenType)
			}
		})
	}

	disabled := NewService(Config{JWTSecret: "x"}, logging.Nop())
	if _, err := disabled.Login("operator", "whatever1"); err != ErrLoginDisabled {
		t.Errorf("Expected ErrLoginDisabled, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := testService(t)

	r := gin.New()
	r.POST("/login", s.HandleLogin)
	protected := r.Group("/api", Middleware(s.JWT()))
	protected.GET("/status", func(c *gin.Context) { c.String(http.StatusOK, GetSubject(c)) })
	protected.POST("/command", RequireOperator(), func(c *gin.Context) { c.Status(http.StatusAccepted) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}

	body, _ := json.Marshal(LoginRequest{Username: "operator", Password: "s3cret-pass"})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on login, got %d: %s", w.Code, w.Body.String())
	}
	var tok TokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &tok); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "operator" {
		t.Errorf("Expected 200 operator, got %d %q", w.Code, w.Body.String())
	}

	viewer, _ := s.JWT().GenerateAccessToken(OperatorClaims{Subject: "watcher", Role: RoleViewer})
	req = httptest.NewRequest(http.MethodPost, "/api/command?token="+viewer, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for viewer, got %d", w.Code)
	}
}
