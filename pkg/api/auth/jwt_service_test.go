package auth

import (
	"testing"
	"time"

	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

func testConfig() JWTConfig {
	return JWTConfig{
		Secret:               "test-secret-key-must-be-32-chars!",
		Issuer:               "test-issuer",
		AccessTokenDuration:  15 * time.Minute,
		RefreshTokenDuration: 7 * 24 * time.Hour,
	}
}

func TestNewJWTService_ValidConfig(t *testing.T) {
	service, err := NewJWTService(testConfig())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if service == nil {
		t.Fatal("Expected service to be non-nil")
	}
}

func TestNewJWTService_EmptySecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{Issuer: "test-issuer"})
	if err == nil {
		t.Fatal("Expected error for empty secret")
	}
}

func TestNewJWTService_ShortSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{Secret: "short", Issuer: "test-issuer"})
	if err == nil {
		t.Fatal("Expected error for short secret")
	}
}

func TestGenerateTokenPair(t *testing.T) {
	service, _ := NewJWTService(testConfig())

	user := &models.User{
		ID:       42,
		Username: `CORP\jdoe`,
	}

	tokenPair, err := service.GenerateTokenPair(user)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if tokenPair.AccessToken == "" {
		t.Error("Expected non-empty access token")
	}
	if tokenPair.RefreshToken == "" {
		t.Error("Expected non-empty refresh token")
	}
	if tokenPair.TokenType != "Bearer" {
		t.Errorf("Expected TokenType 'Bearer', got '%s'", tokenPair.TokenType)
	}
	if tokenPair.ExpiresIn != int64(15*time.Minute/time.Second) {
		t.Errorf("Expected ExpiresIn %d, got %d", int64(15*time.Minute/time.Second), tokenPair.ExpiresIn)
	}
}

func TestValidateAccessToken(t *testing.T) {
	service, _ := NewJWTService(testConfig())

	user := &models.User{
		ID:       7,
		Username: `CORP\admin`,
		IsAdmin:  true,
	}

	tokenPair, _ := service.GenerateTokenPair(user)

	claims, err := service.ValidateAccessToken(tokenPair.AccessToken)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if claims.Username != `CORP\admin` {
		t.Errorf("Expected username 'CORP\\admin', got '%s'", claims.Username)
	}
	if claims.UserID != 7 {
		t.Errorf("Expected UserID 7, got %d", claims.UserID)
	}
	if claims.Role != "admin" {
		t.Errorf("Expected role 'admin', got '%s'", claims.Role)
	}
	if !claims.IsAdmin() {
		t.Error("Expected IsAdmin() to return true")
	}
}

func TestValidateAccessToken_InvalidToken(t *testing.T) {
	service, _ := NewJWTService(testConfig())

	_, err := service.ValidateAccessToken("invalid-token")
	if err == nil {
		t.Fatal("Expected error for invalid token")
	}
}

func TestValidateAccessToken_WrongTokenType(t *testing.T) {
	service, _ := NewJWTService(testConfig())

	user := &models.User{ID: 1, Username: `CORP\jdoe`}
	tokenPair, _ := service.GenerateTokenPair(user)

	// A refresh token must not pass as an access token.
	_, err := service.ValidateAccessToken(tokenPair.RefreshToken)
	if err != ErrInvalidTokenType {
		t.Errorf("Expected ErrInvalidTokenType, got: %v", err)
	}
}

func TestValidateRefreshToken(t *testing.T) {
	service, _ := NewJWTService(testConfig())

	user := &models.User{ID: 1, Username: `CORP\jdoe`}
	tokenPair, _ := service.GenerateTokenPair(user)

	claims, err := service.ValidateRefreshToken(tokenPair.RefreshToken)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if claims.Username != `CORP\jdoe` {
		t.Errorf("Expected username 'CORP\\jdoe', got '%s'", claims.Username)
	}
	if claims.TokenType != TokenTypeRefresh {
		t.Errorf("Expected token type 'refresh', got '%s'", claims.TokenType)
	}
}

func TestValidateRefreshToken_WrongTokenType(t *testing.T) {
	service, _ := NewJWTService(testConfig())

	user := &models.User{ID: 1, Username: `CORP\jdoe`}
	tokenPair, _ := service.GenerateTokenPair(user)

	_, err := service.ValidateRefreshToken(tokenPair.AccessToken)
	if err != ErrInvalidTokenType {
		t.Errorf("Expected ErrInvalidTokenType, got: %v", err)
	}
}

func TestValidateAccessToken_WrongIssuer(t *testing.T) {
	service, _ := NewJWTService(testConfig())

	otherCfg := testConfig()
	otherCfg.Issuer = "someone-else"
	other, _ := NewJWTService(otherCfg)

	user := &models.User{ID: 1, Username: `CORP\jdoe`}
	tokenPair, _ := other.GenerateTokenPair(user)

	if _, err := service.ValidateAccessToken(tokenPair.AccessToken); err == nil {
		t.Fatal("Expected error for token from a different issuer")
	}
}

func TestClaims_IsAdmin(t *testing.T) {
	tests := []struct {
		role     string
		expected bool
	}{
		{"admin", true},
		{"user", false},
		{"", false},
		{"Admin", false}, // Case-sensitive
	}

	for _, tc := range tests {
		claims := &Claims{Role: tc.role}
		if claims.IsAdmin() != tc.expected {
			t.Errorf("IsAdmin() for role '%s': expected %v, got %v", tc.role, tc.expected, claims.IsAdmin())
		}
	}
}
