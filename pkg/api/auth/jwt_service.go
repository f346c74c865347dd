package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// JWT validation errors.
var (
	// ErrInvalidToken indicates the token failed signature or structural
	// validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken indicates the token is past its expiry.
	ErrExpiredToken = errors.New("token has expired")

	// ErrInvalidTokenType indicates an access token was presented where a
	// refresh token was expected, or vice versa.
	ErrInvalidTokenType = errors.New("invalid token type")
)

// minSecretLength is the minimum accepted HMAC secret length in bytes.
const minSecretLength = 32

// JWTConfig configures token issuance.
type JWTConfig struct {
	// Secret is the HMAC signing secret. Required, at least 32 bytes.
	Secret string `mapstructure:"secret" yaml:"secret"`

	// Issuer is the iss claim stamped on every token.
	Issuer string `mapstructure:"issuer" yaml:"issuer"`

	// AccessTokenDuration is the lifetime of access tokens.
	// Default: 15m.
	AccessTokenDuration time.Duration `mapstructure:"access_token_duration" yaml:"access_token_duration"`

	// RefreshTokenDuration is the lifetime of refresh tokens.
	// Default: 168h (7 days).
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration" yaml:"refresh_token_duration"`
}

// ApplyDefaults fills in missing configuration with default values.
// The secret has no default; it must be configured.
func (c *JWTConfig) ApplyDefaults() {
	if c.Issuer == "" {
		c.Issuer = "sar"
	}
	if c.AccessTokenDuration == 0 {
		c.AccessTokenDuration = 15 * time.Minute
	}
	if c.RefreshTokenDuration == 0 {
		c.RefreshTokenDuration = 7 * 24 * time.Hour
	}
}

// TokenPair is an access/refresh token pair returned on login and refresh.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// JWTService issues and validates API tokens.
type JWTService struct {
	config JWTConfig
	secret []byte
}

// NewJWTService creates a JWTService. The secret must be at least 32 bytes.
func NewJWTService(config JWTConfig) (*JWTService, error) {
	if config.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if len(config.Secret) < minSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minSecretLength)
	}
	config.ApplyDefaults()
	return &JWTService{
		config: config,
		secret: []byte(config.Secret),
	}, nil
}

// GenerateTokenPair issues an access and a refresh token for a user.
func (s *JWTService) GenerateTokenPair(user *models.User) (*TokenPair, error) {
	now := time.Now().UTC()
	accessExpiry := now.Add(s.config.AccessTokenDuration)

	accessToken, err := s.generate(user, TokenTypeAccess, now, accessExpiry)
	if err != nil {
		return nil, fmt.Errorf("generating access token: %w", err)
	}
	refreshToken, err := s.generate(user, TokenTypeRefresh, now, now.Add(s.config.RefreshTokenDuration))
	if err != nil {
		return nil, fmt.Errorf("generating refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.config.AccessTokenDuration / time.Second),
		ExpiresAt:    accessExpiry,
	}, nil
}

// ValidateAccessToken validates a token and requires it to be an access
// token.
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := s.validate(tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.IsAccessToken() {
		return nil, ErrInvalidTokenType
	}
	return claims, nil
}

// ValidateRefreshToken validates a token and requires it to be a refresh
// token.
func (s *JWTService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	claims, err := s.validate(tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.IsRefreshToken() {
		return nil, ErrInvalidTokenType
	}
	return claims, nil
}

func (s *JWTService) generate(user *models.User, tokenType TokenType, issuedAt, expiresAt time.Time) (string, error) {
	role := "user"
	if user.IsAdmin {
		role = "admin"
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:    user.ID,
		Username:  user.Username,
		Role:      role,
		TokenType: tokenType,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *JWTService) validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.config.Issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
