package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/utafrali/wishlist-rest/pkg/middleware"
)

// Issuer is the issuer the user service stamps on access tokens.
const Issuer = "user-service"

// Claims are the access token claims issued by the user service. UserID is
// a decimal string.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager validates HS256 access tokens signed with the shared secret.
type JWTManager struct {
	secret []byte
	expiry time.Duration
}

// NewJWTManager creates a manager for secret. expiry only applies to tokens
// the manager issues itself.
func NewJWTManager(secret string, expiry time.Duration) *JWTManager {
	return &JWTManager{secret: []byte(secret), expiry: expiry}
}

// GenerateAccessToken signs a token for userID with role.
func (m *JWTManager) GenerateAccessToken(userID int64, role string) (string, error) {
	now := time.Now().UTC()
	id := strconv.FormatInt(userID, 10)
	claims := &Claims{
		UserID: id,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			Issuer:    Issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken parses and validates a token, returning its claims.
func (m *JWTManager) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid access token claims")
	}
	return claims, nil
}

// Identity validates tokenString and maps it to a request identity. It has
// the shape of middleware.TokenValidator.
func (m *JWTManager) Identity(tokenString string) (middleware.Identity, error) {
	claims, err := m.ValidateAccessToken(tokenString)
	if err != nil {
		return middleware.Identity{}, err
	}
	userID, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil || userID <= 0 {
		return middleware.Identity{}, fmt.Errorf("invalid user_id claim %q", claims.UserID)
	}
	return middleware.Identity{UserID: userID, Role: claims.Role}, nil
}
