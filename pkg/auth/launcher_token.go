package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const launcherIssuer = "claraverse-gateway"

// ExtractToken extracts the JWT token from an Authorization header value.
// Supports "Bearer <token>" format.
func ExtractToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("empty authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty token")
	}

	return token, nil
}

// LauncherClaims identify the launcher process attaching to the gateway
type LauncherClaims struct {
	LauncherID string `json:"sub"`
	jwt.RegisteredClaims
}

// LauncherAuth signs and verifies the short-lived tokens the launcher presents on attach
type LauncherAuth struct {
	SecretKey   []byte
	TokenExpiry time.Duration // Default: 5 minutes
}

// NewLauncherAuth creates a launcher auth instance from a shared secret
func NewLauncherAuth(secretKey string, expiry time.Duration) (*LauncherAuth, error) {
	if secretKey == "" {
		return nil, errors.New("launcher secret cannot be empty")
	}

	if expiry == 0 {
		expiry = 5 * time.Minute
	}

	return &LauncherAuth{
		SecretKey:   []byte(secretKey),
		TokenExpiry: expiry,
	}, nil
}

// IssueToken signs a token for launcherID
func (a *LauncherAuth) IssueToken(launcherID string) (string, error) {
	now := time.Now()
	claims := LauncherClaims{
		LauncherID: launcherID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.TokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    launcherIssuer,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.SecretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign launcher token: %w", err)
	}
	return token, nil
}

// VerifyToken verifies a launcher token and returns its claims
func (a *LauncherAuth) VerifyToken(tokenString string) (*LauncherClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &LauncherClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.SecretKey, nil
	}, jwt.WithIssuer(launcherIssuer))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*LauncherClaims); ok && token.Valid {
		if claims.LauncherID == "" {
			return nil, errors.New("token has no launcher id")
		}
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
