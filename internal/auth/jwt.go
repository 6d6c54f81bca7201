package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleBridge is the only role allowed to push voice notes
const RoleBridge = "bridge"

const defaultTokenTTL = 30 * 24 * time.Hour

// JWTClaims represents the claims in a bridge token
type JWTClaims struct {
	BridgeID string `json:"bridge_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and validates bridge tokens with a shared secret
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. ttl <= 0 uses 30 days.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// GenerateBridgeToken generates a token for a messaging bridge
func (i *Issuer) GenerateBridgeToken(bridgeID string) (string, time.Time, error) {
	if bridgeID == "" {
		return "", time.Time{}, errors.New("bridge id is required")
	}
	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := &JWTClaims{
		BridgeID: bridgeID,
		Role:     RoleBridge,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   bridgeID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a bridge token and returns the claims
func (i *Issuer) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrInvalidKey
	}
	if claims.Role != RoleBridge || claims.BridgeID == "" {
		return nil, errors.New("token is not a bridge token")
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
