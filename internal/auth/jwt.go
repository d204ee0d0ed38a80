package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LogClaims are the JWT claims for instance-scoped log stream tokens.
type LogClaims struct {
	jwt.RegisteredClaims
	InstanceID string `json:"instance_id"`
}

// JWTIssuer creates instance-scoped JWTs for the log streaming endpoint, so
// a live log WebSocket can be handed to a browser without exposing the API key.
type JWTIssuer struct {
	secret []byte
}

// NewJWTIssuer creates a new JWT issuer with the given shared secret.
func NewJWTIssuer(secret string) *JWTIssuer {
	return &JWTIssuer{secret: []byte(secret)}
}

// IssueLogToken creates a JWT granting access to one instance's log stream.
func (j *JWTIssuer) IssueLogToken(instanceID string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(ttl)
	claims := LogClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   instanceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    "docport",
		},
		InstanceID: instanceID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// ValidateLogToken parses and validates an instance-scoped log token.
func (j *JWTIssuer) ValidateLogToken(tokenStr string) (*LogClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &LogClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*LogClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}
