// Package identity implements the optional JWT-based layer described in
// §6.3: userId is normally an opaque, unvalidated string, but deployments
// that set JWT.Required may require a bearer token on the WebSocket
// upgrade and bind its subject as the verified userId.
package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the identity asserted by a signed join token.
type Claims struct {
	UserID      string `json:"uid"`
	DisplayName string `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs join tokens. Used by cmd/roomctl and any application-side
// login flow that fronts this runtime.
type Issuer struct {
	secret   []byte
	issuer   string
	lifetime time.Duration
}

func NewIssuer(secret []byte, issuer string, lifetime time.Duration) *Issuer {
	return &Issuer{secret: secret, issuer: issuer, lifetime: lifetime}
}

func (i *Issuer) Issue(userID, displayName string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:      userID,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.lifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verifier validates join tokens presented on the WebSocket upgrade.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret []byte, issuer string) *Verifier {
	return &Verifier{secret: secret, issuer: issuer}
}

// Verify parses and validates tokenString, returning the bound claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer))
	if err != nil {
		return nil, fmt.Errorf("identity: invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("identity: token rejected")
	}
	return claims, nil
}
