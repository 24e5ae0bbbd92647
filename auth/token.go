// Package auth turns the opaque credential presented at connect time into a
// trusted identity. Verification is fail-closed: no session reaches the relay
// engine without a valid token.
package auth

import (
	"fmt"
	"time"

	"chat-relay/domain"
	"chat-relay/errors"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates the signature and expiration of a credential.
// It returns the trusted identity and the display name carried by the token.
// A missing credential and a bad one are distinct failures, but both reject
// the connection before any event handling begins.
func (v *Verifier) Verify(credential string) (domain.Identity, string, error) {
	if credential == "" {
		return "", "", errors.ErrMissingCredential
	}

	token, err := jwt.ParseWithClaims(credential, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", errors.ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", "", errors.ErrInvalidCredential
	}

	return domain.Identity(claims.UserID), claims.DisplayName, nil
}

// GenerateToken creates a signed JWT for a specific user.
// Used by operator tooling and tests; the relay itself only verifies.
func (v *Verifier) GenerateToken(userID domain.Identity, displayName string,
	tokenDuration time.Duration) (string, error) {
	expirationTime := time.Now().Add(tokenDuration)

	claims := &CustomClaims{
		UserID:      string(userID),
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "chat-relay",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
