package auth

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired = errors.New("auth: token expired")
	ErrNoIdentity   = errors.New("auth: token carries no user identity")
)

// Identity is who this client is chatting as, recovered from the
// backend-issued token. The chat core requires it at connect time.
type Identity struct {
	UserID   string
	Username string
}

type tokenClaims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ParseIdentity extracts the identity claims from a backend-issued JWT.
// The signature is the server's to verify; the client only needs the
// claims, but it does reject tokens that are already expired so a stale
// stored credential fails before a session starts rather than at the
// first authenticated call.
func ParseIdentity(token string) (Identity, error) {
	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("auth: parse token: %w", err)
	}

	if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
		log.Printf("[AUTH] Stored token expired at %s", claims.ExpiresAt.Format(time.RFC3339))
		return Identity{}, ErrTokenExpired
	}

	id := Identity{UserID: claims.UserID, Username: claims.Username}
	if id.UserID == "" {
		// Some backends put the user ID in the standard subject claim.
		id.UserID = claims.Subject
	}
	if id.UserID == "" {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}
