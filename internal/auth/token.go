package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expired reports whether token is a JWT whose exp claim has passed. Opaque
// tokens and JWTs without exp never expire locally; the backend decides.
// The signature is not checked: the device has no key and only needs to
// avoid presenting a token it already knows is dead.
func expired(token string, now time.Time, leeway time.Duration) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Add(leeway))
}
