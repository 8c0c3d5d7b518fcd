package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryHint reads the exp claim of a JWT session token without verifying
// it. The result is only a display hint; validity is decided by the remote
// identity check.
func ExpiryHint(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
