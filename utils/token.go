package utils

import (
	"encoding/json"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// Only use it on tokens whose issuer validates them on every call.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	switch exp := claims["exp"].(type) {
	case float64:
		return time.Unix(int64(exp), 0), true
	case json.Number:
		n, err := exp.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(n, 0), true
	}
	return time.Time{}, false
}
