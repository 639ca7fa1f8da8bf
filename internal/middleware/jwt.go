// Package middleware provides shared request processing: bearer-token
// verification and distributed rate limiting. Token issuance belongs to
// the external identity service; this package only verifies.
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// userIDKey is the context key under which JWTAuth stores the
// authenticated user id as a uint64.
const userIDKey = "user_id"

// JWTAuth returns an Echo middleware that validates a Bearer access
// token signed with HS256 and injects the subject claim into the request
// context. Handlers read it back via UserID.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}
			uid, ok := subjectID(claims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid subject"})
			}
			c.Set(userIDKey, uid)
			return next(c)
		}
	}
}

// subjectID parses the sub claim, which token issuers encode either as a
// number or a decimal string.
func subjectID(claims jwt.MapClaims) (uint64, bool) {
	switch v := claims["sub"].(type) {
	case float64:
		if v < 1 {
			return 0, false
		}
		return uint64(v), true
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// UserID returns the authenticated user id placed by JWTAuth, or false
// when the request is unauthenticated.
func UserID(c echo.Context) (uint64, bool) {
	v, ok := c.Get(userIDKey).(uint64)
	return v, ok
}
