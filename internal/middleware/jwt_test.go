package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarkhas/cinema-booking-saga/internal/middleware"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func runJWT(t *testing.T, authorization string) (*httptest.ResponseRecorder, uint64, bool) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var gotID uint64
	var gotOK bool
	h := middleware.JWTAuth(testSecret)(func(c echo.Context) error {
		gotID, gotOK = middleware.UserID(c)
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, h(c))
	return rec, gotID, gotOK
}

func TestJWTAuth_ValidTokenInjectsUserID(t *testing.T) {
	tok := signToken(t, testSecret, jwt.MapClaims{
		"sub": float64(42),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	rec, uid, ok := runJWT(t, "Bearer "+tok)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), uid)
}

func TestJWTAuth_StringSubjectAccepted(t *testing.T) {
	tok := signToken(t, testSecret, jwt.MapClaims{
		"sub": "42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	rec, uid, _ := runJWT(t, "Bearer "+tok)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(42), uid)
}

func TestJWTAuth_RejectsMissingAndMalformed(t *testing.T) {
	rec, _, ok := runJWT(t, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, ok)

	rec, _, _ = runJWT(t, "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTAuth_RejectsWrongSecret(t *testing.T) {
	tok := signToken(t, "other-secret", jwt.MapClaims{
		"sub": float64(42),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	rec, _, _ := runJWT(t, "Bearer "+tok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTAuth_RejectsExpiredToken(t *testing.T) {
	tok := signToken(t, testSecret, jwt.MapClaims{
		"sub": float64(42),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	rec, _, _ := runJWT(t, "Bearer "+tok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTAuth_RejectsZeroSubject(t *testing.T) {
	tok := signToken(t, testSecret, jwt.MapClaims{
		"sub": float64(0),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	rec, _, _ := runJWT(t, "Bearer "+tok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
