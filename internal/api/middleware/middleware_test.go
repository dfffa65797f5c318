package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func init() { gin.SetMode(gin.TestMode) }

func newAuthRouter() *gin.Engine {
	r := gin.New()
	r.Use(AccessLog(zap.NewNop()))
	authed := r.Group("/", JWTAuth(testSecret, "identity"))
	authed.GET("/me", func(c *gin.Context) {
		id, _ := CurrentIdentity(c)
		c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "role": id.Role, "email": id.Email})
	})
	authed.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func token(t *testing.T, sub, role, issuer string, exp time.Time) string {
	t.Helper()
	tok, err := SignToken(testSecret, Claims{
		Role:  role,
		Email: sub + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	require.NoError(t, err)
	return tok
}

func do(r http.Handler, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := newAuthRouter()
	future := time.Now().Add(time.Hour)

	w := do(r, "/me", token(t, "u1", "customer", "identity", future))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"u1","role":"customer","email":"u1@example.com"}`, w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "garbage").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", token(t, "u1", "", "identity", time.Now().Add(-time.Minute))).Code, "expired")
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", token(t, "u1", "", "someone-else", future)).Code, "wrong issuer")
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", token(t, "", "", "identity", future)).Code, "no subject")

	other, err := SignToken("other-secret", Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", other).Code)
}

func TestRequireAdmin(t *testing.T) {
	r := newAuthRouter()
	future := time.Now().Add(time.Hour)

	assert.Equal(t, http.StatusForbidden, do(r, "/admin", token(t, "u1", "customer", "identity", future)).Code)
	assert.Equal(t, http.StatusNoContent, do(r, "/admin", token(t, "a1", RoleAdmin, "identity", future)).Code)
}

func TestIdentity_CanAccess(t *testing.T) {
	assert.True(t, Identity{UserID: "u1"}.CanAccess("u1"))
	assert.False(t, Identity{UserID: "u1"}.CanAccess("u2"))
	assert.True(t, Identity{UserID: "a1", Role: RoleAdmin}.CanAccess("u2"))
}

func TestRateLimit(t *testing.T) {
	l := NewIPRateLimiter(0.001, 2)
	r := gin.New()
	r.Use(RateLimit(l))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(r, "/", "").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	l.idleTTL = -time.Second
	l.Cleanup()
	assert.Empty(t, l.clients)
}
