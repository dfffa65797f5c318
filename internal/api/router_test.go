package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/d60-Lab/order-payments/internal/api/handler"
	"github.com/d60-Lab/order-payments/internal/api/middleware"
	"github.com/d60-Lab/order-payments/internal/mpesa"
)

func newTestRouter(limiter *middleware.IPRateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(RouterOptions{
		Handler:   handler.NewHandler(nil, nil, nil, zap.NewNop()),
		Logger:    zap.NewNop(),
		JWTSecret: "router-secret",
		Limiter:   limiter,
		Health:    map[string]handler.Pinger{"db": func(context.Context) error { return nil }},
	})
}

func TestRouter_PublicAndProtectedRoutes(t *testing.T) {
	r := newTestRouter(nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, mpesa.CallbackPath, strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Success"}`, w.Body.String())
}

func TestRouter_Gzip(t *testing.T) {
	r := newTestRouter(nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
}

func TestRouter_RateLimitSkipsCallback(t *testing.T) {
	r := newTestRouter(middleware.NewIPRateLimiter(0.001, 1))

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusTooManyRequests}, codes)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, mpesa.CallbackPath, strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusOK, w.Code)
}
