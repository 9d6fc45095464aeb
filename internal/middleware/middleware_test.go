package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letterdrop/backend/internal/auth/jwt"
	"letterdrop/backend/internal/cache"
	"letterdrop/backend/internal/monitoring"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func init() {
	gin.SetMode(gin.TestMode)
}

func okHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "成功"})
}

func perform(r http.Handler, method, path string, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIPRateLimiter(t *testing.T) {
	limiter := NewIPRateLimiter(cache.NewLocalCache(0, time.Minute), 3, 15*time.Minute, monitoring.NewMetrics(), nil)

	r := gin.New()
	r.Use(limiter.Middleware())
	r.GET("/api/ping", okHandler)

	for i := 0; i < 3; i++ {
		w := perform(r, http.MethodGet, "/api/ping", "", nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
	}

	w := perform(r, http.MethodGet, "/api/ping", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), MsgTooManyRequests)

	assert.True(t, limiter.Allow("10.0.0.2"), "other ip has its own bucket")
}

func TestAdminAuth_RequireAdmin(t *testing.T) {
	tokens := jwt.NewManager(testSecret, "letterdrop", time.Hour)
	guard := NewAdminAuth(tokens, nil)

	r := gin.New()
	r.GET("/api/admin/data", guard.RequireAdmin(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"role": c.GetString(ContextKeyRole)})
	})

	t.Run("missing token", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/api/admin/data", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("foreign token", func(t *testing.T) {
		other := jwt.NewManager("ffffffffffffffffffffffffffffffff", "letterdrop", time.Hour)
		token, err := other.Generate()
		require.NoError(t, err)

		w := perform(r, http.MethodGet, "/api/admin/data", "", map[string]string{"Authorization": "Bearer " + token.Token})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := tokens.Generate()
		require.NoError(t, err)

		w := perform(r, http.MethodGet, "/api/admin/data", "", map[string]string{"Authorization": "Bearer " + token.Token})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), jwt.RoleAdmin)
	})
}

type countingRecorder struct {
	visits atomic.Int64
	err    error
}

func (r *countingRecorder) RecordVisit(context.Context) error {
	r.visits.Add(1)
	return r.err
}

func TestVisitCounter(t *testing.T) {
	rec := &countingRecorder{}
	r := gin.New()
	r.Use(VisitCounter(rec, nil))
	r.GET("/api/ping", okHandler)

	perform(r, http.MethodGet, "/api/ping", "", nil)
	perform(r, http.MethodGet, "/api/ping", "", nil)
	assert.Equal(t, int64(2), rec.visits.Load())

	rec.err = errors.New("disk full")
	w := perform(r, http.MethodGet, "/api/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code, "counter failure does not fail the request")
}

func TestBodySizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(BodySizeLimit(16))
	r.POST("/api/reply", okHandler)

	w := perform(r, http.MethodPost, "/api/reply", `{"k":"v"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = perform(r, http.MethodPost, "/api/reply", strings.Repeat("x", 64), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestMonitoringMiddleware(t *testing.T) {
	metrics := monitoring.NewMetrics()
	mm := NewMonitoringMiddleware(metrics, nil)

	r := gin.New()
	r.Use(mm.PanicRecovery(), mm.HTTPMetrics(), SecurityHeaders(), RequestLogger(nil))
	r.GET("/boom", func(*gin.Context) { panic("boom") })
	r.GET("/ok", okHandler)

	w := perform(r, http.MethodGet, "/boom", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = perform(r, http.MethodGet, "/ok", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["letterdrop_panics_total"])
	assert.True(t, names["letterdrop_http_requests_total"])
}
