package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	promhandler "github.com/jwalitptl/epts-reports/internal/handler/prometheus"
	"github.com/jwalitptl/epts-reports/internal/middleware"
	"github.com/jwalitptl/epts-reports/pkg/logger"
)

type routes func(gin.IRouter)

func (f routes) RegisterRoutes(r gin.IRouter) { f(r) }

func newTestRouter(t *testing.T, config RouterConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	health := routes(func(r gin.IRouter) {
		r.GET("/health/live", func(c *gin.Context) { c.Status(http.StatusOK) })
	})
	reports := routes(func(r gin.IRouter) {
		r.GET("/reports/calculations", func(c *gin.Context) {
			_, hasDeadline := c.Request.Context().Deadline()
			c.JSON(http.StatusOK, gin.H{"deadline": hasDeadline})
		})
	})

	r := NewRouter(logger.Nop(), health, reports, promhandler.New(prometheus.NewRegistry()), config)
	r.Setup()
	return r.Engine()
}

func get(engine *gin.Engine, path string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	engine.ServeHTTP(w, req)
	return w
}

func TestRoutes(t *testing.T) {
	engine := newTestRouter(t, RouterConfig{RequestTimeout: time.Minute})

	w := get(engine, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderXRequestID))

	w = get(engine, "/api/v1/reports/calculations", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1.0", w.Header().Get("X-API-Version"))
	assert.JSONEq(t, `{"deadline":true}`, w.Body.String())

	w = get(engine, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{method="GET",path="/health/live",status="200"} 1`)
}

func TestAuthGuardsReportsOnly(t *testing.T) {
	secret := []byte("secret")
	engine := newTestRouter(t, RouterConfig{
		Auth: middleware.NewAuthMiddleware(middleware.AuthConfig{Secret: secret}),
	})

	assert.Equal(t, http.StatusOK, get(engine, "/health/live", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(engine, "/api/v1/reports/calculations", nil).Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "reporter",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(secret)
	require.NoError(t, err)

	w := get(engine, "/api/v1/reports/calculations", http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitAppliesToReports(t *testing.T) {
	engine := newTestRouter(t, RouterConfig{
		RateLimit: &middleware.RateLimiterConfig{Rate: rate.Every(time.Hour), Burst: 1},
	})

	assert.Equal(t, http.StatusOK, get(engine, "/api/v1/reports/calculations", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(engine, "/api/v1/reports/calculations", nil).Code)
	assert.Equal(t, http.StatusOK, get(engine, "/health/live", nil).Code)
}
