package router

import (
	"time"

	"github.com/gin-gonic/gin"

	promhandler "github.com/jwalitptl/epts-reports/internal/handler/prometheus"
	"github.com/jwalitptl/epts-reports/internal/middleware"
	"github.com/jwalitptl/epts-reports/pkg/logger"
)

type Handler interface {
	RegisterRoutes(gin.IRouter)
}

type RouterConfig struct {
	// RateLimit is applied to the /api/v1 routes; nil disables it.
	RateLimit      *middleware.RateLimiterConfig
	RequestTimeout time.Duration
	MaxBodySize    int64
	// Auth guards the /api/v1 routes; nil leaves them open.
	Auth *middleware.AuthMiddleware
}

type Router struct {
	engine  *gin.Engine
	config  RouterConfig
	healthH Handler
	reportH Handler
	metrics *promhandler.Handler
}

func NewRouter(log *logger.Logger, healthH, reportH Handler, metrics *promhandler.Handler, config RouterConfig) *Router {
	engine := gin.New()

	if config.MaxBodySize <= 0 {
		config.MaxBodySize = middleware.DefaultMaxBodySize
	}

	r := &Router{
		engine:  engine,
		config:  config,
		healthH: healthH,
		reportH: reportH,
		metrics: metrics,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logger(log),
		metrics.Middleware(),
		middleware.ErrorHandler(log),
	)

	return r
}

func (r *Router) Setup() {
	r.engine.GET("/metrics", r.metrics.Handler())
	r.healthH.RegisterRoutes(r.engine)

	api := r.engine.Group("/api/v1")
	api.Use(
		func(c *gin.Context) {
			c.Header("X-API-Version", "1.0")
			c.Next()
		},
		middleware.SizeLimit(r.config.MaxBodySize),
		middleware.Timeout(r.config.RequestTimeout),
	)
	if r.config.RateLimit != nil {
		api.Use(middleware.NewRateLimiter(*r.config.RateLimit).RateLimit())
	}
	if r.config.Auth != nil {
		api.Use(r.config.Auth.Authenticate())
	}
	r.reportH.RegisterRoutes(api)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
