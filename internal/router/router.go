package router

import (
	"net/http"
	"time"

	"leadwire/internal/common"
	"leadwire/internal/config"
	"leadwire/internal/domain/sandbox"
	"leadwire/internal/middleware"

	"github.com/gin-gonic/gin"
)

// New creates and configures the Gin router with all middleware and routes.
func New(
	cfg *config.Config,
	sandboxHandler *sandbox.Handler,
	verify middleware.AccessVerifier,
	rateLimiter *middleware.RateLimiter,
) *gin.Engine {
	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()

	// Global middleware stack (order matters)
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))
	if rateLimiter != nil {
		r.Use(rateLimiter.Middleware())
	}

	r.NoRoute(func(c *gin.Context) {
		common.Error(c, http.StatusNotFound, "route not found")
	})

	// Public routes
	r.GET("/health", healthCheck)
	public := r.Group("/")

	// Bearer-protected routes
	protected := r.Group("/")
	protected.Use(middleware.Auth(verify))

	sandboxHandler.RegisterRoutes(public, protected)

	return r
}

// healthCheck handles GET /health
func healthCheck(c *gin.Context) {
	common.Success(c, http.StatusOK, gin.H{
		"status":  "ok",
		"service": "leadwire-devserver",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}
