package handlers

import (
	"net/http"

	"logging_proxy/internal/logger"
	"logging_proxy/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires the dashboard HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger

	requireAuth    bool
	metrics        http.Handler
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// Option customizes a Handler.
type Option func(*Handler)

// WithAuth requires a valid token on /ws and /api/v1.
func WithAuth(enabled bool) Option {
	return func(h *Handler) { h.requireAuth = enabled }
}

// WithMetrics mounts a Prometheus handler on /metrics.
func WithMetrics(metrics http.Handler) Option {
	return func(h *Handler) { h.metrics = metrics }
}

// WithAllowedOrigins sets the Origin values accepted on websocket upgrade.
// "*" accepts any origin; an empty list accepts same-host requests only.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) { h.allowedOrigins = origins }
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger, opts ...Option) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	h := &Handler{services: services, log: log}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health endpoint
	router.GET("/health", h.health)

	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	// Auth endpoints
	if h.services.Authorization != nil {
		h.registerAuthRoutes(router)
	}

	// Versioned API endpoints
	h.registerAPIRoutes(router)

	// Observer stream
	router.GET("/ws", h.observerAuthMiddleware, h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.observerAuthMiddleware)
	{
		api.GET("/stats", h.getStats)
	}
}
