// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mdt-discovery/internal/config"
	"mdt-discovery/internal/handler"
	"mdt-discovery/internal/middleware"
	"mdt-discovery/internal/service"
	"mdt-discovery/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config      *config.Config
	logger      *zap.Logger
	scanService *service.ScanService
	eventBus    *handler.EventBus
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	scanService *service.ScanService,
	eventBus *handler.EventBus,
) *Router {
	return &Router{
		config:      config,
		logger:      logger,
		scanService: scanService,
		eventBus:    eventBus,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Server))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.config, r.logger)
	scanHandler := handler.NewScanHandler(r.scanService, r.logger)
	wsHandler := handler.NewWebSocketHandler(r.eventBus, r.logger)

	// Health check routes
	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/live", healthHandler.LivenessCheck)

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/scan", scanHandler.RunScan)
		apiV1.GET("/scan/last", scanHandler.LastResult)
		apiV1.GET("/ports", scanHandler.ListPorts)
	}

	// WebSocket routes
	ws := router.Group("/ws")
	{
		ws.GET("/events", wsHandler.HandleEventConnection)
	}

	r.logger.Info("All routes configured successfully")
}
