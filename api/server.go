package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"example.com/dronedelivery/cache"
	"example.com/dronedelivery/config"
	"example.com/dronedelivery/drone"
	"example.com/dronedelivery/eventstore"
	"example.com/dronedelivery/metrics"
	"example.com/dronedelivery/saga"
)

// Server is the HTTP server for the API
type Server struct {
	cfg         config.Config
	router      *gin.Engine
	httpServer  *http.Server
	coordinator *saga.Coordinator
	drones      *drone.Service
	store       eventstore.EventStore
	cache       *cache.RedisCache
	collector   *metrics.Collector
	validate    *validator.Validate
}

// NewServer creates a new API server
func NewServer(
	cfg config.Config,
	coordinator *saga.Coordinator,
	drones *drone.Service,
	store eventstore.EventStore,
	redisCache *cache.RedisCache,
	collector *metrics.Collector,
) *Server {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		cfg:         cfg,
		router:      gin.New(),
		coordinator: coordinator,
		drones:      drones,
		store:       store,
		cache:       redisCache,
		collector:   collector,
		validate:    validator.New(),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware adds middleware to the router
func (s *Server) setupMiddleware() {
	s.router.Use(RequestIDMiddleware())

	if s.cfg.CorsEnabled {
		s.router.Use(CORSMiddleware(s.cfg.CorsOrigins))
	}

	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware())
}

// setupRoutes defines the API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	// Metrics snapshot
	s.router.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.collector.Snapshot())
	})

	v1 := s.router.Group("/api/v1")

	orderRoutes := v1.Group("/orders")
	{
		orderRoutes.POST("", s.createOrder)
		orderRoutes.GET("/:id/saga", s.getOrderSaga)
		orderRoutes.GET("/:id/events", s.getOrderEvents)
	}

	droneRoutes := v1.Group("/drones")
	{
		droneRoutes.GET("/:id", s.getDrone)
		droneRoutes.GET("/:id/events", s.getDroneEvents)
		droneRoutes.POST("/:id/rebuild", s.rebuildDrone)
	}
}

// Router exposes the underlying router, used by handler tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.ServerAddress,
		Handler: s.router,
	}

	log.Info().Msgf("HTTP server starting on %s", s.cfg.ServerAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
