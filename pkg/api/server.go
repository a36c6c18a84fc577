// Package api provides the HTTP control surface: CRUD for LLM configs and
// pipelines, execution lifecycle, findings, summaries, baselines and drift.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/promptshield/promptshield/pkg/database"
	"github.com/promptshield/promptshield/pkg/drift"
	"github.com/promptshield/promptshield/pkg/engine"
	"github.com/promptshield/promptshield/pkg/models"
	"github.com/promptshield/promptshield/pkg/store"
	"github.com/promptshield/promptshield/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	dbClient    *database.Client
	stores      *store.Stores
	pool        *engine.Pool
	driftEngine *drift.Engine
}

// NewServer creates the API server and wires all routes.
func NewServer(dbClient *database.Client, stores *store.Stores, pool *engine.Pool, driftEngine *drift.Engine) *Server {
	s := &Server{
		router:      gin.New(),
		dbClient:    dbClient,
		stores:      stores,
		pool:        pool,
		driftEngine: driftEngine,
	}
	s.router.Use(gin.Recovery(), requestLogger())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/llm-configs", s.createLLMConfigHandler)
		v1.GET("/llm-configs", s.listLLMConfigsHandler)
		v1.GET("/llm-configs/:id", s.getLLMConfigHandler)

		v1.POST("/pipelines", s.createPipelineHandler)
		v1.GET("/pipelines", s.listPipelinesHandler)
		v1.GET("/pipelines/:id", s.getPipelineHandler)

		v1.POST("/executions", s.createExecutionHandler)
		v1.GET("/executions/:id", s.getExecutionHandler)
		v1.DELETE("/executions/:id", s.deleteExecutionHandler)
		v1.POST("/executions/:id/cancel", s.cancelExecutionHandler)
		v1.GET("/executions/:id/findings", s.listFindingsHandler)
		v1.GET("/executions/:id/summary", s.summaryHandler)
		v1.POST("/executions/:id/drift", s.compareDriftHandler)

		v1.POST("/baselines", s.createBaselineHandler)
		v1.GET("/baselines", s.listBaselinesHandler)
		v1.DELETE("/baselines/:id", s.deleteBaselineHandler)
	}
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving on the given address.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler reports DB and worker pool health.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
	status := http.StatusOK
	if err != nil {
		status = http.StatusServiceUnavailable
	}

	queueDepth := -1
	if err == nil {
		if depth, countErr := s.stores.CountByStatus(reqCtx, models.StatusPending); countErr == nil {
			queueDepth = depth
		}
	}

	c.JSON(status, gin.H{
		"status":      dbHealth.Status,
		"version":     version.Version,
		"database":    dbHealth,
		"pool":        s.pool.Health(),
		"queue_depth": queueDepth,
	})
}

// requestLogger logs each request with slog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
