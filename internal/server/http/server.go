// Package http exposes the run service over HTTP and websockets.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quill/internal/app"
	"quill/internal/shared/logging"
)

// Config configures the HTTP server.
type Config struct {
	Addr           string
	AllowedOrigins []string
	Debug          bool
	ReadTimeout    time.Duration
}

// Server serves the quill API.
type Server struct {
	runs       *app.Service
	personas   *app.PersonaService
	gatherer   prometheus.Gatherer
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     logging.Logger
	startTime  time.Time
}

// NewServer builds the router. personas and gatherer may be nil; the
// corresponding routes then answer 503 and the default registry.
func NewServer(cfg Config, runs *app.Service, personas *app.PersonaService, gatherer prometheus.Gatherer) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}

	s := &Server{
		runs:      runs,
		personas:  personas,
		gatherer:  gatherer,
		engine:    gin.New(),
		logger:    logging.NewComponentLogger("HTTP"),
		startTime: time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(requestLogger(s.logger))
	s.engine.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
	s.routes()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: cfg.ReadTimeout,
	}
	return s
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", CallerHeader}
	cfg.AllowWebSockets = true
	return cfg
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := s.engine.Group("/api")
	api.Use(callerMiddleware())

	runs := api.Group("/runs")
	{
		runs.POST("", s.handleStartRun)
		runs.GET("", s.handleActiveRuns)
		runs.GET("/:id", s.handlePoll)
		runs.GET("/:id/result", s.handleResult)
		runs.DELETE("/:id", s.handleCancel)
		runs.GET("/:id/stream", s.handleStream)
	}

	history := api.Group("/history")
	{
		history.GET("", s.handleHistory)
		history.GET("/:id", s.handleHistoryRecord)
		history.DELETE("/:id", s.handleDeleteHistory)
	}

	personas := api.Group("/personas")
	{
		personas.GET("", s.handlePool)
		personas.GET("/profiles", s.handleProfiles)
		personas.POST("/profiles", s.handleGenerateProfile)
		personas.GET("/profiles/:id", s.handleProfile)
		personas.PUT("/profiles/:id/active", s.handleSetActive)
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves until ctx ends, then shuts down gracefully within
// shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	<-errCh
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	writeData(c, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
	})
}
