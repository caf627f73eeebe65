package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tavolo-project/tavolo/internal/config"
	"github.com/tavolo-project/tavolo/internal/history"
	"github.com/tavolo-project/tavolo/internal/server"
)

// Server is the HTTP monitor server. Every endpoint is read-only; the game
// is administered in-band through chat commands or the operator console.
type Server struct {
	cfg   *config.Config
	game  *server.Server
	store *history.Store

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the monitor server. store may be nil when history is
// disabled.
func NewServer(cfg *config.Config, game *server.Server, store *history.Store) *Server {
	if cfg.GetApplication().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:   cfg,
		game:  game,
		store: store,
	}
}

// Start serves the monitor API until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.buildRouter()

	addr := fmt.Sprintf(":%d", s.cfg.GetApplication().API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// SO_REUSEADDR for immediate rebinding after restart
	lc := server.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("monitor API starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.GetApplication().API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(100)
	router.Use(rateLimiter.Middleware())

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/status", s.handleStatus)
		api.GET("/players", s.handlePlayers)
		api.GET("/table", s.handleTable)
		api.GET("/health", s.handleHealth)
		api.GET("/matches", s.handleMatches)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
