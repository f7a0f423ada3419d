package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/phi-deid/internal/cache"
	"github.com/raaihank/phi-deid/internal/generation"
	"github.com/raaihank/phi-deid/internal/logger"
	"github.com/raaihank/phi-deid/internal/privacy"
	"github.com/raaihank/phi-deid/internal/queue"
	"github.com/raaihank/phi-deid/internal/websocket"
	"go.uber.org/zap"
)

// Config contains HTTP server configuration
type Config struct {
	Port           int             `yaml:"port" mapstructure:"port"`
	ReadTimeout    time.Duration   `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration   `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout    time.Duration   `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxUploadBytes int64           `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// Dependencies are the components the API serves
type Dependencies struct {
	Queue    *queue.Coordinator
	Redactor *privacy.Redactor
	// Model is nil when generation is disabled
	Model     *generation.Model
	ModelPath string
	// Hub is nil when websocket events are disabled
	Hub *websocket.Hub
	// Cache is nil when the extraction cache is disabled
	Cache   cache.Cache
	Version string
}

// Server is the HTTP API of the de-identification service
type Server struct {
	config  Config
	deps    Dependencies
	logger  *logger.Logger
	router  *mux.Router
	server  *http.Server
	limiter *RateLimiter

	// background drains outlive the request that started them
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// New creates a new API server instance
func New(cfg Config, deps Dependencies, log *logger.Logger) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:     cfg,
		deps:       deps,
		logger:     log.WithComponent("api"),
		router:     mux.NewRouter(),
		limiter:    NewRateLimiter(cfg.RateLimit),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	if s.deps.Hub != nil {
		s.router.HandleFunc("/ws", s.deps.Hub.HandleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.loggingMiddleware)

	api.Handle("/jobs", s.rateLimitMiddleware(http.HandlerFunc(s.handleEnqueue))).Methods("POST")
	api.HandleFunc("/jobs", s.handlePending).Methods("GET")
	api.HandleFunc("/jobs/process", s.handleProcessAll).Methods("POST")
	api.HandleFunc("/jobs/process-next", s.handleProcessNext).Methods("POST")

	api.HandleFunc("/archive", s.handleArchive).Methods("GET")
	api.HandleFunc("/archive", s.handleClearArchive).Methods("DELETE")
	api.HandleFunc("/archive/{id}", s.handleArchivedJob).Methods("GET")
	api.HandleFunc("/archive/{id}/export", s.handleExportJob).Methods("GET")
	api.HandleFunc("/export", s.handleExport).Methods("GET")

	api.HandleFunc("/settings", s.handleGetSettings).Methods("GET")
	api.HandleFunc("/settings", s.handlePutSettings).Methods("PUT")

	api.HandleFunc("/detect", s.handleDetect).Methods("POST")
	api.HandleFunc("/redact", s.handleRedact).Methods("POST")
	api.HandleFunc("/validate", s.handleValidate).Methods("POST")

	if s.deps.Cache != nil {
		api.HandleFunc("/cache", s.handleCacheStats).Methods("GET")
		api.HandleFunc("/cache", s.handleClearCache).Methods("DELETE")
	}

	api.HandleFunc("/model", s.handleModelStatus).Methods("GET")
	api.HandleFunc("/model/load", s.handleModelLoad).Methods("POST")
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting PHI de-identification server",
		zap.Int("port", s.config.Port),
		zap.Bool("rate_limit", s.config.RateLimit.Enabled),
		zap.Bool("generation", s.deps.Model != nil),
		zap.Bool("websocket", s.deps.Hub != nil),
	)

	go s.limiter.StartCleanupRoutine(s.baseCtx)

	return s.server.ListenAndServe()
}

// Stop cancels background drains and gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PHI de-identification server")
	s.cancelBase()
	return s.server.Shutdown(ctx)
}
