package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raaihank/phi-deid/internal/api"
	"github.com/raaihank/phi-deid/internal/cache"
	"github.com/raaihank/phi-deid/internal/config"
	"github.com/raaihank/phi-deid/internal/extraction"
	"github.com/raaihank/phi-deid/internal/generation"
	"github.com/raaihank/phi-deid/internal/inbox"
	"github.com/raaihank/phi-deid/internal/jobs"
	"github.com/raaihank/phi-deid/internal/logger"
	"github.com/raaihank/phi-deid/internal/privacy"
	"github.com/raaihank/phi-deid/internal/queue"
	"github.com/raaihank/phi-deid/internal/settings"
	"github.com/raaihank/phi-deid/internal/websocket"
	"go.uber.org/zap"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	// Show version and exit
	if *showVersion {
		fmt.Printf("phi-deid %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Perform health check and exit
	if *healthCheck {
		performHealthCheck(cfg.Server.Port)
		return
	}

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting phi-deid",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redactor := privacy.NewRedactor(privacy.NewRegistry(), log.WithComponent("privacy"))

	pipeline, err := extraction.NewDefaultPipeline(cfg.ExtractionConfig(), log.Logger)
	if err != nil {
		log.Fatal("Failed to create extraction pipeline", zap.Error(err))
	}

	var extractor extraction.Extractor = pipeline
	var extractionCache cache.Cache
	if cfg.Cache.Enabled {
		extractionCache, err = cache.New(cfg.CacheConfig(), log.Logger)
		if err != nil {
			log.Fatal("Failed to create extraction cache", zap.Error(err))
		}
		defer extractionCache.Close()
		extractor = cache.NewExtractor(pipeline, extractionCache, cfg.CacheConfig(), cfg.PDF.Engine+"/"+cfg.OCR.Language, log.Logger)
	}

	store, err := settings.New(cfg.SettingsConfig(), log.Logger)
	if err != nil {
		log.Fatal("Failed to create settings store", zap.Error(err))
	}
	defer store.Close()

	initial, err := settings.Seed(ctx, store, cfg.RedactionSettings())
	if err != nil {
		log.Fatal("Failed to load redaction settings", zap.Error(err))
	}
	redactor.Configure(initial)

	coordinator := queue.NewCoordinator(cfg.QueueConfig(), extractor, redactor, log.Logger)
	coordinator.SetSettingsStore(store)
	coordinator.OnFailure(func(job jobs.FileJob, err error) {
		log.WithJobID(job.ID).Warn("File could not be de-identified",
			zap.String("file", job.Name),
			zap.Error(err),
		)
	})

	// Generation is optional and only refines rule based output
	var model *generation.Model
	backend, err := generation.NewBackend(cfg.GenerationConfig(), func(text string) string {
		return redactor.Redact(text).Text
	}, log.Logger)
	if err != nil {
		log.Fatal("Failed to create generation backend", zap.Error(err))
	}
	if backend != nil {
		model = generation.NewModel(backend, log.Logger)
		defer model.Close()
		coordinator.SetRefiner(generation.NewRefiner(model, log.Logger))

		if cfg.Generation.AutoLoad {
			go func() {
				if err := model.Load(ctx, cfg.Generation.Model); err != nil {
					log.Warn("Generation model auto-load failed", zap.Error(err))
				}
			}()
		}
	}

	var hub *websocket.Hub
	if cfg.WebSocket.Enabled {
		hub = websocket.NewHub(cfg.HubConfig(), log.Logger)
		coordinator.SetEventSink(hub)
		go hub.Run(ctx)
	}

	if cfg.Inbox.Enabled {
		watcher, err := inbox.New(cfg.InboxConfig(), coordinator, log.Logger)
		if err != nil {
			log.Fatal("Failed to create inbox watcher", zap.Error(err))
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.Error("Inbox watcher stopped", zap.Error(err))
			}
		}()
	}

	server := api.New(cfg.APIConfig(), api.Dependencies{
		Queue:     coordinator,
		Redactor:  redactor,
		Model:     model,
		ModelPath: cfg.Generation.Model,
		Hub:       hub,
		Cache:     extractionCache,
		Version:   version,
	}, log)

	// Queue limits follow the config file; everything else needs a restart
	if err := config.Watch(func(newCfg *config.Config) {
		log.Info("Configuration file changed")
		coordinator.Reconfigure(newCfg.QueueConfig())
	}, func(err error) {
		log.Warn("Ignoring configuration change", zap.Error(err))
	}); err != nil {
		log.Debug("Configuration hot reload disabled", zap.Error(err))
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- server.Start()
	}()

	// Setup graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(port int) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/health", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
