// Package cli implements the deid command line interface.
package cli

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/raaihank/phi-deid/internal/config"
	"github.com/raaihank/phi-deid/internal/extraction"
	"github.com/raaihank/phi-deid/internal/logger"
	"github.com/raaihank/phi-deid/internal/privacy"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	version    = "dev"
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "deid",
	Short: "De-identify protected health information in documents",
	Long: `deid extracts text from documents, spreadsheets, PDFs and images and
replaces protected health information with category placeholders.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline activity to stderr")
}

// Execute runs the root command
func Execute(ctx context.Context, v string) error {
	version = v
	return rootCmd.ExecuteContext(ctx)
}

// services are built once per invocation from the loaded configuration
type services struct {
	config   *config.Config
	logger   *logger.Logger
	redactor *privacy.Redactor
	pipeline *extraction.Pipeline
}

var svc *services

func loadServices() (*services, error) {
	if svc != nil {
		return svc, nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log := logger.Nop()
	if verbose {
		zl, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		log = &logger.Logger{Logger: zl}
	}

	redactor := privacy.NewRedactor(privacy.NewRegistry(), log)
	redactor.Configure(cfg.RedactionSettings())

	pipeline, err := extraction.NewDefaultPipeline(cfg.ExtractionConfig(), log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction pipeline: %w", err)
	}

	svc = &services{
		config:   cfg,
		logger:   log,
		redactor: redactor,
		pipeline: pipeline,
	}
	return svc, nil
}

// readSource loads a file from disk the way an upload would arrive
func readSource(path string) (extraction.Source, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return extraction.Source{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	return extraction.Source{
		Name:    name,
		Size:    int64(len(content)),
		MIME:    strings.SplitN(mimeType, ";", 2)[0],
		Content: content,
	}, nil
}

// extractText runs a single file through the extraction pipeline
func extractText(ctx context.Context, s *services, path string) (string, error) {
	src, err := readSource(path)
	if err != nil {
		return "", err
	}
	text, err := s.pipeline.Extract(ctx, src, nil)
	if err != nil {
		return "", fmt.Errorf("failed to extract text from %s: %w", src.Name, err)
	}
	return text, nil
}
