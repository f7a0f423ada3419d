package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/raaihank/phi-deid/internal/export"
	"github.com/raaihank/phi-deid/internal/extraction"
	"github.com/raaihank/phi-deid/internal/privacy"
	"github.com/raaihank/phi-deid/internal/queue"
	"github.com/spf13/cobra"
)

var (
	redactFormat   string
	redactMetadata bool
	redactOutput   string
	redactDisable  []string
)

var redactCmd = &cobra.Command{
	Use:   "redact [files...]",
	Short: "De-identify files and export the results",
	Long: `Runs every file through extraction and redaction as one batch and writes
the completed results in the selected export format. Unsupported files are
skipped and failed files are reported without stopping the batch.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRedact,
}

func init() {
	redactCmd.Flags().StringVarP(&redactFormat, "format", "f", "", "export format: txt, csv, json or parquet (default from config)")
	redactCmd.Flags().BoolVar(&redactMetadata, "metadata", false, "include processing metadata in the export")
	redactCmd.Flags().StringVarP(&redactOutput, "output", "o", "", "write the export to a file instead of stdout")
	redactCmd.Flags().StringSliceVar(&redactDisable, "disable", nil, "categories to leave unredacted, e.g. names,dates")
	rootCmd.AddCommand(redactCmd)
}

func runRedact(cmd *cobra.Command, args []string) error {
	s, err := loadServices()
	if err != nil {
		return err
	}

	formatName := redactFormat
	if formatName == "" {
		formatName = s.config.Export.Format
	}
	format, err := export.ParseFormat(formatName)
	if err != nil {
		return err
	}

	settings := s.redactor.Config()
	for _, name := range redactDisable {
		category, ok := privacy.ParseCategory(name)
		if !ok {
			return fmt.Errorf("unknown category: %s", name)
		}
		settings.Set(category, false)
	}

	q := queue.NewCoordinator(s.config.QueueConfig(), s.pipeline, s.redactor, s.logger.Logger)
	if err := q.UpdateSettings(cmd.Context(), settings); err != nil {
		return err
	}

	sources := make([]extraction.Source, 0, len(args))
	for _, path := range args {
		src, err := readSource(path)
		if err != nil {
			return err
		}
		sources = append(sources, src)
	}

	enqueued := q.Enqueue(sources)
	if enqueued.Skipped != nil {
		cmd.PrintErrln(enqueued.Skipped.Error())
	}
	if len(enqueued.Jobs) == 0 {
		return errors.New("no supported files to process")
	}

	batch, err := q.ProcessAll(cmd.Context())
	if err != nil {
		return fmt.Errorf("processing interrupted: %w", err)
	}
	for _, failure := range batch.Failures {
		cmd.PrintErrf("%s: %s\n", failure.Name, failure.Error)
	}
	if batch.Completed == 0 {
		return errors.New("no files were de-identified")
	}

	var out io.Writer = cmd.OutOrStdout()
	if redactOutput != "" {
		f, err := os.Create(redactOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	opts := export.Options{
		Format:          format,
		IncludeMetadata: redactMetadata || s.config.Export.IncludeMetadata,
		Settings:        q.Settings(),
	}
	if err := export.Write(out, q.Archive(), opts); err != nil {
		return fmt.Errorf("failed to export results: %w", err)
	}

	if redactOutput != "" {
		cmd.PrintErrf("Wrote %d de-identified file(s) to %s\n", batch.Completed, redactOutput)
	}
	return nil
}
