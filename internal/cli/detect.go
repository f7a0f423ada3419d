package cli

import (
	"fmt"
	"sort"

	json "github.com/goccy/go-json"
	"github.com/raaihank/phi-deid/internal/privacy"
	"github.com/spf13/cobra"
)

var detectJSON bool

var detectCmd = &cobra.Command{
	Use:   "detect [file]",
	Short: "List the PHI found in a file without redacting it",
	Args:  cobra.ExactArgs(1),
	RunE:  runDetect,
}

func init() {
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "output detections as JSON")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	s, err := loadServices()
	if err != nil {
		return err
	}

	text, err := extractText(cmd.Context(), s, args[0])
	if err != nil {
		return err
	}

	detections := s.redactor.Detect(text)
	stats := privacy.Summarize(detections)

	if detectJSON {
		data, err := json.MarshalIndent(map[string]interface{}{
			"detections": detections,
			"stats":      stats,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal detections: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	if len(detections) == 0 {
		cmd.Println("No PHI detected.")
		return nil
	}

	for _, d := range detections {
		cmd.Printf("%6d  %-16s %s\n", d.Position, d.Type, d.Value)
	}
	cmd.Println()

	types := make([]string, 0, len(stats.ByType))
	for t := range stats.ByType {
		types = append(types, t)
	}
	sort.Strings(types)

	cmd.Printf("%d item(s), %d unique\n", stats.Total, stats.UniqueCount)
	for _, t := range types {
		cmd.Printf("  %s: %d\n", t, stats.ByType[t])
	}
	return nil
}
