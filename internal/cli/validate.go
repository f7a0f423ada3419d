package cli

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var (
	validateJSON      bool
	validateThreshold float64
)

// errValidationFailed is returned when the success rate is under the threshold
var errValidationFailed = errors.New("redaction validation failed")

var validateCmd = &cobra.Command{
	Use:   "validate [original] [redacted]",
	Short: "Check a redacted file for PHI the redaction missed",
	Args:  cobra.ExactArgs(2),
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "output the report as JSON")
	validateCmd.Flags().Float64Var(&validateThreshold, "threshold", 100, "minimum success rate in percent")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	s, err := loadServices()
	if err != nil {
		return err
	}

	original, err := extractText(cmd.Context(), s, args[0])
	if err != nil {
		return err
	}
	redacted, err := extractText(cmd.Context(), s, args[1])
	if err != nil {
		return err
	}

	report := s.redactor.ValidateRedaction(original, redacted)

	if validateJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	} else {
		cmd.Printf("Original PHI items: %d\n", report.OriginalCount)
		cmd.Printf("Remaining PHI items: %d\n", report.RemainingCount)
		cmd.Printf("Success rate: %.1f%%\n", report.SuccessRatePercent)
		for _, d := range report.Missed {
			cmd.Printf("  missed %s: %s\n", d.Type, d.Value)
		}
	}

	if report.SuccessRatePercent < validateThreshold {
		return fmt.Errorf("%w: %.1f%% is below %.1f%%", errValidationFailed, report.SuccessRatePercent, validateThreshold)
	}
	return nil
}
