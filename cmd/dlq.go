package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/vigia-labs/scamwatch/internal/resilience"
)

var (
	dlqErrorType string
	dlqLimit     int
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List dead-lettered batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.ListDeadLetters(ctx, resilience.DeadLetterFilter{
			ErrorType: dlqErrorType,
			Limit:     dlqLimit,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	},
}

func init() {
	dlqCmd.Flags().StringVar(&dlqErrorType, "error-type", "", `filter by error type ("transient" or "permanent")`)
	dlqCmd.Flags().IntVar(&dlqLimit, "limit", 50, "maximum entries to return")
	rootCmd.AddCommand(dlqCmd)
}
