package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/lead-intake/internal/ingest"
)

var (
	rescoreLimit       int
	rescoreConcurrency int
	rescoreFallback    bool
	rescoreTenant      string
)

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Retry failed score writes and optionally rescore heuristic-scored leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Ingest.DrainRetries(ctx, rescoreLimit, rescoreConcurrency)
		if err != nil {
			return err
		}
		printReport(cmd, "score retries", report)

		if !rescoreFallback {
			return nil
		}
		report, err = env.Ingest.RescoreFallbacks(ctx, rescoreTenant, rescoreLimit, rescoreConcurrency)
		if err != nil {
			return err
		}
		printReport(cmd, "heuristic leads", report)
		return nil
	},
}

func printReport(cmd *cobra.Command, label string, r ingest.RescoreReport) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s: attempted=%d succeeded=%d failed=%d dropped=%d\n",
		label, r.Attempted, r.Succeeded, r.Failed, r.Dropped)
}

func init() {
	rescoreCmd.Flags().IntVar(&rescoreLimit, "limit", 100, "max entries to process")
	rescoreCmd.Flags().IntVar(&rescoreConcurrency, "concurrency", 4, "parallel scoring calls")
	rescoreCmd.Flags().BoolVar(&rescoreFallback, "fallback", false, "also rescore leads last scored by the heuristic")
	rescoreCmd.Flags().StringVar(&rescoreTenant, "tenant", "", "limit --fallback to one tenant")
	rootCmd.AddCommand(rescoreCmd)
}
