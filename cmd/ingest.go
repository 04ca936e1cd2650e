package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/extract"
	"github.com/sells-group/lead-intake/internal/ingest"
	"github.com/sells-group/lead-intake/internal/model"
)

var (
	ingestTenant string
	ingestSource string
	ingestFile   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Replay a saved webhook body through the intake pipeline",
	Long:  "Reads a webhook body from --file (or stdin with -) and ingests every lead it contains for --tenant. Prints one JSON result per lead.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		source := model.Source(ingestSource)
		if !source.Valid() {
			return eris.Errorf("unknown source %q", ingestSource)
		}

		body, err := readInput(cmd, ingestFile)
		if err != nil {
			return err
		}
		events, err := extract.Decode(body)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, ev := range events {
			res, err := env.Ingest.Ingest(ctx, ingest.Request{TenantID: ingestTenant, Source: source, Event: ev})
			if err != nil {
				return eris.Wrapf(err, "ingest lead %q", ev.PlatformLeadID)
			}
			if err := enc.Encode(res); err != nil {
				return eris.Wrap(err, "write result")
			}
		}

		zap.L().Info("replay complete", zap.Int("events", len(events)))
		return nil
	},
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		return b, eris.Wrap(err, "read stdin")
	}
	b, err := os.ReadFile(path)
	return b, eris.Wrapf(err, "read %s", path)
}

func init() {
	ingestCmd.Flags().StringVar(&ingestTenant, "tenant", "", "tenant id that owns the leads")
	ingestCmd.Flags().StringVar(&ingestSource, "source", string(model.SourceMetaAds), "lead source")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "webhook body file, or - for stdin")
	_ = ingestCmd.MarkFlagRequired("tenant")
	_ = ingestCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(ingestCmd)
}
