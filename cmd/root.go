package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "lead-intake",
	Short: "Lead intake pipeline for ad-platform webhooks",
	Long:  "Receives Meta, Google and Facebook lead webhooks, deduplicates and stores leads per tenant, and scores them with Claude, falling back to a heuristic score.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return validateForCommand(cfg, cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// configModes are the subcommands whose name doubles as a Config.Validate mode.
var configModes = map[string]bool{
	"serve":   true,
	"migrate": true,
	"rescore": true,
	"ingest":  true,
}

// validateForCommand checks c for the sections cmd uses. Commands without a
// mode (help, completion) run on any config.
func validateForCommand(c *config.Config, cmd *cobra.Command) error {
	if !configModes[cmd.Name()] {
		return nil
	}
	return c.Validate(cmd.Name())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
