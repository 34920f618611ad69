package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	// Registers every concrete source adapter's init() against
	// internal/adapter's process-wide table.
	_ "github.com/sells-group/rhof/internal/adapter/sources"
	"github.com/sells-group/rhof/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "rhof",
	Short: "Remote-work opportunity ingestion pipeline",
	Long:  "Fetches, deduplicates, enriches, versions, and snapshots remote-work opportunity listings from a configured source registry.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
