package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/rhof/internal/artifact"
	"github.com/sells-group/rhof/internal/fetcher"
	"github.com/sells-group/rhof/internal/registry"
	"github.com/sells-group/rhof/internal/rules"
	"github.com/sells-group/rhof/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run and inspect ingestion sync runs",
}

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one sync pass over every enabled source",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "sync run: migrate store")
		}

		reg, err := registry.Load(cfg.Sync.RegistryPath)
		if err != nil {
			return eris.Wrap(err, "sync run: load registry")
		}

		engine, err := rules.Load(cfg.Sync.RulesDir)
		if err != nil {
			return eris.Wrap(err, "sync run: load rule engine")
		}

		mode := sync.ModeFixture
		var fx fetcher.Fetcher
		if cfg.Sync.Mode == string(sync.ModeLive) {
			mode = sync.ModeLive
			artifactStore := artifact.New(cfg.Artifacts.Dir)
			fx = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
				MaxRetries:     cfg.HTTP.MaxRetries,
				BaseBackoff:    time.Duration(cfg.HTTP.BaseBackoffMS) * time.Millisecond,
				MaxConcurrency: int64(cfg.HTTP.MaxConcurrency),
			}, artifactStore)
		}

		orch := &sync.Orchestrator{
			Store:      st,
			Registry:   reg,
			Rules:      engine,
			Fetcher:    fx,
			Mode:       mode,
			FixtureDir: cfg.Sync.FixtureDir,
			ManualDir:  cfg.Sync.ManualDir,
			ReportsDir: cfg.Reports.Dir,
		}

		report, err := orch.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "sync run")
		}

		zap.L().Info("sync run complete",
			zap.String("run_id", report.FetchRunID),
			zap.Int("opportunities_new", report.Summary.OpportunitiesNew),
			zap.Int("opportunities_updated", report.Summary.OpportunitiesUpdated),
			zap.Int("opportunities_unchanged", report.Summary.OpportunitiesUnchanged),
			zap.Int("review_items_opened", report.Summary.ReviewItemsOpened),
		)
		fmt.Println(report.ReportDir)
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncRunCmd)
	rootCmd.AddCommand(syncCmd)
}
