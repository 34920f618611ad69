package main

import (
	"fmt"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	rhofadapter "github.com/sells-group/rhof/internal/adapter"
	"github.com/sells-group/rhof/internal/registry"
)

var adapterCmd = &cobra.Command{
	Use:   "adapter",
	Short: "Exercise a single registered source adapter",
}

var adapterTestCmd = &cobra.Command{
	Use:   "test <source_id> <fixture_id>",
	Short: "Replay one fixture bundle through an adapter and print evidence coverage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceID, fixtureID := args[0], args[1]

		a, ok := rhofadapter.For(sourceID)
		if !ok {
			return eris.Errorf("adapter test: no adapter registered for source %q", sourceID)
		}

		bundleDir := filepath.Join(cfg.Sync.FixtureDir, sourceID, fixtureID)
		bundle, err := registry.LoadBundle(filepath.Join(bundleDir, "bundle.json"))
		if err != nil {
			return eris.Wrap(err, "adapter test: load bundle")
		}

		artifacts, err := rhofadapter.ParseFixtureBundle(a, filepath.Join(bundleDir, "raw"), bundle)
		if err != nil {
			return eris.Wrap(err, "adapter test: parse bundle")
		}

		var draftCount int
		for _, fa := range artifacts {
			for _, d := range fa.Drafts {
				draftCount++
				fmt.Printf("draft %d: title=%q company=%q evidence_coverage=%.1f%%\n",
					draftCount, d.Title.ValueOr(""), d.Company.ValueOr(""), d.EvidenceCoveragePercent())
			}
		}
		fmt.Printf("%s/%s: %d raw artifacts, %d drafts\n", sourceID, fixtureID, len(artifacts), draftCount)
		return nil
	},
}

func init() {
	adapterCmd.AddCommand(adapterTestCmd)
	rootCmd.AddCommand(adapterCmd)
}
