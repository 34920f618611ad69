package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/rhof/internal/registry"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect and validate the source registry",
}

var registryValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate sources.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := registry.Load(cfg.Sync.RegistryPath)
		if err != nil {
			return eris.Wrap(err, "registry validate")
		}

		enabled := reg.Enabled()
		fmt.Printf("%s: %d sources, %d enabled\n", cfg.Sync.RegistryPath, len(reg.Entries()), len(enabled))
		for _, e := range enabled {
			fmt.Printf("  %-24s %-12s %s\n", e.SourceID, e.Crawlability, e.DisplayName)
		}
		return nil
	},
}

func init() {
	registryCmd.AddCommand(registryValidateCmd)
	rootCmd.AddCommand(registryCmd)
}
