package main

import (
	"github.com/Sternrassler/inventory-engine/pkg/logging"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var cfg Config

	rootCmd := &cobra.Command{
		Use:   "inventoryctl",
		Short: "Page through catalog inventories",
		Long: `inventoryctl browses user inventories of the catalog service.

Pages are fetched lazily from the catalog and exposed in UI sized pages.
Concurrent loads of the same inventory share a single catalog request.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig()
			if err != nil {
				return err
			}
			cfg = loaded

			level, _ := logging.ParseLevel(cfg.LogLevel)
			logging.Setup(logging.Config{
				Level:  level,
				Pretty: cfg.LogPretty,
				Output: cmd.ErrOrStderr(),
			})
			return nil
		},
	}

	rootCmd.AddCommand(newServeCmd(&cfg), newListCmd(&cfg))
	return rootCmd
}
