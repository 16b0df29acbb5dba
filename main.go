package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cppla/goaltrack/config"
	"github.com/cppla/goaltrack/utils"
)

func main() {
	root := &cobra.Command{
		Use:           "goaltrack",
		Short:         "Goal tracking companion service and daily routine reset",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			// Initialize logger early
			return utils.InitLogger(cfg)
		},
	}
	root.AddCommand(serveCmd(), resetCmd(), goalsCmd(), markerCmd(), tokenCmd())

	if err := root.Execute(); err != nil {
		utils.Sugar.Errorf("%v", err)
		_ = utils.Logger.Sync()
		os.Exit(1)
	}
	_ = utils.Logger.Sync()
}
