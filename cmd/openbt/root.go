package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/openbt/openbt/internal/config"
	"github.com/openbt/openbt/internal/logger"
)

var (
	cfgPath string
	appCfg  *config.AppConfig
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "openbt",
		Short: "Backtest scheduler and simulation engine",
		Long: `openbt replays historical market data through trading strategies,
tracks portfolio performance, and schedules backtest jobs over an HTTP API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Values in the environment take precedence over .env.
			_ = godotenv.Load()

			var err error
			appCfg, err = config.Load(cfgPath)
			if err != nil {
				return err
			}

			logger.SetDefault(logger.New(&logger.Config{
				Level:  logger.ParseLevel(appCfg.Logging.Level),
				Format: appCfg.Logging.Format,
			}))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")

	root.AddCommand(newRunCmd())
	root.AddCommand(newSweepCmd())
	root.AddCommand(newServeCmd())
	return root
}
