package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "quantpipe"
	version = "v1.0.0"
)

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Real-time market data analytics pipeline",
		Version: version,
		Long: `quantpipe ingests exchange trade streams, maintains rolling pair
analytics in Redis and archives everything to TimescaleDB.

Run 'quantpipe run' for the full pipeline, or start individual services
for a distributed deployment.`,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")

	rootCmd.AddCommand(
		newRunCmd(),
		newGatewayCmd(),
		newEngineCmd(),
		newArchiveCmd(),
		newLogsinkCmd(),
		newMonitorCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
