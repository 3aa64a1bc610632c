package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/gemscap/quantpipe/internal/app"
	"github.com/gemscap/quantpipe/internal/archivist"
	"github.com/gemscap/quantpipe/internal/engine"
	"github.com/gemscap/quantpipe/internal/gateway"
	"github.com/gemscap/quantpipe/internal/logsink"
	"github.com/gemscap/quantpipe/internal/monitor"
)

const (
	engineStartDelay    = 2 * time.Second
	archivistStartDelay = 3 * time.Second // 5 s after the gateway
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline in one process",
		Long: `Starts every service: monitor, log sink and gateway immediately,
the analytics engine two seconds later, the archivist five seconds in.
Stops in reverse order on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			b, err := openBroker(ctx, cfg, "pipeline")
			if err != nil {
				return err
			}
			defer b.Close()

			store, err := openColdStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			mon := monitor.NewServer(cfg.MonitorAddr, version, map[string]monitor.HealthChecker{
				"broker":    func(ctx context.Context) error { return b.Ping(ctx) },
				"coldstore": func(ctx context.Context) error { return store.Ping(ctx) },
			})

			o := app.New()
			o.Add("monitor", 0, mon)
			o.Add("logsink", 0, logsink.New(cfg, logSubscription(b)))
			o.Add("gateway", 0, gateway.New(cfg, b, nil))
			o.Add("engine", engineStartDelay, engine.New(cfg, b))
			o.Add("archivist", archivistStartDelay, archivist.New(cfg, b, store, alertSubscription(b)))
			return o.Run(ctx)
		},
	}
}
