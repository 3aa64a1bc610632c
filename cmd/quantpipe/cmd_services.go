package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/gemscap/quantpipe/internal/app"
	"github.com/gemscap/quantpipe/internal/archivist"
	"github.com/gemscap/quantpipe/internal/engine"
	"github.com/gemscap/quantpipe/internal/gateway"
	"github.com/gemscap/quantpipe/internal/logsink"
	"github.com/gemscap/quantpipe/internal/monitor"
)

// runSingle wires one service plus signal handling and blocks until shutdown.
func runSingle(name string, build func(ctx context.Context) (app.Service, func(), error)) error {
	ctx, stop := signalContext()
	defer stop()

	svc, cleanup, err := build(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	o := app.New()
	o.Add(name, 0, svc)
	return o.Run(ctx)
}

func newGatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run only the exchange ingestion gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			return runSingle("gateway", func(ctx context.Context) (app.Service, func(), error) {
				b, err := openBroker(ctx, cfg, "gateway")
				if err != nil {
					return nil, nil, err
				}
				return gateway.New(cfg, b, nil), func() { b.Close() }, nil
			})
		},
	}
}

func newEngineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "engine",
		Short: "Run only the analytics engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			return runSingle("engine", func(ctx context.Context) (app.Service, func(), error) {
				b, err := openBroker(ctx, cfg, "engine")
				if err != nil {
					return nil, nil, err
				}
				return engine.New(cfg, b), func() { b.Close() }, nil
			})
		},
	}
}

func newArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Run only the cold store archivist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			return runSingle("archivist", func(ctx context.Context) (app.Service, func(), error) {
				b, err := openBroker(ctx, cfg, "archivist")
				if err != nil {
					return nil, nil, err
				}
				store, err := openColdStore(ctx, cfg)
				if err != nil {
					b.Close()
					return nil, nil, err
				}
				cleanup := func() {
					store.Close()
					b.Close()
				}
				return archivist.New(cfg, b, store, alertSubscription(b)), cleanup, nil
			})
		},
	}
}

func newLogsinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logsink",
		Short: "Run only the central log sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			return runSingle("logsink", func(ctx context.Context) (app.Service, func(), error) {
				b, err := openBroker(ctx, cfg, "logsink")
				if err != nil {
					return nil, nil, err
				}
				return logsink.New(cfg, logSubscription(b)), func() { b.Close() }, nil
			})
		},
	}
}

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run only the health and metrics server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			return runSingle("monitor", func(ctx context.Context) (app.Service, func(), error) {
				b, err := openBroker(ctx, cfg, "monitor")
				if err != nil {
					return nil, nil, err
				}
				mon := monitor.NewServer(cfg.MonitorAddr, version, map[string]monitor.HealthChecker{
					"broker": func(ctx context.Context) error { return b.Ping(ctx) },
				})
				return mon, func() { b.Close() }, nil
			})
		},
	}
}
