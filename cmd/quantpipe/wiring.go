package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gemscap/quantpipe/internal/archivist"
	"github.com/gemscap/quantpipe/internal/broker"
	"github.com/gemscap/quantpipe/internal/coldstore"
	"github.com/gemscap/quantpipe/internal/config"
	"github.com/gemscap/quantpipe/internal/logsink"
	"github.com/gemscap/quantpipe/internal/model"
)

func loadSettings() (config.Settings, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Settings{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func openBroker(ctx context.Context, cfg config.Settings, service string) (*broker.Client, error) {
	c, err := broker.NewClient(ctx, cfg.RedisURL, service)
	if err != nil {
		return nil, err
	}
	forwardOpLogs(ctx, c)
	return c, nil
}

// forwardOpLogs mirrors per-operation records onto the central log channel
// through a bounded queue. Publish records themselves are dropped so the
// forwarder cannot feed on its own output, and a full queue sheds instead of
// slowing the data path.
func forwardOpLogs(ctx context.Context, c *broker.Client) {
	ch := make(chan model.LogEntry, 1024)
	c.SetOpLog(func(e model.LogEntry) {
		select {
		case ch <- e:
		default:
		}
	})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-ch:
				if e.Operation == "pubsub_publish" || e.Operation == "pubsub_subscribe" {
					continue
				}
				_ = c.Publish(ctx, config.ChannelLogs, e)
			}
		}
	}()
}

func openColdStore(ctx context.Context, cfg config.Settings) (*coldstore.Store, error) {
	store, err := coldstore.Open(ctx, cfg.TimescaleURL)
	if err != nil {
		return nil, err
	}
	if err := store.Bootstrap(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func alertSubscription(c *broker.Client) archivist.SubscribeFunc {
	return func(ctx context.Context) archivist.AlertSource {
		return c.Subscribe(ctx, config.ChannelAlerts)
	}
}

func logSubscription(c *broker.Client) logsink.SubscribeFunc {
	return func(ctx context.Context) logsink.Source {
		return c.Subscribe(ctx, config.ChannelLogs)
	}
}
