// Package main provides the Voyage dispatcher: it consumes entity activity
// from the event bus and creates journey runs for matching triggers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"github.com/voyagehq/voyage/pkg/clock"
	"github.com/voyagehq/voyage/pkg/cmd"
	"github.com/voyagehq/voyage/pkg/dispatcher"
	"github.com/voyagehq/voyage/pkg/log"
	"github.com/voyagehq/voyage/pkg/metrics"
	"github.com/voyagehq/voyage/pkg/segment"
)

func main() {
	command := &cli.Command{
		Name:                  "voyage-dispatcher",
		EnableShellCompletion: true,
		Usage:                 "Evaluate journey triggers against entity activity",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dispatcher-id",
				Aliases: []string{"id"},
				Usage:   "Custom dispatcher ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("DISPATCHER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "metrics-url",
				Usage:   "Redis URL for the shared metrics store (optional)",
				Sources: cli.EnvVars("METRICS_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			dispatcherID := command.String("dispatcher-id")
			if dispatcherID == "" {
				dispatcherID = "dispatcher-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("voyage-dispatcher").With("dispatcher_id", dispatcherID)

			logger.InfoContext(ctx, "Initializing Voyage Dispatcher")

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "voyage-dispatcher", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			metricsStore, err := cmd.NewMetricsStore(command.String("metrics-url"), persistence, logger)
			if err != nil {
				return err
			}

			aggregator := metrics.NewAggregator(metricsStore, logger)
			dsp := dispatcher.NewDispatcher(persistence, segment.NewMatcher(), aggregator, eventBus, clock.System(), nil, logger)

			err = dsp.RegisterHandlers(eventBus)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err = eventBus.Subscribe(runCtx)
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Dispatcher running")

			<-runCtx.Done()

			logger.InfoContext(ctx, "Dispatcher stopped")

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
