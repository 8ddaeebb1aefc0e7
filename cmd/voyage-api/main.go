package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
	"github.com/voyagehq/voyage/pkg/cmd"
	"github.com/voyagehq/voyage/pkg/log"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "voyage-api",
		Usage:                 "Create and manage journeys, segments, and entity ingestion",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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

			logger.InfoContext(ctx, "Initializing Voyage API")

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

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "voyage-api", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			metricsStore, err := cmd.NewMetricsStore(command.String("metrics-url"), persistence, logger)
			if err != nil {
				return err
			}

			api, err := NewAPI(logger, persistence, eventBus, metricsStore)
			if err != nil {
				return err
			}

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
