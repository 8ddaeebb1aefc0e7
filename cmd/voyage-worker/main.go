// Package main provides the Voyage worker: it leases due runs and executes
// journey steps.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"github.com/voyagehq/voyage/pkg/clock"
	"github.com/voyagehq/voyage/pkg/cmd"
	"github.com/voyagehq/voyage/pkg/delivery"
	"github.com/voyagehq/voyage/pkg/executor"
	"github.com/voyagehq/voyage/pkg/log"
	"github.com/voyagehq/voyage/pkg/metrics"
	"github.com/voyagehq/voyage/pkg/otelhelper"
	"github.com/voyagehq/voyage/pkg/scheduler"
	"github.com/voyagehq/voyage/pkg/segment"
)

func main() {
	command := &cli.Command{
		Name:                  "voyage-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute journey runs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
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
				Name:    "delivery-endpoint",
				Usage:   "Delivery provider endpoint (log sender when empty)",
				Sources: cli.EnvVars("DELIVERY_ENDPOINT"),
			},
			&cli.StringFlag{
				Name:    "delivery-api-key",
				Usage:   "Delivery provider API key",
				Sources: cli.EnvVars("DELIVERY_API_KEY"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Scheduler poll interval",
				Value:   5 * time.Second,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum runs leased per poll",
				Value:   50,
				Sources: cli.EnvVars("BATCH_SIZE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Emit OpenTelemetry spans for executed steps",
				Sources: cli.EnvVars("OTEL_ENABLED"),
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

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("voyage-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Voyage Worker")

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "voyage-worker", logger)
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

			var sender delivery.Sender
			if endpoint := command.String("delivery-endpoint"); endpoint != "" {
				sender = delivery.NewHTTPSender(endpoint, command.String("delivery-api-key"), logger)
			} else {
				sender = delivery.NewLogSender(logger)
			}

			clk := clock.System()
			aggregator := metrics.NewAggregator(metricsStore, logger)
			exec := executor.NewExecutor(workerID, persistence, segment.NewMatcher(), sender, aggregator, eventBus, clk, logger)

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "voyage-worker")
				if err != nil {
					return err
				}

				exec = exec.WithTracer(tracer)
			}

			sched := scheduler.NewScheduler(workerID, persistence, exec, clk, scheduler.Config{
				PollInterval: command.Duration("poll-interval"),
				BatchSize:    command.Int("batch-size"),
			}, logger)

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err = sched.Start(runCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
