package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Eld3rt/aflow-sub000/pkg/cmd"
	"github.com/Eld3rt/aflow-sub000/pkg/log"
	"github.com/Eld3rt/aflow-sub000/pkg/metrics"
	"github.com/Eld3rt/aflow-sub000/pkg/notification"
	"github.com/Eld3rt/aflow-sub000/pkg/otelhelper"
	"github.com/Eld3rt/aflow-sub000/pkg/queue"
	"github.com/Eld3rt/aflow-sub000/pkg/scheduler"
	"github.com/Eld3rt/aflow-sub000/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v3"
)

const defaultMetricsPort = 9092

func main() {
	cmd := &cli.Command{
		Name:                  "aflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Consume the job queue and execute workflows",
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
				Usage:    "Database connection URL for persistence (postgres:// or a directory)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "redis-url",
				Usage:    "Redis connection URL for the job queue",
				Required: true,
				Sources:  cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "queue-prefix",
				Usage:   "Key prefix of the job queue",
				Value:   queue.DefaultPrefix,
				Sources: cli.EnvVars("QUEUE_PREFIX"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Number of jobs processed in parallel",
				Value:   queue.DefaultConcurrency,
				Sources: cli.EnvVars("WORKER_CONCURRENCY"),
			},
			&cli.DurationFlag{
				Name:    "lease-ttl",
				Usage:   "How long a silent worker keeps its in-flight jobs before others take them back",
				Value:   queue.DefaultLeaseTTL,
				Sources: cli.EnvVars("WORKER_LEASE_TTL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers for the kafka event bus",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "smtp-host",
				Usage:   "SMTP host for email notifications",
				Sources: cli.EnvVars("SMTP_HOST"),
			},
			&cli.IntFlag{
				Name:    "smtp-port",
				Usage:   "SMTP port for email notifications",
				Value:   587,
				Sources: cli.EnvVars("SMTP_PORT"),
			},
			&cli.StringFlag{
				Name:    "smtp-username",
				Usage:   "SMTP username",
				Sources: cli.EnvVars("SMTP_USERNAME"),
			},
			&cli.StringFlag{
				Name:    "smtp-password",
				Usage:   "SMTP password",
				Sources: cli.EnvVars("SMTP_PASSWORD"),
			},
			&cli.StringFlag{
				Name:    "smtp-from",
				Usage:   "Sender address of email notifications",
				Value:   "aflow@localhost",
				Sources: cli.EnvVars("SMTP_FROM"),
			},
			&cli.DurationFlag{
				Name:    "notification-timeout",
				Usage:   "Timeout of one notification delivery",
				Value:   notification.DefaultDeliveryTimeout,
				Sources: cli.EnvVars("NOTIFICATION_TIMEOUT"),
			},
			&cli.IntFlag{
				Name:    "metrics-port",
				Usage:   "Port serving /metrics and /livez",
				Value:   defaultMetricsPort,
				Sources: cli.EnvVars("METRICS_PORT"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
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

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("aflow-worker").With("workerId", workerID)

			logger.InfoContext(ctx, "Initializing aflow worker")

			tracer, shutdownTracer, err := otelhelper.NewTracer(ctx, "aflow-worker", command.Bool("otel-enabled"))
			if err != nil {
				return err
			}

			defer func() {
				if err := shutdownTracer(context.Background()); err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(context.Background())
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(logger, command.String("event-bus"), command.String("kafka-brokers"))
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			client, err := queue.Connect(ctx, command.String("redis-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := client.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close redis client", "error", err)
				}
			}()

			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.New().MustRegister(registry)

			jobQueue := queue.NewRedisQueue(logger, client,
				queue.WithPrefix(command.String("queue-prefix")),
				queue.WithConcurrency(command.Int("concurrency")),
				queue.WithConsumerID(workerID),
				queue.WithLeaseTTL(command.Duration("lease-ttl")),
				queue.WithMetrics(m),
			)

			executor := workflow.NewExecutor(
				logger,
				persistence.WorkflowRepository(),
				persistence.ExecutionRepository(),
				instrument(cmd.NewRegistry(logger), m),
				workflow.WithTracer(tracer),
			)

			notifier := notification.NewService(
				logger,
				persistence.NotificationConfigRepository(),
				persistence.WorkflowRepository(),
				notification.WithMetrics(m),
				notification.WithDeliveryTimeout(command.Duration("notification-timeout")),
				notification.WithSender(notification.NewEmailSender(notification.SMTPConfig{
					Host:     command.String("smtp-host"),
					Port:     command.Int("smtp-port"),
					Username: command.String("smtp-username"),
					Password: command.String("smtp-password"),
					From:     command.String("smtp-from"),
				})),
				notification.WithSender(notification.NewWebhookSender(&http.Client{Timeout: 30 * time.Second})),
			)

			worker := NewWorker(workerID, logger, executor, notifier, jobQueue, eventBus, m, tracer)

			scheduler.New(logger, persistence.WorkflowRepository(), jobQueue).Sync(ctx)

			go serveMetrics(ctx, command.Int("metrics-port"), registry)

			logger.InfoContext(ctx, "Worker started")

			return jobQueue.Run(ctx, worker.Handle)
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func serveMetrics(ctx context.Context, port int, gatherer prometheus.Gatherer) {
	app := fiber.New()
	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	go func() {
		<-ctx.Done()

		_ = app.Shutdown()
	}()

	err := app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
	if err != nil {
		log.WithModule("aflow-worker").ErrorContext(ctx, "Metrics server stopped", "error", err)
	}
}
