// Package main provides the aflow API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/Eld3rt/aflow-sub000/pkg/models"
	"github.com/Eld3rt/aflow-sub000/pkg/persistence"
	"github.com/Eld3rt/aflow-sub000/pkg/scheduler"
	"github.com/Eld3rt/aflow-sub000/pkg/services"
	"github.com/Eld3rt/aflow-sub000/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// JobQueue is the part of the job queue the API writes to: ad hoc jobs for
// execute and resume requests and repeatable jobs for cron workflows.
type JobQueue interface {
	scheduler.RepeatableQueue
	Enqueue(ctx context.Context, job *models.Job, delay time.Duration) error
}

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	queue       JobQueue
	gatherer    prometheus.Gatherer
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	queue JobQueue,
	gatherer prometheus.Gatherer,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		queue:       queue,
		gatherer:    gatherer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	cronScheduler := scheduler.New(a.logger, a.persistence.WorkflowRepository(), a.queue)

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(a.logger, a.persistence, cronScheduler),
		services.NewExecution(a.logger, a.persistence, a.queue),
		services.NewNotificationConfig(a.persistence),
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("aflow API")
	})

	app.Get("/health", handlers.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Put("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/executions", handlers.ExecuteWorkflow)
	w.Get("/:id/executions", handlers.GetWorkflowExecutions)
	w.Post("/:id/notifications", handlers.CreateNotificationConfig)
	w.Get("/:id/notifications", handlers.GetNotificationConfigs)

	e := app.Group("/executions")
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/resume", handlers.ResumeExecution)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
