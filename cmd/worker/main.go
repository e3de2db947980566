package main

import (
	"log"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/scylladb/github-automation/internal/activities"
	"github.com/scylladb/github-automation/internal/app"
	"github.com/scylladb/github-automation/internal/config"
	workflows "github.com/scylladb/github-automation/internal/temporal/workflows"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if cfg.GitHubToken == "" {
		logger.Fatal("GITHUB_TOKEN is not set")
	}

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		logger.Fatal("failed to create temporal client", zap.Error(err))
	}
	defer c.Close()

	// The workflow holds labeled events for the settle delay
	controllers, err := app.NewControllerFactory(cfg, app.Options{DeferSettle: true}, logger)
	if err != nil {
		logger.Fatal("failed to create controllers", zap.Error(err))
	}
	activities.SetBackportActivities(activities.NewBackportActivities(controllers))

	// Create worker
	w := worker.New(c, cfg.TaskQueue, worker.Options{})

	w.RegisterWorkflow(workflows.BackportEventWorkflow)
	w.RegisterActivity(activities.HandleEventActivity)

	logger.Info("starting worker",
		zap.String("task_queue", cfg.TaskQueue),
		zap.String("namespace", cfg.TemporalNamespace),
	)

	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatal("worker failed", zap.Error(err))
	}

	logger.Info("worker stopped")
}
