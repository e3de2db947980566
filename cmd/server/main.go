package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	grpcapi "github.com/scylladb/github-automation/internal/api/grpc"
	"github.com/scylladb/github-automation/internal/api/rest"
	"github.com/scylladb/github-automation/internal/app"
	"github.com/scylladb/github-automation/internal/backport"
	"github.com/scylladb/github-automation/internal/config"
	"github.com/scylladb/github-automation/internal/temporal"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if cfg.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET is not set, webhook signatures are not validated")
	}

	// Create Temporal client
	temporalClient, err := temporal.NewClient(cfg.TemporalAddress, cfg.TemporalNamespace, cfg.TaskQueue, cfg.SettleDelay, logger)
	if err != nil {
		logger.Fatal("failed to create temporal client", zap.Error(err))
	}
	defer temporalClient.Close()

	controllers, err := app.NewControllerFactory(cfg, app.Options{DeferSettle: true}, logger)
	if err != nil {
		logger.Fatal("failed to create controllers", zap.Error(err))
	}
	inspect := func(ctx context.Context, repository string, number int) (*backport.ChainReport, error) {
		controller, err := controllers(repository)
		if err != nil {
			return nil, err
		}
		return controller.Inspect(ctx, number)
	}

	// Create REST API handler
	restHandler := rest.NewHandler(temporalClient, inspect, cfg.WebhookSecret, logger)

	// Setup REST API
	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		restHandler.RegisterRoutes(r)
	})
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Start REST server
	restAddr := fmt.Sprintf(":%s", cfg.RESTPort)
	restServer := &http.Server{
		Addr:              restAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting REST API server", zap.String("address", restAddr))
		if err := restServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start REST server", zap.Error(err))
		}
	}()

	// Start gRPC health server
	grpcAddr := fmt.Sprintf(":%s", cfg.GRPCPort)
	grpcListener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logger.Fatal("failed to listen on gRPC port", zap.Error(err))
	}

	grpcSrv := grpc.NewServer()
	grpcapi.NewServer(temporalClient, logger).Register(grpcSrv)

	go func() {
		logger.Info("starting gRPC server", zap.String("address", grpcAddr))
		if err := grpcSrv.Serve(grpcListener); err != nil {
			logger.Fatal("failed to start gRPC server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := restServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shut down REST server", zap.Error(err))
	}
	grpcSrv.GracefulStop()

	logger.Info("shutdown complete")
}
