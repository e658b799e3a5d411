package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/appraisal/internal/config"
	"github.com/stwalsh4118/appraisal/internal/database"
	"github.com/stwalsh4118/appraisal/internal/handlers"
	"github.com/stwalsh4118/appraisal/internal/logger"
	"github.com/stwalsh4118/appraisal/internal/metrics"
	"github.com/stwalsh4118/appraisal/internal/middleware"
	"github.com/stwalsh4118/appraisal/internal/repository"
	"github.com/stwalsh4118/appraisal/internal/services"
)

const (
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Env)
	log.Info("Starting reconciliation API", map[string]interface{}{
		"version":     handlers.APIVersion,
		"environment": cfg.Server.Env,
		"port":        cfg.Server.Port,
	})

	ctx := context.Background()
	db, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", err, map[string]interface{}{
			"host": cfg.Database.Host,
			"port": cfg.Database.Port,
			"name": cfg.Database.Name,
		})
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal("Failed to apply schema", err, nil)
	}
	log.Info("Database ready", map[string]interface{}{
		"host":     cfg.Database.Host,
		"database": cfg.Database.Name,
		"pool_min": cfg.Database.PoolMin,
		"pool_max": cfg.Database.PoolMax,
	})

	m := metrics.New(metrics.Config{Enabled: cfg.Metrics.Enabled})

	reconciliation := services.NewReconciliationService(services.Dependencies{
		Properties: repository.NewPropertyRepository(db),
		Jobs:       repository.NewJobRepository(db),
		HPI:        repository.NewHPIRepository(db),
		Reports:    repository.NewReportRepository(db),
		Metrics:    m,
		Log:        log,
		Config:     cfg.Reconcile,
	})

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware in order: RequestID -> Logger -> Recovery -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log, "/health", cfg.Metrics.Path))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.CORS))

	healthHandler := handlers.NewHealthHandler(db, cfg.Server.Env, cfg.Reconcile)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)

	if m.IsEnabled() {
		router.GET(cfg.Metrics.Path, gin.WrapH(m.Handler()))
	}

	v1 := router.Group("/api/v1")
	v1.GET("/info", healthHandler.Info)
	handlers.NewReconciliationHandler(reconciliation, cfg.Reconcile.UploadMaxBytes).Register(v1)

	// WriteTimeout stays unset: apply and save run for up to the operation
	// timeout and event streams stay open for the life of a run.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": cfg.Server.Port,
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start", err, nil)
		}
	}()

	// Wait for interrupt signal (SIGINT or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}

	log.Info("Server exited", nil)
}
