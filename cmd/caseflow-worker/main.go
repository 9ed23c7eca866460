// Caseflow Worker — исполняет tasks: прогоняет автоматизацию портала,
// складывает артефакты в хранилище и записывает результат в request.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Caseflow/internal/automation"
	"github.com/shaiso/Caseflow/internal/config"
	"github.com/shaiso/Caseflow/internal/mq"
	"github.com/shaiso/Caseflow/internal/repo"
	"github.com/shaiso/Caseflow/internal/storage"
	"github.com/shaiso/Caseflow/internal/telemetry"
	"github.com/shaiso/Caseflow/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting caseflow-worker")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	requestRepo := repo.NewRequestRepo(pool)
	taskRepo := repo.NewTaskRepo(pool)
	eventRepo := repo.NewEventRepo(pool)

	store, err := storage.NewLocalStore(storage.LocalStoreConfig{
		Root:    cfg.ArtifactDir,
		BaseURL: cfg.SignBaseURL,
		Secret:  cfg.SignSecret,
	})
	if err != nil {
		logger.Error("failed to init artifact storage", "error", err)
		os.Exit(1)
	}

	bridge := automation.NewBridge(automation.BridgeConfig{
		BaseURL: cfg.BotRunnerURL,
		Timeout: cfg.BotRunnerTimeout,
		Logger:  logger,
	})
	registry := automation.NewRegistry(bridge)

	// RabbitMQ — опционально: без него worker живёт на polling.
	var mqConn *mq.Connection
	if cfg.RabbitMQURL != "" {
		mqConn, err = mq.NewConnection(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
			mqConn = nil
		} else {
			defer mqConn.Close()
			if err := mq.SetupTopology(mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
		}
	}

	w := worker.New(worker.Config{
		TaskStore:      taskRepo,
		RequestStore:   requestRepo,
		EventStore:     eventRepo,
		Registry:       registry,
		Store:          store,
		Conn:           mqConn,
		PollInterval:   cfg.PollInterval,
		BatchSize:      cfg.TaskBatchSize,
		MaxAttempts:    cfg.MaxAttempts,
		RetryBackoff:   cfg.RetryBackoff,
		SoftTimeLimit:  cfg.SoftTimeLimit,
		HardTimeLimit:  cfg.HardTimeLimit,
		RecordAttempts: cfg.RecordAttempts,
		RecordBackoff:  cfg.RecordBackoff,
		Logger:         logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if mqConn != nil && mqConn.IsConnected() {
			fmt.Fprint(w, "ok")
		} else {
			fmt.Fprint(w, "ok (polling-only)")
		}
	})

	server := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux}
	go func() {
		logger.Info("metrics listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	w.Stop()
	server.Close()

	logger.Info("caseflow-worker stopped")
}
