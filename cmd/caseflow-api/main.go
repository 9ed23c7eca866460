// Caseflow API — принимает пакетные заявки на выгрузку судебных
// документов и отдаёт их состояние, артефакты и журнал событий.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Caseflow/internal/api"
	"github.com/shaiso/Caseflow/internal/config"
	"github.com/shaiso/Caseflow/internal/mq"
	"github.com/shaiso/Caseflow/internal/repo"
	"github.com/shaiso/Caseflow/internal/storage"
	"github.com/shaiso/Caseflow/internal/telemetry"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caseflow_api_http_requests_total",
		Help: "Total HTTP requests handled by caseflow-api",
	})
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting caseflow-api")

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

	// RabbitMQ — опционально: без него заявки подберёт polling dispatcher'а.
	var publisher *mq.Publisher
	if cfg.RabbitMQURL != "" {
		mqConn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, dispatch will rely on polling", "error", err)
		} else {
			defer mqConn.Close()
			if err := mq.SetupTopology(mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			publisher = mq.NewPublisher(mqConn, logger)
		}
	}

	handler := api.NewHandler(api.Config{
		RequestStore: requestRepo,
		TaskStore:    taskRepo,
		EventStore:   eventRepo,
		Store:        store,
		Publisher:    publisher,
		SignedURLTTL: cfg.SignedURLTTL,
		Logger:       logger,
	})

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("caseflow-api stopped")
}
