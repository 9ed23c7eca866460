// Caseflow Dispatcher — разворачивает заявки в tasks по журналу событий
// и добивает финализацию зависших requests.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Caseflow/internal/config"
	"github.com/shaiso/Caseflow/internal/dispatcher"
	"github.com/shaiso/Caseflow/internal/mq"
	"github.com/shaiso/Caseflow/internal/repo"
	"github.com/shaiso/Caseflow/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting caseflow-dispatcher")

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

	// RabbitMQ — опционально: без него dispatcher живёт на polling,
	// а workers подберут tasks своим собственным polling'ом.
	var mqConn *mq.Connection
	var notifier dispatcher.TaskNotifier
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
			notifier = mq.NewPublisher(mqConn, logger)
		}
	}

	d, err := dispatcher.New(dispatcher.Config{
		RequestStore:    requestRepo,
		TaskStore:       taskRepo,
		EventStore:      eventRepo,
		Notifier:        notifier,
		Conn:            mqConn,
		PollInterval:    cfg.DispatchInterval,
		CronExpr:        cfg.DispatchCron,
		EventLease:      cfg.EventLease,
		BatchSize:       cfg.EventBatchSize,
		StaleClaimAfter: cfg.StaleClaimAfter,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("failed to create dispatcher", "error", err)
		os.Exit(1)
	}

	if err := d.Start(ctx); err != nil {
		logger.Error("failed to start dispatcher", "error", err)
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

	d.Stop()
	server.Close()

	logger.Info("caseflow-dispatcher stopped")
}
